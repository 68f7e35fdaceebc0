package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsAPI struct {
	value string
	err   error
	calls int
}

func (f *fakeSecretsAPI) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(f.value)}, nil
}

func TestStatic(t *testing.T) {
	key, err := NewStatic("sk-test").APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)

	_, err = NewStatic("").APIKey(context.Background())
	assert.Error(t, err)
}

func TestSecretsManagerCaches(t *testing.T) {
	api := &fakeSecretsAPI{value: "sk-from-sm"}
	p := NewSecretsManager(api, "arn:aws:secretsmanager:us-east-1:123:secret:api-key", 5*time.Minute)

	for i := 0; i < 3; i++ {
		key, err := p.APIKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "sk-from-sm", key)
	}
	assert.Equal(t, 1, api.calls, "key should be fetched once and cached")
}

func TestSecretsManagerJSONSecret(t *testing.T) {
	api := &fakeSecretsAPI{value: `{"api_key": "sk-json"}`}
	p := NewSecretsManager(api, "secret-id", time.Minute)

	key, err := p.APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-json", key)
}

func TestSecretsManagerStaleOnError(t *testing.T) {
	api := &fakeSecretsAPI{value: "sk-v1"}
	p := NewSecretsManager(api, "secret-id", time.Nanosecond)

	key, err := p.APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-v1", key)

	// cache expired and the refresh fails: stale value is served
	time.Sleep(time.Millisecond)
	api.err = errors.New("throttled")
	key, err = p.APIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-v1", key)
}

func TestSecretsManagerFirstFetchError(t *testing.T) {
	api := &fakeSecretsAPI{err: errors.New("access denied")}
	p := NewSecretsManager(api, "secret-id", time.Minute)

	_, err := p.APIKey(context.Background())
	assert.Error(t, err)
}
