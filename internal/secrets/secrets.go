package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Provider resolves the API key the service authenticates clients against.
type Provider interface {
	APIKey(ctx context.Context) (string, error)
}

// Static returns a fixed key from configuration.
type Static struct {
	key string
}

func NewStatic(key string) *Static {
	return &Static{key: key}
}

func (s *Static) APIKey(ctx context.Context) (string, error) {
	if s.key == "" {
		return "", fmt.Errorf("no API key configured")
	}
	return s.key, nil
}

// SecretsManagerAPI is the slice of the Secrets Manager client we use.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManager fetches the key from AWS Secrets Manager and caches it for
// cacheTTL so the hot auth path does not call out per request.
type SecretsManager struct {
	client   SecretsManagerAPI
	secretID string
	cacheTTL time.Duration

	mu        sync.Mutex
	cached    string
	fetchedAt time.Time
}

func NewSecretsManager(client SecretsManagerAPI, secretID string, cacheTTL time.Duration) *SecretsManager {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &SecretsManager{
		client:   client,
		secretID: secretID,
		cacheTTL: cacheTTL,
	}
}

func (p *SecretsManager) APIKey(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && time.Since(p.fetchedAt) < p.cacheTTL {
		return p.cached, nil
	}

	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.secretID),
	})
	if err != nil {
		// serve the stale value rather than failing the request outright
		if p.cached != "" {
			slog.Warn("failed to refresh API key secret, using cached value", "error", err)
			return p.cached, nil
		}
		return "", fmt.Errorf("failed to fetch API key secret: %w", err)
	}

	value := aws.ToString(out.SecretString)
	if value == "" {
		return "", fmt.Errorf("API key secret is empty")
	}

	// secret may be either the raw key or a JSON document with an api_key field
	var doc map[string]string
	if err := json.Unmarshal([]byte(value), &doc); err == nil {
		if k, ok := doc["api_key"]; ok && k != "" {
			value = k
		}
	}

	p.cached = value
	p.fetchedAt = time.Now()
	return value, nil
}
