package generator

import (
	"context"
	"errors"
	"net"

	"github.com/sashabaranov/go-openai"

	"github.com/petavatar/petavatar/internal/models"
)

// Result is everything the generation pipeline produces for one job.
type Result struct {
	Analysis  models.PetAnalysis
	Career    models.CareerProfile
	Identity  models.IdentityPackage
	AvatarPNG []byte
}

// Generator turns a pet image into a professional identity package plus a
// rendered avatar. Implementations call out to an external model service.
type Generator interface {
	Generate(ctx context.Context, image []byte, contentType, jobID string) (*Result, error)
}

// IsTransient reports whether the generation error is worth retrying:
// rate limits, upstream 5xx, and network timeouts. Malformed responses and
// client errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
