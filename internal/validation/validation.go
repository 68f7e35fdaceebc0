package validation

import (
	"fmt"
	"strings"

	"github.com/petavatar/petavatar/internal/common"
)

// Allowed input content types for uploaded pet images.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/heic": true,
}

const uploadPrefix = "uploads/"

// ParseStorageURI splits an s3://bucket/key URI.
func ParseStorageURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", common.ValidationError{Field: "s3_uri", Message: "must start with s3://"}
	}
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", common.ValidationError{Field: "s3_uri", Message: "must be s3://bucket/key"}
	}
	return bucket, key, nil
}

// ExtractJobID pulls the job id from an uploads/{job_id}/... key. The second
// return is false when the key does not follow the convention.
func ExtractJobID(key string) (string, bool) {
	if !strings.HasPrefix(key, uploadPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, uploadPrefix)
	jobID, _, found := strings.Cut(rest, "/")
	if !found || jobID == "" {
		return "", false
	}
	return jobID, true
}

// ValidateUpload checks the object metadata against the input rules.
func ValidateUpload(contentType string, size, maxSize int64) error {
	if !allowedContentTypes[contentType] {
		return common.ValidationError{
			Field:   "content_type",
			Message: fmt.Sprintf("unsupported content type %q, allowed: image/jpeg, image/png, image/heic", contentType),
		}
	}
	if size == 0 {
		return common.ValidationError{Field: "size", Message: "object is empty"}
	}
	if size > maxSize {
		return common.ValidationError{
			Field:   "size",
			Message: fmt.Sprintf("object is %d bytes, limit is %d", size, maxSize),
		}
	}
	return nil
}
