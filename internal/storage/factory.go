package storage

import (
	"context"

	appconfig "github.com/petavatar/petavatar/internal/config"
)

func NewStorage(ctx context.Context, cfg appconfig.Config) (Storage, error) {
	switch cfg.StorageMode {
	case "s3", "aws", "localstack":
		return NewS3Storage(ctx, cfg)
	case "local", "filesystem":
		return NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
	default:
		return NewLocalStorage(cfg.LocalStorageDir, cfg.LocalStorageURL)
	}
}
