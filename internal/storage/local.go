package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/petavatar/petavatar/internal/common"
)

// LocalStorage stores objects under baseDir/{bucket}/{key}. Presigned URLs are
// plain direct URLs; local mode has no signing to offer.
type LocalStorage struct {
	baseDir string
	baseURL string
}

func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		baseDir: baseDir,
		baseURL: baseURL,
	}, nil
}

func (s *LocalStorage) Put(ctx context.Context, bucket, key string, content io.Reader, contentType string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	filePath := filepath.Join(s.baseDir, bucket, key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory structure: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	slog.Info("object uploaded to local storage", "key", key, "bucket", bucket, "size", len(data))
	return nil
}

func (s *LocalStorage) Get(ctx context.Context, bucket, key string) (io.ReadCloser, string, error) {
	filePath := filepath.Join(s.baseDir, bucket, key)

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", common.ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("failed to stat file: %w", err)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open file: %w", err)
	}

	slog.Debug("object opened from local storage",
		"key", key,
		"bucket", bucket,
		"size", fileInfo.Size())

	return file, contentTypeFromExt(key), nil
}

func (s *LocalStorage) Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	filePath := filepath.Join(s.baseDir, bucket, key)

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &ObjectInfo{
		ContentType: contentTypeFromExt(key),
		Size:        fileInfo.Size(),
	}, nil
}

func (s *LocalStorage) PresignGet(ctx context.Context, bucket, key string, expiration time.Duration) (string, error) {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, key), nil
}

func (s *LocalStorage) PresignPut(ctx context.Context, bucket, key, contentType string, expiration time.Duration) (string, error) {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, key), nil
}

func (s *LocalStorage) Delete(ctx context.Context, bucket, key string) error {
	filePath := filepath.Join(s.baseDir, bucket, key)

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	slog.Info("object deleted from local storage", "key", key, "bucket", bucket)
	return nil
}

func contentTypeFromExt(key string) string {
	switch filepath.Ext(key) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
