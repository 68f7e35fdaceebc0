package storage

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/petavatar/petavatar/internal/common"
)

func TestLocalStorage_PutGetStat(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalStorage error: %v", err)
	}
	ctx := context.Background()

	data := []byte("fake image bytes")
	if err := s.Put(ctx, "uploads", "uploads/job-1/original.png", bytes.NewReader(data), "image/png"); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	info, err := s.Stat(ctx, "uploads", "uploads/job-1/original.png")
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if info.Size != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), info.Size)
	}
	if info.ContentType != "image/png" {
		t.Fatalf("expected image/png, got %s", info.ContentType)
	}

	rc, contentType, err := s.Get(ctx, "uploads", "uploads/job-1/original.png")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("content mismatch")
	}
	if contentType != "image/png" {
		t.Fatalf("expected image/png, got %s", contentType)
	}
}

func TestLocalStorage_NotFound(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalStorage error: %v", err)
	}
	ctx := context.Background()

	if _, err := s.Stat(ctx, "uploads", "uploads/missing/original"); !common.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := s.Get(ctx, "uploads", "uploads/missing/original"); !common.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLocalStorage_PresignURLs(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalStorage error: %v", err)
	}
	ctx := context.Background()

	url, err := s.PresignGet(ctx, "generated", "generated/job-1/avatar.png", time.Hour)
	if err != nil {
		t.Fatalf("PresignGet error: %v", err)
	}
	want := "http://localhost:8080/files/generated/generated/job-1/avatar.png"
	if url != want {
		t.Fatalf("expected %s, got %s", want, url)
	}

	url, err = s.PresignPut(ctx, "uploads", "uploads/job-1/original", "image/png", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut error: %v", err)
	}
	if url == "" {
		t.Fatal("expected non-empty presigned PUT URL")
	}
}
