package storage_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/videobox/videobox/internal/storage"
)

func newTestStorage(t *testing.T, maxBytes int64) *storage.Storage {
	t.Helper()
	s, err := storage.New(context.Background(), storage.Config{
		Endpoint:       "http://minio:9000",
		PublicEndpoint: "https://media.videobox.test",
		Bucket:         "videos",
		AccessKey:      "test",
		SecretKey:      "test",
		MaxUploadBytes: maxBytes,
	})
	if err != nil {
		t.Fatalf("expected no error creating storage client, got: %v", err)
	}
	return s
}

func TestNewStorageRequiresBucket(t *testing.T) {
	_, err := storage.New(context.Background(), storage.Config{Endpoint: "http://localhost:9000"})
	if err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestGenerateUploadURL_UsesPublicEndpoint(t *testing.T) {
	s := newTestStorage(t, 1<<20)

	raw, err := s.GenerateUploadURL(context.Background(), "recordings/u1/v1.mp4", "video/mp4", 1024, 15*time.Minute)
	if err != nil {
		t.Fatalf("generate upload url: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "media.videobox.test" {
		t.Errorf("expected public host, got %q", u.Host)
	}
	if u.Path != "/videos/recordings/u1/v1.mp4" {
		t.Errorf("expected path-style key, got %q", u.Path)
	}
	if u.Query().Get("X-Amz-Signature") == "" {
		t.Error("expected a signed URL")
	}
	if u.Query().Get("X-Amz-Expires") != "900" {
		t.Errorf("expected 900 second expiry, got %q", u.Query().Get("X-Amz-Expires"))
	}
}

func TestGenerateUploadURL_RejectsOversize(t *testing.T) {
	s := newTestStorage(t, 100)

	_, err := s.GenerateUploadURL(context.Background(), "k", "video/mp4", 101, time.Minute)
	if !errors.Is(err, storage.ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestGenerateDownloadURL_Inline(t *testing.T) {
	s := newTestStorage(t, 0)

	raw, err := s.GenerateDownloadURL(context.Background(), "recordings/u1/v1.mp4", "video/mp4", time.Hour)
	if err != nil {
		t.Fatalf("generate download url: %v", err)
	}
	if !strings.Contains(raw, "response-content-disposition=inline") {
		t.Errorf("expected inline disposition in %q", raw)
	}
	if !strings.Contains(raw, "response-content-type=video%2Fmp4") {
		t.Errorf("expected content type override in %q", raw)
	}
}

func TestNilStorage(t *testing.T) {
	var s *storage.Storage
	if _, err := s.GenerateUploadURL(context.Background(), "k", "video/mp4", 1, time.Minute); err == nil {
		t.Error("expected error from nil storage")
	}
}
