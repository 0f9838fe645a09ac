package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestLocalStorage(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "/files/")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ctx := context.Background()

	url, err := s.Upload(ctx, "thumbnails/J1.jpg", strings.NewReader("data"), "image/jpeg")
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if url != "/files/thumbnails/J1.jpg" {
		t.Errorf("unexpected url %s", url)
	}

	rc, err := s.Open(ctx, "thumbnails/J1.jpg")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "data" {
		t.Errorf("expected data, got %q", got)
	}

	if err := s.Delete(ctx, "thumbnails/J1.jpg"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := s.Delete(ctx, "thumbnails/J1.jpg"); err != nil {
		t.Errorf("expected deleting twice to succeed, got %v", err)
	}
	if _, err := s.Open(ctx, "thumbnails/J1.jpg"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_StaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "/files")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	p, err := s.resolve("../../etc/passwd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(p, dir) {
		t.Errorf("expected path under %s, got %s", dir, p)
	}
	if _, err := s.resolve("/"); err == nil {
		t.Error("expected empty key to be rejected")
	}
}
