package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "test-secret"

func TestIssueAndValidateToken(t *testing.T) {
	token, err := IssueToken(testSecret, "user-1", "a@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	claims, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "a@example.com" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if _, err := ValidateToken(token, "other-secret"); err == nil {
		t.Error("expected wrong secret to fail")
	}
}

func TestValidateToken_Expired(t *testing.T) {
	token, err := IssueToken(testSecret, "user-1", "a@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	if _, err := ValidateToken(token, testSecret); err == nil {
		t.Error("expected expired token to fail")
	}
}

func TestIsTokenValid(t *testing.T) {
	live, _ := IssueToken(testSecret, "u", "e@x.io", time.Hour)
	expired, _ := IssueToken(testSecret, "u", "e@x.io", -time.Hour)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"live", live, true},
		{"expired", expired, false},
		{"empty", "", false},
		{"garbage", "not-a-token", false},
		{"bad payload", "a.b.c", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenValid(tt.token); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	if !CheckPassword(hash, "correct horse") {
		t.Error("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("expected wrong password to fail")
	}
}

func TestFileStore(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "token"))

	if _, err := store.Token(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}

	live, _ := IssueToken(testSecret, "u", "e@x.io", time.Hour)
	if err := store.Save(live); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	got, err := store.Token()
	if err != nil || got != live {
		t.Errorf("expected stored token back, got %q, %v", got, err)
	}

	expired, _ := IssueToken(testSecret, "u", "e@x.io", -time.Hour)
	if err := store.Save(expired); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if _, err := store.Token(); !errors.Is(err, ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Errorf("expected clearing twice to succeed, got %v", err)
	}
	if _, err := store.Token(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential after clear, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	if _, err := Static("").Token(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
	if tok, _ := Static("abc").Token(); tok != "abc" {
		t.Errorf("expected abc, got %s", tok)
	}
}
