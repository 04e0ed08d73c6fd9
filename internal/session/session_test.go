package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef-test"

func TestIssueVerify(t *testing.T) {
	issuer, err := NewIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() failed: %v", err)
	}

	token, err := issuer.Issue("alice")
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	sub, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if sub != "alice" {
		t.Errorf("subject = %q, want alice", sub)
	}

	other, _ := NewIssuer("another-secret-of-length", time.Hour)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() with wrong secret error = %v, want ErrInvalidToken", err)
	}
	if _, err := issuer.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(garbage) error = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	issuer, err := NewIssuer(testSecret, time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer() failed: %v", err)
	}
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return issued }

	token, err := issuer.Issue("alice")
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}

	issuer.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(expired) error = %v, want ErrInvalidToken", err)
	}

	s, err := Parse(token)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if p, ok := s.CurrentPrincipal(); ok {
		t.Errorf("CurrentPrincipal() = %q, true for an expired token", p)
	}
	if s.UserID() != "alice" {
		t.Errorf("UserID() = %q, want alice", s.UserID())
	}
}

func TestNewIssuer_ShortSecret(t *testing.T) {
	if _, err := NewIssuer("short", time.Hour); err == nil {
		t.Error("NewIssuer() accepted a short secret")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	if _, err := Load(path); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Load() before Save error = %v, want ErrNoSession", err)
	}

	issuer, _ := NewIssuer(testSecret, 0)
	token, err := issuer.Issue("bob")
	if err != nil {
		t.Fatalf("Issue() failed: %v", err)
	}
	s, err := Parse(token)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if err := s.Save(path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if p, ok := loaded.CurrentPrincipal(); !ok || p != "bob" {
		t.Errorf("CurrentPrincipal() = %q, %v, want bob, true", p, ok)
	}
	if !loaded.ExpiresAt().IsZero() {
		t.Errorf("ExpiresAt() = %v, want zero for ttl 0", loaded.ExpiresAt())
	}

	if err := Remove(path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Errorf("second Remove() failed: %v", err)
	}
}

func TestStatic(t *testing.T) {
	if p, ok := Static("carol").CurrentPrincipal(); !ok || p != "carol" {
		t.Errorf("Static(carol) = %q, %v", p, ok)
	}
	if _, ok := Static("").CurrentPrincipal(); ok {
		t.Error("empty Static reported a principal")
	}
}
