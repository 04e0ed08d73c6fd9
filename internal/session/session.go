// Package session issues and holds the bearer tokens that identify a
// principal to the reel API.
//
// Tokens are HS256 JWTs whose subject is the principal's user id. The server
// verifies them with its Issuer; clients only parse them to learn who they
// are logged in as.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrNoSession is returned by Load when no token has been saved.
	ErrNoSession = errors.New("not logged in")
)

// Static is a fixed principal. An empty Static has no principal.
type Static string

// CurrentPrincipal implements livesync.Session.
func (s Static) CurrentPrincipal() (string, bool) {
	return string(s), s != ""
}

// Session holds a token obtained from the API.
type Session struct {
	token     string
	userID    string
	expiresAt time.Time
	now       func() time.Time
}

// Parse reads the claims of token without verifying its signature.
func Parse(token string) (*Session, error) {
	claims := gojwt.RegisteredClaims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	s := &Session{token: token, userID: claims.Subject, now: time.Now}
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Token returns the raw bearer token.
func (s *Session) Token() string {
	return s.token
}

// UserID returns the token subject regardless of expiry.
func (s *Session) UserID() string {
	return s.userID
}

// ExpiresAt returns the token expiry, or the zero time for tokens without one.
func (s *Session) ExpiresAt() time.Time {
	return s.expiresAt
}

// Expired reports whether the token has expired.
func (s *Session) Expired() bool {
	return !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt)
}

// CurrentPrincipal implements livesync.Session. An expired token has no
// principal.
func (s *Session) CurrentPrincipal() (string, bool) {
	if s == nil || s.Expired() {
		return "", false
	}
	return s.userID, true
}

// stored is the on-disk form of a session.
type stored struct {
	Token string `json:"token"`
}

// Save writes the token to path, readable only by the owner.
func (s *Session) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(stored{Token: s.token}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Load reads a session saved by Save.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var st stored
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	if st.Token == "" {
		return nil, ErrNoSession
	}
	return Parse(st.Token)
}

// Remove deletes a saved session. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
