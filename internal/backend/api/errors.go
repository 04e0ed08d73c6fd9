package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/session"
)

var (
	// ErrUnauthorized is returned when a request lacks a valid bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrLoginDisabled is returned by POST /auth/token on a server started
	// without development login.
	ErrLoginDisabled = errors.New("development login is disabled")
)

// Error codes carried in error responses.
const (
	CodeNotFound     = "not_found"
	CodeNotOwner     = "not_owner"
	CodeDuplicate    = "duplicate"
	CodeInvalid      = "invalid"
	CodeUnauthorized = "unauthorized"
	CodeNoLogin      = "login_disabled"
	CodeInternal     = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// classify maps a store or session error to a status and code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, db.ErrNotOwner):
		return http.StatusForbidden, CodeNotOwner
	case errors.Is(err, db.ErrDuplicate):
		return http.StatusConflict, CodeDuplicate
	case errors.Is(err, db.ErrInvalid):
		return http.StatusBadRequest, CodeInvalid
	case errors.Is(err, ErrUnauthorized), errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, ErrLoginDisabled):
		return http.StatusForbidden, CodeNoLogin
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// Error is a decoded error response. It unwraps to the sentinel matching its
// code, so errors.Is(err, db.ErrNotOwner) holds on the client too.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (%d %s)", e.Message, e.Status, e.Code)
}

func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return db.ErrNotFound
	case CodeNotOwner:
		return db.ErrNotOwner
	case CodeDuplicate:
		return db.ErrDuplicate
	case CodeInvalid:
		return db.ErrInvalid
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeNoLogin:
		return ErrLoginDisabled
	}
	return nil
}
