package livesync

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed is the cause recorded in State.Err when the bulk read
	// fails.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrSubscriptionFailed is reported by Handle.SubscriptionErr when the
	// push subscription could not be established.
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrUnauthenticated is returned by write requests made without a
	// principal. No write is issued.
	ErrUnauthenticated = errors.New("no principal attached to session")

	// ErrWriteRejected matches every *WriteRejectedError.
	ErrWriteRejected = errors.New("write rejected")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("live collection closed")
)

// WriteRejectedError reports a write the backing store declined. It matches
// both ErrWriteRejected and the store's own error under errors.Is.
type WriteRejectedError struct {
	Op  string // create, update or delete
	ID  string // empty for create
	Err error
}

func (e *WriteRejectedError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s rejected: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s rejected: %v", e.Op, e.ID, e.Err)
}

func (e *WriteRejectedError) Unwrap() []error {
	return []error{ErrWriteRejected, e.Err}
}
