package livesync

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/reelroom/reel/internal/backend/schema"
)

// Unbounded disables the fetch page cap.
const Unbounded = -1

// Deps are the collaborators a Syncer reads from and writes through.
type Deps struct {
	Fetcher    Fetcher
	Subscriber Subscriber
	Writer     Writer
	Session    Session
}

// Config holds synchronizer configuration
type Config struct {
	// Limit caps the bulk fetch. Required: a positive row count or
	// Unbounded.
	Limit int

	// Logger for synchronizer activity (default: stderr logger)
	Logger *log.Logger

	// OnChange is called with a snapshot after every change to a handle's
	// state, one call at a time per handle. It must not call Close on the
	// handle it is notified about.
	OnChange func(State)
}

// Syncer opens live collections.
type Syncer struct {
	deps     Deps
	limit    int
	logger   *log.Logger
	onChange func(State)
}

// New creates a Syncer. Every dependency is required.
//
// Example:
//
//	syncer, err := livesync.New(livesync.Deps{
//	    Fetcher:    client,
//	    Subscriber: rt,
//	    Writer:     client,
//	    Session:    sess,
//	}, livesync.Config{Limit: livesync.Unbounded})
func New(deps Deps, cfg Config) (*Syncer, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Subscriber == nil:
		return nil, fmt.Errorf("subscriber is required")
	case deps.Writer == nil:
		return nil, fmt.Errorf("writer is required")
	case deps.Session == nil:
		return nil, fmt.Errorf("session is required")
	}
	if cfg.Limit <= 0 && cfg.Limit != Unbounded {
		return nil, fmt.Errorf("limit must be positive or Unbounded (got %d)", cfg.Limit)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[livesync] ", log.LstdFlags)
	}

	return &Syncer{
		deps:     deps,
		limit:    cfg.Limit,
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
	}, nil
}

// Open starts tracking the rows selected by key and returns immediately with
// the handle in the loading state.
//
// The push subscription is established first so that no change committed
// during the fetch is lost. If it cannot be established the handle still
// fetches; SubscriptionErr reports the failure. Open returns an error only
// for an invalid key.
func (s *Syncer) Open(ctx context.Context, key schema.FilterKey) (*Handle, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter key: %w", err)
	}

	h := newHandle(s, key)

	sub, err := s.deps.Subscriber.Subscribe(ctx, key, pushHandler{h})
	if err != nil {
		h.subErr = fmt.Errorf("%w: %w", ErrSubscriptionFailed, err)
		s.logger.Printf("Warning: %s: %v (fetch-only)", key, h.subErr)
	} else {
		h.sub = sub
	}

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancelFetch = cancel
	go h.load(fetchCtx)

	return h, nil
}

func (s *Syncer) fetchLimit() int {
	if s.limit == Unbounded {
		return 0
	}
	return s.limit
}
