package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/reelroom/reel/internal/backend/schema"
)

// ErrHubClosed is returned by Subscribe after the hub has been closed.
var ErrHubClosed = errors.New("realtime hub closed")

// Hub fans committed changes out to subscriptions whose filter key matches
// the changed row. It implements the store's change publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*hubSubscription
	closed bool

	published atomic.Int64
	logger    *log.Logger
}

// NewHub creates a hub. A nil logger writes to stderr.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(os.Stderr, "[realtime] ", log.LstdFlags)
	}
	return &Hub{
		subs:   make(map[string]*hubSubscription),
		logger: logger,
	}
}

// Subscribe registers handler for the changes selected by key. Changes
// published after Subscribe returns are delivered in publish order.
func (h *Hub) Subscribe(ctx context.Context, key schema.FilterKey, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter key: %w", err)
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	sub := &hubSubscription{
		id:      ulid.Make().String(),
		key:     key,
		handler: handler,
		hub:     h,
		queue:   newChangeQueue(),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go sub.deliverLoop()
	return sub, nil
}

// Publish queues change for every matching subscription. It never blocks on
// delivery.
func (h *Hub) Publish(change schema.Change) {
	if !change.Type.Valid() {
		h.logger.Printf("Warning: dropping change with unknown type %q", change.Type)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published.Add(1)
	for _, sub := range h.subs {
		if !sub.key.Matches(change.Table, change.Record) {
			continue
		}
		c := change
		c.Record = change.Record.Clone()
		sub.queue.Enqueue(c)
	}
}

// Count returns the number of active subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Published returns the number of changes published so far.
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Close ends every subscription. Subsequent Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*hubSubscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[string]*hubSubscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// changeHandler receives whole changes, including the table and commit
// time that Handler drops.
type changeHandler interface {
	handleChange(c schema.Change)
}

type hubSubscription struct {
	id      string
	key     schema.FilterKey
	handler Handler
	hub     *Hub
	queue   *changeQueue

	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// ID returns the subscription's ULID.
func (s *hubSubscription) ID() string {
	return s.id
}

// Key returns the filter key the subscription was created with.
func (s *hubSubscription) Key() schema.FilterKey {
	return s.key
}

func (s *hubSubscription) Unsubscribe() error {
	s.hub.remove(s.id)
	s.stop()
	return nil
}

func (s *hubSubscription) stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.queue.Close()
	})
}

func (s *hubSubscription) deliverLoop() {
	defer close(s.done)

	for range s.queue.Wait() {
		for {
			if s.stopped.Load() {
				return
			}
			c, ok := s.queue.TryDequeue()
			if !ok {
				break
			}
			if ch, ok := s.handler.(changeHandler); ok {
				ch.handleChange(c)
			} else {
				Dispatch(s.handler, c)
			}
		}
	}
}
