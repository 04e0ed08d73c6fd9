package livesync

import (
	"context"
	"fmt"
	"sync"

	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/backend/schema"
)

type eventKind int

const (
	eventInsert eventKind = iota + 1
	eventUpdate
	eventDelete
)

func (k eventKind) String() string {
	switch k {
	case eventInsert:
		return "insert"
	case eventUpdate:
		return "update"
	default:
		return "delete"
	}
}

type event struct {
	kind   eventKind
	record schema.Record // insert, update
	id     string        // delete
}

// Handle is an open live collection. Its state only changes through the
// fetch result and push events; it is never exposed for direct mutation.
type Handle struct {
	syncer *Syncer
	key    schema.FilterKey

	// deliverMu serializes apply+notify so OnChange observes states in order
	// and Close can wait out a delivery in progress.
	deliverMu sync.Mutex

	mu      sync.Mutex
	status  Status
	records *collection
	err     error
	pending []event // push events received while loading
	closed  bool

	loaded   chan struct{} // closed when status leaves loading
	closedCh chan struct{}

	sub         realtime.Subscription
	subErr      error
	cancelFetch context.CancelFunc
}

func newHandle(s *Syncer, key schema.FilterKey) *Handle {
	return &Handle{
		syncer:   s,
		key:      key,
		status:   StatusLoading,
		records:  newCollection(),
		loaded:   make(chan struct{}),
		closedCh: make(chan struct{}),
	}
}

// Key returns the filter key the handle tracks.
func (h *Handle) Key() schema.FilterKey {
	return h.key
}

// SubscriptionErr reports why the push subscription could not be
// established, or nil. A handle with a subscription error still serves its
// fetch result but receives no live updates.
func (h *Handle) SubscriptionErr() error {
	return h.subErr
}

// State returns a snapshot of the collection.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Wait blocks until the fetch has completed and returns the state at that
// point. It returns the fetch error for a collection in the error state.
func (h *Handle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.loaded:
	case <-h.closedCh:
		return h.State(), ErrClosed
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}

	st := h.State()
	return st, st.Err
}

// Close releases the push subscription. No state change and no OnChange
// call happens after Close returns. Closing twice is harmless.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.pending = nil
	close(h.closedCh)
	h.mu.Unlock()

	h.cancelFetch()

	// Wait for a delivery that passed the closed check before we set it.
	h.deliverMu.Lock()
	h.deliverMu.Unlock()

	if h.sub != nil {
		if err := h.sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe %s: %w", h.key, err)
		}
	}
	return nil
}

// RequestCreate writes a new row for the current principal. The filter
// key's column is filled in when fields leave it unset, so a comment created
// from the movie_comments:movie_id=eq.42 collection belongs to movie 42.
//
// The held list is not changed; the row appears once its push echo arrives.
func (h *Handle) RequestCreate(ctx context.Context, fields schema.Payload) (schema.Record, error) {
	principal, err := h.principal()
	if err != nil {
		return schema.Record{}, err
	}

	merged := make(schema.Payload, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	if f := h.key.Field; f != "" && f != schema.ColumnID && f != schema.ColumnOwner {
		if _, set := merged[f]; !set {
			merged[f] = h.key.Value
		}
	}

	rec, err := h.syncer.deps.Writer.InsertRecord(ctx, h.key.Table, principal, merged)
	if err != nil {
		return schema.Record{}, rejected(ctx, "create", "", err)
	}
	return rec, nil
}

// RequestUpdate changes the mutable columns of a row owned by the current
// principal. The held list changes when the push echo arrives.
func (h *Handle) RequestUpdate(ctx context.Context, id string, fields schema.Payload) error {
	principal, err := h.principal()
	if err != nil {
		return err
	}

	if _, err := h.syncer.deps.Writer.UpdateRecord(ctx, h.key.Table, id, principal, fields); err != nil {
		return rejected(ctx, "update", id, err)
	}
	return nil
}

// RequestDelete deletes a row owned by the current principal. The row stays
// in the held list until the push echo arrives.
func (h *Handle) RequestDelete(ctx context.Context, id string) error {
	principal, err := h.principal()
	if err != nil {
		return err
	}

	if err := h.syncer.deps.Writer.DeleteRecord(ctx, h.key.Table, id, principal); err != nil {
		return rejected(ctx, "delete", id, err)
	}
	return nil
}

func (h *Handle) principal() (string, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	principal, ok := h.syncer.deps.Session.CurrentPrincipal()
	if !ok || principal == "" {
		return "", ErrUnauthenticated
	}
	return principal, nil
}

// rejected wraps a store error. Cancellation is returned unwrapped since the
// store did not decline anything.
func rejected(ctx context.Context, op, id string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &WriteRejectedError{Op: op, ID: id, Err: err}
}

// load performs the bulk fetch and installs its result.
func (h *Handle) load(ctx context.Context) {
	records, err := h.syncer.deps.Fetcher.Fetch(ctx, h.key, h.syncer.fetchLimit())

	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	if err != nil {
		h.status = StatusError
		h.err = fmt.Errorf("%w: %s: %w", ErrFetchFailed, h.key, err)
		h.records.clear()
		h.pending = nil
		h.syncer.logger.Printf("Fetch %s failed: %v", h.key, err)
	} else {
		h.records.replace(records)
		h.status = StatusReady
		for _, ev := range h.pending {
			h.applyLocked(ev)
		}
		h.pending = nil
	}
	close(h.loaded)
	st := h.snapshotLocked()
	h.mu.Unlock()

	h.notify(st)
}

// deliver applies one push event.
func (h *Handle) deliver(ev event) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	switch h.status {
	case StatusLoading:
		h.pending = append(h.pending, ev)
		h.mu.Unlock()
		return
	case StatusError:
		h.mu.Unlock()
		return
	}

	if !h.applyLocked(ev) {
		h.mu.Unlock()
		return
	}
	st := h.snapshotLocked()
	h.mu.Unlock()

	h.notify(st)
}

// applyLocked runs the merge rules. It reports whether the list changed.
func (h *Handle) applyLocked(ev event) bool {
	switch ev.kind {
	case eventInsert:
		if !h.acceptable(ev) {
			return false
		}
		return h.records.insert(ev.record)
	case eventUpdate:
		if !h.acceptable(ev) {
			return false
		}
		return h.records.update(ev.record)
	case eventDelete:
		if ev.id == "" {
			h.syncer.logger.Printf("Warning: %s: skipping delete without id", h.key)
			return false
		}
		return h.records.remove(ev.id)
	}
	return false
}

func (h *Handle) acceptable(ev event) bool {
	if ev.record.ID == "" {
		h.syncer.logger.Printf("Warning: %s: skipping %s without id", h.key, ev.kind)
		return false
	}
	if !h.key.Matches(h.key.Table, ev.record) {
		h.syncer.logger.Printf("Warning: %s: skipping %s of non-matching row %s", h.key, ev.kind, ev.record.ID)
		return false
	}
	return true
}

func (h *Handle) snapshotLocked() State {
	return State{
		Key:     h.key,
		Status:  h.status,
		Records: h.records.snapshot(),
		Err:     h.err,
	}
}

func (h *Handle) notify(st State) {
	if h.syncer.onChange != nil {
		h.syncer.onChange(st)
	}
}

// pushHandler feeds subscription callbacks into the handle without exposing
// the callbacks on Handle itself.
type pushHandler struct {
	h *Handle
}

func (p pushHandler) OnInsert(r schema.Record) {
	p.h.deliver(event{kind: eventInsert, record: r.Clone()})
}

func (p pushHandler) OnUpdate(r schema.Record) {
	p.h.deliver(event{kind: eventUpdate, record: r.Clone()})
}

func (p pushHandler) OnDelete(id string) {
	p.h.deliver(event{kind: eventDelete, id: id})
}
