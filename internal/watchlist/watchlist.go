// Package watchlist manages a user's list of movies to watch, kept live
// through a livesync collection filtered to the user's rows.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/livesync"
)

var (
	// ErrAlreadyListed is returned when adding a movie that is on the list.
	ErrAlreadyListed = errors.New("movie already in watchlist")

	// ErrNotListed is returned when removing a movie that is not on the list.
	ErrNotListed = errors.New("movie not in watchlist")
)

// Entry is one watchlist row.
type Entry struct {
	ID        string    `json:"id" yaml:"id"`
	MovieID   int64     `json:"movie_id" yaml:"movie_id"`
	Title     string    `json:"movie_title" yaml:"movie_title"`
	PosterURL string    `json:"movie_poster_url,omitempty" yaml:"movie_poster_url,omitempty"`
	AddedAt   time.Time `json:"created_at" yaml:"created_at"`
}

func entryFrom(r schema.Record) Entry {
	id, _ := r.Int("movie_id")
	return Entry{
		ID:        r.ID,
		MovieID:   id,
		Title:     r.String("movie_title"),
		PosterURL: r.String("movie_poster_url"),
		AddedAt:   r.CreatedAt,
	}
}

// Watchlist is the open watchlist of the session's principal.
type Watchlist struct {
	h *livesync.Handle
}

// Open loads the principal's watchlist and waits for the fetch.
func Open(ctx context.Context, syncer *livesync.Syncer, sess livesync.Session) (*Watchlist, error) {
	principal, ok := sess.CurrentPrincipal()
	if !ok {
		return nil, livesync.ErrUnauthenticated
	}

	h, err := syncer.Open(ctx, schema.Where(schema.TableWatchlist, schema.ColumnOwner, principal))
	if err != nil {
		return nil, err
	}
	if _, err := h.Wait(ctx); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to load watchlist: %w", err)
	}
	return &Watchlist{h: h}, nil
}

// Close stops tracking the watchlist.
func (w *Watchlist) Close() error {
	return w.h.Close()
}

// List returns the entries, most recently added first.
func (w *Watchlist) List() []Entry {
	records := w.h.State().Records
	out := make([]Entry, len(records))
	for i, r := range records {
		out[len(records)-1-i] = entryFrom(r)
	}
	return out
}

// Contains reports whether movieID is on the list.
func (w *Watchlist) Contains(movieID int64) bool {
	_, ok := w.find(movieID)
	return ok
}

func (w *Watchlist) find(movieID int64) (schema.Record, bool) {
	for _, r := range w.h.State().Records {
		if id, ok := r.Int("movie_id"); ok && id == movieID {
			return r, true
		}
	}
	return schema.Record{}, false
}

// Add puts a movie on the list.
func (w *Watchlist) Add(ctx context.Context, movieID int64, title, posterURL string) (Entry, error) {
	if w.Contains(movieID) {
		return Entry{}, fmt.Errorf("%w: %d", ErrAlreadyListed, movieID)
	}

	fields := schema.Payload{"movie_id": movieID, "movie_title": title}
	if posterURL != "" {
		fields["movie_poster_url"] = posterURL
	}

	rec, err := w.h.RequestCreate(ctx, fields)
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return Entry{}, fmt.Errorf("%w: %d", ErrAlreadyListed, movieID)
		}
		return Entry{}, err
	}
	return entryFrom(rec), nil
}

// Remove takes a movie off the list.
func (w *Watchlist) Remove(ctx context.Context, movieID int64) error {
	rec, ok := w.find(movieID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotListed, movieID)
	}
	return w.h.RequestDelete(ctx, rec.ID)
}
