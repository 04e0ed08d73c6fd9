package watchlist

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/session"
)

func newSyncer(t *testing.T, user string) (*livesync.Syncer, livesync.Session) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	hub := realtime.NewHub(quiet)
	database, err := db.OpenWithOptions(filepath.Join(t.TempDir(), "reel.db"), db.Options{Publisher: hub})
	if err != nil {
		t.Fatalf("OpenWithOptions() failed: %v", err)
	}
	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	t.Cleanup(func() {
		hub.Close()
		database.Close()
	})

	sess := session.Static(user)
	syncer, err := livesync.New(livesync.Deps{
		Fetcher:    database,
		Subscriber: hub,
		Writer:     database,
		Session:    sess,
	}, livesync.Config{Limit: livesync.Unbounded, Logger: quiet})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return syncer, sess
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchlist_AddListRemove(t *testing.T) {
	syncer, sess := newSyncer(t, "alice")
	ctx := context.Background()

	w, err := Open(ctx, syncer, sess)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer w.Close()

	if len(w.List()) != 0 {
		t.Fatalf("new watchlist has %d entries", len(w.List()))
	}

	first, err := w.Add(ctx, 550, "Fight Club", "https://img/550.jpg")
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if first.MovieID != 550 || first.Title != "Fight Club" {
		t.Errorf("Add() = %+v", first)
	}
	if _, err := w.Add(ctx, 603, "The Matrix", ""); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	waitFor(t, "both entries", func() bool { return len(w.List()) == 2 })

	list := w.List()
	if list[0].MovieID != 603 || list[1].MovieID != 550 {
		t.Errorf("List() order = [%d %d], want newest first [603 550]", list[0].MovieID, list[1].MovieID)
	}
	if list[1].PosterURL != "https://img/550.jpg" {
		t.Errorf("PosterURL = %q", list[1].PosterURL)
	}

	if _, err := w.Add(ctx, 550, "Fight Club", ""); !errors.Is(err, ErrAlreadyListed) {
		t.Errorf("Add(duplicate) error = %v, want ErrAlreadyListed", err)
	}

	if err := w.Remove(ctx, 550); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	waitFor(t, "removal", func() bool { return !w.Contains(550) })

	if err := w.Remove(ctx, 550); !errors.Is(err, ErrNotListed) {
		t.Errorf("Remove(absent) error = %v, want ErrNotListed", err)
	}
	if !w.Contains(603) {
		t.Error("Contains(603) = false")
	}
}

func TestWatchlist_RequiresPrincipal(t *testing.T) {
	syncer, _ := newSyncer(t, "alice")
	if _, err := Open(context.Background(), syncer, session.Static("")); !errors.Is(err, livesync.ErrUnauthenticated) {
		t.Errorf("Open() without principal error = %v, want ErrUnauthenticated", err)
	}
}
