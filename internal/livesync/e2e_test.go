package livesync_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/session"
)

func openBackend(t *testing.T) (*db.DB, *realtime.Hub) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	hub := realtime.NewHub(logger)
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
	return database, hub
}

func newSyncer(t *testing.T, database *db.DB, hub *realtime.Hub, user string) *livesync.Syncer {
	t.Helper()
	syncer, err := livesync.New(livesync.Deps{
		Fetcher:    database,
		Subscriber: hub,
		Writer:     database,
		Session:    session.Static(user),
	}, livesync.Config{Limit: livesync.Unbounded, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return syncer
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEndToEnd_CommentsConverge(t *testing.T) {
	database, hub := openBackend(t)
	ctx := context.Background()

	// Pre-existing comments on two movies.
	for i, movie := range []int{42, 7, 42} {
		if _, err := database.InsertRecord(ctx, schema.TableMovieComments, "carol",
			schema.Payload{"movie_id": movie, "content": fmt.Sprintf("old %d", i)}); err != nil {
			t.Fatalf("InsertRecord() failed: %v", err)
		}
	}

	key := schema.Where(schema.TableMovieComments, "movie_id", 42)
	alice, err := newSyncer(t, database, hub, "alice").Open(ctx, key)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer alice.Close()
	bob, err := newSyncer(t, database, hub, "bob").Open(ctx, key)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer bob.Close()

	st, err := alice.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	if len(st.Records) != 2 {
		t.Fatalf("initial records = %d, want 2", len(st.Records))
	}

	created, err := alice.RequestCreate(ctx, schema.Payload{"content": "from alice"})
	if err != nil {
		t.Fatalf("RequestCreate() failed: %v", err)
	}
	if id, _ := created.Int("movie_id"); id != 42 {
		t.Errorf("created movie_id = %d, want 42", id)
	}
	if _, err := bob.RequestCreate(ctx, schema.Payload{"content": "from bob"}); err != nil {
		t.Fatalf("RequestCreate() failed: %v", err)
	}

	eventually(t, "both handles to hold 4 comments", func() bool {
		return len(alice.State().Records) == 4 && len(bob.State().Records) == 4
	})

	// Bob cannot delete alice's comment.
	err = bob.RequestDelete(ctx, created.ID)
	if !errors.Is(err, livesync.ErrWriteRejected) || !errors.Is(err, db.ErrNotOwner) {
		t.Fatalf("RequestDelete() by non-owner error = %v, want ErrWriteRejected wrapping ErrNotOwner", err)
	}

	if err := alice.RequestUpdate(ctx, created.ID, schema.Payload{"content": "edited"}); err != nil {
		t.Fatalf("RequestUpdate() failed: %v", err)
	}
	eventually(t, "edit to reach bob", func() bool {
		r, ok := bob.State().Find(created.ID)
		return ok && r.String("content") == "edited"
	})

	if err := alice.RequestDelete(ctx, created.ID); err != nil {
		t.Fatalf("RequestDelete() failed: %v", err)
	}
	eventually(t, "delete to reach both", func() bool {
		_, a := alice.State().Find(created.ID)
		_, b := bob.State().Find(created.ID)
		return !a && !b
	})

	if a, b := alice.State().IDs(), bob.State().IDs(); !reflect.DeepEqual(a, b) {
		t.Errorf("handles diverged: %v vs %v", a, b)
	}

	fetched, err := database.Fetch(ctx, key, 0)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	want := make([]string, len(fetched))
	for i, r := range fetched {
		want[i] = r.ID
	}
	if got := alice.State().IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("live ids = %v, store ids = %v", got, want)
	}
}

func TestEndToEnd_ParsedKeyReceivesOwnEcho(t *testing.T) {
	database, hub := openBackend(t)
	ctx := context.Background()

	if _, err := database.InsertRecord(ctx, schema.TableMovieComments, "carol",
		schema.Payload{"movie_id": 42, "content": "old"}); err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}

	key, err := schema.ParseFilterKey("movie_comments:movie_id=eq.042")
	if err != nil {
		t.Fatalf("ParseFilterKey() failed: %v", err)
	}
	h, err := newSyncer(t, database, hub, "alice").Open(ctx, key)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer h.Close()

	st, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}
	if len(st.Records) != 1 {
		t.Fatalf("initial records = %d, want 1", len(st.Records))
	}

	created, err := h.RequestCreate(ctx, schema.Payload{"content": "new"})
	if err != nil {
		t.Fatalf("RequestCreate() failed: %v", err)
	}
	eventually(t, "echo of own create", func() bool {
		_, ok := h.State().Find(created.ID)
		return ok
	})
}

func TestEndToEnd_OpenRejectsNonCanonicalKey(t *testing.T) {
	database, hub := openBackend(t)
	key := schema.FilterKey{Table: schema.TableMovieComments, Field: "movie_id", Value: "042"}
	if _, err := newSyncer(t, database, hub, "alice").Open(context.Background(), key); err == nil {
		t.Fatal("Open() accepted a non-canonical integer filter")
	}
}

func TestEndToEnd_WritesDuringLoadAreNotLost(t *testing.T) {
	database, hub := openBackend(t)
	ctx := context.Background()
	syncer := newSyncer(t, database, hub, "alice")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			database.InsertRecord(ctx, schema.TableCommunityMessages, "alice",
				schema.Payload{"content": fmt.Sprintf("m%d", i)})
		}
	}()

	h, err := syncer.Open(ctx, schema.AllOf(schema.TableCommunityMessages))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer h.Close()
	<-done

	eventually(t, "all 50 messages", func() bool {
		return len(h.State().Records) == 50
	})

	records := h.State().Records
	for i := 1; i < len(records); i++ {
		if !records[i].CreatedAt.After(records[i-1].CreatedAt) {
			t.Fatalf("records out of order at %d", i)
		}
	}
}
