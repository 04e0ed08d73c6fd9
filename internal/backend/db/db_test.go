package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reelroom/reel/internal/backend/schema"
)

// fixedClock always returns the same instant, forcing nextTimestamp to bump.
type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// seqIDs returns "id-1", "id-2", ...
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

type capture struct {
	mu      sync.Mutex
	changes []schema.Change
}

func (c *capture) Publish(ch schema.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *capture) all() []schema.Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.Change(nil), c.changes...)
}

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "test.db")
}

func openTestDB(t *testing.T) (*DB, *capture) {
	t.Helper()
	pub := &capture{}
	db, err := OpenWithOptions(testDBPath(t), Options{
		Clock:     fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		IDs:       &seqIDs{},
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("OpenWithOptions() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db, pub
}

func TestInitSchema_Idempotent(t *testing.T) {
	db, _ := openTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Fatalf("Second InitSchema() failed: %v", err)
	}

	for _, table := range []string{"profiles", "community_messages", "movie_comments", "watchlist"} {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestOpen_Memory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if _, err := db.InsertRecord(context.Background(), schema.TableMovieComments, "alice",
		schema.Payload{"movie_id": 7, "content": "hi"}); err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}
	n, err := db.CountRecords(context.Background(), schema.TableMovieComments)
	if err != nil {
		t.Fatalf("CountRecords() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestInsertRecord_AssignsIncreasingTimestamps(t *testing.T) {
	db, pub := openTestDB(t)
	ctx := context.Background()

	var recs []schema.Record
	for i := 0; i < 3; i++ {
		r, err := db.InsertRecord(ctx, schema.TableCommunityMessages, "alice",
			schema.Payload{"content": fmt.Sprintf("m%d", i)})
		if err != nil {
			t.Fatalf("InsertRecord() failed: %v", err)
		}
		recs = append(recs, r)
	}

	for i := 1; i < len(recs); i++ {
		if !recs[i].CreatedAt.After(recs[i-1].CreatedAt) {
			t.Errorf("created_at[%d] = %v, not after %v", i, recs[i].CreatedAt, recs[i-1].CreatedAt)
		}
	}
	if recs[0].ID != "id-1" {
		t.Errorf("ID = %q, want id-1", recs[0].ID)
	}
	if got := recs[0].String("message_type"); got != schema.MessageGeneral {
		t.Errorf("message_type = %q, want default %q", got, schema.MessageGeneral)
	}

	changes := pub.all()
	if len(changes) != 3 {
		t.Fatalf("published %d changes, want 3", len(changes))
	}
	for i, ch := range changes {
		if ch.Type != schema.ChangeInsert || ch.Record.ID != recs[i].ID {
			t.Errorf("change[%d] = %s %s, want INSERT %s", i, ch.Type, ch.Record.ID, recs[i].ID)
		}
	}
}

func TestInsertRecord_Invalid(t *testing.T) {
	db, pub := openTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		table  string
		owner  string
		fields schema.Payload
	}{
		{"unknown table", "nope", "alice", schema.Payload{"content": "x"}},
		{"no owner", schema.TableCommunityMessages, "", schema.Payload{"content": "x"}},
		{"missing content", schema.TableCommunityMessages, "alice", schema.Payload{}},
		{"unknown column", schema.TableMovieComments, "alice", schema.Payload{"movie_id": 1, "content": "x", "rating": 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.InsertRecord(ctx, tt.table, tt.owner, tt.fields)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("InsertRecord() error = %v, want ErrInvalid", err)
			}
		})
	}

	if n := len(pub.all()); n != 0 {
		t.Errorf("published %d changes for rejected inserts", n)
	}
}

func TestInsertRecord_WatchlistDuplicate(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	fields := schema.Payload{"movie_id": 550, "movie_title": "Fight Club"}
	if _, err := db.InsertRecord(ctx, schema.TableWatchlist, "alice", fields); err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}

	_, err := db.InsertRecord(ctx, schema.TableWatchlist, "alice", fields)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second InsertRecord() error = %v, want ErrDuplicate", err)
	}

	// Another user may list the same movie.
	if _, err := db.InsertRecord(ctx, schema.TableWatchlist, "bob", fields); err != nil {
		t.Fatalf("InsertRecord() for bob failed: %v", err)
	}
}

func TestFetch_FilterAndLimit(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	for i, movie := range []int{1, 2, 1, 1} {
		_, err := db.InsertRecord(ctx, schema.TableMovieComments, "alice",
			schema.Payload{"movie_id": movie, "content": fmt.Sprintf("c%d", i)})
		if err != nil {
			t.Fatalf("InsertRecord() failed: %v", err)
		}
	}

	all, err := db.Fetch(ctx, schema.AllOf(schema.TableMovieComments), 0)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Fetch() returned %d rows, want 4", len(all))
	}

	movie1, err := db.Fetch(ctx, schema.Where(schema.TableMovieComments, "movie_id", 1), 0)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	want := []string{"c0", "c2", "c3"}
	if len(movie1) != len(want) {
		t.Fatalf("Fetch(movie_id=1) returned %d rows, want %d", len(movie1), len(want))
	}
	for i, r := range movie1 {
		if got := r.String("content"); got != want[i] {
			t.Errorf("row[%d].content = %q, want %q", i, got, want[i])
		}
		if id, _ := r.Int("movie_id"); id != 1 {
			t.Errorf("row[%d].movie_id = %d, want 1", i, id)
		}
	}

	limited, err := db.Fetch(ctx, schema.Where(schema.TableMovieComments, "movie_id", 1), 2)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if len(limited) != 2 || limited[1].String("content") != "c2" {
		t.Errorf("Fetch(limit=2) = %v, want first two rows", limited)
	}

	none, err := db.Fetch(ctx, schema.Where(schema.TableMovieComments, "movie_id", 99), 0)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("Fetch(no match) = %#v, want empty non-nil slice", none)
	}

	if _, err := db.Fetch(ctx, schema.Where(schema.TableMovieComments, "content", "x"), 0); !errors.Is(err, ErrInvalid) {
		t.Errorf("Fetch(unfilterable) error = %v, want ErrInvalid", err)
	}
}

func TestUpdateRecord(t *testing.T) {
	db, pub := openTestDB(t)
	ctx := context.Background()

	rec, err := db.InsertRecord(ctx, schema.TableCommunityMessages, "alice",
		schema.Payload{"content": "first", "message_type": "recommendation", "movie_title": "Heat"})
	if err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}

	if _, err := db.UpdateRecord(ctx, schema.TableCommunityMessages, rec.ID, "bob",
		schema.Payload{"content": "hijack"}); !errors.Is(err, ErrNotOwner) {
		t.Errorf("UpdateRecord(bob) error = %v, want ErrNotOwner", err)
	}
	if _, err := db.UpdateRecord(ctx, schema.TableCommunityMessages, "missing", "alice",
		schema.Payload{"content": "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRecord(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := db.UpdateRecord(ctx, schema.TableCommunityMessages, rec.ID, "alice",
		schema.Payload{"message_type": "feedback"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("UpdateRecord(immutable) error = %v, want ErrInvalid", err)
	}

	updated, err := db.UpdateRecord(ctx, schema.TableCommunityMessages, rec.ID, "alice",
		schema.Payload{"content": "edited"})
	if err != nil {
		t.Fatalf("UpdateRecord() failed: %v", err)
	}
	if updated.String("content") != "edited" {
		t.Errorf("content = %q, want edited", updated.String("content"))
	}
	if updated.String("movie_title") != "Heat" {
		t.Errorf("movie_title = %q, want Heat", updated.String("movie_title"))
	}
	if !updated.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at changed from %v to %v", rec.CreatedAt, updated.CreatedAt)
	}

	changes := pub.all()
	last := changes[len(changes)-1]
	if last.Type != schema.ChangeUpdate || last.Record.String("content") != "edited" {
		t.Errorf("last change = %s %v, want UPDATE with new content", last.Type, last.Record.Payload)
	}
}

func TestDeleteRecord(t *testing.T) {
	db, pub := openTestDB(t)
	ctx := context.Background()

	rec, err := db.InsertRecord(ctx, schema.TableMovieComments, "alice",
		schema.Payload{"movie_id": 3, "content": "bye"})
	if err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}

	if err := db.DeleteRecord(ctx, schema.TableMovieComments, rec.ID, "bob"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("DeleteRecord(bob) error = %v, want ErrNotOwner", err)
	}
	if err := db.DeleteRecord(ctx, schema.TableMovieComments, rec.ID, "alice"); err != nil {
		t.Fatalf("DeleteRecord() failed: %v", err)
	}
	if err := db.DeleteRecord(ctx, schema.TableMovieComments, rec.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRecord() error = %v, want ErrNotFound", err)
	}
	if _, err := db.GetRecord(ctx, schema.TableMovieComments, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecord() after delete error = %v, want ErrNotFound", err)
	}

	changes := pub.all()
	last := changes[len(changes)-1]
	if last.Type != schema.ChangeDelete || last.Record.ID != rec.ID {
		t.Errorf("last change = %s %s, want DELETE %s", last.Type, last.Record.ID, rec.ID)
	}
	if id, _ := last.Record.Int("movie_id"); id != 3 {
		t.Errorf("DELETE record movie_id = %d, want old row's 3", id)
	}
}

func TestImportRecord_Idempotent(t *testing.T) {
	db, pub := openTestDB(t)
	ctx := context.Background()

	created := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := schema.Record{
		ID:        "imported-1",
		OwnerID:   "carol",
		CreatedAt: created,
		Payload:   schema.Payload{"movie_id": 9, "content": "from backup"},
	}

	inserted, err := db.ImportRecord(ctx, schema.TableMovieComments, rec)
	if err != nil {
		t.Fatalf("ImportRecord() failed: %v", err)
	}
	if !inserted {
		t.Error("first ImportRecord() reported skipped")
	}

	inserted, err = db.ImportRecord(ctx, schema.TableMovieComments, rec)
	if err != nil {
		t.Fatalf("second ImportRecord() failed: %v", err)
	}
	if inserted {
		t.Error("second ImportRecord() reported inserted")
	}

	if n := len(pub.all()); n != 0 {
		t.Errorf("imports published %d changes, want 0", n)
	}

	// Later inserts sort after the imported row even though the clock is older.
	next, err := db.InsertRecord(ctx, schema.TableMovieComments, "carol",
		schema.Payload{"movie_id": 9, "content": "new"})
	if err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}
	if !next.CreatedAt.After(created) {
		t.Errorf("created_at = %v, want after imported %v", next.CreatedAt, created)
	}
}

func TestProfiles(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	if err := db.UpsertProfile(ctx, schema.Profile{ID: "alice", FirstName: "Alice"}); err != nil {
		t.Fatalf("UpsertProfile() failed: %v", err)
	}
	if err := db.UpsertProfile(ctx, schema.Profile{ID: "alice", FirstName: "Alice", LastName: "Liddell"}); err != nil {
		t.Fatalf("UpsertProfile() update failed: %v", err)
	}
	if err := db.UpsertProfile(ctx, schema.Profile{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("UpsertProfile(empty) error = %v, want ErrInvalid", err)
	}

	got, err := db.GetProfiles(ctx, []string{"alice", "nobody"})
	if err != nil {
		t.Fatalf("GetProfiles() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetProfiles() returned %d profiles, want 1", len(got))
	}
	if got["alice"].LastName != "Liddell" {
		t.Errorf("LastName = %q, want Liddell", got["alice"].LastName)
	}

	empty, err := db.GetProfiles(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("GetProfiles(nil) = %v, %v", empty, err)
	}
}

func TestReopen_KeepsTimestampFloor(t *testing.T) {
	path := testDBPath(t)
	clock := fixedClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	first, err := OpenWithOptions(path, Options{Clock: clock})
	if err != nil {
		t.Fatalf("OpenWithOptions() failed: %v", err)
	}
	if err := first.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	a, err := first.InsertRecord(ctx, schema.TableCommunityMessages, "alice", schema.Payload{"content": "a"})
	if err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}
	first.Close()

	second, err := OpenWithOptions(path, Options{Clock: clock})
	if err != nil {
		t.Fatalf("OpenWithOptions() failed: %v", err)
	}
	defer second.Close()
	if err := second.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	b, err := second.InsertRecord(ctx, schema.TableCommunityMessages, "alice", schema.Payload{"content": "b"})
	if err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}
	if !b.CreatedAt.After(a.CreatedAt) {
		t.Errorf("created_at after reopen = %v, want after %v", b.CreatedAt, a.CreatedAt)
	}
}
