package loadtest

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reelroom/reel/internal/backend/api"
	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/session"
)

func setupBackend(t *testing.T) (*db.DB, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub(log.New(io.Discard, "", 0))
	database, err := db.OpenWithOptions(filepath.Join(t.TempDir(), "test.db"), db.Options{Publisher: hub})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := database.InitSchema(); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	t.Cleanup(func() {
		hub.Close()
		_ = database.Close()
	})
	return database, hub
}

func TestRun_InProcess(t *testing.T) {
	database, hub := setupBackend(t)
	ctx := context.Background()

	// Rows that exist before the run must be part of every observer's state.
	if _, err := database.InsertRecord(ctx, schema.TableCommunityMessages, "carol", schema.Payload{"content": "before"}); err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}

	result, err := Run(ctx, InProcess(database, hub), Options{
		Writers:           3,
		Observers:         4,
		MessagesPerWriter: 10,
		Timeout:           10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if !result.Converged {
		t.Errorf("observers did not converge (missing %d)", result.Missing)
	}
	if result.Records != 31 {
		t.Errorf("Records = %d, want 31", result.Records)
	}
	if result.Writes.Count != 30 {
		t.Errorf("Writes.Count = %d, want 30", result.Writes.Count)
	}
	if result.Echoes.Count != 4*30 {
		t.Errorf("Echoes.Count = %d, want %d", result.Echoes.Count, 4*30)
	}
	if result.Echoes.Min < 0 {
		t.Errorf("negative echo latency %v", result.Echoes.Min)
	}
}

func TestRun_FilteredKey(t *testing.T) {
	database, hub := setupBackend(t)
	ctx := context.Background()

	// A comment on another movie must not reach the observers.
	if _, err := database.InsertRecord(ctx, schema.TableMovieComments, "carol",
		schema.Payload{"movie_id": 1, "content": "elsewhere"}); err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}

	result, err := Run(ctx, InProcess(database, hub), Options{
		Writers:           2,
		Observers:         2,
		MessagesPerWriter: 5,
		Key:               schema.Where(schema.TableMovieComments, "movie_id", 42),
		Timeout:           10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !result.Converged {
		t.Errorf("observers did not converge (missing %d)", result.Missing)
	}
	if result.Records != 10 {
		t.Errorf("Records = %d, want 10", result.Records)
	}
}

func TestRun_Remote(t *testing.T) {
	database, hub := setupBackend(t)
	quiet := log.New(io.Discard, "", 0)

	issuer, err := session.NewIssuer("loadtest-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() failed: %v", err)
	}
	rt := realtime.NewServer(hub, &realtime.Config{Logger: quiet})
	ts := httptest.NewServer(api.NewServer(database, issuer, rt, &api.Config{Logger: quiet, DevLogin: true}).Handler())
	defer ts.Close()
	defer rt.Close()

	result, err := Run(context.Background(), Remote(ts.URL, quiet), Options{
		Writers:           2,
		Observers:         2,
		MessagesPerWriter: 5,
		Timeout:           10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !result.Converged {
		t.Errorf("observers did not converge (missing %d)", result.Missing)
	}
	if result.Records != 10 {
		t.Errorf("Records = %d, want 10", result.Records)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	if stats.Min != time.Millisecond || stats.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", stats.Min, stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}

	if empty := computeLatencyStats(nil); empty.Count != 0 {
		t.Errorf("empty Count = %d", empty.Count)
	}

	var buf bytes.Buffer
	stats.PrintStats(&buf, "Echo latency")
	if !strings.HasPrefix(buf.String(), "Echo latency:\n") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
