package api_test

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/reelroom/reel/internal/backend/api"
	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/session"
)

// TestRemoteLiveCollection drives a live collection entirely over HTTP and
// WebSocket, the way the CLI does.
func TestRemoteLiveCollection(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	hub := realtime.NewHub(quiet)
	database, err := db.OpenWithOptions(filepath.Join(t.TempDir(), "reel.db"), db.Options{Publisher: hub})
	if err != nil {
		t.Fatalf("OpenWithOptions() failed: %v", err)
	}
	defer database.Close()
	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	issuer, err := session.NewIssuer("test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() failed: %v", err)
	}
	rt := realtime.NewServer(hub, &realtime.Config{Logger: quiet})
	ts := httptest.NewServer(api.NewServer(database, issuer, rt, &api.Config{Logger: quiet, DevLogin: true}).Handler())
	defer ts.Close()
	defer rt.Close()

	ctx := context.Background()
	client := api.NewClient(ts.URL)
	token, err := client.Login(ctx, schema.Profile{ID: "alice"})
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	sess, err := session.Parse(token)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	subscriber, err := realtime.NewClient(realtime.ClientConfig{BaseURL: ts.URL, Token: token, Logger: quiet})
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	changes := make(chan livesync.State, 16)
	syncer, err := livesync.New(livesync.Deps{
		Fetcher:    client,
		Subscriber: subscriber,
		Writer:     client,
		Session:    sess,
	}, livesync.Config{
		Limit:    100,
		Logger:   quiet,
		OnChange: func(st livesync.State) { changes <- st },
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	h, err := syncer.Open(ctx, schema.AllOf(schema.TableCommunityMessages))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer h.Close()
	if h.SubscriptionErr() != nil {
		t.Fatalf("SubscriptionErr() = %v", h.SubscriptionErr())
	}
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() failed: %v", err)
	}

	rec, err := h.RequestCreate(ctx, schema.Payload{
		"content":      "Try Heat",
		"message_type": schema.MessageRecommendation,
		"movie_title":  "Heat",
	})
	if err != nil {
		t.Fatalf("RequestCreate() failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case st := <-changes:
			if r, ok := st.Find(rec.ID); ok {
				if r.String("movie_title") != "Heat" {
					t.Errorf("movie_title = %q, want Heat", r.String("movie_title"))
				}
				return
			}
		case <-deadline:
			t.Fatal("push echo of the created message never arrived")
		}
	}
}
