package livesync_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/reelroom/reel/internal/backend/db"
	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/session"
)

// This example opens the community chat against an in-process store and
// posts a message; the message shows up through its push echo.
func ExampleSyncer_Open() {
	dir, err := os.MkdirTemp("", "reel-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	quiet := log.New(io.Discard, "", 0)
	hub := realtime.NewHub(quiet)
	defer hub.Close()

	database, err := db.OpenWithOptions(filepath.Join(dir, "reel.db"), db.Options{Publisher: hub})
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close()
	if err := database.InitSchema(); err != nil {
		log.Fatal(err)
	}

	echoed := make(chan struct{}, 1)
	syncer, err := livesync.New(livesync.Deps{
		Fetcher:    database,
		Subscriber: hub,
		Writer:     database,
		Session:    session.Static("alice"),
	}, livesync.Config{
		Limit:  100,
		Logger: quiet,
		OnChange: func(st livesync.State) {
			if len(st.Records) == 1 {
				echoed <- struct{}{}
			}
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	h, err := syncer.Open(ctx, schema.AllOf(schema.TableCommunityMessages))
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	st, _ := h.Wait(ctx)
	fmt.Println(st.Status, len(st.Records))

	if _, err := h.RequestCreate(ctx, schema.Payload{"content": "Anyone seen Heat?"}); err != nil {
		log.Fatal(err)
	}
	<-echoed

	st = h.State()
	fmt.Println(st.Status, st.Records[0].String("content"))
	// Output:
	// ready 0
	// ready Anyone seen Heat?
}
