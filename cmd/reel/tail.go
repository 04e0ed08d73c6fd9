package main

import (
	"context"
	"fmt"
	"os"
	"reflect"

	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/livesync"
	"github.com/reelroom/reel/internal/ui"
)

// lineFunc renders one record for text output.
type lineFunc func(r schema.Record, author string) string

// mailbox keeps only the most recent state. A single handle notifies one
// state at a time, so there is a single sender.
type mailbox chan livesync.State

func newMailbox() mailbox { return make(mailbox, 1) }

func (m mailbox) put(st livesync.State) {
	for {
		select {
		case m <- st:
			return
		default:
		}
		select {
		case <-m:
		default:
		}
	}
}

// tail prints the rows selected by key and, with follow, every later change
// until ctx is cancelled.
func tail(ctx context.Context, r *remote, key schema.FilterKey, limit int, line lineFunc, follow bool) error {
	states := newMailbox()
	syncer, err := r.syncer(limit, states.put)
	if err != nil {
		return err
	}

	h, err := syncer.Open(ctx, key)
	if err != nil {
		return err
	}
	defer h.Close()

	st, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	if subErr := h.SubscriptionErr(); subErr != nil && follow {
		fmt.Fprintln(os.Stderr, ui.RenderWarn("Warning: live updates unavailable: "+subErr.Error()))
	}

	names := r.authors(ctx, st)
	if format() != ui.FormatText {
		items := make([]ui.Item, len(st.Records))
		for i, rec := range st.Records {
			items[i] = ui.NewItem(rec, nameOf(names, rec.OwnerID))
		}
		return ui.Encode(os.Stdout, format(), items)
	}

	if len(st.Records) == 0 {
		fmt.Println(ui.RenderMuted("Nothing here yet."))
	}
	for _, rec := range st.Records {
		fmt.Println(line(rec, nameOf(names, rec.OwnerID)))
	}
	if !follow {
		return nil
	}

	prev := st
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-states:
			if next.Status == livesync.StatusError {
				return next.Err
			}
			added, updated, removed := diff(prev, next)
			if len(added)+len(updated) > 0 {
				names = r.authors(ctx, next)
			}
			for _, rec := range added {
				fmt.Println(line(rec, nameOf(names, rec.OwnerID)))
			}
			for _, rec := range updated {
				fmt.Println(line(rec, nameOf(names, rec.OwnerID)) + " " + ui.RenderMuted("(edited)"))
			}
			for _, id := range removed {
				fmt.Println(ui.RenderMuted("· " + id + " was deleted"))
			}
			prev = next
		}
	}
}

// diff compares two snapshots of the same collection.
func diff(prev, next livesync.State) (added, updated []schema.Record, removed []string) {
	before := make(map[string]schema.Record, len(prev.Records))
	for _, r := range prev.Records {
		before[r.ID] = r
	}
	seen := make(map[string]bool, len(next.Records))
	for _, r := range next.Records {
		seen[r.ID] = true
		old, ok := before[r.ID]
		switch {
		case !ok:
			added = append(added, r)
		case !reflect.DeepEqual(old.Payload, r.Payload):
			updated = append(updated, r)
		}
	}
	for _, r := range prev.Records {
		if !seen[r.ID] {
			removed = append(removed, r.ID)
		}
	}
	return added, updated, removed
}

func nameOf(names map[string]string, id string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return id
}
