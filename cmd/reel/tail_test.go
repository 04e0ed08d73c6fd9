package main

import (
	"reflect"
	"testing"

	"github.com/reelroom/reel/internal/backend/schema"
	"github.com/reelroom/reel/internal/livesync"
)

func rec(id, content string) schema.Record {
	return schema.Record{ID: id, OwnerID: "alice", Payload: schema.Payload{"content": content}}
}

func TestDiff(t *testing.T) {
	prev := livesync.State{Records: []schema.Record{rec("a", "one"), rec("b", "two"), rec("c", "three")}}
	next := livesync.State{Records: []schema.Record{rec("a", "one"), rec("c", "three!"), rec("d", "four")}}

	added, updated, removed := diff(prev, next)

	if len(added) != 1 || added[0].ID != "d" {
		t.Errorf("added = %v, want [d]", added)
	}
	if len(updated) != 1 || updated[0].ID != "c" {
		t.Errorf("updated = %v, want [c]", updated)
	}
	if !reflect.DeepEqual(removed, []string{"b"}) {
		t.Errorf("removed = %v, want [b]", removed)
	}
}

func TestMailboxKeepsLatest(t *testing.T) {
	m := newMailbox()
	for i := 0; i < 5; i++ {
		m.put(livesync.State{Records: make([]schema.Record, i)})
	}
	got := <-m
	if len(got.Records) != 4 {
		t.Errorf("got state %d, want the last one (4)", len(got.Records))
	}
	select {
	case extra := <-m:
		t.Errorf("unexpected extra state %v", extra)
	default:
	}
}

func TestCommentsKey(t *testing.T) {
	key, err := commentsKey("42")
	if err != nil {
		t.Fatalf("commentsKey() failed: %v", err)
	}
	if key.String() != "movie_comments:movie_id=eq.42" {
		t.Errorf("key = %s", key)
	}
	for _, bad := range []string{"", "x", "0", "-3"} {
		if _, err := commentsKey(bad); err == nil {
			t.Errorf("commentsKey(%q) should fail", bad)
		}
	}
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"}, {"login"}, {"logout"}, {"whoami"},
		{"chat", "tail"}, {"chat", "post"}, {"chat", "edit"}, {"chat", "delete"},
		{"comments", "tail"}, {"comments", "post"}, {"comments", "delete"},
		{"watchlist", "list"}, {"watchlist", "add"}, {"watchlist", "remove"},
		{"backup", "export"}, {"backup", "import"},
		{"bench"}, {"config", "init"}, {"config", "show"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found (%v)", path, err)
		}
	}
}
