package profiles

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/reelroom/reel/internal/backend/schema"
)

type countingSource struct {
	profiles map[string]schema.Profile
	calls    [][]string
	err      error
}

func (s *countingSource) GetProfiles(ctx context.Context, ids []string) (map[string]schema.Profile, error) {
	s.calls = append(s.calls, append([]string(nil), ids...))
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]schema.Profile)
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func TestResolve_BatchesAndCaches(t *testing.T) {
	src := &countingSource{profiles: map[string]schema.Profile{
		"alice": {ID: "alice", FirstName: "Alice", LastName: "Liddell"},
		"bob":   {ID: "bob", FirstName: "Bob"},
	}}
	r := NewResolver(src)
	ctx := context.Background()

	names, err := r.Resolve(ctx, []string{"alice", "bob", "alice", "0123456789abcdef"})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	want := map[string]string{
		"alice":            "Alice Liddell",
		"bob":              "Bob",
		"0123456789abcdef": "User 01234567",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Resolve() = %v, want %v", names, want)
	}

	if len(src.calls) != 1 {
		t.Fatalf("GetProfiles called %d times, want 1", len(src.calls))
	}
	got := src.calls[0]
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"0123456789abcdef", "alice", "bob"}) {
		t.Errorf("requested ids = %v", got)
	}

	if _, err := r.Resolve(ctx, []string{"bob", "alice"}); err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if len(src.calls) != 1 {
		t.Errorf("cached ids fetched again (%d calls)", len(src.calls))
	}

	r.Forget("bob")
	if name := r.Name(ctx, "bob"); name != "Bob" {
		t.Errorf("Name(bob) = %q", name)
	}
	if len(src.calls) != 2 || !reflect.DeepEqual(src.calls[1], []string{"bob"}) {
		t.Errorf("calls after Forget = %v", src.calls)
	}
}

func TestResolve_SourceErrorFallsBack(t *testing.T) {
	src := &countingSource{err: errors.New("offline")}
	r := NewResolver(src)

	names, err := r.Resolve(context.Background(), []string{"alice"})
	if err == nil {
		t.Fatal("Resolve() succeeded with a failing source")
	}
	if names["alice"] != "User alice" {
		t.Errorf("fallback name = %q", names["alice"])
	}
}
