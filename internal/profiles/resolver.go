// Package profiles resolves record owners to display names.
//
// A rendered list asks for the names of all its distinct owners at once; the
// resolver fetches the unknown ones in a single request and caches them.
package profiles

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/reelroom/reel/internal/backend/schema"
)

// Source loads profiles in bulk. Implemented by *db.DB and *api.Client.
type Source interface {
	GetProfiles(ctx context.Context, ids []string) (map[string]schema.Profile, error)
}

// Resolver caches display names.
type Resolver struct {
	source Source

	mu    sync.RWMutex
	names map[string]string
}

// NewResolver creates a resolver backed by source.
func NewResolver(source Source) *Resolver {
	return &Resolver{
		source: source,
		names:  make(map[string]string),
	}
}

// Resolve returns a display name for each id. Unknown ids are fetched in
// one request; ids without a profile get the fallback name.
func (r *Resolver) Resolve(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	var missing []string
	seen := make(map[string]struct{}, len(ids))

	r.mu.RLock()
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		if name, ok := r.names[id]; ok {
			out[id] = name
		} else {
			missing = append(missing, id)
		}
	}
	r.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	found, err := r.source.GetProfiles(ctx, missing)
	if err != nil {
		for _, id := range missing {
			out[id] = Fallback(id)
		}
		return out, fmt.Errorf("failed to resolve %d profiles: %w", len(missing), err)
	}

	r.mu.Lock()
	for _, id := range missing {
		name := DisplayName(found[id])
		if name == "" {
			name = Fallback(id)
		}
		r.names[id] = name
		out[id] = name
	}
	r.mu.Unlock()

	return out, nil
}

// Name resolves a single id.
func (r *Resolver) Name(ctx context.Context, id string) string {
	names, _ := r.Resolve(ctx, []string{id})
	if name, ok := names[id]; ok {
		return name
	}
	return Fallback(id)
}

// Forget drops a cached name, e.g. after the user renamed themselves.
func (r *Resolver) Forget(id string) {
	r.mu.Lock()
	delete(r.names, id)
	r.mu.Unlock()
}

// DisplayName joins first and last name. It returns "" when both are empty.
func DisplayName(p schema.Profile) string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Fallback is the name shown for users without a profile.
func Fallback(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "User " + id
}
