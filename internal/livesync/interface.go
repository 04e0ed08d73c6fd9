package livesync

import (
	"context"

	"github.com/reelroom/reel/internal/backend/realtime"
	"github.com/reelroom/reel/internal/backend/schema"
)

// Fetcher performs the bulk read of a live collection.
//
// Fetch returns the rows selected by key ordered by created_at ascending,
// capped at limit rows. A limit <= 0 returns every row.
//
// Implemented by *db.DB in process and *api.Client over HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, key schema.FilterKey, limit int) ([]schema.Record, error)
}

// Subscriber establishes push subscriptions.
//
// Subscribe must not return before the subscription is live: changes
// committed after it returns are delivered to h, one at a time, in commit
// order.
//
// Implemented by *realtime.Hub in process and *realtime.Client over
// WebSocket.
type Subscriber interface {
	Subscribe(ctx context.Context, key schema.FilterKey, h realtime.Handler) (realtime.Subscription, error)
}

// Writer writes through to the backing store.
//
// The store enforces ownership: UpdateRecord and DeleteRecord fail unless
// principal owns the row.
type Writer interface {
	InsertRecord(ctx context.Context, table, ownerID string, fields schema.Payload) (schema.Record, error)
	UpdateRecord(ctx context.Context, table, id, principal string, fields schema.Payload) (schema.Record, error)
	DeleteRecord(ctx context.Context, table, id, principal string) error
}

// Session reports the principal attached to the current session.
type Session interface {
	CurrentPrincipal() (string, bool)
}
