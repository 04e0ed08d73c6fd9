// Package livesync keeps ordered, deduplicated record lists in step with the
// backing store.
//
// # Overview
//
// A live collection is the set of rows selected by a schema.FilterKey, for
// example every community chat message or the comments of one movie. Opening
// a collection subscribes to push notifications for the key, bulk fetches the
// current rows ordered by created_at, and from then on applies every pushed
// insert, update and delete to the held list.
//
// # Architecture
//
//	Backing store ──Fetch──────────────┐
//	     │                             ↓
//	     └──Publish──→ Hub/Client ──→ Handle ──OnChange──→ UI
//	                                   │
//	UI ──RequestCreate/RequestDelete───┘──Writer──→ Backing store
//
// Writes never touch the held list directly. The push echo of a write is what
// makes it visible, and the id dedupe rules make the echo safe to receive
// more than once.
//
// # Usage
//
//	syncer, err := livesync.New(livesync.Deps{
//	    Fetcher:    database,
//	    Subscriber: hub,
//	    Writer:     database,
//	    Session:    session.Static("alice"),
//	}, livesync.Config{Limit: 100})
//	if err != nil {
//	    return err
//	}
//
//	h, err := syncer.Open(ctx, schema.AllOf(schema.TableCommunityMessages))
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	state, err := h.Wait(ctx)
//
// # Merge rules
//
//   - Fetch result: replaces the list wholesale; status becomes ready.
//   - Insert: ignored if the id is already held, otherwise appended.
//   - Update: replaces the held row in place; unknown ids are ignored.
//   - Delete: removes the held row; unknown ids are ignored.
//
// Inserts are appended without re-sorting. The transport delivers the changes
// of one key in commit order and the store assigns strictly increasing
// created_at values, so appending keeps the list sorted.
//
// # Error Handling
//
//   - A failed fetch moves the collection to the error state (ErrFetchFailed).
//     There is no automatic retry; open the key again.
//   - A failed subscription leaves the collection in fetch-only mode and is
//     reported by Handle.SubscriptionErr (ErrSubscriptionFailed).
//   - Writes without a principal fail with ErrUnauthenticated and are not
//     sent. Store rejections are returned as *WriteRejectedError.
//   - Malformed push events are logged and skipped.
//
// # Concurrency
//
// Each Handle serializes its own state changes. Push events that arrive
// while the fetch is in flight are queued and replayed, in arrival order,
// right after the fetch result is installed. Close invalidates the handle
// before it unsubscribes, so no event changes the state once Close returns.
package livesync
