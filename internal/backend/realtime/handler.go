// Package realtime pushes row changes to live collections.
//
// A Hub fans committed changes out to in-process subscribers. The Server
// exposes the hub over a WebSocket endpoint and the Client consumes it from
// another process. Both sides deliver the changes of one subscription one at
// a time, in commit order.
package realtime

import "github.com/reelroom/reel/internal/backend/schema"

// Handler receives the changes of one subscription. Calls are never
// concurrent for a given subscription.
type Handler interface {
	OnInsert(r schema.Record)
	OnUpdate(r schema.Record)
	OnDelete(id string)
}

// Subscription is an established push subscription.
type Subscription interface {
	// Unsubscribe stops delivery. No handler call starts after it returns.
	// Calling it more than once is harmless.
	Unsubscribe() error
}

// HandlerFuncs adapts plain functions to Handler. Nil fields ignore the event.
type HandlerFuncs struct {
	Insert func(r schema.Record)
	Update func(r schema.Record)
	Delete func(id string)
}

func (f HandlerFuncs) OnInsert(r schema.Record) {
	if f.Insert != nil {
		f.Insert(r)
	}
}

func (f HandlerFuncs) OnUpdate(r schema.Record) {
	if f.Update != nil {
		f.Update(r)
	}
}

func (f HandlerFuncs) OnDelete(id string) {
	if f.Delete != nil {
		f.Delete(id)
	}
}

// Dispatch routes a change to the matching handler method.
func Dispatch(h Handler, c schema.Change) {
	switch c.Type {
	case schema.ChangeInsert:
		h.OnInsert(c.Record)
	case schema.ChangeUpdate:
		h.OnUpdate(c.Record)
	case schema.ChangeDelete:
		h.OnDelete(c.Record.ID)
	}
}
