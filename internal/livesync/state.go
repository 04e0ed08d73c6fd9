package livesync

import "github.com/reelroom/reel/internal/backend/schema"

// Status is the load status of a live collection.
type Status string

const (
	// StatusLoading means the bulk fetch has not completed.
	StatusLoading Status = "loading"
	// StatusReady means the fetch succeeded and push events are applied.
	StatusReady Status = "ready"
	// StatusError means the fetch failed. The list stays empty.
	StatusError Status = "error"
)

// State is a snapshot of a live collection. Callers own the returned slice.
type State struct {
	Key     schema.FilterKey
	Status  Status
	Records []schema.Record

	// Err is set in StatusError and matches ErrFetchFailed.
	Err error
}

// IDs returns the record ids in list order.
func (s State) IDs() []string {
	ids := make([]string, len(s.Records))
	for i, r := range s.Records {
		ids[i] = r.ID
	}
	return ids
}

// Find returns the record with the given id.
func (s State) Find(id string) (schema.Record, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return schema.Record{}, false
}

// OwnerIDs returns the distinct owners in order of first appearance.
func (s State) OwnerIDs() []string {
	seen := make(map[string]struct{}, len(s.Records))
	var ids []string
	for _, r := range s.Records {
		if _, ok := seen[r.OwnerID]; ok || r.OwnerID == "" {
			continue
		}
		seen[r.OwnerID] = struct{}{}
		ids = append(ids, r.OwnerID)
	}
	return ids
}

// collection is the ordered, id-unique record list behind a Handle. It is
// only touched with the handle's mutex held.
type collection struct {
	records []schema.Record
	ids     map[string]struct{}
}

func newCollection() *collection {
	return &collection{ids: make(map[string]struct{})}
}

// replace installs a fetch result. A repeated id keeps its first position.
func (c *collection) replace(records []schema.Record) {
	c.records = make([]schema.Record, 0, len(records))
	c.ids = make(map[string]struct{}, len(records))
	for _, r := range records {
		c.insert(r)
	}
}

func (c *collection) insert(r schema.Record) bool {
	if _, ok := c.ids[r.ID]; ok {
		return false
	}
	c.ids[r.ID] = struct{}{}
	c.records = append(c.records, r)
	return true
}

func (c *collection) update(r schema.Record) bool {
	if _, ok := c.ids[r.ID]; !ok {
		return false
	}
	for i := range c.records {
		if c.records[i].ID == r.ID {
			c.records[i] = r
			return true
		}
	}
	return false
}

func (c *collection) remove(id string) bool {
	if _, ok := c.ids[id]; !ok {
		return false
	}
	delete(c.ids, id)
	for i := range c.records {
		if c.records[i].ID == id {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return true
		}
	}
	return false
}

func (c *collection) clear() {
	c.records = nil
	c.ids = make(map[string]struct{})
}

func (c *collection) snapshot() []schema.Record {
	out := make([]schema.Record, len(c.records))
	for i, r := range c.records {
		out[i] = r.Clone()
	}
	return out
}
