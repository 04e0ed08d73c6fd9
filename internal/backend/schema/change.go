package schema

import "time"

// ChangeType is the class of a row change notification.
type ChangeType string

const (
	// ChangeInsert indicates a row was created.
	ChangeInsert ChangeType = "INSERT"
	// ChangeUpdate indicates a row was modified.
	ChangeUpdate ChangeType = "UPDATE"
	// ChangeDelete indicates a row was removed.
	ChangeDelete ChangeType = "DELETE"
)

// Valid reports whether t is a known change type.
func (t ChangeType) Valid() bool {
	return t == ChangeInsert || t == ChangeUpdate || t == ChangeDelete
}

// Change is a push notification for one row. For deletes Record holds the
// row as it was before removal.
type Change struct {
	Type       ChangeType
	Table      string
	Record     Record
	CommitTime time.Time
}
