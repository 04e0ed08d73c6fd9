package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Core column names shared by every record table.
const (
	ColumnID        = "id"
	ColumnOwner     = "user_id"
	ColumnCreatedAt = "created_at"
)

// Payload holds the table-specific columns of a record.
type Payload map[string]any

// Record is one row tracked by a live collection.
type Record struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time
	Payload   Payload
}

// Clone returns a copy whose payload map can be mutated independently.
func (r Record) Clone() Record {
	c := r
	if r.Payload != nil {
		c.Payload = make(Payload, len(r.Payload))
		for k, v := range r.Payload {
			c.Payload[k] = v
		}
	}
	return c
}

// Field returns a column value, including the core columns.
func (r Record) Field(name string) (any, bool) {
	switch name {
	case ColumnID:
		return r.ID, true
	case ColumnOwner:
		return r.OwnerID, true
	case ColumnCreatedAt:
		return r.CreatedAt, true
	}
	v, ok := r.Payload[name]
	return v, ok
}

// String returns a payload column as a string, or "" when absent or null.
func (r Record) String(name string) string {
	v, ok := r.Field(name)
	if !ok || v == nil {
		return ""
	}
	return FormatValue(v)
}

// Int returns a payload column as an integer.
func (r Record) Int(name string) (int64, bool) {
	v, ok := r.Field(name)
	if !ok || v == nil {
		return 0, false
	}
	n, err := toInt(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatValue renders a column value the way filters compare it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return FormatTime(x)
	default:
		return fmt.Sprint(x)
	}
}

// TimeLayout is fixed width so that textual order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime formats t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and any RFC 3339 timestamp.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// MarshalJSON encodes the record as a flat row object.
func (r Record) MarshalJSON() ([]byte, error) {
	row := make(map[string]any, len(r.Payload)+3)
	for k, v := range r.Payload {
		row[k] = v
	}
	row[ColumnID] = r.ID
	row[ColumnOwner] = r.OwnerID
	row[ColumnCreatedAt] = FormatTime(r.CreatedAt)
	return json.Marshal(row)
}

// UnmarshalJSON decodes a flat row object. Numbers are kept as json.Number so
// that integer columns survive the round trip exactly.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}

	out := Record{Payload: Payload{}}
	for k, v := range row {
		switch k {
		case ColumnID:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("record id must be a string")
			}
			out.ID = s
		case ColumnOwner:
			s, _ := v.(string)
			out.OwnerID = s
		case ColumnCreatedAt:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("created_at must be a string")
			}
			t, err := ParseTime(s)
			if err != nil {
				return err
			}
			out.CreatedAt = t
		default:
			out.Payload[k] = v
		}
	}
	if out.ID == "" {
		return fmt.Errorf("record id is required")
	}

	*r = out
	return nil
}

// Profile is the public display information of a principal.
type Profile struct {
	ID        string `json:"id" yaml:"id"`
	FirstName string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
}

// Validate checks if the Profile has valid field values.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(p.FirstName) > 100 || len(p.LastName) > 100 {
		return fmt.Errorf("names must be 100 characters or less")
	}
	return nil
}
