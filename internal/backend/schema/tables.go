package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Table names.
const (
	TableCommunityMessages = "community_messages"
	TableMovieComments     = "movie_comments"
	TableWatchlist         = "watchlist"
)

// Message types of community chat messages.
const (
	MessageGeneral        = "general"
	MessageRecommendation = "recommendation"
	MessageFeedback       = "feedback"
)

// MessageTypeLabel returns the human label of a chat message type.
func MessageTypeLabel(typ string) string {
	switch typ {
	case MessageRecommendation:
		return "Movie Recommendation"
	case MessageFeedback:
		return "Feedback"
	default:
		return "General"
	}
}

// ColumnKind is the storage type of a payload column.
type ColumnKind int

const (
	// KindText is a TEXT column.
	KindText ColumnKind = iota
	// KindInt is an INTEGER column.
	KindInt
)

// Column describes one payload column of a table.
type Column struct {
	Name       string
	Kind       ColumnKind
	Required   bool
	Nullable   bool
	Mutable    bool // may be changed by an update
	Filterable bool
	MaxLen     int
	Enum       []string
	Default    any
}

// Table describes a record table.
type Table struct {
	Name    string
	Columns []Column

	// UpdatedAt reports whether the table tracks an updated_at column.
	UpdatedAt bool

	// normalize applies cross-column rules after per-column validation.
	normalize func(Payload)
}

var tables = map[string]*Table{
	TableCommunityMessages: {
		Name: TableCommunityMessages,
		Columns: []Column{
			{Name: "content", Kind: KindText, Required: true, Mutable: true, MaxLen: 2000},
			{Name: "message_type", Kind: KindText, Filterable: true, Default: MessageGeneral,
				Enum: []string{MessageGeneral, MessageRecommendation, MessageFeedback}},
			{Name: "movie_title", Kind: KindText, Nullable: true, Mutable: true, MaxLen: 300},
		},
		UpdatedAt: true,
		normalize: func(p Payload) {
			// Only recommendations name a movie.
			if p["message_type"] != MessageRecommendation {
				p["movie_title"] = nil
			}
		},
	},
	TableMovieComments: {
		Name: TableMovieComments,
		Columns: []Column{
			{Name: "movie_id", Kind: KindInt, Required: true, Filterable: true},
			{Name: "content", Kind: KindText, Required: true, Mutable: true, MaxLen: 2000},
		},
	},
	TableWatchlist: {
		Name: TableWatchlist,
		Columns: []Column{
			{Name: "movie_id", Kind: KindInt, Required: true, Filterable: true},
			{Name: "movie_title", Kind: KindText, Required: true, MaxLen: 300},
			{Name: "movie_poster_url", Kind: KindText, Nullable: true, MaxLen: 2000},
		},
	},
}

// LookupTable returns the description of a record table.
func LookupTable(name string) (*Table, error) {
	t, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return t, nil
}

// TableNames returns all record table names in sorted order.
func TableNames() []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Column returns the payload column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the payload column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// IsFilterable reports whether field may appear in a filter key.
func (t *Table) IsFilterable(field string) bool {
	if field == ColumnOwner || field == ColumnID {
		return true
	}
	c, ok := t.Column(field)
	return ok && c.Filterable
}

// NormalizeInsert validates the fields of a new row and returns the full
// payload with defaults applied and values coerced to their column kinds.
func (t *Table) NormalizeInsert(fields Payload) (Payload, error) {
	for k := range fields {
		if _, ok := t.Column(k); !ok {
			return nil, fmt.Errorf("unknown column %q for table %s", k, t.Name)
		}
	}

	out := make(Payload, len(t.Columns))
	for _, c := range t.Columns {
		v, present := fields[c.Name]
		if !present || v == nil {
			if c.Required {
				return nil, fmt.Errorf("%s is required", c.Name)
			}
			out[c.Name] = c.Default
			continue
		}
		nv, err := c.coerce(v)
		if err != nil {
			return nil, err
		}
		out[c.Name] = nv
	}

	if t.normalize != nil {
		t.normalize(out)
	}
	return out, nil
}

// NormalizeUpdate validates the fields of an update. Only mutable columns
// may be changed.
func (t *Table) NormalizeUpdate(fields Payload) (Payload, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no columns to update")
	}

	out := make(Payload, len(fields))
	for k, v := range fields {
		c, ok := t.Column(k)
		if !ok {
			return nil, fmt.Errorf("unknown column %q for table %s", k, t.Name)
		}
		if !c.Mutable {
			return nil, fmt.Errorf("column %s cannot be updated", k)
		}
		if v == nil {
			if c.Required {
				return nil, fmt.Errorf("%s is required", k)
			}
			out[k] = nil
			continue
		}
		nv, err := c.coerce(v)
		if err != nil {
			return nil, err
		}
		out[k] = nv
	}
	return out, nil
}

func (c Column) coerce(v any) (any, error) {
	switch c.Kind {
	case KindInt:
		n, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		if c.Required && n <= 0 {
			return nil, fmt.Errorf("%s must be positive (got %d)", c.Name, n)
		}
		return n, nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", c.Name)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			if c.Required {
				return nil, fmt.Errorf("%s must not be empty", c.Name)
			}
			if c.Nullable {
				return nil, nil
			}
			return c.Default, nil
		}
		if c.MaxLen > 0 && len(s) > c.MaxLen {
			return nil, fmt.Errorf("%s must be %d characters or less (got %d)", c.Name, c.MaxLen, len(s))
		}
		if len(c.Enum) > 0 && !contains(c.Enum, s) {
			return nil, fmt.Errorf("%s must be one of %s (got %q)", c.Name, strings.Join(c.Enum, ", "), s)
		}
		return s, nil
	}
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("expected an integer, got %v", x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
