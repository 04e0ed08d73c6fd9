package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// FilterKey scopes a fetch or subscription to a set of records: every row of
// Table, or only those whose Field equals Value.
type FilterKey struct {
	Table string
	Field string
	Value string
}

// AllOf returns the key selecting every row of table.
func AllOf(table string) FilterKey {
	return FilterKey{Table: table}
}

// Where returns the key selecting rows of table with field equal to value.
func Where(table, field string, value any) FilterKey {
	return FilterKey{Table: table, Field: field, Value: FormatValue(value)}
}

// ParseFilterKey parses "table" or "table:field=eq.value". Values of integer
// columns are rewritten to their canonical form, so "movie_id=eq.042" selects
// movie 42 both in a fetch and in a subscription.
func ParseFilterKey(s string) (FilterKey, error) {
	table, filter, hasFilter := strings.Cut(strings.TrimSpace(s), ":")
	key := FilterKey{Table: table}
	if hasFilter {
		field, value, ok := strings.Cut(filter, "=eq.")
		if !ok || field == "" {
			return FilterKey{}, fmt.Errorf("invalid filter %q: expected field=eq.value", filter)
		}
		key.Field = field
		key.Value = value
		if t, err := LookupTable(table); err == nil {
			if key.Value, err = canonicalValue(t, field, value); err != nil {
				return FilterKey{}, err
			}
		}
	}
	if err := key.Validate(); err != nil {
		return FilterKey{}, err
	}
	return key, nil
}

// String returns the textual form accepted by ParseFilterKey.
func (k FilterKey) String() string {
	if k.Field == "" {
		return k.Table
	}
	return fmt.Sprintf("%s:%s=eq.%s", k.Table, k.Field, k.Value)
}

// Filter returns the "field=eq.value" part, or "" for an unfiltered key.
func (k FilterKey) Filter() string {
	if k.Field == "" {
		return ""
	}
	return k.Field + "=eq." + k.Value
}

// Validate checks that the table exists, the field is filterable and the
// value is in the form Matches compares against.
func (k FilterKey) Validate() error {
	if k.Table == "" {
		return fmt.Errorf("table is required")
	}
	t, err := LookupTable(k.Table)
	if err != nil {
		return err
	}
	if k.Field != "" && !t.IsFilterable(k.Field) {
		return fmt.Errorf("column %q of %s cannot be used as a filter", k.Field, k.Table)
	}
	if k.Field != "" {
		v, err := canonicalValue(t, k.Field, k.Value)
		if err != nil {
			return err
		}
		if v != k.Value {
			return fmt.Errorf("filter value %q for %s is not canonical (want %q)", k.Value, k.Field, v)
		}
	}
	return nil
}

// canonicalValue renders a filter value of an integer column the way
// FormatValue renders the stored column.
func canonicalValue(t *Table, field, value string) (string, error) {
	c, ok := t.Column(field)
	if !ok || c.Kind != KindInt {
		return value, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return "", fmt.Errorf("filter value %q for %s is not an integer", value, field)
	}
	return FormatValue(n), nil
}

// Matches reports whether a row of table belongs to the key's record set.
func (k FilterKey) Matches(table string, r Record) bool {
	if table != k.Table {
		return false
	}
	if k.Field == "" {
		return true
	}
	v, ok := r.Field(k.Field)
	return ok && FormatValue(v) == k.Value
}
