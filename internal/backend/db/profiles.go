package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/reelroom/reel/internal/backend/schema"
)

// UpsertProfile inserts or updates the display names of a principal.
func (db *DB) UpsertProfile(ctx context.Context, p schema.Profile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	now := schema.FormatTime(db.clock.Now())
	query := `
	INSERT INTO profiles (id, first_name, last_name, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		updated_at = excluded.updated_at
	`

	_, err := db.conn.ExecContext(ctx, query, p.ID, nullString(p.FirstName), nullString(p.LastName), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", p.ID, err)
	}
	return nil
}

// GetProfiles returns the profiles of the given principals in a single
// query. Principals without a profile are absent from the result.
func (db *DB) GetProfiles(ctx context.Context, ids []string) (map[string]schema.Profile, error) {
	profiles := make(map[string]schema.Profile, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `SELECT id, first_name, last_name FROM profiles WHERE id IN (` +
		strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + `)`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p           schema.Profile
			first, last sql.NullString
		)
		if err := rows.Scan(&p.ID, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.FirstName = first.String
		p.LastName = last.String
		profiles[p.ID] = p
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
