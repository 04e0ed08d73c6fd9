package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reelroom/reel/internal/backend/schema"
)

// Fetch returns the rows matching key ordered by created_at ascending.
// A limit <= 0 returns every matching row.
func (db *DB) Fetch(ctx context.Context, key schema.FilterKey, limit int) ([]schema.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	table, _ := schema.LookupTable(key.Table)

	var args []interface{}
	query := "SELECT " + selectColumns(table) + " FROM " + table.Name

	if key.Field != "" {
		query += " WHERE " + key.Field + " = ?"
		args = append(args, filterArg(table, key))
	}

	query += " ORDER BY created_at ASC, id ASC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", key, err)
	}
	defer rows.Close()

	return scanRecords(table, rows)
}

// FetchSince returns every row of table created at or after since, oldest
// first. A zero since returns the whole table.
func (db *DB) FetchSince(ctx context.Context, tableName string, since time.Time) ([]schema.Record, error) {
	table, err := schema.LookupTable(tableName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	query := "SELECT " + selectColumns(table) + " FROM " + table.Name +
		" WHERE created_at >= ? ORDER BY created_at ASC, id ASC"

	sinceStr := ""
	if !since.IsZero() {
		sinceStr = schema.FormatTime(since)
	}

	rows, err := db.conn.QueryContext(ctx, query, sinceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table.Name, err)
	}
	defer rows.Close()

	return scanRecords(table, rows)
}

// GetRecord retrieves a single row by ID.
// Returns ErrNotFound if the row does not exist.
func (db *DB) GetRecord(ctx context.Context, tableName, id string) (schema.Record, error) {
	table, err := schema.LookupTable(tableName)
	if err != nil {
		return schema.Record{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return getRecord(ctx, db.conn, table, id)
}

// InsertRecord validates fields, assigns an ID and creation time, stores the
// row and publishes an INSERT notification.
func (db *DB) InsertRecord(ctx context.Context, tableName, ownerID string, fields schema.Payload) (schema.Record, error) {
	table, err := schema.LookupTable(tableName)
	if err != nil {
		return schema.Record{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if ownerID == "" {
		return schema.Record{}, fmt.Errorf("%w: owner is required", ErrInvalid)
	}

	payload, err := table.NormalizeInsert(fields)
	if err != nil {
		return schema.Record{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	rec := schema.Record{
		ID:        db.ids.New(),
		OwnerID:   ownerID,
		CreatedAt: db.nextTimestamp(),
		Payload:   payload,
	}

	if _, err := insertRow(ctx, db.conn, table, rec, false); err != nil {
		if isUniqueViolation(err) {
			return schema.Record{}, fmt.Errorf("%w: %s", ErrDuplicate, describeConflict(table, rec))
		}
		return schema.Record{}, fmt.Errorf("failed to insert into %s: %w", table.Name, err)
	}

	db.publish(schema.ChangeInsert, table.Name, rec.Clone(), rec.CreatedAt)
	return rec, nil
}

// ImportRecord stores a row with its original ID and creation time.
// Rows whose ID already exists are skipped; the returned bool reports whether
// the row was inserted. Imports are not published: live collections pick
// them up on their next open.
func (db *DB) ImportRecord(ctx context.Context, tableName string, rec schema.Record) (bool, error) {
	table, err := schema.LookupTable(tableName)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if rec.ID == "" || rec.OwnerID == "" || rec.CreatedAt.IsZero() {
		return false, fmt.Errorf("%w: id, user_id and created_at are required", ErrInvalid)
	}

	payload, err := table.NormalizeInsert(rec.Payload)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	rec.Payload = payload

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	n, err := insertRow(ctx, db.conn, table, rec, true)
	if err != nil {
		if isUniqueViolation(err) {
			// A different row already holds another unique key, e.g. a
			// watchlist entry for an already listed movie.
			return false, nil
		}
		return false, fmt.Errorf("failed to import into %s: %w", table.Name, err)
	}

	if rec.CreatedAt.After(db.lastTime) {
		db.lastTime = rec.CreatedAt.UTC()
	}
	return n > 0, nil
}

// UpdateRecord changes the mutable columns of a row owned by principal and
// publishes an UPDATE notification carrying the full new row.
func (db *DB) UpdateRecord(ctx context.Context, tableName, id, principal string, fields schema.Payload) (schema.Record, error) {
	table, err := schema.LookupTable(tableName)
	if err != nil {
		return schema.Record{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	changes, err := table.NormalizeUpdate(fields)
	if err != nil {
		return schema.Record{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return schema.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := ownedRecord(ctx, tx, table, id, principal); err != nil {
		return schema.Record{}, err
	}

	var (
		sets []string
		args []interface{}
	)
	for _, name := range table.ColumnNames() {
		v, ok := changes[name]
		if !ok {
			continue
		}
		sets = append(sets, name+" = ?")
		args = append(args, v)
	}
	now := db.clock.Now().UTC()
	if table.UpdatedAt {
		sets = append(sets, "updated_at = ?")
		args = append(args, schema.FormatTime(now))
	}
	args = append(args, id)

	query := "UPDATE " + table.Name + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return schema.Record{}, fmt.Errorf("failed to update %s %s: %w", table.Name, id, err)
	}

	updated, err := getRecord(ctx, tx, table, id)
	if err != nil {
		return schema.Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return schema.Record{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.publish(schema.ChangeUpdate, table.Name, updated.Clone(), now)
	return updated, nil
}

// DeleteRecord removes a row owned by principal and publishes a DELETE
// notification carrying the removed row.
func (db *DB) DeleteRecord(ctx context.Context, tableName, id, principal string) error {
	table, err := schema.LookupTable(tableName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	old, err := ownedRecord(ctx, tx, table, id, principal)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table.Name+" WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table.Name, id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.publish(schema.ChangeDelete, table.Name, old, db.clock.Now().UTC())
	return nil
}

// CountRecords returns the number of rows in a table.
func (db *DB) CountRecords(ctx context.Context, tableName string) (int, error) {
	table, err := schema.LookupTable(tableName)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table.Name).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table.Name, err)
	}
	return count, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func ownedRecord(ctx context.Context, q queryer, table *schema.Table, id, principal string) (schema.Record, error) {
	rec, err := getRecord(ctx, q, table, id)
	if err != nil {
		return schema.Record{}, err
	}
	if principal == "" || rec.OwnerID != principal {
		return schema.Record{}, fmt.Errorf("%w: %s %s", ErrNotOwner, table.Name, id)
	}
	return rec, nil
}

func getRecord(ctx context.Context, q queryer, table *schema.Table, id string) (schema.Record, error) {
	query := "SELECT " + selectColumns(table) + " FROM " + table.Name + " WHERE id = ?"
	rec, err := scanRecord(table, q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Record{}, fmt.Errorf("%w: %s %s", ErrNotFound, table.Name, id)
	}
	if err != nil {
		return schema.Record{}, err
	}
	return rec, nil
}

func insertRow(ctx context.Context, q queryer, table *schema.Table, rec schema.Record, ignoreExisting bool) (int64, error) {
	cols := []string{schema.ColumnID, schema.ColumnOwner, schema.ColumnCreatedAt}
	created := schema.FormatTime(rec.CreatedAt)
	args := []interface{}{rec.ID, rec.OwnerID, created}

	for _, name := range table.ColumnNames() {
		cols = append(cols, name)
		args = append(args, rec.Payload[name])
	}
	if table.UpdatedAt {
		cols = append(cols, "updated_at")
		args = append(args, created)
	}

	query := "INSERT INTO " + table.Name + " (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	if ignoreExisting {
		query += " ON CONFLICT(id) DO NOTHING"
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func selectColumns(table *schema.Table) string {
	cols := append([]string{schema.ColumnID, schema.ColumnOwner, schema.ColumnCreatedAt}, table.ColumnNames()...)
	return strings.Join(cols, ", ")
}

// filterArg converts the textual filter value to the column's storage type.
func filterArg(table *schema.Table, key schema.FilterKey) interface{} {
	if c, ok := table.Column(key.Field); ok && c.Kind == schema.KindInt {
		if n, err := strconv.ParseInt(key.Value, 10, 64); err == nil {
			return n
		}
	}
	return key.Value
}

func describeConflict(table *schema.Table, rec schema.Record) string {
	if table.Name == schema.TableWatchlist {
		return fmt.Sprintf("movie %s already in watchlist of %s", rec.String("movie_id"), rec.OwnerID)
	}
	return fmt.Sprintf("%s %s", table.Name, rec.ID)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(table *schema.Table, row rowScanner) (schema.Record, error) {
	var (
		rec       schema.Record
		createdAt string
	)

	dest := []interface{}{&rec.ID, &rec.OwnerID, &createdAt}
	values := make([]interface{}, len(table.Columns))
	for i, c := range table.Columns {
		if c.Kind == schema.KindInt {
			values[i] = new(sql.NullInt64)
		} else {
			values[i] = new(sql.NullString)
		}
		dest = append(dest, values[i])
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schema.Record{}, err
		}
		return schema.Record{}, fmt.Errorf("failed to scan %s row: %w", table.Name, err)
	}

	t, err := schema.ParseTime(createdAt)
	if err != nil {
		return schema.Record{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	rec.CreatedAt = t

	rec.Payload = make(schema.Payload, len(table.Columns))
	for i, c := range table.Columns {
		switch v := values[i].(type) {
		case *sql.NullInt64:
			if v.Valid {
				rec.Payload[c.Name] = v.Int64
			} else {
				rec.Payload[c.Name] = nil
			}
		case *sql.NullString:
			if v.Valid {
				rec.Payload[c.Name] = v.String
			} else {
				rec.Payload[c.Name] = nil
			}
		}
	}

	return rec, nil
}

// scanRecords is a helper function to scan multiple records from query results.
func scanRecords(table *schema.Table, rows *sql.Rows) ([]schema.Record, error) {
	records := []schema.Record{}

	for rows.Next() {
		rec, err := scanRecord(table, rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table.Name, err)
	}

	return records, nil
}
