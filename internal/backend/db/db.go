// Package db provides the SQLite backing store for reel.
//
// The store holds community chat messages, per-movie comments, watchlist
// entries and user profiles. It is the authority the live-collection
// synchronizer reads from and writes through, and it emits a row change
// notification after every committed write so the realtime hub can push it to
// subscribers.
//
// The database runs embedded (github.com/ncruces/go-sqlite3) in WAL mode so
// that HTTP readers are never blocked by the single writer.
//
// Architecture:
//   - Database file: <data_dir>/reel.db
//   - Tables: community_messages, movie_comments, watchlist, profiles
//   - Ordering: created_at is stored fixed-width UTC and is strictly
//     increasing across writes, so "ORDER BY created_at" equals commit order
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/reelroom/reel/internal/backend/schema"
)

// ChangePublisher receives a notification after every committed write.
type ChangePublisher interface {
	Publish(change schema.Change)
}

// Options configures a DB. Zero values select the defaults.
type Options struct {
	Clock     Clock
	IDs       IDGenerator
	Publisher ChangePublisher
}

// DB wraps the SQLite connection with reel's record operations.
type DB struct {
	conn *sql.DB
	path string

	clock     Clock
	ids       IDGenerator
	publisher ChangePublisher

	// writeMu orders commits and their notifications identically.
	writeMu  sync.Mutex
	lastTime time.Time
}

// Open creates a new database connection at the specified path.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	database, err := db.Open(".reel/reel.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions creates a database connection with custom clock, ID
// generator and change publisher.
func OpenWithOptions(path string, opts Options) (*DB, error) {
	memory := path == ":memory:"

	connStr := path
	if !memory && !strings.HasPrefix(path, "file:") {
		// Ensure parent directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		connStr = "file:" + path
	}

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if memory {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	db := &DB{
		conn:      conn,
		path:      path,
		clock:     opts.Clock,
		ids:       opts.IDs,
		publisher: opts.Publisher,
	}
	if db.clock == nil {
		db.clock = RealClock{}
	}
	if db.ids == nil {
		db.ids = UUIDGenerator{}
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	if memory {
		pragmas = pragmas[1:]
	}
	for _, pragma := range pragmas {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.path != ":memory:" {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		first_name TEXT,
		last_name TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS community_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'general',
		movie_title TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS movie_comments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		movie_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS watchlist (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		movie_id INTEGER NOT NULL,
		movie_title TEXT NOT NULL,
		movie_poster_url TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, movie_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_created ON community_messages(created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_type ON community_messages(message_type);
	CREATE INDEX IF NOT EXISTS idx_comments_movie ON movie_comments(movie_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_comments_user ON movie_comments(user_id);
	CREATE INDEX IF NOT EXISTS idx_watchlist_user ON watchlist(user_id, created_at);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db.loadLastTime(ctx)
}

// loadLastTime seeds the timestamp floor from existing rows so that
// created_at keeps increasing across restarts.
func (db *DB) loadLastTime(ctx context.Context) error {
	var latest sql.NullString
	query := `
	SELECT MAX(created_at) FROM (
		SELECT MAX(created_at) AS created_at FROM community_messages
		UNION ALL SELECT MAX(created_at) FROM movie_comments
		UNION ALL SELECT MAX(created_at) FROM watchlist
	)
	`
	if err := db.conn.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return fmt.Errorf("failed to read latest timestamp: %w", err)
	}
	if !latest.Valid {
		return nil
	}

	t, err := schema.ParseTime(latest.String)
	if err != nil {
		return fmt.Errorf("failed to parse latest timestamp: %w", err)
	}

	db.writeMu.Lock()
	if t.After(db.lastTime) {
		db.lastTime = t
	}
	db.writeMu.Unlock()
	return nil
}

// nextTimestamp returns the clock time, bumped so that it is strictly after
// the previous write. Callers must hold writeMu.
func (db *DB) nextTimestamp() time.Time {
	now := db.clock.Now().UTC()
	if !now.After(db.lastTime) {
		now = db.lastTime.Add(time.Nanosecond)
	}
	db.lastTime = now
	return now
}

func (db *DB) publish(typ schema.ChangeType, table string, r schema.Record, at time.Time) {
	if db.publisher == nil {
		return
	}
	db.publisher.Publish(schema.Change{
		Type:       typ,
		Table:      table,
		Record:     r,
		CommitTime: at,
	})
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY)
}
