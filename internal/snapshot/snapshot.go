// Package snapshot persists the cache to a local SQLite file so the engine
// can start warm before the first remote snapshot arrives.
//
// The database runs in embedded mode with WAL so the CLI can read stats
// while a daemon is writing.
//
// Layout:
//   - entities: one row per (collection, id), body is the entity's JSON,
//     position keeps the collection order
//   - selected: the selected entity per kind
//   - meta: saved_at and the user the snapshot belongs to
//
// A snapshot is always written as a whole inside one transaction.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/sirupsen/logrus"
)

// ErrEmpty is returned by Load when nothing was saved yet.
var ErrEmpty = errors.New("no snapshot saved")

// DB wraps the SQLite connection holding the snapshot.
type DB struct {
	conn *sql.DB
	path string
	log  logrus.FieldLogger
}

// Stats describes the stored snapshot.
type Stats struct {
	Path    string             `json:"path" yaml:"path"`
	UserID  string             `json:"userId" yaml:"userId"`
	SavedAt time.Time          `json:"savedAt" yaml:"savedAt"`
	Counts  map[cache.Name]int `json:"counts" yaml:"counts"`
	Bytes   int64              `json:"bytes" yaml:"bytes"`
}

// Open creates or opens the snapshot database at path and makes sure the
// schema exists. The caller must Close it.
func Open(path string, log logrus.FieldLogger) (*DB, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping snapshot: %w", err)
	}
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path, log: log.WithField("component", "snapshot")}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run %q: %w", pragma, err)
		}
	}
	if err := db.InitSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		db.log.WithError(err).Warn("failed to checkpoint WAL")
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the tables if they do not exist. It is idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		position INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE TABLE IF NOT EXISTS selected (
		kind TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		body TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_order ON entities(collection, position);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot with the current content of c.
func (db *DB) Save(ctx context.Context, c *cache.Store, userID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM entities", "DELETE FROM selected", "DELETE FROM meta"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear snapshot: %w", err)
		}
	}

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO entities (collection, id, kind, position, body) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insert.Close()

	total := 0
	for _, name := range cache.Names {
		for i, e := range c.Collection(name) {
			body, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal %s %s: %w", e.Kind(), e.EntityID(), err)
			}
			if _, err := insert.ExecContext(ctx, string(name), e.EntityID(), string(e.Kind()), i, string(body)); err != nil {
				return fmt.Errorf("failed to save %s/%s: %w", name, e.EntityID(), err)
			}
			total++
		}
	}

	for _, kind := range model.Kinds {
		e := c.Selected(kind)
		if e == nil {
			continue
		}
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal selected %s: %w", kind, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO selected (kind, id, body) VALUES (?, ?, ?)`,
			string(kind), e.EntityID(), string(body)); err != nil {
			return fmt.Errorf("failed to save selected %s: %w", kind, err)
		}
	}

	meta := map[string]string{
		"saved_at": time.Now().UTC().Format(time.RFC3339Nano),
		"user_id":  userID,
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to save %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	db.log.WithField("entities", total).Debug("snapshot saved")
	return nil
}

// Load fills c from the stored snapshot. Only snapshots saved for userID
// are loaded; anything else yields ErrEmpty. Rows that no longer decode are
// skipped.
func (db *DB) Load(ctx context.Context, c *cache.Store, userID string) (Stats, error) {
	st, err := db.Stats(ctx)
	if err != nil {
		return st, err
	}
	if st.SavedAt.IsZero() || st.UserID != userID {
		return st, ErrEmpty
	}

	for _, name := range cache.Names {
		kind, _ := cache.KindOf(name)
		items, err := db.loadCollection(ctx, name, kind)
		if err != nil {
			return st, err
		}
		if err := c.ReplaceCollection(name, items); err != nil {
			return st, fmt.Errorf("failed to restore %s: %w", name, err)
		}
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT kind, body FROM selected`)
	if err != nil {
		return st, fmt.Errorf("failed to query selection: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, body string
		if err := rows.Scan(&kind, &body); err != nil {
			return st, fmt.Errorf("failed to scan selection: %w", err)
		}
		e, err := model.UnmarshalEntity(model.Kind(kind), []byte(body))
		if err != nil {
			db.log.WithError(err).WithField("kind", kind).Warn("skipping unreadable selection")
			continue
		}
		c.Select(e)
	}
	return st, rows.Err()
}

func (db *DB) loadCollection(ctx context.Context, name cache.Name, kind model.Kind) ([]model.Entity, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, body FROM entities WHERE collection = ? ORDER BY position ASC`, string(name))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", name, err)
	}
	defer rows.Close()

	var items []model.Entity
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", name, err)
		}
		e, err := model.UnmarshalEntity(kind, []byte(body))
		if err != nil {
			db.log.WithError(err).WithFields(logrus.Fields{"collection": name, "id": id}).Warn("skipping unreadable row")
			continue
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// Stats reports what the snapshot holds without loading it.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Path: db.path, Counts: make(map[cache.Name]int)}

	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return st, fmt.Errorf("failed to query meta: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return st, fmt.Errorf("failed to scan meta: %w", err)
		}
		switch k {
		case "saved_at":
			st.SavedAt, _ = time.Parse(time.RFC3339Nano, v)
		case "user_id":
			st.UserID = v
		}
	}
	rows.Close()

	rows, err = db.conn.QueryContext(ctx, `SELECT collection, COUNT(*) FROM entities GROUP BY collection`)
	if err != nil {
		return st, fmt.Errorf("failed to count entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return st, fmt.Errorf("failed to scan counts: %w", err)
		}
		st.Counts[cache.Name(name)] = n
	}

	if info, err := os.Stat(db.path); err == nil {
		st.Bytes = info.Size()
	}
	return st, rows.Err()
}
