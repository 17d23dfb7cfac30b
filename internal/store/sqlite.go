// Package store provides storage backends for IntakePipe.
//
// This file implements an SQLite-backed store for the field record and
// session dumps.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// LoadRecord reads all fields in position order. An empty table is an error:
// the field set must be seeded before the agent runs.
func (s *SQLiteStore) LoadRecord() (models.Record, error) {
	rows, err := s.db.Query(`SELECT name, value, kind, permissions, updated_at FROM intake_fields ORDER BY position`)
	if err != nil {
		slog.Error("SQLiteStore LoadRecord query failed", "error", err)
		return models.Record{}, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()

	record, err := scanFieldRows(rows)
	if err != nil {
		slog.Error("SQLiteStore LoadRecord scan failed", "error", err)
		return models.Record{}, err
	}
	if len(record.Fields) == 0 {
		slog.Error("SQLiteStore LoadRecord found no fields")
		return models.Record{}, fmt.Errorf("no fields found: seed intake_fields before running")
	}
	slog.Debug("SQLiteStore LoadRecord succeeded", "fields", len(record.Fields))
	return record, nil
}

// SaveRecord upserts every field in one transaction, rewriting positions so
// record order stays authoritative.
func (s *SQLiteStore) SaveRecord(r models.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteStore SaveRecord begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range r.Fields {
		f := &r.Fields[i]
		text, kind, err := encodeFieldValue(f.Value)
		if err != nil {
			return fmt.Errorf("failed to encode field %s: %w", f.Name, err)
		}
		var value interface{}
		if kind != kindNull {
			value = text
		}
		_, err = tx.Exec(`INSERT INTO intake_fields (name, value, kind, position, permissions, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET value=excluded.value, kind=excluded.kind, position=excluded.position, permissions=excluded.permissions, updated_at=excluded.updated_at`,
			f.Name, value, kind, i, string(f.Permissions), f.UpdatedAt)
		if err != nil {
			slog.Error("SQLiteStore SaveRecord upsert failed", "error", err, "field", f.Name)
			return fmt.Errorf("failed to upsert field %s: %w", f.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore SaveRecord commit failed", "error", err)
		return fmt.Errorf("failed to commit record: %w", err)
	}
	slog.Debug("SQLiteStore SaveRecord succeeded", "fields", len(r.Fields))
	return nil
}

func (s *SQLiteStore) SaveSession(sess models.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		slog.Error("SQLiteStore SaveSession encode failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO intake_sessions (id, created_at, payload) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload=excluded.payload`,
		sess.ID, sess.CreatedAt, string(payload))
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "session_id", sess.ID)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanFieldRows is shared by the SQLite and Postgres backends; the field
// query shape is identical.
func scanFieldRows(rows *sql.Rows) (models.Record, error) {
	var record models.Record
	for rows.Next() {
		var name, kind, perms string
		var value sql.NullString
		var updatedAt sql.NullTime
		if err := rows.Scan(&name, &value, &kind, &perms, &updatedAt); err != nil {
			return models.Record{}, fmt.Errorf("failed to scan field row: %w", err)
		}
		v, err := decodeFieldValue(value.String, kind)
		if err != nil {
			return models.Record{}, fmt.Errorf("field %s: %w", name, err)
		}
		f := models.FieldRecord{Name: name, Value: v, Permissions: normalizePermissions(perms)}
		if updatedAt.Valid {
			t := updatedAt.Time
			f.UpdatedAt = &t
		}
		record.Fields = append(record.Fields, f)
	}
	if err := rows.Err(); err != nil {
		return models.Record{}, fmt.Errorf("failed to iterate field rows: %w", err)
	}
	return record, nil
}
