// Package store provides storage backends for IntakePipe.
//
// This file implements a PostgreSQL-backed store for the field record and
// session dumps.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// LoadRecord reads all fields in position order. An empty table is an error:
// the field set must be seeded before the agent runs.
func (s *PostgresStore) LoadRecord() (models.Record, error) {
	rows, err := s.db.Query(`SELECT name, value, kind, permissions, updated_at FROM intake_fields ORDER BY position`)
	if err != nil {
		slog.Error("PostgresStore LoadRecord query failed", "error", err)
		return models.Record{}, fmt.Errorf("failed to query fields: %w", err)
	}
	defer rows.Close()

	record, err := scanFieldRows(rows)
	if err != nil {
		slog.Error("PostgresStore LoadRecord scan failed", "error", err)
		return models.Record{}, err
	}
	if len(record.Fields) == 0 {
		slog.Error("PostgresStore LoadRecord found no fields")
		return models.Record{}, fmt.Errorf("no fields found: seed intake_fields before running")
	}
	slog.Debug("PostgresStore LoadRecord succeeded", "fields", len(record.Fields))
	return record, nil
}

// SaveRecord upserts every field in one transaction, rewriting positions so
// record order stays authoritative.
func (s *PostgresStore) SaveRecord(r models.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresStore SaveRecord begin failed", "error", err)
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
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (name) DO UPDATE SET value=EXCLUDED.value, kind=EXCLUDED.kind, position=EXCLUDED.position, permissions=EXCLUDED.permissions, updated_at=EXCLUDED.updated_at`,
			f.Name, value, kind, i, string(f.Permissions), f.UpdatedAt)
		if err != nil {
			slog.Error("PostgresStore SaveRecord upsert failed", "error", err, "field", f.Name)
			return fmt.Errorf("failed to upsert field %s: %w", f.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore SaveRecord commit failed", "error", err)
		return fmt.Errorf("failed to commit record: %w", err)
	}
	slog.Debug("PostgresStore SaveRecord succeeded", "fields", len(r.Fields))
	return nil
}

func (s *PostgresStore) SaveSession(sess models.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		slog.Error("PostgresStore SaveSession encode failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO intake_sessions (id, created_at, payload) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET payload=EXCLUDED.payload`,
		sess.ID, sess.CreatedAt, string(payload))
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to insert session %s: %w", sess.ID, err)
	}
	slog.Debug("PostgresStore SaveSession succeeded", "session_id", sess.ID)
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
