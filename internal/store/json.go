// Package store provides storage backends for IntakePipe.
//
// This file implements the JSON file store: a flat object of field names to
// nullable values. Key order in the file is preserved because it drives the
// "next missing field" guidance.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Constants for JSON store configuration
const (
	// DefaultDirPermissions defines the default permissions for created directories
	DefaultDirPermissions = 0755
	// DefaultFilePermissions defines the default permissions for data files
	DefaultFilePermissions = 0644
)

// JSONStore persists the field record as a flat JSON object and writes
// session dumps as pretty-printed JSON files in a sibling directory.
type JSONStore struct {
	path       string
	sessionDir string
}

// NewJSONStore creates a JSON file store based on provided options.
// The data file path is required; the session directory defaults to
// "sessions" next to the data file.
func NewJSONStore(opts ...Option) (*JSONStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("JSONStore.NewJSONStore: creating JSON store", "path_set", cfg.Path != "")

	if cfg.Path == "" {
		slog.Error("JSONStore data file path not set")
		return nil, fmt.Errorf("data file path not set")
	}
	sessionDir := cfg.SessionDir
	if sessionDir == "" {
		sessionDir = filepath.Join(filepath.Dir(cfg.Path), "sessions")
	}
	return &JSONStore{path: cfg.Path, sessionDir: sessionDir}, nil
}

// LoadRecord reads the flat JSON object and returns the fields in file key
// order. A missing or unreadable file is an error: the field set is authored
// configuration, not something to invent on the fly.
func (s *JSONStore) LoadRecord() (models.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		slog.Error("JSONStore.LoadRecord: failed to read data file", "error", err, "path", s.path)
		return models.Record{}, fmt.Errorf("failed to read data file %s: %w", s.path, err)
	}
	record, err := decodeOrderedRecord(data)
	if err != nil {
		slog.Error("JSONStore.LoadRecord: failed to decode data file", "error", err, "path", s.path)
		return models.Record{}, fmt.Errorf("failed to decode data file %s: %w", s.path, err)
	}
	slog.Debug("JSONStore.LoadRecord: record loaded", "path", s.path, "fields", len(record.Fields))
	return record, nil
}

// SaveRecord writes the record back as a flat JSON object, preserving field
// order, via a temp file and rename so readers never see a partial write.
func (s *JSONStore) SaveRecord(r models.Record) error {
	data, err := encodeOrderedRecord(r)
	if err != nil {
		slog.Error("JSONStore.SaveRecord: failed to encode record", "error", err)
		return fmt.Errorf("failed to encode record: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		slog.Error("JSONStore.SaveRecord: failed to write temp file", "error", err, "path", tmp)
		return fmt.Errorf("failed to write temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		slog.Error("JSONStore.SaveRecord: failed to rename temp file", "error", err, "path", s.path)
		return fmt.Errorf("failed to rename temp file to %s: %w", s.path, err)
	}
	slog.Debug("JSONStore.SaveRecord: record saved", "path", s.path, "fields", len(r.Fields))
	return nil
}

// SaveSession dumps one session as an indented JSON file in the session
// directory, creating the directory on first use.
func (s *JSONStore) SaveSession(sess models.Session) error {
	if err := os.MkdirAll(s.sessionDir, DefaultDirPermissions); err != nil {
		slog.Error("JSONStore.SaveSession: failed to create session directory", "error", err, "dir", s.sessionDir)
		return fmt.Errorf("failed to create session directory %s: %w", s.sessionDir, err)
	}
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		slog.Error("JSONStore.SaveSession: failed to encode session", "error", err, "session_id", sess.ID)
		return fmt.Errorf("failed to encode session %s: %w", sess.ID, err)
	}
	name := fmt.Sprintf("session_%s_%s.json", sess.ID, sessionTimestamp(sess.CreatedAt))
	path := filepath.Join(s.sessionDir, name)
	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		slog.Error("JSONStore.SaveSession: failed to write session file", "error", err, "path", path)
		return fmt.Errorf("failed to write session file %s: %w", path, err)
	}
	slog.Info("JSONStore.SaveSession: session saved", "path", path, "blocks", len(sess.Blocks))
	return nil
}

func (s *JSONStore) Close() error { return nil }

// decodeOrderedRecord walks the JSON token stream so field order follows the
// file's key order, which encoding/json map decoding would lose. Numbers
// without a fraction or exponent become int64, the rest float64.
func decodeOrderedRecord(data []byte) (models.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return models.Record{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return models.Record{}, fmt.Errorf("data file must contain a JSON object")
	}

	var record models.Record
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return models.Record{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return models.Record{}, fmt.Errorf("unexpected key token %v", keyTok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return models.Record{}, err
		}
		value, err := tokenToValue(valTok)
		if err != nil {
			return models.Record{}, fmt.Errorf("field %q: %w", key, err)
		}
		record.Fields = append(record.Fields, models.FieldRecord{
			Name:        key,
			Value:       value,
			Permissions: models.PermissionReadWrite,
		})
	}
	if _, err := dec.Token(); err != nil {
		return models.Record{}, err
	}
	return record, nil
}

func tokenToValue(tok json.Token) (interface{}, error) {
	switch v := tok.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case json.Number:
		s := v.String()
		if strings.ContainsAny(s, ".eE") {
			f, err := v.Float64()
			if err != nil {
				return nil, err
			}
			return f, nil
		}
		i, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return i, nil
	case json.Delim:
		return nil, fmt.Errorf("nested values are not supported")
	default:
		return nil, fmt.Errorf("unsupported value token %v", tok)
	}
}

// encodeOrderedRecord writes the flat object by hand so the field order in
// the file never changes across saves.
func encodeOrderedRecord(r models.Record) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("{\n")
	for i := range r.Fields {
		key, err := json.Marshal(r.Fields[i].Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Fields[i].Value)
		if err != nil {
			return nil, err
		}
		b.WriteString("  ")
		b.Write(key)
		b.WriteString(": ")
		b.Write(val)
		if i < len(r.Fields)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.Bytes(), nil
}

// sessionTimestamp is kept as a helper so tests can pin file naming.
func sessionTimestamp(t time.Time) string {
	return t.UTC().Format("20060102T150405")
}
