package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func newTestJSONStore(t *testing.T, contents string) *JSONStore {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "user_data.json")
	if contents != "" {
		if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
			t.Fatalf("failed to write test data file: %v", err)
		}
	}
	st, err := NewJSONStore(WithJSONPath(path), WithSessionDir(filepath.Join(dir, "sessions")))
	if err != nil {
		t.Fatalf("NewJSONStore failed: %v", err)
	}
	return st
}

func TestJSONStoreLoadRecordFailsLoudOnMissingFile(t *testing.T) {
	st := newTestJSONStore(t, "")
	if _, err := st.LoadRecord(); err == nil {
		t.Fatal("LoadRecord on a missing file must fail, never return an empty record")
	}
}

func TestJSONStoreLoadRecordPreservesKeyOrder(t *testing.T) {
	st := newTestJSONStore(t, `{"weight": null, "age": 30, "height": 175.5, "gender": "female"}`)

	record, err := st.LoadRecord()
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	want := []string{"weight", "age", "height", "gender"}
	names := record.Names()
	if len(names) != len(want) {
		t.Fatalf("field names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("field order[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	if record.Get("age").Value != int64(30) {
		t.Errorf("age = %v (%T), want int64(30)", record.Get("age").Value, record.Get("age").Value)
	}
	if record.Get("height").Value != 175.5 {
		t.Errorf("height = %v, want 175.5", record.Get("height").Value)
	}
	if record.Get("weight").Value != nil {
		t.Errorf("weight = %v, want nil", record.Get("weight").Value)
	}
	if record.Get("gender").Value != "female" {
		t.Errorf("gender = %v, want female", record.Get("gender").Value)
	}
}

func TestJSONStoreSaveRecordRoundTrip(t *testing.T) {
	st := newTestJSONStore(t, `{"age": null, "height": null}`)

	record, err := st.LoadRecord()
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	record.Get("age").Value = int64(41)
	if err := st.SaveRecord(record); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	reloaded, err := st.LoadRecord()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Get("age").Value != int64(41) {
		t.Errorf("reloaded age = %v, want 41", reloaded.Get("age").Value)
	}
	names := reloaded.Names()
	if names[0] != "age" || names[1] != "height" {
		t.Errorf("save must preserve field order, got %v", names)
	}
}

func TestJSONStoreSaveRecordLeavesNoTempFile(t *testing.T) {
	st := newTestJSONStore(t, `{"age": null}`)
	record, _ := st.LoadRecord()
	if err := st.SaveRecord(record); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}
	if _, err := os.Stat(st.path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away after save")
	}
}

func TestJSONStoreSaveSessionWritesDumpFile(t *testing.T) {
	st := newTestJSONStore(t, `{"age": null}`)

	sess := models.Session{
		ID:        "abcd1234",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Blocks: []models.Block{
			{ID: "b1", Type: models.BlockTypeProgrammatic, Content: "hi", Subtype: "greeting"},
		},
	}
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	entries, err := os.ReadDir(st.sessionDir)
	if err != nil {
		t.Fatalf("session dir not created: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("session dir has %d entries, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "session_abcd1234_") || !strings.HasSuffix(name, ".json") {
		t.Errorf("unexpected session file name %q", name)
	}
}

func TestInMemoryStoreRequiresSeed(t *testing.T) {
	st := NewInMemoryStore()
	if _, err := st.LoadRecord(); err == nil {
		t.Fatal("unseeded in-memory store must fail LoadRecord")
	}

	st.SeedRecord(models.Record{Fields: []models.FieldRecord{{Name: "age"}}})
	record, err := st.LoadRecord()
	if err != nil {
		t.Fatalf("LoadRecord after seed failed: %v", err)
	}

	// Mutating the returned record must not leak into the store.
	record.Get("age").Value = int64(99)
	fresh, _ := st.LoadRecord()
	if fresh.Get("age").Value != nil {
		t.Error("LoadRecord must return an isolated copy")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "intake.db")
	st, err := NewSQLiteStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer st.Close()

	// Empty table fails loud.
	if _, err := st.LoadRecord(); err == nil {
		t.Fatal("LoadRecord on an unseeded database must fail")
	}

	now := time.Now().UTC().Truncate(time.Second)
	seed := models.Record{Fields: []models.FieldRecord{
		{Name: "age", Value: int64(30), Permissions: models.PermissionReadWrite, UpdatedAt: &now},
		{Name: "height", Value: 175.5, Permissions: models.PermissionReadWrite},
		{Name: "gender", Value: nil, Permissions: models.PermissionReadWrite},
	}}
	if err := st.SaveRecord(seed); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	record, err := st.LoadRecord()
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	names := record.Names()
	if len(names) != 3 || names[0] != "age" || names[1] != "height" || names[2] != "gender" {
		t.Fatalf("field order = %v", names)
	}
	if record.Get("age").Value != int64(30) {
		t.Errorf("age = %v (%T), want int64(30)", record.Get("age").Value, record.Get("age").Value)
	}
	if record.Get("height").Value != 175.5 {
		t.Errorf("height = %v, want 175.5", record.Get("height").Value)
	}
	if record.Get("gender").Value != nil {
		t.Errorf("gender = %v, want nil", record.Get("gender").Value)
	}

	sess := models.Session{ID: "s1", CreatedAt: time.Now()}
	if err := st.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("INTAKEPIPE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INTAKEPIPE_TEST_POSTGRES_DSN not set")
	}
	st, err := NewPostgresStore(WithDSN(dsn))
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	defer st.Close()

	seed := models.Record{Fields: []models.FieldRecord{
		{Name: "age", Value: int64(30), Permissions: models.PermissionReadWrite},
	}}
	if err := st.SaveRecord(seed); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}
	record, err := st.LoadRecord()
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if record.Get("age").Value != int64(30) {
		t.Errorf("age = %v, want 30", record.Get("age").Value)
	}
}
