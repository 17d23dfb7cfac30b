package validation

import (
	"errors"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

func newTestValidator(t *testing.T) (*Validator, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	st.SeedRecord(models.Record{Fields: []models.FieldRecord{
		{Name: "age", Permissions: models.PermissionReadWrite},
		{Name: "height", Permissions: models.PermissionReadWrite},
		{Name: "weight", Permissions: models.PermissionReadWrite},
		{Name: "gender", Permissions: models.PermissionReadWrite},
	}})
	return New(st), st
}

func assertRejected(t *testing.T, err error, wantType ErrorType) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a %s rejection, got nil", wantType)
	}
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if verr.Type != wantType {
		t.Fatalf("rejection type = %s, want %s", verr.Type, wantType)
	}
	if verr.Message == "" {
		t.Error("rejection should carry a model-readable message")
	}
	return verr
}

func TestUpdateCoercesIntegerField(t *testing.T) {
	v, st := newTestValidator(t)

	value, fieldName, err := v.Update("age", "30")
	if err != nil {
		t.Fatalf("Update(age, 30) failed: %v", err)
	}
	if value != int64(30) {
		t.Errorf("coerced value = %v (%T), want int64(30)", value, value)
	}
	if fieldName != "age" {
		t.Errorf("resolved field name = %q, want age", fieldName)
	}

	record, _ := st.LoadRecord()
	f := record.Get("age")
	if f.Value != int64(30) {
		t.Errorf("stored value = %v, want int64(30)", f.Value)
	}
	if f.UpdatedAt == nil {
		t.Error("successful update must stamp UpdatedAt")
	}
}

func TestUpdateResolvesFieldCaseInsensitively(t *testing.T) {
	v, st := newTestValidator(t)

	_, fieldName, err := v.Update("AGE", "30")
	if err != nil {
		t.Fatalf("Update(AGE, 30) failed: %v", err)
	}
	if fieldName != "age" {
		t.Errorf("resolved field name = %q, want the canonical casing 'age'", fieldName)
	}
	record, _ := st.LoadRecord()
	if record.Get("age").Value != int64(30) {
		t.Error("update through an uppercase name should hit the same field")
	}
}

func TestUpdateRejectsUnknownField(t *testing.T) {
	v, _ := newTestValidator(t)
	_, _, err := v.Update("shoe_size", "42")
	verr := assertRejected(t, err, ErrFieldNotFound)
	if verr.Field != "shoe_size" {
		t.Errorf("rejection field = %q, want shoe_size", verr.Field)
	}
}

func TestUpdateRejectsEmptyValue(t *testing.T) {
	v, _ := newTestValidator(t)
	_, _, err := v.Update("age", "   ")
	assertRejected(t, err, ErrEmptyValue)
}

func TestUpdateRejectsDuplicateValue(t *testing.T) {
	v, st := newTestValidator(t)

	if _, _, err := v.Update("gender", "female"); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	recordBefore, _ := st.LoadRecord()
	stampBefore := recordBefore.Get("gender").UpdatedAt

	_, _, err := v.Update("gender", "female")
	assertRejected(t, err, ErrDuplicateValue)

	recordAfter, _ := st.LoadRecord()
	if !recordAfter.Get("gender").UpdatedAt.Equal(*stampBefore) {
		t.Error("a rejected duplicate must not touch UpdatedAt")
	}
}

func TestUpdateDuplicateComparisonIsRaw(t *testing.T) {
	v, _ := newTestValidator(t)

	if _, _, err := v.Update("gender", "female"); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	// Different raw string, even if semantically close, is not a duplicate.
	if _, _, err := v.Update("gender", "Female"); err != nil {
		t.Errorf("raw comparison should admit 'Female' after 'female': %v", err)
	}

	// Trailing whitespace makes a different raw value too; the comparison
	// runs before any trimming.
	if _, _, err := v.Update("age", "25"); err != nil {
		t.Fatalf("first age update failed: %v", err)
	}
	if _, _, err := v.Update("age", "25 "); err != nil {
		t.Errorf("raw comparison should admit '25 ' after '25': %v", err)
	}
}

func TestUpdateRejectsBadInteger(t *testing.T) {
	v, _ := newTestValidator(t)
	_, _, err := v.Update("age", "thirty")
	assertRejected(t, err, ErrTypeConversion)

	_, _, err = v.Update("age", "30.5")
	assertRejected(t, err, ErrTypeConversion)
}

func TestUpdateStripsMeasurementUnits(t *testing.T) {
	v, st := newTestValidator(t)

	cases := []struct {
		field string
		raw   string
		want  float64
	}{
		{"height", "175 cm", 175},
		{"height", "180cm", 180},
		{"height", "1.8 m", 1.8},
		{"weight", "70 kg", 70},
		{"weight", "82 kilo", 82},
		{"weight", "75 kilogram", 75},
		{"height", "170 centimeter", 170},
	}
	for _, c := range cases {
		value, _, err := v.Update(c.field, c.raw)
		if err != nil {
			t.Errorf("Update(%s, %q) failed: %v", c.field, c.raw, err)
			continue
		}
		if value != c.want {
			t.Errorf("Update(%s, %q) = %v, want %v", c.field, c.raw, value, c.want)
		}
	}

	record, _ := st.LoadRecord()
	if record.Get("height").Value != 170.0 {
		t.Errorf("final height = %v, want 170", record.Get("height").Value)
	}
}

func TestUpdateRejectsBadMeasurement(t *testing.T) {
	v, _ := newTestValidator(t)
	_, _, err := v.Update("weight", "heavy")
	assertRejected(t, err, ErrTypeConversion)
}

func TestUpdateRejectsReadOnlyField(t *testing.T) {
	st := store.NewInMemoryStore()
	st.SeedRecord(models.Record{Fields: []models.FieldRecord{
		{Name: "user_id", Value: "u-1", Permissions: models.PermissionReadOnly},
	}})
	v := New(st)

	_, _, err := v.Update("user_id", "u-2")
	assertRejected(t, err, ErrReadOnly)
}

func TestUpdateAllowsOverwriteWithNewValue(t *testing.T) {
	v, st := newTestValidator(t)

	if _, _, err := v.Update("age", "30"); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if _, _, err := v.Update("age", "31"); err != nil {
		t.Fatalf("overwrite with a new value should succeed: %v", err)
	}
	record, _ := st.LoadRecord()
	if record.Get("age").Value != int64(31) {
		t.Errorf("stored age = %v, want 31", record.Get("age").Value)
	}
}
