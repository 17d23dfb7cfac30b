// Package validation applies per-field update rules for IntakePipe.
//
// The pipeline runs in a fixed order: resolve the field case-insensitively,
// reject empty values, reject duplicates, coerce by field kind, then write
// through the store and stamp the update time. Duplicate detection compares
// raw stringified values with no normalization, so "75" and "75.0" are
// different values on a text field.
package validation

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// measurementSuffixes are unit words stripped from measurement values before
// the decimal parse, longest first so "kilogram" wins over "kilo" and
// "cm" over "m".
var measurementSuffixes = []string{
	"centimetre", "centimeter", "kilogram", "kilo", "cm", "kg", "m",
}

// Validator validates and applies field updates against the store.
type Validator struct {
	store store.Store
	now   func() time.Time
}

// New creates a Validator backed by the given store.
func New(s store.Store) *Validator {
	return &Validator{store: s, now: time.Now}
}

// Update validates raw for the named field and, on success, writes the
// coerced value through the store with a fresh update timestamp. It returns
// the coerced value and the canonical field name (the stored casing, not
// whatever casing the caller used) so callers can render the tool result.
// Rejections come back as *Error; store failures come back wrapped.
func (v *Validator) Update(field, raw string) (interface{}, string, error) {
	record, err := v.store.LoadRecord()
	if err != nil {
		slog.Error("Validator.Update: failed to load record", "error", err, "field", field)
		return nil, "", fmt.Errorf("failed to load record: %w", err)
	}

	value, verr := v.Coerce(&record, field, raw)
	if verr != nil {
		slog.Info("Validator.Update: rejected", "field", field, "value", raw, "reason", verr.Type)
		return nil, "", verr
	}

	f := record.Get(field)
	f.Value = value
	now := v.now()
	f.UpdatedAt = &now

	if err := v.store.SaveRecord(record); err != nil {
		slog.Error("Validator.Update: failed to save record", "error", err, "field", f.Name)
		return nil, "", fmt.Errorf("failed to save record: %w", err)
	}
	slog.Info("Validator.Update: applied", "field", f.Name, "value", models.StringifyValue(value))
	return value, f.Name, nil
}

// Coerce runs the validation pipeline against an in-memory record without
// writing anything. The returned value is what an Update would store.
func (v *Validator) Coerce(record *models.Record, field, raw string) (interface{}, *Error) {
	f := record.Get(field)
	if f == nil {
		return nil, &Error{
			Type:  ErrFieldNotFound,
			Field: field,
			Value: raw,
			Message: fmt.Sprintf("Field '%s' not found. Available fields: %s",
				field, strings.Join(record.Names(), ", ")),
		}
	}
	if f.Permissions == models.PermissionReadOnly {
		return nil, &Error{
			Type:    ErrReadOnly,
			Field:   f.Name,
			Value:   raw,
			Message: fmt.Sprintf("Field '%s' is read-only and cannot be updated", f.Name),
		}
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &Error{
			Type:    ErrEmptyValue,
			Field:   f.Name,
			Value:   raw,
			Message: fmt.Sprintf("Value for field '%s' cannot be empty", f.Name),
		}
	}

	if f.IsSet() && f.StringValue() == raw {
		return nil, &Error{
			Type:    ErrDuplicateValue,
			Field:   f.Name,
			Value:   raw,
			Message: fmt.Sprintf("Field '%s' already has value '%s'", f.Name, raw),
		}
	}

	switch models.KindForField(f.Name) {
	case models.FieldKindInteger:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, &Error{
				Type:    ErrTypeConversion,
				Field:   f.Name,
				Value:   raw,
				Message: fmt.Sprintf("Could not convert '%s' to a whole number for field '%s'", trimmed, f.Name),
			}
		}
		return n, nil
	case models.FieldKindMeasurement:
		stripped := stripUnits(trimmed)
		n, err := strconv.ParseFloat(stripped, 64)
		if err != nil {
			return nil, &Error{
				Type:    ErrTypeConversion,
				Field:   f.Name,
				Value:   raw,
				Message: fmt.Sprintf("Could not convert '%s' to a number for field '%s'", trimmed, f.Name),
			}
		}
		return n, nil
	default:
		return trimmed, nil
	}
}

// stripUnits removes a trailing unit word from a measurement value so inputs
// like "175 cm" or "80kg" parse cleanly.
func stripUnits(s string) string {
	lower := strings.ToLower(s)
	for _, suffix := range measurementSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return strings.TrimSpace(s[:len(s)-len(suffix)])
		}
	}
	return s
}
