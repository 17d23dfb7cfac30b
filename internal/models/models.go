// Package models defines core data structures for IntakePipe.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldKind describes how a field's raw values are coerced on update.
type FieldKind string

const (
	// FieldKindInteger fields accept whole numbers only (e.g. age).
	FieldKindInteger FieldKind = "integer"
	// FieldKindMeasurement fields accept decimal numbers with optional unit suffixes (e.g. height, weight).
	FieldKindMeasurement FieldKind = "measurement"
	// FieldKindText fields pass values through as opaque strings.
	FieldKindText FieldKind = "text"
)

// Permissions controls whether a field may be written by the agent.
type Permissions string

const (
	PermissionReadWrite Permissions = "read_write"
	PermissionReadOnly  Permissions = "read_only"
)

// KindForField returns the coercion kind for a known field name.
// Age is a whole number; height and weight are measurements; everything else
// is an opaque string whose domain constraints live in the question metadata.
func KindForField(name string) FieldKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "age":
		return FieldKindInteger
	case "height", "weight":
		return FieldKindMeasurement
	default:
		return FieldKindText
	}
}

// FieldRecord is one named slot of the user profile being collected.
// Value is nil until the field is filled, then holds int64, float64 or string
// depending on the field kind.
type FieldRecord struct {
	Name        string      `json:"name"`
	Value       interface{} `json:"value"`
	Permissions Permissions `json:"permissions"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
}

// IsSet reports whether the field has a concrete value.
func (f *FieldRecord) IsSet() bool {
	return f.Value != nil
}

// StringValue renders the field value the way it is compared for duplicate
// detection and shown in status output. Nil values render as an empty string.
func (f *FieldRecord) StringValue() string {
	return StringifyValue(f.Value)
}

// StringifyValue renders a stored field value as a string. Floats render
// without trailing zeros so "75" and 75.0 compare equal.
func StringifyValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Record is the ordered set of profile fields backing one user.
// Field order follows the backing file's key order and drives the
// "next missing field" workflow guidance.
type Record struct {
	Fields []FieldRecord `json:"fields"`
}

// Get returns the field matching name case-insensitively, or nil.
func (r *Record) Get(name string) *FieldRecord {
	for i := range r.Fields {
		if strings.EqualFold(r.Fields[i].Name, name) {
			return &r.Fields[i]
		}
	}
	return nil
}

// Names returns all field names in record order.
func (r *Record) Names() []string {
	names := make([]string, len(r.Fields))
	for i := range r.Fields {
		names[i] = r.Fields[i].Name
	}
	return names
}

// Missing returns the names of fields that still have no value, in order.
func (r *Record) Missing() []string {
	var missing []string
	for i := range r.Fields {
		if !r.Fields[i].IsSet() {
			missing = append(missing, r.Fields[i].Name)
		}
	}
	return missing
}

// IsComplete reports whether every field has a non-nil value. This is a
// strict all-fields check: a single unset field blocks completion.
func (r *Record) IsComplete() bool {
	for i := range r.Fields {
		if !r.Fields[i].IsSet() {
			return false
		}
	}
	return len(r.Fields) > 0
}

// Snapshot returns a flat field→value copy for ledger block context.
func (r *Record) Snapshot() map[string]interface{} {
	snap := make(map[string]interface{}, len(r.Fields))
	for i := range r.Fields {
		snap[r.Fields[i].Name] = r.Fields[i].Value
	}
	return snap
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() Record {
	fields := make([]FieldRecord, len(r.Fields))
	copy(fields, r.Fields)
	return Record{Fields: fields}
}

// Status renders the data state summary fed to the model: recorded data,
// missing fields, and the next workflow action.
func (r *Record) Status() string {
	var filled []string
	for i := range r.Fields {
		if r.Fields[i].IsSet() {
			filled = append(filled, fmt.Sprintf("- %s: %s", capitalize(r.Fields[i].Name), r.Fields[i].StringValue()))
		}
	}
	missing := r.Missing()

	var b strings.Builder
	b.WriteString("=== RECORDED USER DATA ===\n")
	if len(filled) == 0 {
		b.WriteString("• No data recorded yet")
	} else {
		b.WriteString(strings.Join(filled, "\n"))
	}

	b.WriteString("\n\n=== MISSING FIELDS ===\n")
	if len(missing) == 0 {
		b.WriteString("• All fields complete!")
	} else {
		lines := make([]string, len(missing))
		for i, name := range missing {
			lines[i] = fmt.Sprintf("• %s: null", capitalize(name))
		}
		b.WriteString(strings.Join(lines, "\n"))
	}

	b.WriteString("\n\n=== WORKFLOW GUIDANCE ===\n")
	if len(missing) == 0 {
		b.WriteString("• NEXT ACTION: All data collected, end conversation")
	} else {
		b.WriteString(fmt.Sprintf("• NEXT ACTION: Ask question for '%s' field", missing[0]))
	}
	return b.String()
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
