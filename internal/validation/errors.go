// Package validation applies per-field update rules for IntakePipe.
package validation

// ErrorType classifies why an update was rejected. Rejections are business
// outcomes the model can react to, so they travel as values, never panics.
type ErrorType string

const (
	// ErrFieldNotFound: the named field does not exist in the record.
	ErrFieldNotFound ErrorType = "field_not_found"
	// ErrEmptyValue: the raw value is empty or whitespace-only.
	ErrEmptyValue ErrorType = "empty_value"
	// ErrDuplicateValue: the value already stored stringifies identically.
	ErrDuplicateValue ErrorType = "duplicate_value"
	// ErrTypeConversion: the value does not parse for the field's kind.
	ErrTypeConversion ErrorType = "type_conversion"
	// ErrReadOnly: the field does not accept writes.
	ErrReadOnly ErrorType = "read_only"
)

// Error is a rejected update. Message is written for the model: it goes back
// verbatim as the tool result so the model can self-correct.
type Error struct {
	Type    ErrorType
	Field   string
	Value   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// IsValidationError reports whether err is a business rejection as opposed
// to a persistence or infrastructure failure.
func IsValidationError(err error) bool {
	_, ok := err.(*Error)
	return ok
}
