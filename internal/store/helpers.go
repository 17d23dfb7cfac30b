package store

import (
	"fmt"
	"strconv"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Value kind tags stored alongside each field so typed values survive the
// round trip through a TEXT column.
const (
	kindNull   = "null"
	kindInt    = "int"
	kindFloat  = "float"
	kindString = "string"
)

// encodeFieldValue flattens a field value into (text, kind) for storage.
func encodeFieldValue(v interface{}) (string, string, error) {
	switch val := v.(type) {
	case nil:
		return "", kindNull, nil
	case string:
		return val, kindString, nil
	case int64:
		return strconv.FormatInt(val, 10), kindInt, nil
	case int:
		return strconv.Itoa(val), kindInt, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), kindFloat, nil
	default:
		return "", "", fmt.Errorf("unsupported field value type %T", v)
	}
}

// decodeFieldValue restores a typed field value from its stored (text, kind).
func decodeFieldValue(text, kind string) (interface{}, error) {
	switch kind {
	case kindNull:
		return nil, nil
	case kindString:
		return text, nil
	case kindInt:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad stored integer %q: %w", text, err)
		}
		return i, nil
	case kindFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad stored float %q: %w", text, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
}

// normalizePermissions maps a stored permissions string onto a known value.
func normalizePermissions(s string) models.Permissions {
	if s == string(models.PermissionReadOnly) {
		return models.PermissionReadOnly
	}
	return models.PermissionReadWrite
}
