package validation

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ErrValidationFailed is the sentinel wrapped by every schema failure,
// so callers can branch with errors.Is.
var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	DefaultMaxStringLength = 255
	MaxDescriptionLength   = 1024
)

// RecordSchema is a declarative pre-write schema: required fields must
// be present and non-empty, numeric fields must be finite numbers. A
// single Check call runs immediately before each persistence call,
// decoupled from the storage engine's native typing.
type RecordSchema struct {
	Required []string
	Numeric  []string
}

// Check validates one record against the schema. The record is the
// flattened field map of the row about to be written.
func (s RecordSchema) Check(record map[string]any) error {
	for _, field := range s.Required {
		v, ok := record[field]
		if !ok || v == nil {
			return fmt.Errorf("%w: required field %s is missing", ErrValidationFailed, field)
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			return fmt.Errorf("%w: required field %s is empty", ErrValidationFailed, field)
		}
	}
	for _, field := range s.Numeric {
		v, ok := record[field]
		if !ok || v == nil {
			continue // optional numeric fields may be absent
		}
		f, isNum := toFloat(v)
		if !isNum {
			return fmt.Errorf("%w: field %s is not numeric", ErrValidationFailed, field)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: field %s is not a finite number", ErrValidationFailed, field)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength checks if a string's UTF-8 character count is within max bounds.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}
