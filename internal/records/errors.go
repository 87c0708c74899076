package records

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/celerix-dev/agricare/pkg/sdk"
)

// Error taxonomy of the record store. Store failures and missing records come
// from the document store unchanged; validation failures are raised by callers.
var (
	ErrNotFound         = sdk.ErrNotFound
	ErrStoreUnavailable = sdk.ErrUnavailable
	ErrInvalidArgument  = sdk.ErrInvalidArgument
)

// FieldErrors maps a JSON field name to a human readable message.
type FieldErrors map[string]string

// ValidationError reports caller input that failed validation.
type ValidationError struct {
	Fields FieldErrors
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, message)
	return v
}

// Add records a message for field, keeping the first one.
func (v *ValidationError) Add(field, message string) {
	if v.Fields == nil {
		v.Fields = make(FieldErrors)
	}
	if _, ok := v.Fields[field]; ok {
		return
	}
	v.Fields[field] = message
}

func (v *ValidationError) Error() string {
	if len(v.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString("validation failed: ")
	for i, k := range keys {
		if i > 0 {
			builder.WriteString("; ")
		}
		builder.WriteString(v.Fields[k])
	}
	return builder.String()
}

// MarshalJSON renders the field map.
func (v *ValidationError) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Fields)
}

func (v *ValidationError) Unwrap() error {
	return sdk.ErrInvalidArgument
}
