// Package engine defines the write-path rules shared by every storage backend:
// key validation, server-side timestamps and value normalisation.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/agricare/pkg/sdk"
)

// Standard errors for the engine.
// These alias the SDK errors so callers can match with errors.Is on either.
var (
	ErrNotFound        = sdk.ErrNotFound
	ErrUnavailable     = sdk.ErrUnavailable
	ErrInvalidArgument = sdk.ErrInvalidArgument
)

// Clock is the store's server clock. Readings are UTC and strictly increasing
// within a process, so a later write always carries a later timestamp even
// when the wall clock stalls or steps back.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewClock returns a Clock reading from now, or from time.Now when now is nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Now returns the next clock reading.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Round(0)
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t
}

// ValidateKey checks that a collection name and document id can be used as
// storage keys and as tokens of the line protocol.
func ValidateKey(collection, id string) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidArgument)
	}
	if strings.ContainsAny(id, " \t\r\n/") {
		return fmt.Errorf("%w: document id %q contains whitespace or '/'", ErrInvalidArgument, id)
	}
	return nil
}

// ValidateCollection checks a collection name.
func ValidateCollection(collection string) error {
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidArgument)
	}
	if strings.ContainsAny(collection, " \t\r\n/:") {
		return fmt.Errorf("%w: collection %q contains whitespace, '/' or ':'", ErrInvalidArgument, collection)
	}
	return nil
}

// Prepare returns a copy of data ready to be stored: server timestamp
// placeholders are replaced by now, every value is normalised to its JSON
// shape, and any "id" field is dropped since identifiers live outside the data.
func Prepare(data map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(data))
	stamp := now.UTC().Format(sdk.TimeLayout)
	for k, v := range data {
		if k == "id" {
			continue
		}
		if sdk.IsServerTimestamp(v) {
			out[k] = stamp
			continue
		}
		out[k] = CloneValue(sdk.NormalizeValue(v))
	}
	return out
}

// Merge returns a new map holding base overlaid with partial.
func Merge(base, partial map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(partial))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// CloneData deep-copies a document body.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies the map and slice shapes produced by JSON decoding.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}
