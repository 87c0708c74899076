package sdk

import (
	"context"
	"encoding/json"
)

// --- Generics Support ---

// Decode converts a document into T, setting the "id" field from doc.ID.
// Data coming from JSON is map-shaped, so it is re-marshalled into the target
// type; this is a bit slow but keeps callers type safe.
func Decode[T any](doc Document) (T, error) {
	var target T
	body := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		body[k] = v
	}
	body["id"] = doc.ID

	bytes, err := json.Marshal(body)
	if err != nil {
		return target, err
	}
	err = json.Unmarshal(bytes, &target)
	return target, err
}

// Encode flattens a value into the map form stored by the engines.
func Encode(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(bytes, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAs retrieves a single document decoded into T.
func GetAs[T any](ctx context.Context, r DocReader, collection, id string) (T, error) {
	doc, err := r.Get(ctx, collection, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](doc)
}

// ListAs lists documents decoded into T.
func ListAs[T any](ctx context.Context, r DocReader, collection string, filters ...Filter) ([]T, error) {
	docs, err := r.List(ctx, collection, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
