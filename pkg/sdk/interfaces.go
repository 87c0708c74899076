package sdk

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist where the operation requires one.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable is returned when the backing store cannot be reached or is misconfigured.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalidArgument is returned for empty collection names, ids or unparsable payloads.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Document is a stored record together with its identifier.
// Data never contains the identifier itself.
type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// --- Functional Interfaces (Interface Segregation) ---

// DocReader defines the read operations for a collection.
type DocReader interface {
	// List returns every document in the collection matching all filters, in no particular order.
	List(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	// Get returns a single document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
}

// DocWriter defines the write operations for a collection.
type DocWriter interface {
	// Insert stores data under a store-generated identifier and returns it.
	Insert(ctx context.Context, collection string, data map[string]any) (string, error)
	// InsertAt stores data under id, replacing any existing document.
	InsertAt(ctx context.Context, collection, id string, data map[string]any) error
	// Merge shallow-merges partial into an existing document. It returns ErrNotFound
	// when the document does not exist.
	Merge(ctx context.Context, collection, id string, partial map[string]any) error
	// Remove deletes a document. Removing a missing document is not an error.
	Remove(ctx context.Context, collection, id string) error
}

// CollectionEnumeration allows discovering collections.
type CollectionEnumeration interface {
	Collections(ctx context.Context) ([]string, error)
}

// --- Composite Interfaces ---

// DocumentStore is the primary interface for interacting with the document database.
// The embedded engines and the network client all implement this contract.
type DocumentStore interface {
	DocReader
	DocWriter
	CollectionEnumeration
	Close() error
}
