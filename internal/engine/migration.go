package engine

import (
	"context"
	"fmt"

	"github.com/celerix-dev/agricare/pkg/sdk"
)

// Migrate copies every document of every collection from src to dst, keeping ids.
// This works for:
// - Embedded -> SQL/Redis backend (moving off the JSON files)
// - Any backend -> Embedded (backup/offline copy)
// Timestamps are copied as stored, not re-stamped.
func Migrate(ctx context.Context, src, dst sdk.DocumentStore) (int, error) {
	collections, err := src.Collections(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list collections: %w", err)
	}

	copied := 0
	for _, collection := range collections {
		docs, err := src.List(ctx, collection)
		if err != nil {
			return copied, fmt.Errorf("failed to dump collection %s: %w", collection, err)
		}

		for _, doc := range docs {
			if err := dst.InsertAt(ctx, collection, doc.ID, doc.Data); err != nil {
				return copied, fmt.Errorf("failed to write %s/%s in destination: %w", collection, doc.ID, err)
			}
			copied++
		}
	}

	return copied, nil
}
