package activity

import (
	"context"
	"fmt"

	"github.com/celerix-dev/agricare/internal/records"
)

// Hook turns record store mutations into activity entries.
func Hook(l *Log) records.Hook {
	return records.HookFunc(func(ctx context.Context, m records.Mutation) error {
		return l.Append(ctx, EntryFor(m))
	})
}

// EntryFor describes a mutation the way the activity feed shows it.
func EntryFor(m records.Mutation) Entry {
	noun := singular(m.Collection)

	e := Entry{
		UserID:     m.ActingUserID,
		EntityID:   m.EntityID,
		EntityType: m.Collection,
	}
	switch m.Kind {
	case records.KindCreate:
		e.Action = "Created " + m.Collection
		e.Details = "Created new " + noun
	case records.KindCreateWithID:
		e.Action = "Created " + m.Collection
		e.Details = fmt.Sprintf("Created new %s with ID: %s", noun, m.EntityID)
	case records.KindUpdate:
		e.Action = "Updated " + m.Collection
		e.Details = fmt.Sprintf("Updated %s with ID: %s", noun, m.EntityID)
	case records.KindDelete:
		e.Action = "Deleted " + m.Collection
		e.Details = fmt.Sprintf("Deleted %s with ID: %s", noun, m.EntityID)
	default:
		e.Action = fmt.Sprintf("%s %s", m.Kind, m.Collection)
		e.Details = fmt.Sprintf("%s %s with ID: %s", m.Kind, noun, m.EntityID)
	}
	return e
}

// singular drops the trailing plural letter of a collection name.
func singular(collection string) string {
	if len(collection) < 2 {
		return collection
	}
	return collection[:len(collection)-1]
}
