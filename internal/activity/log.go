// Package activity keeps the append-only audit trail of user actions.
package activity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/celerix-dev/agricare/pkg/schema"
	"github.com/celerix-dev/agricare/pkg/sdk"
)

// Entry is one action to record.
type Entry struct {
	UserID     string
	Action     string
	Details    string
	EntityID   string
	EntityType string
}

// Log appends entries to the activityLogs collection.
type Log struct {
	db     sdk.DocumentStore
	logger *zap.SugaredLogger
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger used by best-effort appends.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(lg *Log) {
		if l != nil {
			lg.logger = l
		}
	}
}

// New returns a Log writing to db.
func New(db sdk.DocumentStore, opts ...Option) *Log {
	l := &Log{db: db, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stores e with a server timestamp. Entry ids are ULIDs, so they sort
// in creation order.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("%w: activity user id is required", sdk.ErrInvalidArgument)
	}
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("%w: activity action is required", sdk.ErrInvalidArgument)
	}

	data := map[string]any{
		"userId":     e.UserID,
		"action":     e.Action,
		"details":    e.Details,
		"entityId":   e.EntityID,
		"entityType": e.EntityType,
		"timestamp":  sdk.ServerTimestamp(),
	}
	if err := l.db.InsertAt(ctx, schema.ActivityLogs, ulid.Make().String(), data); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// Record appends e and logs instead of returning a failure.
func (l *Log) Record(ctx context.Context, e Entry) {
	if err := l.Append(ctx, e); err != nil {
		l.logger.Warnw("activity not recorded", "userId", e.UserID, "action", e.Action, "error", err)
	}
}

// ListByUser returns the entries of userID, newest first. A limit of zero or
// less returns all of them.
func (l *Log) ListByUser(ctx context.Context, userID string, limit int) ([]schema.ActivityLog, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", sdk.ErrInvalidArgument)
	}

	entries, err := sdk.ListAs[schema.ActivityLog](ctx, l.db, schema.ActivityLogs,
		sdk.Where("userId", sdk.OpEq, userID))
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return newer(entries[i], entries[j])
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// newer orders by timestamp, then by id. Entries without a timestamp sort last.
func newer(a, b schema.ActivityLog) bool {
	switch {
	case a.Timestamp != nil && b.Timestamp != nil && !a.Timestamp.Equal(*b.Timestamp):
		return a.Timestamp.After(*b.Timestamp)
	case (a.Timestamp == nil) != (b.Timestamp == nil):
		return a.Timestamp != nil
	}
	return a.ID > b.ID
}
