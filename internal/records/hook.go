package records

import "context"

// Kind names a successful write.
type Kind string

const (
	KindCreate       Kind = "create"
	KindCreateWithID Kind = "create_with_id"
	KindUpdate       Kind = "update"
	KindDelete       Kind = "delete"
)

// Mutation describes a write that has already been applied.
type Mutation struct {
	Kind         Kind
	Collection   string
	EntityID     string
	ActingUserID string
}

// Hook is notified after every successful write performed on behalf of a user.
// Its errors are logged and counted by the store but never reach the caller.
type Hook interface {
	AfterMutation(ctx context.Context, m Mutation) error
}

// HookFunc adapts a function into a Hook.
type HookFunc func(ctx context.Context, m Mutation) error

func (f HookFunc) AfterMutation(ctx context.Context, m Mutation) error {
	return f(ctx, m)
}
