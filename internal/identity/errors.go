package identity

import (
	"errors"

	"github.com/celerix-dev/agricare/pkg/sdk"
)

var (
	ErrEmailInUse          = errors.New("email already in use")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrWeakPassword        = errors.New("weak password")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrTooManyRequests     = errors.New("too many requests")
	ErrMisconfigured       = errors.New("identity provider misconfigured")
	ErrOperationNotAllowed = errors.New("operation not allowed")
	ErrUserDisabled        = errors.New("user disabled")
	ErrNotAdmin            = errors.New("admin privileges required")
	// ErrNoSession means the request carries no valid identity.
	ErrNoSession = errors.New("no session")
)

// Message translates an identity error into the text shown to the user.
// Unknown errors keep their own message.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmailInUse):
		return "This email is already in use"
	case errors.Is(err, ErrInvalidEmail):
		return "Invalid email address"
	case errors.Is(err, ErrWeakPassword):
		return "Password is too weak"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrTooManyRequests):
		return "Too many attempts. Please try again later"
	case errors.Is(err, sdk.ErrUnavailable):
		return "Network error. Please check your connection"
	case errors.Is(err, ErrMisconfigured):
		return "Authentication service is misconfigured. Please contact support"
	case errors.Is(err, ErrOperationNotAllowed):
		return "This authentication method is not enabled"
	case errors.Is(err, ErrUserDisabled):
		return "This account has been disabled"
	case errors.Is(err, ErrNotAdmin):
		return "Access denied: You don't have admin privileges"
	case errors.Is(err, ErrNoSession):
		return "You must be logged in"
	default:
		return err.Error()
	}
}
