package schema

import "time"

// ActivityLog is an append-only audit entry.
type ActivityLog struct {
	ID         string     `json:"id,omitempty"`
	UserID     string     `json:"userId"`
	Action     string     `json:"action"`
	Details    string     `json:"details"`
	EntityID   string     `json:"entityId,omitempty"`
	EntityType string     `json:"entityType,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// UserProfile is stored in the users collection under the user's uid.
// PasswordHash never leaves the server; use Public before serialising a
// profile to a client.
type UserProfile struct {
	Meta
	UID          string     `json:"uid"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"displayName,omitempty"`
	PhoneNumber  string     `json:"phoneNumber,omitempty"`
	Address      string     `json:"address,omitempty"`
	Disabled     bool       `json:"disabled,omitempty"`
	LastUpdated  *time.Time `json:"lastUpdated,omitempty"`
	PasswordHash string     `json:"passwordHash,omitempty"`
}

// Public returns a copy without server-only fields.
func (u UserProfile) Public() UserProfile {
	u.PasswordHash = ""
	return u
}
