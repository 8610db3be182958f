package domain

import "time"

// RevocationScope describes how many grants a revoke event covers.
type RevocationScope string

const (
	RevocationScopeSingle     RevocationScope = "single"
	RevocationScopeUser       RevocationScope = "user"
	RevocationScopePermission RevocationScope = "permission"
)

// DirectPermissionGrantedEvent represents the payload for authz.direct_permission.granted messages.
type DirectPermissionGrantedEvent struct {
	EventID        string
	GrantID        string
	UserID         string
	PermissionID   string
	PermissionCode string
	Effect         Effect
	Conditions     ScalarMap
	ExpiresAt      *time.Time
	GrantedBy      *string
	GrantedAt      time.Time
}

// DirectPermissionUpdatedEvent represents the payload for authz.direct_permission.updated messages.
type DirectPermissionUpdatedEvent struct {
	EventID      string
	GrantID      string
	UserID       string
	PermissionID string
	Effect       Effect
	Conditions   ScalarMap
	ExpiresAt    *time.Time
	UpdatedBy    string
	UpdatedAt    time.Time
}

// DirectPermissionRevokedEvent represents the payload for authz.direct_permission.revoked messages.
type DirectPermissionRevokedEvent struct {
	EventID      string
	Scope        RevocationScope
	UserID       string
	PermissionID string
	Count        int
	RevokedBy    string
	RevokedAt    time.Time
}

// DirectPermissionsExpiredEvent represents the payload for authz.direct_permission.expired messages.
type DirectPermissionsExpiredEvent struct {
	EventID string
	Count   int
	SweptAt time.Time
}

// PermissionDeletedEvent represents the payload for authz.permission.deleted messages.
type PermissionDeletedEvent struct {
	EventID      string
	PermissionID string
	Code         string
	DeletedBy    string
	DeletedAt    time.Time
}

// RoleMembershipChangedEvent is consumed from the role subsystem; it signals
// that a user's role-derived permissions may have changed.
type RoleMembershipChangedEvent struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	RoleIDs   []string  `json:"role_ids,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}
