package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEffect indicates an effect other than ALLOW or DENY.
var ErrInvalidEffect = errors.New("invalid effect")

// Effect is the polarity of a direct grant.
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// ParseEffect normalises textual input into an Effect.
func ParseEffect(value string) (Effect, error) {
	switch Effect(strings.ToUpper(strings.TrimSpace(value))) {
	case EffectAllow:
		return EffectAllow, nil
	case EffectDeny:
		return EffectDeny, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEffect, value)
	}
}

// Valid reports whether the effect is ALLOW or DENY.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// DirectPermission is a per-user override layered on top of role grants.
// UserID, PermissionID, GrantedBy and CreatedAt identify the grant and never change.
type DirectPermission struct {
	ID           string
	UserID       string
	PermissionID string
	Effect       Effect
	Conditions   ScalarMap
	ExpiresAt    *time.Time
	GrantedBy    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsExpired reports whether the grant has expired at now. A grant expiring
// exactly at now is expired.
func (g DirectPermission) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// IsActive is the inverse of IsExpired.
func (g DirectPermission) IsActive(now time.Time) bool {
	return !g.IsExpired(now)
}

// PermissionWithEffect joins an active direct grant with its permission.
type PermissionWithEffect struct {
	GrantID    string
	Permission Permission
	Effect     Effect
	Conditions ScalarMap
	ExpiresAt  *time.Time
}
