package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/bizhub-authz/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: c.GetString("trace_id"),
	}
}

// HealthResponse is returned by liveness and readiness probes.
type HealthResponse struct {
	Status    string            `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// CountResponse wraps a single count.
type CountResponse struct {
	Count int `json:"count"`
}

// ExistsResponse wraps a presence check.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// PermissionPayload describes a catalog entry.
type PermissionPayload struct {
	ID          string           `json:"id"`
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Description *string          `json:"description,omitempty"`
	Module      string           `json:"module"`
	Resource    string           `json:"resource"`
	Action      string           `json:"action"`
	IsSystem    bool             `json:"is_system"`
	Metadata    domain.ScalarMap `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// PermissionCreateRequest is the payload for creating a permission.
// Code may be omitted; it is derived from module, resource and action.
type PermissionCreateRequest struct {
	Code        string           `json:"code"`
	Name        string           `json:"name" binding:"required"`
	Description *string          `json:"description"`
	Module      string           `json:"module"`
	Resource    string           `json:"resource"`
	Action      string           `json:"action"`
	IsSystem    bool             `json:"is_system"`
	Metadata    domain.ScalarMap `json:"metadata"`
}

// PermissionUpdateRequest is a partial update. Absent fields are left unchanged
// and null clears optional fields.
type PermissionUpdateRequest struct {
	Name        domain.Patch[string]           `json:"name" swaggertype:"string"`
	Description domain.Patch[string]           `json:"description" swaggertype:"string"`
	Metadata    domain.Patch[domain.ScalarMap] `json:"metadata" swaggertype:"object"`
	Code        domain.Patch[string]           `json:"code" swaggertype:"string"`
	Module      domain.Patch[string]           `json:"module" swaggertype:"string"`
	Resource    domain.Patch[string]           `json:"resource" swaggertype:"string"`
	Action      domain.Patch[string]           `json:"action" swaggertype:"string"`
	IsSystem    domain.Patch[bool]             `json:"is_system" swaggertype:"boolean"`
}

// PermissionListResponse is a page of permissions.
type PermissionListResponse struct {
	Permissions []PermissionPayload `json:"permissions"`
	Total       int                 `json:"total"`
	Page        int                 `json:"page"`
	Limit       int                 `json:"limit"`
}

// DirectPermissionPayload describes a per-user grant.
type DirectPermissionPayload struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	PermissionID string           `json:"permission_id"`
	Effect       domain.Effect    `json:"effect"`
	Conditions   domain.ScalarMap `json:"conditions,omitempty"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	GrantedBy    *string          `json:"granted_by,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// DirectPermissionListResponse wraps a list of grants.
type DirectPermissionListResponse struct {
	DirectPermissions []DirectPermissionPayload `json:"direct_permissions"`
}

// GrantRequest is the payload for granting a permission to a user.
type GrantRequest struct {
	PermissionID string           `json:"permission_id" binding:"required"`
	Effect       string           `json:"effect"`
	Conditions   domain.ScalarMap `json:"conditions"`
	ExpiresAt    *time.Time       `json:"expires_at"`
}

// BatchGrantItem is one entry of a bulk grant.
type BatchGrantItem struct {
	UserID string `json:"user_id" binding:"required"`
	GrantRequest
}

// BatchGrantRequest is the payload for bulk grants.
type BatchGrantRequest struct {
	Grants []BatchGrantItem `json:"grants" binding:"required,dive"`
}

// DirectPermissionUpdateRequest is a partial grant update.
type DirectPermissionUpdateRequest struct {
	Effect       domain.Patch[domain.Effect]    `json:"effect" swaggertype:"string"`
	Conditions   domain.Patch[domain.ScalarMap] `json:"conditions" swaggertype:"object"`
	ExpiresAt    domain.Patch[time.Time]        `json:"expires_at" swaggertype:"string"`
	UserID       domain.Patch[string]           `json:"user_id" swaggertype:"string"`
	PermissionID domain.Patch[string]           `json:"permission_id" swaggertype:"string"`
	GrantedBy    domain.Patch[string]           `json:"granted_by" swaggertype:"string"`
}

// PermissionWithEffectPayload joins an active grant with its permission.
type PermissionWithEffectPayload struct {
	GrantID    string            `json:"grant_id"`
	Permission PermissionPayload `json:"permission"`
	Effect     domain.Effect     `json:"effect"`
	Conditions domain.ScalarMap  `json:"conditions,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
}

// PermissionsWithEffectsResponse wraps a user's active grants joined with permissions.
type PermissionsWithEffectsResponse struct {
	Items []PermissionWithEffectPayload `json:"items"`
}

// DecisionRequest asks whether a user may exercise a permission.
type DecisionRequest struct {
	UserID         string           `json:"user_id" binding:"required"`
	PermissionCode string           `json:"permission_code" binding:"required"`
	Context        domain.ScalarMap `json:"context"`
}

// DecisionResponse carries the answer only; the reason stays server-side.
type DecisionResponse struct {
	Allowed bool `json:"allowed"`
}

// EffectivePermissionsResponse lists the codes a user holds without request context.
type EffectivePermissionsResponse struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

func newPermissionPayload(p domain.Permission) PermissionPayload {
	return PermissionPayload{
		ID:          p.ID,
		Code:        p.Code,
		Name:        p.Name,
		Description: p.Description,
		Module:      p.Module,
		Resource:    p.Resource,
		Action:      p.Action,
		IsSystem:    p.IsSystem,
		Metadata:    p.Metadata,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func newPermissionPayloads(items []domain.Permission) []PermissionPayload {
	out := make([]PermissionPayload, 0, len(items))
	for _, item := range items {
		out = append(out, newPermissionPayload(item))
	}
	return out
}

func newDirectPermissionPayload(g domain.DirectPermission) DirectPermissionPayload {
	return DirectPermissionPayload{
		ID:           g.ID,
		UserID:       g.UserID,
		PermissionID: g.PermissionID,
		Effect:       g.Effect,
		Conditions:   g.Conditions,
		ExpiresAt:    g.ExpiresAt,
		GrantedBy:    g.GrantedBy,
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
	}
}

func newDirectPermissionList(items []domain.DirectPermission) DirectPermissionListResponse {
	out := make([]DirectPermissionPayload, 0, len(items))
	for _, item := range items {
		out = append(out, newDirectPermissionPayload(item))
	}
	return DirectPermissionListResponse{DirectPermissions: out}
}
