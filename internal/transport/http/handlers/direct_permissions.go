package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/transport/http/middleware"
	"github.com/arklim/bizhub-authz/internal/usecase"
)

// DirectPermissionHandler serves per-user grant management.
type DirectPermissionHandler struct {
	grants *usecase.DirectPermissionService
}

// NewDirectPermissionHandler constructs a DirectPermissionHandler.
func NewDirectPermissionHandler(grants *usecase.DirectPermissionService) *DirectPermissionHandler {
	return &DirectPermissionHandler{grants: grants}
}

// GrantPermission godoc
// @Summary Grant a permission to a user
// @Description Creates an ALLOW or DENY override. An expired grant for the same pair is replaced.
// @Tags DirectPermissions
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param userId path string true "User ID"
// @Param request body GrantRequest true "Grant request"
// @Success 201 {object} DirectPermissionPayload
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/users/{userId}/direct-permissions [post]
func (h *DirectPermissionHandler) GrantPermission(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid grant payload"))
		return
	}

	grant, err := h.grants.Grant(c.Request.Context(), grantInput(c, c.Param("userId"), req))
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to grant permission")
		return
	}
	c.JSON(http.StatusCreated, newDirectPermissionPayload(*grant))
}

// GrantPermissionsBatch godoc
// @Summary Grant permissions in bulk
// @Description Pairs that already hold a grant are skipped. Any invalid entry rejects the batch.
// @Tags DirectPermissions
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param request body BatchGrantRequest true "Batch grant request"
// @Success 200 {object} CountResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/direct-permissions/batch [post]
func (h *DirectPermissionHandler) GrantPermissionsBatch(c *gin.Context) {
	var req BatchGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid batch payload"))
		return
	}

	inputs := make([]usecase.GrantInput, 0, len(req.Grants))
	for _, item := range req.Grants {
		inputs = append(inputs, grantInput(c, item.UserID, item.GrantRequest))
	}

	count, err := h.grants.GrantMany(c.Request.Context(), inputs)
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to grant permissions")
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// ListUserDirectPermissions godoc
// @Summary List a user's direct grants
// @Tags DirectPermissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param userId path string true "User ID"
// @Param include_expired query bool false "Include expired grants"
// @Param effect query string false "ALLOW or DENY"
// @Success 200 {object} DirectPermissionListResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/users/{userId}/direct-permissions [get]
func (h *DirectPermissionHandler) ListUserDirectPermissions(c *gin.Context) {
	var opts usecase.ListDirectPermissionsOptions
	if raw := strings.TrimSpace(c.Query("include_expired")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "include_expired must be a boolean"))
			return
		}
		opts.IncludeExpired = value
	}
	if raw := strings.TrimSpace(c.Query("effect")); raw != "" {
		effect, err := domain.ParseEffect(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "effect must be ALLOW or DENY"))
			return
		}
		opts.Effect = &effect
	}

	grants, err := h.grants.ListByUserID(c.Request.Context(), c.Param("userId"), opts)
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to list direct permissions")
		return
	}
	c.JSON(http.StatusOK, newDirectPermissionList(grants))
}

// ListUserPermissionsWithEffects godoc
// @Summary List a user's active grants joined with their permissions
// @Tags DirectPermissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param userId path string true "User ID"
// @Success 200 {object} PermissionsWithEffectsResponse
// @Router /api/v1/users/{userId}/direct-permissions/effects [get]
func (h *DirectPermissionHandler) ListUserPermissionsWithEffects(c *gin.Context) {
	items, err := h.grants.ListUserPermissionsWithEffects(c.Request.Context(), c.Param("userId"))
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to list direct permissions")
		return
	}

	resp := PermissionsWithEffectsResponse{Items: make([]PermissionWithEffectPayload, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, PermissionWithEffectPayload{
			GrantID:    item.GrantID,
			Permission: newPermissionPayload(item.Permission),
			Effect:     item.Effect,
			Conditions: item.Conditions,
			ExpiresAt:  item.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// CountUserDirectPermissions godoc
// @Summary Count a user's active direct grants
// @Tags DirectPermissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param userId path string true "User ID"
// @Success 200 {object} CountResponse
// @Router /api/v1/users/{userId}/direct-permissions/count [get]
func (h *DirectPermissionHandler) CountUserDirectPermissions(c *gin.Context) {
	count, err := h.grants.CountByUserID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to count direct permissions")
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// RevokeAllFromUser godoc
// @Summary Revoke every direct grant held by a user
// @Tags DirectPermissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param userId path string true "User ID"
// @Success 200 {object} CountResponse
// @Router /api/v1/users/{userId}/direct-permissions [delete]
func (h *DirectPermissionHandler) RevokeAllFromUser(c *gin.Context) {
	count, err := h.grants.RevokeAllFromUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to revoke direct permissions")
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// GetUserDirectPermission godoc
// @Summary Get the grant a user holds for a permission
// @Tags DirectPermissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param userId path string true "User ID"
// @Param permissionId path string true "Permission ID"
// @Success 200 {object} DirectPermissionPayload
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/users/{userId}/direct-permissions/{permissionId} [get]
func (h *DirectPermissionHandler) GetUserDirectPermission(c *gin.Context) {
	grant, err := h.grants.FindByUserAndPermission(c.Request.Context(), c.Param("userId"), c.Param("permissionId"))
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to load direct permission")
		return
	}
	c.JSON(http.StatusOK, newDirectPermissionPayload(*grant))
}

// RevokeUserDirectPermission godoc
// @Summary Revoke the grant a user holds for a permission
// @Tags DirectPermissions
// @Param Authorization header string true "Bearer access token"
// @Param userId path string true "User ID"
// @Param permissionId path string true "Permission ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/users/{userId}/direct-permissions/{permissionId} [delete]
func (h *DirectPermissionHandler) RevokeUserDirectPermission(c *gin.Context) {
	if err := h.grants.Revoke(c.Request.Context(), c.Param("userId"), c.Param("permissionId")); err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to revoke direct permission")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetDirectPermission godoc
// @Summary Get a direct grant by id
// @Tags DirectPermissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param id path string true "Grant ID"
// @Success 200 {object} DirectPermissionPayload
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/direct-permissions/{id} [get]
func (h *DirectPermissionHandler) GetDirectPermission(c *gin.Context) {
	grant, err := h.grants.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to load direct permission")
		return
	}
	c.JSON(http.StatusOK, newDirectPermissionPayload(*grant))
}

// UpdateDirectPermission godoc
// @Summary Update a direct grant
// @Description Changes effect, conditions or expiry. User, permission and grantor are immutable.
// @Tags DirectPermissions
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param id path string true "Grant ID"
// @Param request body DirectPermissionUpdateRequest true "Grant update request"
// @Success 200 {object} DirectPermissionPayload
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/direct-permissions/{id} [patch]
func (h *DirectPermissionHandler) UpdateDirectPermission(c *gin.Context) {
	var req DirectPermissionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid grant payload"))
		return
	}

	grant, err := h.grants.Update(c.Request.Context(), usecase.UpdateDirectPermissionInput{
		ID:           c.Param("id"),
		Effect:       req.Effect,
		Conditions:   req.Conditions,
		ExpiresAt:    req.ExpiresAt,
		UserID:       req.UserID,
		PermissionID: req.PermissionID,
		GrantedBy:    req.GrantedBy,
	})
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to update direct permission")
		return
	}
	c.JSON(http.StatusOK, newDirectPermissionPayload(*grant))
}

// SweepExpired godoc
// @Summary Delete every expired direct grant
// @Tags DirectPermissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Success 200 {object} CountResponse
// @Router /api/v1/direct-permissions/sweep [post]
func (h *DirectPermissionHandler) SweepExpired(c *gin.Context) {
	count, err := h.grants.RevokeExpired(c.Request.Context())
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to sweep expired grants")
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

func grantInput(c *gin.Context, userID string, req GrantRequest) usecase.GrantInput {
	input := usecase.GrantInput{
		UserID:       userID,
		PermissionID: req.PermissionID,
		Effect:       domain.Effect(req.Effect),
		Conditions:   req.Conditions,
		ExpiresAt:    req.ExpiresAt,
	}
	if actorID, ok := middleware.GetAuthenticatedUserID(c); ok && actorID != "" {
		input.GrantedBy = &actorID
	}
	return input
}
