package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/bizhub-authz/internal/usecase"
)

// PermissionHandler serves the permission catalog.
type PermissionHandler struct {
	catalog *usecase.CatalogService
	grants  *usecase.DirectPermissionService
}

// NewPermissionHandler constructs a PermissionHandler.
func NewPermissionHandler(catalog *usecase.CatalogService, grants *usecase.DirectPermissionService) *PermissionHandler {
	return &PermissionHandler{catalog: catalog, grants: grants}
}

// CreatePermission godoc
// @Summary Create a permission
// @Description Registers a catalog entry. The code is derived from module, resource and action when omitted.
// @Tags Permissions
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param request body PermissionCreateRequest true "Permission create request"
// @Success 201 {object} PermissionPayload
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/permissions [post]
func (h *PermissionHandler) CreatePermission(c *gin.Context) {
	var req PermissionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid permission payload"))
		return
	}

	permission, err := h.catalog.Create(c.Request.Context(), usecase.CreatePermissionInput{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Module:      req.Module,
		Resource:    req.Resource,
		Action:      req.Action,
		IsSystem:    req.IsSystem,
		Metadata:    req.Metadata,
	})
	if err != nil {
		RespondWithMappedError(c, err, permissionErrorCases, http.StatusInternalServerError, "failed to create permission")
		return
	}

	c.JSON(http.StatusCreated, newPermissionPayload(*permission))
}

// ListPermissions godoc
// @Summary List permissions
// @Tags Permissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param module query string false "Module filter"
// @Param resource query string false "Resource filter"
// @Param action query string false "Action filter"
// @Param is_system query bool false "System flag filter"
// @Param page query int false "1-based page"
// @Param limit query int false "Page size"
// @Success 200 {object} PermissionListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/permissions [get]
func (h *PermissionHandler) ListPermissions(c *gin.Context) {
	filter, ok := bindPermissionFilter(c)
	if !ok {
		return
	}

	page, err := queryInt(c, "page")
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "page must be an integer"))
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "limit must be an integer"))
		return
	}

	result, err := h.catalog.List(c.Request.Context(), usecase.ListPermissionsInput{
		PermissionFilterInput: filter,
		Page:                  page,
		Limit:                 limit,
	})
	if err != nil {
		RespondWithMappedError(c, err, permissionErrorCases, http.StatusInternalServerError, "failed to list permissions")
		return
	}

	c.JSON(http.StatusOK, PermissionListResponse{
		Permissions: newPermissionPayloads(result.Permissions),
		Total:       result.Total,
		Page:        result.Page,
		Limit:       result.Limit,
	})
}

// CountPermissions godoc
// @Summary Count permissions
// @Tags Permissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Success 200 {object} CountResponse
// @Router /api/v1/permissions/count [get]
func (h *PermissionHandler) CountPermissions(c *gin.Context) {
	filter, ok := bindPermissionFilter(c)
	if !ok {
		return
	}

	count, err := h.catalog.Count(c.Request.Context(), filter)
	if err != nil {
		RespondWithMappedError(c, err, permissionErrorCases, http.StatusInternalServerError, "failed to count permissions")
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// PermissionExists godoc
// @Summary Check whether a permission code exists
// @Tags Permissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param code query string true "Permission code"
// @Success 200 {object} ExistsResponse
// @Router /api/v1/permissions/exists [get]
func (h *PermissionHandler) PermissionExists(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "code is required"))
		return
	}

	exists, err := h.catalog.Exists(c.Request.Context(), code)
	if err != nil {
		RespondWithMappedError(c, err, permissionErrorCases, http.StatusInternalServerError, "failed to check permission")
		return
	}
	c.JSON(http.StatusOK, ExistsResponse{Exists: exists})
}

// GetPermission godoc
// @Summary Get a permission by id
// @Tags Permissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param id path string true "Permission ID"
// @Success 200 {object} PermissionPayload
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/permissions/{id} [get]
func (h *PermissionHandler) GetPermission(c *gin.Context) {
	permission, err := h.catalog.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, permissionErrorCases, http.StatusInternalServerError, "failed to load permission")
		return
	}
	c.JSON(http.StatusOK, newPermissionPayload(*permission))
}

// GetPermissionByCode godoc
// @Summary Get a permission by code
// @Tags Permissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param code path string true "Permission code"
// @Success 200 {object} PermissionPayload
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/permissions/by-code/{code} [get]
func (h *PermissionHandler) GetPermissionByCode(c *gin.Context) {
	permission, err := h.catalog.FindByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		RespondWithMappedError(c, err, permissionErrorCases, http.StatusInternalServerError, "failed to load permission")
		return
	}
	c.JSON(http.StatusOK, newPermissionPayload(*permission))
}

// UpdatePermission godoc
// @Summary Update a permission
// @Description Changes name, description or metadata. Identity fields and the system flag are immutable.
// @Tags Permissions
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param id path string true "Permission ID"
// @Param request body PermissionUpdateRequest true "Permission update request"
// @Success 200 {object} PermissionPayload
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/permissions/{id} [patch]
func (h *PermissionHandler) UpdatePermission(c *gin.Context) {
	var req PermissionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid permission payload"))
		return
	}

	permission, err := h.catalog.Update(c.Request.Context(), usecase.UpdatePermissionInput{
		ID:          c.Param("id"),
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
		Code:        req.Code,
		Module:      req.Module,
		Resource:    req.Resource,
		Action:      req.Action,
		IsSystem:    req.IsSystem,
	})
	if err != nil {
		RespondWithMappedError(c, err, permissionErrorCases, http.StatusInternalServerError, "failed to update permission")
		return
	}
	c.JSON(http.StatusOK, newPermissionPayload(*permission))
}

// DeletePermission godoc
// @Summary Delete a permission
// @Description System permissions and permissions still referenced by direct grants cannot be deleted.
// @Tags Permissions
// @Param Authorization header string true "Bearer access token"
// @Param id path string true "Permission ID"
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/permissions/{id} [delete]
func (h *PermissionHandler) DeletePermission(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		RespondWithMappedError(c, err, permissionErrorCases, http.StatusInternalServerError, "failed to delete permission")
		return
	}
	c.Status(http.StatusNoContent)
}

// ListPermissionGrants godoc
// @Summary List direct grants referencing a permission
// @Tags Permissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param id path string true "Permission ID"
// @Success 200 {object} DirectPermissionListResponse
// @Router /api/v1/permissions/{id}/direct-grants [get]
func (h *PermissionHandler) ListPermissionGrants(c *gin.Context) {
	grants, err := h.grants.ListByPermissionID(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to list direct permissions")
		return
	}
	c.JSON(http.StatusOK, newDirectPermissionList(grants))
}

// CountPermissionGrantUsers godoc
// @Summary Count users holding an active direct grant for a permission
// @Tags Permissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param id path string true "Permission ID"
// @Success 200 {object} CountResponse
// @Router /api/v1/permissions/{id}/direct-grants/users/count [get]
func (h *PermissionHandler) CountPermissionGrantUsers(c *gin.Context) {
	count, err := h.grants.CountUsersWithPermission(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to count users")
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// RevokePermissionFromAllUsers godoc
// @Summary Revoke a permission from every user holding it directly
// @Tags Permissions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param id path string true "Permission ID"
// @Success 200 {object} CountResponse
// @Router /api/v1/permissions/{id}/direct-grants [delete]
func (h *PermissionHandler) RevokePermissionFromAllUsers(c *gin.Context) {
	count, err := h.grants.RevokePermissionFromAllUsers(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondWithMappedError(c, err, grantErrorCases, http.StatusInternalServerError, "failed to revoke direct permissions")
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

func bindPermissionFilter(c *gin.Context) (usecase.PermissionFilterInput, bool) {
	filter := usecase.PermissionFilterInput{
		Module:   c.Query("module"),
		Resource: c.Query("resource"),
		Action:   c.Query("action"),
	}
	if raw := strings.TrimSpace(c.Query("is_system")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "is_system must be a boolean"))
			return filter, false
		}
		filter.IsSystem = &value
	}
	return filter, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
