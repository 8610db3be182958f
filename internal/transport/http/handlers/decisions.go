package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/bizhub-authz/internal/usecase"
)

// DecisionHandler answers authorization queries for other services.
type DecisionHandler struct {
	resolver *usecase.Resolver
}

// NewDecisionHandler constructs a DecisionHandler.
func NewDecisionHandler(resolver *usecase.Resolver) *DecisionHandler {
	return &DecisionHandler{resolver: resolver}
}

// Decide godoc
// @Summary Check whether a user holds a permission
// @Description Returns only the verdict. The decision reason is recorded in metrics and logs.
// @Tags Decisions
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param request body DecisionRequest true "Decision request"
// @Success 200 {object} DecisionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/decisions [post]
func (h *DecisionHandler) Decide(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid decision payload"))
		return
	}

	decision, err := h.resolver.Decide(c.Request.Context(), req.UserID, req.PermissionCode, req.Context)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{infrastructureCase}, http.StatusInternalServerError, "failed to evaluate permission")
		return
	}
	c.JSON(http.StatusOK, DecisionResponse{Allowed: decision.Allowed})
}

// EffectivePermissions godoc
// @Summary List the codes a user holds without request context
// @Description Role codes plus unconditional direct allows, minus any code with a direct deny.
// @Tags Decisions
// @Produce json
// @Param Authorization header string true "Bearer access token"
// @Param userId path string true "User ID"
// @Success 200 {object} EffectivePermissionsResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/users/{userId}/effective-permissions [get]
func (h *DecisionHandler) EffectivePermissions(c *gin.Context) {
	userID := c.Param("userId")
	codes, err := h.resolver.EffectivePermissions(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{infrastructureCase}, http.StatusInternalServerError, "failed to resolve permissions")
		return
	}
	if codes == nil {
		codes = []string{}
	}
	c.JSON(http.StatusOK, EffectivePermissionsResponse{UserID: userID, Permissions: codes})
}
