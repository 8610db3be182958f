package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/infra/logger"
	"github.com/arklim/bizhub-authz/internal/infra/security"
	"github.com/arklim/bizhub-authz/internal/usecase"
)

const (
	claimsKey = "claims"

	notAuthorizedMessage = "not authorized"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (*security.AccessTokenClaims, error)
}

// Decider answers authorization questions.
type Decider interface {
	Decide(ctx context.Context, userID, permissionCode string, reqCtx domain.ScalarMap) (domain.Decision, error)
}

// RequireAuth validates the Authorization header and attaches the caller to the request.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing access token"))
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			if errors.Is(err, security.ErrInvalidToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid access token"))
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				newErrorResponse(c, "authentication failed"))
			return
		}

		userID := claims.ActorID()
		c.Set(UserIDKey, userID)
		c.Set(TenantIDKey, claims.TenantID)
		c.Set(claimsKey, claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = userID
			reqCtx.TenantID = claims.TenantID
		}

		ctx := usecase.WithActor(c.Request.Context(), userID)
		ctx = context.WithValue(ctx, logger.ActorKey{}, userID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequirePermission lets the request through only when the resolver allows the
// authenticated caller to exercise code. Every refusal, including resolver
// failures, produces the same generic 403.
func RequirePermission(decider Decider, code string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		userID, ok := GetAuthenticatedUserID(c)
		if !ok || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		decision, err := decider.Decide(c.Request.Context(), userID, code, DecisionContext(c))
		if err != nil {
			log.Warn("authorization check failed",
				zap.String("permission_code", code),
				zap.String("trace_id", GetTraceID(c)),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, notAuthorizedMessage))
			return
		}

		if !decision.Allowed {
			log.Debug("authorization denied",
				zap.String("permission_code", code),
				zap.String("reason", string(decision.Reason)),
				zap.String("trace_id", GetTraceID(c)),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, notAuthorizedMessage))
			return
		}

		c.Next()
	}
}

// DecisionContext builds the condition context for the current request.
func DecisionContext(c *gin.Context) domain.ScalarMap {
	userID, _ := GetAuthenticatedUserID(c)
	return domain.CallerContext(userID, c.GetString(TenantIDKey), c.Param("userId"))
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}
