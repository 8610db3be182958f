package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/bizhub-authz/internal/infra/config"
	"github.com/arklim/bizhub-authz/internal/transport/http/handlers"
	"github.com/arklim/bizhub-authz/internal/transport/http/middleware"
	"github.com/arklim/bizhub-authz/internal/usecase"
)

// Permission codes guarding the management API.
const (
	PermissionManageCode = "authz:permission:manage"
	PermissionReadCode   = "authz:permission:read"
	GrantManageCode      = "authz:grant:manage"
	GrantReadCode        = "authz:grant:read"
	DecisionQueryCode    = "authz:decision:query"
)

// ManagementPermissions names the codes above so they can be registered at startup.
var ManagementPermissions = map[string]string{
	PermissionManageCode: "Manage permission catalog",
	PermissionReadCode:   "Read permission catalog",
	GrantManageCode:      "Manage direct grants",
	GrantReadCode:        "Read direct grants",
	DecisionQueryCode:    "Query authorization decisions",
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Verifier middleware.TokenVerifier
	Catalog  *usecase.CatalogService
	Grants   *usecase.DirectPermissionService
	Resolver *usecase.Resolver
	Metrics  *middleware.HTTPMetrics
	Gatherer prometheus.Gatherer
	Database DatabaseChecker
	Cache    CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("database", deps.Database.Ping))
	}
	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	if deps.Verifier != nil && deps.Resolver != nil {
		registerAPI(r.Group("/api/v1"), deps)
	}

	handlers.RegisterSwagger(r)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handlers.NewErrorResponse(c, "route not found"))
	})

	return r
}

func registerAPI(api *gin.RouterGroup, deps Dependencies) {
	api.Use(middleware.RequireAuth(deps.Verifier))

	require := func(code string) gin.HandlerFunc {
		return middleware.RequirePermission(deps.Resolver, code, deps.Logger)
	}

	decisions := handlers.NewDecisionHandler(deps.Resolver)
	api.POST("/decisions", require(DecisionQueryCode), decisions.Decide)
	api.GET("/users/:userId/effective-permissions", require(DecisionQueryCode), decisions.EffectivePermissions)

	if deps.Catalog != nil && deps.Grants != nil {
		permissions := handlers.NewPermissionHandler(deps.Catalog, deps.Grants)
		group := api.Group("/permissions")
		group.POST("", require(PermissionManageCode), permissions.CreatePermission)
		group.GET("", require(PermissionReadCode), permissions.ListPermissions)
		group.GET("/count", require(PermissionReadCode), permissions.CountPermissions)
		group.GET("/exists", require(PermissionReadCode), permissions.PermissionExists)
		group.GET("/by-code/:code", require(PermissionReadCode), permissions.GetPermissionByCode)
		group.GET("/:id", require(PermissionReadCode), permissions.GetPermission)
		group.PATCH("/:id", require(PermissionManageCode), permissions.UpdatePermission)
		group.DELETE("/:id", require(PermissionManageCode), permissions.DeletePermission)
		group.GET("/:id/direct-grants", require(GrantReadCode), permissions.ListPermissionGrants)
		group.DELETE("/:id/direct-grants", require(GrantManageCode), permissions.RevokePermissionFromAllUsers)
		group.GET("/:id/direct-grants/users/count", require(GrantReadCode), permissions.CountPermissionGrantUsers)
	}

	if deps.Grants != nil {
		grants := handlers.NewDirectPermissionHandler(deps.Grants)

		users := api.Group("/users/:userId/direct-permissions")
		users.POST("", require(GrantManageCode), grants.GrantPermission)
		users.GET("", require(GrantReadCode), grants.ListUserDirectPermissions)
		users.DELETE("", require(GrantManageCode), grants.RevokeAllFromUser)
		users.GET("/effects", require(GrantReadCode), grants.ListUserPermissionsWithEffects)
		users.GET("/count", require(GrantReadCode), grants.CountUserDirectPermissions)
		users.GET("/:permissionId", require(GrantReadCode), grants.GetUserDirectPermission)
		users.DELETE("/:permissionId", require(GrantManageCode), grants.RevokeUserDirectPermission)

		direct := api.Group("/direct-permissions")
		direct.POST("/batch", require(GrantManageCode), grants.GrantPermissionsBatch)
		direct.POST("/sweep", require(GrantManageCode), grants.SweepExpired)
		direct.GET("/:id", require(GrantReadCode), grants.GetDirectPermission)
		direct.PATCH("/:id", require(GrantManageCode), grants.UpdateDirectPermission)
	}
}
