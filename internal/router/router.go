// Package router wires handlers and middleware onto the Echo instance.
package router

import (
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/marketplace-api/internal/authz"
	"github.com/iliyamo/marketplace-api/internal/config"
	"github.com/iliyamo/marketplace-api/internal/handler"
	"github.com/iliyamo/marketplace-api/internal/logger"
	"github.com/iliyamo/marketplace-api/internal/middleware"
	"github.com/iliyamo/marketplace-api/internal/model"
)

// Deps is everything the routes need.  Redis may be nil, in which case
// rate limiting and response caching are pass-through.
type Deps struct {
	Log       *slog.Logger
	DB        *sql.DB
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig

	Gate     *authz.Gate
	Auth     *handler.AuthHandler
	Reviews  *handler.ReviewHandler
	Products *handler.ProductHandler
	Admin    *handler.AdminHandler
}

// New builds the Echo instance with global middleware and every route.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler(e)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(d.Log))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURIPath:  true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			l := logger.From(c.Request().Context())
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("err", v.Error.Error()))
			}
			l.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	}))

	RegisterRoutes(e, d.DB)
	RegisterAuth(e, d)
	RegisterMarketplace(e, d)
	return e
}

// requestLogger puts a request-scoped logger carrying the request id into
// the context.
func requestLogger(base *slog.Logger) echo.MiddlewareFunc {
	if base == nil {
		base = slog.Default()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			l := base.With(slog.String("request_id", rid))
			req := c.Request()
			c.SetRequest(req.WithContext(logger.Into(req.Context(), l)))
			return next(c)
		}
	}
}

// RegisterRoutes registers unauthenticated infrastructure routes.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAuth registers the credential endpoints under /v1/auth, behind
// the stricter auth bucket, and the session endpoints under /v1.
func RegisterAuth(e *echo.Echo, d Deps) {
	a := d.Auth
	authLimit := middleware.NewTokenBucket(d.RateLimit.ForAuth(), d.Redis).Middleware()

	g := e.Group("/v1/auth", authLimit)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// Logout only needs the refresh token being revoked, not an access token.
	g.POST("/logout", a.Logout)
	e.POST("/v1/logout", a.Logout, authLimit)

	authed := middleware.Chain(d.Gate)
	e.GET("/v1/me", a.Me, authed...)
	e.POST("/v1/logout-all", a.LogoutAll, authed...)
}

// RegisterMarketplace registers product, review and admin routes.  Public
// reads go through the response cache; writes go through the gate.
func RegisterMarketplace(e *echo.Echo, d Deps) {
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis).Middleware()
	cache := middleware.NewRedisCache(d.Cache, d.Redis)

	v1 := e.Group("/v1", limit)

	v1.GET("/products/:id", d.Products.Get, cache)
	v1.POST("/products", d.Products.Create, middleware.Chain(d.Gate, model.RoleSeller, model.RoleAdmin)...)
	v1.DELETE("/products/:id", d.Products.Deactivate, middleware.Chain(d.Gate, model.RoleSeller, model.RoleAdmin)...)

	v1.GET("/reviews", d.Reviews.List, cache)
	v1.POST("/reviews", d.Reviews.Create, middleware.Chain(d.Gate, model.RoleBuyer)...)
	v1.PATCH("/reviews/:id", d.Reviews.Update, middleware.Chain(d.Gate)...)
	v1.DELETE("/reviews/:id", d.Reviews.Deactivate, middleware.Chain(d.Gate)...)

	admin := v1.Group("/admin", middleware.Chain(d.Gate, model.RoleAdmin)...)
	admin.PATCH("/users/:id/status", d.Admin.SetUserStatus)
}
