// Package v1 provides HTTP API version 1.
package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"labcontrol/internal/core/tx"
	"labcontrol/internal/domain/lab"
	"labcontrol/internal/infrastructure/http/v1/handlers"
	"labcontrol/internal/infrastructure/http/v1/middleware"
	"labcontrol/internal/patch"
	"labcontrol/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// NewTransaction creates the Transaction of one request
	NewTransaction func() *tx.Transaction

	// Logger for request logging
	Logger *logger.Logger

	// Lab serves plates, compositions and users
	Lab *lab.Service

	// Patches reports the schema patch level
	Patches *patch.Runner

	// Metrics, when set, is served on /metrics
	Metrics http.Handler

	// Info is reported by /health/info
	Info handlers.AppInfo
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	perRequest := middleware.Transaction(cfg.NewTransaction)

	healthHandler := handlers.NewHealthHandler(cfg.Info)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/info", healthHandler.Info)
		health.GET("/ready", perRequest, healthHandler.Ready)
	}

	v1 := router.Group("/api/v1")
	v1.Use(perRequest)
	{
		base := handlers.NewBaseHandler()

		handlers.NewPlateHandler(base, cfg.Lab).RegisterRoutes(v1.Group("/plates"))

		users := handlers.NewUserHandler(base, cfg.Lab)
		v1.POST("/users", users.Register)
		v1.POST("/auth/login", users.Login)

		if cfg.Patches != nil {
			patches := handlers.NewPatchHandler(base, cfg.Patches)
			v1.GET("/patches/current", patches.Current)
		}
	}

	return router
}
