// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"labcontrol/internal/core/tx"
)

// AppInfo describes the running build.
type AppInfo struct {
	Name    string
	Version string
	Driver  string
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	info AppInfo
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(info AppInfo) *HealthHandler {
	return &HealthHandler{info: info}
}

// Live handles liveness probe (is the process alive?).
// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready handles readiness probe (is the service ready to accept traffic?).
// It runs a trivial statement through the request Transaction, so the
// connection path used by real requests is the one being checked.
// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	t := tx.MustFromContext(ctx)

	err := t.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := t.Add("SELECT 1", nil); err != nil {
			return err
		}
		_, err := t.ExecuteFetchLastValue(ctx)
		return err
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "error",
			"checks": map[string]string{
				"database": "unhealthy: " + err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"checks": map[string]string{
			"database": "healthy",
		},
	})
}

// Info returns application information.
// GET /health/info
func (h *HealthHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":     h.info.Name,
		"version": h.info.Version,
		"driver":  h.info.Driver,
	})
}
