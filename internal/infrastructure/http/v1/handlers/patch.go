package handlers

import (
	"github.com/gin-gonic/gin"

	"labcontrol/internal/core/tx"
	"labcontrol/internal/patch"
)

// PatchHandler reports the schema patch level.
type PatchHandler struct {
	*BaseHandler
	runner *patch.Runner
}

// NewPatchHandler creates a new patch handler.
func NewPatchHandler(base *BaseHandler, runner *patch.Runner) *PatchHandler {
	return &PatchHandler{
		BaseHandler: base,
		runner:      runner,
	}
}

// Current handles GET /patches/current
func (h *PatchHandler) Current(c *gin.Context) {
	ctx := c.Request.Context()
	t := tx.MustFromContext(ctx)

	current, err := h.runner.Current(ctx, t)
	if err != nil {
		h.Error(c, err)
		return
	}
	pending, err := h.runner.Pending(ctx, t)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, gin.H{
		"current": current,
		"pending": pending,
	})
}
