package handlers

import (
	"github.com/gin-gonic/gin"

	"labcontrol/internal/domain/lab"
	"labcontrol/internal/infrastructure/http/v1/dto"
)

// PlateHandler handles plate and composition endpoints.
type PlateHandler struct {
	*BaseHandler
	service *lab.Service
}

// NewPlateHandler creates a new plate handler.
func NewPlateHandler(base *BaseHandler, service *lab.Service) *PlateHandler {
	return &PlateHandler{
		BaseHandler: base,
		service:     service,
	}
}

// RegisterRoutes mounts the plate endpoints on rg.
func (h *PlateHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.DELETE("/:id", h.Discard)
	rg.POST("/:id/compositions", h.AddComposition)
	rg.GET("/:id/volume", h.TotalVolume)
}

// Create handles POST /plates
func (h *PlateHandler) Create(c *gin.Context) {
	var req dto.CreatePlateRequest
	if !h.BindJSON(c, &req) {
		return
	}

	plate, err := h.service.CreatePlate(c.Request.Context(), req.ToNewPlate())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromPlate(plate))
}

// List handles GET /plates
func (h *PlateHandler) List(c *gin.Context) {
	var req dto.ListPlatesRequest
	if !h.BindQuery(c, &req) {
		return
	}
	req.Defaults()

	plates, err := h.service.ListPlates(c.Request.Context(), req.ToFilter())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.ListResponse[dto.PlateResponse]{
		Items:  dto.FromPlates(plates),
		Limit:  req.Limit,
		Offset: req.Offset,
	})
}

// Get handles GET /plates/:id
func (h *PlateHandler) Get(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	plate, err := h.service.GetPlate(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromPlate(plate))
}

// Discard handles DELETE /plates/:id. Plates are never removed, only
// flagged as discarded.
func (h *PlateHandler) Discard(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.DiscardPlate(c.Request.Context(), id); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}

// AddComposition handles POST /plates/:id/compositions
func (h *PlateHandler) AddComposition(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	var req dto.AddCompositionRequest
	if !h.BindJSON(c, &req) {
		return
	}

	comp, err := h.service.AddComposition(c.Request.Context(), id, req.ToNewComposition())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromComposition(comp))
}

// TotalVolume handles GET /plates/:id/volume
func (h *PlateHandler) TotalVolume(c *gin.Context) {
	id, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	total, err := h.service.TotalVolume(c.Request.Context(), id)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.VolumeResponse{PlateID: id, TotalVolume: total})
}
