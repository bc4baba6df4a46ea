package handlers

import (
	"github.com/gin-gonic/gin"

	"labcontrol/internal/domain/lab"
	"labcontrol/internal/infrastructure/http/v1/dto"
)

// UserHandler handles lab member endpoints.
type UserHandler struct {
	*BaseHandler
	service *lab.Service
}

// NewUserHandler creates a new user handler.
func NewUserHandler(base *BaseHandler, service *lab.Service) *UserHandler {
	return &UserHandler{
		BaseHandler: base,
		service:     service,
	}
}

// Register handles POST /users
func (h *UserHandler) Register(c *gin.Context) {
	var req dto.CreateUserRequest
	if !h.BindJSON(c, &req) {
		return
	}

	user, err := h.service.CreateUser(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromUser(user))
}

// Login handles POST /auth/login. It only verifies credentials; no
// session is issued.
func (h *UserHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !h.BindJSON(c, &req) {
		return
	}

	user, err := h.service.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromUser(user))
}
