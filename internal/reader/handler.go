package reader

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"soulseer/internal/api"
	"soulseer/internal/auth"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) GetReader(c *gin.Context) {
	rd, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rd)
}

func (h *Handler) ListOnline(c *gin.Context) {
	readers, err := h.service.ListOnline(c.Request.Context())
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, readers)
}

// SetMyStatus lets a signed-in reader go online or offline.
func (h *Handler) SetMyStatus(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	if err := h.service.SetStatus(c.Request.Context(), userID, status); err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: "status updated"})
}

// UpsertReader is admin-only: create or update a reader profile and rate card.
func (h *Handler) UpsertReader(c *gin.Context) {
	var req UpsertReaderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	rd, err := h.service.Upsert(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rd)
}
