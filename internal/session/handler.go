package session

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"soulseer/internal/api"
	"soulseer/internal/auth"
	"soulseer/internal/domain"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func actor(c *gin.Context) (string, bool) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
	}
	return userID, ok
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		api.RespondBindError(c, err)
		return false
	}
	return true
}

func (h *Handler) Request(c *gin.Context) {
	clientID, ok := actor(c)
	if !ok {
		return
	}

	var req RequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	t, err := domain.ParseSessionType(req.Type)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	sess, err := h.svc.Request(c.Request.Context(), clientID, req.ReaderID, t)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) Get(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	view, err := h.svc.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) AdminGet(c *gin.Context) {
	view, err := h.svc.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Accept(c *gin.Context) {
	readerID, ok := actor(c)
	if !ok {
		return
	}
	acc, err := h.svc.Accept(c.Request.Context(), c.Param("id"), readerID)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Joined{Session: acc.Session, Credential: acc.ReaderCredential})
}

func (h *Handler) Decline(c *gin.Context) {
	readerID, ok := actor(c)
	if !ok {
		return
	}
	var req ReasonBody
	if !bindOptional(c, &req) {
		return
	}
	sess, err := h.svc.Decline(c.Request.Context(), c.Param("id"), readerID, req.Reason)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) Cancel(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	var req ReasonBody
	if !bindOptional(c, &req) {
		return
	}
	sess, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), userID, req.Reason)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) Start(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	joined, err := h.svc.Start(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, joined)
}

// End is safe to repeat: a session that already settled answers 200 with
// the same settlement.
func (h *Handler) End(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	out, err := h.svc.End(c.Request.Context(), c.Param("id"), userID)
	if err != nil && !errors.Is(err, domain.ErrAlreadySettled) {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Extend(c *gin.Context) {
	clientID, ok := actor(c)
	if !ok {
		return
	}
	var req ExtendBody
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	sess, err := h.svc.Extend(c.Request.Context(), c.Param("id"), clientID, req.Minutes)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *Handler) Credentials(c *gin.Context) {
	userID, ok := actor(c)
	if !ok {
		return
	}
	joined, err := h.svc.Credentials(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, joined)
}
