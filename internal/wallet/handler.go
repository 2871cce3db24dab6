package wallet

import (
	"errors"
	"net/http"
	"strconv"

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

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	a, err := h.svc.Account(c.Request.Context(), userID)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	limit, offset := pagination(c)
	entries, err := h.svc.Transactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) TopUp(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	intent, err := h.svc.TopUp(c.Request.Context(), userID, req.Amount)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, intent)
}

func (h *Handler) RequestPayout(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	payout, err := h.svc.RequestPayout(c.Request.Context(), userID, req.Amount)
	if err != nil && payout != nil {
		c.JSON(http.StatusBadGateway, payout)
		return
	}
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payout)
}

func (h *Handler) AccountEntries(c *gin.Context) {
	limit, offset := pagination(c)
	entries, err := h.svc.Transactions(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) ReconcileAccount(c *gin.Context) {
	r, err := h.svc.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) SessionEntries(c *gin.Context) {
	entries, err := h.svc.SessionEntries(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) Refund(c *gin.Context) {
	var body RefundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		api.RespondBindError(c, err)
		return
	}

	refund, err := h.svc.Refund(c.Request.Context(), RefundRequest{
		SessionID: c.Param("id"),
		RefundID:  body.RefundID,
		Amount:    body.Amount,
		Reason:    body.Reason,
	})
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		c.JSON(http.StatusOK, refund)
		return
	}
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

func (h *Handler) Dispute(c *gin.Context) {
	var body DisputeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		api.RespondBindError(c, err)
		return
	}

	sess, err := h.svc.Dispute(c.Request.Context(), c.Param("id"), body.Reason)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
