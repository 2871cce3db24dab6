package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"soulseer/internal/api"
	"soulseer/internal/clock"
	"soulseer/internal/domain"
	"soulseer/internal/logger"
	"soulseer/internal/metrics"
	"soulseer/internal/payment"
)

const maxPayloadBytes = 64 << 10

type Handler struct {
	reconciler *Reconciler
	secret     string
	tolerance  time.Duration
	clock      clock.Clock
}

func NewHandler(r *Reconciler, secret string, tolerance time.Duration, clk clock.Clock) *Handler {
	return &Handler{reconciler: r, secret: secret, tolerance: tolerance, clock: clk}
}

type ackResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// Gateway receives signed callbacks. Nothing reaches the reconciler before
// the signature checks out.
func (h *Handler) Gateway(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "unreadable body"})
		return
	}
	if len(payload) > maxPayloadBytes {
		metrics.RecordWebhookEvent("unknown", "rejected")
		logger.Warn("webhook payload too large", "limit_bytes", maxPayloadBytes, "client_ip", c.ClientIP())
		c.JSON(http.StatusRequestEntityTooLarge, api.ErrorResponse{Error: "payload too large"})
		return
	}

	if h.secret == "" {
		logger.Error("webhook secret not configured; rejecting callback")
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "webhooks not configured"})
		return
	}
	if err := payment.VerifySignature(payload, c.GetHeader(payment.SignatureHeader), h.secret, h.tolerance, h.clock.Now()); err != nil {
		metrics.RecordWebhookEvent("unknown", "rejected")
		logger.Warn("webhook signature rejected", "error", err, "client_ip", c.ClientIP())
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid signature"})
		return
	}

	var ev domain.GatewayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid event payload"})
		return
	}

	err = h.reconciler.Apply(c.Request.Context(), &ev)
	switch {
	case errors.Is(err, domain.ErrAlreadyProcessed):
		c.JSON(http.StatusOK, ackResponse{Status: "duplicate", EventID: ev.ID})
	case err != nil:
		api.RespondError(c, err)
	default:
		c.JSON(http.StatusOK, ackResponse{Status: "processed", EventID: ev.ID})
	}
}
