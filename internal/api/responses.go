package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"soulseer/internal/domain"
	"soulseer/internal/logger"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// InsufficientFundsResponse tells the caller how much to add.
type InsufficientFundsResponse struct {
	Error     string          `json:"error"`
	Required  decimal.Decimal `json:"required"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// StatusFor maps the domain error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrReaderUnavailable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAlreadySettled), errors.Is(err, domain.ErrAlreadyProcessed):
		return http.StatusOK
	case errors.Is(err, domain.ErrGatewayError):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err using the status from StatusFor. Unknown errors are
// logged and hidden behind a generic message.
func RespondError(c *gin.Context, err error) {
	status := StatusFor(err)

	var funds *domain.InsufficientFundsError
	if errors.As(err, &funds) {
		c.JSON(status, InsufficientFundsResponse{
			Error:     "insufficient funds",
			Required:  funds.Required,
			Available: funds.Available,
			Shortfall: funds.Shortfall(),
		})
		return
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(status, ErrorResponse{Error: "internal error"})
		return
	}

	c.JSON(status, ErrorResponse{Error: err.Error()})
}
