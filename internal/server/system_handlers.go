package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soulseer/internal/api"
	"soulseer/internal/logger"
)

// Pinger reports whether a backing dependency answers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc adapts a plain function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Health answers 200 while every dependency answers, 503 otherwise.
func Health(deps map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		for name, p := range deps {
			if err := p.PingContext(ctx); err != nil {
				logger.Warn("health check failed", "dependency", name, "error", err)
				c.JSON(http.StatusServiceUnavailable, api.HealthResponse{Status: "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, api.HealthResponse{Status: "ok"})
	}
}

func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
