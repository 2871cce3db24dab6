package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"soulseer/internal/auth"
	"soulseer/internal/config"
	"soulseer/internal/reader"
	"soulseer/internal/session"
	"soulseer/internal/wallet"
	"soulseer/internal/webhook"
)

type Handlers struct {
	Sessions *session.Handler
	Wallet   *wallet.Handler
	Readers  *reader.Handler
	Webhooks *webhook.Handler
}

type Server struct {
	router  *gin.Engine
	http    *http.Server
	config  *config.Config
	limiter *RateLimiter
}

func New(cfg *config.Config, h Handlers, limiter *RateLimiter, health map[string]Pinger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLoggingMiddleware(), MetricsMiddleware(), corsMiddleware())

	router.GET("/health", Health(health))
	router.GET("/metrics", Metrics())

	// Gateway callbacks authenticate by signature, not bearer token, and are
	// not rate limited: the gateway retries whatever we refuse.
	router.POST("/webhooks/gateway", h.Webhooks.Gateway)

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	readerOnly := auth.RequireRole(auth.RoleReader)

	protected := router.Group("/")
	protected.Use(limiter.Middleware(), authMiddleware)
	{
		protected.POST("/sessions", h.Sessions.Request)
		protected.GET("/sessions/:id", h.Sessions.Get)
		protected.POST("/sessions/:id/accept", readerOnly, h.Sessions.Accept)
		protected.POST("/sessions/:id/decline", readerOnly, h.Sessions.Decline)
		protected.POST("/sessions/:id/cancel", h.Sessions.Cancel)
		protected.POST("/sessions/:id/start", h.Sessions.Start)
		protected.POST("/sessions/:id/end", h.Sessions.End)
		protected.POST("/sessions/:id/extend", h.Sessions.Extend)
		protected.POST("/sessions/:id/credentials", h.Sessions.Credentials)

		protected.GET("/wallet", h.Wallet.GetBalance)
		protected.GET("/wallet/transactions", h.Wallet.ListTransactions)
		protected.POST("/wallet/topups", h.Wallet.TopUp)
		protected.POST("/wallet/payouts", readerOnly, h.Wallet.RequestPayout)

		protected.GET("/readers", h.Readers.ListOnline)
		protected.GET("/readers/:id", h.Readers.GetReader)
		protected.PUT("/readers/me/status", readerOnly, h.Readers.SetMyStatus)
	}

	admin := router.Group("/admin")
	admin.Use(limiter.Middleware(), authMiddleware, auth.RequireRole(auth.RoleAdmin))
	{
		admin.GET("/sessions/:id", h.Sessions.AdminGet)
		admin.GET("/sessions/:id/entries", h.Wallet.SessionEntries)
		admin.POST("/sessions/:id/refunds", h.Wallet.Refund)
		admin.POST("/sessions/:id/dispute", h.Wallet.Dispute)
		admin.GET("/accounts/:id/entries", h.Wallet.AccountEntries)
		admin.GET("/accounts/:id/reconcile", h.Wallet.ReconcileAccount)
		admin.PUT("/readers/:id", h.Readers.UpsertReader)
	}

	return &Server{
		router:  router,
		config:  cfg,
		limiter: limiter,
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
