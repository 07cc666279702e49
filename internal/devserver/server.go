// Package devserver is a local stand-in for the marketplace backend. It
// serves the notification REST endpoints from seeded in-memory data, pushes
// realtime events over a websocket, and lets a developer inject events with
// POST /dev/emit.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/realtime"
	"github.com/nhle/coursedesk/internal/validate"
)

// Roles understood by the role checks.
const (
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// Config configures a Server.
type Config struct {
	Secret   string
	TokenTTL time.Duration
	Seed     bool
}

// Server is the development backend.
type Server struct {
	tokens  *TokenService
	data    *dataset
	sockets *socketHub
	log     *logger.Logger
	engine  *gin.Engine
}

// New builds a Server and its routes.
func New(cfg Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.Secret == "" {
		cfg.Secret = "coursedesk-dev-secret"
	}

	s := &Server{
		tokens:  NewTokenService(cfg.Secret, cfg.TokenTTL),
		data:    newDataset(cfg.Seed),
		sockets: newSocketHub(log),
		log:     log,
	}
	s.engine = s.routes()
	return s
}

// Tokens returns the service that signs this server's access tokens.
func (s *Server) Tokens() *TokenService { return s.tokens }

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.engine }

// Subscribers returns the number of authenticated sockets.
func (s *Server) Subscribers() int { return s.sockets.authedCount() }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/socket", s.handleSocket)

	dev := r.Group("/dev")
	{
		dev.POST("/token", s.issueToken)
		dev.POST("/emit", s.emit)
	}

	protected := r.Group("/api")
	protected.Use(AuthMiddleware(s.tokens))
	{
		protected.GET("/"+api.PathRecentSales, s.recentSales)
		protected.POST("/"+api.PathMarkSalesRead, s.markSalesRead)
		protected.GET("/"+api.PathRefunds, s.refunds)
		protected.GET("/"+api.PathPendingReviews, s.pendingReviews)
		protected.POST("/"+api.PathMarkReviewsRead, s.markReviewsRead)
	}

	admin := protected.Group("")
	admin.Use(RequireRole(RoleAdmin))
	{
		admin.GET("/"+api.PathPendingBank, s.pendingBank)
		admin.GET("/"+api.PathPaymentsSummary, s.payments)
	}

	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("devserver: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("devserver: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down devserver: %w", err)
	}
	return nil
}

func (s *Server) recentSales(c *gin.Context) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	sales := append([]model.SaleNotification{}, s.data.sales...)
	c.JSON(http.StatusOK, api.SalesResponse{
		Sales:       sales,
		Count:       len(sales),
		UnreadCount: s.data.unreadSales(),
	})
}

func (s *Server) markSalesRead(c *gin.Context) {
	c.JSON(http.StatusOK, api.MarkReadResponse{Updated: s.data.markSalesRead()})
}

func (s *Server) refunds(c *gin.Context) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	refunds := append([]model.RefundNotification{}, s.data.refunds...)
	c.JSON(http.StatusOK, api.RefundsResponse{Refunds: refunds, Count: len(refunds)})
}

func (s *Server) pendingReviews(c *gin.Context) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	reviews := append([]model.ReviewNotification{}, s.data.reviews...)
	c.JSON(http.StatusOK, api.ReviewsResponse{
		Reviews:     reviews,
		Count:       len(reviews),
		UnreadCount: s.data.unreadReviews(),
	})
}

func (s *Server) markReviewsRead(c *gin.Context) {
	c.JSON(http.StatusOK, api.MarkReadResponse{Updated: s.data.markReviewsRead()})
}

func (s *Server) pendingBank(c *gin.Context) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	var pending []model.BankVerificationNotification
	for _, b := range s.data.bank {
		if b.Status == model.BankVerificationPending {
			pending = append(pending, b)
		}
	}
	c.JSON(http.StatusOK, api.BankVerificationsResponse{Verifications: pending, Count: len(pending)})
}

func (s *Server) payments(c *gin.Context) {
	s.data.mu.RLock()
	defer s.data.mu.RUnlock()

	payments := append([]model.Payment{}, s.data.payments...)
	c.JSON(http.StatusOK, api.PaymentsResponse{Payments: payments, Count: len(payments)})
}

// TokenRequest is the body of POST /dev/token.
type TokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

func (s *Server) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "validation"})
		return
	}

	token, err := s.tokens.GenerateToken(req.UserID, req.Role)
	if err != nil {
		s.log.Error("devserver: signing token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// EmitRequest is the body of POST /dev/emit.
type EmitRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data" binding:"required"`
}

func (s *Server) emit(c *gin.Context) {
	var req EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "validation"})
		return
	}

	payload, err := s.apply(req.Event, req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "validation"})
		return
	}

	env, err := realtime.NewEnvelope(req.Event, payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode event"})
		return
	}
	sent := s.sockets.broadcast(env)
	s.log.Info("devserver: emitted %s to %d socket(s)", req.Event, sent)

	c.JSON(http.StatusOK, gin.H{"event": req.Event, "sent_count": sent, "data": payload})
}

// apply folds an injected event into the dataset so later polls agree
// with the push, and returns the payload to broadcast.
func (s *Server) apply(event string, raw json.RawMessage) (interface{}, error) {
	switch event {
	case realtime.EventNewSale:
		var sale model.SaleNotification
		if err := json.Unmarshal(raw, &sale); err != nil {
			return nil, fmt.Errorf("decoding sale: %w", err)
		}
		if sale.Status == "" {
			sale.Status = model.SaleStatusPending
		}
		return s.data.addSale(sale), nil

	case realtime.EventSaleStatusUpdated:
		var u model.SaleStatusUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("decoding status update: %w", err)
		}
		if err := validate.Struct(u); err != nil {
			return nil, err
		}
		if !s.data.updateSaleStatus(u) {
			return nil, fmt.Errorf("unknown sale %q", u.ID)
		}
		return u, nil

	case realtime.EventNewRefundRequest, realtime.EventRefundStatusUpdated:
		var r model.RefundNotification
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decoding refund: %w", err)
		}
		if r.Status == "" {
			r.Status = model.RefundStatusPending
		}
		return s.data.upsertRefund(r), nil

	case realtime.EventNewReview:
		var r model.ReviewNotification
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decoding review: %w", err)
		}
		return s.data.addReview(r), nil

	default:
		return nil, fmt.Errorf("unsupported event %q", event)
	}
}
