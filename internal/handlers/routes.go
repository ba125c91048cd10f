package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/grant-access/internal/access"
	"github.com/imrishuroy/grant-access/internal/apperr"
	"github.com/imrishuroy/grant-access/internal/idempotency"
	"github.com/imrishuroy/grant-access/internal/listingview"
	"github.com/imrishuroy/grant-access/internal/payment"
	"github.com/imrishuroy/grant-access/internal/validation"
)

// Identity headers set by the upstream authorizer.
const (
	HeaderAgentID   = "X-Agent-Id"
	HeaderAdminID   = "X-Admin-Id"
	HeaderRequestID = "X-Request-Id"
)

// AccessService is the grant-access engine surface the routes call.
type AccessService interface {
	RequestAccess(ctx context.Context, agentID, listingID string) (*access.AccessRequest, error)
	GetAgentRequest(ctx context.Context, agentID, listingID string) (*access.AgentView, error)
	CreatePaymentIntent(ctx context.Context, agentID, requestID string) (*access.PaymentIntent, error)
	AdminDecide(ctx context.Context, requestID, action, adminID string, opts access.DecisionOptions) (*access.AccessRequest, error)
	ReconcileWebhookEvent(ctx context.Context, ev payment.Event) error

	ListPayments(ctx context.Context, f access.Filter) (*access.Page, error)
	Stats(ctx context.Context) (*access.Stats, error)
	GetRequest(ctx context.Context, requestID string) (*access.Row, error)
	SoftDelete(ctx context.Context, requestID, adminID, reason string) (*access.AccessRequest, error)
	Restore(ctx context.Context, requestID, adminID, reason string) (*access.AccessRequest, error)
	Delete(ctx context.Context, requestID string) error
	BulkDelete(ctx context.Context, requestIDs []string) (*access.BulkDeleteResult, error)
}

// DetailService serves gated listing detail.
type DetailService interface {
	Detail(ctx context.Context, agentID, listingID string) (*listingview.Detail, error)
}

// WebhookParser verifies and classifies gateway webhooks.
type WebhookParser interface {
	ParseWebhook(rawBody []byte, signature string) (*payment.Event, error)
}

// EventLog dedups webhook deliveries.
type EventLog interface {
	CreateIfNotExists(ctx context.Context, eventID, eventType, paymentRef string) (bool, error)
	Reopen(ctx context.Context, eventID string) (bool, error)
	Get(ctx context.Context, eventID string) (*idempotency.EventRecord, error)
	MarkDone(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, note string) error
}

var _ EventLog = (*idempotency.Store)(nil)

// HandlerConfig groups dependencies for the routes.
type HandlerConfig struct {
	Access   AccessService
	Listings DetailService
	Webhooks WebhookParser
	Events   EventLog // optional
	Logger   *slog.Logger
}

type server struct {
	access   AccessService
	listings DetailService
	webhooks WebhookParser
	events   EventLog
	logger   *slog.Logger
	v        *validatorv10.Validate
}

// RegisterRoutes registers the agent, admin and webhook routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	s := &server{
		access:   cfg.Access,
		listings: cfg.Listings,
		webhooks: cfg.Webhooks,
		events:   cfg.Events,
		logger:   cfg.Logger,
		v:        validation.New(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r.Use(requestID(), accessLog(s.logger))

	agent := r.Group("/agent", requireHeader(HeaderAgentID))
	agent.POST("/listings/:listingId/access", s.requestAccess)
	agent.GET("/listings/:listingId/access", s.getAgentRequest)
	agent.GET("/listings/:listingId", s.listingDetail)
	agent.POST("/access/:requestId/payment-intent", s.createPaymentIntent)

	admin := r.Group("/admin", requireHeader(HeaderAdminID))
	admin.POST("/access/:requestId/decision", s.decide)
	admin.GET("/payments", s.listPayments)
	admin.GET("/payments/stats", s.paymentStats)
	admin.GET("/payments/:requestId", s.getPayment)
	admin.POST("/payments/:requestId/soft-delete", s.softDelete)
	admin.POST("/payments/:requestId/restore", s.restore)
	admin.DELETE("/payments/:requestId", s.deletePayment)
	admin.POST("/payments/bulk-delete", s.bulkDelete)

	r.POST("/webhooks/payments", s.paymentWebhook)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"),
		)
	}
}

// requireHeader rejects requests without the identity header the
// authorizer should have set.
func requireHeader(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(name) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_identity", "msg": name + " header is required"})
			return
		}
		c.Next()
	}
}

// writeError maps taxonomy errors to their status and hides internal ones.
func (s *server) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "request_id", c.GetString("request_id"), "error", err)
		c.JSON(status, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(status, gin.H{"error": string(apperr.KindOf(err)), "msg": err.Error()})
}
