package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/grant-access/internal/payment"
)

// maxWebhookBody caps the payload read before signature verification.
const maxWebhookBody = 64 << 10

// paymentWebhook verifies, dedups and reconciles a gateway event. Anything
// but a bad signature or a storage failure is acknowledged with 200 so the
// gateway stops redelivering.
func (s *server) paymentWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "msg": err.Error()})
		return
	}

	ev, err := s.webhooks.ParseWebhook(raw, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			s.logger.Warn("webhook signature rejected", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
			return
		}
		s.logger.Error("webhook payload rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	if s.events != nil && ev.ID != "" {
		created, err := s.events.CreateIfNotExists(ctx, ev.ID, ev.Type, ev.ExternalRef)
		if err != nil {
			s.writeError(c, err)
			return
		}
		if !created {
			reopened, err := s.events.Reopen(ctx, ev.ID)
			if err != nil {
				s.writeError(c, err)
				return
			}
			if !reopened {
				rec, err := s.events.Get(ctx, ev.ID)
				if err != nil {
					s.writeError(c, err)
					return
				}
				// a nil record expired between the put and the reopen; reconcile is idempotent
				if rec != nil {
					s.logger.Info("webhook event already processed",
						"event_id", ev.ID, "status", rec.Status, "attempts", rec.Attempts)
					c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
					return
				}
			}
		}
	}

	if err := s.access.ReconcileWebhookEvent(ctx, *ev); err != nil {
		if s.events != nil && ev.ID != "" {
			if merr := s.events.MarkFailed(ctx, ev.ID, err.Error()); merr != nil {
				s.logger.Warn("mark webhook event failed", "event_id", ev.ID, "error", merr)
			}
		}
		s.writeError(c, err)
		return
	}

	if s.events != nil && ev.ID != "" {
		if err := s.events.MarkDone(ctx, ev.ID); err != nil {
			s.logger.Warn("mark webhook event done", "event_id", ev.ID, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
