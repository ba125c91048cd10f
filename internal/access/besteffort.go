package access

import (
	"context"

	"github.com/imrishuroy/grant-access/internal/notify"
)

// Metric names emitted by the engine.
const (
	MetricAccessRequested      = "AccessRequested"
	MetricAdminDecision        = "AdminDecision"
	MetricPaymentIntentCreated = "PaymentIntentCreated"
	MetricPaymentSucceeded     = "PaymentSucceeded"
	MetricPaymentFailed        = "PaymentFailed"
	MetricReconcileOrphan      = "ReconcileOrphan"
	MetricNotificationFailed   = "NotificationFailed"
)

// dispatch hands n to the notifier. Failures are logged and swallowed.
func (e *Engine) dispatch(ctx context.Context, n notify.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("notification failed",
			"kind", string(n.Kind()), "request_id", n.Ref(), "error", err)
		e.count(ctx, MetricNotificationFailed, map[string]string{"Kind": string(n.Kind())})
	}
}

// bestEffort runs a non-critical side effect after the primary write has
// committed. Failures are logged and swallowed.
func (e *Engine) bestEffort(ctx context.Context, what, requestID string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		e.logger.Warn("best-effort side effect failed", "op", what, "request_id", requestID, "error", err)
	}
}

func (e *Engine) count(ctx context.Context, name string, dims map[string]string) {
	if err := e.metrics.Count(ctx, name, dims); err != nil {
		e.logger.Debug("metric emit failed", "metric", name, "error", err)
	}
}
