package observability

import (
	"context"
	"log/slog"

	"casework/internal/assignment/metrics"
	"casework/internal/assignment/models"
	"casework/internal/assignment/ports"
)

// Notify hands n to the notifier. Delivery failures are logged and counted,
// never returned: the guard fields already record that the event happened.
func Notify(ctx context.Context, logger *slog.Logger, notifier ports.Notifier, m *metrics.Metrics, n models.Notification) {
	if notifier == nil {
		return
	}
	if err := notifier.Notify(ctx, n); err != nil {
		if m != nil {
			m.NotificationFailures.Inc()
		}
		if logger != nil {
			logger.WarnContext(ctx, "notification delivery failed",
				"kind", string(n.Kind),
				"recipient_id", n.RecipientID.String(),
				"error", err,
			)
		}
	}
}
