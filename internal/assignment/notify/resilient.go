package notify

import (
	"context"
	"log/slog"

	"casework/internal/assignment/models"
	"casework/internal/assignment/ports"
	"casework/pkg/platform/circuit"
)

// Resilient sends through the primary channel and falls back to the
// secondary while the breaker is open. The primary is still tried on every
// call so the breaker can close again.
type Resilient struct {
	primary  ports.Notifier
	fallback ports.Notifier
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewResilient(primary, fallback ports.Notifier, breaker *circuit.Breaker, logger *slog.Logger) *Resilient {
	if breaker == nil {
		breaker = circuit.New("notifications")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (r *Resilient) Notify(ctx context.Context, n models.Notification) error {
	err := r.primary.Notify(ctx, n)
	if err == nil {
		if _, change := r.breaker.RecordSuccess(); change.Closed {
			r.logger.InfoContext(ctx, "notification channel recovered", "breaker", r.breaker.Name())
		}
		return nil
	}

	useFallback, change := r.breaker.RecordFailure()
	if change.Opened {
		r.logger.WarnContext(ctx, "notification channel failing, switching to fallback",
			"breaker", r.breaker.Name(),
			"error", err,
		)
	}
	if !useFallback || r.fallback == nil {
		return err
	}
	return r.fallback.Notify(ctx, n)
}
