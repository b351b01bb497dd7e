package notify

import (
	"context"
	"log/slog"

	"casework/internal/assignment/models"
)

// LogNotifier writes notifications to the structured log. It is the fallback
// channel and the default when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, notification models.Notification) error {
	ids := make([]string, len(notification.AssignmentIDs))
	for i, assignmentID := range notification.AssignmentIDs {
		ids[i] = assignmentID.String()
	}
	n.logger.InfoContext(ctx, "notification",
		"recipient_id", notification.RecipientID.String(),
		"kind", string(notification.Kind),
		"assignment_ids", ids,
		"message", notification.Message,
	)
	return nil
}
