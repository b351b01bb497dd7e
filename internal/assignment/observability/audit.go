// Package observability provides audit logging helpers for the assignment services.
package observability

import (
	"context"
	"log/slog"

	"casework/internal/assignment/ports"
	id "casework/pkg/domain"
	"casework/pkg/attrs"
	"casework/pkg/platform/audit"
	"casework/pkg/requestcontext"
)

// LogAudit logs an audit event to the structured logger and the audit publisher.
// The subject user is taken from the staff_id or assignee_id attribute, the
// reason from the reason attribute.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher ports.AuditPublisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	args := append(attrList, "event", string(event), "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}
	actor := requestcontext.UserID(ctx)
	actorID := ""
	if !actor.IsNil() {
		actorID = actor.String()
	}
	err := publisher.Emit(ctx, audit.Event{
		Category:  event.Category(),
		UserID:    extractUser(attrList),
		Subject:   attrs.FirstString(attrList, subjectKeys...),
		Action:    string(event),
		Decision:  attrs.ExtractString(attrList, "decision"),
		Reason:    attrs.ExtractString(attrList, "reason"),
		RequestID: requestID,
		ActorID:   actorID,
	})
	if err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}

var (
	userKeys    = []string{"staff_id", "assignee_id", "recipient_id"}
	subjectKeys = []string{"assignment_id", "escalation_id", "work_item_id", "staff_id"}
)

func extractUser(attrList []any) id.UserID {
	for _, key := range userKeys {
		if u, err := id.ParseUserID(attrs.ExtractString(attrList, key)); err == nil {
			return u
		}
	}
	return id.UserID{}
}
