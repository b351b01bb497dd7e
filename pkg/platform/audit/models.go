package audit

import (
	"context"
	"time"

	id "casework/pkg/domain"
)

// EventCategory classifies audit events by retention and routing needs.
type EventCategory string

const (
	// CategoryCompliance covers actions that must survive for review: overrides
	// of the dispatcher, escalations and their resolution.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers permission denials and actions taken on behalf of
	// another staff member.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine engine activity (dispatch, warnings).
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. UserID is the
// staff member the action is about; ActorID is who performed it.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	ActorID   string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}

type AuditEvent string

const (
	EventAssignmentCreated    AuditEvent = "assignment_created"
	EventAssignmentOverridden AuditEvent = "assignment_overridden"
	EventAssignmentReassigned AuditEvent = "assignment_reassigned"
	EventAssignmentFlagged    AuditEvent = "assignment_flagged_for_review"
	EventReviewCleared        AuditEvent = "assignment_review_cleared"
	EventAssignmentClosed     AuditEvent = "assignment_closed"
	EventWorkItemQueued       AuditEvent = "work_item_queued"

	EventSLAWarningSent      AuditEvent = "sla_warning_sent"
	EventEscalationRaised    AuditEvent = "escalation_raised"
	EventEscalationAcked     AuditEvent = "escalation_acknowledged"
	EventEscalationResolved  AuditEvent = "escalation_resolved"
	EventAvailabilityChanged AuditEvent = "availability_changed"
	EventAvailabilityExpired AuditEvent = "availability_expired"
	EventPermissionDenied    AuditEvent = "permission_denied"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAssignmentOverridden: CategoryCompliance,
	EventEscalationRaised:     CategoryCompliance,
	EventEscalationAcked:      CategoryCompliance,
	EventEscalationResolved:   CategoryCompliance,
	EventAssignmentReassigned: CategoryCompliance,

	EventPermissionDenied:    CategorySecurity,
	EventAvailabilityChanged: CategorySecurity,

	EventAssignmentCreated:   CategoryOperations,
	EventAssignmentFlagged:   CategoryOperations,
	EventReviewCleared:       CategoryOperations,
	EventAssignmentClosed:    CategoryOperations,
	EventWorkItemQueued:      CategoryOperations,
	EventSLAWarningSent:      CategoryOperations,
	EventAvailabilityExpired: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
