// Package ports defines the interfaces shared by the assignment services.
// Stores report facts with sentinel errors; services translate them into
// coded domain errors.
package ports

import (
	"context"
	"time"

	"casework/internal/assignment/models"
	id "casework/pkg/domain"
	"casework/pkg/platform/audit"
)

// Transactor runs fn so that every store call made with the ctx it receives
// commits or rolls back together.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StaffStore reads staff profiles and units and writes availability fields.
type StaffStore interface {
	GetStaff(ctx context.Context, userID id.UserID) (*models.StaffProfile, error)
	ListStaffByUnit(ctx context.Context, unitID id.UnitID) ([]*models.StaffProfile, error)
	GetUnit(ctx context.Context, unitID id.UnitID) (*models.Unit, error)

	// UpdateAvailability writes status, until, reason and source and returns
	// the profile as it was before the write.
	UpdateAvailability(ctx context.Context, userID id.UserID, change models.AvailabilityChange) (*models.StaffProfile, error)

	// ExpireAbsences returns staff whose unavailable_until is at or before now
	// to available and reports who changed.
	ExpireAbsences(ctx context.Context, now time.Time) ([]id.UserID, error)
}

// DirectoryStore provisions units and staff profiles.
type DirectoryStore interface {
	SaveUnit(ctx context.Context, unit *models.Unit) error
	SaveStaff(ctx context.Context, staff *models.StaffProfile) error
}

// CapacityStore owns the WIP counters. Every method is a conditional
// single-row update; none reads then writes in application code.
type CapacityStore interface {
	// TryReserve increments the staff and unit counters only if both are below
	// their limits.
	TryReserve(ctx context.Context, staffID id.UserID) (bool, error)

	// ForceReserve increments unconditionally and reports whether a limit was exceeded.
	ForceReserve(ctx context.Context, staffID id.UserID) (bool, error)

	// Release decrements both counters, never below zero.
	Release(ctx context.Context, staffID id.UserID) error

	// Transfer moves one reservation between two staff of the same unit,
	// checking only the target's individual limit.
	Transfer(ctx context.Context, from, to id.UserID) (bool, error)
}

// QueueStore holds pending work items.
type QueueStore interface {
	// Enqueue returns sentinel.ErrConflict when the work item is already queued.
	Enqueue(ctx context.Context, entry *models.QueueEntry) error
	GetQueueEntryByWorkItem(ctx context.Context, workItemID id.WorkItemID) (*models.QueueEntry, error)

	// ListQueue returns a unit's entries by priority descending then created_at ascending.
	ListQueue(ctx context.Context, unitID id.UnitID) ([]*models.QueueEntry, error)
	ListQueuedUnits(ctx context.Context) ([]id.UnitID, error)
	ListStranded(ctx context.Context) ([]*models.QueueEntry, error)

	// DeleteQueueEntry returns sentinel.ErrNotFound when the entry was already consumed.
	DeleteQueueEntry(ctx context.Context, entryID id.QueueEntryID) error
}

// AssignmentStore persists assignments. Guard-field writes are conditional
// and report whether this caller won.
type AssignmentStore interface {
	// CreateAssignment returns sentinel.ErrConflict when the work item already
	// has an active assignment.
	CreateAssignment(ctx context.Context, a *models.Assignment) error
	GetAssignment(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error)
	GetActiveByWorkItem(ctx context.Context, workItemID id.WorkItemID) (*models.Assignment, error)
	ListActive(ctx context.Context) ([]*models.Assignment, error)
	ListActiveByAssignee(ctx context.Context, assigneeID id.UserID) ([]*models.Assignment, error)

	// CloseAssignment moves an active assignment to a terminal status.
	CloseAssignment(ctx context.Context, assignmentID id.AssignmentID, status models.AssignmentStatus, at time.Time) (bool, error)

	// StartAssignment moves assigned to in_progress.
	StartAssignment(ctx context.Context, assignmentID id.AssignmentID) (bool, error)

	// MarkWarningSent sets warning_sent_at only while it is null.
	MarkWarningSent(ctx context.Context, assignmentID id.AssignmentID, at time.Time) (bool, error)

	// MarkEscalated sets escalated_at and the recipient only while escalated_at is null.
	MarkEscalated(ctx context.Context, assignmentID id.AssignmentID, recipientID id.UserID, at time.Time) (bool, error)

	// SetNeedsReview writes the review flag on an active assignment.
	SetNeedsReview(ctx context.Context, assignmentID id.AssignmentID, needsReview bool) (bool, error)

	AddObserver(ctx context.Context, assignmentID id.AssignmentID, userID id.UserID) error
}

// EscalationStore persists escalation events.
type EscalationStore interface {
	// CreateEscalation returns sentinel.ErrConflict when an unresolved event
	// with the same assignment and reason exists.
	CreateEscalation(ctx context.Context, e *models.EscalationEvent) error
	GetEscalation(ctx context.Context, escalationID id.EscalationID) (*models.EscalationEvent, error)
	ListEscalationsByAssignment(ctx context.Context, assignmentID id.AssignmentID) ([]*models.EscalationEvent, error)
	ListOpenEscalationsForRecipient(ctx context.Context, recipientID id.UserID) ([]*models.EscalationEvent, error)

	// AcknowledgeEscalation sets acknowledged_at only while it is null.
	AcknowledgeEscalation(ctx context.Context, escalationID id.EscalationID, at time.Time) (bool, error)

	// ResolveEscalation sets resolved_at and the resolution only while resolved_at is null.
	ResolveEscalation(ctx context.Context, escalationID id.EscalationID, resolution string, at time.Time) (bool, error)
}

// Store is everything a backend provides.
type Store interface {
	Transactor
	StaffStore
	DirectoryStore
	CapacityStore
	QueueStore
	AssignmentStore
	EscalationStore
}

// Notifier delivers notifications. Delivery is at-least-once; duplicates are
// prevented by the guard fields, not the channel.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// AuditPublisher emits audit events for compliance-relevant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Locker grants short, non-blocking exclusive leases.
type Locker interface {
	// TryLock returns ok=false immediately when key is held elsewhere.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
