// Package models holds the entities of the work-item assignment engine.
package models

import (
	"bytes"
	"slices"
	"time"

	id "casework/pkg/domain"
	strutil "casework/pkg/platform/strings"
)

type WorkItemType string

const (
	WorkItemDossier  WorkItemType = "dossier"
	WorkItemTicket   WorkItemType = "ticket"
	WorkItemPosition WorkItemType = "position"
	WorkItemTask     WorkItemType = "task"
)

func (t WorkItemType) IsValid() bool {
	switch t {
	case WorkItemDossier, WorkItemTicket, WorkItemPosition, WorkItemTask:
		return true
	}
	return false
}

// Priority orders queued work. Rank is higher for more urgent work.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists every priority from most to least urgent.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) IsValid() bool {
	return p.Rank() > 0
}

func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Reassignable reports whether work at this priority is moved to another
// staff member when its assignee goes on leave.
func (p Priority) Reassignable() bool {
	return p == PriorityUrgent || p == PriorityHigh
}

type AssignmentStatus string

const (
	StatusAssigned   AssignmentStatus = "assigned"
	StatusInProgress AssignmentStatus = "in_progress"
	StatusDone       AssignmentStatus = "done"
	StatusCancelled  AssignmentStatus = "cancelled"
)

// IsActive reports whether the assignment still holds a capacity slot.
func (s AssignmentStatus) IsActive() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// Assignment is one work item owned by one staff member.
type Assignment struct {
	ID                    id.AssignmentID  `json:"id"`
	WorkItemID            id.WorkItemID    `json:"work_item_id"`
	WorkItemType          WorkItemType     `json:"work_item_type"`
	AssigneeID            id.UserID        `json:"assignee_id"`
	UnitID                id.UnitID        `json:"unit_id"`
	AssignedAt            time.Time        `json:"assigned_at"`
	Priority              Priority         `json:"priority"`
	RequiredSkills        []string         `json:"required_skills,omitempty"`
	SLADeadline           time.Time        `json:"sla_deadline"`
	Status                AssignmentStatus `json:"status"`
	WarningSentAt         *time.Time       `json:"warning_sent_at,omitempty"`
	EscalatedAt           *time.Time       `json:"escalated_at,omitempty"`
	EscalationRecipientID *id.UserID       `json:"escalation_recipient_id,omitempty"`
	NeedsReview           bool             `json:"needs_review"`
	AssignedBy            *id.UserID       `json:"assigned_by,omitempty"`
	OverrideReason        string           `json:"override_reason,omitempty"`
	CapacityBypassed      bool             `json:"capacity_bypassed"`
	Observers             []id.UserID      `json:"observers,omitempty"`
	ClosedAt              *time.Time       `json:"closed_at,omitempty"`
}

func (a *Assignment) IsActive() bool {
	return a.Status.IsActive()
}

func (a *Assignment) HasObserver(userID id.UserID) bool {
	return slices.Contains(a.Observers, userID)
}

// QueueEntry is a pending, unassigned work item.
type QueueEntry struct {
	ID             id.QueueEntryID `json:"id"`
	WorkItemID     id.WorkItemID   `json:"work_item_id"`
	WorkItemType   WorkItemType    `json:"work_item_type"`
	RequiredSkills []string        `json:"required_skills,omitempty"`
	Priority       Priority        `json:"priority"`
	UnitID         id.UnitID       `json:"unit_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HasUnit is false for stranded entries that can never be dispatched.
func (q *QueueEntry) HasUnit() bool {
	return !q.UnitID.IsNil()
}

// QueueOrder sorts entries by priority descending, then created_at ascending.
// Equal timestamps fall back to the entry id so every backend agrees.
func QueueOrder(a, b *QueueEntry) int {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return rb - ra
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

type AvailabilityStatus string

const (
	AvailabilityAvailable   AvailabilityStatus = "available"
	AvailabilityUnavailable AvailabilityStatus = "unavailable"
	AvailabilityOnLeave     AvailabilityStatus = "on_leave"
)

func (s AvailabilityStatus) IsValid() bool {
	switch s {
	case AvailabilityAvailable, AvailabilityUnavailable, AvailabilityOnLeave:
		return true
	}
	return false
}

type AvailabilitySource string

const (
	SourceManual             AvailabilitySource = "manual"
	SourceSupervisorOverride AvailabilitySource = "supervisor_override"
	SourceSystem             AvailabilitySource = "system"
)

// StaffProfile is an assignable worker. CurrentCount is owned by the
// capacity tracker and only changes through reserve and release.
type StaffProfile struct {
	UserID             id.UserID          `json:"user_id"`
	UnitID             id.UnitID          `json:"unit_id"`
	Skills             []string           `json:"skills,omitempty"`
	WIPLimit           int                `json:"wip_limit"`
	CurrentCount       int                `json:"current_count"`
	Availability       AvailabilityStatus `json:"availability"`
	UnavailableUntil   *time.Time         `json:"unavailable_until,omitempty"`
	UnavailableReason  string             `json:"unavailable_reason,omitempty"`
	AvailabilitySource AvailabilitySource `json:"availability_source"`
	EscalationChainID  *id.UserID         `json:"escalation_chain_id,omitempty"`
	Role               id.Role            `json:"role"`
}

func (s *StaffProfile) IsAvailable() bool {
	return s.Availability == AvailabilityAvailable
}

func (s *StaffProfile) HasFreeSlot() bool {
	return s.CurrentCount < s.WIPLimit
}

// HasSkills reports whether the staff member's skills are a superset of required.
func (s *StaffProfile) HasSkills(required []string) bool {
	return strutil.ContainsAll(s.Skills, required)
}

// Unit is a capacity pool boundary. A WIPLimit of zero means no unit ceiling.
type Unit struct {
	ID           id.UnitID `json:"id"`
	Name         string    `json:"name"`
	WIPLimit     int       `json:"wip_limit"`
	CurrentCount int       `json:"current_count"`
}

func (u *Unit) HasFreeSlot() bool {
	return u.WIPLimit == 0 || u.CurrentCount < u.WIPLimit
}

type EscalationReason string

const (
	EscalationSLABreach EscalationReason = "sla_breach"
	EscalationManual    EscalationReason = "manual"
)

// EscalationEvent records one breach or manual escalation. It is never deleted;
// AcknowledgedAt and ResolvedAt are each written once.
type EscalationEvent struct {
	ID             id.EscalationID  `json:"id"`
	AssignmentID   id.AssignmentID  `json:"assignment_id"`
	FromID         id.UserID        `json:"from_id"`
	ToID           id.UserID        `json:"to_id"`
	Reason         EscalationReason `json:"reason"`
	Note           string           `json:"note,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	AcknowledgedAt *time.Time       `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
	Resolution     string           `json:"resolution,omitempty"`
}

func (e *EscalationEvent) IsOpen() bool {
	return e.ResolvedAt == nil
}

type NotificationKind string

const (
	NotifySLAWarning         NotificationKind = "sla_warning"
	NotifySLABreach          NotificationKind = "sla_breach"
	NotifyManualEscalation   NotificationKind = "manual_escalation"
	NotifyReviewRequired     NotificationKind = "review_required"
	NotifyAssignmentReceived NotificationKind = "assignment_received"
)

// Notification is a fire-and-forget message to one staff member.
type Notification struct {
	RecipientID   id.UserID         `json:"recipient_id"`
	Kind          NotificationKind  `json:"kind"`
	AssignmentIDs []id.AssignmentID `json:"assignment_ids"`
	Message       string            `json:"message"`
	CreatedAt     time.Time         `json:"created_at"`
}

// AvailabilityChange is the set of availability fields written together.
type AvailabilityChange struct {
	Status AvailabilityStatus
	Until  *time.Time
	Reason string
	Source AvailabilitySource
}
