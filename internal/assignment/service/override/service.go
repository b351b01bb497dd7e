// Package override lets a supervisor or admin hand a work item to a chosen
// staff member, bypassing matching and, if needed, the WIP limits.
package override

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"casework/internal/assignment/authz"
	"casework/internal/assignment/metrics"
	"casework/internal/assignment/models"
	"casework/internal/assignment/observability"
	"casework/internal/assignment/ports"
	"casework/internal/assignment/sla"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/audit"
	"casework/pkg/platform/sentinel"
	"casework/pkg/requestcontext"
)

const (
	minReasonLength = 10
	maxReasonLength = 1000
)

var errClosed = errors.New("assignment closed concurrently")

type Store interface {
	ports.Transactor
	GetStaff(ctx context.Context, userID id.UserID) (*models.StaffProfile, error)
	GetQueueEntryByWorkItem(ctx context.Context, workItemID id.WorkItemID) (*models.QueueEntry, error)
	DeleteQueueEntry(ctx context.Context, entryID id.QueueEntryID) error
	GetActiveByWorkItem(ctx context.Context, workItemID id.WorkItemID) (*models.Assignment, error)
	CloseAssignment(ctx context.Context, assignmentID id.AssignmentID, status models.AssignmentStatus, at time.Time) (bool, error)
	CreateAssignment(ctx context.Context, a *models.Assignment) error
}

// Reserver is the subset of the capacity service the gate needs.
type Reserver interface {
	ForceReserve(ctx context.Context, staffID id.UserID) (bool, error)
	Release(ctx context.Context, staffID id.UserID) error
}

// Dispatcher is notified when an override frees capacity.
type Dispatcher interface {
	Trigger(ctx context.Context, unitID id.UnitID)
}

type Service struct {
	store      Store
	capacity   Reserver
	dispatcher Dispatcher
	policy     *sla.Policy
	notifier   ports.Notifier
	publisher  ports.AuditPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPolicy(p *sla.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func New(store Store, capacity Reserver, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("override store is required")
	}
	if capacity == nil {
		return nil, errors.New("capacity reserver is required")
	}
	s := &Service{
		store:    store,
		capacity: capacity,
		policy:   sla.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type Request struct {
	WorkItemID id.WorkItemID `json:"work_item_id"`
	AssigneeID id.UserID     `json:"assignee_id"`
	Reason     string        `json:"reason"`
}

func (r *Request) Normalize() {
	r.Reason = strings.TrimSpace(r.Reason)
}

// Validate normalizes the request and checks it.
func (r *Request) Validate() error {
	r.Normalize()
	if r.WorkItemID.IsNil() {
		return dErrors.NewField(dErrors.CodeValidation, "work_item_id", "work_item_id is required")
	}
	if r.AssigneeID.IsNil() {
		return dErrors.NewField(dErrors.CodeValidation, "assignee_id", "assignee_id is required")
	}
	n := utf8.RuneCountInString(r.Reason)
	if n < minReasonLength {
		return dErrors.NewField(dErrors.CodeValidation, "reason", "reason must be at least 10 characters")
	}
	if n > maxReasonLength {
		return dErrors.NewField(dErrors.CodeValidation, "reason", "reason must be at most 1000 characters")
	}
	return nil
}

// Override assigns the work item to the requested staff member. A queued item
// leaves the queue; an active assignment is cancelled and its capacity
// released. The new assignment is created even when the assignee is at their
// limit, in which case it carries CapacityBypassed.
func (s *Service) Override(ctx context.Context, req Request) (*models.Assignment, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireSupervisor(actor); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	target, err := authz.LoadStaff(ctx, s.store, req.AssigneeID)
	if err != nil {
		return nil, err
	}
	allowed, err := authz.CanManage(ctx, s.store, actor, target)
	if err != nil {
		return nil, err
	}
	if !allowed {
		observability.LogAudit(ctx, s.logger, s.publisher, audit.EventPermissionDenied,
			"staff_id", target.UserID.String(),
			"work_item_id", req.WorkItemID.String(),
			"decision", "denied",
			"reason", "override target outside supervisor unit",
		)
		return nil, dErrors.New(dErrors.CodeForbidden, "assignee is outside your unit")
	}

	entry, previous, err := s.locate(ctx, req.WorkItemID)
	if err != nil {
		return nil, err
	}
	if previous != nil && previous.AssigneeID == target.UserID {
		return nil, dErrors.New(dErrors.CodeConflict, "work item is already assigned to this staff member")
	}

	now := requestcontext.Now(ctx)
	a := &models.Assignment{
		ID:             id.AssignmentID(uuid.New()),
		WorkItemID:     req.WorkItemID,
		AssigneeID:     target.UserID,
		UnitID:         target.UnitID,
		AssignedAt:     now,
		Status:         models.StatusAssigned,
		AssignedBy:     &actor.UserID,
		OverrideReason: req.Reason,
	}
	if entry != nil {
		a.WorkItemType, a.Priority, a.RequiredSkills = entry.WorkItemType, entry.Priority, slices.Clone(entry.RequiredSkills)
	} else {
		a.WorkItemType, a.Priority, a.RequiredSkills = previous.WorkItemType, previous.Priority, slices.Clone(previous.RequiredSkills)
	}
	a.SLADeadline = s.policy.Deadline(a.WorkItemType, a.Priority, now)

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if entry != nil {
			if err := s.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
				return err
			}
		} else {
			closed, err := s.store.CloseAssignment(ctx, previous.ID, models.StatusCancelled, now)
			if err != nil {
				return err
			}
			if !closed {
				return errClosed
			}
			if err := s.capacity.Release(ctx, previous.AssigneeID); err != nil {
				return err
			}
		}
		exceeded, err := s.capacity.ForceReserve(ctx, target.UserID)
		if err != nil {
			return err
		}
		a.CapacityBypassed = exceeded
		return s.store.CreateAssignment(ctx, a)
	})
	switch {
	case errors.Is(err, errClosed), errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrConflict):
		return nil, dErrors.New(dErrors.CodeConflict, "work item changed concurrently; retry the override")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "apply override")
	}

	s.announce(ctx, a, previous)
	if previous != nil && s.dispatcher != nil {
		s.dispatcher.Trigger(ctx, previous.UnitID)
	}
	return a, nil
}

// locate finds the work item in the queue or among active assignments.
func (s *Service) locate(ctx context.Context, workItemID id.WorkItemID) (*models.QueueEntry, *models.Assignment, error) {
	entry, err := s.store.GetQueueEntryByWorkItem(ctx, workItemID)
	if err == nil {
		return entry, nil, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "load queue entry")
	}
	previous, err := s.store.GetActiveByWorkItem(ctx, workItemID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "work item is neither queued nor assigned")
	}
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "load active assignment")
	}
	return nil, previous, nil
}

func (s *Service) announce(ctx context.Context, a *models.Assignment, previous *models.Assignment) {
	if s.metrics != nil {
		s.metrics.IncAssignmentsCreated("override")
		if a.CapacityBypassed {
			s.metrics.CapacityBypasses.Inc()
		}
	}
	decision := "within_limits"
	if a.CapacityBypassed {
		decision = "capacity_bypassed"
	}
	attrs := []any{
		"assignment_id", a.ID.String(),
		"work_item_id", a.WorkItemID.String(),
		"assignee_id", a.AssigneeID.String(),
		"capacity_bypassed", strconv.FormatBool(a.CapacityBypassed),
		"decision", decision,
		"reason", a.OverrideReason,
	}
	if previous != nil {
		attrs = append(attrs, "previous_assignment_id", previous.ID.String(), "previous_assignee_id", previous.AssigneeID.String())
	}
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventAssignmentOverridden, attrs...)
	observability.Notify(ctx, s.logger, s.notifier, s.metrics, models.Notification{
		RecipientID:   a.AssigneeID,
		Kind:          models.NotifyAssignmentReceived,
		AssignmentIDs: []id.AssignmentID{a.ID},
		Message:       "Assigned to you by a supervisor: " + a.OverrideReason,
		CreatedAt:     a.AssignedAt,
	})
}
