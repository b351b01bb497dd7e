// Package lifecycle takes work items into the queue and moves assignments
// through start, completion, cancellation and review. Closing an assignment
// frees capacity and triggers a dispatch of its unit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"casework/internal/assignment/authz"
	"casework/internal/assignment/metrics"
	"casework/internal/assignment/models"
	"casework/internal/assignment/observability"
	"casework/internal/assignment/ports"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/audit"
	"casework/pkg/platform/sentinel"
	strutil "casework/pkg/platform/strings"
	"casework/pkg/requestcontext"
)

var (
	errClosed   = errors.New("assignment already closed")
	errAssigned = errors.New("work item already assigned")
)

type Store interface {
	ports.Transactor
	GetStaff(ctx context.Context, userID id.UserID) (*models.StaffProfile, error)
	GetUnit(ctx context.Context, unitID id.UnitID) (*models.Unit, error)
	Enqueue(ctx context.Context, entry *models.QueueEntry) error
	GetActiveByWorkItem(ctx context.Context, workItemID id.WorkItemID) (*models.Assignment, error)
	GetAssignment(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error)
	ListActiveByAssignee(ctx context.Context, assigneeID id.UserID) ([]*models.Assignment, error)
	StartAssignment(ctx context.Context, assignmentID id.AssignmentID) (bool, error)
	CloseAssignment(ctx context.Context, assignmentID id.AssignmentID, status models.AssignmentStatus, at time.Time) (bool, error)
	SetNeedsReview(ctx context.Context, assignmentID id.AssignmentID, needsReview bool) (bool, error)
}

// Releaser returns capacity. Implemented by the capacity service.
type Releaser interface {
	Release(ctx context.Context, staffID id.UserID) error
}

// Dispatcher runs a unit dispatch after work is queued or capacity is freed.
type Dispatcher interface {
	Trigger(ctx context.Context, unitID id.UnitID)
}

type Service struct {
	store      Store
	capacity   Releaser
	dispatcher Dispatcher
	publisher  ports.AuditPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func New(store Store, capacity Releaser, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("lifecycle store is required")
	}
	if capacity == nil {
		return nil, errors.New("capacity releaser is required")
	}
	s := &Service{store: store, capacity: capacity, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnqueueRequest adds a work item to a unit's queue. A missing unit leaves
// the entry stranded until an operator routes it.
type EnqueueRequest struct {
	WorkItemID     id.WorkItemID       `json:"work_item_id"`
	WorkItemType   models.WorkItemType `json:"work_item_type"`
	Priority       models.Priority     `json:"priority"`
	UnitID         *id.UnitID          `json:"unit_id,omitempty"`
	RequiredSkills []string            `json:"required_skills,omitempty"`
}

func (r *EnqueueRequest) Normalize() {
	r.RequiredSkills = strutil.NormalizeSet(r.RequiredSkills)
}

// Validate normalizes the request and checks it.
func (r *EnqueueRequest) Validate() error {
	r.Normalize()
	if r.WorkItemID.IsNil() {
		return dErrors.NewField(dErrors.CodeValidation, "work_item_id", "work_item_id is required")
	}
	if !r.WorkItemType.IsValid() {
		return dErrors.NewField(dErrors.CodeValidation, "work_item_type", "work_item_type must be one of dossier, ticket, position, task")
	}
	if !r.Priority.IsValid() {
		return dErrors.NewField(dErrors.CodeValidation, "priority", "priority must be one of urgent, high, normal, low")
	}
	return nil
}

// Enqueue queues a work item and triggers a dispatch of its unit.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*models.QueueEntry, error) {
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

	entry := &models.QueueEntry{
		ID:             id.QueueEntryID(uuid.New()),
		WorkItemID:     req.WorkItemID,
		WorkItemType:   req.WorkItemType,
		RequiredSkills: req.RequiredSkills,
		Priority:       req.Priority,
		CreatedAt:      requestcontext.Now(ctx),
	}
	if req.UnitID != nil && !req.UnitID.IsNil() {
		if _, err := s.store.GetUnit(ctx, *req.UnitID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.NewField(dErrors.CodeNotFound, "unit_id", "unit not found")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load unit")
		}
		entry.UnitID = *req.UnitID
	}

	// The queue insert takes the work item lock first, so the active check
	// below sees any assignment of this item that was in flight.
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Enqueue(ctx, entry); err != nil {
			return err
		}
		if _, err := s.store.GetActiveByWorkItem(ctx, req.WorkItemID); err == nil {
			return errAssigned
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("check active assignment: %w", err)
		}
		return nil
	})
	switch {
	case errors.Is(err, errAssigned):
		return nil, dErrors.New(dErrors.CodeConflict, "work item is already assigned")
	case errors.Is(err, sentinel.ErrConflict):
		return nil, dErrors.New(dErrors.CodeConflict, "work item is already queued")
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "enqueue work item")
	}

	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventWorkItemQueued,
		"work_item_id", entry.WorkItemID.String(),
		"priority", string(entry.Priority),
		"unit_id", entry.UnitID.String(),
	)
	if !entry.HasUnit() {
		s.logger.WarnContext(ctx, "work item queued without a unit", "work_item_id", entry.WorkItemID.String())
		return entry, nil
	}
	s.trigger(ctx, entry.UnitID)
	return entry, nil
}

// Start moves an assignment from assigned to in_progress. Only the assignee may start it.
func (s *Service) Start(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.load(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.AssigneeID != actor.UserID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the assignee may start an assignment")
	}
	ok, err := s.store.StartAssignment(ctx, a.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "start assignment")
	}
	if !ok {
		return nil, dErrors.New(dErrors.CodeConflict, "assignment is not waiting to be started")
	}
	a.Status = models.StatusInProgress
	return a, nil
}

// Complete closes an assignment as done. The assignee or someone managing
// them may complete it.
func (s *Service) Complete(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	return s.close(ctx, assignmentID, models.StatusDone, false)
}

// Cancel closes an assignment as cancelled. Supervisors and admins only.
func (s *Service) Cancel(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	return s.close(ctx, assignmentID, models.StatusCancelled, true)
}

func (s *Service) close(ctx context.Context, assignmentID id.AssignmentID, status models.AssignmentStatus, supervisorOnly bool) (*models.Assignment, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if supervisorOnly {
		if err := authz.RequireSupervisor(actor); err != nil {
			return nil, err
		}
	}
	a, err := s.load(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManageAssignee(ctx, actor, a); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		closed, err := s.store.CloseAssignment(ctx, a.ID, status, now)
		if err != nil {
			return err
		}
		if !closed {
			return errClosed
		}
		return s.capacity.Release(ctx, a.AssigneeID)
	})
	if errors.Is(err, errClosed) {
		return nil, dErrors.New(dErrors.CodeConflict, "assignment is already closed")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "close assignment")
	}

	a.Status = status
	a.ClosedAt = &now
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventAssignmentClosed,
		"assignment_id", a.ID.String(),
		"assignee_id", a.AssigneeID.String(),
		"decision", string(status),
	)
	s.trigger(ctx, a.UnitID)
	return a, nil
}

// ClearReview removes the needs_review flag once a reviewer has looked at the item.
func (s *Service) ClearReview(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireSupervisor(actor); err != nil {
		return nil, err
	}
	a, err := s.load(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManageAssignee(ctx, actor, a); err != nil {
		return nil, err
	}
	if !a.NeedsReview {
		return nil, dErrors.New(dErrors.CodeConflict, "assignment is not flagged for review")
	}
	cleared, err := s.store.SetNeedsReview(ctx, a.ID, false)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "clear review flag")
	}
	if !cleared {
		return nil, dErrors.New(dErrors.CodeConflict, "assignment is closed or already cleared")
	}
	a.NeedsReview = false
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventReviewCleared,
		"assignment_id", a.ID.String(),
		"assignee_id", a.AssigneeID.String(),
	)
	return a, nil
}

// ListMine returns the acting user's active assignments.
func (s *Service) ListMine(ctx context.Context) ([]*models.Assignment, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListActiveByAssignee(ctx, actor.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list assignments")
	}
	return out, nil
}

func (s *Service) requireManageAssignee(ctx context.Context, actor authz.Actor, a *models.Assignment) error {
	assignee, err := authz.LoadStaff(ctx, s.store, a.AssigneeID)
	if err != nil {
		return err
	}
	return authz.RequireManage(ctx, s.store, actor, assignee)
}

func (s *Service) load(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "assignment not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load assignment")
	}
	return a, nil
}

func (s *Service) trigger(ctx context.Context, unitID id.UnitID) {
	if s.dispatcher != nil {
		s.dispatcher.Trigger(ctx, unitID)
	}
}
