// Package availability applies staff availability changes and reacts to a
// staff member going on leave: urgent and high work moves to a colleague with
// free capacity, everything else is flagged for review.
package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"casework/internal/assignment/authz"
	"casework/internal/assignment/metrics"
	"casework/internal/assignment/models"
	"casework/internal/assignment/observability"
	"casework/internal/assignment/ports"
	"casework/internal/assignment/service/dispatch"
	"casework/internal/assignment/sla"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/audit"
	"casework/pkg/requestcontext"
)

const maxReasonLength = 1000

var (
	errNoSlot = errors.New("no capacity slot")
	errClosed = errors.New("assignment closed concurrently")
)

type Store interface {
	ports.Transactor
	ports.StaffStore
	ListActiveByAssignee(ctx context.Context, assigneeID id.UserID) ([]*models.Assignment, error)
	CloseAssignment(ctx context.Context, assignmentID id.AssignmentID, status models.AssignmentStatus, at time.Time) (bool, error)
	CreateAssignment(ctx context.Context, a *models.Assignment) error
	SetNeedsReview(ctx context.Context, assignmentID id.AssignmentID, needsReview bool) (bool, error)
}

// Transferer moves one reservation between staff. Implemented by the capacity service.
type Transferer interface {
	Transfer(ctx context.Context, from, to id.UserID) (bool, error)
}

type Service struct {
	store     Store
	capacity  Transferer
	policy    *sla.Policy
	notifier  ports.Notifier
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
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

func New(store Store, capacity Transferer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("staff store is required")
	}
	if capacity == nil {
		return nil, errors.New("capacity transferer is required")
	}
	s := &Service{
		store:    store,
		capacity: capacity,
		policy:   sla.New(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("casework/assignment/availability"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// UpdateRequest changes one staff member's availability. StaffID defaults to
// the acting user.
type UpdateRequest struct {
	StaffID          *id.UserID `json:"staff_id,omitempty"`
	Status           string     `json:"status"`
	UnavailableUntil *time.Time `json:"unavailable_until,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

func (r *UpdateRequest) Normalize() {
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	r.Reason = strings.TrimSpace(r.Reason)
}

// Validate normalizes the request and checks it.
func (r *UpdateRequest) Validate() error {
	r.Normalize()
	if r.Status == "" {
		return dErrors.NewField(dErrors.CodeValidation, "status", "status is required")
	}
	if !models.AvailabilityStatus(r.Status).IsValid() {
		return dErrors.NewField(dErrors.CodeValidation, "status", "status must be one of available, unavailable, on_leave")
	}
	if utf8.RuneCountInString(r.Reason) > maxReasonLength {
		return dErrors.NewField(dErrors.CodeValidation, "reason", "reason must be at most 1000 characters")
	}
	return nil
}

// ReassignedItem records one assignment moved to another staff member.
type ReassignedItem struct {
	FromAssignmentID id.AssignmentID `json:"from_assignment_id"`
	AssignmentID     id.AssignmentID `json:"assignment_id"`
	WorkItemID       id.WorkItemID   `json:"work_item_id"`
	AssigneeID       id.UserID       `json:"assignee_id"`
	Priority         models.Priority `json:"priority"`
}

type UpdateResponse struct {
	Updated             bool                      `json:"updated"`
	StaffID             id.UserID                 `json:"staff_id"`
	Status              models.AvailabilityStatus `json:"status"`
	ReassignedItems     []ReassignedItem          `json:"reassigned_items,omitempty"`
	FlaggedForReview    []id.AssignmentID         `json:"flagged_for_review,omitempty"`
	ReassignmentWarning string                    `json:"reassignment_warning,omitempty"`
}

// Update validates and applies an availability change. Entering on_leave
// triggers the reassignment reaction before the call returns.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*UpdateResponse, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if req.UnavailableUntil != nil && !req.UnavailableUntil.After(now) {
		return nil, dErrors.NewField(dErrors.CodeValidation, "unavailable_until", "unavailable_until must be in the future")
	}

	targetID := actor.UserID
	if req.StaffID != nil && !req.StaffID.IsNil() {
		targetID = *req.StaffID
	}
	target, err := authz.LoadStaff(ctx, s.store, targetID)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireManage(ctx, s.store, actor, target); err != nil {
		observability.LogAudit(ctx, s.logger, s.publisher, audit.EventPermissionDenied,
			"staff_id", target.UserID.String(),
			"decision", "denied",
			"reason", "availability update outside scope",
		)
		return nil, err
	}

	status := models.AvailabilityStatus(req.Status)
	change := models.AvailabilityChange{Status: status, Source: models.SourceManual}
	if actor.UserID != target.UserID {
		change.Source = models.SourceSupervisorOverride
	}
	if status != models.AvailabilityAvailable {
		change.Until = req.UnavailableUntil
		change.Reason = req.Reason
	}

	before, err := s.store.UpdateAvailability(ctx, target.UserID, change)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update availability")
	}
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventAvailabilityChanged,
		"staff_id", target.UserID.String(),
		"from", string(before.Availability),
		"to", string(status),
		"source", string(change.Source),
		"reason", change.Reason,
	)

	resp := &UpdateResponse{Updated: true, StaffID: target.UserID, Status: status}
	if status == models.AvailabilityOnLeave && before.Availability != models.AvailabilityOnLeave {
		s.react(ctx, target, now, resp)
	}
	return resp, nil
}

// react partitions the absent staff member's active work. Failures on one
// item are logged and do not stop the others.
func (s *Service) react(ctx context.Context, absent *models.StaffProfile, now time.Time, resp *UpdateResponse) {
	ctx, span := s.tracer.Start(ctx, "availability.react", trace.WithAttributes(attribute.String("staff_id", absent.UserID.String())))
	defer span.End()

	active, err := s.store.ListActiveByAssignee(ctx, absent.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list work of absent staff", "staff_id", absent.UserID.String(), "error", err)
		resp.ReassignmentWarning = "active work could not be loaded; review this staff member's assignments manually"
		return
	}
	if len(active) == 0 {
		return
	}
	slices.SortStableFunc(active, func(a, b *models.Assignment) int {
		if d := b.Priority.Rank() - a.Priority.Rank(); d != 0 {
			return d
		}
		return a.AssignedAt.Compare(b.AssignedAt)
	})

	colleagues, err := s.store.ListStaffByUnit(ctx, absent.UnitID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list colleagues", "unit_id", absent.UnitID.String(), "error", err)
	}

	var unplaced int
	for _, a := range active {
		if a.Priority.Reassignable() {
			item, err := s.reassign(ctx, a, absent, colleagues, now)
			switch {
			case errors.Is(err, errClosed):
				continue
			case err != nil:
				s.logger.ErrorContext(ctx, "reassignment failed", "assignment_id", a.ID.String(), "error", err)
			case item != nil:
				resp.ReassignedItems = append(resp.ReassignedItems, *item)
				continue
			}
			unplaced++
		}
		if err := s.flag(ctx, a); err != nil {
			s.logger.ErrorContext(ctx, "failed to flag assignment for review", "assignment_id", a.ID.String(), "error", err)
			continue
		}
		resp.FlaggedForReview = append(resp.FlaggedForReview, a.ID)
	}

	if unplaced > 0 {
		resp.ReassignmentWarning = fmt.Sprintf("%d high-priority item(s) could not be reassigned: no eligible staff with free capacity", unplaced)
		s.logger.WarnContext(ctx, "reassignment capacity exhausted",
			"staff_id", absent.UserID.String(),
			"unit_id", absent.UnitID.String(),
			"unplaced", unplaced,
		)
	}
	if len(resp.FlaggedForReview) > 0 {
		s.notifySupervisor(ctx, absent, resp.FlaggedForReview, now)
	}
	span.SetAttributes(
		attribute.Int("reassigned", len(resp.ReassignedItems)),
		attribute.Int("flagged", len(resp.FlaggedForReview)),
	)
}

// reassign runs one match-and-reserve cycle against the absent member's
// colleagues. It returns nil, nil when nobody eligible has capacity.
func (s *Service) reassign(ctx context.Context, a *models.Assignment, absent *models.StaffProfile, colleagues []*models.StaffProfile, now time.Time) (*ReassignedItem, error) {
	for _, candidate := range dispatch.Candidates(colleagues, a.RequiredSkills, absent.UserID) {
		next := &models.Assignment{
			ID:             id.AssignmentID(uuid.New()),
			WorkItemID:     a.WorkItemID,
			WorkItemType:   a.WorkItemType,
			AssigneeID:     candidate.UserID,
			UnitID:         a.UnitID,
			AssignedAt:     now,
			Priority:       a.Priority,
			RequiredSkills: slices.Clone(a.RequiredSkills),
			SLADeadline:    s.policy.Deadline(a.WorkItemType, a.Priority, now),
			Status:         models.StatusAssigned,
		}
		err := s.store.RunInTx(ctx, func(ctx context.Context) error {
			moved, err := s.capacity.Transfer(ctx, absent.UserID, candidate.UserID)
			if err != nil {
				return err
			}
			if !moved {
				return errNoSlot
			}
			closed, err := s.store.CloseAssignment(ctx, a.ID, models.StatusCancelled, now)
			if err != nil {
				return err
			}
			if !closed {
				return errClosed
			}
			return s.store.CreateAssignment(ctx, next)
		})
		if errors.Is(err, errNoSlot) {
			candidate.CurrentCount = candidate.WIPLimit
			continue
		}
		if err != nil {
			return nil, err
		}
		candidate.CurrentCount++

		if s.metrics != nil {
			s.metrics.ReassignedItems.Inc()
			s.metrics.IncAssignmentsCreated("reassignment")
		}
		observability.LogAudit(ctx, s.logger, s.publisher, audit.EventAssignmentReassigned,
			"assignment_id", next.ID.String(),
			"from_assignment_id", a.ID.String(),
			"work_item_id", a.WorkItemID.String(),
			"assignee_id", candidate.UserID.String(),
			"previous_assignee_id", absent.UserID.String(),
		)
		observability.Notify(ctx, s.logger, s.notifier, s.metrics, models.Notification{
			RecipientID:   candidate.UserID,
			Kind:          models.NotifyAssignmentReceived,
			AssignmentIDs: []id.AssignmentID{next.ID},
			Message:       "Reassigned from an absent colleague: " + string(a.Priority) + " " + string(a.WorkItemType),
			CreatedAt:     now,
		})
		return &ReassignedItem{
			FromAssignmentID: a.ID,
			AssignmentID:     next.ID,
			WorkItemID:       a.WorkItemID,
			AssigneeID:       candidate.UserID,
			Priority:         a.Priority,
		}, nil
	}
	return nil, nil
}

func (s *Service) flag(ctx context.Context, a *models.Assignment) error {
	if _, err := s.store.SetNeedsReview(ctx, a.ID, true); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.FlaggedItems.Inc()
	}
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventAssignmentFlagged,
		"assignment_id", a.ID.String(),
		"assignee_id", a.AssigneeID.String(),
		"priority", string(a.Priority),
	)
	return nil
}

func (s *Service) notifySupervisor(ctx context.Context, absent *models.StaffProfile, flagged []id.AssignmentID, now time.Time) {
	if absent.EscalationChainID == nil {
		s.logger.WarnContext(ctx, "flagged work has no supervisor to notify",
			"staff_id", absent.UserID.String(),
			"flagged", len(flagged),
		)
		return
	}
	observability.Notify(ctx, s.logger, s.notifier, s.metrics, models.Notification{
		RecipientID:   *absent.EscalationChainID,
		Kind:          models.NotifyReviewRequired,
		AssignmentIDs: slices.Clone(flagged),
		Message:       fmt.Sprintf("%d item(s) of an absent staff member need review", len(flagged)),
		CreatedAt:     now,
	})
}

// ExpireAbsences returns staff whose absence end has passed to available.
// Their flagged work stays flagged.
func (s *Service) ExpireAbsences(ctx context.Context) ([]id.UserID, error) {
	now := requestcontext.Now(ctx)
	expired, err := s.store.ExpireAbsences(ctx, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "expire absences")
	}
	for _, userID := range expired {
		observability.LogAudit(ctx, s.logger, s.publisher, audit.EventAvailabilityExpired,
			"staff_id", userID.String(),
			"source", string(models.SourceSystem),
		)
	}
	return expired, nil
}
