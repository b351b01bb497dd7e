// Package escalation records breach and manual escalations and routes them
// one hop up the assignee's escalation chain.
package escalation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

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
	"casework/pkg/requestcontext"
)

const maxTextLength = 1000

// ErrNoRecipient reports that the assignee has no escalation chain configured.
var ErrNoRecipient = errors.New("no escalation recipient configured")

// errGuardLost marks a breach that another sweep escalated first.
var errGuardLost = errors.New("escalation guard already set")

type Store interface {
	ports.Transactor
	ports.EscalationStore
	GetStaff(ctx context.Context, userID id.UserID) (*models.StaffProfile, error)
	GetAssignment(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error)
	MarkEscalated(ctx context.Context, assignmentID id.AssignmentID, recipientID id.UserID, at time.Time) (bool, error)
	AddObserver(ctx context.Context, assignmentID id.AssignmentID, userID id.UserID) error
}

type Service struct {
	store     Store
	notifier  ports.Notifier
	publisher ports.AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
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

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("escalation store is required")
	}
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RaiseBreach escalates a breached assignment. It returns false without an
// error when another caller already escalated it, and ErrNoRecipient when the
// assignee has no chain; in that case nothing is written and a later sweep
// retries.
func (s *Service) RaiseBreach(ctx context.Context, a *models.Assignment, now time.Time) (bool, error) {
	assignee, err := s.store.GetStaff(ctx, a.AssigneeID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load assignee")
	}
	if assignee.EscalationChainID == nil {
		return false, ErrNoRecipient
	}
	recipient := *assignee.EscalationChainID

	event := &models.EscalationEvent{
		ID:           id.EscalationID(uuid.New()),
		AssignmentID: a.ID,
		FromID:       a.AssigneeID,
		ToID:         recipient,
		Reason:       models.EscalationSLABreach,
		CreatedAt:    now,
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		won, err := s.store.MarkEscalated(ctx, a.ID, recipient, now)
		if err != nil {
			return err
		}
		if !won {
			return errGuardLost
		}
		return s.store.CreateEscalation(ctx, event)
	})
	if errors.Is(err, errGuardLost) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "record breach escalation")
	}

	a.EscalatedAt = &now
	a.EscalationRecipientID = &recipient
	if s.metrics != nil {
		s.metrics.IncEscalation(string(models.EscalationSLABreach))
	}
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventEscalationRaised,
		"escalation_id", event.ID.String(),
		"assignment_id", a.ID.String(),
		"assignee_id", a.AssigneeID.String(),
		"recipient_id", recipient.String(),
		"reason", string(models.EscalationSLABreach),
	)
	observability.Notify(ctx, s.logger, s.notifier, s.metrics, models.Notification{
		RecipientID:   recipient,
		Kind:          models.NotifySLABreach,
		AssignmentIDs: []id.AssignmentID{a.ID},
		Message:       "SLA breached on " + string(a.WorkItemType) + " " + a.WorkItemID.String(),
		CreatedAt:     now,
	})
	return true, nil
}

// Escalate is the assignee's manual escalation. The recipient becomes an
// observer; ownership does not change. A second attempt while a manual
// escalation is open is a conflict.
func (s *Service) Escalate(ctx context.Context, assignmentID id.AssignmentID, reason string) (*models.EscalationEvent, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if err := validateText("reason", reason); err != nil {
		return nil, err
	}

	a, err := s.loadAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if a.AssigneeID != actor.UserID {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the assignee may escalate an assignment")
	}
	if !a.IsActive() {
		return nil, dErrors.New(dErrors.CodeConflict, "assignment is closed")
	}
	assignee, err := authz.LoadStaff(ctx, s.store, actor.UserID)
	if err != nil {
		return nil, err
	}
	if assignee.EscalationChainID == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "no escalation recipient configured")
	}
	recipient := *assignee.EscalationChainID
	now := requestcontext.Now(ctx)

	event := &models.EscalationEvent{
		ID:           id.EscalationID(uuid.New()),
		AssignmentID: a.ID,
		FromID:       actor.UserID,
		ToID:         recipient,
		Reason:       models.EscalationManual,
		Note:         reason,
		CreatedAt:    now,
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateEscalation(ctx, event); err != nil {
			return err
		}
		return s.store.AddObserver(ctx, a.ID, recipient)
	})
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.New(dErrors.CodeConflict, "assignment is already escalated")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record manual escalation")
	}

	if s.metrics != nil {
		s.metrics.IncEscalation(string(models.EscalationManual))
	}
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventEscalationRaised,
		"escalation_id", event.ID.String(),
		"assignment_id", a.ID.String(),
		"assignee_id", a.AssigneeID.String(),
		"recipient_id", recipient.String(),
		"reason", reason,
	)
	observability.Notify(ctx, s.logger, s.notifier, s.metrics, models.Notification{
		RecipientID:   recipient,
		Kind:          models.NotifyManualEscalation,
		AssignmentIDs: []id.AssignmentID{a.ID},
		Message:       reason,
		CreatedAt:     now,
	})
	return event, nil
}

// Acknowledge records that the recipient has seen the escalation.
func (s *Service) Acknowledge(ctx context.Context, escalationID id.EscalationID) (*models.EscalationEvent, error) {
	actor, event, err := s.loadForRecipient(ctx, escalationID)
	if err != nil {
		return nil, err
	}
	if event.ResolvedAt != nil {
		return nil, dErrors.New(dErrors.CodeConflict, "escalation is already resolved")
	}
	now := requestcontext.Now(ctx)
	won, err := s.store.AcknowledgeEscalation(ctx, escalationID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "acknowledge escalation")
	}
	if !won {
		return nil, dErrors.New(dErrors.CodeConflict, "escalation is already acknowledged")
	}
	event.AcknowledgedAt = &now
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventEscalationAcked,
		"escalation_id", event.ID.String(),
		"assignment_id", event.AssignmentID.String(),
		"recipient_id", actor.UserID.String(),
	)
	return event, nil
}

// Resolve closes the escalation. Resolving a manual escalation lets the
// assignee escalate again.
func (s *Service) Resolve(ctx context.Context, escalationID id.EscalationID, resolution string) (*models.EscalationEvent, error) {
	resolution = strings.TrimSpace(resolution)
	if err := validateText("resolution", resolution); err != nil {
		return nil, err
	}
	actor, event, err := s.loadForRecipient(ctx, escalationID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	won, err := s.store.ResolveEscalation(ctx, escalationID, resolution, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve escalation")
	}
	if !won {
		return nil, dErrors.New(dErrors.CodeConflict, "escalation is already resolved")
	}
	event.ResolvedAt = &now
	event.Resolution = resolution
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventEscalationResolved,
		"escalation_id", event.ID.String(),
		"assignment_id", event.AssignmentID.String(),
		"recipient_id", actor.UserID.String(),
		"decision", resolution,
	)
	return event, nil
}

// ListMine returns the open escalations addressed to the acting user.
func (s *Service) ListMine(ctx context.Context) ([]*models.EscalationEvent, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListOpenEscalationsForRecipient(ctx, actor.UserID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list escalations")
	}
	return events, nil
}

func (s *Service) loadForRecipient(ctx context.Context, escalationID id.EscalationID) (authz.Actor, *models.EscalationEvent, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return authz.Actor{}, nil, err
	}
	event, err := s.store.GetEscalation(ctx, escalationID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return authz.Actor{}, nil, dErrors.New(dErrors.CodeNotFound, "escalation not found")
	}
	if err != nil {
		return authz.Actor{}, nil, dErrors.Wrap(err, dErrors.CodeInternal, "load escalation")
	}
	if event.ToID != actor.UserID && !actor.IsAdmin() {
		return authz.Actor{}, nil, dErrors.New(dErrors.CodeForbidden, "only the recipient may handle this escalation")
	}
	return actor, event, nil
}

func (s *Service) loadAssignment(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "assignment not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load assignment")
	}
	return a, nil
}

func validateText(field, value string) error {
	if value == "" {
		return dErrors.NewField(dErrors.CodeValidation, field, field+" is required")
	}
	if utf8.RuneCountInString(value) > maxTextLength {
		return dErrors.NewField(dErrors.CodeValidation, field, field+" must be at most 1000 characters")
	}
	return nil
}
