// Package monitor sweeps active assignments, sends first warnings and hands
// first breaches to the escalation manager. Every side effect is guarded by a
// write-once field, so overlapping sweeps need no global lock.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"casework/internal/assignment/authz"
	"casework/internal/assignment/metrics"
	"casework/internal/assignment/models"
	"casework/internal/assignment/observability"
	"casework/internal/assignment/ports"
	"casework/internal/assignment/service/escalation"
	"casework/internal/assignment/sla"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/audit"
	"casework/pkg/platform/sentinel"
	"casework/pkg/requestcontext"
)

type Store interface {
	ListActive(ctx context.Context) ([]*models.Assignment, error)
	GetAssignment(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error)
	MarkWarningSent(ctx context.Context, assignmentID id.AssignmentID, at time.Time) (bool, error)
}

// Escalator raises breach escalations. Implemented by the escalation service.
type Escalator interface {
	RaiseBreach(ctx context.Context, a *models.Assignment, now time.Time) (bool, error)
}

type Service struct {
	store     Store
	escalator Escalator
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

func New(store Store, escalator Escalator, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("assignment store is required")
	}
	if escalator == nil {
		return nil, errors.New("escalator is required")
	}
	s := &Service{
		store:     store,
		escalator: escalator,
		policy:    sla.New(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("casework/assignment/monitor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SweepResult counts what one sweep observed and did.
type SweepResult struct {
	Scanned      int `json:"scanned"`
	OK           int `json:"ok"`
	Warning      int `json:"warning"`
	Breached     int `json:"breached"`
	WarningsSent int `json:"warnings_sent"`
	Escalated    int `json:"escalated"`
	Unrouted     int `json:"unrouted"`
	Failed       int `json:"failed"`
}

// Sweep evaluates every active assignment against one clock reading. A
// failure on one assignment is logged and counted; the sweep carries on.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "sla.sweep")
	defer span.End()

	active, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list active assignments")
	}
	now := requestcontext.Now(ctx)
	result := &SweepResult{Scanned: len(active)}

	for _, a := range active {
		if ctx.Err() != nil {
			break
		}
		if err := s.evaluate(ctx, a, now, result); err != nil {
			result.Failed++
			if s.metrics != nil {
				s.metrics.SweepItemFailures.Inc()
			}
			s.logger.ErrorContext(ctx, "sla evaluation failed",
				"assignment_id", a.ID.String(),
				"error", err,
			)
		}
	}

	if s.metrics != nil {
		s.metrics.SLAStatus.WithLabelValues(string(sla.StatusOK)).Set(float64(result.OK))
		s.metrics.SLAStatus.WithLabelValues(string(sla.StatusWarning)).Set(float64(result.Warning))
		s.metrics.SLAStatus.WithLabelValues(string(sla.StatusBreached)).Set(float64(result.Breached))
		s.metrics.ObserveSweep(start)
	}
	span.SetAttributes(
		attribute.Int("scanned", result.Scanned),
		attribute.Int("warnings_sent", result.WarningsSent),
		attribute.Int("escalated", result.Escalated),
		attribute.Int("failed", result.Failed),
	)
	s.logger.InfoContext(ctx, "sla sweep completed",
		"scanned", result.Scanned,
		"warnings_sent", result.WarningsSent,
		"escalated", result.Escalated,
		"unrouted", result.Unrouted,
		"failed", result.Failed,
	)
	return result, nil
}

func (s *Service) evaluate(ctx context.Context, a *models.Assignment, now time.Time, result *SweepResult) error {
	status, _ := s.policy.Evaluate(a.AssignedAt, a.SLADeadline, now)
	switch status {
	case sla.StatusOK:
		result.OK++
		return nil
	case sla.StatusWarning:
		result.Warning++
		if a.WarningSentAt != nil {
			return nil
		}
		return s.warn(ctx, a, now, result)
	default:
		result.Breached++
		if a.EscalatedAt != nil {
			return nil
		}
		return s.breach(ctx, a, now, result)
	}
}

func (s *Service) warn(ctx context.Context, a *models.Assignment, now time.Time, result *SweepResult) error {
	won, err := s.store.MarkWarningSent(ctx, a.ID, now)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	result.WarningsSent++
	if s.metrics != nil {
		s.metrics.WarningsSent.Inc()
	}
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventSLAWarningSent,
		"assignment_id", a.ID.String(),
		"assignee_id", a.AssigneeID.String(),
	)
	observability.Notify(ctx, s.logger, s.notifier, s.metrics, models.Notification{
		RecipientID:   a.AssigneeID,
		Kind:          models.NotifySLAWarning,
		AssignmentIDs: []id.AssignmentID{a.ID},
		Message:       "SLA deadline approaching for " + string(a.WorkItemType) + " " + a.WorkItemID.String(),
		CreatedAt:     now,
	})
	return nil
}

func (s *Service) breach(ctx context.Context, a *models.Assignment, now time.Time, result *SweepResult) error {
	raised, err := s.escalator.RaiseBreach(ctx, a, now)
	if errors.Is(err, escalation.ErrNoRecipient) {
		result.Unrouted++
		if s.metrics != nil {
			s.metrics.EscalationsUnrouted.Inc()
		}
		s.logger.ErrorContext(ctx, "breached assignment has no escalation recipient",
			"assignment_id", a.ID.String(),
			"assignee_id", a.AssigneeID.String(),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if raised {
		result.Escalated++
	}
	return nil
}

// StatusView is the derived SLA state of one assignment. It is computed on
// read and never stored.
type StatusView struct {
	AssignmentID     id.AssignmentID `json:"assignment_id"`
	Status           sla.Status      `json:"status"`
	RemainingSeconds int64           `json:"remaining_seconds"`
	ElapsedFraction  float64         `json:"elapsed_fraction"`
	SLADeadline      time.Time       `json:"sla_deadline"`
}

// Status returns the SLA view of an assignment. The assignee, its observers
// and supervisors may read it.
func (s *Service) Status(ctx context.Context, assignmentID id.AssignmentID) (*StatusView, error) {
	actor, err := authz.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.store.GetAssignment(ctx, assignmentID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "assignment not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load assignment")
	}
	if a.AssigneeID != actor.UserID && !a.HasObserver(actor.UserID) && !actor.Role.CanSupervise() {
		return nil, dErrors.New(dErrors.CodeForbidden, "not permitted to view this assignment")
	}

	now := requestcontext.Now(ctx)
	status, fraction := s.policy.Evaluate(a.AssignedAt, a.SLADeadline, now)
	return &StatusView{
		AssignmentID:     a.ID,
		Status:           status,
		RemainingSeconds: sla.Remaining(a.SLADeadline, now),
		ElapsedFraction:  fraction,
		SLADeadline:      a.SLADeadline,
	}, nil
}
