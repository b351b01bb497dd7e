// Package dispatch drains a unit's queue into assignments under capacity
// constraints: highest priority first, FIFO within a band, lowest load first.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"casework/internal/assignment/lock"
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
	defaultMaxPerRun   = 100
	defaultConcurrency = 4
	defaultLockTTL     = 30 * time.Second
)

var errNoSlot = errors.New("no capacity slot")

// Store is the persistence a dispatch run needs.
type Store interface {
	ports.Transactor
	ports.QueueStore
	ListStaffByUnit(ctx context.Context, unitID id.UnitID) ([]*models.StaffProfile, error)
	CreateAssignment(ctx context.Context, a *models.Assignment) error
}

// Reserver claims capacity. Implemented by the capacity service.
type Reserver interface {
	TryReserve(ctx context.Context, staffID id.UserID) (bool, error)
}

type Service struct {
	store       Store
	capacity    Reserver
	policy      *sla.Policy
	locker      ports.Locker
	notifier    ports.Notifier
	publisher   ports.AuditPublisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	maxPerRun   int
	concurrency int
	lockTTL     time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithLocker(locker ports.Locker) Option {
	return func(s *Service) { s.locker = locker }
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

// WithMaxPerRun bounds the assignments one run may create. Non-positive values are ignored.
func WithMaxPerRun(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPerRun = n
		}
	}
}

// WithConcurrency bounds how many units DispatchAll processes at once.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func New(store Store, capacity Reserver, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("dispatch store is required")
	}
	if capacity == nil {
		return nil, errors.New("capacity reserver is required")
	}
	s := &Service{
		store:       store,
		capacity:    capacity,
		policy:      sla.New(),
		locker:      lock.NewMemory(),
		logger:      slog.Default(),
		tracer:      otel.Tracer("casework/assignment/dispatch"),
		maxPerRun:   defaultMaxPerRun,
		concurrency: defaultConcurrency,
		lockTTL:     defaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Result reports one DispatchUnit invocation.
type Result struct {
	UnitID id.UnitID `json:"unit_id"`
	// Skipped is true when another run held the unit's lock.
	Skipped  bool                 `json:"skipped"`
	Assigned []*models.Assignment `json:"-"`
	// Unmatchable lists work items no staff member of the unit has the skills for.
	Unmatchable []id.WorkItemID `json:"unmatchable,omitempty"`
	// BlockedAt is the priority band where capacity ran out, if it did.
	BlockedAt models.Priority `json:"blocked_at,omitempty"`
	Truncated bool            `json:"truncated"`
	Remaining int             `json:"remaining"`
}

func (r *Result) AssignedCount() int {
	return len(r.Assigned)
}

// DispatchUnit drains one unit's queue. It never waits on another run: when
// the unit is locked it returns a skipped result at once. Running it again
// without a state change creates nothing.
func (s *Service) DispatchUnit(ctx context.Context, unitID id.UnitID) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "dispatch.unit", trace.WithAttributes(attribute.String("unit_id", unitID.String())))
	defer span.End()

	result := &Result{UnitID: unitID}
	release, ok, err := s.locker.TryLock(ctx, "dispatch:"+unitID.String(), s.lockTTL)
	if err != nil {
		s.observe(start, "failed")
		span.SetStatus(codes.Error, err.Error())
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "acquire dispatch lock")
	}
	if !ok {
		s.observe(start, "skipped")
		result.Skipped = true
		span.SetAttributes(attribute.Bool("skipped", true))
		return result, nil
	}
	defer release()

	err = s.drain(ctx, result)
	span.SetAttributes(
		attribute.Int("assigned", len(result.Assigned)),
		attribute.Int("unmatchable", len(result.Unmatchable)),
	)
	if s.metrics != nil {
		s.metrics.UnmatchableEntries.WithLabelValues(unitID.String()).Set(float64(len(result.Unmatchable)))
	}
	if err != nil {
		s.observe(start, "failed")
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	s.observe(start, "completed")

	if len(result.Unmatchable) > 0 {
		s.logger.WarnContext(ctx, "queue entries have no skill-eligible staff",
			"unit_id", unitID.String(),
			"count", len(result.Unmatchable),
		)
	}
	if result.BlockedAt != "" {
		s.logger.InfoContext(ctx, "dispatch stopped on exhausted capacity",
			"unit_id", unitID.String(),
			"priority", string(result.BlockedAt),
			"remaining", result.Remaining,
		)
	}
	return result, nil
}

func (s *Service) drain(ctx context.Context, result *Result) error {
	entries, err := s.store.ListQueue(ctx, result.UnitID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list queue")
	}
	staff, err := s.store.ListStaffByUnit(ctx, result.UnitID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list unit staff")
	}
	now := requestcontext.Now(ctx)

	for i, entry := range entries {
		if len(result.Assigned) >= s.maxPerRun {
			result.Truncated = true
			result.Remaining = len(entries) - i
			return nil
		}
		if !anyHasSkills(staff, entry.RequiredSkills) {
			result.Unmatchable = append(result.Unmatchable, entry.WorkItemID)
			continue
		}
		assignment, err := s.dispatchEntry(ctx, entry, staff, now)
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrConflict) {
			// Consumed or assigned by a concurrent override; nothing left to do for it.
			s.logger.InfoContext(ctx, "queue entry taken concurrently",
				"work_item_id", entry.WorkItemID.String(),
				"unit_id", result.UnitID.String(),
			)
			continue
		}
		if err != nil {
			result.Remaining = len(entries) - i
			return err
		}
		if assignment == nil {
			result.BlockedAt = entry.Priority
			result.Remaining = len(entries) - i
			return nil
		}
		result.Assigned = append(result.Assigned, assignment)
	}
	return nil
}

// dispatchEntry tries eligible staff from lowest load up. It returns a nil
// assignment when nobody has a free slot.
func (s *Service) dispatchEntry(ctx context.Context, entry *models.QueueEntry, staff []*models.StaffProfile, now time.Time) (*models.Assignment, error) {
	for _, candidate := range Candidates(staff, entry.RequiredSkills, id.UserID{}) {
		a := s.newAssignment(entry, candidate, now)
		// Queue row first, then staff and unit rows: the same order as overrides.
		err := s.store.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.store.DeleteQueueEntry(ctx, entry.ID); err != nil {
				return err
			}
			ok, err := s.capacity.TryReserve(ctx, candidate.UserID)
			if err != nil {
				return err
			}
			if !ok {
				return errNoSlot
			}
			return s.store.CreateAssignment(ctx, a)
		})
		if errors.Is(err, errNoSlot) {
			candidate.CurrentCount = candidate.WIPLimit
			continue
		}
		if err != nil {
			return nil, err
		}
		candidate.CurrentCount++
		s.announce(ctx, a)
		return a, nil
	}
	return nil, nil
}

func (s *Service) newAssignment(entry *models.QueueEntry, assignee *models.StaffProfile, now time.Time) *models.Assignment {
	return &models.Assignment{
		ID:             id.AssignmentID(uuid.New()),
		WorkItemID:     entry.WorkItemID,
		WorkItemType:   entry.WorkItemType,
		AssigneeID:     assignee.UserID,
		UnitID:         entry.UnitID,
		AssignedAt:     now,
		Priority:       entry.Priority,
		RequiredSkills: slices.Clone(entry.RequiredSkills),
		SLADeadline:    s.policy.Deadline(entry.WorkItemType, entry.Priority, now),
		Status:         models.StatusAssigned,
	}
}

func (s *Service) announce(ctx context.Context, a *models.Assignment) {
	if s.metrics != nil {
		s.metrics.IncAssignmentsCreated("dispatch")
	}
	observability.LogAudit(ctx, s.logger, s.publisher, audit.EventAssignmentCreated,
		"assignment_id", a.ID.String(),
		"work_item_id", a.WorkItemID.String(),
		"assignee_id", a.AssigneeID.String(),
		"priority", string(a.Priority),
	)
	observability.Notify(ctx, s.logger, s.notifier, s.metrics, models.Notification{
		RecipientID:   a.AssigneeID,
		Kind:          models.NotifyAssignmentReceived,
		AssignmentIDs: []id.AssignmentID{a.ID},
		Message:       "A " + string(a.Priority) + " " + string(a.WorkItemType) + " was assigned to you",
		CreatedAt:     a.AssignedAt,
	})
}

// Trigger runs DispatchUnit after a capacity-freeing event. Failures are
// logged; the periodic run picks the work up later.
func (s *Service) Trigger(ctx context.Context, unitID id.UnitID) {
	if unitID.IsNil() {
		return
	}
	if _, err := s.DispatchUnit(ctx, unitID); err != nil {
		s.logger.ErrorContext(ctx, "triggered dispatch failed", "unit_id", unitID.String(), "error", err)
	}
}

// AllResult summarizes a DispatchAll pass.
type AllResult struct {
	Units    []*Result `json:"units"`
	Failed   int       `json:"failed"`
	Stranded int       `json:"stranded"`
}

// DispatchAll runs DispatchUnit for every unit with queued work, a bounded
// number at a time. One unit's failure does not stop the others.
func (s *Service) DispatchAll(ctx context.Context) (*AllResult, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.all")
	defer span.End()

	units, err := s.store.ListQueuedUnits(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list queued units")
	}

	results := make([]*Result, len(units))
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, unitID := range units {
		g.Go(func() error {
			r, err := s.DispatchUnit(ctx, unitID)
			if err != nil {
				failed.Add(1)
				s.logger.ErrorContext(ctx, "unit dispatch failed", "unit_id", unitID.String(), "error", err)
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	out := &AllResult{Failed: int(failed.Load())}
	for _, r := range results {
		if r != nil {
			out.Units = append(out.Units, r)
		}
	}

	stranded, err := s.store.ListStranded(ctx)
	if err != nil {
		return out, dErrors.Wrap(err, dErrors.CodeInternal, "list stranded entries")
	}
	out.Stranded = len(stranded)
	if s.metrics != nil {
		s.metrics.StrandedEntries.Set(float64(len(stranded)))
	}
	if len(stranded) > 0 {
		s.logger.WarnContext(ctx, "queue entries without a unit cannot be dispatched", "count", len(stranded))
	}
	span.SetAttributes(attribute.Int("units", len(units)), attribute.Int("failed", out.Failed))
	return out, nil
}

// ListStranded returns queue entries that have no owning unit.
func (s *Service) ListStranded(ctx context.Context) ([]*models.QueueEntry, error) {
	entries, err := s.store.ListStranded(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list stranded entries")
	}
	return entries, nil
}

func (s *Service) observe(start time.Time, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveDispatch(start, outcome)
	}
}
