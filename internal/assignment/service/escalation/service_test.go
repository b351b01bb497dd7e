package escalation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"casework/internal/assignment/assignmenttest"
	"casework/internal/assignment/metrics"
	"casework/internal/assignment/models"
	"casework/internal/assignment/ports/mocks"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/audit"
	auditmemory "casework/pkg/platform/audit/store/memory"
	auditpublisher "casework/pkg/platform/audit/publisher"
	"casework/pkg/requestcontext"
)

// =============================================================================
// Escalation Service Test Suite
// =============================================================================
// Justification: escalations are write-once records guarded against
// duplicates. Tests pin the guards, the recipient routing and the
// permission rules of the manual entry point.

type EscalationServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	fx         *assignmenttest.Fixture
	notifier   *mocks.MockNotifier
	auditStore *auditmemory.InMemoryStore
	metrics    *metrics.Metrics
	service    *Service

	supervisor *models.StaffProfile
	assignee   *models.StaffProfile
	assignment *models.Assignment
}

func TestEscalationServiceSuite(t *testing.T) {
	suite.Run(t, new(EscalationServiceSuite))
}

func (s *EscalationServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.fx = assignmenttest.New(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.auditStore = auditmemory.NewInMemoryStore()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())

	var err error
	s.service, err = New(s.fx.Store,
		WithNotifier(s.notifier),
		WithAuditPublisher(auditpublisher.NewPublisher(s.auditStore)),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)

	unit := s.fx.Unit(0)
	s.supervisor = s.fx.Staff(unit, 5, assignmenttest.WithRole(id.RoleSupervisor))
	s.assignee = s.fx.Staff(unit, 5, assignmenttest.WithChain(s.supervisor.UserID))
	s.assignment = s.fx.Assign(s.assignee, models.PriorityHigh, assignmenttest.Epoch, assignmenttest.Epoch.Add(8*time.Hour))
}

func (s *EscalationServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *EscalationServiceSuite) as(user id.UserID, role id.Role) context.Context {
	ctx := requestcontext.WithActor(context.Background(), user, role)
	return requestcontext.WithTime(ctx, assignmenttest.Epoch.Add(time.Hour))
}

func (s *EscalationServiceSuite) TestNew() {
	_, err := New(nil)
	s.ErrorContains(err, "escalation store is required")
}

func (s *EscalationServiceSuite) TestRaiseBreach() {
	now := assignmenttest.Epoch.Add(9 * time.Hour)
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n models.Notification) error {
		s.Equal(s.supervisor.UserID, n.RecipientID)
		s.Equal(models.NotifySLABreach, n.Kind)
		return nil
	})

	raised, err := s.service.RaiseBreach(context.Background(), s.assignment, now)
	s.Require().NoError(err)
	s.True(raised)

	stored, err := s.fx.Store.GetAssignment(context.Background(), s.assignment.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.EscalatedAt)
	s.Equal(now, *stored.EscalatedAt)
	s.Equal(s.supervisor.UserID, *stored.EscalationRecipientID)

	events, err := s.fx.Store.ListEscalationsByAssignment(context.Background(), s.assignment.ID)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(models.EscalationSLABreach, events[0].Reason)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.EscalationsRaised.WithLabelValues("sla_breach")))
}

func (s *EscalationServiceSuite) TestRaiseBreachOnce() {
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	now := assignmenttest.Epoch.Add(9 * time.Hour)

	var wg sync.WaitGroup
	results := make([]bool, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raised, err := s.service.RaiseBreach(context.Background(), s.assignment, now)
			s.NoError(err)
			results[i] = raised
		}()
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r {
			winners++
		}
	}
	s.Equal(1, winners)
	events, err := s.fx.Store.ListEscalationsByAssignment(context.Background(), s.assignment.ID)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *EscalationServiceSuite) TestRaiseBreachWithoutChain() {
	orphan := s.fx.Staff(s.fx.UnitByID(s.assignee.UnitID), 5)
	a := s.fx.Assign(orphan, models.PriorityLow, assignmenttest.Epoch, assignmenttest.Epoch.Add(time.Hour))

	raised, err := s.service.RaiseBreach(context.Background(), a, assignmenttest.Epoch.Add(2*time.Hour))
	s.ErrorIs(err, ErrNoRecipient)
	s.False(raised)

	stored, err := s.fx.Store.GetAssignment(context.Background(), a.ID)
	s.Require().NoError(err)
	s.Nil(stored.EscalatedAt, "guard stays unset so a later sweep retries")
}

func (s *EscalationServiceSuite) TestEscalate() {
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)
	ctx := s.as(s.assignee.UserID, id.RoleStaff)

	event, err := s.service.Escalate(ctx, s.assignment.ID, "  customer threatens legal action  ")
	s.Require().NoError(err)
	s.Equal(models.EscalationManual, event.Reason)
	s.Equal(s.supervisor.UserID, event.ToID)
	s.Equal("customer threatens legal action", event.Note)

	stored, err := s.fx.Store.GetAssignment(ctx, s.assignment.ID)
	s.Require().NoError(err)
	s.True(stored.HasObserver(s.supervisor.UserID))
	s.Equal(s.assignee.UserID, stored.AssigneeID, "manual escalation never reassigns")
	s.Nil(stored.EscalatedAt, "manual escalation leaves the breach guard alone")

	s.Len(s.auditStore.ListByAction(ctx, audit.EventEscalationRaised), 1)
}

func (s *EscalationServiceSuite) TestEscalateTwiceConflicts() {
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)
	ctx := s.as(s.assignee.UserID, id.RoleStaff)

	_, err := s.service.Escalate(ctx, s.assignment.ID, "first")
	s.Require().NoError(err)
	_, err = s.service.Escalate(ctx, s.assignment.ID, "second")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	events, err := s.fx.Store.ListEscalationsByAssignment(ctx, s.assignment.ID)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *EscalationServiceSuite) TestEscalateAgainAfterResolve() {
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	ctx := s.as(s.assignee.UserID, id.RoleStaff)

	event, err := s.service.Escalate(ctx, s.assignment.ID, "first")
	s.Require().NoError(err)
	_, err = s.service.Resolve(s.as(s.supervisor.UserID, id.RoleSupervisor), event.ID, "handled")
	s.Require().NoError(err)

	_, err = s.service.Escalate(ctx, s.assignment.ID, "again")
	s.NoError(err)
}

func (s *EscalationServiceSuite) TestEscalateValidation() {
	ctx := s.as(s.assignee.UserID, id.RoleStaff)
	tests := []struct {
		name   string
		reason string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"too long", strings.Repeat("x", 1001)},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Escalate(ctx, s.assignment.ID, tt.reason)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
	s.NoError(validateText("reason", strings.Repeat("é", 1000)), "length counts characters, not bytes")
}

func (s *EscalationServiceSuite) TestEscalatePermissions() {
	_, err := s.service.Escalate(context.Background(), s.assignment.ID, "reason")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.service.Escalate(s.as(s.supervisor.UserID, id.RoleSupervisor), s.assignment.ID, "reason")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Escalate(s.as(s.assignee.UserID, id.RoleStaff), id.AssignmentID(uuid.New()), "reason")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EscalationServiceSuite) TestEscalateClosedAssignment() {
	_, err := s.fx.Store.CloseAssignment(context.Background(), s.assignment.ID, models.StatusDone, assignmenttest.Epoch)
	s.Require().NoError(err)

	_, err = s.service.Escalate(s.as(s.assignee.UserID, id.RoleStaff), s.assignment.ID, "reason")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *EscalationServiceSuite) TestAcknowledgeAndResolve() {
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil)
	event, err := s.service.Escalate(s.as(s.assignee.UserID, id.RoleStaff), s.assignment.ID, "stuck")
	s.Require().NoError(err)

	_, err = s.service.Acknowledge(s.as(s.assignee.UserID, id.RoleStaff), event.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	supervisorCtx := s.as(s.supervisor.UserID, id.RoleSupervisor)
	mine, err := s.service.ListMine(supervisorCtx)
	s.Require().NoError(err)
	s.Len(mine, 1)

	acked, err := s.service.Acknowledge(supervisorCtx, event.ID)
	s.Require().NoError(err)
	s.NotNil(acked.AcknowledgedAt)
	_, err = s.service.Acknowledge(supervisorCtx, event.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	resolved, err := s.service.Resolve(supervisorCtx, event.ID, "spoke with the customer")
	s.Require().NoError(err)
	s.Equal("spoke with the customer", resolved.Resolution)
	_, err = s.service.Resolve(supervisorCtx, event.ID, "again")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	_, err = s.service.Acknowledge(s.as(id.UserID(uuid.New()), id.RoleAdmin), event.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	mine, err = s.service.ListMine(supervisorCtx)
	s.Require().NoError(err)
	s.Empty(mine)
}

func (s *EscalationServiceSuite) TestResolveUnknown() {
	_, err := s.service.Resolve(s.as(s.supervisor.UserID, id.RoleSupervisor), id.EscalationID(uuid.New()), "done")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
