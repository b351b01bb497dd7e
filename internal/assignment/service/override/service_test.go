package override

import (
	"context"
	"strings"
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
	"casework/internal/assignment/service/capacity"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/audit"
	auditpublisher "casework/pkg/platform/audit/publisher"
	auditmemory "casework/pkg/platform/audit/store/memory"
	"casework/pkg/requestcontext"
)

// =============================================================================
// Manual Override Gate Test Suite
// =============================================================================
// Justification: overrides bypass every automatic rule, so the remaining
// rules (role, unit scope, reason, audit marker) carry all the weight.

type OverrideServiceSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	fx         *assignmenttest.Fixture
	auditStore *auditmemory.InMemoryStore
	metrics    *metrics.Metrics
	triggered  []id.UnitID
	service    *Service

	unit       *models.Unit
	supervisor *models.StaffProfile
	staff      *models.StaffProfile
}

type recordingDispatcher struct{ s *OverrideServiceSuite }

func (d recordingDispatcher) Trigger(_ context.Context, unitID id.UnitID) {
	d.s.triggered = append(d.s.triggered, unitID)
}

func TestOverrideServiceSuite(t *testing.T) {
	suite.Run(t, new(OverrideServiceSuite))
}

func (s *OverrideServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.fx = assignmenttest.New(s.T())
	s.auditStore = auditmemory.NewInMemoryStore()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.triggered = nil

	notifier := mocks.NewMockNotifier(s.ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	reserver, err := capacity.New(s.fx.Store)
	s.Require().NoError(err)
	s.service, err = New(s.fx.Store, reserver,
		WithNotifier(notifier),
		WithAuditPublisher(auditpublisher.NewPublisher(s.auditStore)),
		WithMetrics(s.metrics),
		WithDispatcher(recordingDispatcher{s}),
	)
	s.Require().NoError(err)

	s.unit = s.fx.Unit(0)
	s.supervisor = s.fx.Staff(s.unit, 0, assignmenttest.WithRole(id.RoleSupervisor))
	s.staff = s.fx.Staff(s.unit, 1)
}

func (s *OverrideServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *OverrideServiceSuite) as(user id.UserID, role id.Role) context.Context {
	ctx := requestcontext.WithActor(context.Background(), user, role)
	return requestcontext.WithTime(ctx, assignmenttest.Epoch.Add(time.Hour))
}

func (s *OverrideServiceSuite) supervisorCtx() context.Context {
	return s.as(s.supervisor.UserID, id.RoleSupervisor)
}

func (s *OverrideServiceSuite) TestNew() {
	_, err := New(nil, nil)
	s.ErrorContains(err, "override store is required")
	_, err = New(s.fx.Store, nil)
	s.ErrorContains(err, "capacity reserver is required")
}

func (s *OverrideServiceSuite) TestOverrideQueuedItem() {
	entry := s.fx.Enqueue(s.unit, models.PriorityUrgent)

	a, err := s.service.Override(s.supervisorCtx(), Request{
		WorkItemID: entry.WorkItemID,
		AssigneeID: s.staff.UserID,
		Reason:     "  client asked for this reviewer  ",
	})
	s.Require().NoError(err)
	s.Equal(s.staff.UserID, a.AssigneeID)
	s.Equal(s.supervisor.UserID, *a.AssignedBy)
	s.Equal("client asked for this reviewer", a.OverrideReason)
	s.False(a.CapacityBypassed)
	s.Equal(assignmenttest.Epoch.Add(3*time.Hour), a.SLADeadline)

	_, err = s.fx.Store.GetQueueEntryByWorkItem(context.Background(), entry.WorkItemID)
	s.Error(err, "queue entry consumed")
	s.Equal(1, s.fx.StaffByID(s.staff.UserID).CurrentCount)
	s.Empty(s.triggered)
}

func (s *OverrideServiceSuite) TestCapacityBypassIsRecorded() {
	s.fx.Assign(s.staff, models.PriorityLow, assignmenttest.Epoch, assignmenttest.Epoch.Add(time.Hour))
	entry := s.fx.Enqueue(s.unit, models.PriorityHigh)

	a, err := s.service.Override(s.supervisorCtx(), Request{
		WorkItemID: entry.WorkItemID,
		AssigneeID: s.staff.UserID,
		Reason:     "only certified reviewer on shift",
	})
	s.Require().NoError(err)
	s.True(a.CapacityBypassed)
	s.Equal(2, s.fx.StaffByID(s.staff.UserID).CurrentCount)

	stored, err := s.fx.Store.GetAssignment(context.Background(), a.ID)
	s.Require().NoError(err)
	s.True(stored.CapacityBypassed)

	events := s.auditStore.ListByAction(context.Background(), audit.EventAssignmentOverridden)
	s.Require().Len(events, 1)
	s.Equal("capacity_bypassed", events[0].Decision)
	s.Equal(s.supervisor.UserID.String(), events[0].ActorID)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.CapacityBypasses))
}

func (s *OverrideServiceSuite) TestOverrideActiveAssignment() {
	other := s.fx.Staff(s.unit, 3)
	previous := s.fx.Assign(other, models.PriorityNormal, assignmenttest.Epoch, assignmenttest.Epoch.Add(time.Hour))

	a, err := s.service.Override(s.supervisorCtx(), Request{
		WorkItemID: previous.WorkItemID,
		AssigneeID: s.staff.UserID,
		Reason:     "rebalancing after audit",
	})
	s.Require().NoError(err)
	s.Equal(previous.WorkItemID, a.WorkItemID)
	s.Equal(models.PriorityNormal, a.Priority)

	old, err := s.fx.Store.GetAssignment(context.Background(), previous.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, old.Status)
	s.Equal(0, s.fx.StaffByID(other.UserID).CurrentCount)
	s.Equal(1, s.fx.StaffByID(s.staff.UserID).CurrentCount)
	s.Equal([]id.UnitID{s.unit.ID}, s.triggered)
}

func (s *OverrideServiceSuite) TestSameAssigneeConflicts() {
	previous := s.fx.Assign(s.staff, models.PriorityNormal, assignmenttest.Epoch, assignmenttest.Epoch.Add(time.Hour))
	_, err := s.service.Override(s.supervisorCtx(), Request{
		WorkItemID: previous.WorkItemID,
		AssigneeID: s.staff.UserID,
		Reason:     "no change at all here",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *OverrideServiceSuite) TestReasonValidation() {
	entry := s.fx.Enqueue(s.unit, models.PriorityNormal)
	tests := []struct {
		name   string
		reason string
	}{
		{"empty", ""},
		{"nine characters", "123456789"},
		{"short after trim", "   short    "},
		{"too long", strings.Repeat("r", 1001)},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Override(s.supervisorCtx(), Request{WorkItemID: entry.WorkItemID, AssigneeID: s.staff.UserID, Reason: tt.reason})
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
	_, err := s.fx.Store.GetQueueEntryByWorkItem(context.Background(), entry.WorkItemID)
	s.NoError(err, "rejected overrides change nothing")
}

func (s *OverrideServiceSuite) TestTenCharacterReasonAccepted() {
	entry := s.fx.Enqueue(s.unit, models.PriorityNormal)
	_, err := s.service.Override(s.supervisorCtx(), Request{WorkItemID: entry.WorkItemID, AssigneeID: s.staff.UserID, Reason: "1234567890"})
	s.NoError(err)
}

func (s *OverrideServiceSuite) TestPermissions() {
	entry := s.fx.Enqueue(s.unit, models.PriorityNormal)
	req := Request{WorkItemID: entry.WorkItemID, AssigneeID: s.staff.UserID, Reason: "valid override reason"}

	_, err := s.service.Override(s.as(s.staff.UserID, id.RoleStaff), req)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	foreign := s.fx.Staff(s.fx.Unit(0), 0, assignmenttest.WithRole(id.RoleSupervisor))
	_, err = s.service.Override(s.as(foreign.UserID, id.RoleSupervisor), req)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Len(s.auditStore.ListByAction(context.Background(), audit.EventPermissionDenied), 1)

	_, err = s.service.Override(s.as(id.UserID(uuid.New()), id.RoleAdmin), req)
	s.NoError(err)
}

func (s *OverrideServiceSuite) TestUnknownWorkItemAndStaff() {
	_, err := s.service.Override(s.supervisorCtx(), Request{
		WorkItemID: id.WorkItemID(uuid.New()),
		AssigneeID: s.staff.UserID,
		Reason:     "nothing to override",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	entry := s.fx.Enqueue(s.unit, models.PriorityNormal)
	_, err = s.service.Override(s.supervisorCtx(), Request{
		WorkItemID: entry.WorkItemID,
		AssigneeID: id.UserID(uuid.New()),
		Reason:     "nobody by that id",
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
