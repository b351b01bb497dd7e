package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"

	"casework/internal/assignment/models"
	"casework/internal/assignment/sla"
	"casework/internal/assignment/store"
	id "casework/pkg/domain"
	"casework/pkg/platform/sentinel"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GET(path string) error
	ResponseField(field string) (any, error)
	Store() *store.InMemoryStore
	Now() time.Time
	Unit(name string) (*models.Unit, error)
	SetUnit(name string, u *models.Unit)
	Staff(name string) (*models.StaffProfile, error)
	SetStaff(name string, s *models.StaffProfile)
	StaffName(userID id.UserID) string
	WorkItemID(name string) id.WorkItemID
	NextCreatedAt() time.Time
	Remember(key, value string)
	Recall(key string) (string, error)
}

// RegisterSteps registers roster, engine and store assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &assignmentSteps{tc: tc}

	// Roster
	ctx.Step(`^a unit "([^"]*)" with no unit limit$`, steps.unitWithoutLimit)
	ctx.Step(`^a unit "([^"]*)" with a limit of (\d+)$`, steps.unitWithLimit)
	ctx.Step(`^staff "([^"]*)" is an? (supervisor|admin) in "([^"]*)"$`, steps.manager)
	ctx.Step(`^staff "([^"]*)" in "([^"]*)" with a limit of (\d+)$`, steps.staff)
	ctx.Step(`^staff "([^"]*)" in "([^"]*)" with a limit of (\d+) and skills "([^"]*)"$`, steps.staffWithSkills)
	ctx.Step(`^"([^"]*)" escalates to "([^"]*)"$`, steps.escalatesTo)

	// Work
	ctx.Step(`^work item "([^"]*)" is queued with priority "([^"]*)" for "([^"]*)"$`, steps.queued)
	ctx.Step(`^work item "([^"]*)" is queued with priority "([^"]*)" for "([^"]*)" requiring "([^"]*)"$`, steps.queuedWithSkills)
	ctx.Step(`^"([^"]*)" holds an? "([^"]*)" ticket "([^"]*)" assigned (\d+) (minutes|hours) ago$`, steps.holds)

	// Operations
	ctx.Step(`^I dispatch "([^"]*)"$`, steps.dispatch)
	ctx.Step(`^I run the SLA sweep$`, steps.sweep)
	ctx.Step(`^I set my availability to "([^"]*)"$`, steps.setAvailability)
	ctx.Step(`^I override "([^"]*)" to "([^"]*)" because "([^"]*)"$`, steps.override)
	ctx.Step(`^I escalate "([^"]*)" because "([^"]*)"$`, steps.escalate)
	ctx.Step(`^I list my escalations$`, steps.listEscalations)
	ctx.Step(`^I acknowledge the last escalation$`, steps.acknowledgeLast)
	ctx.Step(`^I check the SLA of "([^"]*)"$`, steps.checkSLA)

	// Store assertions
	ctx.Step(`^work item "([^"]*)" should be assigned to "([^"]*)"$`, steps.shouldBeAssignedTo)
	ctx.Step(`^work item "([^"]*)" should still be queued$`, steps.shouldBeQueued)
	ctx.Step(`^work item "([^"]*)" should be flagged for review$`, steps.shouldBeFlagged)
	ctx.Step(`^"([^"]*)" should hold (\d+) active items?$`, steps.shouldHoldActive)
}

type assignmentSteps struct {
	tc TestContext
}

func (s *assignmentSteps) unitWithoutLimit(ctx context.Context, name string) error {
	return s.unitWithLimit(ctx, name, 0)
}

func (s *assignmentSteps) unitWithLimit(ctx context.Context, name string, limit int) error {
	u := &models.Unit{ID: id.UnitID(uuid.New()), Name: name, WIPLimit: limit}
	if err := s.tc.Store().SaveUnit(ctx, u); err != nil {
		return err
	}
	s.tc.SetUnit(name, u)
	return nil
}

func (s *assignmentSteps) saveStaff(ctx context.Context, name, unitName string, limit int, role id.Role, skills []string) error {
	u, err := s.tc.Unit(unitName)
	if err != nil {
		return err
	}
	p := &models.StaffProfile{
		UserID:       id.UserID(uuid.New()),
		UnitID:       u.ID,
		Skills:       skills,
		WIPLimit:     limit,
		Availability: models.AvailabilityAvailable,
		Role:         role,
	}
	if err := s.tc.Store().SaveStaff(ctx, p); err != nil {
		return err
	}
	s.tc.SetStaff(name, p)
	return nil
}

// Managers carry no work themselves.
func (s *assignmentSteps) manager(ctx context.Context, name, role, unitName string) error {
	return s.saveStaff(ctx, name, unitName, 0, id.Role(role), nil)
}

func (s *assignmentSteps) staff(ctx context.Context, name, unitName string, limit int) error {
	return s.saveStaff(ctx, name, unitName, limit, id.RoleStaff, nil)
}

func (s *assignmentSteps) staffWithSkills(ctx context.Context, name, unitName string, limit int, skills string) error {
	return s.saveStaff(ctx, name, unitName, limit, id.RoleStaff, splitList(skills))
}

func (s *assignmentSteps) escalatesTo(ctx context.Context, name, recipientName string) error {
	p, err := s.tc.Staff(name)
	if err != nil {
		return err
	}
	recipient, err := s.tc.Staff(recipientName)
	if err != nil {
		return err
	}
	p.EscalationChainID = &recipient.UserID
	return s.tc.Store().SaveStaff(ctx, p)
}

func (s *assignmentSteps) queued(ctx context.Context, workItem, priority, unitName string) error {
	return s.queuedWithSkills(ctx, workItem, priority, unitName, "")
}

func (s *assignmentSteps) queuedWithSkills(ctx context.Context, workItem, priority, unitName, skills string) error {
	u, err := s.tc.Unit(unitName)
	if err != nil {
		return err
	}
	return s.tc.Store().Enqueue(ctx, &models.QueueEntry{
		ID:             id.QueueEntryID(uuid.New()),
		WorkItemID:     s.tc.WorkItemID(workItem),
		WorkItemType:   models.WorkItemTicket,
		RequiredSkills: splitList(skills),
		Priority:       models.Priority(priority),
		UnitID:         u.ID,
		CreatedAt:      s.tc.NextCreatedAt(),
	})
}

func (s *assignmentSteps) holds(ctx context.Context, name, priority, workItem string, age int, unit string) error {
	p, err := s.tc.Staff(name)
	if err != nil {
		return err
	}
	elapsed := time.Duration(age) * time.Minute
	if unit == "hours" {
		elapsed = time.Duration(age) * time.Hour
	}
	assignedAt := s.tc.Now().Add(-elapsed)
	deadline := sla.New().Deadline(models.WorkItemTicket, models.Priority(priority), assignedAt)
	if _, err := s.tc.Store().ForceReserve(ctx, p.UserID); err != nil {
		return err
	}
	return s.tc.Store().CreateAssignment(ctx, &models.Assignment{
		ID:           id.AssignmentID(uuid.New()),
		WorkItemID:   s.tc.WorkItemID(workItem),
		WorkItemType: models.WorkItemTicket,
		AssigneeID:   p.UserID,
		UnitID:       p.UnitID,
		AssignedAt:   assignedAt,
		Priority:     models.Priority(priority),
		SLADeadline:  deadline,
		Status:       models.StatusAssigned,
	})
}

func (s *assignmentSteps) dispatch(ctx context.Context, unitName string) error {
	u, err := s.tc.Unit(unitName)
	if err != nil {
		return err
	}
	return s.tc.POST("/units/"+u.ID.String()+"/dispatch", nil)
}

func (s *assignmentSteps) sweep(ctx context.Context) error {
	return s.tc.POST("/sla/sweep", nil)
}

func (s *assignmentSteps) setAvailability(ctx context.Context, status string) error {
	return s.tc.POST("/availability", map[string]any{"status": status})
}

func (s *assignmentSteps) override(ctx context.Context, workItem, assigneeName, reason string) error {
	assignee, err := s.tc.Staff(assigneeName)
	if err != nil {
		return err
	}
	return s.tc.POST("/overrides", map[string]any{
		"work_item_id": s.tc.WorkItemID(workItem),
		"assignee_id":  assignee.UserID,
		"reason":       reason,
	})
}

func (s *assignmentSteps) escalate(ctx context.Context, workItem, reason string) error {
	a, err := s.tc.Store().GetActiveByWorkItem(ctx, s.tc.WorkItemID(workItem))
	if err != nil {
		return fmt.Errorf("work item %q has no active assignment: %w", workItem, err)
	}
	if err := s.tc.POST("/escalations", map[string]any{"assignment_id": a.ID, "reason": reason}); err != nil {
		return err
	}
	if v, err := s.tc.ResponseField("id"); err == nil {
		s.tc.Remember("escalation", fmt.Sprint(v))
	}
	return nil
}

func (s *assignmentSteps) listEscalations(ctx context.Context) error {
	if err := s.tc.GET("/escalations"); err != nil {
		return err
	}
	items, err := s.tc.ResponseField("items")
	if err != nil {
		return err
	}
	if list, ok := items.([]any); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			s.tc.Remember("escalation", fmt.Sprint(first["id"]))
		}
	}
	return nil
}

func (s *assignmentSteps) acknowledgeLast(ctx context.Context) error {
	escalationID, err := s.tc.Recall("escalation")
	if err != nil {
		return err
	}
	return s.tc.POST("/escalations/"+escalationID+"/acknowledge", nil)
}

func (s *assignmentSteps) checkSLA(ctx context.Context, workItem string) error {
	a, err := s.tc.Store().GetActiveByWorkItem(ctx, s.tc.WorkItemID(workItem))
	if err != nil {
		return fmt.Errorf("work item %q has no active assignment: %w", workItem, err)
	}
	return s.tc.GET("/assignments/" + a.ID.String() + "/sla")
}

func (s *assignmentSteps) shouldBeAssignedTo(ctx context.Context, workItem, name string) error {
	a, err := s.tc.Store().GetActiveByWorkItem(ctx, s.tc.WorkItemID(workItem))
	if err != nil {
		return fmt.Errorf("work item %q has no active assignment: %w", workItem, err)
	}
	if got := s.tc.StaffName(a.AssigneeID); got != name {
		return fmt.Errorf("work item %q is assigned to %s, not %s", workItem, got, name)
	}
	return nil
}

func (s *assignmentSteps) shouldBeQueued(ctx context.Context, workItem string) error {
	_, err := s.tc.Store().GetQueueEntryByWorkItem(ctx, s.tc.WorkItemID(workItem))
	if errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("work item %q is not queued", workItem)
	}
	return err
}

func (s *assignmentSteps) shouldBeFlagged(ctx context.Context, workItem string) error {
	a, err := s.tc.Store().GetActiveByWorkItem(ctx, s.tc.WorkItemID(workItem))
	if err != nil {
		return err
	}
	if !a.NeedsReview {
		return fmt.Errorf("work item %q is not flagged for review", workItem)
	}
	return nil
}

func (s *assignmentSteps) shouldHoldActive(ctx context.Context, name string, expected int) error {
	p, err := s.tc.Staff(name)
	if err != nil {
		return err
	}
	active, err := s.tc.Store().ListActiveByAssignee(ctx, p.UserID)
	if err != nil {
		return err
	}
	if len(active) != expected {
		return fmt.Errorf("%s holds %d active item(s), expected %d", name, len(active), expected)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
