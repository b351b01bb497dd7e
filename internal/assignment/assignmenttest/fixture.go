// Package assignmenttest builds in-memory units, staff and queue entries for
// service tests.
package assignmenttest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"casework/internal/assignment/models"
	"casework/internal/assignment/store"
	id "casework/pkg/domain"
)

// Epoch is the fixed clock every fixture uses.
var Epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type Fixture struct {
	t     testing.TB
	Store *store.InMemoryStore
	seq   time.Duration
}

func New(t testing.TB) *Fixture {
	return &Fixture{t: t, Store: store.NewInMemory()}
}

// Unit saves a unit with the given ceiling (0 means none).
func (f *Fixture) Unit(wipLimit int) *models.Unit {
	u := &models.Unit{ID: id.UnitID(uuid.New()), Name: "unit", WIPLimit: wipLimit}
	require.NoError(f.t, f.Store.SaveUnit(context.Background(), u))
	return u
}

type StaffOption func(*models.StaffProfile)

func WithSkills(skills ...string) StaffOption {
	return func(p *models.StaffProfile) { p.Skills = skills }
}

func WithRole(role id.Role) StaffOption {
	return func(p *models.StaffProfile) { p.Role = role }
}

func WithChain(recipient id.UserID) StaffOption {
	return func(p *models.StaffProfile) { p.EscalationChainID = &recipient }
}

func WithAvailability(status models.AvailabilityStatus) StaffOption {
	return func(p *models.StaffProfile) { p.Availability = status }
}

// Staff saves an available staff member with the given individual limit.
func (f *Fixture) Staff(unit *models.Unit, wipLimit int, opts ...StaffOption) *models.StaffProfile {
	p := &models.StaffProfile{
		UserID:       id.UserID(uuid.New()),
		UnitID:       unit.ID,
		WIPLimit:     wipLimit,
		Availability: models.AvailabilityAvailable,
		Role:         id.RoleStaff,
	}
	for _, opt := range opts {
		opt(p)
	}
	require.NoError(f.t, f.Store.SaveStaff(context.Background(), p))
	return p
}

// Enqueue adds a queue entry; each call is one second later than the last.
func (f *Fixture) Enqueue(unit *models.Unit, priority models.Priority, skills ...string) *models.QueueEntry {
	f.seq += time.Second
	e := &models.QueueEntry{
		ID:             id.QueueEntryID(uuid.New()),
		WorkItemID:     id.WorkItemID(uuid.New()),
		WorkItemType:   models.WorkItemTicket,
		RequiredSkills: skills,
		Priority:       priority,
		CreatedAt:      Epoch.Add(f.seq),
	}
	if unit != nil {
		e.UnitID = unit.ID
	}
	require.NoError(f.t, f.Store.Enqueue(context.Background(), e))
	return e
}

// Assign creates an active assignment and reserves the assignee's capacity.
func (f *Fixture) Assign(assignee *models.StaffProfile, priority models.Priority, assignedAt, deadline time.Time) *models.Assignment {
	ctx := context.Background()
	a := &models.Assignment{
		ID:           id.AssignmentID(uuid.New()),
		WorkItemID:   id.WorkItemID(uuid.New()),
		WorkItemType: models.WorkItemTicket,
		AssigneeID:   assignee.UserID,
		UnitID:       assignee.UnitID,
		AssignedAt:   assignedAt,
		Priority:     priority,
		SLADeadline:  deadline,
		Status:       models.StatusAssigned,
	}
	_, err := f.Store.ForceReserve(ctx, assignee.UserID)
	require.NoError(f.t, err)
	require.NoError(f.t, f.Store.CreateAssignment(ctx, a))
	return a
}

func (f *Fixture) StaffByID(userID id.UserID) *models.StaffProfile {
	p, err := f.Store.GetStaff(context.Background(), userID)
	require.NoError(f.t, err)
	return p
}

func (f *Fixture) UnitByID(unitID id.UnitID) *models.Unit {
	u, err := f.Store.GetUnit(context.Background(), unitID)
	require.NoError(f.t, err)
	return u
}
