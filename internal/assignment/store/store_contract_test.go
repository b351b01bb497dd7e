package store

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"casework/internal/assignment/models"
	"casework/internal/assignment/ports"
	id "casework/pkg/domain"
	"casework/pkg/platform/sentinel"
)

// contractSuite holds behaviour both backends must share. Concrete suites set
// store in SetupTest.
type contractSuite struct {
	suite.Suite
	store ports.Store
	now   time.Time
}

func (s *contractSuite) unit(limit int) *models.Unit {
	u := &models.Unit{ID: id.UnitID(uuid.New()), Name: "consular", WIPLimit: limit}
	s.Require().NoError(s.store.SaveUnit(context.Background(), u))
	return u
}

func (s *contractSuite) staff(unitID id.UnitID, limit int, skills ...string) *models.StaffProfile {
	p := &models.StaffProfile{
		UserID:             id.UserID(uuid.New()),
		UnitID:             unitID,
		Skills:             skills,
		WIPLimit:           limit,
		Availability:       models.AvailabilityAvailable,
		AvailabilitySource: models.SourceSystem,
		Role:               id.RoleStaff,
	}
	s.Require().NoError(s.store.SaveStaff(context.Background(), p))
	return p
}

func (s *contractSuite) assignment(assignee *models.StaffProfile, priority models.Priority) *models.Assignment {
	a := &models.Assignment{
		ID:           id.AssignmentID(uuid.New()),
		WorkItemID:   id.WorkItemID(uuid.New()),
		WorkItemType: models.WorkItemTicket,
		AssigneeID:   assignee.UserID,
		UnitID:       assignee.UnitID,
		AssignedAt:   s.now,
		Priority:     priority,
		SLADeadline:  s.now.Add(8 * time.Hour),
		Status:       models.StatusAssigned,
	}
	s.Require().NoError(s.store.CreateAssignment(context.Background(), a))
	return a
}

func (s *contractSuite) entry(unitID id.UnitID, priority models.Priority, createdAt time.Time) *models.QueueEntry {
	e := &models.QueueEntry{
		ID:           id.QueueEntryID(uuid.New()),
		WorkItemID:   id.WorkItemID(uuid.New()),
		WorkItemType: models.WorkItemTask,
		Priority:     priority,
		UnitID:       unitID,
		CreatedAt:    createdAt,
	}
	s.Require().NoError(s.store.Enqueue(context.Background(), e))
	return e
}

func (s *contractSuite) TestTryReserve() {
	ctx := context.Background()

	s.Run("respects the individual limit", func() {
		u := s.unit(0)
		p := s.staff(u.ID, 1)

		ok, err := s.store.TryReserve(ctx, p.UserID)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.store.TryReserve(ctx, p.UserID)
		s.Require().NoError(err)
		s.False(ok)

		got, err := s.store.GetStaff(ctx, p.UserID)
		s.Require().NoError(err)
		s.Equal(1, got.CurrentCount)
	})

	s.Run("respects the unit ceiling and leaves no side effect", func() {
		u := s.unit(1)
		a := s.staff(u.ID, 5)
		b := s.staff(u.ID, 5)

		ok, err := s.store.TryReserve(ctx, a.UserID)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.store.TryReserve(ctx, b.UserID)
		s.Require().NoError(err)
		s.False(ok)

		got, err := s.store.GetStaff(ctx, b.UserID)
		s.Require().NoError(err)
		s.Zero(got.CurrentCount)
		unit, err := s.store.GetUnit(ctx, u.ID)
		s.Require().NoError(err)
		s.Equal(1, unit.CurrentCount)
	})

	s.Run("refuses staff who are not available", func() {
		u := s.unit(0)
		p := s.staff(u.ID, 3)
		_, err := s.store.UpdateAvailability(ctx, p.UserID, models.AvailabilityChange{
			Status: models.AvailabilityOnLeave,
			Source: models.SourceManual,
		})
		s.Require().NoError(err)

		ok, err := s.store.TryReserve(ctx, p.UserID)
		s.Require().NoError(err)
		s.False(ok)

		got, err := s.store.GetStaff(ctx, p.UserID)
		s.Require().NoError(err)
		s.Zero(got.CurrentCount)
		unit, err := s.store.GetUnit(ctx, u.ID)
		s.Require().NoError(err)
		s.Zero(unit.CurrentCount)
	})

	s.Run("a full unit inside a caller transaction leaves no staff increment", func() {
		u := s.unit(1)
		a := s.staff(u.ID, 5)
		b := s.staff(u.ID, 5)
		ok, err := s.store.TryReserve(ctx, a.UserID)
		s.Require().NoError(err)
		s.Require().True(ok)

		err = s.store.RunInTx(ctx, func(ctx context.Context) error {
			ok, err := s.store.TryReserve(ctx, b.UserID)
			s.Require().NoError(err)
			s.False(ok)
			return nil
		})
		s.Require().NoError(err)

		got, err := s.store.GetStaff(ctx, b.UserID)
		s.Require().NoError(err)
		s.Zero(got.CurrentCount)
	})

	s.Run("unknown staff is not found", func() {
		_, err := s.store.TryReserve(ctx, id.UserID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("concurrent callers racing for the last slot produce one winner", func() {
		u := s.unit(0)
		p := s.staff(u.ID, 1)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.store.TryReserve(ctx, p.UserID)
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		s.Equal(int32(1), wins.Load())
		got, err := s.store.GetStaff(ctx, p.UserID)
		s.Require().NoError(err)
		s.Equal(1, got.CurrentCount)
	})
}

func (s *contractSuite) TestForceReserveAndRelease() {
	ctx := context.Background()
	u := s.unit(1)
	p := s.staff(u.ID, 1)

	exceeded, err := s.store.ForceReserve(ctx, p.UserID)
	s.Require().NoError(err)
	s.False(exceeded)

	exceeded, err = s.store.ForceReserve(ctx, p.UserID)
	s.Require().NoError(err)
	s.True(exceeded)

	s.Require().NoError(s.store.Release(ctx, p.UserID))
	s.Require().NoError(s.store.Release(ctx, p.UserID))
	s.Require().NoError(s.store.Release(ctx, p.UserID), "release at zero is a no-op")

	got, err := s.store.GetStaff(ctx, p.UserID)
	s.Require().NoError(err)
	s.Zero(got.CurrentCount)
	unit, err := s.store.GetUnit(ctx, u.ID)
	s.Require().NoError(err)
	s.Zero(unit.CurrentCount)
}

func (s *contractSuite) TestTransfer() {
	ctx := context.Background()
	u := s.unit(2)
	from := s.staff(u.ID, 2)
	to := s.staff(u.ID, 1)
	other := s.staff(s.unit(0).ID, 5)

	for _, p := range []*models.StaffProfile{from, from} {
		ok, err := s.store.TryReserve(ctx, p.UserID)
		s.Require().NoError(err)
		s.Require().True(ok)
	}

	s.Run("moves a reservation even when the unit is saturated", func() {
		ok, err := s.store.Transfer(ctx, from.UserID, to.UserID)
		s.Require().NoError(err)
		s.True(ok)

		unit, err := s.store.GetUnit(ctx, u.ID)
		s.Require().NoError(err)
		s.Equal(2, unit.CurrentCount)
	})

	s.Run("refuses a full target", func() {
		ok, err := s.store.Transfer(ctx, from.UserID, to.UserID)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("refuses a target who is not available", func() {
		away := s.staff(u.ID, 3)
		_, err := s.store.UpdateAvailability(ctx, away.UserID, models.AvailabilityChange{
			Status: models.AvailabilityUnavailable,
			Source: models.SourceManual,
		})
		s.Require().NoError(err)

		ok, err := s.store.Transfer(ctx, from.UserID, away.UserID)
		s.Require().NoError(err)
		s.False(ok)

		got, err := s.store.GetStaff(ctx, away.UserID)
		s.Require().NoError(err)
		s.Zero(got.CurrentCount)
	})

	s.Run("refuses a target in another unit", func() {
		ok, err := s.store.Transfer(ctx, from.UserID, other.UserID)
		s.Require().NoError(err)
		s.False(ok)
	})
}

func (s *contractSuite) TestQueueOrdering() {
	ctx := context.Background()
	u := s.unit(0)
	oldLow := s.entry(u.ID, models.PriorityLow, s.now)
	newUrgent := s.entry(u.ID, models.PriorityUrgent, s.now.Add(2*time.Minute))
	oldHigh := s.entry(u.ID, models.PriorityHigh, s.now)
	newHigh := s.entry(u.ID, models.PriorityHigh, s.now.Add(time.Minute))
	stranded := s.entry(id.UnitID{}, models.PriorityUrgent, s.now)

	entries, err := s.store.ListQueue(ctx, u.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 4)
	s.Equal([]id.QueueEntryID{newUrgent.ID, oldHigh.ID, newHigh.ID, oldLow.ID},
		[]id.QueueEntryID{entries[0].ID, entries[1].ID, entries[2].ID, entries[3].ID})

	units, err := s.store.ListQueuedUnits(ctx)
	s.Require().NoError(err)
	s.Contains(units, u.ID)
	s.NotContains(units, id.UnitID{})

	strandedList, err := s.store.ListStranded(ctx)
	s.Require().NoError(err)
	s.Require().Len(strandedList, 1)
	s.Equal(stranded.ID, strandedList[0].ID)

	s.Run("equal timestamps dispatch in id order", func() {
		tied := s.unit(0)
		var want []id.QueueEntryID
		for range 4 {
			want = append(want, s.entry(tied.ID, models.PriorityNormal, s.now).ID)
		}
		slices.SortFunc(want, func(a, b id.QueueEntryID) int { return bytes.Compare(a[:], b[:]) })

		got, err := s.store.ListQueue(ctx, tied.ID)
		s.Require().NoError(err)
		s.Require().Len(got, 4)
		for i, e := range got {
			s.Equal(want[i], e.ID, "position %d", i)
		}
	})

	dup := *oldLow
	dup.ID = id.QueueEntryID(uuid.New())
	s.ErrorIs(s.store.Enqueue(ctx, &dup), sentinel.ErrConflict)

	s.Require().NoError(s.store.DeleteQueueEntry(ctx, oldLow.ID))
	s.ErrorIs(s.store.DeleteQueueEntry(ctx, oldLow.ID), sentinel.ErrNotFound)
}

func (s *contractSuite) TestAssignmentGuards() {
	ctx := context.Background()
	u := s.unit(0)
	p := s.staff(u.ID, 5)
	a := s.assignment(p, models.PriorityHigh)

	s.Run("one active assignment per work item", func() {
		dup := *a
		dup.ID = id.AssignmentID(uuid.New())
		s.ErrorIs(s.store.CreateAssignment(ctx, &dup), sentinel.ErrConflict)
	})

	s.Run("warning guard is write-once", func() {
		ok, err := s.store.MarkWarningSent(ctx, a.ID, s.now)
		s.Require().NoError(err)
		s.True(ok)
		ok, err = s.store.MarkWarningSent(ctx, a.ID, s.now.Add(time.Minute))
		s.Require().NoError(err)
		s.False(ok)

		got, err := s.store.GetAssignment(ctx, a.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got.WarningSentAt)
		s.True(got.WarningSentAt.Equal(s.now))
	})

	s.Run("escalation guard is write-once", func() {
		recipient := id.UserID(uuid.New())
		ok, err := s.store.MarkEscalated(ctx, a.ID, recipient, s.now)
		s.Require().NoError(err)
		s.True(ok)
		ok, err = s.store.MarkEscalated(ctx, a.ID, id.UserID(uuid.New()), s.now)
		s.Require().NoError(err)
		s.False(ok)

		got, err := s.store.GetAssignment(ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(recipient, *got.EscalationRecipientID)
	})

	s.Run("observers are deduplicated", func() {
		observer := id.UserID(uuid.New())
		s.Require().NoError(s.store.AddObserver(ctx, a.ID, observer))
		s.Require().NoError(s.store.AddObserver(ctx, a.ID, observer))
		got, err := s.store.GetAssignment(ctx, a.ID)
		s.Require().NoError(err)
		s.Equal([]id.UserID{observer}, got.Observers)
	})

	s.Run("start then close", func() {
		ok, err := s.store.StartAssignment(ctx, a.ID)
		s.Require().NoError(err)
		s.True(ok)
		ok, err = s.store.StartAssignment(ctx, a.ID)
		s.Require().NoError(err)
		s.False(ok)

		ok, err = s.store.CloseAssignment(ctx, a.ID, models.StatusDone, s.now)
		s.Require().NoError(err)
		s.True(ok)
		ok, err = s.store.CloseAssignment(ctx, a.ID, models.StatusCancelled, s.now)
		s.Require().NoError(err)
		s.False(ok)

		_, err = s.store.GetActiveByWorkItem(ctx, a.WorkItemID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("unknown assignment is not found", func() {
		_, err := s.store.MarkWarningSent(ctx, id.AssignmentID(uuid.New()), s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *contractSuite) TestEscalations() {
	ctx := context.Background()
	u := s.unit(0)
	p := s.staff(u.ID, 5)
	a := s.assignment(p, models.PriorityUrgent)
	to := id.UserID(uuid.New())

	first := &models.EscalationEvent{
		ID: id.EscalationID(uuid.New()), AssignmentID: a.ID, FromID: p.UserID, ToID: to,
		Reason: models.EscalationManual, Note: "blocked on embassy reply", CreatedAt: s.now,
	}
	s.Require().NoError(s.store.CreateEscalation(ctx, first))

	second := *first
	second.ID = id.EscalationID(uuid.New())
	s.ErrorIs(s.store.CreateEscalation(ctx, &second), sentinel.ErrConflict)

	breach := *first
	breach.ID = id.EscalationID(uuid.New())
	breach.Reason = models.EscalationSLABreach
	s.Require().NoError(s.store.CreateEscalation(ctx, &breach), "reasons are guarded independently")

	open, err := s.store.ListOpenEscalationsForRecipient(ctx, to)
	s.Require().NoError(err)
	s.Len(open, 2)

	ok, err := s.store.AcknowledgeEscalation(ctx, first.ID, s.now)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = s.store.AcknowledgeEscalation(ctx, first.ID, s.now)
	s.Require().NoError(err)
	s.False(ok)

	ok, err = s.store.ResolveEscalation(ctx, first.ID, "reply received", s.now)
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.store.CreateEscalation(ctx, &second), "resolving re-opens the reason")

	_, err = s.store.AcknowledgeEscalation(ctx, id.EscalationID(uuid.New()), s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *contractSuite) TestAvailability() {
	ctx := context.Background()
	u := s.unit(0)
	p := s.staff(u.ID, 5)
	until := s.now.Add(time.Hour)

	before, err := s.store.UpdateAvailability(ctx, p.UserID, models.AvailabilityChange{
		Status: models.AvailabilityOnLeave, Until: &until, Reason: "mission travel", Source: models.SourceManual,
	})
	s.Require().NoError(err)
	s.Equal(models.AvailabilityAvailable, before.Availability)

	expired, err := s.store.ExpireAbsences(ctx, s.now)
	s.Require().NoError(err)
	s.Empty(expired)

	expired, err = s.store.ExpireAbsences(ctx, until)
	s.Require().NoError(err)
	s.Equal([]id.UserID{p.UserID}, expired)

	got, err := s.store.GetStaff(ctx, p.UserID)
	s.Require().NoError(err)
	s.Equal(models.AvailabilityAvailable, got.Availability)
	s.Equal(models.SourceSystem, got.AvailabilitySource)
	s.Nil(got.UnavailableUntil)
}

func (s *contractSuite) TestRunInTxRollsBack() {
	ctx := context.Background()
	u := s.unit(0)
	p := s.staff(u.ID, 1)
	e := s.entry(u.ID, models.PriorityNormal, s.now)
	boom := errors.New("boom")

	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.store.TryReserve(ctx, p.UserID)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Require().NoError(s.store.DeleteQueueEntry(ctx, e.ID))
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.GetStaff(ctx, p.UserID)
	s.Require().NoError(err)
	s.Zero(got.CurrentCount)
	_, err = s.store.GetQueueEntryByWorkItem(ctx, e.WorkItemID)
	s.NoError(err)
}

// assignEntry consumes e for assignee the way a dispatch run does: queue row,
// then capacity, then the assignment, all in one transaction.
func (s *contractSuite) assignEntry(ctx context.Context, e *models.QueueEntry, assignee *models.StaffProfile, force bool) error {
	errFull := errors.New("full")
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.DeleteQueueEntry(ctx, e.ID); err != nil {
			return err
		}
		if force {
			if _, err := s.store.ForceReserve(ctx, assignee.UserID); err != nil {
				return err
			}
		} else {
			ok, err := s.store.TryReserve(ctx, assignee.UserID)
			if err != nil {
				return err
			}
			if !ok {
				return errFull
			}
		}
		return s.store.CreateAssignment(ctx, &models.Assignment{
			ID:           id.AssignmentID(uuid.New()),
			WorkItemID:   e.WorkItemID,
			WorkItemType: e.WorkItemType,
			AssigneeID:   assignee.UserID,
			UnitID:       assignee.UnitID,
			AssignedAt:   s.now,
			Priority:     e.Priority,
			SLADeadline:  s.now.Add(8 * time.Hour),
			Status:       models.StatusAssigned,
		})
	})
	if errors.Is(err, errFull) {
		return nil
	}
	return err
}

func (s *contractSuite) TestConcurrentCapacityPathsStayConsistent() {
	ctx := context.Background()
	u := s.unit(0)
	a := s.staff(u.ID, 3)
	b := s.staff(u.ID, 3)
	for range 3 {
		_, err := s.store.ForceReserve(ctx, a.UserID)
		s.Require().NoError(err)
	}

	const rounds = 10
	tried := make([]*models.QueueEntry, rounds)
	forced := make([]*models.QueueEntry, rounds)
	for i := range rounds {
		tried[i] = s.entry(u.ID, models.PriorityNormal, s.now)
		forced[i] = s.entry(u.ID, models.PriorityHigh, s.now)
	}

	var wg sync.WaitGroup
	for i := range rounds {
		wg.Add(3)
		go func() {
			defer wg.Done()
			s.NoError(s.assignEntry(ctx, tried[i], a, false))
		}()
		go func() {
			defer wg.Done()
			s.NoError(s.assignEntry(ctx, forced[i], a, true))
		}()
		go func() {
			defer wg.Done()
			s.NoError(s.store.Release(ctx, a.UserID))
			s.NoError(s.store.Release(ctx, b.UserID))
		}()
	}
	wg.Wait()

	gotA, err := s.store.GetStaff(ctx, a.UserID)
	s.Require().NoError(err)
	gotB, err := s.store.GetStaff(ctx, b.UserID)
	s.Require().NoError(err)
	unit, err := s.store.GetUnit(ctx, u.ID)
	s.Require().NoError(err)
	s.Equal(gotA.CurrentCount+gotB.CurrentCount, unit.CurrentCount)
	s.GreaterOrEqual(gotA.CurrentCount, 0)
}

func (s *contractSuite) TestEnqueueWaitsForInFlightAssignment() {
	ctx := context.Background()
	u := s.unit(0)
	p := s.staff(u.ID, 20)
	errAssigned := errors.New("assigned")

	for range 10 {
		e := s.entry(u.ID, models.PriorityNormal, s.now)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.NoError(s.assignEntry(ctx, e, p, false))
		}()
		go func() {
			defer wg.Done()
			again := &models.QueueEntry{
				ID:           id.QueueEntryID(uuid.New()),
				WorkItemID:   e.WorkItemID,
				WorkItemType: e.WorkItemType,
				Priority:     e.Priority,
				UnitID:       u.ID,
				CreatedAt:    s.now,
			}
			err := s.store.RunInTx(ctx, func(ctx context.Context) error {
				if err := s.store.Enqueue(ctx, again); err != nil {
					return err
				}
				if _, err := s.store.GetActiveByWorkItem(ctx, e.WorkItemID); err == nil {
					return errAssigned
				}
				return nil
			})
			if err != nil && !errors.Is(err, errAssigned) {
				s.ErrorIs(err, sentinel.ErrConflict)
			}
		}()
		wg.Wait()

		_, activeErr := s.store.GetActiveByWorkItem(ctx, e.WorkItemID)
		_, queuedErr := s.store.GetQueueEntryByWorkItem(ctx, e.WorkItemID)
		s.False(activeErr == nil && queuedErr == nil, "work item is both assigned and queued")
	}
}

func (s *contractSuite) TestSaveStaffRequiresUnit() {
	err := s.store.SaveStaff(context.Background(), &models.StaffProfile{
		UserID:             id.UserID(uuid.New()),
		UnitID:             id.UnitID(uuid.New()),
		WIPLimit:           1,
		Availability:       models.AvailabilityAvailable,
		AvailabilitySource: models.SourceSystem,
		Role:               id.RoleStaff,
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}
