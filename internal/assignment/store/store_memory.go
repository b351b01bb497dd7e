package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"casework/internal/assignment/models"
	id "casework/pkg/domain"
	"casework/pkg/platform/sentinel"
)

type memTxKey struct{}

// InMemoryStore keeps all engine state behind one mutex. RunInTx holds the
// mutex for the whole callback and restores a snapshot when it fails, so
// multi-step operations are atomic like their Postgres counterparts.
type InMemoryStore struct {
	mu sync.Mutex
	st *state
}

type state struct {
	units       map[id.UnitID]*models.Unit
	staff       map[id.UserID]*models.StaffProfile
	queue       map[id.QueueEntryID]*models.QueueEntry
	assignments map[id.AssignmentID]*models.Assignment
	escalations map[id.EscalationID]*models.EscalationEvent
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{st: newState()}
}

func newState() *state {
	return &state{
		units:       make(map[id.UnitID]*models.Unit),
		staff:       make(map[id.UserID]*models.StaffProfile),
		queue:       make(map[id.QueueEntryID]*models.QueueEntry),
		assignments: make(map[id.AssignmentID]*models.Assignment),
		escalations: make(map[id.EscalationID]*models.EscalationEvent),
	}
}

func (st *state) clone() *state {
	out := newState()
	for k, v := range st.units {
		out.units[k] = cloneUnit(v)
	}
	for k, v := range st.staff {
		out.staff[k] = cloneStaff(v)
	}
	for k, v := range st.queue {
		out.queue[k] = cloneEntry(v)
	}
	for k, v := range st.assignments {
		out.assignments[k] = cloneAssignment(v)
	}
	for k, v := range st.escalations {
		out.escalations[k] = cloneEscalation(v)
	}
	return out
}

// lock takes the mutex unless ctx already runs inside this store's RunInTx.
func (s *InMemoryStore) lock(ctx context.Context) func() {
	if owner, ok := ctx.Value(memTxKey{}).(*InMemoryStore); ok && owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(memTxKey{}).(*InMemoryStore); ok && owner == s {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Directory
// -----------------------------------------------------------------------------

func (s *InMemoryStore) SaveUnit(ctx context.Context, unit *models.Unit) error {
	defer s.lock(ctx)()
	s.st.units[unit.ID] = cloneUnit(unit)
	return nil
}

// SaveStaff upserts a profile. The unit must exist.
func (s *InMemoryStore) SaveStaff(ctx context.Context, staff *models.StaffProfile) error {
	defer s.lock(ctx)()
	if _, ok := s.st.units[staff.UnitID]; !ok {
		return sentinel.ErrNotFound
	}
	s.st.staff[staff.UserID] = cloneStaff(staff)
	return nil
}

// -----------------------------------------------------------------------------
// Staff
// -----------------------------------------------------------------------------

func (s *InMemoryStore) GetStaff(ctx context.Context, userID id.UserID) (*models.StaffProfile, error) {
	defer s.lock(ctx)()
	staff, ok := s.st.staff[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneStaff(staff), nil
}

func (s *InMemoryStore) ListStaffByUnit(ctx context.Context, unitID id.UnitID) ([]*models.StaffProfile, error) {
	defer s.lock(ctx)()
	var out []*models.StaffProfile
	for _, staff := range s.st.staff {
		if staff.UnitID == unitID {
			out = append(out, cloneStaff(staff))
		}
	}
	slices.SortFunc(out, func(a, b *models.StaffProfile) int {
		if a.CurrentCount != b.CurrentCount {
			return a.CurrentCount - b.CurrentCount
		}
		return compareIDs(a.UserID.String(), b.UserID.String())
	})
	return out, nil
}

func (s *InMemoryStore) GetUnit(ctx context.Context, unitID id.UnitID) (*models.Unit, error) {
	defer s.lock(ctx)()
	unit, ok := s.st.units[unitID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneUnit(unit), nil
}

func (s *InMemoryStore) UpdateAvailability(ctx context.Context, userID id.UserID, change models.AvailabilityChange) (*models.StaffProfile, error) {
	defer s.lock(ctx)()
	staff, ok := s.st.staff[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	before := cloneStaff(staff)
	staff.Availability = change.Status
	staff.UnavailableUntil = cloneTime(change.Until)
	staff.UnavailableReason = change.Reason
	staff.AvailabilitySource = change.Source
	return before, nil
}

func (s *InMemoryStore) ExpireAbsences(ctx context.Context, now time.Time) ([]id.UserID, error) {
	defer s.lock(ctx)()
	var expired []id.UserID
	for _, staff := range s.st.staff {
		if staff.Availability == models.AvailabilityAvailable || staff.UnavailableUntil == nil {
			continue
		}
		if staff.UnavailableUntil.After(now) {
			continue
		}
		staff.Availability = models.AvailabilityAvailable
		staff.UnavailableUntil = nil
		staff.UnavailableReason = ""
		staff.AvailabilitySource = models.SourceSystem
		expired = append(expired, staff.UserID)
	}
	return expired, nil
}

// -----------------------------------------------------------------------------
// Capacity
// -----------------------------------------------------------------------------

func (s *InMemoryStore) TryReserve(ctx context.Context, staffID id.UserID) (bool, error) {
	defer s.lock(ctx)()
	staff, unit, err := s.staffAndUnit(staffID)
	if err != nil {
		return false, err
	}
	if !staff.IsAvailable() || !staff.HasFreeSlot() || !unit.HasFreeSlot() {
		return false, nil
	}
	staff.CurrentCount++
	unit.CurrentCount++
	return true, nil
}

func (s *InMemoryStore) ForceReserve(ctx context.Context, staffID id.UserID) (bool, error) {
	defer s.lock(ctx)()
	staff, unit, err := s.staffAndUnit(staffID)
	if err != nil {
		return false, err
	}
	exceeded := !staff.HasFreeSlot() || !unit.HasFreeSlot()
	staff.CurrentCount++
	unit.CurrentCount++
	return exceeded, nil
}

func (s *InMemoryStore) Release(ctx context.Context, staffID id.UserID) error {
	defer s.lock(ctx)()
	staff, unit, err := s.staffAndUnit(staffID)
	if err != nil {
		return err
	}
	if staff.CurrentCount == 0 {
		return nil
	}
	staff.CurrentCount--
	if unit.CurrentCount > 0 {
		unit.CurrentCount--
	}
	return nil
}

func (s *InMemoryStore) Transfer(ctx context.Context, from, to id.UserID) (bool, error) {
	defer s.lock(ctx)()
	src, ok := s.st.staff[from]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	dst, ok := s.st.staff[to]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if src.UnitID != dst.UnitID || !dst.IsAvailable() || !dst.HasFreeSlot() {
		return false, nil
	}
	dst.CurrentCount++
	if src.CurrentCount > 0 {
		src.CurrentCount--
	}
	return true, nil
}

func (s *InMemoryStore) staffAndUnit(staffID id.UserID) (*models.StaffProfile, *models.Unit, error) {
	staff, ok := s.st.staff[staffID]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}
	unit, ok := s.st.units[staff.UnitID]
	if !ok {
		return nil, nil, sentinel.ErrNotFound
	}
	return staff, unit, nil
}

// -----------------------------------------------------------------------------
// Queue
// -----------------------------------------------------------------------------

func (s *InMemoryStore) Enqueue(ctx context.Context, entry *models.QueueEntry) error {
	defer s.lock(ctx)()
	for _, existing := range s.st.queue {
		if existing.WorkItemID == entry.WorkItemID {
			return sentinel.ErrConflict
		}
	}
	s.st.queue[entry.ID] = cloneEntry(entry)
	return nil
}

func (s *InMemoryStore) GetQueueEntryByWorkItem(ctx context.Context, workItemID id.WorkItemID) (*models.QueueEntry, error) {
	defer s.lock(ctx)()
	for _, entry := range s.st.queue {
		if entry.WorkItemID == workItemID {
			return cloneEntry(entry), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListQueue(ctx context.Context, unitID id.UnitID) ([]*models.QueueEntry, error) {
	defer s.lock(ctx)()
	var out []*models.QueueEntry
	for _, entry := range s.st.queue {
		if entry.UnitID == unitID {
			out = append(out, cloneEntry(entry))
		}
	}
	slices.SortFunc(out, models.QueueOrder)
	return out, nil
}

func (s *InMemoryStore) ListQueuedUnits(ctx context.Context) ([]id.UnitID, error) {
	defer s.lock(ctx)()
	seen := make(map[id.UnitID]struct{})
	var out []id.UnitID
	for _, entry := range s.st.queue {
		if !entry.HasUnit() {
			continue
		}
		if _, ok := seen[entry.UnitID]; ok {
			continue
		}
		seen[entry.UnitID] = struct{}{}
		out = append(out, entry.UnitID)
	}
	slices.SortFunc(out, func(a, b id.UnitID) int { return compareIDs(a.String(), b.String()) })
	return out, nil
}

func (s *InMemoryStore) ListStranded(ctx context.Context) ([]*models.QueueEntry, error) {
	defer s.lock(ctx)()
	var out []*models.QueueEntry
	for _, entry := range s.st.queue {
		if !entry.HasUnit() {
			out = append(out, cloneEntry(entry))
		}
	}
	slices.SortFunc(out, models.QueueOrder)
	return out, nil
}

func (s *InMemoryStore) DeleteQueueEntry(ctx context.Context, entryID id.QueueEntryID) error {
	defer s.lock(ctx)()
	if _, ok := s.st.queue[entryID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.st.queue, entryID)
	return nil
}

// -----------------------------------------------------------------------------
// Assignments
// -----------------------------------------------------------------------------

func (s *InMemoryStore) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	defer s.lock(ctx)()
	for _, existing := range s.st.assignments {
		if existing.WorkItemID == a.WorkItemID && existing.IsActive() {
			return sentinel.ErrConflict
		}
	}
	s.st.assignments[a.ID] = cloneAssignment(a)
	return nil
}

func (s *InMemoryStore) GetAssignment(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	defer s.lock(ctx)()
	a, ok := s.st.assignments[assignmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneAssignment(a), nil
}

func (s *InMemoryStore) GetActiveByWorkItem(ctx context.Context, workItemID id.WorkItemID) (*models.Assignment, error) {
	defer s.lock(ctx)()
	for _, a := range s.st.assignments {
		if a.WorkItemID == workItemID && a.IsActive() {
			return cloneAssignment(a), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListActive(ctx context.Context) ([]*models.Assignment, error) {
	defer s.lock(ctx)()
	return s.activeWhere(func(*models.Assignment) bool { return true }), nil
}

func (s *InMemoryStore) ListActiveByAssignee(ctx context.Context, assigneeID id.UserID) ([]*models.Assignment, error) {
	defer s.lock(ctx)()
	return s.activeWhere(func(a *models.Assignment) bool { return a.AssigneeID == assigneeID }), nil
}

func (s *InMemoryStore) activeWhere(match func(*models.Assignment) bool) []*models.Assignment {
	var out []*models.Assignment
	for _, a := range s.st.assignments {
		if a.IsActive() && match(a) {
			out = append(out, cloneAssignment(a))
		}
	}
	slices.SortFunc(out, func(a, b *models.Assignment) int {
		if c := a.AssignedAt.Compare(b.AssignedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID.String(), b.ID.String())
	})
	return out
}

func (s *InMemoryStore) CloseAssignment(ctx context.Context, assignmentID id.AssignmentID, status models.AssignmentStatus, at time.Time) (bool, error) {
	return s.updateActive(ctx, assignmentID, func(a *models.Assignment) bool {
		a.Status = status
		a.ClosedAt = &at
		return true
	})
}

func (s *InMemoryStore) StartAssignment(ctx context.Context, assignmentID id.AssignmentID) (bool, error) {
	return s.updateActive(ctx, assignmentID, func(a *models.Assignment) bool {
		if a.Status != models.StatusAssigned {
			return false
		}
		a.Status = models.StatusInProgress
		return true
	})
}

func (s *InMemoryStore) MarkWarningSent(ctx context.Context, assignmentID id.AssignmentID, at time.Time) (bool, error) {
	return s.updateActive(ctx, assignmentID, func(a *models.Assignment) bool {
		if a.WarningSentAt != nil {
			return false
		}
		a.WarningSentAt = &at
		return true
	})
}

func (s *InMemoryStore) MarkEscalated(ctx context.Context, assignmentID id.AssignmentID, recipientID id.UserID, at time.Time) (bool, error) {
	return s.updateActive(ctx, assignmentID, func(a *models.Assignment) bool {
		if a.EscalatedAt != nil {
			return false
		}
		a.EscalatedAt = &at
		a.EscalationRecipientID = &recipientID
		return true
	})
}

func (s *InMemoryStore) SetNeedsReview(ctx context.Context, assignmentID id.AssignmentID, needsReview bool) (bool, error) {
	return s.updateActive(ctx, assignmentID, func(a *models.Assignment) bool {
		if a.NeedsReview == needsReview {
			return false
		}
		a.NeedsReview = needsReview
		return true
	})
}

func (s *InMemoryStore) AddObserver(ctx context.Context, assignmentID id.AssignmentID, userID id.UserID) error {
	defer s.lock(ctx)()
	a, ok := s.st.assignments[assignmentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !a.HasObserver(userID) {
		a.Observers = append(a.Observers, userID)
	}
	return nil
}

// updateActive applies mutate to an active assignment. mutate returns false
// when its guard does not hold; the assignment is then left untouched.
func (s *InMemoryStore) updateActive(ctx context.Context, assignmentID id.AssignmentID, mutate func(*models.Assignment) bool) (bool, error) {
	defer s.lock(ctx)()
	a, ok := s.st.assignments[assignmentID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if !a.IsActive() {
		return false, nil
	}
	return mutate(a), nil
}

// -----------------------------------------------------------------------------
// Escalations
// -----------------------------------------------------------------------------

func (s *InMemoryStore) CreateEscalation(ctx context.Context, e *models.EscalationEvent) error {
	defer s.lock(ctx)()
	for _, existing := range s.st.escalations {
		if existing.AssignmentID == e.AssignmentID && existing.Reason == e.Reason && existing.IsOpen() {
			return sentinel.ErrConflict
		}
	}
	s.st.escalations[e.ID] = cloneEscalation(e)
	return nil
}

func (s *InMemoryStore) GetEscalation(ctx context.Context, escalationID id.EscalationID) (*models.EscalationEvent, error) {
	defer s.lock(ctx)()
	e, ok := s.st.escalations[escalationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEscalation(e), nil
}

func (s *InMemoryStore) ListEscalationsByAssignment(ctx context.Context, assignmentID id.AssignmentID) ([]*models.EscalationEvent, error) {
	defer s.lock(ctx)()
	return s.escalationsWhere(func(e *models.EscalationEvent) bool { return e.AssignmentID == assignmentID }), nil
}

func (s *InMemoryStore) ListOpenEscalationsForRecipient(ctx context.Context, recipientID id.UserID) ([]*models.EscalationEvent, error) {
	defer s.lock(ctx)()
	return s.escalationsWhere(func(e *models.EscalationEvent) bool { return e.ToID == recipientID && e.IsOpen() }), nil
}

func (s *InMemoryStore) escalationsWhere(match func(*models.EscalationEvent) bool) []*models.EscalationEvent {
	var out []*models.EscalationEvent
	for _, e := range s.st.escalations {
		if match(e) {
			out = append(out, cloneEscalation(e))
		}
	}
	slices.SortFunc(out, func(a, b *models.EscalationEvent) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func (s *InMemoryStore) AcknowledgeEscalation(ctx context.Context, escalationID id.EscalationID, at time.Time) (bool, error) {
	defer s.lock(ctx)()
	e, ok := s.st.escalations[escalationID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if e.AcknowledgedAt != nil {
		return false, nil
	}
	e.AcknowledgedAt = &at
	return true, nil
}

func (s *InMemoryStore) ResolveEscalation(ctx context.Context, escalationID id.EscalationID, resolution string, at time.Time) (bool, error) {
	defer s.lock(ctx)()
	e, ok := s.st.escalations[escalationID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if e.ResolvedAt != nil {
		return false, nil
	}
	e.ResolvedAt = &at
	e.Resolution = resolution
	return true, nil
}
