package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"casework/internal/assignment/models"
	id "casework/pkg/domain"
	"casework/pkg/platform/sentinel"
	txcontext "casework/pkg/platform/tx"
)

// PostgresStore persists engine state in PostgreSQL. Counter and guard writes
// are single conditional UPDATEs; RowsAffected decides the winner.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func (s *PostgresStore) exec(ctx context.Context) txcontext.Executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context, _ txcontext.Executor) error {
		return fn(ctx)
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func applied(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func skillsArg(skills []string) any {
	if skills == nil {
		skills = []string{}
	}
	return pq.Array(skills)
}

func userIDArg(u *id.UserID) any {
	if u == nil || u.IsNil() {
		return nil
	}
	return uuid.UUID(*u)
}

func unitIDArg(u id.UnitID) any {
	if u.IsNil() {
		return nil
	}
	return uuid.UUID(u)
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func userIDFrom(n uuid.NullUUID) *id.UserID {
	if !n.Valid {
		return nil
	}
	u := id.UserID(n.UUID)
	return &u
}

func timeFrom(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// Directory
// -----------------------------------------------------------------------------

func (s *PostgresStore) SaveUnit(ctx context.Context, unit *models.Unit) error {
	query := `
		INSERT INTO units (id, name, wip_limit, current_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, wip_limit = EXCLUDED.wip_limit
	`
	_, err := s.exec(ctx).ExecContext(ctx, query, uuid.UUID(unit.ID), unit.Name, unit.WIPLimit, unit.CurrentCount)
	if err != nil {
		return fmt.Errorf("save unit: %w", err)
	}
	return nil
}

// SaveStaff upserts a profile. current_count is never overwritten on update;
// only the capacity methods move it.
func (s *PostgresStore) SaveStaff(ctx context.Context, staff *models.StaffProfile) error {
	query := `
		INSERT INTO staff_profiles (user_id, unit_id, skills, wip_limit, current_count, availability,
			unavailable_until, unavailable_reason, availability_source, escalation_chain_id, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			unit_id = EXCLUDED.unit_id,
			skills = EXCLUDED.skills,
			wip_limit = EXCLUDED.wip_limit,
			escalation_chain_id = EXCLUDED.escalation_chain_id,
			role = EXCLUDED.role
	`
	_, err := s.exec(ctx).ExecContext(ctx, query,
		uuid.UUID(staff.UserID),
		uuid.UUID(staff.UnitID),
		skillsArg(staff.Skills),
		staff.WIPLimit,
		staff.CurrentCount,
		string(staff.Availability),
		timeArg(staff.UnavailableUntil),
		staff.UnavailableReason,
		string(staff.AvailabilitySource),
		userIDArg(staff.EscalationChainID),
		string(staff.Role),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("save staff: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Staff
// -----------------------------------------------------------------------------

const staffColumns = `user_id, unit_id, skills, wip_limit, current_count, availability,
	unavailable_until, unavailable_reason, availability_source, escalation_chain_id, role`

func scanStaff(row rowScanner) (*models.StaffProfile, error) {
	var (
		staff        models.StaffProfile
		availability string
		source       string
		role         string
		until        sql.NullTime
		chain        uuid.NullUUID
	)
	err := row.Scan(
		(*uuid.UUID)(&staff.UserID),
		(*uuid.UUID)(&staff.UnitID),
		pq.Array(&staff.Skills),
		&staff.WIPLimit,
		&staff.CurrentCount,
		&availability,
		&until,
		&staff.UnavailableReason,
		&source,
		&chain,
		&role,
	)
	if err != nil {
		return nil, err
	}
	staff.Availability = models.AvailabilityStatus(availability)
	staff.AvailabilitySource = models.AvailabilitySource(source)
	staff.Role = id.Role(role)
	staff.UnavailableUntil = timeFrom(until)
	staff.EscalationChainID = userIDFrom(chain)
	return &staff, nil
}

func (s *PostgresStore) GetStaff(ctx context.Context, userID id.UserID) (*models.StaffProfile, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_profiles WHERE user_id = $1`
	staff, err := scanStaff(s.exec(ctx).QueryRowContext(ctx, query, uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get staff: %w", err)
	}
	return staff, nil
}

func (s *PostgresStore) ListStaffByUnit(ctx context.Context, unitID id.UnitID) ([]*models.StaffProfile, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_profiles WHERE unit_id = $1 ORDER BY current_count ASC, user_id ASC`
	rows, err := s.exec(ctx).QueryContext(ctx, query, uuid.UUID(unitID))
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	var out []*models.StaffProfile
	for rows.Next() {
		staff, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff: %w", err)
		}
		out = append(out, staff)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUnit(ctx context.Context, unitID id.UnitID) (*models.Unit, error) {
	query := `SELECT id, name, wip_limit, current_count FROM units WHERE id = $1`
	var unit models.Unit
	err := s.exec(ctx).QueryRowContext(ctx, query, uuid.UUID(unitID)).
		Scan((*uuid.UUID)(&unit.ID), &unit.Name, &unit.WIPLimit, &unit.CurrentCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return &unit, nil
}

func (s *PostgresStore) UpdateAvailability(ctx context.Context, userID id.UserID, change models.AvailabilityChange) (*models.StaffProfile, error) {
	var before *models.StaffProfile
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + staffColumns + ` FROM staff_profiles WHERE user_id = $1 FOR UPDATE`
		staff, err := scanStaff(s.exec(ctx).QueryRowContext(ctx, query, uuid.UUID(userID)))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock staff: %w", err)
		}
		before = staff

		update := `
			UPDATE staff_profiles
			SET availability = $2, unavailable_until = $3, unavailable_reason = $4, availability_source = $5
			WHERE user_id = $1
		`
		_, err = s.exec(ctx).ExecContext(ctx, update,
			uuid.UUID(userID), string(change.Status), timeArg(change.Until), change.Reason, string(change.Source))
		if err != nil {
			return fmt.Errorf("update availability: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return before, nil
}

func (s *PostgresStore) ExpireAbsences(ctx context.Context, now time.Time) ([]id.UserID, error) {
	query := `
		UPDATE staff_profiles
		SET availability = 'available', unavailable_until = NULL, unavailable_reason = '', availability_source = 'system'
		WHERE availability <> 'available' AND unavailable_until IS NOT NULL AND unavailable_until <= $1
		RETURNING user_id
	`
	rows, err := s.exec(ctx).QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("expire absences: %w", err)
	}
	defer rows.Close()

	var out []id.UserID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan expired staff: %w", err)
		}
		out = append(out, id.UserID(u))
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Capacity
// -----------------------------------------------------------------------------

// TryReserve locks the staff row before the unit row, the same order as
// ForceReserve and Release. Only available staff can take a slot. When the
// unit is full the staff increment is undone in place, so the call is safe
// inside a caller's transaction.
func (s *PostgresStore) TryReserve(ctx context.Context, staffID id.UserID) (bool, error) {
	reserved := false
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		var unitID uuid.UUID
		staffQuery := `
			UPDATE staff_profiles SET current_count = current_count + 1
			WHERE user_id = $1 AND availability = 'available' AND current_count < wip_limit
			RETURNING unit_id
		`
		err := s.exec(ctx).QueryRowContext(ctx, staffQuery, uuid.UUID(staffID)).Scan(&unitID)
		if errors.Is(err, sql.ErrNoRows) {
			return s.requireStaff(ctx, staffID)
		}
		if err != nil {
			return fmt.Errorf("reserve staff slot: %w", err)
		}

		unitQuery := `
			UPDATE units SET current_count = current_count + 1
			WHERE id = $1 AND (wip_limit = 0 OR current_count < wip_limit)
		`
		ok, err := applied(s.exec(ctx).ExecContext(ctx, unitQuery, unitID))
		if err != nil {
			return fmt.Errorf("reserve unit slot: %w", err)
		}
		if !ok {
			_, err = s.exec(ctx).ExecContext(ctx,
				`UPDATE staff_profiles SET current_count = current_count - 1 WHERE user_id = $1`, uuid.UUID(staffID))
			if err != nil {
				return fmt.Errorf("undo staff slot: %w", err)
			}
			return nil
		}
		reserved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return reserved, nil
}

func (s *PostgresStore) requireStaff(ctx context.Context, staffID id.UserID) error {
	var exists bool
	err := s.exec(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM staff_profiles WHERE user_id = $1)`, uuid.UUID(staffID)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check staff: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ForceReserve(ctx context.Context, staffID id.UserID) (bool, error) {
	exceeded := false
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		var (
			unitID    uuid.UUID
			overStaff bool
			overUnit  bool
		)
		staffQuery := `
			UPDATE staff_profiles SET current_count = current_count + 1
			WHERE user_id = $1
			RETURNING unit_id, current_count > wip_limit
		`
		err := s.exec(ctx).QueryRowContext(ctx, staffQuery, uuid.UUID(staffID)).Scan(&unitID, &overStaff)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("force reserve staff slot: %w", err)
		}
		unitQuery := `
			UPDATE units SET current_count = current_count + 1
			WHERE id = $1
			RETURNING wip_limit > 0 AND current_count > wip_limit
		`
		if err := s.exec(ctx).QueryRowContext(ctx, unitQuery, unitID).Scan(&overUnit); err != nil {
			return fmt.Errorf("force reserve unit slot: %w", err)
		}
		exceeded = overStaff || overUnit
		return nil
	})
	return exceeded, err
}

func (s *PostgresStore) Release(ctx context.Context, staffID id.UserID) error {
	return s.RunInTx(ctx, func(ctx context.Context) error {
		var unitID uuid.UUID
		staffQuery := `
			UPDATE staff_profiles SET current_count = current_count - 1
			WHERE user_id = $1 AND current_count > 0
			RETURNING unit_id
		`
		err := s.exec(ctx).QueryRowContext(ctx, staffQuery, uuid.UUID(staffID)).Scan(&unitID)
		if errors.Is(err, sql.ErrNoRows) {
			return s.requireStaff(ctx, staffID)
		}
		if err != nil {
			return fmt.Errorf("release staff slot: %w", err)
		}
		_, err = s.exec(ctx).ExecContext(ctx,
			`UPDATE units SET current_count = current_count - 1 WHERE id = $1 AND current_count > 0`, unitID)
		if err != nil {
			return fmt.Errorf("release unit slot: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Transfer(ctx context.Context, from, to id.UserID) (bool, error) {
	moved := false
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		// Both staff rows are locked in user_id order so opposite transfers
		// cannot deadlock.
		_, err := s.exec(ctx).ExecContext(ctx,
			`SELECT 1 FROM staff_profiles WHERE user_id IN ($1, $2) ORDER BY user_id FOR UPDATE`,
			uuid.UUID(from), uuid.UUID(to))
		if err != nil {
			return fmt.Errorf("lock transfer rows: %w", err)
		}
		takeQuery := `
			UPDATE staff_profiles dst SET current_count = dst.current_count + 1
			FROM staff_profiles src
			WHERE dst.user_id = $2 AND src.user_id = $1
				AND dst.unit_id = src.unit_id
				AND dst.availability = 'available'
				AND dst.current_count < dst.wip_limit
		`
		ok, err := applied(s.exec(ctx).ExecContext(ctx, takeQuery, uuid.UUID(from), uuid.UUID(to)))
		if err != nil {
			return fmt.Errorf("transfer take slot: %w", err)
		}
		if !ok {
			if err := s.requireStaff(ctx, from); err != nil {
				return err
			}
			return s.requireStaff(ctx, to)
		}
		_, err = s.exec(ctx).ExecContext(ctx,
			`UPDATE staff_profiles SET current_count = current_count - 1 WHERE user_id = $1 AND current_count > 0`,
			uuid.UUID(from))
		if err != nil {
			return fmt.Errorf("transfer give slot: %w", err)
		}
		moved = true
		return nil
	})
	return moved, err
}

// -----------------------------------------------------------------------------
// Queue
// -----------------------------------------------------------------------------

const queueColumns = `id, work_item_id, work_item_type, required_skills, priority, unit_id, created_at`

func scanEntry(row rowScanner) (*models.QueueEntry, error) {
	var (
		entry    models.QueueEntry
		itemType string
		priority string
		unitID   uuid.NullUUID
	)
	err := row.Scan(
		(*uuid.UUID)(&entry.ID),
		(*uuid.UUID)(&entry.WorkItemID),
		&itemType,
		pq.Array(&entry.RequiredSkills),
		&priority,
		&unitID,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.WorkItemType = models.WorkItemType(itemType)
	entry.Priority = models.Priority(priority)
	if unitID.Valid {
		entry.UnitID = id.UnitID(unitID.UUID)
	}
	return &entry, nil
}

func (s *PostgresStore) queryEntries(ctx context.Context, query string, args ...any) ([]*models.QueueEntry, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	var out []*models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// lockWorkItem takes a transaction-scoped advisory lock on the work item.
// Enqueue and DeleteQueueEntry take it before touching the queue row, so an
// enqueue waits for an in-flight assignment of the same item to commit.
func (s *PostgresStore) lockWorkItem(ctx context.Context, workItemID id.WorkItemID) error {
	_, err := s.exec(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, uuid.UUID(workItemID))
	if err != nil {
		return fmt.Errorf("lock work item: %w", err)
	}
	return nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, entry *models.QueueEntry) error {
	if err := s.lockWorkItem(ctx, entry.WorkItemID); err != nil {
		return err
	}
	query := `
		INSERT INTO queue_entries (id, work_item_id, work_item_type, required_skills, priority, priority_rank, unit_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.exec(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		uuid.UUID(entry.WorkItemID),
		string(entry.WorkItemType),
		skillsArg(entry.RequiredSkills),
		string(entry.Priority),
		entry.Priority.Rank(),
		unitIDArg(entry.UnitID),
		entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQueueEntryByWorkItem(ctx context.Context, workItemID id.WorkItemID) (*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries WHERE work_item_id = $1`
	entry, err := scanEntry(s.exec(ctx).QueryRowContext(ctx, query, uuid.UUID(workItemID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListQueue(ctx context.Context, unitID id.UnitID) ([]*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries WHERE unit_id = $1 ORDER BY priority_rank DESC, created_at ASC, id ASC`
	return s.queryEntries(ctx, query, uuid.UUID(unitID))
}

func (s *PostgresStore) ListStranded(ctx context.Context) ([]*models.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries WHERE unit_id IS NULL ORDER BY priority_rank DESC, created_at ASC, id ASC`
	return s.queryEntries(ctx, query)
}

func (s *PostgresStore) ListQueuedUnits(ctx context.Context) ([]id.UnitID, error) {
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT DISTINCT unit_id FROM queue_entries WHERE unit_id IS NOT NULL ORDER BY unit_id`)
	if err != nil {
		return nil, fmt.Errorf("list queued units: %w", err)
	}
	defer rows.Close()

	var out []id.UnitID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan unit id: %w", err)
		}
		out = append(out, id.UnitID(u))
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteQueueEntry(ctx context.Context, entryID id.QueueEntryID) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended(work_item_id::text, 0))
		FROM queue_entries WHERE id = $1
	`, uuid.UUID(entryID))
	if err != nil {
		return fmt.Errorf("lock work item: %w", err)
	}
	ok, err := applied(s.exec(ctx).ExecContext(ctx, `DELETE FROM queue_entries WHERE id = $1`, uuid.UUID(entryID)))
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	if !ok {
		return sentinel.ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// Assignments
// -----------------------------------------------------------------------------

const assignmentColumns = `a.id, a.work_item_id, a.work_item_type, a.assignee_id, a.unit_id, a.assigned_at, a.priority,
	a.required_skills, a.sla_deadline, a.status, a.warning_sent_at, a.escalated_at, a.escalation_recipient_id,
	a.needs_review, a.assigned_by, a.override_reason, a.capacity_bypassed, a.closed_at,
	COALESCE((SELECT array_agg(o.user_id::text ORDER BY o.user_id) FROM assignment_observers o WHERE o.assignment_id = a.id), '{}')`

func scanAssignment(row rowScanner) (*models.Assignment, error) {
	var (
		a         models.Assignment
		itemType  string
		priority  string
		status    string
		warning   sql.NullTime
		escalated sql.NullTime
		closed    sql.NullTime
		recipient uuid.NullUUID
		by        uuid.NullUUID
		observers []string
	)
	err := row.Scan(
		(*uuid.UUID)(&a.ID),
		(*uuid.UUID)(&a.WorkItemID),
		&itemType,
		(*uuid.UUID)(&a.AssigneeID),
		(*uuid.UUID)(&a.UnitID),
		&a.AssignedAt,
		&priority,
		pq.Array(&a.RequiredSkills),
		&a.SLADeadline,
		&status,
		&warning,
		&escalated,
		&recipient,
		&a.NeedsReview,
		&by,
		&a.OverrideReason,
		&a.CapacityBypassed,
		&closed,
		pq.Array(&observers),
	)
	if err != nil {
		return nil, err
	}
	a.WorkItemType = models.WorkItemType(itemType)
	a.Priority = models.Priority(priority)
	a.Status = models.AssignmentStatus(status)
	a.WarningSentAt = timeFrom(warning)
	a.EscalatedAt = timeFrom(escalated)
	a.ClosedAt = timeFrom(closed)
	a.EscalationRecipientID = userIDFrom(recipient)
	a.AssignedBy = userIDFrom(by)
	for _, o := range observers {
		u, err := uuid.Parse(o)
		if err != nil {
			return nil, fmt.Errorf("parse observer: %w", err)
		}
		a.Observers = append(a.Observers, id.UserID(u))
	}
	return &a, nil
}

func (s *PostgresStore) queryAssignments(ctx context.Context, query string, args ...any) ([]*models.Assignment, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []*models.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	query := `
		INSERT INTO assignments (id, work_item_id, work_item_type, assignee_id, unit_id, assigned_at, priority,
			required_skills, sla_deadline, status, needs_review, assigned_by, override_reason, capacity_bypassed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.exec(ctx).ExecContext(ctx, query,
		uuid.UUID(a.ID),
		uuid.UUID(a.WorkItemID),
		string(a.WorkItemType),
		uuid.UUID(a.AssigneeID),
		uuid.UUID(a.UnitID),
		a.AssignedAt,
		string(a.Priority),
		skillsArg(a.RequiredSkills),
		a.SLADeadline,
		string(a.Status),
		a.NeedsReview,
		userIDArg(a.AssignedBy),
		a.OverrideReason,
		a.CapacityBypassed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments a WHERE a.id = $1`
	a, err := scanAssignment(s.exec(ctx).QueryRowContext(ctx, query, uuid.UUID(assignmentID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetActiveByWorkItem(ctx context.Context, workItemID id.WorkItemID) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments a
		WHERE a.work_item_id = $1 AND a.status IN ('assigned', 'in_progress')`
	a, err := scanAssignment(s.exec(ctx).QueryRowContext(ctx, query, uuid.UUID(workItemID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get active assignment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments a
		WHERE a.status IN ('assigned', 'in_progress') ORDER BY a.assigned_at ASC, a.id ASC`
	return s.queryAssignments(ctx, query)
}

func (s *PostgresStore) ListActiveByAssignee(ctx context.Context, assigneeID id.UserID) ([]*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments a
		WHERE a.assignee_id = $1 AND a.status IN ('assigned', 'in_progress') ORDER BY a.assigned_at ASC, a.id ASC`
	return s.queryAssignments(ctx, query, uuid.UUID(assigneeID))
}

// guarded runs a conditional UPDATE on an assignment. When nothing changed it
// distinguishes a missing row from a guard that did not hold.
func (s *PostgresStore) guarded(ctx context.Context, assignmentID id.AssignmentID, query string, args ...any) (bool, error) {
	ok, err := applied(s.exec(ctx).ExecContext(ctx, query, append([]any{uuid.UUID(assignmentID)}, args...)...))
	if err != nil {
		return false, fmt.Errorf("update assignment: %w", err)
	}
	if ok {
		return true, nil
	}
	var exists bool
	err = s.exec(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM assignments WHERE id = $1)`, uuid.UUID(assignmentID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check assignment: %w", err)
	}
	if !exists {
		return false, sentinel.ErrNotFound
	}
	return false, nil
}

func (s *PostgresStore) CloseAssignment(ctx context.Context, assignmentID id.AssignmentID, status models.AssignmentStatus, at time.Time) (bool, error) {
	return s.guarded(ctx, assignmentID, `
		UPDATE assignments SET status = $2, closed_at = $3
		WHERE id = $1 AND status IN ('assigned', 'in_progress')
	`, string(status), at)
}

func (s *PostgresStore) StartAssignment(ctx context.Context, assignmentID id.AssignmentID) (bool, error) {
	return s.guarded(ctx, assignmentID, `
		UPDATE assignments SET status = 'in_progress'
		WHERE id = $1 AND status = 'assigned'
	`)
}

func (s *PostgresStore) MarkWarningSent(ctx context.Context, assignmentID id.AssignmentID, at time.Time) (bool, error) {
	return s.guarded(ctx, assignmentID, `
		UPDATE assignments SET warning_sent_at = $2
		WHERE id = $1 AND warning_sent_at IS NULL AND status IN ('assigned', 'in_progress')
	`, at)
}

func (s *PostgresStore) MarkEscalated(ctx context.Context, assignmentID id.AssignmentID, recipientID id.UserID, at time.Time) (bool, error) {
	return s.guarded(ctx, assignmentID, `
		UPDATE assignments SET escalated_at = $2, escalation_recipient_id = $3
		WHERE id = $1 AND escalated_at IS NULL AND status IN ('assigned', 'in_progress')
	`, at, uuid.UUID(recipientID))
}

func (s *PostgresStore) SetNeedsReview(ctx context.Context, assignmentID id.AssignmentID, needsReview bool) (bool, error) {
	return s.guarded(ctx, assignmentID, `
		UPDATE assignments SET needs_review = $2
		WHERE id = $1 AND needs_review <> $2 AND status IN ('assigned', 'in_progress')
	`, needsReview)
}

func (s *PostgresStore) AddObserver(ctx context.Context, assignmentID id.AssignmentID, userID id.UserID) error {
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO assignment_observers (assignment_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, uuid.UUID(assignmentID), uuid.UUID(userID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("add observer: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Escalations
// -----------------------------------------------------------------------------

const escalationColumns = `id, assignment_id, from_id, to_id, reason, note, created_at, acknowledged_at, resolved_at, resolution`

func scanEscalation(row rowScanner) (*models.EscalationEvent, error) {
	var (
		e        models.EscalationEvent
		reason   string
		acked    sql.NullTime
		resolved sql.NullTime
	)
	err := row.Scan(
		(*uuid.UUID)(&e.ID),
		(*uuid.UUID)(&e.AssignmentID),
		(*uuid.UUID)(&e.FromID),
		(*uuid.UUID)(&e.ToID),
		&reason,
		&e.Note,
		&e.CreatedAt,
		&acked,
		&resolved,
		&e.Resolution,
	)
	if err != nil {
		return nil, err
	}
	e.Reason = models.EscalationReason(reason)
	e.AcknowledgedAt = timeFrom(acked)
	e.ResolvedAt = timeFrom(resolved)
	return &e, nil
}

func (s *PostgresStore) queryEscalations(ctx context.Context, query string, args ...any) ([]*models.EscalationEvent, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()

	var out []*models.EscalationEvent
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateEscalation(ctx context.Context, e *models.EscalationEvent) error {
	query := `
		INSERT INTO escalation_events (id, assignment_id, from_id, to_id, reason, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.exec(ctx).ExecContext(ctx, query,
		uuid.UUID(e.ID),
		uuid.UUID(e.AssignmentID),
		uuid.UUID(e.FromID),
		uuid.UUID(e.ToID),
		string(e.Reason),
		e.Note,
		e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create escalation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEscalation(ctx context.Context, escalationID id.EscalationID) (*models.EscalationEvent, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalation_events WHERE id = $1`
	e, err := scanEscalation(s.exec(ctx).QueryRowContext(ctx, query, uuid.UUID(escalationID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListEscalationsByAssignment(ctx context.Context, assignmentID id.AssignmentID) ([]*models.EscalationEvent, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalation_events WHERE assignment_id = $1 ORDER BY created_at ASC`
	return s.queryEscalations(ctx, query, uuid.UUID(assignmentID))
}

func (s *PostgresStore) ListOpenEscalationsForRecipient(ctx context.Context, recipientID id.UserID) ([]*models.EscalationEvent, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalation_events
		WHERE to_id = $1 AND resolved_at IS NULL ORDER BY created_at ASC`
	return s.queryEscalations(ctx, query, uuid.UUID(recipientID))
}

func (s *PostgresStore) escalationGuarded(ctx context.Context, escalationID id.EscalationID, query string, args ...any) (bool, error) {
	ok, err := applied(s.exec(ctx).ExecContext(ctx, query, append([]any{uuid.UUID(escalationID)}, args...)...))
	if err != nil {
		return false, fmt.Errorf("update escalation: %w", err)
	}
	if ok {
		return true, nil
	}
	if _, err := s.GetEscalation(ctx, escalationID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) AcknowledgeEscalation(ctx context.Context, escalationID id.EscalationID, at time.Time) (bool, error) {
	return s.escalationGuarded(ctx, escalationID,
		`UPDATE escalation_events SET acknowledged_at = $2 WHERE id = $1 AND acknowledged_at IS NULL`, at)
}

func (s *PostgresStore) ResolveEscalation(ctx context.Context, escalationID id.EscalationID, resolution string, at time.Time) (bool, error) {
	return s.escalationGuarded(ctx, escalationID,
		`UPDATE escalation_events SET resolved_at = $2, resolution = $3 WHERE id = $1 AND resolved_at IS NULL`,
		at, resolution)
}
