// Package authz resolves the acting user and checks the staff scope rules
// shared by the assignment services: self, supervisor of the unit, or admin.
package authz

import (
	"context"
	"errors"

	"casework/internal/assignment/models"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/platform/sentinel"
	"casework/pkg/requestcontext"
)

// StaffReader loads staff profiles.
type StaffReader interface {
	GetStaff(ctx context.Context, userID id.UserID) (*models.StaffProfile, error)
}

type Actor struct {
	UserID id.UserID
	Role   id.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == id.RoleAdmin
}

// FromContext returns the authenticated actor or an unauthorized error.
func FromContext(ctx context.Context) (Actor, error) {
	userID := requestcontext.UserID(ctx)
	role := requestcontext.Role(ctx)
	if userID.IsNil() || !role.IsValid() {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return Actor{UserID: userID, Role: role}, nil
}

// RequireSupervisor rejects actors that are neither supervisor nor admin.
func RequireSupervisor(actor Actor) error {
	if !actor.Role.CanSupervise() {
		return dErrors.New(dErrors.CodeForbidden, "supervisor or admin role required")
	}
	return nil
}

// CanManage reports whether actor may act on target: admins on anyone,
// supervisors on staff of their own unit, anyone on themselves.
func CanManage(ctx context.Context, staff StaffReader, actor Actor, target *models.StaffProfile) (bool, error) {
	switch {
	case actor.UserID == target.UserID, actor.IsAdmin():
		return true, nil
	case actor.Role != id.RoleSupervisor:
		return false, nil
	}
	supervisor, err := staff.GetStaff(ctx, actor.UserID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load acting supervisor")
	}
	return supervisor.UnitID == target.UnitID, nil
}

// RequireManage is CanManage returning a forbidden error on refusal.
func RequireManage(ctx context.Context, staff StaffReader, actor Actor, target *models.StaffProfile) error {
	ok, err := CanManage(ctx, staff, actor, target)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden, "not permitted to act on this staff member")
	}
	return nil
}

// LoadStaff translates a missing profile into a not-found error.
func LoadStaff(ctx context.Context, staff StaffReader, userID id.UserID) (*models.StaffProfile, error) {
	p, err := staff.GetStaff(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "staff member not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load staff member")
	}
	return p, nil
}
