package authz

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casework/internal/assignment/assignmenttest"
	id "casework/pkg/domain"
	dErrors "casework/pkg/domain-errors"
	"casework/pkg/requestcontext"
)

func TestFromContext(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))

	userID := id.UserID(uuid.New())
	actor, err := FromContext(requestcontext.WithActor(context.Background(), userID, id.RoleSupervisor))
	require.NoError(t, err)
	assert.Equal(t, userID, actor.UserID)
	assert.Equal(t, id.RoleSupervisor, actor.Role)
}

func TestCanManage(t *testing.T) {
	fx := assignmenttest.New(t)
	unit := fx.Unit(0)
	other := fx.Unit(0)
	target := fx.Staff(unit, 3)
	peer := fx.Staff(unit, 3)
	supervisor := fx.Staff(unit, 3, assignmenttest.WithRole(id.RoleSupervisor))
	foreign := fx.Staff(other, 3, assignmenttest.WithRole(id.RoleSupervisor))
	ctx := context.Background()

	tests := []struct {
		name  string
		actor Actor
		want  bool
	}{
		{"self", Actor{target.UserID, id.RoleStaff}, true},
		{"peer", Actor{peer.UserID, id.RoleStaff}, false},
		{"supervisor of unit", Actor{supervisor.UserID, id.RoleSupervisor}, true},
		{"supervisor of other unit", Actor{foreign.UserID, id.RoleSupervisor}, false},
		{"supervisor without profile", Actor{id.UserID(uuid.New()), id.RoleSupervisor}, false},
		{"admin", Actor{id.UserID(uuid.New()), id.RoleAdmin}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanManage(ctx, fx.Store, tt.actor, target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	err := RequireManage(ctx, fx.Store, Actor{peer.UserID, id.RoleStaff}, target)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestRequireSupervisor(t *testing.T) {
	assert.Error(t, RequireSupervisor(Actor{Role: id.RoleStaff}))
	assert.NoError(t, RequireSupervisor(Actor{Role: id.RoleSupervisor}))
	assert.NoError(t, RequireSupervisor(Actor{Role: id.RoleAdmin}))
}
