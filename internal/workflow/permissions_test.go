package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/bugflow/internal/models"
)

func TestMayTransition(t *testing.T) {
	tests := []struct {
		role   models.Role
		target models.Status
		want   bool
	}{
		{models.RoleDeveloper, models.StatusFixInProgress, true},
		{models.RoleDeveloper, models.StatusFixed, true},
		{models.RoleDeveloper, models.StatusClosed, false},
		{models.RoleDeveloper, models.StatusAssigned, false},
		{models.RoleTester, models.StatusTestingProgress, true},
		{models.RoleTester, models.StatusTestedVerified, true},
		{models.RoleTester, models.StatusReadyForClosure, true},
		{models.RoleTester, models.StatusClosed, true},
		{models.RoleTester, models.StatusFixed, false},
		{models.RoleReporter, models.StatusAssigned, false},
		{models.RoleTeamLead, models.StatusDuplicate, true},
		{models.RoleAdmin, models.StatusTesterAssigned, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"->"+string(tt.target), func(t *testing.T) {
			assert.Equal(t, tt.want, MayTransition(tt.role, tt.target))
		})
	}
}

func TestCheckTransition(t *testing.T) {
	err := CheckTransition(models.ActingUser{Email: "d@example.com", Role: models.RoleDeveloper}, models.StatusClosed)
	assert.ErrorIs(t, err, ErrForbidden)

	assert.NoError(t, CheckTransition(models.ActingUser{Role: models.RoleAdmin}, models.StatusClosed))
}

func TestRequestPermissions(t *testing.T) {
	assert.True(t, MayRequestReallocation(models.RoleDeveloper))
	assert.True(t, MayRequestReopen(models.RoleTester))
	assert.False(t, MayRequestReopen(models.RoleAdmin))
	assert.True(t, MayResolve(models.RoleTeamLead))
	assert.False(t, MayResolve(models.RoleTester))
	assert.False(t, MayManage(models.RoleReporter))
	assert.True(t, MayLogHours(models.RoleDeveloper, models.RoleDeveloper))
	assert.False(t, MayLogHours(models.RoleDeveloper, models.RoleTester))
	assert.True(t, MayLogHours(models.RoleAdmin, models.RoleTester))
	assert.False(t, MayLogHours(models.RoleReporter, models.RoleDeveloper))
}

func TestTransitionGraphIsAcyclic(t *testing.T) {
	// Every edge either moves forward on the track or lands on Duplicate.
	for from, tos := range transitions {
		for _, to := range tos {
			if to == models.StatusDuplicate {
				continue
			}
			assert.Greater(t, to.Ordinal(), from.Ordinal(), "%s -> %s", from, to)
		}
	}
	assert.Empty(t, Successors(models.StatusClosed))
	assert.Empty(t, Successors(models.StatusDuplicate))
	assert.True(t, CanTransition(models.StatusTestedVerified, models.StatusClosed))
	assert.False(t, CanTransition(models.StatusOpen, models.StatusFixInProgress))
}
