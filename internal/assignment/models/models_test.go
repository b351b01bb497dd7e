package models

import (
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "casework/pkg/domain"
)

func TestPriority_RankOrdersUrgentFirst(t *testing.T) {
	for i := 1; i < len(Priorities); i++ {
		assert.Greater(t, Priorities[i-1].Rank(), Priorities[i].Rank())
	}
	assert.False(t, Priority("critical").IsValid())
}

func TestQueueOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	oldLow := &QueueEntry{Priority: PriorityLow, CreatedAt: base}
	newUrgent := &QueueEntry{Priority: PriorityUrgent, CreatedAt: base.Add(time.Hour)}
	oldHigh := &QueueEntry{Priority: PriorityHigh, CreatedAt: base}
	newHigh := &QueueEntry{Priority: PriorityHigh, CreatedAt: base.Add(time.Minute)}

	entries := []*QueueEntry{oldLow, newHigh, newUrgent, oldHigh}
	slices.SortFunc(entries, QueueOrder)

	assert.Equal(t, []*QueueEntry{newUrgent, oldHigh, newHigh, oldLow}, entries)
}

func TestQueueOrder_EqualTimestampsFallBackToID(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first := &QueueEntry{ID: id.QueueEntryID(uuid.MustParse("10000000-0000-4000-8000-000000000000")), Priority: PriorityHigh, CreatedAt: base}
	second := &QueueEntry{ID: id.QueueEntryID(uuid.MustParse("20000000-0000-4000-8000-000000000000")), Priority: PriorityHigh, CreatedAt: base}

	for range 5 {
		entries := []*QueueEntry{second, first}
		slices.SortFunc(entries, QueueOrder)
		assert.Equal(t, []*QueueEntry{first, second}, entries)
	}
	assert.Zero(t, QueueOrder(first, first))
}

func TestStaffProfile_HasSkills(t *testing.T) {
	staff := &StaffProfile{Skills: []string{"consular", "visa", "arabic"}}

	assert.True(t, staff.HasSkills(nil))
	assert.True(t, staff.HasSkills([]string{"visa"}))
	assert.True(t, staff.HasSkills([]string{"arabic", "consular"}))
	assert.False(t, staff.HasSkills([]string{"visa", "protocol"}))
}

func TestUnit_ZeroLimitHasNoCeiling(t *testing.T) {
	assert.True(t, (&Unit{WIPLimit: 0, CurrentCount: 500}).HasFreeSlot())
	assert.False(t, (&Unit{WIPLimit: 2, CurrentCount: 2}).HasFreeSlot())
}

func TestAssignmentStatus_IsActive(t *testing.T) {
	assert.True(t, StatusAssigned.IsActive())
	assert.True(t, StatusInProgress.IsActive())
	assert.False(t, StatusDone.IsActive())
	assert.False(t, StatusCancelled.IsActive())
}
