package store

import (
	"slices"
	"strings"
	"time"

	"casework/internal/assignment/models"
	id "casework/pkg/domain"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUserID(u *id.UserID) *id.UserID {
	if u == nil {
		return nil
	}
	v := *u
	return &v
}

func cloneUnit(u *models.Unit) *models.Unit {
	c := *u
	return &c
}

func cloneStaff(s *models.StaffProfile) *models.StaffProfile {
	c := *s
	c.Skills = slices.Clone(s.Skills)
	c.UnavailableUntil = cloneTime(s.UnavailableUntil)
	c.EscalationChainID = cloneUserID(s.EscalationChainID)
	return &c
}

func cloneEntry(e *models.QueueEntry) *models.QueueEntry {
	c := *e
	c.RequiredSkills = slices.Clone(e.RequiredSkills)
	return &c
}

func cloneAssignment(a *models.Assignment) *models.Assignment {
	c := *a
	c.RequiredSkills = slices.Clone(a.RequiredSkills)
	c.WarningSentAt = cloneTime(a.WarningSentAt)
	c.EscalatedAt = cloneTime(a.EscalatedAt)
	c.EscalationRecipientID = cloneUserID(a.EscalationRecipientID)
	c.AssignedBy = cloneUserID(a.AssignedBy)
	c.Observers = slices.Clone(a.Observers)
	c.ClosedAt = cloneTime(a.ClosedAt)
	return &c
}

func cloneEscalation(e *models.EscalationEvent) *models.EscalationEvent {
	c := *e
	c.AcknowledgedAt = cloneTime(e.AcknowledgedAt)
	c.ResolvedAt = cloneTime(e.ResolvedAt)
	return &c
}

func compareIDs(a, b string) int {
	return strings.Compare(a, b)
}
