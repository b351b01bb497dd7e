// Package sla maps work-item type and priority to deadlines and derives the
// SLA status of an assignment from its stored timestamps.
package sla

import (
	"time"

	"casework/internal/assignment/models"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusBreached Status = "breached"
)

// DefaultWarningThreshold is the elapsed fraction at which work enters the warning band.
const DefaultWarningThreshold = 0.75

type key struct {
	t models.WorkItemType
	p models.Priority
}

var hours = map[key]int{
	{models.WorkItemTicket, models.PriorityUrgent}: 2,
	{models.WorkItemTicket, models.PriorityHigh}:   8,
	{models.WorkItemTicket, models.PriorityNormal}: 24,
	{models.WorkItemTicket, models.PriorityLow}:    72,

	{models.WorkItemTask, models.PriorityUrgent}: 4,
	{models.WorkItemTask, models.PriorityHigh}:   12,
	{models.WorkItemTask, models.PriorityNormal}: 48,
	{models.WorkItemTask, models.PriorityLow}:    96,

	{models.WorkItemPosition, models.PriorityUrgent}: 8,
	{models.WorkItemPosition, models.PriorityHigh}:   24,
	{models.WorkItemPosition, models.PriorityNormal}: 72,
	{models.WorkItemPosition, models.PriorityLow}:    120,

	{models.WorkItemDossier, models.PriorityUrgent}: 8,
	{models.WorkItemDossier, models.PriorityHigh}:   24,
	{models.WorkItemDossier, models.PriorityNormal}: 72,
	{models.WorkItemDossier, models.PriorityLow}:    120,
}

// Window returns the deadline duration for the pair. ok is false for
// unknown types or priorities.
func Window(t models.WorkItemType, p models.Priority) (time.Duration, bool) {
	h, ok := hours[key{t, p}]
	return time.Duration(h) * time.Hour, ok
}

// Policy evaluates deadlines against a warning threshold.
type Policy struct {
	warningThreshold float64
}

type Option func(*Policy)

// WithWarningThreshold overrides the warning fraction. Values outside (0, 1) are ignored.
func WithWarningThreshold(f float64) Option {
	return func(p *Policy) {
		if f > 0 && f < 1 {
			p.warningThreshold = f
		}
	}
}

func New(opts ...Option) *Policy {
	p := &Policy{warningThreshold: DefaultWarningThreshold}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deadline returns assignedAt plus the window for the pair. Unknown pairs
// yield assignedAt, which evaluates as immediately breached.
func (p *Policy) Deadline(t models.WorkItemType, pr models.Priority, assignedAt time.Time) time.Time {
	window, _ := Window(t, pr)
	return assignedAt.Add(window)
}

// ElapsedFraction is (now - assignedAt) / (deadline - assignedAt).
// A zero or negative window counts as fully elapsed.
func ElapsedFraction(assignedAt, deadline, now time.Time) float64 {
	window := deadline.Sub(assignedAt)
	if window <= 0 {
		return 1
	}
	return float64(now.Sub(assignedAt)) / float64(window)
}

// Evaluate derives the status and elapsed fraction at now.
func (p *Policy) Evaluate(assignedAt, deadline, now time.Time) (Status, float64) {
	f := ElapsedFraction(assignedAt, deadline, now)
	switch {
	case f >= 1:
		return StatusBreached, f
	case f >= p.warningThreshold:
		return StatusWarning, f
	default:
		return StatusOK, f
	}
}

// Remaining returns whole seconds until deadline, floored at zero.
func Remaining(deadline, now time.Time) int64 {
	if !now.Before(deadline) {
		return 0
	}
	return int64(deadline.Sub(now) / time.Second)
}
