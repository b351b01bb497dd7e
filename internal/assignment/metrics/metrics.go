package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the assignment engine: dispatch runs,
// SLA sweeps, availability reactions and overrides.
type Metrics struct {
	AssignmentsCreated   *prometheus.CounterVec
	DispatchRuns         *prometheus.CounterVec
	DispatchDuration     prometheus.Histogram
	UnmatchableEntries   *prometheus.GaugeVec
	StrandedEntries      prometheus.Gauge
	SweepDuration        prometheus.Histogram
	SLAStatus            *prometheus.GaugeVec
	WarningsSent         prometheus.Counter
	EscalationsRaised    *prometheus.CounterVec
	EscalationsUnrouted  prometheus.Counter
	SweepItemFailures    prometheus.Counter
	ReassignedItems      prometheus.Counter
	FlaggedItems         prometheus.Counter
	CapacityBypasses     prometheus.Counter
	NotificationFailures prometheus.Counter
}

// New creates the metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AssignmentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casework_assignments_created_total",
			Help: "Assignments created, by origin (dispatch, reassignment, override)",
		}, []string{"origin"}),
		DispatchRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casework_dispatch_runs_total",
			Help: "Dispatch runs by outcome (completed, skipped, failed)",
		}, []string{"outcome"}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "casework_dispatch_duration_seconds",
			Help:    "Duration of one unit dispatch run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
		UnmatchableEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casework_queue_unmatchable_entries",
			Help: "Queue entries no staff member of the unit has the skills for",
		}, []string{"unit_id"}),
		StrandedEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "casework_queue_stranded_entries",
			Help: "Queue entries without an owning unit",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "casework_sla_sweep_duration_seconds",
			Help:    "Duration of one SLA sweep",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		SLAStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casework_sla_active_assignments",
			Help: "Active assignments by SLA status at the last sweep",
		}, []string{"status"}),
		WarningsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "casework_sla_warnings_sent_total",
			Help: "SLA warnings sent to assignees",
		}),
		EscalationsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Name: "casework_escalations_raised_total",
			Help: "Escalation events created, by reason",
		}, []string{"reason"}),
		EscalationsUnrouted: f.NewCounter(prometheus.CounterOpts{
			Name: "casework_escalations_unrouted_total",
			Help: "Breaches left unescalated because the assignee has no escalation chain",
		}),
		SweepItemFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "casework_sla_sweep_item_failures_total",
			Help: "Assignments whose processing failed during a sweep",
		}),
		ReassignedItems: f.NewCounter(prometheus.CounterOpts{
			Name: "casework_availability_reassigned_total",
			Help: "Assignments moved to another staff member after an absence",
		}),
		FlaggedItems: f.NewCounter(prometheus.CounterOpts{
			Name: "casework_availability_flagged_total",
			Help: "Assignments flagged for review after an absence",
		}),
		CapacityBypasses: f.NewCounter(prometheus.CounterOpts{
			Name: "casework_override_capacity_bypassed_total",
			Help: "Manual overrides that exceeded a WIP limit",
		}),
		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "casework_notification_failures_total",
			Help: "Notifications that could not be handed to the channel",
		}),
	}
}

func (m *Metrics) ObserveDispatch(start time.Time, outcome string) {
	m.DispatchRuns.WithLabelValues(outcome).Inc()
	m.DispatchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveSweep(start time.Time) {
	m.SweepDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncAssignmentsCreated(origin string) {
	m.AssignmentsCreated.WithLabelValues(origin).Inc()
}

func (m *Metrics) IncEscalation(reason string) {
	m.EscalationsRaised.WithLabelValues(reason).Inc()
}
