// Package engine wires the assignment services together over one store.
package engine

import (
	"context"
	"errors"
	"log/slog"

	"casework/internal/assignment/handler"
	"casework/internal/assignment/lock"
	"casework/internal/assignment/metrics"
	"casework/internal/assignment/ports"
	"casework/internal/assignment/service/availability"
	"casework/internal/assignment/service/capacity"
	"casework/internal/assignment/service/dispatch"
	"casework/internal/assignment/service/escalation"
	"casework/internal/assignment/service/lifecycle"
	"casework/internal/assignment/service/monitor"
	"casework/internal/assignment/service/override"
	"casework/internal/assignment/sla"
	"casework/internal/assignment/worker"
	"casework/internal/platform/config"
)

// Deps are the collaborators shared by every service. Only Store is
// required; Locker defaults to in-process locks and Policy to the default
// warning threshold.
type Deps struct {
	Store    ports.Store
	Locker   ports.Locker
	Notifier ports.Notifier
	Audit    ports.AuditPublisher
	Metrics  *metrics.Metrics
	Policy   *sla.Policy
	Config   config.EngineConfig
	Logger   *slog.Logger
}

type Engine struct {
	Capacity     *capacity.Service
	Dispatch     *dispatch.Service
	Escalation   *escalation.Service
	Monitor      *monitor.Service
	Availability *availability.Service
	Override     *override.Service
	Lifecycle    *lifecycle.Service
	config       config.EngineConfig
}

func New(d Deps) (*Engine, error) {
	if d.Store == nil {
		return nil, errors.New("store is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Locker == nil {
		d.Locker = lock.NewMemory()
	}
	if d.Policy == nil {
		d.Policy = sla.New()
	}

	e := &Engine{config: d.Config}
	var err error
	if e.Capacity, err = capacity.New(d.Store, capacity.WithLogger(d.Logger)); err != nil {
		return nil, err
	}
	if e.Dispatch, err = dispatch.New(d.Store, e.Capacity,
		dispatch.WithLogger(d.Logger),
		dispatch.WithLocker(d.Locker),
		dispatch.WithNotifier(d.Notifier),
		dispatch.WithAuditPublisher(d.Audit),
		dispatch.WithMetrics(d.Metrics),
		dispatch.WithPolicy(d.Policy),
		dispatch.WithMaxPerRun(d.Config.DispatchMaxPerRun),
		dispatch.WithConcurrency(d.Config.DispatchConcurrency),
		dispatch.WithLockTTL(d.Config.DispatchLockTTL),
	); err != nil {
		return nil, err
	}
	if e.Escalation, err = escalation.New(d.Store,
		escalation.WithLogger(d.Logger),
		escalation.WithNotifier(d.Notifier),
		escalation.WithAuditPublisher(d.Audit),
		escalation.WithMetrics(d.Metrics),
	); err != nil {
		return nil, err
	}
	if e.Monitor, err = monitor.New(d.Store, e.Escalation,
		monitor.WithLogger(d.Logger),
		monitor.WithNotifier(d.Notifier),
		monitor.WithAuditPublisher(d.Audit),
		monitor.WithMetrics(d.Metrics),
		monitor.WithPolicy(d.Policy),
	); err != nil {
		return nil, err
	}
	if e.Availability, err = availability.New(d.Store, e.Capacity,
		availability.WithLogger(d.Logger),
		availability.WithNotifier(d.Notifier),
		availability.WithAuditPublisher(d.Audit),
		availability.WithMetrics(d.Metrics),
		availability.WithPolicy(d.Policy),
	); err != nil {
		return nil, err
	}
	if e.Override, err = override.New(d.Store, e.Capacity,
		override.WithLogger(d.Logger),
		override.WithNotifier(d.Notifier),
		override.WithAuditPublisher(d.Audit),
		override.WithMetrics(d.Metrics),
		override.WithPolicy(d.Policy),
		override.WithDispatcher(e.Dispatch),
	); err != nil {
		return nil, err
	}
	if e.Lifecycle, err = lifecycle.New(d.Store, e.Capacity,
		lifecycle.WithLogger(d.Logger),
		lifecycle.WithAuditPublisher(d.Audit),
		lifecycle.WithMetrics(d.Metrics),
		lifecycle.WithDispatcher(e.Dispatch),
	); err != nil {
		return nil, err
	}
	return e, nil
}

// Services exposes the engine to the HTTP handler.
func (e *Engine) Services() handler.Services {
	return handler.Services{
		Dispatch:     e.Dispatch,
		Monitor:      e.Monitor,
		Escalations:  e.Escalation,
		Availability: e.Availability,
		Overrides:    e.Override,
		Lifecycle:    e.Lifecycle,
	}
}

// Jobs returns the periodic dispatch, sweep and absence-expiry jobs.
func (e *Engine) Jobs() []worker.Job {
	return []worker.Job{
		{Name: "dispatch", Interval: e.config.DispatchInterval, Run: func(ctx context.Context) error {
			_, err := e.Dispatch.DispatchAll(ctx)
			return err
		}},
		{Name: "sla_sweep", Interval: e.config.SweepInterval, Run: func(ctx context.Context) error {
			_, err := e.Monitor.Sweep(ctx)
			return err
		}},
		{Name: "absence_expiry", Interval: e.config.AbsenceExpiryInterval, Run: func(ctx context.Context) error {
			_, err := e.Availability.ExpireAbsences(ctx)
			return err
		}},
	}
}
