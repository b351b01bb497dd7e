// Package worker runs the engine's periodic jobs: dispatch of every queued
// unit, the SLA sweep and absence expiry.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"casework/pkg/requestcontext"
)

// Job is one periodic task. Each tick runs to completion before the next
// one is considered; a failed tick is logged and the job keeps its schedule.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Worker struct {
	jobs   []Job
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Worker)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

func New(jobs []Job, opts ...Option) (*Worker, error) {
	for _, job := range jobs {
		if job.Run == nil || job.Interval <= 0 {
			return nil, errors.New("job " + job.Name + " needs a run func and a positive interval")
		}
	}
	w := &Worker{jobs: jobs, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run blocks until ctx is cancelled. It returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range w.jobs {
		g.Go(func() error {
			w.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	w.logger.InfoContext(ctx, "worker job started", "job", job.Name, "interval", job.Interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "worker job stopped", "job", job.Name)
			return
		case <-ticker.C:
			w.Tick(ctx, job)
		}
	}
}

// Tick runs one execution of job with a single clock reading in its context.
func (w *Worker) Tick(ctx context.Context, job Job) {
	start := w.now()
	if err := job.Run(requestcontext.WithTime(ctx, start)); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.ErrorContext(ctx, "worker job failed", "job", job.Name, "error", err)
		return
	}
	w.logger.DebugContext(ctx, "worker job completed", "job", job.Name, "duration", time.Since(start).String())
}
