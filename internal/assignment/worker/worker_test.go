package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casework/pkg/requestcontext"
)

func TestNewRejectsInvalidJobs(t *testing.T) {
	_, err := New([]Job{{Name: "sweep", Interval: time.Second}})
	assert.ErrorContains(t, err, "sweep")

	_, err = New([]Job{{Name: "sweep", Run: func(context.Context) error { return nil }}})
	assert.Error(t, err)
}

func TestTickInjectsClock(t *testing.T) {
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var seen time.Time
	w, err := New(nil)
	require.NoError(t, err)
	w.now = func() time.Time { return fixed }

	w.Tick(context.Background(), Job{Name: "sweep", Interval: time.Second, Run: func(ctx context.Context) error {
		seen = requestcontext.Now(ctx)
		return nil
	}})
	assert.Equal(t, fixed, seen)
}

func TestTickLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	w, err := New(nil, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))
	require.NoError(t, err)

	w.Tick(context.Background(), Job{Name: "dispatch", Interval: time.Second, Run: func(context.Context) error {
		return errors.New("db down")
	}})
	assert.Contains(t, buf.String(), "worker job failed")
	assert.Contains(t, buf.String(), "db down")
}

func TestRunUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	w, err := New([]Job{{Name: "expire", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return errors.New("keeps failing")
	}}}, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
