package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/mock/gomock"

	"casework/internal/assignment/models"
	"casework/internal/assignment/ports/mocks"
	id "casework/pkg/domain"
	"casework/pkg/platform/circuit"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.records = append(p.records, rs...)
	results := make(kgo.ProduceResults, len(rs))
	for i, r := range rs {
		results[i] = kgo.ProduceResult{Record: r, Err: p.err}
	}
	return results
}

// stalledProducer never hears back from the broker; it returns only when
// the caller's context ends.
type stalledProducer struct{}

func (stalledProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	<-ctx.Done()
	results := make(kgo.ProduceResults, len(rs))
	for i, r := range rs {
		results[i] = kgo.ProduceResult{Record: r, Err: ctx.Err()}
	}
	return results
}

func sampleNotification() models.Notification {
	return models.Notification{
		RecipientID:   id.UserID(uuid.New()),
		Kind:          models.NotifySLAWarning,
		AssignmentIDs: []id.AssignmentID{id.AssignmentID(uuid.New())},
		Message:       "deadline approaching",
		CreatedAt:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestKafkaNotifier(t *testing.T) {
	t.Run("requires producer and topic", func(t *testing.T) {
		_, err := NewKafkaNotifier(nil, "t")
		assert.Error(t, err)
		_, err = NewKafkaNotifier(&fakeProducer{}, "")
		assert.Error(t, err)
	})

	t.Run("publishes keyed json record", func(t *testing.T) {
		producer := &fakeProducer{}
		notifier, err := NewKafkaNotifier(producer, "casework.notifications")
		require.NoError(t, err)
		n := sampleNotification()

		require.NoError(t, notifier.Notify(context.Background(), n))
		require.Len(t, producer.records, 1)
		record := producer.records[0]
		assert.Equal(t, "casework.notifications", record.Topic)
		assert.Equal(t, n.RecipientID.String(), string(record.Key))
		assert.Equal(t, "sla_warning", string(record.Headers[0].Value))

		var decoded models.Notification
		require.NoError(t, json.Unmarshal(record.Value, &decoded))
		assert.Equal(t, n, decoded)
	})

	t.Run("surfaces produce errors", func(t *testing.T) {
		notifier, err := NewKafkaNotifier(&fakeProducer{err: errors.New("broker gone")}, "topic")
		require.NoError(t, err)
		assert.ErrorContains(t, notifier.Notify(context.Background(), sampleNotification()), "broker gone")
	})

	t.Run("stalled broker times out", func(t *testing.T) {
		notifier, err := NewKafkaNotifier(stalledProducer{}, "topic", WithProduceTimeout(20*time.Millisecond))
		require.NoError(t, err)

		start := time.Now()
		err = notifier.Notify(context.Background(), sampleNotification())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("default timeout applies", func(t *testing.T) {
		notifier, err := NewKafkaNotifier(&fakeProducer{}, "topic", WithProduceTimeout(0))
		require.NoError(t, err)
		assert.Equal(t, DefaultProduceTimeout, notifier.timeout)
	})
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	n := sampleNotification()

	require.NoError(t, notifier.Notify(context.Background(), n))
	assert.Contains(t, buf.String(), n.RecipientID.String())
	assert.Contains(t, buf.String(), `"kind":"sla_warning"`)
}

func TestResilient(t *testing.T) {
	ctx := context.Background()
	n := sampleNotification()

	t.Run("primary success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		primary := mocks.NewMockNotifier(ctrl)
		fallback := mocks.NewMockNotifier(ctrl)
		primary.EXPECT().Notify(ctx, n).Return(nil)

		r := NewResilient(primary, fallback, nil, nil)
		assert.NoError(t, r.Notify(ctx, n))
	})

	t.Run("falls back once the breaker opens", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		primary := mocks.NewMockNotifier(ctrl)
		fallback := mocks.NewMockNotifier(ctrl)
		primary.EXPECT().Notify(ctx, n).Return(errors.New("down")).Times(3)
		fallback.EXPECT().Notify(ctx, n).Return(nil).Times(2)

		r := NewResilient(primary, fallback, circuit.New("test", circuit.WithFailureThreshold(2)), nil)
		assert.Error(t, r.Notify(ctx, n), "below threshold the primary error is returned")
		assert.NoError(t, r.Notify(ctx, n), "threshold reached, fallback delivers")
		assert.NoError(t, r.Notify(ctx, n), "still open, fallback delivers")
	})

	t.Run("stalled primary falls back after the breaker opens", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		fallback := mocks.NewMockNotifier(ctrl)
		fallback.EXPECT().Notify(gomock.Any(), n).Return(nil).Times(1)
		primary, err := NewKafkaNotifier(stalledProducer{}, "topic", WithProduceTimeout(10*time.Millisecond))
		require.NoError(t, err)
		breaker := circuit.New("test", circuit.WithFailureThreshold(1))

		r := NewResilient(primary, fallback, breaker, nil)
		assert.NoError(t, r.Notify(ctx, n))
		assert.True(t, breaker.IsOpen())
	})

	t.Run("closes after recoveries", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		primary := mocks.NewMockNotifier(ctrl)
		fallback := mocks.NewMockNotifier(ctrl)
		breaker := circuit.New("test", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(1))
		gomock.InOrder(
			primary.EXPECT().Notify(ctx, n).Return(errors.New("down")),
			primary.EXPECT().Notify(ctx, n).Return(nil),
		)
		fallback.EXPECT().Notify(ctx, n).Return(nil)

		r := NewResilient(primary, fallback, breaker, nil)
		assert.NoError(t, r.Notify(ctx, n))
		assert.NoError(t, r.Notify(ctx, n))
		assert.False(t, breaker.IsOpen())
	})
}
