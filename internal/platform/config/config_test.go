package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("CASEWORK_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("DISPATCH_MAX_PER_RUN", "")

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 100, cfg.Engine.DispatchMaxPerRun)
	assert.Equal(t, 0.75, cfg.Engine.SLAWarningThreshold)
	assert.Equal(t, time.Minute, cfg.Engine.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.Kafka.ProduceTimeout)
	assert.Equal(t, 10*time.Second, cfg.Kafka.DeliveryTimeout)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CASEWORK_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("DISPATCH_INTERVAL", "5s")
	t.Setenv("DISPATCH_MAX_PER_RUN", "7")
	t.Setenv("SLA_WARNING_THRESHOLD", "0.8")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Engine.DispatchInterval)
	assert.Equal(t, 7, cfg.Engine.DispatchMaxPerRun)
	assert.Equal(t, 0.8, cfg.Engine.SLAWarningThreshold)
}

func TestFromEnv_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("DISPATCH_MAX_PER_RUN", "many")
	t.Setenv("SLA_SWEEP_INTERVAL", "soon")

	cfg := FromEnv()

	assert.Equal(t, 100, cfg.Engine.DispatchMaxPerRun)
	assert.Equal(t, time.Minute, cfg.Engine.SweepInterval)
}
