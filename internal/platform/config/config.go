package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	DatabaseURL   string
	SeedFile      string
	Redis         RedisConfig
	Kafka         KafkaConfig
	Engine        EngineConfig
}

// RedisConfig configures the optional redis client used for dispatch locks.
// An empty URL disables redis and falls back to in-process locks.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the notification producer. No brokers means
// notifications are only logged.
type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
	Partitions        int32
	ReplicationFactor int16
	ProduceTimeout    time.Duration
	DeliveryTimeout   time.Duration
}

// EngineConfig holds the cadences and bounds of the assignment engine.
type EngineConfig struct {
	DispatchInterval       time.Duration
	SweepInterval          time.Duration
	AbsenceExpiryInterval  time.Duration
	DispatchMaxPerRun      int
	DispatchConcurrency    int
	DispatchLockTTL        time.Duration
	SLAWarningThreshold    float64
	NotifyFailureThreshold int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Server{
		Addr:          envString("CASEWORK_ADDR", ":8080"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     envString("JWT_ISSUER", "casework"),
		JWTAudience:   envString("JWT_AUDIENCE", "casework-api"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SeedFile:      os.Getenv("SEED_FILE"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           envList("KAFKA_BROKERS"),
			NotificationTopic: envString("KAFKA_NOTIFICATION_TOPIC", "casework.notifications"),
			Partitions:        int32(envInt("KAFKA_TOPIC_PARTITIONS", 3)),
			ReplicationFactor: int16(envInt("KAFKA_TOPIC_REPLICATION", 1)),
			ProduceTimeout:    envDuration("KAFKA_PRODUCE_TIMEOUT", 5*time.Second),
			DeliveryTimeout:   envDuration("KAFKA_DELIVERY_TIMEOUT", 10*time.Second),
		},
		Engine: EngineConfig{
			DispatchInterval:       envDuration("DISPATCH_INTERVAL", 30*time.Second),
			SweepInterval:          envDuration("SLA_SWEEP_INTERVAL", time.Minute),
			AbsenceExpiryInterval:  envDuration("ABSENCE_EXPIRY_INTERVAL", 5*time.Minute),
			DispatchMaxPerRun:      envInt("DISPATCH_MAX_PER_RUN", 100),
			DispatchConcurrency:    envInt("DISPATCH_CONCURRENCY", 4),
			DispatchLockTTL:        envDuration("DISPATCH_LOCK_TTL", 30*time.Second),
			SLAWarningThreshold:    envFloat("SLA_WARNING_THRESHOLD", 0.75),
			NotifyFailureThreshold: envInt("NOTIFY_FAILURE_THRESHOLD", 5),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
