package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"casework/internal/assignment/engine"
	"casework/internal/assignment/handler"
	"casework/internal/assignment/lock"
	assignmentmetrics "casework/internal/assignment/metrics"
	"casework/internal/assignment/notify"
	"casework/internal/assignment/ports"
	"casework/internal/assignment/seed"
	"casework/internal/assignment/sla"
	"casework/internal/assignment/store"
	"casework/internal/assignment/worker"
	jwttoken "casework/internal/jwt_token"
	"casework/internal/platform/config"
	"casework/internal/platform/httpserver"
	"casework/internal/platform/kafka"
	"casework/internal/platform/logger"
	"casework/internal/platform/metrics"
	"casework/internal/platform/postgres"
	"casework/internal/platform/redis"
	audit "casework/pkg/platform/audit"
	auditpublisher "casework/pkg/platform/audit/publisher"
	auditmemory "casework/pkg/platform/audit/store/memory"
	auditpostgres "casework/pkg/platform/audit/store/postgres"
	"casework/pkg/platform/circuit"
	"casework/pkg/platform/httputil"
)

// infra holds the external resources; nil fields are not configured.
type infra struct {
	db    *sql.DB
	redis *redis.Client
	kafka interface{ Close() }
}

func (i *infra) close() {
	if i.kafka != nil {
		i.kafka.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

// main wires high-level dependencies, exposes the HTTP router, runs the
// background jobs and keeps the server lifecycle small. Business logic lives
// in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	res := &infra{}
	defer res.close()

	st, auditStore, err := openStores(ctx, cfg, res, log)
	if err != nil {
		return err
	}
	if cfg.SeedFile != "" {
		roster, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := roster.Apply(ctx, st); err != nil {
			return err
		}
		log.Info("seed roster applied", "units", len(roster.Units), "staff", len(roster.Staff))
	}

	var locker ports.Locker = lock.NewMemory()
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		res.redis = redisClient
		locker = lock.NewRedis(redisClient.Client, lock.WithLogger(log))
		log.Info("dispatch locks backed by redis")
	}

	notifier, err := buildNotifier(ctx, cfg, res, log)
	if err != nil {
		return err
	}

	auditPublisher := auditpublisher.NewPublisher(auditStore, auditpublisher.WithAsyncBuffer(1024))
	defer auditPublisher.Close()

	engineMetrics := assignmentmetrics.New()
	policy := sla.New(sla.WithWarningThreshold(cfg.Engine.SLAWarningThreshold))

	eng, err := engine.New(engine.Deps{
		Store:    st,
		Locker:   locker,
		Notifier: notifier,
		Audit:    auditPublisher,
		Metrics:  engineMetrics,
		Policy:   policy,
		Config:   cfg.Engine,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	httpMetrics := metrics.New()

	r := chi.NewRouter()
	r.Use(httpMetrics.Middleware)
	r.Get("/health", healthHandler(res))
	r.Handle("/metrics", promhttp.Handler())
	handler.New(eng.Services(), jwttoken.NewJWTServiceAdapter(jwtService), log).Register(r)

	w, err := worker.New(eng.Jobs(), worker.WithLogger(log))
	if err != nil {
		return err
	}
	workerDone := make(chan error, 1)
	go func() { workerDone <- w.Run(ctx) }()

	srv := httpserver.New(cfg.Addr, r, httpserver.WithWriteTimeout(handler.RequestTimeout+15*time.Second))
	if err := httpserver.Serve(ctx, srv, log); err != nil {
		return err
	}
	return <-workerDone
}

// openStores returns Postgres-backed stores when DATABASE_URL is set and
// in-memory stores otherwise.
func openStores(ctx context.Context, cfg config.Server, res *infra, log *slog.Logger) (ports.Store, audit.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewInMemory(), auditmemory.NewInMemoryStore(), nil
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	res.db = db
	if err := store.Migrate(ctx, db); err != nil {
		return nil, nil, err
	}
	return store.NewPostgres(db), auditpostgres.New(db), nil
}

// buildNotifier returns a kafka notifier guarded by a breaker that falls back
// to logging, or the log notifier alone when kafka is not configured.
func buildNotifier(ctx context.Context, cfg config.Server, res *infra, log *slog.Logger) (ports.Notifier, error) {
	fallback := notify.NewLogNotifier(log)
	client, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Info("KAFKA_BROKERS not set, notifications are logged only")
		return fallback, nil
	}
	res.kafka = client
	if err := kafka.EnsureTopic(ctx, client, cfg.Kafka.NotificationTopic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
		return nil, err
	}
	primary, err := notify.NewKafkaNotifier(client, cfg.Kafka.NotificationTopic,
		notify.WithProduceTimeout(cfg.Kafka.ProduceTimeout))
	if err != nil {
		return nil, err
	}
	breaker := circuit.New("notifications", circuit.WithFailureThreshold(cfg.Engine.NotifyFailureThreshold))
	return notify.NewResilient(primary, fallback, breaker, log), nil
}

type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	Redis    string `json:"redis,omitempty"`
}

func healthHandler(res *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := healthStatus{Status: "ok"}
		code := http.StatusOK
		if res.db != nil {
			status.Database = "ok"
			if err := res.db.PingContext(ctx); err != nil {
				status.Database, status.Status, code = "unavailable", "degraded", http.StatusServiceUnavailable
			}
		}
		if res.redis != nil {
			status.Redis = "ok"
			if err := res.redis.Health(ctx); err != nil {
				status.Redis, status.Status, code = "unavailable", "degraded", http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, code, status)
	}
}
