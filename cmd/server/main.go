package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/PortNumber53/onesub-engine/backend/internal/accounts"
	"github.com/PortNumber53/onesub-engine/backend/internal/catalog"
	"github.com/PortNumber53/onesub-engine/backend/internal/config"
	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/httpserver"
	"github.com/PortNumber53/onesub-engine/backend/internal/metrics"
	"github.com/PortNumber53/onesub-engine/backend/internal/middleware"
	"github.com/PortNumber53/onesub-engine/backend/internal/migrations"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
	"github.com/PortNumber53/onesub-engine/backend/internal/notify"
	"github.com/PortNumber53/onesub-engine/backend/internal/scheduler"
	"github.com/PortNumber53/onesub-engine/backend/internal/store"
	"github.com/PortNumber53/onesub-engine/backend/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	log.Printf("db(primary): %s", cfg.DatabaseTarget())
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		log.Fatalf("failed to apply database migrations: %v", err)
	}

	m := metrics.Default()

	userStore, err := store.New(db)
	if err != nil {
		log.Fatalf("failed to create store: %v", err)
	}
	catalogStore, err := store.NewCatalogStore(db)
	if err != nil {
		log.Fatalf("failed to create catalog store: %v", err)
	}
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		log.Fatalf("failed to create job store: %v", err)
	}

	if cfg.CatalogSeedFile != "" {
		if err := seedCatalog(context.Background(), catalogStore, cfg.CatalogSeedFile); err != nil {
			log.Fatalf("failed to seed catalog: %v", err)
		}
	}

	cat, err := catalog.NewCached(catalogStore, catalog.CacheConfig{
		Size:     cfg.CatalogCacheSize,
		TTL:      cfg.CatalogCacheTTL,
		OnLookup: m.ObserveCacheLookup,
	})
	if err != nil {
		log.Fatalf("failed to create catalog cache: %v", err)
	}

	publisher, closePublisher := newPublisher(cfg)
	defer closePublisher()
	dispatcher := notify.NewDispatcher(publisher, notify.Config{OnResult: m.ObserveNotification})

	eng, err := engine.New(engine.Options{
		Bundles:    cat,
		Perks:      cat,
		Notifier:   dispatcher,
		CreditRate: cfg.CreditRate,
		AdminEmail: cfg.AdminEmail,
		Observe:    m.ObserveOperation,
	})
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	svc, err := accounts.New(accounts.Config{
		Store:     userStore,
		Engine:    eng,
		Perks:     cat,
		Jobs:      jobStore,
		OnEnqueue: m.JobsEnqueued,
	})
	if err != nil {
		log.Fatalf("failed to create account service: %v", err)
	}

	workerCfg := worker.DefaultConfig()
	workerCfg.MaxConcurrent = cfg.WorkerConcurrency
	jobWorker := worker.New(workerCfg, jobStore, nil)
	worker.RegisterAccountJobs(jobWorker, svc)
	jobWorker.SetInstrumentation(jobInstrumentation(m))

	sched, err := scheduler.New(scheduler.Config{
		AccrualSchedule: cfg.AccrualSchedule,
		CleanupSchedule: cfg.CleanupSchedule,
	}, svc, jobStore)
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}

	auth, err := middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		log.Fatalf("failed to create authenticator: %v", err)
	}

	srv := httpserver.New(cfg, httpserver.Deps{
		Accounts:  svc,
		Bundles:   cat,
		Perks:     cat,
		Users:     userStore,
		Jobs:      jobStore,
		Accrual:   sched,
		DB:        db,
		Auth:      auth,
		Metrics:   m,
		Gatherer:  prometheus.DefaultGatherer,
		Worker:    jobWorker,
		Scheduler: sched,
	})

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
		if err := dispatcher.Close(ctx); err != nil {
			log.Printf("notification dispatcher did not drain: %v", err)
		}
	}()

	log.Printf("backend starting on %s", cfg.ServerAddress)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server exited with error: %v", err)
		os.Exit(1)
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(db *sql.DB, name string) error {
	if err := migrations.Up(db); err != nil {
		log.Printf("migrations(%s): error detected: %v (type: %T)", name, err, err)
		if strings.Contains(err.Error(), "Dirty database version") {
			log.Printf("migrations(%s): dirty database detected, attempting to fix...", name)
			if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
				log.Printf("migrations(%s): failed to fix dirty database: %v", name, fixErr)
				return err
			}
			return migrations.Up(db)
		}
		return err
	}
	return nil
}

// seedCatalog upserts every bundle and perk in the YAML seed file.
func seedCatalog(ctx context.Context, cs *store.CatalogStore, path string) error {
	seed, err := catalog.LoadSeedFile(path)
	if err != nil {
		return err
	}
	for _, b := range seed.Bundles {
		if err := cs.UpsertBundle(ctx, b); err != nil {
			return fmt.Errorf("bundle %s: %w", b.ID, err)
		}
	}
	for _, p := range seed.Perks {
		if err := cs.UpsertPerk(ctx, p); err != nil {
			return fmt.Errorf("perk %s: %w", p.ID, err)
		}
	}
	log.Printf("catalog: seeded %d bundles and %d perks from %s", len(seed.Bundles), len(seed.Perks), path)
	return nil
}

// newPublisher dials the broker when AMQP_URL is set and falls back to
// logging notifications otherwise.
func newPublisher(cfg config.Config) (notify.Publisher, func()) {
	if cfg.AMQPURL == "" {
		log.Println("notify: AMQP_URL not set, notifications will be logged")
		return notify.LogPublisher{}, func() {}
	}
	pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.NotifyExchange)
	if err != nil {
		log.Printf("notify: broker unavailable, notifications will be logged: %v", err)
		return notify.LogPublisher{}, func() {}
	}
	log.Printf("notify: publishing to exchange %s", cfg.NotifyExchange)
	return pub, pub.Close
}

func jobInstrumentation(m *metrics.Metrics) *worker.Instrumentation {
	return &worker.Instrumentation{
		OnStart: func(job *models.Job) {
			m.JobStarted(job.JobType)
		},
		OnComplete: func(job *models.Job, d time.Duration) {
			m.JobFinished(job.JobType, "completed", d)
		},
		OnFail: func(job *models.Job, _ error, d time.Duration) {
			m.JobFinished(job.JobType, "failed", d)
		},
		// The claim stamps UpdatedAt, so it marks the start of the attempt.
		OnRetry: func(job *models.Job, _ time.Duration) {
			m.JobFinished(job.JobType, "retried", time.Since(job.UpdatedAt))
		},
		OnHeartbeat: func(workerID string, stats worker.Stats) {
			log.Printf("[worker] %s heartbeat: processed=%d succeeded=%d failed=%d retried=%d active=%d",
				workerID, stats.JobsProcessed, stats.JobsSucceeded, stats.JobsFailed, stats.JobsRetried, stats.ActiveWorkers)
		},
	}
}
