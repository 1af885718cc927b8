package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PortNumber53/onesub-engine/backend/internal/config"
	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/handlers"
	"github.com/PortNumber53/onesub-engine/backend/internal/metrics"
	"github.com/PortNumber53/onesub-engine/backend/internal/middleware"
	"github.com/PortNumber53/onesub-engine/backend/internal/scheduler"
	"github.com/PortNumber53/onesub-engine/backend/internal/worker"
)

// AccountService is what the /api routes need from the account layer.
// accounts.Service implements it.
type AccountService interface {
	handlers.ProfileService
	handlers.Verifier
	handlers.SubscriptionService
	handlers.CreditService
	handlers.PerkService
	handlers.PerkAdminService
}

// Deps are the collaborators the server routes to. Worker and Scheduler are
// optional; when set they are started and stopped with the server.
type Deps struct {
	Accounts AccountService
	Bundles  engine.BundleCatalog
	Perks    engine.PerkCatalog
	Users    handlers.UserLister
	Jobs     handlers.JobStatsSource
	Accrual  handlers.AccrualTrigger
	DB       handlers.Pinger

	Auth     *middleware.Authenticator
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Worker    *worker.Worker
	Scheduler *scheduler.Scheduler
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
	scheduler  *scheduler.Scheduler
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	router.Use(middleware.NewRequestTracker(deps.Metrics).Middleware())

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.Get("/healthz", handlers.Health)
	if deps.DB != nil {
		router.Get("/readyz", handlers.Ready(deps.DB))
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Route("/api", func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Middleware())
		} else {
			log.Println("[server] No authenticator configured; all API requests are guests")
		}

		r.Get("/bundles", handlers.Bundles(deps.Bundles))
		r.Get("/perks", handlers.Perks(deps.Perks))

		svc := deps.Accounts
		r.Get("/me", handlers.Me(svc))
		r.Post("/me", handlers.Register(svc))

		r.Post("/subscriptions", handlers.Subscribe(svc, deps.Bundles))
		r.Delete("/subscriptions/{bundleID}", handlers.CancelSubscription(svc))
		r.Post("/subscriptions/{bundleID}/pause", handlers.PauseSubscription(svc))
		r.Post("/subscriptions/{bundleID}/resume", handlers.ResumeSubscription(svc))
		r.Post("/subscriptions/{bundleID}/renew", handlers.RenewSubscription(svc))

		r.Post("/credits/redeem", handlers.RedeemCredits(svc))

		r.Get("/perks/me", handlers.MyPerks(svc))
		r.Post("/perks/{perkID}/claim", handlers.ClaimPerk(svc))
		r.Get("/perks/{perkID}/progress", handlers.PerkProgress(svc))

		r.Route("/admin", func(r chi.Router) {
			if deps.Users != nil {
				r.Get("/users", handlers.Users(deps.Users))
			}
			r.Post("/users/{userID}/verify", handlers.VerifyUser(svc))
			r.Post("/users/{userID}/credits", handlers.AdjustCredits(svc))

			r.Post("/perks", handlers.CreatePerk(svc))
			r.Put("/perks/{perkID}", handlers.UpdatePerk(svc))
			r.Delete("/perks/{perkID}", handlers.DeletePerk(svc))
			r.Get("/perks/{perkID}/stats", handlers.PerkStats(svc))

			if deps.Jobs != nil {
				r.Get("/jobs/stats", handlers.JobStats(deps.Jobs))
			}
			if deps.Accrual != nil {
				r.Post("/jobs/accrual", handlers.RunAccrual(deps.Accrual))
			}
		})
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker, scheduler: deps.Scheduler}
}

// Start begins serving HTTP traffic and starts the worker and scheduler.
func (s *Server) Start() error {
	if s.worker != nil {
		log.Println("[server] Starting job worker...")
		s.worker.Start(context.Background())
	}
	if s.scheduler != nil {
		log.Println("[server] Starting scheduler...")
		s.scheduler.Start()
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, scheduler and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		log.Println("[server] Stopping scheduler...")
		select {
		case <-s.scheduler.Stop().Done():
		case <-ctx.Done():
			log.Printf("[server] Scheduler shutdown interrupted: %v", ctx.Err())
		}
	}
	if s.worker != nil {
		log.Println("[server] Shutting down job worker...")
		if err := s.worker.Stop(ctx); err != nil {
			log.Printf("[server] Worker shutdown error: %v", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
