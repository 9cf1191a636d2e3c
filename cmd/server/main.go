package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/shiva/dgdo/config"
	"github.com/shiva/dgdo/internal/client"
	"github.com/shiva/dgdo/internal/handler"
	"github.com/shiva/dgdo/internal/middleware"
	"github.com/shiva/dgdo/internal/model"
	"github.com/shiva/dgdo/internal/pricing"
	"github.com/shiva/dgdo/internal/repository"
	"github.com/shiva/dgdo/internal/service"
	"github.com/shiva/dgdo/internal/telemetry"
	"github.com/shiva/dgdo/internal/workflow"
	"github.com/shiva/dgdo/pkg/cache"
	"github.com/shiva/dgdo/pkg/db"
	"github.com/shiva/dgdo/pkg/logger"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	log := logger.New(cfg.LogLevel)
	ctx := context.Background()

	// ── Entity stores ───────────────────────────────────
	var (
		requestRepo repository.TripRequestRepository
		tripRepo    repository.TripRepository
		driverRepo  repository.DriverRepository
	)
	switch cfg.Store.Backend {
	case "postgres":
		pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to PostgreSQL")
		}
		defer pgPool.Close()
		log.Info("PostgreSQL connected")

		requestRepo = repository.NewPostgresTripRequestRepository(pgPool)
		tripRepo = repository.NewPostgresTripRepository(pgPool)
		driverRepo = repository.NewPostgresDriverRepository(pgPool)
	case "memory":
		requestRepo = repository.NewMemoryTripRequestRepository()
		tripRepo = repository.NewMemoryTripRepository()
		driverRepo = repository.NewMemoryDriverRepository()
	default:
		log.Fatalf("unknown STORE_BACKEND %q (want memory or postgres)", cfg.Store.Backend)
	}

	// ── Idempotency store ───────────────────────────────
	// Redis when reachable, in-process otherwise. The workflow contract is
	// the same either way; only the durability differs.
	var idemStore repository.IdempotencyStore
	if redisClient, err := cache.NewRedisClient(ctx, cfg.Redis); err != nil {
		log.WithError(err).Warn("Redis unavailable, using in-memory idempotency store")
		idemStore = repository.NewMemoryIdempotencyStore()
	} else {
		defer redisClient.Close()
		log.Info("Redis connected")
		idemStore = repository.NewRedisIdempotencyStore(redisClient)
	}

	// ── Pricing config ──────────────────────────────────
	pricingStore, err := pricing.NewStore(cfg.Pricing.Path, cfg.Pricing.ReloadInterval, logger.Component(log, "pricing-config"))
	if err != nil {
		log.WithError(err).Fatal("failed to load pricing config")
	}
	watchDone := make(chan struct{})
	defer close(watchDone)
	go pricingStore.Watch(watchDone)

	// ── Services ────────────────────────────────────────
	requestSvc := service.NewTripRequestService(requestRepo, logger.Component(log, "trip-request"))
	matchingSvc := service.NewMatchingService(driverRepo, logger.Component(log, "matching"))
	pricingSvc := pricing.NewEngine(pricingStore, logger.Component(log, "pricing"))
	driverSvc := service.NewDriverStatusService(driverRepo, logger.Component(log, "driver-status"))
	tripSvc := service.NewTripService(tripRepo, pricingSvc, requestSvc, logger.Component(log, "trip"))

	seedDrivers(ctx, driverSvc, log)

	// ── Orchestrator wiring ─────────────────────────────
	// The workflow sees the service interfaces only; in remote mode its
	// dependencies are HTTP clients pointed at the peer URLs.
	var (
		wfRequests service.TripRequests    = requestSvc
		wfMatching service.CandidateFinder = matchingSvc
		wfPricing  service.PriceCalculator = pricingSvc
		wfDrivers  service.DriverStatuses  = driverSvc
		wfTrips    service.Trips           = tripSvc
	)
	switch cfg.ServiceMode {
	case "local":
	case "remote":
		log.WithFields(logrus.Fields{
			"trip_request":  cfg.Peers.TripRequestURL,
			"matching":      cfg.Peers.MatchingURL,
			"pricing":       cfg.Peers.PricingURL,
			"driver_status": cfg.Peers.DriverStatusURL,
			"trip":          cfg.Peers.TripURL,
		}).Info("orchestrator calling peers over HTTP")
		wfRequests = client.NewTripRequestClient(cfg.Peers.TripRequestURL)
		wfMatching = client.NewMatchingClient(cfg.Peers.MatchingURL)
		wfPricing = client.NewPricingClient(cfg.Peers.PricingURL)
		wfDrivers = client.NewDriverStatusClient(cfg.Peers.DriverStatusURL)
		wfTrips = client.NewTripClient(cfg.Peers.TripURL)
	default:
		log.Fatalf("unknown SERVICE_MODE %q (want local or remote)", cfg.ServiceMode)
	}

	wf := workflow.New(
		wfRequests, wfMatching, wfPricing, wfDrivers, wfTrips,
		idemStore,
		telemetry.NewLogEmitter(logger.Component(log, "telemetry")),
		cfg.Workflow,
		logger.Component(log, "workflow"),
	)

	// ── Listeners ───────────────────────────────────────
	httpLog := logger.Component(log, "http")
	listeners := []struct {
		name string
		addr string
		reg  func(*mux.Router)
	}{
		{"matching", cfg.Services.MatchingAddr, handler.NewMatchingHandler(matchingSvc).Routes},
		{"trip-request", cfg.Services.TripRequestAddr, handler.NewTripRequestHandler(requestSvc).Routes},
		{"trip", cfg.Services.TripAddr, handler.NewTripHandler(tripSvc).Routes},
		{"driver-status", cfg.Services.DriverStatusAddr, handler.NewDriverStatusHandler(driverSvc).Routes},
		{"pricing", cfg.Services.PricingAddr, handler.NewPricingHandler(pricingSvc, pricingStore).Routes},
		{"orchestrator", cfg.Services.OrchestratorAddr, handler.NewWorkflowHandler(wf).Routes},
	}

	servers := make([]*http.Server, 0, len(listeners))
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		router := mux.NewRouter()
		router.HandleFunc("/health", healthHandler(l.name)).Methods(http.MethodGet)
		l.reg(router)

		srv := &http.Server{
			Addr:         l.addr,
			Handler:      middleware.Recoverer(httpLog)(middleware.RequestLogger(httpLog)(router)),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		servers = append(servers, srv)

		go func(name string, srv *http.Server) {
			log.WithFields(logrus.Fields{"service": name, "addr": srv.Addr}).Info("listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}(l.name, srv)
	}

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.WithError(err).Error("listener failed")
		shutdownAll(servers, log)
		os.Exit(1)
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutting down")
		shutdownAll(servers, log)
	}
}

func shutdownAll(servers []*http.Server, log *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).WithField("addr", srv.Addr).Warn("forced shutdown")
		}
	}
	log.Info("stopped")
}

// healthHandler reports liveness for one service listener.
func healthHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"` + name + `"}`))
	}
}

// seedDrivers onboards the demo driver fleet around the Khujand city
// center so a fresh memory-backed process can match trips immediately.
func seedDrivers(ctx context.Context, svc *service.DriverStatusService, log *logrus.Logger) {
	drivers := []model.DriverStatus{
		{DriverID: "D1", Available: true, Location: model.Location{Lat: 40.2832, Lon: 69.6220}, Rating: 4.9, AcceptanceRate: 0.95},
		{DriverID: "D2", Available: true, Location: model.Location{Lat: 40.2901, Lon: 69.6350}, Rating: 4.7, AcceptanceRate: 0.90},
		{DriverID: "D3", Available: true, Location: model.Location{Lat: 40.2755, Lon: 69.6108}, Rating: 4.5, AcceptanceRate: 0.80},
		{DriverID: "D4", Available: true, Location: model.Location{Lat: 40.3009, Lon: 69.6489}, Rating: 4.8, AcceptanceRate: 0.88},
		{DriverID: "D5", Available: true, Location: model.Location{Lat: 40.2688, Lon: 69.5994}, Rating: 4.6, AcceptanceRate: 0.92},
	}
	for i := range drivers {
		if err := svc.RegisterDriver(ctx, &drivers[i]); err != nil {
			log.WithError(err).WithField("driver_id", drivers[i].DriverID).Warn("seed driver failed")
		}
	}
	log.WithField("count", len(drivers)).Info("demo drivers seeded")
}
