package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-customs-aforo/internal/client"
	"github.com/pesio-ai/be-customs-aforo/internal/events"
	"github.com/pesio-ai/be-customs-aforo/internal/handler"
	"github.com/pesio-ai/be-customs-aforo/internal/metrics"
	"github.com/pesio-ai/be-customs-aforo/internal/readmodel"
	"github.com/pesio-ai/be-customs-aforo/internal/repository"
	"github.com/pesio-ai/be-customs-aforo/internal/repository/memstore"
	"github.com/pesio-ai/be-customs-aforo/internal/service"
	"github.com/pesio-ai/be-customs-aforo/pkg/config"
	"github.com/pesio-ai/be-customs-aforo/pkg/database"
	"github.com/pesio-ai/be-customs-aforo/pkg/logger"
	"github.com/pesio-ai/be-customs-aforo/pkg/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Driver).
		Msg("Starting Aforo Case Workflow Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store
	store, worksheets, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open case store")
	}
	defer closeStore()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Read model, fed by the in-process bus and, when enabled, by NATS
	bus := events.NewBus()
	cache, err := readmodel.NewCaseCache(store, cfg.Cache.Size, m, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create read-model cache")
	}
	bus.Subscribe(cache.HandleEvent)

	publisher := events.Fanout{bus}
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(cfg.Service.Name))
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()

		publisher = append(publisher, client.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger))

		subscriber := client.NewNATSSubscriber(nc, cfg.NATS.SubjectPrefix, log.Logger)
		if err := subscriber.Start(cache.OnCaseChanged); err != nil {
			log.Fatal().Err(err).Msg("Failed to subscribe to case change-feed")
		}
		defer subscriber.Stop()
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS change-feed enabled")
	}

	// Initialize services
	validator := service.NewTransitionValidator()
	svc := handler.Services{
		Cases:   service.NewCaseService(store, cache, publisher, log),
		Mutator: service.NewMutationCoordinator(store, validator, publisher, m, log),
		Bulk:    service.NewBulkRunner(store, validator, publisher, m, log, cfg.Workflow.ReceiptComment),
		Badges:  service.NewBadgeAggregator(cache, worksheets, store),
		Reclass: service.NewReclassifier(store, service.NewRoleAuthorizer(cfg.Workflow.PrivilegedRoles), publisher, m, log),
	}

	// Setup HTTP routes
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	handler.NewHTTPHandler(svc, log).Register(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handler.LoggingInterceptor(log.Logger)))
	handler.NewGRPCHandler(svc, log.Logger).Register(grpcServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.CaseWorkflowServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// openStore builds the configured case store and the worksheet reader.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, repository.WorksheetReader, func(), error) {
	if cfg.Store.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory case store; data is lost on restart")
		s := memstore.New()
		return s, s, func() {}, nil
	}

	db, err := database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Msg("Database connection established")

	if err := repository.Migrate(db, log.Logger); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	return repository.NewPostgresStore(db), repository.NewWorksheetRepository(db), db.Close, nil
}
