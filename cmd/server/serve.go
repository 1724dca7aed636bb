package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/brokerops/be-commissions/internal/cache"
	"github.com/brokerops/be-commissions/internal/client"
	"github.com/brokerops/be-commissions/internal/engine"
	"github.com/brokerops/be-commissions/internal/handler"
	"github.com/brokerops/be-commissions/internal/platform/middleware"
	"github.com/brokerops/be-commissions/internal/repository"
	"github.com/brokerops/be-commissions/internal/service"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Commissions Service")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	fraction, err := cfg.OfficeFraction()
	if err != nil {
		return err
	}
	policy := engine.Policy{OfficeFraction: fraction}
	if err := policy.Validate(); err != nil {
		return err
	}

	// Database
	db, err := connectDatabase(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to database")
		return err
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		applied, err := repository.Migrate(ctx, db)
		if err != nil {
			log.Error().Err(err).Msg("Migration failed")
			return err
		}
		log.Info().Int("applied", applied).Msg("Database schema up to date")
	}

	commissionRepo := repository.NewCommissionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	debtRepo := repository.NewDebtRepository(db)
	deductionRepo := repository.NewDeductionRepository(db)

	// Optional collaborators. Interfaces stay nil when a dependency is not
	// configured so the services can tell it is absent.
	var staff service.StaffDirectory
	if cfg.Staff.GRPCURL != "" {
		staffClient, err := client.NewStaffGRPCClient(cfg.Staff.GRPCURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create staff directory gRPC client")
			return err
		}
		defer staffClient.Close()
		staff = staffClient
		log.Info().Str("staff_grpc", cfg.Staff.GRPCURL).Msg("Staff directory client initialized")
	} else {
		log.Warn().Msg("STAFF_GRPC_URL not set, participants are not checked against the staff directory")
	}

	var idempotency service.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, commission creation is not de-duplicated")
		} else {
			defer rdb.Close()
			idempotency = cache.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL)
			log.Info().Str("redis", cfg.Redis.Addr).Msg("Idempotency store initialized")
		}
	}

	var events service.EventPublisher
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, domain events are disabled")
		} else {
			publisher := client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger)
			defer publisher.Close()
			events = publisher
		}
	}

	commissionService := service.NewCommissionService(
		commissionRepo, auditRepo, staff, events, idempotency, policy, log.Component("commission_service"),
	)
	debtService := service.NewDebtService(
		debtRepo, deductionRepo, commissionRepo, events, log.Component("debt_service"),
	)

	// HTTP
	httpHandler := handler.NewHTTPHandler(commissionService, debtService, log.Component("http"))
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Actor)
	r.Use(middleware.Logger(&log.Logger))
	r.Use(middleware.Recovery(&log.Logger))
	r.Use(middleware.CORS([]string{"*"}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(pingCtx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
		r.Mount("/api/v1", httpHandler.Routes())
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Both ports are bound before either server starts.
	httpListener, grpcListener, err := listenServers(cfg.Server.Port, cfg.GRPC.Port)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create listeners")
		return err
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	// gRPC
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.RecoveryInterceptor(log.Logger),
		handler.LoggingInterceptor(log.Logger),
	))
	handler.RegisterCommissionService(grpcServer, handler.NewGRPCHandler(commissionService, debtService, log.Logger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.CommissionServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	go func() {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
			cancel()
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
	return nil
}

// listenServers binds the HTTP and gRPC ports. On failure nothing is left
// listening.
func listenServers(httpPort, grpcPort int) (net.Listener, net.Listener, error) {
	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", httpPort))
	if err != nil {
		return nil, nil, fmt.Errorf("listen http :%d: %w", httpPort, err)
	}
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		_ = httpListener.Close()
		return nil, nil, fmt.Errorf("listen grpc :%d: %w", grpcPort, err)
	}
	return httpListener, grpcListener, nil
}
