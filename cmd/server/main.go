package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-scm-fulfillment/internal/client"
	"github.com/pesio-ai/be-scm-fulfillment/internal/config"
	"github.com/pesio-ai/be-scm-fulfillment/internal/database"
	"github.com/pesio-ai/be-scm-fulfillment/internal/domain"
	"github.com/pesio-ai/be-scm-fulfillment/internal/events"
	"github.com/pesio-ai/be-scm-fulfillment/internal/handler"
	"github.com/pesio-ai/be-scm-fulfillment/internal/lock"
	"github.com/pesio-ai/be-scm-fulfillment/internal/logger"
	"github.com/pesio-ai/be-scm-fulfillment/internal/metrics"
	"github.com/pesio-ai/be-scm-fulfillment/internal/middleware"
	"github.com/pesio-ai/be-scm-fulfillment/internal/repository"
	"github.com/pesio-ai/be-scm-fulfillment/internal/service"
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
		Msg("Starting SCM Fulfillment Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	var store repository.Store
	switch cfg.Store.Driver {
	case "postgres":
		db, err := database.New(ctx, database.Config{
			DSN:         cfg.Database.DSN(),
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		pg := repository.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply database schema")
		}
		store = pg
		log.Info().Msg("Database connection established")
	default:
		store = repository.NewMemoryStore()
		log.Warn().Msg("Using in-memory store, data is lost on restart")
	}

	// Initialize order locker
	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, log.Named("lock"))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Distributed order lock enabled")
	}

	// Domain events: in-process bus first, then the brokers
	m := metrics.New("fulfillment")
	bus := events.NewBus(log.Named("events"))
	bus.Subscribe(m.EventCounter)
	publishers := events.MultiPublisher{bus}

	if cfg.NATS.URL != "" {
		conn, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		natsPublisher := client.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix, log)
		defer natsPublisher.Close()
		publishers = append(publishers, natsPublisher)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS event publishing enabled")
	}

	if brokers := client.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		kafkaPublisher := client.NewKafkaPublisher(brokers, cfg.Kafka.Topic, log)
		defer kafkaPublisher.Close()
		publishers = append(publishers, kafkaPublisher)
		log.Info().Strs("brokers", brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka event streaming enabled")
	}

	// Initialize services
	fulfillmentService := service.NewFulfillmentService(
		store,
		locker,
		publishers,
		m,
		domain.Precision{
			Measured: cfg.Quantity.MeasuredPrecision,
			Discrete: cfg.Quantity.DiscretePrecision,
		},
		log.Named("service"),
	)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(fulfillmentService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", m.Handler())
	httpHandler.RegisterRoutes(mux)

	// Apply middleware
	h := middleware.Chain(mux,
		middleware.Logger(&log.Logger),
		middleware.RequestID(),
		middleware.Recovery(&log.Logger),
		middleware.Metrics(m),
		middleware.CORS([]string{"*"}),
		middleware.Timeout(30*time.Second),
	)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.RecoveryInterceptor(log.Logger),
		handler.LoggingInterceptor(log.Logger),
	))
	handler.NewGRPCHandler(fulfillmentService, log.Logger).Register(grpcServer)
	reflection.Register(grpcServer) // Enable reflection for debugging

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server stopped")
}
