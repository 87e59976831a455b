package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/dispatch-board/internal/autocomplete"
	"github.com/vaidashi/dispatch-board/internal/clock"
	"github.com/vaidashi/dispatch-board/internal/config"
	"github.com/vaidashi/dispatch-board/internal/database"
	"github.com/vaidashi/dispatch-board/internal/dispatch"
	"github.com/vaidashi/dispatch-board/internal/handlers"
	"github.com/vaidashi/dispatch-board/internal/notify"
	"github.com/vaidashi/dispatch-board/internal/outbox"
	"github.com/vaidashi/dispatch-board/internal/repository"
	"github.com/vaidashi/dispatch-board/internal/session"
	"github.com/vaidashi/dispatch-board/internal/store"
	"github.com/vaidashi/dispatch-board/pkg/circuitbreaker"
	"github.com/vaidashi/dispatch-board/pkg/kafka"
	"github.com/vaidashi/dispatch-board/pkg/logger"
	"github.com/vaidashi/dispatch-board/pkg/middleware"
)

const (
	writeTimeout      = 10 * time.Second
	keepAliveInterval = 15 * time.Second
)

// Components are the parts the server runs on. Optional parts are nil
// when the configuration leaves them out.
type Components struct {
	Store       store.OrderStore
	Clock       clock.Clock
	Broadcaster *notify.Broadcaster
	// Sink receives the engine's change events; nil sends them to the log
	// and the broadcaster
	Sink notify.Sink

	DB              *database.Database
	Breaker         *circuitbreaker.CircuitBreaker
	OutboxProcessor *outbox.Processor
	KafkaProducer   *kafka.Producer
	KafkaConsumer   *kafka.Consumer
}

type Server struct {
	config      *config.Config
	logger      logger.Logger
	router      *mux.Router
	httpServer  *http.Server
	engine      *dispatch.Engine
	broadcaster *notify.Broadcaster
	guard       *middleware.PINGuard
	clock       clock.Clock
	location    *time.Location
	keepAlive   time.Duration
	components  Components

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewServer assembles the server for the configured store driver
func NewServer(cfg *config.Config, logger logger.Logger) (*Server, error) {
	components, err := BuildComponents(cfg, logger)
	if err != nil {
		return nil, err
	}

	server, err := NewServerWith(cfg, logger, components)
	if err != nil {
		components.close(logger)
		return nil, err
	}

	return server, nil
}

// BuildComponents connects the store and, for Postgres, the change feed
func BuildComponents(cfg *config.Config, logger logger.Logger) (Components, error) {
	c := Components{
		Clock:       clock.NewSystem(),
		Broadcaster: notify.NewBroadcaster(logger),
	}

	if cfg.StoreDriver == config.DriverMemory {
		c.Store = store.NewMemory(c.Clock, logger)
		return c, nil
	}

	db, err := database.New(cfg, logger)
	if err != nil {
		return c, err
	}
	c.DB = db

	if err := db.RunMigrations(); err != nil {
		c.close(logger)
		return c, fmt.Errorf("failed to run database migrations: %w", err)
	}

	orderRepo := repository.NewOrderRepository(db, logger)
	outboxRepo := repository.NewOutboxRepository(db, logger)

	pg := store.NewPostgres(db, orderRepo, outboxRepo, store.DefaultPostgresConfig(), c.Clock, logger)
	c.Store = pg
	c.Breaker = pg.Breaker()

	c.OutboxProcessor = outbox.NewProcessor(outboxRepo, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
	}, logger)

	if !cfg.Kafka.Enabled() {
		c.OutboxProcessor.RegisterAll(outbox.NewEventLogHandler(logger))
		return c, nil
	}

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		c.close(logger)
		return c, err
	}
	c.KafkaProducer = producer
	c.OutboxProcessor.RegisterAll(outbox.NewKafkaHandler(producer, cfg.Kafka.OrdersTopic, logger))

	consumer, err := kafka.NewConsumer(consumerConfig(cfg.Kafka), logger)
	if err != nil {
		c.close(logger)
		return c, err
	}
	consumer.RegisterHandler(cfg.Kafka.OrdersTopic, handlers.NewOrderEventsHandler(c.Broadcaster, logger))
	c.KafkaConsumer = consumer

	// SSE clients hear about changes through the topic. Each replica reads
	// it in its own group so all of them see every change; the engine only
	// logs
	c.Sink = notify.NewLog(logger)

	return c, nil
}

func consumerConfig(k config.KafkaConfig) *kafka.ConsumerConfig {
	return &kafka.ConsumerConfig{
		Brokers:       k.Brokers,
		Topics:        []string{k.OrdersTopic},
		ConsumerGroup: k.GroupID(),
	}
}

func (c Components) close(logger logger.Logger) {
	if c.KafkaConsumer != nil {
		if err := c.KafkaConsumer.Stop(); err != nil {
			logger.Error("Error stopping Kafka consumer", "error", err)
		}
	}

	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.KafkaProducer != nil {
		if err := c.KafkaProducer.Close(); err != nil {
			logger.Error("Error closing Kafka producer", "error", err)
		}
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logger.Error("Error closing database connection", "error", err)
		}
	}
}

// NewServerWith opens the board on the given components and starts the
// background workers
func NewServerWith(cfg *config.Config, logger logger.Logger, c Components) (*Server, error) {
	if c.Clock == nil {
		c.Clock = clock.NewSystem()
	}
	if c.Broadcaster == nil {
		c.Broadcaster = notify.NewBroadcaster(logger)
	}
	if c.Sink == nil {
		c.Sink = notify.Fanout{notify.NewLog(logger), c.Broadcaster}
	}

	gate := session.NewGate(cfg.PIN, logger)

	sess, err := gate.Unlock(cfg.PIN)
	if err != nil {
		return nil, err
	}

	engine, err := dispatch.New(sess, c.Store, c.Sink, c.Clock, dispatch.Config{
		Autocomplete: autocomplete.Config{
			Grace:        cfg.Autocomplete.Grace,
			Interval:     cfg.Autocomplete.Interval,
			WriteTimeout: writeTimeout,
		},
		WriteTimeout: writeTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open the board: %w", err)
	}

	r := mux.NewRouter()
	baseCtx, baseCancel := context.WithCancel(context.Background())

	server := &Server{
		router: r,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			BaseContext:  func(net.Listener) context.Context { return baseCtx },
		},
		logger:      logger,
		config:      cfg,
		engine:      engine,
		broadcaster: c.Broadcaster,
		clock:       c.Clock,
		location:    time.Local,
		keepAlive:   keepAliveInterval,
		components:  c,
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
	}

	server.guard = middleware.NewPINGuard(gate.Check, middleware.PINGuardConfig{
		CleanupInterval: 10 * time.Minute,
	}, server.respondWithError, logger)

	// open event streams end when shutdown starts
	server.httpServer.RegisterOnShutdown(baseCancel)

	server.setupRoutes()

	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Start()
	}

	if c.KafkaConsumer != nil {
		if err := c.KafkaConsumer.Start(); err != nil {
			logger.Error("Failed to start Kafka consumer", "error", err)
			// non-fatal, the board still works without live alerts
		}
	}

	return server, nil
}

// Handler exposes the router, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	ctx, cancel := context.WithTimeout(s.baseCtx, 30*time.Second)
	defer cancel()

	if err := s.engine.WaitReady(ctx); err != nil {
		s.logger.Warn("Board not loaded yet, serving anyway", "error", err)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.baseCancel()

	s.engine.Close()
	s.guard.Stop()
	s.components.close(s.logger)

	return err
}

// setupRoutes configures all the routes for our API
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	board := api.NewRoute().Subrouter()
	board.Use(s.guard.Middleware)

	board.HandleFunc("/orders", s.getOrdersHandler).Methods(http.MethodGet)
	board.HandleFunc("/orders", s.createOrderHandler).Methods(http.MethodPost)
	board.HandleFunc("/orders/{id}", s.getOrderByIDHandler).Methods(http.MethodGet)
	board.HandleFunc("/orders/{id}", s.editOrderHandler).Methods(http.MethodPatch)
	board.HandleFunc("/orders/{id}", s.deleteOrderHandler).Methods(http.MethodDelete)
	board.HandleFunc("/orders/{id}/status", s.updateOrderStatusHandler).Methods(http.MethodPatch)
	board.HandleFunc("/orders/{id}/appointment", s.setAppointmentHandler).Methods(http.MethodPut)
	board.HandleFunc("/events", s.eventsHandler).Methods(http.MethodGet)

	admin := board.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/circuit-breaker", s.getCircuitBreakerStatusHandler).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breaker/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
	admin.HandleFunc("/autocomplete/run", s.runAutocompleteHandler).Methods(http.MethodPost)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware for logging requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr,
		)
	})
}
