package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vaidashi/dispatch-board/internal/clock"
	"github.com/vaidashi/dispatch-board/internal/database"
	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/internal/repository"
	"github.com/vaidashi/dispatch-board/pkg/circuitbreaker"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
	"github.com/vaidashi/dispatch-board/pkg/logger"
	"github.com/vaidashi/dispatch-board/pkg/retry"
)

// DefaultChannel is the NOTIFY channel order writes signal on
const DefaultChannel = "orders_changed"

// PostgresConfig tunes the Postgres store
type PostgresConfig struct {
	Channel        string
	MinReconnect   time.Duration
	MaxReconnect   time.Duration
	PingInterval   time.Duration
	ReloadAttempts int
	Breaker        circuitbreaker.CircuitBreakerConfig
}

// DefaultPostgresConfig returns the settings used by the server
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Channel:        DefaultChannel,
		MinReconnect:   time.Second,
		MaxReconnect:   time.Minute,
		PingInterval:   90 * time.Second,
		ReloadAttempts: 5,
		Breaker: circuitbreaker.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     10 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}
}

// Postgres stores orders in PostgreSQL. Each write commits the order row,
// an outbox message and a NOTIFY together; subscribers LISTEN and reload
// the whole collection when notified.
type Postgres struct {
	db      *database.Database
	orders  *repository.OrderRepository
	outbox  *repository.OutboxRepository
	breaker *circuitbreaker.CircuitBreaker
	cfg     PostgresConfig
	clock   clock.Clock
	logger  logger.Logger
}

// NewPostgres creates a Postgres store on top of the repositories
func NewPostgres(
	db *database.Database,
	orders *repository.OrderRepository,
	outbox *repository.OutboxRepository,
	cfg PostgresConfig,
	clk clock.Clock,
	log logger.Logger,
) *Postgres {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if clk == nil {
		clk = clock.NewSystem()
	}

	return &Postgres{
		db:      db,
		orders:  orders,
		outbox:  outbox,
		breaker: circuitbreaker.NewCircuitBreaker(cfg.Breaker),
		cfg:     cfg,
		clock:   clk,
		logger:  log,
	}
}

// Breaker exposes the write circuit breaker for health reporting
func (p *Postgres) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

func (p *Postgres) Create(ctx context.Context, n models.NewOrder) (string, error) {
	id := models.GenerateID("ord")
	order := n.Build(id, p.clock.Now().UTC())

	msg, err := models.NewOrderCreatedEvent(&order)
	if err != nil {
		return "", fmt.Errorf("failed to create outbox message: %w", err)
	}

	err = p.write(ctx, func(tx *sqlx.Tx) error {
		if err := p.orders.CreateInTx(ctx, tx, order); err != nil {
			return err
		}
		if err := p.outbox.CreateInTx(ctx, tx, msg); err != nil {
			return err
		}
		return p.orders.NotifyInTx(ctx, tx, p.cfg.Channel, id)
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("Order created with outbox message", "orderID", id, "outboxID", msg.ID)
	return id, nil
}

func (p *Postgres) Patch(ctx context.Context, id string, patch models.Patch) error {
	now := p.clock.Now().UTC()

	return p.write(ctx, func(tx *sqlx.Tx) error {
		current, err := p.orders.GetByIDInTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := p.orders.PatchInTx(ctx, tx, id, patch, now); err != nil {
			return err
		}

		updated := patch.Apply(current)
		updated.UpdatedAt = now

		msg, err := changeEvent(current, updated)
		if err != nil {
			return fmt.Errorf("failed to create outbox message: %w", err)
		}

		if err := p.outbox.CreateInTx(ctx, tx, msg); err != nil {
			return err
		}

		return p.orders.NotifyInTx(ctx, tx, p.cfg.Channel, id)
	})
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	return p.write(ctx, func(tx *sqlx.Tx) error {
		deleted, err := p.orders.DeleteInTx(ctx, tx, id)
		if err != nil {
			return err
		}

		msg, err := models.NewOrderDeletedEvent(&deleted)
		if err != nil {
			return fmt.Errorf("failed to create outbox message: %w", err)
		}

		if err := p.outbox.CreateInTx(ctx, tx, msg); err != nil {
			return err
		}

		return p.orders.NotifyInTx(ctx, tx, p.cfg.Channel, id)
	})
}

// changeEvent picks the outbox event for an edit
func changeEvent(before, after models.Order) (*models.OutboxMessage, error) {
	if before.Status != after.Status {
		return models.NewOrderStatusChangedEvent(&after, before.Status)
	}
	return models.NewOrderUpdatedEvent(&after)
}

// write runs fn in a transaction behind the circuit breaker. Missing
// orders and callers that gave up do not count as store failures.
func (p *Postgres) write(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	err := p.breaker.Execute(func() error {
		return asStoreError(ctx, p.db.WithTx(ctx, fn))
	}, storeFailure)

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return apperrors.NewStoreUnavailableError("order store is unavailable, try again shortly")
	}

	return err
}

// asStoreError wraps database failures as ErrStoreUnavailable. Context
// errors pass through untouched.
func asStoreError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if isContextError(err) || errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
}

func storeFailure(err error) bool {
	return errors.Is(err, apperrors.ErrStoreUnavailable) && !isContextError(err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Subscribe opens a dedicated LISTEN connection for this subscriber. The
// listener reconnects on its own; after a reconnect the collection is
// reloaded since notifications may have been missed.
func (p *Postgres) Subscribe(ctx context.Context) (*Subscription, error) {
	listener := pq.NewListener(p.db.ConnString(), p.cfg.MinReconnect, p.cfg.MaxReconnect, p.listenerEvent)

	if err := listener.Listen(p.cfg.Channel); err != nil {
		_ = listener.Close()
		return nil, apperrors.NewStoreUnavailableError(fmt.Sprintf("failed to listen on %s: %v", p.cfg.Channel, err))
	}

	return p.watch(ctx, pqNotifier{listener}), nil
}

func (p *Postgres) listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		p.logger.Info("Order listener connected", "channel", p.cfg.Channel)
	case pq.ListenerEventDisconnected:
		p.logger.Warn("Order listener disconnected", "channel", p.cfg.Channel, "error", err)
	case pq.ListenerEventReconnected:
		p.logger.Info("Order listener reconnected", "channel", p.cfg.Channel)
	case pq.ListenerEventConnectionAttemptFailed:
		p.logger.Warn("Order listener connection attempt failed", "channel", p.cfg.Channel, "error", err)
	}
}

// notifier is the part of pq.Listener the watch loop needs
type notifier interface {
	Notifications() <-chan *pq.Notification
	Ping() error
	Close() error
}

type pqNotifier struct {
	*pq.Listener
}

func (n pqNotifier) Notifications() <-chan *pq.Notification {
	return n.Notify
}

type orderLister interface {
	List(ctx context.Context) ([]models.Order, error)
}

func (p *Postgres) watch(ctx context.Context, n notifier) *Subscription {
	return watchOrders(ctx, n, p.orders, p.cfg, p.clock, p.logger)
}

func watchOrders(ctx context.Context, n notifier, lister orderLister, cfg PostgresConfig, clk clock.Clock, log logger.Logger) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	sub := newSubscription(func() {
		cancel()
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { _ = n.Close() }()
		runWatch(subCtx, sub, n, lister, cfg, clk, log)
	}()

	return sub
}

func runWatch(ctx context.Context, sub *Subscription, n notifier, lister orderLister, cfg PostgresConfig, clk clock.Clock, log logger.Logger) {
	retryCfg := &retry.RetryConfig{
		MaxAttempts:     cfg.ReloadAttempts,
		BackoffStrategy: retry.NewDefaultExponentialBackoff(),
		Logger:          log,
		RetryableErrors: []error{apperrors.ErrStoreUnavailable},
	}

	reload := func() bool {
		var orders []models.Order

		err := retry.Retry(ctx, func(ctx context.Context) error {
			var err error
			orders, err = lister.List(ctx)
			return err
		}, retryCfg)

		if err != nil {
			if ctx.Err() != nil {
				sub.end(nil)
				return false
			}
			log.Error("Failed to reload orders, ending subscription", "error", err)
			sub.end(fmt.Errorf("%w: %v", apperrors.ErrSubscriptionEnded, err))
			return false
		}

		sub.publish(models.Snapshot{Orders: orders, At: clk.Now()})
		return true
	}

	if !reload() {
		return
	}

	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 90 * time.Second
	}
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			sub.end(nil)
			return
		case note, ok := <-n.Notifications():
			if !ok {
				sub.end(apperrors.ErrSubscriptionEnded)
				return
			}
			if note == nil {
				log.Info("Reloading orders after listener reconnect")
			}
			drain(n.Notifications())
			if !reload() {
				return
			}
		case <-ping.C:
			if err := n.Ping(); err != nil {
				log.Warn("Order listener ping failed", "error", err)
			}
		}
	}
}

// drain swallows notifications that queued up behind the one being handled;
// a single reload covers all of them
func drain(ch <-chan *pq.Notification) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
