// Package dispatch runs the board for one connected client: it follows the
// store subscription, keeps the projection current, drives auto-completion
// and gates every write through the lifecycle rules.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/dispatch-board/internal/autocomplete"
	"github.com/vaidashi/dispatch-board/internal/board"
	"github.com/vaidashi/dispatch-board/internal/clock"
	"github.com/vaidashi/dispatch-board/internal/lifecycle"
	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/internal/notify"
	"github.com/vaidashi/dispatch-board/internal/session"
	"github.com/vaidashi/dispatch-board/internal/store"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
	"github.com/vaidashi/dispatch-board/pkg/logger"
	"github.com/vaidashi/dispatch-board/pkg/retry"
)

// Config holds the engine settings
type Config struct {
	Autocomplete autocomplete.Config
	// WriteTimeout bounds each store write; zero leaves it to the caller
	WriteTimeout time.Duration
	// Resubscribe paces attempts to reopen a lost subscription
	Resubscribe retry.BackoffStrategy
	// Location is used for today and tomorrow filters; nil means time.Local
	Location *time.Location
}

// Engine is the per client board engine
type Engine struct {
	store      store.OrderStore
	projection *board.Projection
	scheduler  *autocomplete.Scheduler
	sink       notify.Sink
	clock      clock.Clock
	cfg        Config
	logger     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
	detach    []func()

	// prev is the last list seen by the notifier; only the watch goroutine
	// touches it
	prev     []models.Order
	baseline bool
}

// New starts an engine for an unlocked session. A nil sink discards change
// events.
func New(
	sess session.Session,
	st store.OrderStore,
	sink notify.Sink,
	clk clock.Clock,
	cfg Config,
	log logger.Logger,
) (*Engine, error) {
	if !sess.Unlocked() {
		return nil, apperrors.NewLockedError("enter the dispatch PIN to open the board")
	}

	if sink == nil {
		sink = notify.Nop{}
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Resubscribe == nil {
		cfg.Resubscribe = retry.NewDefaultExponentialBackoff()
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		store:      st,
		projection: board.NewProjection(),
		sink:       sink,
		clock:      clk,
		cfg:        cfg,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
	}

	sub, err := st.Subscribe(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	e.scheduler = autocomplete.New(writeGate{e}, e.projection.Orders, clk, cfg.Autocomplete, log)

	e.detach = append(e.detach,
		e.projection.Subscribe(e.notifyChanges),
		e.projection.Subscribe(func([]models.Order) { e.scheduler.Kick() }),
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.watch(sub)
	}()

	e.scheduler.Start()

	return e, nil
}

// WaitReady blocks until the first snapshot has been applied
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return apperrors.ErrSubscriptionEnded
	}
}

// Close stops the watch loop and the scheduler. Writes already in flight
// finish on their own.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.scheduler.Stop()
		for _, d := range e.detach {
			d()
		}
	})
}

// Orders returns the sorted board list
func (e *Engine) Orders() []models.Order {
	return e.projection.Orders()
}

// Order looks up one order on the board
func (e *Engine) Order(id string) (models.Order, error) {
	o, ok := e.projection.Get(id)
	if !ok {
		return models.Order{}, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
	}
	return o, nil
}

// Version counts the snapshots applied so far
func (e *Engine) Version() uint64 {
	return e.projection.Version()
}

// Visible returns the filtered list together with the counts for the
// whole board
func (e *Engine) Visible(c board.Criteria) ([]models.Order, board.Counts) {
	if c.Location == nil {
		c.Location = e.cfg.Location
	}

	orders := e.projection.Orders()
	return board.Filter(orders, c, e.clock.Now()), board.Count(orders)
}

// RunAutocomplete runs one completion pass now instead of waiting for the
// next tick
func (e *Engine) RunAutocomplete(ctx context.Context) autocomplete.Result {
	return e.scheduler.RunPass(ctx)
}

// Create validates and stores a new order. It returns once the order is on
// this engine's board, so follow-up writes by id find it.
func (e *Engine) Create(ctx context.Context, req lifecycle.CreateRequest) (string, error) {
	order, err := lifecycle.PlanCreate(req)
	if err != nil {
		return "", err
	}

	ctx, cancel := e.writeContext(ctx)
	defer cancel()

	id, err := e.store.Create(ctx, order)
	if err != nil {
		e.logger.Error("Failed to create order", "error", err, "orderNumber", order.OrderNumber)
		return "", err
	}

	e.logger.Info("Order created", "orderID", id, "orderNumber", order.OrderNumber, "status", order.Status)

	// the write is committed; a slow subscription only delays visibility
	if err := e.awaitOrder(ctx, id); err != nil {
		e.logger.Warn("Created order not on the board yet", "orderID", id, "error", err)
	}

	return id, nil
}

// awaitOrder blocks until the projection holds id
func (e *Engine) awaitOrder(ctx context.Context, id string) error {
	seen := make(chan struct{})
	var once sync.Once

	detach := e.projection.Subscribe(func([]models.Order) {
		if _, ok := e.projection.Get(id); ok {
			once.Do(func() { close(seen) })
		}
	})
	defer detach()

	if _, ok := e.projection.Get(id); ok {
		return nil
	}

	select {
	case <-seen:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return apperrors.ErrSubscriptionEnded
	}
}

// SetStatus moves an order to another status. Declining needs a reason.
func (e *Engine) SetStatus(ctx context.Context, id, status, reason string) error {
	patch, err := lifecycle.PlanTransition(status, reason)
	if err != nil {
		return err
	}
	return e.write(ctx, id, patch)
}

// SetAppointment sets or, with nil, clears an appointment. A Pending order
// becomes Scheduled when it gets one.
func (e *Engine) SetAppointment(ctx context.Context, id string, at *time.Time) error {
	current, err := e.Order(id)
	if err != nil {
		return err
	}
	return e.write(ctx, id, lifecycle.PlanAppointment(current, at))
}

// Edit applies the full edit form
func (e *Engine) Edit(ctx context.Context, id string, req lifecycle.EditRequest) error {
	current, err := e.Order(id)
	if err != nil {
		return err
	}

	patch, err := lifecycle.PlanEdit(current, req)
	if err != nil {
		return err
	}
	return e.write(ctx, id, patch)
}

// Delete removes an order permanently
func (e *Engine) Delete(ctx context.Context, id string) error {
	ctx, cancel := e.writeContext(ctx)
	defer cancel()

	if err := e.store.Delete(ctx, id); err != nil {
		e.logger.Error("Failed to delete order", "error", err, "orderID", id)
		return err
	}

	e.logger.Info("Order deleted", "orderID", id)
	return nil
}

func (e *Engine) write(ctx context.Context, id string, patch models.Patch) error {
	ctx, cancel := e.writeContext(ctx)
	defer cancel()

	if err := e.store.Patch(ctx, id, patch); err != nil {
		e.logger.Error("Failed to update order", "error", err, "orderID", id, "fields", patch.Fields())
		return err
	}

	e.logger.Debug("Order updated", "orderID", id, "fields", patch.Fields())
	return nil
}

func (e *Engine) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.WriteTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.WriteTimeout)
	}
	return context.WithCancel(ctx)
}

// writeGate is how the scheduler reaches the store
type writeGate struct {
	e *Engine
}

func (g writeGate) Patch(ctx context.Context, id string, patch models.Patch) error {
	return g.e.write(ctx, id, patch)
}

func (e *Engine) watch(sub *store.Subscription) {
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	for {
		select {
		case <-e.ctx.Done():
			return
		case snapshot := <-sub.Snapshots():
			e.projection.Apply(snapshot)
			e.readyOnce.Do(func() { close(e.ready) })
		case <-sub.Done():
			err := sub.Err()
			sub.Close()
			sub = nil

			if e.ctx.Err() != nil {
				return
			}

			e.logger.Warn("Order subscription ended, resubscribing", "error", err)

			sub = e.resubscribe()
			if sub == nil {
				return
			}
		}
	}
}

func (e *Engine) resubscribe() *store.Subscription {
	var sub *store.Subscription

	err := retry.Retry(e.ctx, func(ctx context.Context) error {
		var err error
		sub, err = e.store.Subscribe(ctx)
		return err
	}, &retry.RetryConfig{
		BackoffStrategy: e.cfg.Resubscribe,
		Logger:          e.logger,
	})

	if err != nil {
		return nil
	}

	e.logger.Info("Order subscription restored")
	return sub
}

// notifyChanges runs on the watch goroutine. The first list only sets the
// baseline so existing orders do not alert.
func (e *Engine) notifyChanges(orders []models.Order) {
	if !e.baseline {
		e.baseline = true
		e.prev = orders
		return
	}

	for _, ev := range notify.Diff(e.prev, orders, e.clock.Now()) {
		e.sink.OrderChanged(ev)
	}
	e.prev = orders
}
