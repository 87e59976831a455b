package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/vaidashi/dispatch-board/internal/clock"
	"github.com/vaidashi/dispatch-board/internal/models"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

// Memory is a single process store. Every write publishes a fresh
// snapshot to all subscribers before it returns.
type Memory struct {
	mu       sync.Mutex
	orders   map[string]models.Order
	subs     map[*Subscription]struct{}
	clock    clock.Clock
	logger   logger.Logger
	writeErr error
	writes   int
}

// NewMemory creates an empty in-memory store
func NewMemory(clk clock.Clock, log logger.Logger) *Memory {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Memory{
		orders: make(map[string]models.Order),
		subs:   make(map[*Subscription]struct{}),
		clock:  clk,
		logger: log,
	}
}

// Seed inserts records as they are, for imports and tests. Records keep
// whatever status and timestamps they carry.
func (m *Memory) Seed(orders ...models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range orders {
		if o.ID == "" {
			o.ID = models.GenerateID("ord")
		}
		m.orders[o.ID] = o
	}
	m.broadcastLocked()
}

// FailWrites makes every write return err until it is called with nil
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Writes counts the writes the store has accepted
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Get returns the stored record, bypassing subscriptions
func (m *Memory) Get(id string) (models.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

func (m *Memory) Subscribe(ctx context.Context) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		sub  *Subscription
		stop func() bool
	)

	m.mu.Lock()
	defer m.mu.Unlock()

	sub = newSubscription(func() {
		m.mu.Lock()
		delete(m.subs, sub)
		detach := stop
		m.mu.Unlock()

		if detach != nil {
			detach()
		}
	})
	m.subs[sub] = struct{}{}
	sub.publish(m.snapshotLocked())

	// assigned under m.mu so the close hook above always sees it
	stop = context.AfterFunc(ctx, sub.Close)

	return sub, nil
}

func (m *Memory) Create(ctx context.Context, order models.NewOrder) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.NewStoreUnavailableError(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return "", m.writeErr
	}

	id := models.GenerateID("ord")
	m.orders[id] = order.Build(id, m.clock.Now())
	m.writes++
	m.broadcastLocked()

	m.logger.Debug("Order created", "orderID", id, "orderNumber", order.OrderNumber)
	return id, nil
}

func (m *Memory) Patch(ctx context.Context, id string, patch models.Patch) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreUnavailableError(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}

	current, ok := m.orders[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
	}

	updated := patch.Apply(current)
	updated.UpdatedAt = m.clock.Now()
	m.orders[id] = updated
	m.writes++
	m.broadcastLocked()

	m.logger.Debug("Order patched", "orderID", id, "fields", patch.Fields())
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewStoreUnavailableError(err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}

	if _, ok := m.orders[id]; !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", id))
	}

	delete(m.orders, id)
	m.writes++
	m.broadcastLocked()

	m.logger.Debug("Order deleted", "orderID", id)
	return nil
}

func (m *Memory) snapshotLocked() models.Snapshot {
	orders := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		orders = append(orders, o)
	}
	return models.Snapshot{Orders: orders, At: m.clock.Now()}
}

func (m *Memory) broadcastLocked() {
	if len(m.subs) == 0 {
		return
	}

	snapshot := m.snapshotLocked()
	for sub := range m.subs {
		sub.publish(snapshot)
	}
}
