package board

import (
	"sort"
	"sync"

	"github.com/vaidashi/dispatch-board/internal/models"
)

// Listener receives every published list. The slice is shared with other
// listeners and readers and must not be modified.
type Listener func(orders []models.Order)

// Projection holds the sorted list last published from the store
type Projection struct {
	// applyMu serializes Apply so listeners see publications in order
	applyMu sync.Mutex

	mu        sync.RWMutex
	orders    []models.Order
	index     map[string]int
	version   uint64
	listeners map[int]Listener
	nextID    int
}

// NewProjection creates an empty projection
func NewProjection() *Projection {
	return &Projection{
		index:     make(map[string]int),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers l and returns a function that removes it
func (p *Projection) Subscribe(l Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Apply replaces the list with a sorted copy of the snapshot and calls
// every listener before returning
func (p *Projection) Apply(snapshot models.Snapshot) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	orders := make([]models.Order, len(snapshot.Orders))
	copy(orders, snapshot.Orders)
	Sort(orders)

	index := make(map[string]int, len(orders))
	for i, o := range orders {
		index[o.ID] = i
	}

	p.mu.Lock()
	p.orders = orders
	p.index = index
	p.version++
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(orders)
	}
}

// Orders returns the last published list
func (p *Projection) Orders() []models.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.orders
}

// Get looks up an order by id in the last published list
func (p *Projection) Get(id string) (models.Order, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	i, ok := p.index[id]
	if !ok {
		return models.Order{}, false
	}
	return p.orders[i], true
}

func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.orders)
}

// Version counts publications; zero means no snapshot has arrived yet
func (p *Projection) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// Sort orders newest first. Orders created at the same instant, or with
// no creation time, fall back to a plain descending string comparison of
// their order numbers.
func Sort(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.OrderNumber > b.OrderNumber
	})
}
