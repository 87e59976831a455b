// Package notify carries order change events to whoever is listening:
// logs, SSE clients, or nothing at all.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

// Event is one order change as seen by dispatchers
type Event struct {
	Type        string        `json:"type"`
	OrderID     string        `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	OldStatus   models.Status `json:"old_status,omitempty"`
	NewStatus   models.Status `json:"new_status,omitempty"`
	At          time.Time     `json:"at"`
}

// Sink receives change events. Implementations must not block.
type Sink interface {
	OrderChanged(Event)
}

// Nop drops every event
type Nop struct{}

func (Nop) OrderChanged(Event) {}

// Log writes events to the application log
type Log struct {
	logger logger.Logger
}

func NewLog(log logger.Logger) *Log {
	return &Log{logger: log}
}

func (l *Log) OrderChanged(e Event) {
	l.logger.Info("Order changed",
		"type", e.Type,
		"orderID", e.OrderID,
		"orderNumber", e.OrderNumber,
		"oldStatus", e.OldStatus,
		"newStatus", e.NewStatus)
}

// Fanout forwards each event to every sink in order
type Fanout []Sink

func (f Fanout) OrderChanged(e Event) {
	for _, s := range f {
		s.OrderChanged(e)
	}
}

// Broadcaster fans events out to subscribers such as SSE connections. A
// subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	logger logger.Logger
}

func NewBroadcaster(log logger.Logger) *Broadcaster {
	if log == nil {
		log = logger.NewNop()
	}
	return &Broadcaster{
		subs:   make(map[chan Event]struct{}),
		logger: log,
	}
}

// Subscribe registers a subscriber and returns its channel together with
// the function that removes it
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

// Subscribers counts live subscribers
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) OrderChanged(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("Dropping order event for slow subscriber", "type", e.Type, "orderID", e.OrderID)
		}
	}
}

// Diff derives the events between two consecutive board lists: new
// orders, removed orders and display status changes. Events are ordered
// by order id for stable output.
func Diff(prev, next []models.Order, at time.Time) []Event {
	before := make(map[string]models.Order, len(prev))
	for _, o := range prev {
		before[o.ID] = o
	}

	var events []Event

	for _, o := range next {
		old, existed := before[o.ID]
		delete(before, o.ID)

		switch {
		case !existed:
			events = append(events, Event{
				Type:        models.EventOrderCreated,
				OrderID:     o.ID,
				OrderNumber: o.OrderNumber,
				NewStatus:   o.DisplayStatus(),
				At:          at,
			})
		case old.DisplayStatus() != o.DisplayStatus():
			events = append(events, Event{
				Type:        models.EventOrderStatusChanged,
				OrderID:     o.ID,
				OrderNumber: o.OrderNumber,
				OldStatus:   old.DisplayStatus(),
				NewStatus:   o.DisplayStatus(),
				At:          at,
			})
		}
	}

	for _, o := range before {
		events = append(events, Event{
			Type:        models.EventOrderDeleted,
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			OldStatus:   o.DisplayStatus(),
			At:          at,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OrderID < events[j].OrderID
	})

	return events
}
