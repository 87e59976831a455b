// Package autocomplete completes Scheduled orders once their appointment
// is a grace period in the past.
package autocomplete

import (
	"context"
	"sync"
	"time"

	"github.com/vaidashi/dispatch-board/internal/clock"
	"github.com/vaidashi/dispatch-board/internal/lifecycle"
	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

const (
	DefaultGrace    = 2 * time.Hour
	DefaultInterval = time.Minute
)

// Writer accepts the completing patches
type Writer interface {
	Patch(ctx context.Context, id string, patch models.Patch) error
}

// Source returns the current board list
type Source func() []models.Order

// Config holds the scheduler settings
type Config struct {
	Grace    time.Duration
	Interval time.Duration
	// WriteTimeout bounds each completing write; zero means no bound
	WriteTimeout time.Duration
}

// Result summarizes one pass
type Result struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

type attemptKey struct {
	id string
	at int64
}

// Scheduler runs completion passes on a ticker and whenever it is kicked.
// Passes never overlap.
type Scheduler struct {
	writer Writer
	source Source
	clock  clock.Clock
	cfg    Config
	logger logger.Logger

	kick chan struct{}

	passMu    sync.Mutex
	attempted map[attemptKey]struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a scheduler. Zero durations fall back to the defaults.
func New(writer Writer, source Source, clk clock.Clock, cfg Config, log logger.Logger) *Scheduler {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Scheduler{
		writer:    writer,
		source:    source,
		clock:     clk,
		cfg:       cfg,
		logger:    log,
		kick:      make(chan struct{}, 1),
		attempted: make(map[attemptKey]struct{}),
	}
}

// Due reports whether o should be completed at now
func Due(o models.Order, now time.Time, grace time.Duration) bool {
	if o.DisplayStatus() != models.StatusScheduled || o.AppointmentAt == nil {
		return false
	}
	return !now.Before(o.AppointmentAt.Add(grace))
}

// Kick requests a pass without blocking. Kicks that arrive while one is
// pending are merged.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// RunPass completes every due order once. An order whose write failed is
// tried again on the next pass.
func (s *Scheduler) RunPass(ctx context.Context) Result {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	orders := s.source()
	now := s.clock.Now()
	s.prune(orders)

	var res Result

	for _, o := range orders {
		if !Due(o, now, s.cfg.Grace) {
			continue
		}
		res.Due++

		key := attemptKey{id: o.ID, at: o.AppointmentAt.UnixNano()}
		if _, done := s.attempted[key]; done {
			res.Skipped++
			continue
		}
		s.attempted[key] = struct{}{}

		if err := s.complete(ctx, o.ID); err != nil {
			delete(s.attempted, key)
			res.Failed++
			s.logger.Warn("Failed to auto-complete order",
				"orderID", o.ID,
				"orderNumber", o.OrderNumber,
				"error", err)
			continue
		}

		res.Completed++
		s.logger.Info("Order auto-completed",
			"orderID", o.ID,
			"orderNumber", o.OrderNumber,
			"appointmentAt", o.AppointmentAt)
	}

	return res
}

func (s *Scheduler) complete(ctx context.Context, id string) error {
	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}
	return s.writer.Patch(ctx, id, lifecycle.Complete())
}

// prune forgets attempts for orders that no longer show Scheduled with the
// same appointment
func (s *Scheduler) prune(orders []models.Order) {
	if len(s.attempted) == 0 {
		return
	}

	live := make(map[attemptKey]struct{}, len(orders))
	for _, o := range orders {
		if o.DisplayStatus() == models.StatusScheduled && o.AppointmentAt != nil {
			live[attemptKey{id: o.ID, at: o.AppointmentAt.UnixNano()}] = struct{}{}
		}
	}

	for key := range s.attempted {
		if _, ok := live[key]; !ok {
			delete(s.attempted, key)
		}
	}
}

// Start runs the scheduler loop until Stop
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	s.logger.Debug("Auto-complete scheduler started",
		"grace", s.cfg.Grace,
		"interval", s.cfg.Interval)
}

// Stop cancels the loop and waits for an in-flight pass to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	s.logger.Debug("Auto-complete scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunPass(ctx)
		case <-s.kick:
			s.RunPass(ctx)
		}
	}
}
