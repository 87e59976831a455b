package autocomplete

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/dispatch-board/internal/clock"
	"github.com/vaidashi/dispatch-board/internal/models"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

var appt = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

type recordingWriter struct {
	mu      sync.Mutex
	patches map[string]int
	failFor map[string]error
	written chan string
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{
		patches: make(map[string]int),
		failFor: make(map[string]error),
		written: make(chan string, 16),
	}
}

func (w *recordingWriter) Patch(ctx context.Context, id string, patch models.Patch) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.failFor[id]; err != nil {
		return err
	}
	if patch.Status == nil || *patch.Status != models.StatusCompleted || len(patch.Fields()) != 1 {
		return errors.New("unexpected patch")
	}

	w.patches[id]++
	w.written <- id
	return nil
}

func (w *recordingWriter) count(id string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.patches[id]
}

func (w *recordingWriter) setFail(id string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.failFor, id)
		return
	}
	w.failFor[id] = err
}

type board struct {
	mu     sync.Mutex
	orders []models.Order
}

func (b *board) source() []models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders
}

func (b *board) set(orders ...models.Order) {
	b.mu.Lock()
	b.orders = orders
	b.mu.Unlock()
}

func scheduled(id string, at time.Time) models.Order {
	return models.Order{ID: id, OrderNumber: id, Status: models.StatusScheduled, AppointmentAt: &at}
}

func TestDue(t *testing.T) {
	grace := 2 * time.Hour
	label := models.Order{Status: models.StatusScheduled, AppointmentLabel: "tomorrow"}

	assert.False(t, Due(scheduled("a", appt), appt.Add(grace-time.Second), grace))
	assert.True(t, Due(scheduled("a", appt), appt.Add(grace), grace))
	assert.False(t, Due(label, appt.Add(24*time.Hour), grace), "labels never trigger completion")

	pending := scheduled("b", appt)
	pending.Status = models.StatusPending
	assert.False(t, Due(pending, appt.Add(grace), grace))

	unknown := scheduled("c", appt)
	unknown.Status = "scheduled"
	assert.False(t, Due(unknown, appt.Add(grace), grace), "unknown statuses display as Pending")
}

func TestRunPassCompletesOnceAtGrace(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(appt.Add(2*time.Hour - time.Second))
	w := newRecordingWriter()
	b := &board{}
	b.set(scheduled("ord-1", appt))

	s := New(w, b.source, clk, Config{}, logger.NewNop())

	res := s.RunPass(ctx)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 0, w.count("ord-1"))

	clk.Advance(time.Second)
	res = s.RunPass(ctx)
	assert.Equal(t, Result{Due: 1, Completed: 1}, res)

	// the board has not caught up yet; no second write
	res = s.RunPass(ctx)
	assert.Equal(t, Result{Due: 1, Skipped: 1}, res)
	assert.Equal(t, 1, w.count("ord-1"))
}

func TestRunPassIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(appt.Add(3 * time.Hour))
	w := newRecordingWriter()
	w.setFail("ord-bad", errors.New("store offline"))

	b := &board{}
	b.set(scheduled("ord-bad", appt), scheduled("ord-good", appt))

	s := New(w, b.source, clk, Config{}, logger.NewNop())

	res := s.RunPass(ctx)
	assert.Equal(t, Result{Due: 2, Completed: 1, Failed: 1}, res)
	assert.Equal(t, 1, w.count("ord-good"))

	// failed attempts are forgotten and retried
	w.setFail("ord-bad", nil)
	res = s.RunPass(ctx)
	assert.Equal(t, Result{Due: 2, Completed: 1, Skipped: 1}, res)
	assert.Equal(t, 1, w.count("ord-bad"))
}

func TestRunPassRescheduledOrderCompletesAgain(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(appt.Add(2 * time.Hour))
	w := newRecordingWriter()
	b := &board{}
	b.set(scheduled("ord-1", appt))

	s := New(w, b.source, clk, Config{}, logger.NewNop())
	s.RunPass(ctx)

	// completed, then an operator moves it back with a new appointment
	done := scheduled("ord-1", appt)
	done.Status = models.StatusCompleted
	b.set(done)
	s.RunPass(ctx)
	assert.Empty(t, s.attempted)

	later := appt.Add(24 * time.Hour)
	b.set(scheduled("ord-1", later))
	clk.Set(later.Add(2 * time.Hour))

	res := s.RunPass(ctx)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 2, w.count("ord-1"))
}

func TestStartKickStop(t *testing.T) {
	clk := clock.NewFake(appt.Add(5 * time.Hour))
	w := newRecordingWriter()
	b := &board{}
	b.set(scheduled("ord-1", appt))

	s := New(w, b.source, clk, Config{Interval: time.Hour}, logger.NewNop())
	s.Start()
	s.Start()

	s.Kick()
	s.Kick()

	select {
	case id := <-w.written:
		assert.Equal(t, "ord-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("kick did not trigger a pass")
	}

	s.Stop()
	s.Stop()

	b.set(scheduled("ord-2", appt))
	s.Kick()

	select {
	case <-w.written:
		t.Fatal("pass ran after Stop")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 0, w.count("ord-2"))
}
