package board

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/dispatch-board/internal/models"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
)

var nyc = time.FixedZone("EST", -5*3600)

func sampleOrders() []models.Order {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, nyc)
	today := time.Date(2025, 6, 10, 15, 0, 0, 0, nyc)
	tomorrow := time.Date(2025, 6, 11, 8, 30, 0, 0, nyc)

	return []models.Order{
		{ID: "a", OrderNumber: "1001", Year: "2018", Make: "Honda", Model: "Civic", Status: models.StatusScheduled, AppointmentAt: &today, CreatedAt: now},
		{ID: "b", OrderNumber: "1002", Make: "Ford", Model: "F-150", Status: models.StatusPending, CreatedAt: now.Add(-time.Hour)},
		{ID: "c", OrderNumber: "1003", Make: "Toyota", Status: models.StatusScheduled, AppointmentAt: &tomorrow, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "d", OrderNumber: "1004", Status: "legacy", AppointmentLabel: "Tomorrow 3pm", CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "e", OrderNumber: "1005", Make: "honda", Status: models.StatusDeclined, DeclineReason: "no keys"},
	}
}

func ids(orders []models.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, nyc)
	orders := sampleOrders()

	tests := []struct {
		name     string
		criteria Criteria
		want     []string
	}{
		{name: "no criteria", criteria: Criteria{}, want: []string{"a", "b", "c", "d", "e"}},
		{name: "search is case insensitive", criteria: Criteria{Search: "HONDA"}, want: []string{"a", "e"}},
		{name: "search spans vehicle fields", criteria: Criteria{Search: "2018 honda civic"}, want: []string{"a"}},
		{name: "blank search", criteria: Criteria{Search: "   "}, want: []string{"a", "b", "c", "d", "e"}},
		{name: "status uses display status", criteria: Criteria{Status: models.StatusPending}, want: []string{"b", "d"}},
		{name: "with appointment", criteria: Criteria{Appointment: AppointmentWith}, want: []string{"a", "c", "d"}},
		{name: "without appointment", criteria: Criteria{Appointment: AppointmentNone}, want: []string{"b", "e"}},
		{name: "today", criteria: Criteria{Appointment: AppointmentToday}, want: []string{"a"}},
		{name: "tomorrow falls back to label", criteria: Criteria{Appointment: AppointmentTomorrow}, want: []string{"c", "d"}},
		{name: "combined", criteria: Criteria{Search: "toyota", Status: models.StatusScheduled, Appointment: AppointmentTomorrow}, want: []string{"c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.criteria.Location = nyc
			assert.Equal(t, tt.want, ids(Filter(orders, tt.criteria, now)))
		})
	}
}

func TestFilterIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, nyc)
	c := Criteria{Search: "o", Appointment: AppointmentWith, Location: nyc}

	once := Filter(sampleOrders(), c, now)
	twice := Filter(once, c, now)

	assert.Equal(t, ids(once), ids(twice))
}

func TestFilterUsesLocalDay(t *testing.T) {
	// 23:30 EST is already tomorrow in UTC
	late := time.Date(2025, 6, 10, 23, 30, 0, 0, nyc)
	orders := []models.Order{{ID: "x", OrderNumber: "1", AppointmentAt: &late}}
	now := time.Date(2025, 6, 10, 8, 0, 0, 0, nyc)

	assert.Len(t, Filter(orders, Criteria{Appointment: AppointmentToday, Location: nyc}, now), 1)
	assert.Empty(t, Filter(orders, Criteria{Appointment: AppointmentToday, Location: time.UTC}, now))
}

func TestParseFilters(t *testing.T) {
	s, err := ParseStatusFilter("All")
	require.NoError(t, err)
	assert.Equal(t, models.Status(""), s)

	s, err = ParseStatusFilter("declined")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, s)

	_, err = ParseStatusFilter("archived")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidStatus))

	a, err := ParseAppointmentFilter("")
	require.NoError(t, err)
	assert.Equal(t, AppointmentAll, a)

	_, err = ParseAppointmentFilter("yesterday")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestCount(t *testing.T) {
	assert.Equal(t, Counts{Total: 5, Pending: 2, Scheduled: 2, Declined: 1}, Count(sampleOrders()))
}

func TestSort(t *testing.T) {
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	orders := []models.Order{
		{ID: "old", OrderNumber: "1", CreatedAt: ts.Add(-time.Minute)},
		{ID: "100", OrderNumber: "100", CreatedAt: ts},
		{ID: "missing-10", OrderNumber: "10"},
		{ID: "20", OrderNumber: "20", CreatedAt: ts},
		{ID: "missing-9", OrderNumber: "9"},
	}

	Sort(orders)

	assert.Equal(t, []string{"20", "100", "old", "missing-9", "missing-10"}, ids(orders))
}

func TestProjectionApply(t *testing.T) {
	p := NewProjection()
	assert.Equal(t, uint64(0), p.Version())

	var (
		mu       sync.Mutex
		received [][]string
	)
	unsubscribe := p.Subscribe(func(orders []models.Order) {
		mu.Lock()
		received = append(received, ids(orders))
		mu.Unlock()
	})

	input := sampleOrders()
	input[0], input[4] = input[4], input[0]
	p.Apply(models.Snapshot{Orders: input})

	// listeners have run by the time Apply returns
	mu.Lock()
	require.Len(t, received, 1)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, received[0])
	mu.Unlock()

	assert.Equal(t, "e", input[0].ID, "the snapshot itself is not reordered")
	assert.Equal(t, 5, p.Len())
	assert.Equal(t, uint64(1), p.Version())

	got, ok := p.Get("c")
	require.True(t, ok)
	assert.Equal(t, "1003", got.OrderNumber)

	_, ok = p.Get("zzz")
	assert.False(t, ok)

	unsubscribe()
	p.Apply(models.Snapshot{})

	mu.Lock()
	assert.Len(t, received, 1)
	mu.Unlock()
	assert.Equal(t, 0, p.Len())
}
