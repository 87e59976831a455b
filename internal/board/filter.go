// Package board derives what a dispatcher sees from the raw order list:
// the sorted projection, the filtered subset and the status counts.
package board

import (
	"fmt"
	"strings"
	"time"

	"github.com/vaidashi/dispatch-board/internal/models"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
)

// AppointmentFilter narrows the board by appointment
type AppointmentFilter string

const (
	AppointmentAll      AppointmentFilter = "all"
	AppointmentWith     AppointmentFilter = "with"
	AppointmentNone     AppointmentFilter = "none"
	AppointmentToday    AppointmentFilter = "today"
	AppointmentTomorrow AppointmentFilter = "tomorrow"
)

// Criteria is the dispatcher's current filter bar.
// An empty Status means all statuses.
type Criteria struct {
	Search      string
	Status      models.Status
	Appointment AppointmentFilter
	// Location is the zone used for today/tomorrow; nil means time.Local
	Location *time.Location
}

// ParseStatusFilter accepts "all", an empty string or any status name
func ParseStatusFilter(raw string) (models.Status, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "all") {
		return "", nil
	}

	for _, s := range models.Statuses {
		if strings.EqualFold(trimmed, string(s)) {
			return s, nil
		}
	}

	return "", apperrors.NewInvalidStatusError(fmt.Sprintf("unknown status filter %q", raw))
}

// ParseAppointmentFilter accepts one of all, with, none, today, tomorrow
func ParseAppointmentFilter(raw string) (AppointmentFilter, error) {
	f := AppointmentFilter(strings.ToLower(strings.TrimSpace(raw)))

	switch f {
	case "":
		return AppointmentAll, nil
	case AppointmentAll, AppointmentWith, AppointmentNone, AppointmentToday, AppointmentTomorrow:
		return f, nil
	}

	return "", apperrors.NewValidationError(fmt.Sprintf("unknown appointment filter %q", raw))
}

// Filter returns the orders matching c, in input order. It never mutates
// its input and applying it twice gives the same result.
func Filter(orders []models.Order, c Criteria, now time.Time) []models.Order {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}

	search := strings.ToLower(strings.TrimSpace(c.Search))
	out := make([]models.Order, 0, len(orders))

	for _, o := range orders {
		if search != "" && !strings.Contains(searchText(o), search) {
			continue
		}
		if c.Status != "" && o.DisplayStatus() != c.Status {
			continue
		}
		if !matchAppointment(o, c.Appointment, now.In(loc), loc) {
			continue
		}
		out = append(out, o)
	}

	return out
}

func searchText(o models.Order) string {
	return strings.ToLower(strings.Join([]string{o.OrderNumber, o.Year, o.Make, o.Model}, " "))
}

func matchAppointment(o models.Order, f AppointmentFilter, now time.Time, loc *time.Location) bool {
	switch f {
	case AppointmentWith:
		return o.HasAppointment()
	case AppointmentNone:
		return !o.HasAppointment()
	case AppointmentToday:
		return onDay(o, now, "today", loc)
	case AppointmentTomorrow:
		return onDay(o, now.AddDate(0, 0, 1), "tomorrow", loc)
	default:
		return true
	}
}

// onDay compares calendar days when an instant is stored and falls back
// to a substring match on the legacy label.
func onDay(o models.Order, day time.Time, word string, loc *time.Location) bool {
	if o.AppointmentAt != nil {
		y1, m1, d1 := o.AppointmentAt.In(loc).Date()
		y2, m2, d2 := day.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	}

	return strings.Contains(strings.ToLower(o.AppointmentLabel), word)
}

// Counts are the per status badges in the board header
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Scheduled int `json:"scheduled"`
	Completed int `json:"completed"`
	Declined  int `json:"declined"`
}

// Count tallies orders by display status
func Count(orders []models.Order) Counts {
	var c Counts

	for _, o := range orders {
		c.Total++
		switch o.DisplayStatus() {
		case models.StatusScheduled:
			c.Scheduled++
		case models.StatusCompleted:
			c.Completed++
		case models.StatusDeclined:
			c.Declined++
		default:
			c.Pending++
		}
	}

	return c
}
