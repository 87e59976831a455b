package models

import (
	"time"
)

// Status is the lifecycle stage of an order as persisted. Records written
// by other clients may carry values outside the known set.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusDeclined  Status = "Declined"
)

// Statuses lists the known statuses in board order
var Statuses = []Status{StatusPending, StatusScheduled, StatusCompleted, StatusDeclined}

// Known reports whether s is one of the four lifecycle statuses
func (s Status) Known() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Display returns the status shown on the board. Unknown and empty values
// show as Pending; the stored value is left alone.
func (s Status) Display() Status {
	if s.Known() {
		return s
	}
	return StatusPending
}

// AppointmentLayout is the display format for appointment instants
const AppointmentLayout = "01-02-2006 3:04 PM"

// Order represents a transport/tow order on the board
type Order struct {
	ID               string     `db:"id" json:"id"`
	OrderNumber      string     `db:"order_number" json:"order_number"`
	Year             string     `db:"year" json:"year,omitempty"`
	Make             string     `db:"make" json:"make,omitempty"`
	Model            string     `db:"model" json:"model,omitempty"`
	Location         string     `db:"location" json:"location,omitempty"`
	Status           Status     `db:"status" json:"status"`
	AppointmentAt    *time.Time `db:"appointment_at" json:"appointment_at,omitempty"`
	AppointmentLabel string     `db:"appointment_label" json:"appointment_label,omitempty"`
	DeclineReason    string     `db:"decline_reason" json:"decline_reason,omitempty"`
	Notes            string     `db:"notes" json:"notes,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// DisplayStatus is the status badge for the order
func (o Order) DisplayStatus() Status {
	return o.Status.Display()
}

// HasAppointment reports whether either appointment field is present
func (o Order) HasAppointment() bool {
	return o.AppointmentAt != nil || o.AppointmentLabel != ""
}

// Vehicle joins year, make and model, skipping blanks
func (o Order) Vehicle() string {
	out := ""
	for _, part := range []string{o.Year, o.Make, o.Model} {
		if part == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += part
	}
	return out
}

// FormatAppointment renders an instant in loc for display
func FormatAppointment(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(AppointmentLayout)
}

// AppointmentDisplay is the appointment text for the board. The precise
// instant wins; the legacy label is only used when no instant is stored.
func (o Order) AppointmentDisplay(loc *time.Location) string {
	if o.AppointmentAt != nil {
		return FormatAppointment(*o.AppointmentAt, loc)
	}
	return o.AppointmentLabel
}

// NewOrder holds the fields of an order before the store assigns an ID
type NewOrder struct {
	OrderNumber   string     `json:"order_number"`
	Year          string     `json:"year,omitempty"`
	Make          string     `json:"make,omitempty"`
	Model         string     `json:"model,omitempty"`
	Location      string     `json:"location,omitempty"`
	Status        Status     `json:"status"`
	AppointmentAt *time.Time `json:"appointment_at,omitempty"`
	DeclineReason string     `json:"decline_reason,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

// Build materializes the order with the given ID and creation time
func (n NewOrder) Build(id string, now time.Time) Order {
	return Order{
		ID:            id,
		OrderNumber:   n.OrderNumber,
		Year:          n.Year,
		Make:          n.Make,
		Model:         n.Model,
		Location:      n.Location,
		Status:        n.Status,
		AppointmentAt: n.AppointmentAt,
		DeclineReason: n.DeclineReason,
		Notes:         n.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Snapshot is a complete listing of the collection at one point in time
type Snapshot struct {
	Orders []Order
	At     time.Time
}
