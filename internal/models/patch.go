package models

import (
	"time"
)

// Patch is a partial update of one order. Only non-nil fields are written,
// so two patches that name different fields never overwrite each other.
type Patch struct {
	OrderNumber      *string
	Year             *string
	Make             *string
	Model            *string
	Location         *string
	Status           *Status
	DeclineReason    *string
	Notes            *string
	AppointmentAt    *time.Time
	ClearAppointment bool
}

// IsEmpty reports whether the patch names no field
func (p Patch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Fields lists the column names the patch touches, in a fixed order
func (p Patch) Fields() []string {
	var fields []string

	if p.OrderNumber != nil {
		fields = append(fields, "order_number")
	}
	if p.Year != nil {
		fields = append(fields, "year")
	}
	if p.Make != nil {
		fields = append(fields, "make")
	}
	if p.Model != nil {
		fields = append(fields, "model")
	}
	if p.Location != nil {
		fields = append(fields, "location")
	}
	if p.Status != nil {
		fields = append(fields, "status")
	}
	if p.DeclineReason != nil {
		fields = append(fields, "decline_reason")
	}
	if p.Notes != nil {
		fields = append(fields, "notes")
	}
	if p.AppointmentAt != nil || p.ClearAppointment {
		fields = append(fields, "appointment_at", "appointment_label")
	}

	return fields
}

// Apply returns a copy of o with the patch applied. Setting an instant
// drops any legacy label so the two cannot drift apart.
func (p Patch) Apply(o Order) Order {
	if p.OrderNumber != nil {
		o.OrderNumber = *p.OrderNumber
	}
	if p.Year != nil {
		o.Year = *p.Year
	}
	if p.Make != nil {
		o.Make = *p.Make
	}
	if p.Model != nil {
		o.Model = *p.Model
	}
	if p.Location != nil {
		o.Location = *p.Location
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.DeclineReason != nil {
		o.DeclineReason = *p.DeclineReason
	}
	if p.Notes != nil {
		o.Notes = *p.Notes
	}

	switch {
	case p.ClearAppointment:
		o.AppointmentAt = nil
		o.AppointmentLabel = ""
	case p.AppointmentAt != nil:
		at := *p.AppointmentAt
		o.AppointmentAt = &at
		o.AppointmentLabel = ""
	}

	return o
}

// StatusPtr returns a pointer to s, for building patches
func StatusPtr(s Status) *Status {
	return &s
}

// StringPtr returns a pointer to s, for building patches
func StringPtr(s string) *string {
	return &s
}
