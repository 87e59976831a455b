// Package lifecycle gates every order write. Any status may move to any
// other status; the rules are only about what a valid request looks like.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/vaidashi/dispatch-board/internal/models"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
)

// ParseStatus normalizes user input to one of the four statuses.
// Matching ignores case and surrounding spaces.
func ParseStatus(raw string) (models.Status, error) {
	trimmed := strings.TrimSpace(raw)

	for _, s := range models.Statuses {
		if strings.EqualFold(trimmed, string(s)) {
			return s, nil
		}
	}

	return "", apperrors.NewInvalidStatusError(fmt.Sprintf("status %q is not one of Pending, Scheduled, Completed, Declined", raw)).
		WithContext("status", raw)
}

// DisplayStatus maps a raw persisted status to the one shown on the board
func DisplayStatus(raw string) models.Status {
	return models.Status(raw).Display()
}

// PlanTransition builds the patch for an operator status change.
// Declined needs a non-blank reason, which is stored trimmed.
func PlanTransition(target, reason string) (models.Patch, error) {
	status, err := ParseStatus(target)
	if err != nil {
		return models.Patch{}, err
	}

	patch := models.Patch{Status: models.StatusPtr(status)}

	if status == models.StatusDeclined {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return models.Patch{}, apperrors.NewMissingReasonError("a reason is required to decline an order")
		}
		patch.DeclineReason = models.StringPtr(reason)
	}

	return patch, nil
}

// PlanAppointment sets or clears the appointment. Setting one on a Pending
// order also moves it to Scheduled; this derived transition is never
// validated and never needs a reason. A nil at clears the appointment
// and leaves the status alone.
func PlanAppointment(current models.Order, at *time.Time) models.Patch {
	if at == nil {
		return models.Patch{ClearAppointment: true}
	}

	when := *at
	patch := models.Patch{AppointmentAt: &when}

	if current.DisplayStatus() == models.StatusPending {
		patch.Status = models.StatusPtr(models.StatusScheduled)
	}

	return patch
}

// Complete is the status-only patch issued by the auto-completion scheduler
func Complete() models.Patch {
	return models.Patch{Status: models.StatusPtr(models.StatusCompleted)}
}

// EditRequest is the full order edit form. Nil fields are left untouched.
type EditRequest struct {
	OrderNumber      *string
	Year             *string
	Make             *string
	Model            *string
	Location         *string
	Notes            *string
	Status           *string
	DeclineReason    *string
	AppointmentAt    *time.Time
	ClearAppointment bool
}

// PlanEdit validates an edit against the current record and builds one
// patch for it. An explicit status wins over the Pending to Scheduled
// promotion that an appointment change would otherwise cause.
func PlanEdit(current models.Order, req EditRequest) (models.Patch, error) {
	var patch models.Patch

	if req.Status != nil {
		reason := ""
		if req.DeclineReason != nil {
			reason = *req.DeclineReason
		}

		transition, err := PlanTransition(*req.Status, reason)
		if err != nil {
			return models.Patch{}, err
		}
		patch = transition
	}

	if req.OrderNumber != nil {
		number := strings.TrimSpace(*req.OrderNumber)
		if number == "" {
			return models.Patch{}, apperrors.NewValidationError("order number cannot be blank")
		}
		patch.OrderNumber = &number
	}

	patch.Year = trimmed(req.Year)
	patch.Make = trimmed(req.Make)
	patch.Model = trimmed(req.Model)
	patch.Location = trimmed(req.Location)
	patch.Notes = trimmed(req.Notes)

	if patch.DeclineReason == nil && req.DeclineReason != nil {
		reason := strings.TrimSpace(*req.DeclineReason)
		if reason == "" && current.DisplayStatus() == models.StatusDeclined && patch.Status == nil {
			return models.Patch{}, apperrors.NewMissingReasonError("a declined order must keep a reason")
		}
		patch.DeclineReason = &reason
	}

	if req.ClearAppointment || req.AppointmentAt != nil {
		var at *time.Time
		if !req.ClearAppointment {
			at = req.AppointmentAt
		}

		appt := PlanAppointment(current, at)
		patch.AppointmentAt = appt.AppointmentAt
		patch.ClearAppointment = appt.ClearAppointment

		if patch.Status == nil {
			patch.Status = appt.Status
		}
	}

	if patch.IsEmpty() {
		return models.Patch{}, apperrors.NewValidationError("nothing to update")
	}

	return patch, nil
}

// CreateRequest is the new order form
type CreateRequest struct {
	OrderNumber   string
	Year          string
	Make          string
	Model         string
	Location      string
	Notes         string
	Status        string
	DeclineReason string
	AppointmentAt *time.Time
}

// PlanCreate validates a new order. The status defaults to Pending and is
// promoted to Scheduled when the order comes with an appointment.
func PlanCreate(req CreateRequest) (models.NewOrder, error) {
	number := strings.TrimSpace(req.OrderNumber)
	if number == "" {
		return models.NewOrder{}, apperrors.NewValidationError("order number is required")
	}

	order := models.NewOrder{
		OrderNumber:   number,
		Year:          strings.TrimSpace(req.Year),
		Make:          strings.TrimSpace(req.Make),
		Model:         strings.TrimSpace(req.Model),
		Location:      strings.TrimSpace(req.Location),
		Notes:         strings.TrimSpace(req.Notes),
		AppointmentAt: req.AppointmentAt,
		Status:        models.StatusPending,
	}

	if strings.TrimSpace(req.Status) != "" {
		transition, err := PlanTransition(req.Status, req.DeclineReason)
		if err != nil {
			return models.NewOrder{}, err
		}
		order.Status = *transition.Status
		if transition.DeclineReason != nil {
			order.DeclineReason = *transition.DeclineReason
		}
	}

	if req.AppointmentAt != nil && order.Status == models.StatusPending {
		order.Status = models.StatusScheduled
	}

	if order.DeclineReason == "" {
		order.DeclineReason = strings.TrimSpace(req.DeclineReason)
	}

	return order, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
