package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/dispatch-board/internal/models"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    models.Status
		wantErr bool
	}{
		{in: "Pending", want: models.StatusPending},
		{in: "  scheduled ", want: models.StatusScheduled},
		{in: "COMPLETED", want: models.StatusCompleted},
		{in: "declined", want: models.StatusDeclined},
		{in: "rejected", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperrors.ErrInvalidStatus))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDisplayStatus(t *testing.T) {
	assert.Equal(t, models.StatusPending, DisplayStatus(""))
	assert.Equal(t, models.StatusPending, DisplayStatus("archived"))
	assert.Equal(t, models.StatusCompleted, DisplayStatus("Completed"))
}

func TestPlanTransitionMatrix(t *testing.T) {
	// every pair is allowed, including same-status moves
	for _, from := range models.Statuses {
		for _, to := range models.Statuses {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				patch, err := PlanTransition(string(to), "customer cancelled")
				require.NoError(t, err)
				require.NotNil(t, patch.Status)

				got := patch.Apply(models.Order{Status: from})
				assert.Equal(t, to, got.Status)
			})
		}
	}
}

func TestPlanTransitionDecline(t *testing.T) {
	t.Run("blank reason", func(t *testing.T) {
		_, err := PlanTransition("Declined", "   ")
		assert.True(t, errors.Is(err, apperrors.ErrMissingReason))
	})

	t.Run("reason stored trimmed in the same patch", func(t *testing.T) {
		patch, err := PlanTransition("declined", "  no keys  ")
		require.NoError(t, err)
		assert.Equal(t, []string{"status", "decline_reason"}, patch.Fields())
		assert.Equal(t, "no keys", *patch.DeclineReason)
	})

	t.Run("reason ignored for other targets", func(t *testing.T) {
		patch, err := PlanTransition("Pending", "leftover")
		require.NoError(t, err)
		assert.Nil(t, patch.DeclineReason)
	})

	t.Run("leaving declined keeps the old reason", func(t *testing.T) {
		declined := models.Order{Status: models.StatusDeclined, DeclineReason: "no keys"}

		patch, err := PlanTransition("Pending", "")
		require.NoError(t, err)

		got := patch.Apply(declined)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, "no keys", got.DeclineReason)
	})
}

func TestPlanAppointmentPromotion(t *testing.T) {
	at := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		current    models.Status
		wantStatus *models.Status
	}{
		{name: "pending promotes", current: models.StatusPending, wantStatus: models.StatusPtr(models.StatusScheduled)},
		{name: "unknown shows pending and promotes", current: "weird", wantStatus: models.StatusPtr(models.StatusScheduled)},
		{name: "scheduled stays", current: models.StatusScheduled},
		{name: "completed stays", current: models.StatusCompleted},
		{name: "declined stays", current: models.StatusDeclined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch := PlanAppointment(models.Order{Status: tt.current}, &at)

			require.NotNil(t, patch.AppointmentAt)
			assert.True(t, at.Equal(*patch.AppointmentAt))
			assert.Equal(t, tt.wantStatus, patch.Status)
		})
	}

	t.Run("clearing never changes status", func(t *testing.T) {
		patch := PlanAppointment(models.Order{Status: models.StatusScheduled, AppointmentAt: &at}, nil)

		assert.True(t, patch.ClearAppointment)
		assert.Nil(t, patch.Status)
	})
}

func TestComplete(t *testing.T) {
	patch := Complete()
	assert.Equal(t, []string{"status"}, patch.Fields())
	assert.Equal(t, models.StatusCompleted, *patch.Status)
}

func TestPlanEdit(t *testing.T) {
	at := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	pending := models.Order{ID: "ord-1", OrderNumber: "1001", Status: models.StatusPending}

	t.Run("appointment promotes pending", func(t *testing.T) {
		patch, err := PlanEdit(pending, EditRequest{AppointmentAt: &at})
		require.NoError(t, err)
		assert.Equal(t, models.StatusScheduled, *patch.Status)
	})

	t.Run("explicit status wins over promotion", func(t *testing.T) {
		status := "pending"
		patch, err := PlanEdit(pending, EditRequest{AppointmentAt: &at, Status: &status})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, *patch.Status)
		assert.NotNil(t, patch.AppointmentAt)
	})

	t.Run("decline without reason", func(t *testing.T) {
		status := "Declined"
		_, err := PlanEdit(pending, EditRequest{Status: &status})
		assert.True(t, errors.Is(err, apperrors.ErrMissingReason))
	})

	t.Run("blank order number", func(t *testing.T) {
		blank := "  "
		_, err := PlanEdit(pending, EditRequest{OrderNumber: &blank})
		assert.True(t, errors.Is(err, apperrors.ErrValidation))
	})

	t.Run("blanking the reason of a declined order", func(t *testing.T) {
		declined := models.Order{ID: "ord-2", Status: models.StatusDeclined, DeclineReason: "no keys"}
		blank := ""
		_, err := PlanEdit(declined, EditRequest{DeclineReason: &blank})
		assert.True(t, errors.Is(err, apperrors.ErrMissingReason))
	})

	t.Run("clear appointment", func(t *testing.T) {
		scheduled := models.Order{ID: "ord-3", Status: models.StatusScheduled, AppointmentAt: &at}
		patch, err := PlanEdit(scheduled, EditRequest{ClearAppointment: true})
		require.NoError(t, err)
		assert.True(t, patch.ClearAppointment)
		assert.Nil(t, patch.Status)
	})

	t.Run("empty edit", func(t *testing.T) {
		_, err := PlanEdit(pending, EditRequest{})
		assert.True(t, errors.Is(err, apperrors.ErrValidation))
	})

	t.Run("fields are trimmed", func(t *testing.T) {
		make := "  Ford "
		patch, err := PlanEdit(pending, EditRequest{Make: &make})
		require.NoError(t, err)
		assert.Equal(t, "Ford", *patch.Make)
		assert.Equal(t, []string{"make"}, patch.Fields())
	})
}

func TestPlanCreate(t *testing.T) {
	at := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	t.Run("order number required", func(t *testing.T) {
		_, err := PlanCreate(CreateRequest{OrderNumber: "   "})
		assert.True(t, errors.Is(err, apperrors.ErrValidation))
	})

	t.Run("defaults to pending", func(t *testing.T) {
		order, err := PlanCreate(CreateRequest{OrderNumber: " 1001 ", Make: " Honda "})
		require.NoError(t, err)
		assert.Equal(t, "1001", order.OrderNumber)
		assert.Equal(t, "Honda", order.Make)
		assert.Equal(t, models.StatusPending, order.Status)
	})

	t.Run("appointment promotes", func(t *testing.T) {
		order, err := PlanCreate(CreateRequest{OrderNumber: "1002", AppointmentAt: &at})
		require.NoError(t, err)
		assert.Equal(t, models.StatusScheduled, order.Status)
	})

	t.Run("declined needs reason", func(t *testing.T) {
		_, err := PlanCreate(CreateRequest{OrderNumber: "1003", Status: "Declined"})
		assert.True(t, errors.Is(err, apperrors.ErrMissingReason))

		order, err := PlanCreate(CreateRequest{OrderNumber: "1003", Status: "Declined", DeclineReason: "duplicate"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusDeclined, order.Status)
		assert.Equal(t, "duplicate", order.DeclineReason)
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := PlanCreate(CreateRequest{OrderNumber: "1004", Status: "lost"})
		assert.True(t, errors.Is(err, apperrors.ErrInvalidStatus))
	})
}
