package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestBreakerTripsAndRecovers(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Second,
		Now:              func() time.Time { return now },
	})

	fail := func() error { return errBoom }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Execute(fail, nil), errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(fail, nil), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	assert.ErrorIs(t, cb.Execute(ok, nil), ErrOpen)

	now = now.Add(11 * time.Second)
	assert.NoError(t, cb.Execute(ok, nil))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		Now:              func() time.Time { return now },
	})

	cb.Failure()
	now = now.Add(2 * time.Second)

	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }, nil), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestBreakerIgnoresUncountedErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	notCounted := func(err error) bool { return false }
	assert.ErrorIs(t, cb.Execute(func() error { return errBoom }, notCounted), errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "closed", cb.GetMetrics()["state"])
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})

	cb.Failure()
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, int64(0), cb.GetMetrics()["failure_count"])
	assert.NoError(t, cb.Execute(func() error { return nil }, nil))
}
