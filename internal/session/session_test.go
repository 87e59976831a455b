package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

func TestGateDefaultPIN(t *testing.T) {
	g := NewGate("", logger.NewNop())

	s, err := g.Unlock("7788")
	require.NoError(t, err)
	assert.True(t, s.Unlocked())
}

func TestGateRejects(t *testing.T) {
	g := NewGate("1234", logger.NewNop())

	for _, pin := range []string{"", "123", "12345", "abcd", "4321", " 1234"} {
		s, err := g.Unlock(pin)
		assert.True(t, errors.Is(err, apperrors.ErrLocked), pin)
		assert.False(t, s.Unlocked())
	}

	assert.True(t, g.Check("1234"))
}

func TestZeroSessionIsLocked(t *testing.T) {
	assert.False(t, Session{}.Unlocked())
	assert.False(t, Locked().Unlocked())
}
