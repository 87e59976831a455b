// Package session implements the shared PIN gate in front of the board.
package session

import (
	"crypto/subtle"
	"regexp"

	"github.com/vaidashi/dispatch-board/internal/config"
	apperrors "github.com/vaidashi/dispatch-board/pkg/errors"
	"github.com/vaidashi/dispatch-board/pkg/logger"
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// Session is the result of passing the gate. The zero value is locked.
type Session struct {
	unlocked bool
}

// Unlocked reports whether the session may construct an engine
func (s Session) Unlocked() bool {
	return s.unlocked
}

// Locked is the session every client starts with
func Locked() Session {
	return Session{}
}

// Gate checks PINs against the configured shared PIN
type Gate struct {
	pin    string
	logger logger.Logger
}

// NewGate creates a gate; an empty pin falls back to config.DefaultPIN
func NewGate(pin string, log logger.Logger) *Gate {
	if pin == "" {
		pin = config.DefaultPIN
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Gate{pin: pin, logger: log}
}

// Check reports whether pin is a well formed match for the shared PIN
func (g *Gate) Check(pin string) bool {
	if !pinPattern.MatchString(pin) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pin), []byte(g.pin)) == 1
}

// Unlock returns an unlocked session for the right PIN
func (g *Gate) Unlock(pin string) (Session, error) {
	if !g.Check(pin) {
		g.logger.Warn("Rejected dispatch PIN")
		return Locked(), apperrors.NewLockedError("incorrect PIN")
	}
	return Session{unlocked: true}, nil
}
