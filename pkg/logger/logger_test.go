package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestToFields(t *testing.T) {
	fields := toFields("orderID", "ord-1", "attempt", 2, "dangling")

	assert.Equal(t, "ord-1", fields["orderID"])
	assert.Equal(t, 2, fields["attempt"])
	assert.Equal(t, "missing", fields["dangling"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, logrus.WarnLevel, parseLevel("warn"))
	assert.Equal(t, logrus.InfoLevel, parseLevel("nonsense"))
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithOutput("warn", &buf)

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown", "orderID", "ord-1")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "orderID=ord-1")
}
