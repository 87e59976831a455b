package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "config-test-none")
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, DefaultPIN, cfg.PIN)
	assert.Equal(t, 2*time.Hour, cfg.Autocomplete.Grace)
	assert.Equal(t, time.Minute, cfg.Autocomplete.Interval)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, "dispatch.orders", cfg.Kafka.OrdersTopic)
	assert.Empty(t, cfg.EnvFile)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.env")
	require.NoError(t, os.WriteFile(path, []byte("DISPATCH_SHARED_PIN=1234\nAUTOCOMPLETE_GRACE=90m\n"), 0o600))

	// godotenv.Load sets process variables; clear them after the test
	t.Setenv("DISPATCH_SHARED_PIN", "")
	os.Unsetenv("DISPATCH_SHARED_PIN")
	t.Setenv("AUTOCOMPLETE_GRACE", "")
	os.Unsetenv("AUTOCOMPLETE_GRACE")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "1234", cfg.PIN)
	assert.Equal(t, 90*time.Minute, cfg.Autocomplete.Grace)
	assert.Equal(t, path, cfg.EnvFile)
}

func TestDispatchPINWinsOverSharedPIN(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DISPATCH_PIN", "4321")
	t.Setenv("DISPATCH_SHARED_PIN", "1111")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "4321", cfg.PIN)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "port", key: "PORT", val: "abc"},
		{name: "driver", key: "STORE_DRIVER", val: "mongo"},
		{name: "pin", key: "DISPATCH_PIN", val: "12a4"},
		{name: "grace", key: "AUTOCOMPLETE_GRACE", val: "soon"},
		{name: "kafka without postgres", key: "KAFKA_BROKERS", val: "localhost:9092"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(tt.key, tt.val)

			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestGetDBConnString(t *testing.T) {
	cfg := &Config{DB: DBConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "board", SSLMode: "disable"}}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=board sslmode=disable", cfg.GetDBConnString())
}

func TestKafkaGroupPerReplica(t *testing.T) {
	t.Setenv("APP_ENV", "config-test-none")
	chdir(t, t.TempDir())
	t.Setenv("KAFKA_CONSUMER_GROUP", "board")

	a, err := Load("")
	require.NoError(t, err)
	b, err := Load("")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.Kafka.GroupID(), "board-"))
	assert.NotEqual(t, a.Kafka.GroupID(), b.Kafka.GroupID(), "replicas must not share a group")

	t.Setenv("KAFKA_INSTANCE_ID", "node-2")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "board-node-2", c.Kafka.GroupID())

	assert.Equal(t, "board", KafkaConfig{ConsumerGroup: "board"}.GroupID())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains: it changes
// the working directory and restores the previous one when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
