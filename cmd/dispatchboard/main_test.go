package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppCommands(t *testing.T) {
	app := newApp()

	assert.Equal(t, "serve", app.DefaultCommand)

	names := make([]string, 0, len(app.Commands))
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "migrate"}, names)
}

func TestMissingEnvFileFails(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.env")

	err := newApp().Run([]string{"dispatchboard", "--env-file", missing, "migrate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
