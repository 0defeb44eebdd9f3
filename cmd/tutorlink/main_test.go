package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_RejectsBrokenConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tutorlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: [not, a, map"), 0o600))
	t.Setenv("TUTORLINK_CONFIG_FILE", path)
	t.Setenv("TUTORLINK_DOTENV", filepath.Join(t.TempDir(), "missing.env"))

	err := run()
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestRun_RejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("TUTORLINK_CONFIG_FILE", "")
	t.Setenv("TUTORLINK_DOTENV", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("TUTORLINK_LOG_LEVEL", "chatty")

	err := run()
	assert.ErrorContains(t, err, "invalid log level")
}
