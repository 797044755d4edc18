package logging

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d+[^ ]* - `)

func TestLogFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dropduplicates.log")

	logger, cleanup, err := New(path)
	require.NoError(t, err)
	logger.Info("Checking for duplicates in sales.orders...")
	cleanup()

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 1)
	assert.Regexp(t, linePattern, lines[0])
	assert.Contains(t, lines[0], "Checking for duplicates in sales.orders...")
}

func TestLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dropduplicates.log")

	logger, cleanup, err := New(path)
	require.NoError(t, err)
	logger.Info("first run")
	cleanup()

	logger, cleanup, err = New(path)
	require.NoError(t, err)
	logger.Info("second run")
	cleanup()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "first run")
	assert.Contains(t, string(content), "second run")
}

func TestNoLogFile(t *testing.T) {
	logger, cleanup, err := New("")
	require.NoError(t, err)
	defer cleanup()

	// Console-only logging must still work.
	logger.Info("console only")
}
