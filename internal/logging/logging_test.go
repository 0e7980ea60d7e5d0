package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	l.Infof("inserted %d rows", 3)
	l.Warnf("no matching message")
	l.Errorf("connect failed: %v", "boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "INFO inserted 3 rows")
	require.Contains(t, lines[1], "WARNING no matching message")
	require.Contains(t, lines[2], "ERROR connect failed: boom")
}

func TestNewAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")

	l, err := New(path)
	require.NoError(t, err)
	l.Infof("first run")
	require.NoError(t, l.Close())

	l, err = New(path)
	require.NoError(t, err)
	l.Infof("second run")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "first run")
	require.Contains(t, string(data), "second run")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Infof("no panic")
	require.NoError(t, l.Close())
}
