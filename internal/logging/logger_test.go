package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWritesJSONLines(t *testing.T) {
	Shutdown()

	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir})
	defer Shutdown()

	l := Logger()
	require.NotNil(t, l)
	l.Info("test_message", "key", "value")

	data, err := os.ReadFile(filepath.Join(dir, "router.log"))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var record map[string]any
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		require.NoError(t, json.Unmarshal(line, &record))
		break
	}
	require.Equal(t, "test_message", record["msg"])
	require.Equal(t, "value", record["key"])
}

func TestForComponentAppliesBeforeInit(t *testing.T) {
	Shutdown()
	log := ForComponent(CompHook)

	dir := t.TempDir()
	Init(Config{Debug: true, LogDir: dir})
	defer Shutdown()

	log.Warn("late_bound")

	data, err := os.ReadFile(filepath.Join(dir, "router.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"component":"hook"`)
}

func TestDiscardsWithoutInit(t *testing.T) {
	Shutdown()
	l := Logger()
	require.NotNil(t, l)
	l.Info("should not panic")
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
