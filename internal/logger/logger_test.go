package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function restoring the original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()
	reconfigure()

	return buf, func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}
}

func TestLevelFiltering(t *testing.T) {
	buf, restore := captureOutput()
	defer restore()
	SetLevel("INFO")
	SetFormat("text")

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.Contains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestSetLevelAtRuntime(t *testing.T) {
	buf, restore := captureOutput()
	defer restore()
	SetFormat("text")
	SetLevel("ERROR")

	Info("hidden")
	SetLevel("DEBUG")
	Debug("now visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "now visible")
}

func TestInvalidLevelIgnored(t *testing.T) {
	buf, restore := captureOutput()
	defer restore()
	SetFormat("text")
	SetLevel("INFO")

	SetLevel("VERBOSE")
	Info("still info")

	assert.Contains(t, buf.String(), "still info")
}

func TestJSONFormat(t *testing.T) {
	buf, restore := captureOutput()
	defer restore()
	SetLevel("INFO")
	SetFormat("json")
	defer SetFormat("text")

	Info("json record", KeyRegionID, int64(7), KeyKind, "tile")

	line := strings.TrimSpace(buf.String())
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record), "output is not valid JSON: %s", line)
	assert.Equal(t, "json record", record["msg"])
	assert.Equal(t, float64(7), record["region_id"])
	assert.Equal(t, "tile", record["kind"])
}

func TestTextFields(t *testing.T) {
	buf, restore := captureOutput()
	defer restore()
	SetLevel("INFO")
	SetFormat("text")

	Info("resource cached", KeyResource, "tile|osm|3/2/1", KeySize, 1024)

	out := buf.String()
	assert.Contains(t, out, "resource=tile|osm|3/2/1")
	assert.Contains(t, out, "size=1024")
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tilevault.log")

	require.NoError(t, Init(Config{Level: "INFO", Format: "text", Output: path}))
	Info("written to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")

	// Restore in-memory output for subsequent tests.
	InitWithWriter(new(bytes.Buffer), "INFO", "text", false)
}

func TestWithPreboundFields(t *testing.T) {
	buf, restore := captureOutput()
	defer restore()
	SetLevel("INFO")
	SetFormat("text")

	l := With(KeyBackend, "badger")
	l.Info("opened")

	assert.Contains(t, buf.String(), "backend=badger")
}

func TestConcurrentLogging(t *testing.T) {
	buf, restore := captureOutput()
	defer restore()
	SetLevel("INFO")
	SetFormat("text")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			Info("concurrent", "worker", n)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16, strings.Count(buf.String(), "concurrent"))
}
