package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, ParseLevel("trace"))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.FatalLevel, ParseLevel("fatal"))
	// Unknown names fall back to info instead of failing.
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestLoggerEmitsContextAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "trace", Output: &buf}).With("boilerplate:logger")

	log.Info(Fields{"attempt": 3}, "started %s", "fine")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boilerplate:logger", line["context"])
	assert.Equal(t, float64(3), line["attempt"])
	assert.Equal(t, "started fine", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestLoggerLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Debug(nil, "hidden")
	log.Info(nil, "hidden too")
	log.Warn(nil, "visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestFatalDoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "trace", Output: &buf})

	// Reaching the assertion at all proves no os.Exit happened.
	log.Fatal(nil, "wiring failed")

	assert.True(t, strings.Contains(buf.String(), `"level":"fatal"`))
}

func TestLevelCopy(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "error", Output: &buf})

	verbose := log.Level("trace")
	verbose.Debug(nil, "now visible")

	assert.Contains(t, buf.String(), "now visible")
}
