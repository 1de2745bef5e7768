package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithLevel("json", "info", &buf)
	logger.Info("scan finished", F("scan_id", "abc"), F("error", errors.New("boom")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scan finished", entry["msg"])
	assert.Equal(t, "abc", entry["scan_id"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithLevel("text", "info", &buf)
	logger.Debug("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.True(t, strings.Contains(buf.String(), "shown"))
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithLevel("text", "debug", &buf).With(F("component", "engine"))
	logger.Debug("tick")
	assert.Contains(t, buf.String(), "component=engine")
}
