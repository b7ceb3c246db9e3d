package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_ComponentFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf}).Component("cache")

	log.Info().Str("query", "attach").Msg("cache hit")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "specgraph", entry["service"])
	assert.Equal(t, "cache", entry["component"])
	assert.Equal(t, "attach", entry["query"])
	assert.Equal(t, "cache hit", entry["message"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_LogOperationFailure(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Output: &buf})

	log.LogOperation("save_cache", 5*time.Millisecond, 0, errors.New("disk full"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "save_cache", entry["operation"])
	assert.Equal(t, "disk full", entry["error"])
}

func TestNop_DiscardsOutput(t *testing.T) {
	log := Nop()
	log.Error().Msg("nothing")
	log.Component("x").Info().Msg("nothing")
}
