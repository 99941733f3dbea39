package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
}

func TestInitJSONFormat(t *testing.T) {
	resetLevel(t)
	var buf bytes.Buffer

	logger := Init(Config{Format: "json", Level: "debug", Component: "sampler", Output: &buf})
	logger.Debug().Int("pid", 100).Msg("hello")

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &event))
	assert.Equal(t, "debug", event["level"])
	assert.Equal(t, "sampler", event["component"])
	assert.Equal(t, float64(100), event["pid"])
	assert.Equal(t, "hello", event["message"])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInitConsoleFormat(t *testing.T) {
	resetLevel(t)
	var buf bytes.Buffer

	logger := Init(Config{Format: "console", Output: &buf})
	logger.Info().Msg("hello console")

	out := buf.String()
	assert.Contains(t, out, "hello console")
	assert.False(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
}

func TestAutoFormatUsesJSONForNonTerminal(t *testing.T) {
	resetLevel(t)
	var buf bytes.Buffer

	logger := Init(Config{Format: "auto", Output: &buf})
	logger.Info().Msg("x")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}

func TestLevelFiltering(t *testing.T) {
	resetLevel(t)
	var buf bytes.Buffer

	logger := Init(Config{Format: "json", Level: "warn", Output: &buf})
	logger.Info().Msg("dropped")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))

	assert.True(t, ValidLevel("debug"))
	assert.False(t, ValidLevel("verbose"))
}
