package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybriddb/internal/logger"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, logger.ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, logger.ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, logger.ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, logger.ParseLevel("loud"))
}

func TestGet_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger.SetupWriter("debug", "json", &buf)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log := logger.Get("pipeline")
	log.Info().Str("field", "age").Msg("placement changed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pipeline", line["component"])
	assert.Equal(t, "age", line["field"])
	assert.Equal(t, "info", line["level"])
}
