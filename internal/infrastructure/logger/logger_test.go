package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jan-server/services/visual-api/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.raw), tt.raw)
	}
}

func TestNewLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, &config.Config{
		ServiceName:         "visual-api",
		Environment:         "production",
		LogLevel:            "info",
		LogFormat:           "json",
		ImageDefaultBackend: "s3",
		RepositoryBackend:   "postgres",
	})

	log.Debug().Msg("hidden")
	log.Info().Str("visual_id", "img-1").Msg("visual accepted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	assert.Equal(t, "visual accepted", entry["message"])
	assert.Equal(t, "visual-api", entry["service"])
	assert.Equal(t, "production", entry["environment"])
	assert.Equal(t, "s3", entry["image_backend"])
	assert.Equal(t, "postgres", entry["repository"])
	assert.Equal(t, "img-1", entry["visual_id"])
	assert.NotContains(t, entry, "caller")
}

func TestNewLoggerDebugAddsCaller(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, &config.Config{LogLevel: "debug", LogFormat: "json"})

	log.Debug().Msg("sweep tick")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Contains(t, entry["caller"], "logger_test.go")
}
