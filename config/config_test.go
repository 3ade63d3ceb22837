package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("LIVE_MODEL", "")
	t.Setenv("REPORT_MODEL", "")
	t.Setenv("VOICE_NAME", "")
	t.Setenv("PERSONA", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, DefaultLiveModel, cfg.LiveModel)
	assert.Equal(t, DefaultReportModel, cfg.ReportModel)
	assert.Equal(t, DefaultVoice, cfg.Voice)
	assert.Equal(t, DefaultPersona, cfg.Persona)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("LIVE_MODEL", "gemini-x-live")
	t.Setenv("VOICE_NAME", "Kore")
	t.Setenv("RECORD_PATH", "/tmp/session.wav")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "gemini-x-live", cfg.LiveModel)
	assert.Equal(t, "Kore", cfg.Voice)
	assert.Equal(t, "/tmp/session.wav", cfg.RecordPath)
}
