package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "guidance.patterns", cfg.Events.SubjectPrefix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"negative dimensions", func(c *Config) { c.Guidance.Dimensions = -1 }},
		{"quality threshold below floor", func(c *Config) { c.Guidance.QualityThreshold = 0.1 }},
		{"dedup threshold above one", func(c *Config) { c.Guidance.DedupThreshold = 1.2 }},
		{"negative search k", func(c *Config) { c.Guidance.SearchK = -1 }},
		{"negative route k", func(c *Config) { c.Guidance.RouteK = -3 }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "openai" }},
		{"unknown backend", func(c *Config) { c.Persistence.Backend = "redis" }},
		{"events without url", func(c *Config) { c.Events.Enabled = true; c.Events.NATSURL = "" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.JSONEq(t, `"1m0s"`, string(out))
}
