package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("should unmarshal viper state into the config", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()
		defer Reset()

		viper.Set("server.url", "http://example.test:9000")
		viper.Set("server.timeout", 120)
		viper.Set("logging.level", "debug")
		viper.Set("state.file", "/tmp/parley-state.json")
		viper.Set("hitl.default", true)

		require.NoError(t, Load())

		cfg := Get()
		assert.Equal(t, "http://example.test:9000", cfg.Server.URL)
		assert.Equal(t, 120*time.Second, cfg.ServerTimeout())
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "/tmp/parley-state.json", cfg.State.File)
		assert.True(t, cfg.HITL.Default)
	})
}

func TestGetDefaults(t *testing.T) {
	t.Run("should fall back to sane defaults before Load", func(t *testing.T) {
		Reset()

		cfg := Get()
		assert.Equal(t, "http://localhost:8000", cfg.Server.URL)
		assert.Equal(t, time.Duration(0), cfg.ServerTimeout())
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.NotEmpty(t, cfg.State.File)
	})
}
