package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "shotprep", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 60*time.Second, cfg.Browser().NavigationTimeout)
	assert.Equal(t, 6, cfg.Fetch().Concurrency)
	assert.Equal(t, int64(8<<20), cfg.Fetch().MaxResourceBytes)
	assert.Equal(t, "sqlite", cfg.Store().Driver)
	assert.Equal(t, "token", cfg.API().TokenParam)

	capture := cfg.Capture()
	assert.Equal(t, 50, capture.VerifyAttempts)
	assert.Equal(t, 300*time.Millisecond, capture.VerifyInterval)
	assert.Equal(t, 3, capture.MaxRetries)
	assert.Equal(t, 5*time.Minute, capture.StaleAfter)

	w, h := cfg.Browser().ViewportSize()
	assert.Equal(t, 1366, w)
	assert.Equal(t, 768, h)
}

func TestStateDirExpansion(t *testing.T) {
	cfg := NewDefaultConfig()
	dir := cfg.StateDir()
	assert.False(t, strings.HasPrefix(dir, "~"), "home directory should be expanded")
	assert.True(t, strings.HasSuffix(cfg.StorePath(), "shotprep.db"))

	cfg.StoreCfg.Path = "/tmp/custom.db"
	assert.Equal(t, "/tmp/custom.db", cfg.StorePath())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		require.NoError(t, NewDefaultConfig().Validate())
	})

	t.Run("fetch concurrency must be positive", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.FetchCfg.Concurrency = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch.concurrency")
	})

	t.Run("postgres requires a url", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetStoreDriver("postgres")
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.url")

		cfg.StoreCfg.URL = "postgres://localhost/shotprep"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown store driver", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetStoreDriver("bolt")
		assert.Error(t, cfg.Validate())
	})

	t.Run("capture bounds", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.CaptureCfg.VerifyAttempts = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verify_attempts")

		cfg = NewDefaultConfig()
		cfg.CaptureCfg.MaxRetries = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestNewConfigFromViper(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")

	yamlConfig := []byte(`
logger:
  level: debug
browser:
  headless: false
fetch:
  concurrency: 2
capture:
  verify_attempts: 10
  verify_interval: 1s
`)
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, 2, cfg.Fetch().Concurrency)
	assert.Equal(t, 10, cfg.Capture().VerifyAttempts)
	assert.Equal(t, time.Second, cfg.Capture().VerifyInterval)
	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.Capture().MaxRetries)
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("store.driver", "postgres")

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetBrowserHeadless(false)
	cfg.SetServerListenAddr("127.0.0.1:9999")

	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server().ListenAddr)
}
