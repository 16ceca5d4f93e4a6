package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Fetch() FetchConfig
	API() APIConfig
	Store() StoreConfig
	Server() ServerConfig
	Capture() CaptureConfig
	StateDir() string

	SetBrowserHeadless(bool)
	SetStoreDriver(string)
	SetServerListenAddr(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig `mapstructure:"browser" yaml:"browser"`
	FetchCfg    FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	APICfg      APIConfig     `mapstructure:"api" yaml:"api"`
	StoreCfg    StoreConfig   `mapstructure:"store" yaml:"store"`
	ServerCfg   ServerConfig  `mapstructure:"server" yaml:"server"`
	CaptureCfg  CaptureConfig `mapstructure:"capture" yaml:"capture"`
	StateDirCfg string        `mapstructure:"state_dir" yaml:"state_dir"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Fetch() FetchConfig { return c.FetchCfg }
func (c *Config) API() APIConfig { return c.APICfg }
func (c *Config) Store() StoreConfig { return c.StoreCfg }
func (c *Config) Server() ServerConfig { return c.ServerCfg }
func (c *Config) Capture() CaptureConfig { return c.CaptureCfg }

// StateDir returns the directory holding the lock file and the local database,
// with a leading "~" expanded.
func (c *Config) StateDir() string {
	dir, err := homedir.Expand(c.StateDirCfg)
	if err != nil {
		return c.StateDirCfg
	}
	return dir
}

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetStoreDriver(d string) { c.StoreCfg.Driver = d }
func (c *Config) SetServerListenAddr(a string) { c.ServerCfg.ListenAddr = a }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser that hosts the tabs.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration  `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// ViewportSize returns the configured viewport, falling back to 1366x768.
func (b BrowserConfig) ViewportSize() (int, int) {
	w, h := b.Viewport["width"], b.Viewport["height"]
	if w <= 0 {
		w = 1366
	}
	if h <= 0 {
		h = 768
	}
	return w, h
}

// FetchConfig tunes the background resource fetcher used for data URI embedding.
type FetchConfig struct {
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	RateLimit        float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst            int           `mapstructure:"burst" yaml:"burst"`
	MaxResourceBytes int64         `mapstructure:"max_resource_bytes" yaml:"max_resource_bytes"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// APIConfig points at the remote analytics API.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	TokenParam string        `mapstructure:"token_param" yaml:"token_param"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig selects the durable key/value backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the local control API.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// CaptureConfig holds the screenshot workflow bounds.
type CaptureConfig struct {
	VerifyAttempts   int           `mapstructure:"verify_attempts" yaml:"verify_attempts"`
	VerifyInterval   time.Duration `mapstructure:"verify_interval" yaml:"verify_interval"`
	MaxRetries       int           `mapstructure:"max_retries" yaml:"max_retries"`
	StaleAfter       time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	SuccessAnimation time.Duration `mapstructure:"success_animation" yaml:"success_animation"`
	SettingsURL      string        `mapstructure:"settings_url" yaml:"settings_url"`
	BugReportURL     string        `mapstructure:"bug_report_url" yaml:"bug_report_url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "shotprep")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 768})
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "1s")

	// -- Fetch --
	v.SetDefault("fetch.concurrency", 6)
	v.SetDefault("fetch.rate_limit", 20.0)
	v.SetDefault("fetch.burst", 6)
	v.SetDefault("fetch.max_resource_bytes", 8<<20)
	v.SetDefault("fetch.timeout", "20s")
	v.SetDefault("fetch.user_agent", "shotprep/1.0")

	// -- API --
	v.SetDefault("api.base_url", "https://api.heatmap.example.com")
	v.SetDefault("api.token_param", "token")
	v.SetDefault("api.timeout", "30s")

	// -- Store --
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:7733")

	// -- Capture --
	v.SetDefault("capture.verify_attempts", 50)
	v.SetDefault("capture.verify_interval", "300ms")
	v.SetDefault("capture.max_retries", 3)
	v.SetDefault("capture.stale_after", "5m")
	v.SetDefault("capture.success_animation", "1500ms")
	v.SetDefault("capture.settings_url", "https://app.heatmap.example.com/settings")
	v.SetDefault("capture.bug_report_url", "https://app.heatmap.example.com/support/bug-report")

	v.SetDefault("state_dir", "~/.shotprep")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("store.url", "SHOTPREP_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// StorePath returns the SQLite database path, defaulting into the state directory.
func (c *Config) StorePath() string {
	if c.StoreCfg.Path != "" {
		return c.StoreCfg.Path
	}
	return filepath.Join(c.StateDir(), "shotprep.db")
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.FetchCfg.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be a positive integer")
	}
	if c.FetchCfg.MaxResourceBytes <= 0 {
		return fmt.Errorf("fetch.max_resource_bytes must be a positive integer")
	}
	if c.APICfg.BaseURL == "" {
		return fmt.Errorf("api.base_url is a required configuration field")
	}
	switch c.StoreCfg.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.StoreCfg.URL == "" {
			return fmt.Errorf("store.url is required when store.driver is postgres (SHOTPREP_STORE_URL)")
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", c.StoreCfg.Driver)
	}
	if err := c.CaptureCfg.Validate(); err != nil {
		return fmt.Errorf("capture configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the capture workflow bounds.
func (c *CaptureConfig) Validate() error {
	if c.VerifyAttempts <= 0 {
		return fmt.Errorf("verify_attempts must be greater than 0")
	}
	if c.VerifyInterval <= 0 {
		return fmt.Errorf("verify_interval must be a positive duration")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be a positive duration")
	}
	return nil
}
