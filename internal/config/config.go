// Package config holds the engine's aggregate configuration, parsed from
// YAML over a set of sane defaults, one nested struct per subsystem.
package config

import "time"

// Config is the top-level configuration for the run engine process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	AI        AIConfig        `yaml:"ai"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP surface (internal/httpapi).
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BrowserConfig configures the browser session pool.
type BrowserConfig struct {
	MaxInstances   int           `yaml:"max_instances"`
	Headless       bool          `yaml:"headless"`
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	NavTimeout     time.Duration `yaml:"nav_timeout"`
	RemoteURL      string        `yaml:"remote_url"`
}

// AIConfig configures the AI client. Empty APIKey means no AI client is
// constructed and the engine falls back to rule-based evaluation and
// simulation for the AI-eligible actions.
type AIConfig struct {
	APIKey         string        `yaml:"api_key"`
	TextModel      string        `yaml:"text_model"`
	VisionModel    string        `yaml:"vision_model"`
	MaxRetries     int           `yaml:"max_retries"`
	ThrottleWindow time.Duration `yaml:"throttle_window"`
}

// SchedulerConfig configures the cron scheduler.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory" or "postgres"
	DSN    string `yaml:"dsn"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
}

// Default returns the configuration used when no file is loaded, and as
// the base that a loaded YAML file overlays (loader.go applies Default()
// before unmarshalling).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Browser: BrowserConfig{
			MaxInstances:   4,
			Headless:       true,
			ViewportWidth:  1280,
			ViewportHeight: 720,
			NavTimeout:     30 * time.Second,
		},
		AI: AIConfig{
			TextModel:      "claude-sonnet-4-20250514",
			VisionModel:    "claude-sonnet-4-20250514",
			MaxRetries:     2,
			ThrottleWindow: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			TickInterval: time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
