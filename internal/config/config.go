// Package config loads and validates the livescan configuration file.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/livescan/internal/db"
	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/lifecycle"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/supervisor"
	"github.com/anstrom/livescan/internal/workers"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete livescan configuration.
type Config struct {
	// Scan process and session defaults
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// HTTP control API
	API APIConfig `yaml:"api" json:"api"`

	// Logging
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Optional session history
	Database db.Config `yaml:"database" json:"database"`

	// Worker pool writing session history
	History HistoryConfig `yaml:"history" json:"history"`

	// Scheduled scans
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// Prometheus metrics
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScannerConfig describes how the scan process is launched and the options
// used when a start request leaves them out.
type ScannerConfig struct {
	// Interpreter the script runs under
	Launcher string `yaml:"launcher" json:"launcher" validate:"required"`

	// Scan script path
	Script string `yaml:"script" json:"script" validate:"required"`

	// Working directory of the process, empty for the current one
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Extra environment in KEY=VALUE form
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`

	Threads   int      `yaml:"threads" json:"threads" validate:"min=0"`
	TimeoutMS int      `yaml:"timeout_ms" json:"timeout_ms" validate:"min=0"`
	Ranges    []string `yaml:"ranges" json:"ranges" validate:"dive,required"`
	Debug     bool     `yaml:"debug" json:"debug"`

	// Wait after SIGTERM before SIGKILL
	StopGrace time.Duration `yaml:"stop_grace" json:"stop_grace" validate:"min=0"`

	// Wait after SIGKILL
	KillGrace time.Duration `yaml:"kill_grace" json:"kill_grace" validate:"min=0"`

	// Reader join bound after a stop
	ReaderJoinTimeout time.Duration `yaml:"reader_join_timeout" json:"reader_join_timeout" validate:"min=0"`

	// Reader join bound after a natural exit
	ExitJoinTimeout time.Duration `yaml:"exit_join_timeout" json:"exit_join_timeout" validate:"min=0"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required_if=Enabled true"`
	Port       int    `yaml:"port" json:"port" validate:"min=0,max=65535"`

	TLS TLSConfig `yaml:"tls" json:"tls"`

	// bcrypt hash of the API key, empty disables authentication
	APIKeyHash string `yaml:"api_key_hash" json:"-"`

	CORS CORSConfig `yaml:"cors" json:"cors"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"min=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"min=0"`

	// Maximum request body size in bytes
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size" validate:"min=0"`

	// Per-subscriber buffer of the event stream
	EventBuffer int `yaml:"event_buffer" json:"event_buffer" validate:"min=0"`

	// Log every request
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// TLSConfig holds TLS settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file" json:"key_file" validate:"required_if=Enabled true"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output" validate:"required"`

	AddSource bool `yaml:"add_source" json:"add_source"`
}

// HistoryConfig sizes the worker pool that writes session history.
type HistoryConfig struct {
	Workers         int           `yaml:"workers" json:"workers" validate:"min=0"`
	QueueSize       int           `yaml:"queue_size" json:"queue_size" validate:"min=0"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries" validate:"min=0"`
	RetryDelay      time.Duration `yaml:"retry_delay" json:"retry_delay" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"min=0"`
}

// SchedulerConfig holds scheduled scans.
type SchedulerConfig struct {
	Enabled bool            `yaml:"enabled" json:"enabled"`
	Jobs    []ScheduledScan `yaml:"jobs,omitempty" json:"jobs,omitempty" validate:"dive"`
}

// ScheduledScan starts a session on a cron schedule. Zero options fall
// back to the scanner defaults.
type ScheduledScan struct {
	Name      string   `yaml:"name" json:"name" validate:"required"`
	Cron      string   `yaml:"cron" json:"cron" validate:"required"`
	Ranges    []string `yaml:"ranges,omitempty" json:"ranges,omitempty" validate:"dive,required"`
	Threads   int      `yaml:"threads" json:"threads" validate:"min=0"`
	TimeoutMS int      `yaml:"timeout_ms" json:"timeout_ms" validate:"min=0"`
	Debug     bool     `yaml:"debug" json:"debug"`

	// Stop the session after this long, zero lets it run to completion
	MaxDuration time.Duration `yaml:"max_duration" json:"max_duration" validate:"min=0"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	UpdateInterval time.Duration `yaml:"update_interval" json:"update_interval" validate:"min=0"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Launcher:          "bash",
			Script:            "./scan_subnets_enhanced.sh",
			Threads:           lifecycle.DefaultThreads,
			TimeoutMS:         lifecycle.DefaultTimeoutMS,
			Ranges:            []string{"192.168.0.0/24", "192.168.8.0/24"},
			StopGrace:         supervisor.DefaultStopGrace,
			KillGrace:         supervisor.DefaultKillGrace,
			ReaderJoinTimeout: lifecycle.DefaultReaderJoinTimeout,
			ExitJoinTimeout:   lifecycle.DefaultExitJoinTimeout,
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1",
			Port:       8080,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
			},
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
			EventBuffer:    256,
			RequestLogging: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Database: db.DefaultConfig(),
		History: HistoryConfig{
			Workers:         1,
			QueueSize:       1024,
			MaxRetries:      3,
			RetryDelay:      time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			UpdateInterval: 15 * time.Second,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder serves both.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to marshal config", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return errors.WrapConfigError(errors.CodeConfiguration, "failed to write config file", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the rules that span fields. The
// first violation is returned as a ConfigError naming the field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed on the '%s' rule", fe.Tag()), fieldPath(fe.Namespace()), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	if c.API.Enabled && c.API.Port == 0 {
		return errors.NewConfigFieldError(errors.CodeValidation, "API port is required when the API is enabled",
			"api.port", c.API.Port)
	}
	for i, kv := range c.Scanner.Env {
		if !strings.Contains(kv, "=") {
			return errors.NewConfigFieldError(errors.CodeValidation, "environment entry must be KEY=VALUE",
				fmt.Sprintf("scanner.env[%d]", i), kv)
		}
	}

	if c.Scheduler.Enabled {
		seen := make(map[string]bool, len(c.Scheduler.Jobs))
		for i, job := range c.Scheduler.Jobs {
			if seen[job.Name] {
				return errors.NewConfigFieldError(errors.CodeValidation, "duplicate scheduled scan name",
					fmt.Sprintf("scheduler.jobs[%d].name", i), job.Name)
			}
			seen[job.Name] = true
			if len(job.Ranges) == 0 && len(c.Scanner.Ranges) == 0 {
				return errors.NewConfigFieldError(errors.CodeValidation,
					"scheduled scan has no ranges and no scanner default",
					fmt.Sprintf("scheduler.jobs[%d].ranges", i), job.Ranges)
			}
		}
	}
	return nil
}

// fieldPath turns "Config.API.TLS.CertFile" into "api.tls.certfile".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		namespace = namespace[i+1:]
	}
	return strings.ToLower(namespace)
}

// Options returns the scanner defaults as session options.
func (c *Config) Options() lifecycle.Options {
	return lifecycle.Options{
		Threads:   c.Scanner.Threads,
		TimeoutMS: c.Scanner.TimeoutMS,
		Ranges:    append([]string(nil), c.Scanner.Ranges...),
		Debug:     c.Scanner.Debug,
	}.Normalize()
}

// ScheduledOptions returns the options of a scheduled scan, filling the
// gaps from the scanner defaults.
func (c *Config) ScheduledOptions(job ScheduledScan) lifecycle.Options {
	opts := c.Options()
	if len(job.Ranges) > 0 {
		opts.Ranges = append([]string(nil), job.Ranges...)
	}
	if job.Threads > 0 {
		opts.Threads = job.Threads
	}
	if job.TimeoutMS > 0 {
		opts.TimeoutMS = job.TimeoutMS
	}
	opts.Debug = opts.Debug || job.Debug
	return opts.Normalize()
}

// LifecycleConfig returns the launch configuration of the controller.
func (c *Config) LifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		Launcher:          c.Scanner.Launcher,
		Script:            c.Scanner.Script,
		Dir:               c.Scanner.WorkDir,
		Env:               append([]string(nil), c.Scanner.Env...),
		ReaderJoinTimeout: c.Scanner.ReaderJoinTimeout,
		ExitJoinTimeout:   c.Scanner.ExitJoinTimeout,
	}
}

// SupervisorOptions returns the process supervisor settings.
func (c *Config) SupervisorOptions(logger *logging.Logger) supervisor.Options {
	return supervisor.Options{
		StopGrace: c.Scanner.StopGrace,
		KillGrace: c.Scanner.KillGrace,
		Logger:    logger,
	}
}

// LoggingConfig converts the logging section for the logging package.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     logging.LogLevel(c.Logging.Level),
		Format:    logging.LogFormat(c.Logging.Format),
		Output:    c.Logging.Output,
		AddSource: c.Logging.AddSource || c.Logging.Level == "debug",
	}
}

// WorkersConfig returns the history worker pool settings.
func (c *Config) WorkersConfig() workers.Config {
	cfg := workers.DefaultConfig()
	if c.History.Workers > 0 {
		cfg.Size = c.History.Workers
	}
	if c.History.QueueSize > 0 {
		cfg.QueueSize = c.History.QueueSize
	}
	cfg.MaxRetries = c.History.MaxRetries
	if c.History.RetryDelay > 0 {
		cfg.RetryDelay = c.History.RetryDelay
	}
	if c.History.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = c.History.ShutdownTimeout
	}
	return cfg
}

// GetDatabaseConfig returns the database configuration.
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// GetAPIAddress returns the full API address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}

// IsAPIEnabled returns true if the API server is enabled.
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}
