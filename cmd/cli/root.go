// Package cli provides the command-line interface of livescan.
// This package implements the Cobra-based CLI structure with the operator
// console, the API server and configuration helpers.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/livescan/internal/config"
	"github.com/anstrom/livescan/internal/logging"
)

const envPrefix = "LIVESCAN"

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "livescan",
	Short: "Live network scan controller",
	Long: `livescan drives an external subnet scan script, aggregates the live
hosts it reports and lets an operator start, pause, resume and stop the scan
from a console or over an HTTP API with a live event stream.`,
	Version:      getVersion(),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configureViper(viper.GetViper(), cfgFile)

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// configureViper sets up config discovery and LIVESCAN_* environment
// lookup, e.g. LIVESCAN_SCANNER_SCRIPT for scanner.script.
func configureViper(v *viper.Viper, file string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.livescan")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// bindFlags binds command flags to config keys. A flag overrides the file
// and the environment only when given on the command line.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// loadConfig loads the discovered config file and applies environment
// and flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies the keys set in v over cfg.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	setString(v, "scanner.launcher", &cfg.Scanner.Launcher)
	setString(v, "scanner.script", &cfg.Scanner.Script)
	setString(v, "scanner.work_dir", &cfg.Scanner.WorkDir)
	setInt(v, "scanner.threads", &cfg.Scanner.Threads)
	setInt(v, "scanner.timeout_ms", &cfg.Scanner.TimeoutMS)
	if v.IsSet("scanner.ranges") {
		cfg.Scanner.Ranges = v.GetStringSlice("scanner.ranges")
	}
	if v.IsSet("scanner.debug") {
		cfg.Scanner.Debug = v.GetBool("scanner.debug")
	}

	if v.IsSet("api.enabled") {
		cfg.API.Enabled = v.GetBool("api.enabled")
	}
	setString(v, "api.listen_addr", &cfg.API.ListenAddr)
	setInt(v, "api.port", &cfg.API.Port)
	setString(v, "api.api_key_hash", &cfg.API.APIKeyHash)

	setString(v, "logging.level", &cfg.Logging.Level)
	setString(v, "logging.format", &cfg.Logging.Format)
	setString(v, "logging.output", &cfg.Logging.Output)

	if v.IsSet("database.enabled") {
		cfg.Database.Enabled = v.GetBool("database.enabled")
	}
	setString(v, "database.host", &cfg.Database.Host)
	setInt(v, "database.port", &cfg.Database.Port)
	setString(v, "database.database", &cfg.Database.Database)
	setString(v, "database.username", &cfg.Database.Username)
	setString(v, "database.password", &cfg.Database.Password)
	setString(v, "database.ssl_mode", &cfg.Database.SSLMode)

	if v.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	}
	if v.IsSet("scheduler.enabled") {
		cfg.Scheduler.Enabled = v.GetBool("scheduler.enabled")
	}
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.LoggingConfig()
	if verbose {
		logConfig.Level = logging.LevelDebug
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}
