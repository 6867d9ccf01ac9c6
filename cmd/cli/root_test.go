package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/livescan/internal/config"
	"github.com/anstrom/livescan/internal/errors"
)

func TestApplyOverridesFromEnvironment(t *testing.T) {
	t.Setenv("LIVESCAN_SCANNER_SCRIPT", "/opt/livescan/scan.sh")
	t.Setenv("LIVESCAN_SCANNER_THREADS", "75")
	t.Setenv("LIVESCAN_SCANNER_RANGES", "10.0.0.0/24 10.0.1.0/24")
	t.Setenv("LIVESCAN_API_PORT", "9090")
	t.Setenv("LIVESCAN_DATABASE_ENABLED", "true")

	v := viper.New()
	configureViper(v, "")

	cfg := config.Default()
	applyOverrides(cfg, v)

	assert.Equal(t, "/opt/livescan/scan.sh", cfg.Scanner.Script)
	assert.Equal(t, 75, cfg.Scanner.Threads)
	assert.Equal(t, []string{"10.0.0.0/24", "10.0.1.0/24"}, cfg.Scanner.Ranges)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.True(t, cfg.Database.Enabled)

	// untouched keys keep their defaults
	assert.Equal(t, "bash", cfg.Scanner.Launcher)
	assert.Equal(t, "127.0.0.1", cfg.API.ListenAddr)
}

func TestApplyOverridesExplicitValues(t *testing.T) {
	v := viper.New()
	v.Set("scanner.debug", true)
	v.Set("logging.level", "debug")
	v.Set("metrics.enabled", false)

	cfg := config.Default()
	applyOverrides(cfg, v)

	assert.True(t, cfg.Scanner.Debug)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestBindFlags(t *testing.T) {
	v := viper.New()
	flags := pflag.NewFlagSet("scan", pflag.ContinueOnError)
	flags.Int("threads", 0, "")
	flags.StringSlice("range", nil, "")
	flags.Int("port", 0, "")

	require.NoError(t, bindFlags(v, flags, map[string]string{
		"threads": "scanner.threads",
		"range":   "scanner.ranges",
		"port":    "api.port",
	}))
	require.NoError(t, flags.Parse([]string{"--threads", "12", "--range", "10.0.0.0/24", "--range", "10.0.1.0/24"}))

	cfg := config.Default()
	applyOverrides(cfg, v)

	assert.Equal(t, 12, cfg.Scanner.Threads)
	assert.Equal(t, []string{"10.0.0.0/24", "10.0.1.0/24"}, cfg.Scanner.Ranges)
	assert.Equal(t, 8080, cfg.API.Port, "flags left at their zero default do not override")

	assert.Error(t, bindFlags(v, flags, map[string]string{"missing": "scanner.script"}))
}

func TestLoadConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `scanner:
  script: /srv/scan_subnets_enhanced.sh
  threads: 25
  ranges:
    - 10.10.0.0/24
api:
  port: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Run("file and environment", func(t *testing.T) {
		viper.Reset()
		t.Setenv("LIVESCAN_API_PORT", "9100")
		configureViper(viper.GetViper(), path)

		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "/srv/scan_subnets_enhanced.sh", cfg.Scanner.Script)
		assert.Equal(t, 25, cfg.Scanner.Threads)
		assert.Equal(t, []string{"10.10.0.0/24"}, cfg.Scanner.Ranges)
		assert.Equal(t, 9100, cfg.API.Port)
	})

	t.Run("invalid override", func(t *testing.T) {
		viper.Reset()
		t.Setenv("LIVESCAN_LOGGING_LEVEL", "loud")
		configureViper(viper.GetViper(), path)

		_, err := loadConfig()
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeValidation))
	})
}

func TestSetVersion(t *testing.T) {
	original := rootCmd.Version
	t.Cleanup(func() {
		SetVersion("dev", "none", "unknown")
		rootCmd.Version = original
	})

	SetVersion("1.2.3", "abc123", "2026-01-01")
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2026-01-01)", rootCmd.Version)
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"scan", "server", "apikey", "config", "db"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
