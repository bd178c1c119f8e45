// Package config wires process-level configuration through viper.
//
// Only process concerns live here: database location, transaction mode,
// audit switches, watch directory. Business parameters (thresholds, weights,
// tolerances) come exclusively from the unified_config table and have no
// defaults in code.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Called once at
// application startup, before any command runs.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Walk up from CWD to find a project .cashpipe/config.yaml, so commands
	// work from subdirectories. Then fall back to the user config dir.
	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".cashpipe", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "cashpipe", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("CASHPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// The engine's documented environment contract. These are bound
	// explicitly because they predate the CASHPIPE_ prefix.
	_ = v.BindEnv("verbose", "PIPELINE_VERBOSE")
	_ = v.BindEnv("debug", "PIPELINE_DEBUG")
	_ = v.BindEnv("atomic", "PIPELINE_ATOMIC")
	_ = v.BindEnv("data-quality", "PIPELINE_DATA_QUALITY")
	_ = v.BindEnv("data-quality-verbose", "DATA_QUALITY_VERBOSE")
	_ = v.BindEnv("audit.enabled", "PIPELINE_AUDIT_ENABLED")
	_ = v.BindEnv("audit.level", "PIPELINE_AUDIT_LEVEL")
	_ = v.BindEnv("audit.persist-rejected", "PIPELINE_AUDIT_PERSIST_REJECTED")
	_ = v.BindEnv("audit.output", "PIPELINE_AUDIT_OUTPUT")
	_ = v.BindEnv("db", "DATABASE_PATH")

	v.SetDefault("verbose", false)
	v.SetDefault("debug", false)
	v.SetDefault("atomic", true)
	v.SetDefault("data-quality", false)
	v.SetDefault("data-quality-verbose", false)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.level", "standard")
	v.SetDefault("audit.persist-rejected", false)
	v.SetDefault("audit.output", "")
	v.SetDefault("db", "")
	v.SetDefault("json", false)
	v.SetDefault("watch-dir", "")
	v.SetDefault("stage-timeout", "5m")
	v.SetDefault("lock-timeout", "30s")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a configuration value (used by flag handling).
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// DatabasePath resolves the store location: DATABASE_PATH, then the project
// .cashpipe directory, then the working directory.
func DatabasePath() string {
	if p := GetString("db"); p != "" {
		return p
	}
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".cashpipe")
			if st, err := os.Stat(candidate); err == nil && st.IsDir() {
				return filepath.Join(candidate, "cashpipe.db")
			}
		}
	}
	return "cashpipe.db"
}
