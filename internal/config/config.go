// Package config loads the bridge configuration from an optional YAML file,
// WHEELBRIDGE_ environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	// DevicePath pins the bridge to one wheel. Empty selects the first
	// enumerated wheel.
	DevicePath string `mapstructure:"device_path"`
	// ProfilePath is the calibration profile store.
	ProfilePath string `mapstructure:"profile_path"`
	// DeadzoneFrac is the calibration deadzone as a fraction of the axis
	// half-range.
	DeadzoneFrac float64 `mapstructure:"deadzone_frac"`
	// CalibrationWindow is how long the calibration wizard samples.
	CalibrationWindow time.Duration `mapstructure:"calibration_window"`
	// PollInterval is the input loop tick. 8ms gives 125Hz.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ReadRetries bounds consecutive transient read failures before the
	// wheel counts as disconnected.
	ReadRetries int `mapstructure:"read_retries"`
	// ReconnectGrace is how long a disconnected wheel may stay away
	// before the session terminates.
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
	// StatusAddr serves the diagnostics websocket and health endpoint.
	StatusAddr string `mapstructure:"status_addr"`
	// Tray enables the system tray icon.
	Tray bool `mapstructure:"tray"`
}

func defaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "wheelbridge", "profiles.json")
}

// Load builds the effective configuration. args is the command line after
// the program name; path, when non-empty, names a config file that must
// exist.
func Load(args []string, path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("device_path", "")
	v.SetDefault("profile_path", defaultProfilePath())
	v.SetDefault("deadzone_frac", 0.03)
	v.SetDefault("calibration_window", 10*time.Second)
	v.SetDefault("poll_interval", 8*time.Millisecond)
	v.SetDefault("read_retries", 3)
	v.SetDefault("reconnect_grace", 10*time.Second)
	v.SetDefault("status_addr", "127.0.0.1:8489")
	v.SetDefault("tray", true)

	v.SetEnvPrefix("WHEELBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	fs := pflag.NewFlagSet("wheelbridge", pflag.ContinueOnError)
	fs.String("device-path", v.GetString("device_path"), "input device path of the wheel")
	fs.String("profile-path", v.GetString("profile_path"), "calibration profile store")
	fs.Float64("deadzone-frac", v.GetFloat64("deadzone_frac"), "deadzone fraction of the axis half-range")
	fs.Duration("calibration-window", v.GetDuration("calibration_window"), "calibration sampling window")
	fs.Duration("poll-interval", v.GetDuration("poll_interval"), "input polling interval")
	fs.Int("read-retries", v.GetInt("read_retries"), "transient read failures tolerated in a row")
	fs.Duration("reconnect-grace", v.GetDuration("reconnect_grace"), "how long to wait for a wheel to come back")
	fs.String("status-addr", v.GetString("status_addr"), "diagnostics listen address")
	fs.Bool("tray", v.GetBool("tray"), "show the system tray icon")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
		}
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.DeadzoneFrac < 0 || cfg.DeadzoneFrac >= 1 {
		return nil, fmt.Errorf("deadzone_frac must be in [0,1), got %g", cfg.DeadzoneFrac)
	}
	return &cfg, nil
}
