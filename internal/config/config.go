// Package config loads the optional podnet configuration file.
//
// The file is JSONC (JSON with comments and trailing commas) so that
// users can annotate their settings:
//
//	{
//	  // Pin the sidecar image used by the whole team.
//	  "image": "datawire/telepresence-local:0.109",
//	  "readiness": {"attempts": 60, "interval": "2s"},
//	}
//
// Every field is optional; missing fields keep their defaults. Command
// line flags take precedence over the file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"

	"github.com/shinji-kodama/podnet/internal/model"
)

const (
	// DefaultImage provides the "proxy" and "wait" commands of the sidecar.
	DefaultImage = "datawire/telepresence-local:0.109"

	// MacLoopbackIP is the address Docker Desktop containers use to reach
	// the tunnel on the host on macOS.
	MacLoopbackIP = "198.18.0.254"

	// DefaultStopTimeoutSeconds is the grace period given to session
	// containers when they are stopped.
	DefaultStopTimeoutSeconds = 1
)

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Retry is a fixed retry budget: a number of attempts spaced by a
// constant interval.
type Retry struct {
	Attempts int      `json:"attempts"`
	Interval Duration `json:"interval"`
}

// Config holds the settings of a podnet session.
type Config struct {
	// Image is the sidecar image.
	Image string `json:"image"`

	// Readiness is the polling budget of the sidecar readiness probe.
	Readiness Retry `json:"readiness"`

	// Environment is the retry budget of the remote environment capture.
	Environment Retry `json:"environment"`

	// LoopbackIP overrides the address the sidecar uses to reach the host.
	// Empty means the sidecar default.
	LoopbackIP string `json:"loopbackIP"`

	StopTimeoutSeconds int `json:"stopTimeoutSeconds"`
}

// Default returns the built-in configuration for the current platform.
func Default() Config {
	cfg := Config{
		Image:              DefaultImage,
		Readiness:          Retry{Attempts: 120, Interval: Duration(time.Second)},
		Environment:        Retry{Attempts: 10, Interval: Duration(250 * time.Millisecond)},
		StopTimeoutSeconds: DefaultStopTimeoutSeconds,
	}
	if runtime.GOOS == "darwin" {
		cfg.LoopbackIP = MacLoopbackIP
	}
	return cfg
}

// DefaultPath returns $XDG_CONFIG_HOME/podnet/config.jsonc, falling back
// to ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "podnet", "config.jsonc")
}

// Load reads the configuration file at path on top of the defaults.
//
// When explicit is false (the path is the default location) a missing
// file is not an error. All failures are CLIErrors with ExitInvalidConfig.
func Load(fs afero.Fs, path string, explicit bool) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return Config{}, model.WrapCLIError(
			model.ExitInvalidConfig,
			fmt.Sprintf("failed to read config file %s", path),
			err,
		)
	}

	// Strip JSONC comments (// and /* */) and trailing commas before parsing.
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return Config{}, model.WrapCLIError(
			model.ExitInvalidConfig,
			fmt.Sprintf("failed to parse config file %s", path),
			err,
		)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, model.WrapCLIError(
			model.ExitInvalidConfig,
			fmt.Sprintf("invalid config file %s", path),
			err,
		)
	}
	return cfg, nil
}

// Validate checks the settings for values the session cannot work with.
func (c Config) Validate() error {
	if c.Image == "" {
		return errors.New("image must not be empty")
	}
	if err := c.Readiness.validate("readiness"); err != nil {
		return err
	}
	if err := c.Environment.validate("environment"); err != nil {
		return err
	}
	if c.LoopbackIP != "" && net.ParseIP(c.LoopbackIP) == nil {
		return fmt.Errorf("loopbackIP %q is not an IP address", c.LoopbackIP)
	}
	if c.StopTimeoutSeconds < 0 {
		return fmt.Errorf("stopTimeoutSeconds must not be negative, got %d", c.StopTimeoutSeconds)
	}
	return nil
}

func (r Retry) validate(name string) error {
	if r.Attempts < 1 {
		return fmt.Errorf("%s.attempts must be at least 1, got %d", name, r.Attempts)
	}
	if r.Interval <= 0 {
		return fmt.Errorf("%s.interval must be positive, got %s", name, time.Duration(r.Interval))
	}
	return nil
}
