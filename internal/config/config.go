// Package config reads ccrelay's configuration once at startup. ccrelay is
// spawned thousands of times per build, so the primary surface is environment
// variables; an optional YAML file (CCRELAY_CONFIG) can hold the same keys,
// with the environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Environment variables understood by ccrelay.
const (
	EnvConfigFile     = "CCRELAY_CONFIG"
	EnvDaemonPath     = "CCRELAY_DAEMON"
	EnvLogFile        = "CCRELAY_LOG_FILE"
	EnvFallbackDistcc = "CCRELAY_FALLBACK_DISTCC"
	EnvSocketPath     = "CCRELAY_SOCKET"
	EnvLockPath       = "CCRELAY_LOCK"
)

// ErrDaemonPathMissing is the one configuration error with no fallback: with
// no daemon executable there is nothing to relay to and nothing to pre-warm.
var ErrDaemonPathMissing = errors.New("daemon executable not configured (set " + EnvDaemonPath + ")")

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the complete ccrelay configuration.
type Config struct {
	// DaemonPath is the relay daemon executable. Required.
	DaemonPath string `yaml:"daemon_path"`

	// LogFile is where invocation events are appended. Empty disables
	// logging entirely.
	LogFile string `yaml:"log_file"`

	// FallbackDistcc forces every invocation onto distcc, bypassing the
	// daemon. A migration escape hatch.
	FallbackDistcc bool `yaml:"fallback_distcc"`

	// SocketPath and LockPath identify the daemon endpoint and the
	// startup-race lock. When empty they are derived from DaemonPath, so
	// distinct daemons on one machine never share an endpoint.
	SocketPath string `yaml:"socket_path"`
	LockPath   string `yaml:"lock_path"`
}

// Load builds the configuration from the optional YAML file plus the
// environment, derives endpoint defaults, and validates.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv(EnvDaemonPath); v != "" {
		cfg.DaemonPath = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv(EnvFallbackDistcc); v != "" {
		cfg.FallbackDistcc = isTruthy(v)
	}
	if v := os.Getenv(EnvSocketPath); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv(EnvLockPath); v != "" {
		cfg.LockPath = v
	}

	if cfg.DaemonPath == "" {
		return nil, ErrDaemonPathMissing
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultEndpoint(cfg.DaemonPath, ".sock")
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultEndpoint(cfg.DaemonPath, ".lock")
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(expandEnvVars(data), cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

// expandEnvVars substitutes ${VAR} references in the raw YAML before parsing.
// Unset variables expand to the empty string.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// DefaultEndpoint derives a per-user, per-daemon filesystem path under the
// temp directory. The daemon binary's path is hashed in, so switching to a
// different daemon build in another checkout starts a separate daemon instead
// of talking to a stale one.
func DefaultEndpoint(daemonPath, ext string) string {
	sum := blake3.Sum256([]byte(daemonPath))
	name := fmt.Sprintf("ccrelay-%d-%x%s", os.Getuid(), sum[:4], ext)
	return filepath.Join(os.TempDir(), name)
}
