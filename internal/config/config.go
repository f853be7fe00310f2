// Package config handles spaced configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/spaced/config.yaml, /config/config.yaml
// (container convention), /etc/spaced/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "spaced", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/spaced/config.yaml")
	return paths
}

// searchPathsFunc is a package-level indirection over DefaultSearchPaths so
// tests can point FindConfig at a sandboxed location instead of whatever
// config files happen to exist on the machine running the test.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all spaced configuration.
type Config struct {
	RPC        RPCConfig        `yaml:"rpc"`
	Helper     HelperConfig     `yaml:"helper"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Mutation   MutationConfig   `yaml:"mutation"`
	Capability CapabilityConfig `yaml:"capability"`
	Debug      DebugConfig      `yaml:"debug"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// RPCConfig defines the JSON-RPC Gateway's Unix domain socket (spec §6.1).
type RPCConfig struct {
	// SocketPath is the filesystem path of the client-facing stream
	// socket. Created with owner-only permissions (0600).
	SocketPath string `yaml:"socket_path"`
	// RequestTimeout bounds how long a single client request may take
	// before the gateway gives up and returns a timeout error.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// BroadcastBufferSize is the per-client buffered channel size for
	// derived-event delivery; while a slower client's buffer is full, newly
	// published events are dropped for it rather than stalling the
	// dispatcher.
	BroadcastBufferSize int `yaml:"broadcast_buffer_size"`
}

// HelperConfig defines the privileged Helper Side-Channel socket (spec
// §6.4).
type HelperConfig struct {
	SocketPath string `yaml:"socket_path"`
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ReconcileConfig defines the periodic reconciliation poll (spec §4.4)
// that refreshes attributes and detects missed creations/destructions.
type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MutationConfig tunes the Mutation Executor's post-mutation verification
// polling (spec §9's third Open Question: the spec fixes 10×20ms but
// allows exposing it as a tunable).
type MutationConfig struct {
	VerifyAttempts int           `yaml:"verify_attempts"`
	VerifyInterval time.Duration `yaml:"verify_interval"`
	// AllowCompatibilityFallback permits MoveWindowToSpace to fall back to
	// the compatibility-workspace strategy (spec §4.8) when the OS needs
	// the modern path and the helper is unavailable. When false, only the
	// direct and helper paths are attempted, and failure is surfaced rather
	// than silently degrading through the weakest strategy.
	AllowCompatibilityFallback bool `yaml:"allow_compatibility_fallback"`
}

// CapabilityConfig lets an operator pin assumptions about the runtime
// environment instead of relying solely on internal/gate's own detection,
// primarily for testing on non-standard OS builds.
type CapabilityConfig struct {
	// RequireAccessibilityTrust, when true, makes the daemon refuse to
	// start if the accessibility permission has not been granted, rather
	// than starting in a degraded read-only mode.
	RequireAccessibilityTrust bool `yaml:"require_accessibility_trust"`
}

// DebugConfig controls the optional read-only debug dashboard (SPEC_FULL
// §6.5). Disabled by default; never exposes mutation.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // loopback-only; default "127.0.0.1:0"
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}). This is a convenience
	// for container deployments; the recommended approach is to put
	// values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.RPC.SocketPath == "" {
		c.RPC.SocketPath = "/tmp/spaced.sock"
	}
	if c.RPC.RequestTimeout == 0 {
		c.RPC.RequestTimeout = 5 * time.Second
	}
	if c.RPC.BroadcastBufferSize == 0 {
		c.RPC.BroadcastBufferSize = 64
	}
	if c.Helper.SocketPath == "" {
		c.Helper.SocketPath = "/tmp/spaced-helper.sock"
	}
	if c.Helper.DialTimeout == 0 {
		c.Helper.DialTimeout = 2 * time.Second
	}
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = 3 * time.Second
	}
	if c.Mutation.VerifyAttempts == 0 {
		c.Mutation.VerifyAttempts = 10
	}
	if c.Mutation.VerifyInterval == 0 {
		c.Mutation.VerifyInterval = 20 * time.Millisecond
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Debug.Address == "" {
		c.Debug.Address = "127.0.0.1:0"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.RPC.SocketPath == c.Helper.SocketPath {
		return fmt.Errorf("rpc.socket_path and helper.socket_path must differ")
	}
	if c.RPC.RequestTimeout <= 0 {
		return fmt.Errorf("rpc.request_timeout must be positive, got %s", c.RPC.RequestTimeout)
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive, got %s", c.Reconcile.Interval)
	}
	if c.Mutation.VerifyAttempts < 1 {
		return fmt.Errorf("mutation.verify_attempts must be >= 1, got %d", c.Mutation.VerifyAttempts)
	}
	if c.Mutation.VerifyInterval <= 0 {
		return fmt.Errorf("mutation.verify_interval must be positive, got %s", c.Mutation.VerifyInterval)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local development.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
