// Package config loads node configuration from environment variables,
// with an optional YAML overlay for values that are awkward to express
// as a single env var (replication policy, peer lists).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything a heartwood node needs to start.
type Config struct {
	// Identity
	KeyPath string // path to the node's Ed25519 seed file
	DataDir string // base directory for the ref/object store

	// Server
	ListenAddr  string
	MetricsAddr string

	// Storage
	KVBackend string // "goleveldb" or "memdb"

	// Policy database (follow/seed/visibility overrides)
	PolicyDatabaseURL string
	PolicyRequired    bool

	// Replication
	ReplicationScope string   // all | followed | delegates
	Followed         []string // NIDs explicitly followed under "followed" scope

	// Logging
	LogLevel string

	// Default branch fallback for newly created identities that don't
	// specify one explicitly at the CLI layer.
	DefaultBranch string
}

// Load reads configuration from environment variables, then applies an
// optional YAML file (HEARTWOOD_CONFIG_FILE) for the fields env vars
// don't comfortably cover.
func Load() (*Config, error) {
	cfg := &Config{
		KeyPath:     getEnv("HEARTWOOD_KEY_PATH", ""),
		DataDir:     getEnv("HEARTWOOD_DATA_DIR", "./data"),
		ListenAddr:  getEnv("HEARTWOOD_LISTEN_ADDR", "127.0.0.1:8776"),
		MetricsAddr: getEnv("HEARTWOOD_METRICS_ADDR", "127.0.0.1:9776"),
		KVBackend:   getEnv("HEARTWOOD_KV_BACKEND", "goleveldb"),

		PolicyDatabaseURL: getEnv("HEARTWOOD_POLICY_DATABASE_URL", ""),
		PolicyRequired:    getEnvBool("HEARTWOOD_POLICY_REQUIRED", false),

		ReplicationScope: getEnv("HEARTWOOD_REPLICATION_SCOPE", "followed"),
		Followed:         splitNonEmpty(getEnv("HEARTWOOD_FOLLOWED", "")),

		LogLevel:      getEnv("HEARTWOOD_LOG_LEVEL", "info"),
		DefaultBranch: getEnv("HEARTWOOD_DEFAULT_BRANCH", "master"),
	}

	if path := getEnv("HEARTWOOD_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	return cfg, nil
}

// fileOverlay mirrors the subset of Config a YAML file may override.
// Left unset (zero-value) fields leave the env-derived value untouched.
type fileOverlay struct {
	ReplicationScope string   `yaml:"replicationScope"`
	Followed         []string `yaml:"followed"`
	DefaultBranch    string   `yaml:"defaultBranch"`
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return err
	}
	if overlay.ReplicationScope != "" {
		c.ReplicationScope = overlay.ReplicationScope
	}
	if len(overlay.Followed) > 0 {
		c.Followed = overlay.Followed
	}
	if overlay.DefaultBranch != "" {
		c.DefaultBranch = overlay.DefaultBranch
	}
	return nil
}

// Validate checks the minimum configuration needed to start a node.
func (c *Config) Validate() error {
	var problems []string
	switch c.ReplicationScope {
	case "all", "followed", "delegates":
	default:
		problems = append(problems, fmt.Sprintf("HEARTWOOD_REPLICATION_SCOPE %q is not one of all|followed|delegates", c.ReplicationScope))
	}
	if c.PolicyRequired && c.PolicyDatabaseURL == "" {
		problems = append(problems, "HEARTWOOD_POLICY_DATABASE_URL is required when HEARTWOOD_POLICY_REQUIRED=true")
	}
	if len(problems) > 0 {
		return fmt.Errorf("configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitNonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
