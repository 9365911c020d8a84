// Package config handles TOML configuration loading with environment variable substitution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Tool      ToolConfig      `toml:"tool"`
	Jobs      JobsConfig      `toml:"jobs"`
	Workspace WorkspaceConfig `toml:"workspace"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Redis     *RedisConfig    `toml:"redis"`
}

type ServerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
	// CompatBlocking makes POST /api/download block until the file is ready
	// and stream it directly, like the original single-request API.
	CompatBlocking bool `toml:"compat_blocking"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ToolConfig describes how the yt-dlp executable is invoked.
type ToolConfig struct {
	Path         string   `toml:"path"`
	ProbeTimeout Duration `toml:"probe_timeout"`
	ExtraArgs    []string `toml:"extra_args"`
}

// JobsConfig bounds the download worker pool.
type JobsConfig struct {
	Workers       int      `toml:"workers"`
	QueueSize     int      `toml:"queue_size"`
	MaxDuration   Duration `toml:"max_duration"`
	Retention     Duration `toml:"retention"`
	SweepInterval Duration `toml:"sweep_interval"`
}

type WorkspaceConfig struct {
	Root string `toml:"root"`
}

// RateLimitConfig limits API requests. Zero RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// RedisConfig enables mirroring job snapshots into Redis.
type RedisConfig struct {
	URL    string   `toml:"url"`
	TTL    Duration `toml:"ttl"`
	Prefix string   `toml:"prefix"`
}

// Duration is a time.Duration that reads and writes TOML strings like "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load reads, parses and validates the configuration file.
// Returns *Error when environment variables are missing or validation fails.
func Load(path string) (*Config, error) {
	cfg, missing, err := load(path)
	if err != nil {
		return nil, err
	}

	ps := cfg.Validate()
	if len(missing) > 0 || len(ps) > 0 {
		return nil, &Error{Path: path, Missing: missing, Problems: ps}
	}
	return cfg, nil
}

// LoadWithoutValidation reads and parses the configuration file, applying
// defaults but skipping validation and missing-variable checks.
func LoadWithoutValidation(path string) (*Config, error) {
	cfg, _, err := load(path)
	return cfg, err
}

func load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}

	// Substitute environment variables
	content, missing := substituteEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(content, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, missing, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5001
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/grabbr.db"
	}
	if c.Tool.Path == "" {
		c.Tool.Path = "yt-dlp"
	}
	if c.Tool.ProbeTimeout.Duration == 0 {
		c.Tool.ProbeTimeout.Duration = time.Minute
	}
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.QueueSize == 0 {
		c.Jobs.QueueSize = 64
	}
	if c.Jobs.MaxDuration.Duration == 0 {
		c.Jobs.MaxDuration.Duration = 30 * time.Minute
	}
	if c.Jobs.Retention.Duration == 0 {
		c.Jobs.Retention.Duration = time.Hour
	}
	if c.Jobs.SweepInterval.Duration == 0 {
		c.Jobs.SweepInterval.Duration = time.Minute
	}
	if c.Workspace.Root == "" {
		c.Workspace.Root = filepath.Join(os.TempDir(), "grabbr")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond) * 2
	}
	if c.Redis != nil {
		if c.Redis.TTL.Duration == 0 {
			c.Redis.TTL.Duration = 24 * time.Hour
		}
		if c.Redis.Prefix == "" {
			c.Redis.Prefix = "grabbr:job:"
		}
	}
}

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// substituteEnvVars replaces environment variable references and returns the
// unresolved ones. Unresolved references are left in place.
func substituteEnvVars(content string) (string, []string) {
	var missing []string
	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		name, op, arg := parts[1], parts[2], parts[3]

		value, ok := os.LookupEnv(name)
		switch op {
		case "-":
			// Empty counts as unset, like the shell
			if !ok || value == "" {
				return arg
			}
			return value
		case "?":
			if !ok || value == "" {
				missing = append(missing, name+": "+strings.TrimSpace(arg))
				return match
			}
			return value
		}

		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	return result, missing
}
