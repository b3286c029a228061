package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"permitflow/internal/domain"
)

// Config models permitflow.yml.
type Config struct {
	Storage struct {
		Dir            string `yaml:"dir"`
		Compression    string `yaml:"compression"`
		MaxUploadBytes int64  `yaml:"max_upload_bytes"`
		Encryption     struct {
			Recipients   []string `yaml:"recipients"`
			IdentityFile string   `yaml:"identity_file"`
		} `yaml:"encryption"`
	} `yaml:"storage"`
	Lifecycle struct {
		StrictTransitions bool `yaml:"strict_transitions"`
	} `yaml:"lifecycle"`
	Automation struct {
		Rules []AutomationRule `yaml:"rules"`
	} `yaml:"automation"`
	Webhooks struct {
		URLs         []string      `yaml:"urls"`
		Secret       string        `yaml:"secret"`
		Events       []string      `yaml:"events"`
		PollInterval time.Duration `yaml:"poll_interval"`
		Timeout      time.Duration `yaml:"timeout"`
		BatchSize    int           `yaml:"batch_size"`
	} `yaml:"webhooks"`
	Server struct {
		Addr                   string `yaml:"addr"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Database struct {
		BusyTimeoutMS int `yaml:"busy_timeout_ms"`
	} `yaml:"database"`
}

// AutomationRule creates a task when a permit moves from From to To. An
// empty From or "*" matches any previous status.
type AutomationRule struct {
	From string       `yaml:"from"`
	To   string       `yaml:"to"`
	Task TaskTemplate `yaml:"task"`
}

type TaskTemplate struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Priority    string `yaml:"priority"`
	DueInDays   int    `yaml:"due_in_days"`
}

const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Compression {
	case CompressionNone, CompressionZstd, CompressionLZ4:
	default:
		return fmt.Errorf("config.storage.compression must be one of none, zstd, lz4 (got %q)", c.Storage.Compression)
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("config.storage.max_upload_bytes must be positive")
	}
	for i, r := range c.Automation.Rules {
		if r.From != "" && r.From != "*" && !domain.PermitStatus(r.From).IsValid() {
			return fmt.Errorf("automation rule %d: unknown from status %q", i, r.From)
		}
		if !domain.PermitStatus(r.To).IsValid() {
			return fmt.Errorf("automation rule %d: unknown to status %q", i, r.To)
		}
		if r.Task.Name == "" {
			return fmt.Errorf("automation rule %d: task name is required", i)
		}
		if r.Task.Priority != "" && !domain.TaskPriority(r.Task.Priority).IsValid() {
			return fmt.Errorf("automation rule %d: unknown priority %q", i, r.Task.Priority)
		}
		if r.Task.DueInDays < 0 {
			return fmt.Errorf("automation rule %d: due_in_days must not be negative", i)
		}
	}
	if c.Webhooks.PollInterval < 0 {
		return fmt.Errorf("config.webhooks.poll_interval must not be negative")
	}
	if c.Webhooks.Timeout < 0 {
		return fmt.Errorf("config.webhooks.timeout must not be negative")
	}
	for _, evt := range c.Webhooks.Events {
		if !domain.ActivityType(evt).IsValid() {
			return fmt.Errorf("config.webhooks.events: unknown activity type %q", evt)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "permitflow.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pf init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to Default when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(DefaultYAML))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and
// validates the result.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	applyDefaults(&cfg)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func applyDefaults(c *Config) {
	c.Storage.Dir = filepath.Join(".permitflow", "files")
	c.Storage.Compression = CompressionZstd
	c.Storage.MaxUploadBytes = 50 << 20
	c.Webhooks.PollInterval = 2 * time.Second
	c.Webhooks.Timeout = 5 * time.Second
	c.Webhooks.BatchSize = 100
	c.Server.Addr = "127.0.0.1:8080"
	c.Database.BusyTimeoutMS = 5000
}

// DefaultYAML is written by pf init.
const DefaultYAML = `storage:
  dir: .permitflow/files
  compression: zstd
  max_upload_bytes: 52428800
  encryption:
    recipients: []

lifecycle:
  strict_transitions: false

automation:
  rules: []
  # - from: "*"
  #   to: Issued
  #   task:
  #     name: Schedule Inspections
  #     priority: medium
  #     due_in_days: 7

webhooks:
  urls: []
  # events: [StatusChange, TaskCreated]
  poll_interval: 2s
  timeout: 5s
  batch_size: 100

server:
  addr: 127.0.0.1:8080
  allow_legacy_actor_header: true
`
