package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/lazyclaw/lazyops/internal/gateway"
	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/notify"
	"github.com/lazyclaw/lazyops/internal/realtime"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	// PathEnvVar overrides the config file location
	PathEnvVar = "LAZYOPS_CONFIG"

	// EnvPrefix prefixes every environment override, e.g.
	// LAZYOPS_REALTIME_MAX_ATTEMPTS -> realtime.max_attempts
	EnvPrefix = "LAZYOPS_"
)

// Event log bounds
const (
	MinEventLogSize = 100
	MaxEventLogSize = 1000
)

// Reconnect budget bounds
const (
	MinAttempts = 5
	MaxAttempts = 10
)

// ErrInvalid is returned by Validate
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Instances     []models.InstanceProfile `yaml:"instances" koanf:"instances"`
	UI            UIConfig                 `yaml:"ui" koanf:"ui"`
	Realtime      RealtimeConfig           `yaml:"realtime" koanf:"realtime"`
	Notifications NotificationsConfig      `yaml:"notifications" koanf:"notifications"`
	HTTP          HTTPConfig               `yaml:"http" koanf:"http"`
	Logging       LoggingConfig            `yaml:"logging" koanf:"logging"`
	Metrics       MetricsConfig            `yaml:"metrics" koanf:"metrics"`
}

// UIConfig holds UI-related settings
type UIConfig struct {
	Theme        string `yaml:"theme" koanf:"theme"`
	RefreshMs    int    `yaml:"refresh_ms" koanf:"refresh_ms"`
	EventLogSize int    `yaml:"event_log_size" koanf:"event_log_size"`
}

// RealtimeConfig tunes every realtime channel
type RealtimeConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay" koanf:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" koanf:"max_delay"`
	MaxAttempts       int           `yaml:"max_attempts" koanf:"max_attempts"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" koanf:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" koanf:"handshake_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval" koanf:"poll_interval"`
}

// NotificationsConfig holds toast settings
type NotificationsConfig struct {
	MaxLive int           `yaml:"max_live" koanf:"max_live"`
	TTL     time.Duration `yaml:"ttl" koanf:"ttl"`
}

// HTTPConfig holds REST client settings
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" koanf:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second" koanf:"rate_per_second"`
	Burst         int           `yaml:"burst" koanf:"burst"`
}

// LoggingConfig holds log settings. An empty File means the XDG state dir.
type LoggingConfig struct {
	Level  string `yaml:"level" koanf:"level"`
	Format string `yaml:"format" koanf:"format"`
	File   string `yaml:"file,omitempty" koanf:"file"`
}

// MetricsConfig enables the /metrics endpoint when Addr is set
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" koanf:"addr"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Instances: []models.InstanceProfile{},
		UI: UIConfig{
			Theme:        "auto",
			RefreshMs:    1000,
			EventLogSize: realtime.DefaultLogCapacity,
		},
		Realtime: RealtimeConfig{
			BaseDelay:         realtime.DefaultBaseDelay,
			MaxDelay:          realtime.DefaultMaxDelay,
			MaxAttempts:       realtime.DefaultMaxAttempts,
			HeartbeatInterval: realtime.DefaultHeartbeatInterval,
			HandshakeTimeout:  realtime.DefaultHandshakeTimeout,
			PollInterval:      realtime.DefaultPollInterval,
		},
		Notifications: NotificationsConfig{
			MaxLive: notify.DefaultMaxLive,
			TTL:     notify.DefaultTTL,
		},
		HTTP: HTTPConfig{
			Timeout:       15 * time.Second,
			RatePerSecond: 10,
			Burst:         5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ConfigDir returns the configuration directory path
func ConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "lazyops"), nil
}

// ConfigPath returns the full path to the config file, honouring
// LAZYOPS_CONFIG
func ConfigPath() (string, error) {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Load loads the configuration: defaults, then the YAML file at path (or
// ConfigPath when empty), then LAZYOPS_* environment variables.
// Returns the config, whether this is a first run (no config file exists), and any error
func Load(path string) (*Config, bool, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, false, err
		}
		path = p
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, false, fmt.Errorf("failed to load defaults: %w", err)
	}

	firstRun := false
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, false, err
		}
		firstRun = true
	} else if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, false, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, false, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if cfg.Instances == nil {
		cfg.Instances = []models.InstanceProfile{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}

	logger := logging.With("config").Str("path", path).Bool("first_run", firstRun).Logger()
	logger.Debug().Msg("Configuration loaded")
	return cfg, firstRun, nil
}

// envTransform maps LAZYOPS_REALTIME_MAX_ATTEMPTS to realtime.max_attempts.
// Keys without a section are ignored.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return ""
	}
	switch section {
	case "ui", "realtime", "notifications", "http", "logging", "metrics":
		return section + "." + rest
	}
	return ""
}

// Validate clamps soft limits and rejects values nothing can run with
func (c *Config) Validate() error {
	var errs []error

	if c.UI.EventLogSize < MinEventLogSize {
		c.UI.EventLogSize = MinEventLogSize
	}
	if c.UI.EventLogSize > MaxEventLogSize {
		c.UI.EventLogSize = MaxEventLogSize
	}
	if c.UI.RefreshMs <= 0 {
		errs = append(errs, fmt.Errorf("ui.refresh_ms must be positive"))
	}

	r := c.Realtime
	if r.MaxAttempts < MinAttempts || r.MaxAttempts > MaxAttempts {
		errs = append(errs, fmt.Errorf("realtime.max_attempts must be between %d and %d, got %d", MinAttempts, MaxAttempts, r.MaxAttempts))
	}
	if r.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("realtime.base_delay must be positive"))
	}
	if r.MaxDelay < r.BaseDelay {
		errs = append(errs, fmt.Errorf("realtime.max_delay must not be below base_delay"))
	}
	if r.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("realtime.heartbeat_interval must be positive"))
	}
	if r.HandshakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("realtime.handshake_timeout must be positive"))
	}
	if r.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("realtime.poll_interval must be positive"))
	}

	if c.Notifications.MaxLive <= 0 {
		errs = append(errs, fmt.Errorf("notifications.max_live must be positive"))
	}
	if c.Notifications.TTL <= 0 {
		errs = append(errs, fmt.Errorf("notifications.ttl must be positive"))
	}

	if c.HTTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http.timeout must be positive"))
	}
	if c.HTTP.RatePerSecond < 0 || c.HTTP.Burst < 0 {
		errs = append(errs, fmt.Errorf("http.rate_per_second and http.burst must not be negative"))
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	seen := make(map[string]bool, len(c.Instances))
	for _, inst := range c.Instances {
		if inst.Name == "" || inst.BaseURL == "" {
			errs = append(errs, fmt.Errorf("instances need a name and base_url"))
			continue
		}
		if seen[inst.Name] {
			errs = append(errs, fmt.Errorf("duplicate instance %q", inst.Name))
		}
		seen[inst.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ManagerConfig returns the connection manager settings
func (c *Config) ManagerConfig() realtime.ManagerConfig {
	return realtime.ManagerConfig{
		BaseDelay:         c.Realtime.BaseDelay,
		MaxDelay:          c.Realtime.MaxDelay,
		MaxAttempts:       c.Realtime.MaxAttempts,
		HeartbeatInterval: c.Realtime.HeartbeatInterval,
		HandshakeTimeout:  c.Realtime.HandshakeTimeout,
	}
}

// InstanceOptions returns what gateway.OpenInstance needs, minus the
// profile-specific parts
func (c *Config) InstanceOptions(toasts notify.Sink) gateway.InstanceOptions {
	return gateway.InstanceOptions{
		Realtime:     c.ManagerConfig(),
		PollInterval: c.Realtime.PollInterval,
		LogCapacity:  c.UI.EventLogSize,
		HTTP: gateway.ClientConfig{
			Timeout:       c.HTTP.Timeout,
			RatePerSecond: c.HTTP.RatePerSecond,
			Burst:         c.HTTP.Burst,
		},
		Toasts: toasts,
	}
}

// QueueOptions returns the toast queue settings
func (c *Config) QueueOptions() []notify.Option {
	return []notify.Option{
		notify.WithMaxLive(c.Notifications.MaxLive),
		notify.WithTTL(c.Notifications.TTL),
	}
}

// Save writes the configuration to path (or ConfigPath when empty)
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return err
	}

	// Write atomically: write to temp file, then rename
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// AddInstance adds a new instance to the configuration
func (c *Config) AddInstance(instance models.InstanceProfile) {
	c.Instances = append(c.Instances, instance)
}

// GetInstance returns an instance by name
func (c *Config) GetInstance(name string) *models.InstanceProfile {
	for i := range c.Instances {
		if c.Instances[i].Name == name {
			return &c.Instances[i]
		}
	}
	return nil
}
