// Package config handles configuration loading from YAML files and environment variables.
// Configuration precedence: CLI flags > environment variables > config file >
// embedded config > defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "15s", "30s", "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		parsed, err := time.ParseDuration(value.Value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value.Value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
}

// MarshalYAML implements the yaml.Marshaler interface for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds all agent configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Collection CollectionConfig `yaml:"collection"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Buffer     BufferConfig     `yaml:"buffer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds ingestion endpoint settings.
type ServerConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	MachineToken   string   `yaml:"machine_token" validate:"required"`
	RequestTimeout Duration `yaml:"request_timeout" validate:"gt=0"`
}

// CollectionConfig holds metric collection settings.
type CollectionConfig struct {
	Interval      Duration `yaml:"interval" validate:"gt=0"`
	BatchInterval Duration `yaml:"batch_interval" validate:"gt=0"`
	Timeout       Duration `yaml:"timeout" validate:"gt=0"`
	TopProcesses  int      `yaml:"top_processes" validate:"gte=0,lte=100"`
}

// DeliveryConfig holds retry and drain settings. A zero DrainInterval
// disables the periodic drain; the startup drain still runs.
type DeliveryConfig struct {
	MaxRetries      int      `yaml:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay       Duration `yaml:"base_delay" validate:"gt=0"`
	RateLimitPause  Duration `yaml:"rate_limit_pause" validate:"gt=0"`
	DrainInterval   Duration `yaml:"drain_interval" validate:"gte=0"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// BufferConfig holds local durable buffer settings. Zero limits mean
// unlimited.
type BufferConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=file sqlite pebble"`
	Path       string `yaml:"path" validate:"required"`
	MaxRecords int    `yaml:"max_records" validate:"gte=0"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	Eviction   string `yaml:"eviction" validate:"oneof=drop_oldest reject_new"`
}

// MaxBytes returns the byte limit derived from MaxSizeMB.
func (b BufferConfig) MaxBytes() int64 {
	return int64(b.MaxSizeMB) * 1024 * 1024
}

// LoggingConfig holds logging settings. An empty File logs to stdout only.
type LoggingConfig struct {
	Level  string   `yaml:"level" validate:"oneof=debug info warn error"`
	File   string   `yaml:"file"`
	MaxAge Duration `yaml:"max_age" validate:"gte=0"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty ListenAddr
// disables the endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:            "http://localhost:3000",
			RequestTimeout: Duration{10 * time.Second},
		},
		Collection: CollectionConfig{
			Interval:      Duration{15 * time.Second},
			BatchInterval: Duration{60 * time.Second},
			Timeout:       Duration{10 * time.Second},
			TopProcesses:  10,
		},
		Delivery: DeliveryConfig{
			MaxRetries:      3,
			BaseDelay:       Duration{2 * time.Second},
			RateLimitPause:  Duration{60 * time.Second},
			DrainInterval:   Duration{5 * time.Minute},
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Buffer: BufferConfig{
			Backend:    "file",
			Path:       defaultBufferPath(),
			MaxRecords: 1000,
			MaxSizeMB:  50,
			Eviction:   "drop_oldest",
		},
		Logging: LoggingConfig{
			Level:  "info",
			MaxAge: Duration{7 * 24 * time.Hour},
		},
	}
}

// merge overlays YAML data onto cfg. Keys absent from data keep their
// current values.
func merge(cfg *Config, data []byte, source string) error {
	if len(data) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", source, err)
	}
	return nil
}

// CLIOverrides holds values from command-line flags.
// Empty strings are treated as "not set" and skipped.
type CLIOverrides struct {
	URL   string
	Token string
}

// Locate searches standard config file paths and returns the first one found.
// Returns empty string if no config file exists.
func Locate() string {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// CLI flags > env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value  → use that path ("" means no external file)
func LoadLayered(cli CLIOverrides, embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	if err := merge(cfg, embedded, "embedded config"); err != nil {
		return nil, err
	}

	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0]
	} else {
		filePath = Locate()
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case err == nil:
			if err := merge(cfg, data, "config file "+filePath); err != nil {
				return nil, err
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(cfg)

	if cli.URL != "" {
		cfg.Server.URL = cli.URL
	}
	if cli.Token != "" {
		cfg.Server.MachineToken = cli.Token
	}

	return cfg, nil
}

// WriteConfig serializes the config to a YAML file at the given path.
// Creates parent directories if needed.
func WriteConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

func applyEnvOverrides(cfg *Config) {
	if url := os.Getenv("SA_SERVER_URL"); url != "" {
		cfg.Server.URL = url
	}
	if token := os.Getenv("SA_MACHINE_TOKEN"); token != "" {
		cfg.Server.MachineToken = token
	}
	if level := os.Getenv("SA_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if path := os.Getenv("SA_BUFFER_PATH"); path != "" {
		cfg.Buffer.Path = path
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration is valid for production use.
// Non-localhost server URLs must use HTTPS.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return fmt.Errorf("server URL must use HTTPS (got: %s)", c.Server.URL)
	}
	return nil
}

// describe renders a validation failure with the YAML path of the field,
// e.g. "server.machine_token is required".
func describe(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	switch fe.Tag() {
	case "required":
		return ns + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", ns, fe.Param())
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s is out of range (%s %s)", ns, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", ns, fe.Tag())
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
