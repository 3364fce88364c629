package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Backend names accepted in Config.Backend.
const (
	BackendGoBLE     = "goble"
	BackendTinyGo    = "tinygo"
	BackendSimulated = "simulated"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	// Backend selects the BLE stack: goble, tinygo or simulated.
	Backend string `yaml:"backend" default:"goble"`
	// HCIDevice is the Linux HCI adapter index for the goble backend; -1 keeps
	// the platform default.
	HCIDevice      int           `yaml:"hci_device" default:"-1"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`

	// Dedupe suppresses a new chain for an address that already has one.
	Dedupe bool `yaml:"dedupe" default:"false"`

	Output OutputConfig `yaml:"output"`
	Filter FilterConfig `yaml:"filter"`
}

// OutputConfig controls how readings are written.
type OutputConfig struct {
	Format string `yaml:"format" default:"json"` // json, text, csv
	// CSVPath, when set, also appends every reading to this file.
	CSVPath string `yaml:"csv_path"`
	// Buffer is the capacity of the readings queue in front of the writer.
	Buffer int `yaml:"buffer" default:"256"`
}

// FilterConfig narrows which advertising devices are connected to.
type FilterConfig struct {
	Allow []string `yaml:"allow"`
	Block []string `yaml:"block"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns ~/.config/hrwatch/config.yaml, or "" when the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hrwatch", "config.yaml")
}

// Load reads a YAML configuration file on top of the defaults. An empty path
// loads DefaultPath when that file exists and returns the defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values and normalizes case-insensitive ones.
func (c *Config) Validate() error {
	var problems []string

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log_level: %v", err))
	}

	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case BackendGoBLE, BackendTinyGo, BackendSimulated:
	default:
		problems = append(problems, fmt.Sprintf("backend: unknown backend %q (expected goble, tinygo or simulated)", c.Backend))
	}

	if c.HCIDevice < -1 {
		problems = append(problems, fmt.Sprintf("hci_device: must be -1 or a non-negative index, got %d", c.HCIDevice))
	}
	if c.ConnectTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("connect_timeout: must be positive, got %s", c.ConnectTimeout))
	}

	c.Output.Format = strings.ToLower(strings.TrimSpace(c.Output.Format))
	switch c.Output.Format {
	case "json", "text", "csv":
	default:
		problems = append(problems, fmt.Sprintf("output.format: unknown format %q (expected json, text or csv)", c.Output.Format))
	}
	if c.Output.Buffer <= 0 {
		problems = append(problems, fmt.Sprintf("output.buffer: must be positive, got %d", c.Output.Buffer))
	}

	c.Filter.Allow = normalizeAddresses(c.Filter.Allow)
	c.Filter.Block = normalizeAddresses(c.Filter.Block)

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration - %s", strings.Join(problems, "; "))
	}
	return nil
}

func normalizeAddresses(addrs []string) []string {
	result := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			result = append(result, a)
		}
	}
	return result
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance writing to stderr
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
