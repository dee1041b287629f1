// Package config loads and validates netnmap configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netnmap/internal/errors"
	"github.com/anstrom/netnmap/internal/logging"
	"github.com/anstrom/netnmap/internal/scanning"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600

	// DefaultTimeout bounds a scan when the configuration does not say otherwise.
	DefaultTimeout = 30 * time.Minute
)

// Config represents the complete netnmap configuration.
type Config struct {
	// Scanner configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScannerConfig holds settings for the nmap wrapper.
type ScannerConfig struct {
	// Binary is the nmap executable; empty means look it up in PATH
	Binary string `yaml:"binary" json:"binary" validate:"omitempty,max=4096"`

	// OutputFile is where the XML report is written; empty means a temp file
	OutputFile string `yaml:"output_file" json:"output_file" validate:"omitempty,max=4096"`

	// KeepOutput leaves the report in place after parsing
	KeepOutput bool `yaml:"keep_output" json:"keep_output"`

	// Timeout bounds a single scan; zero disables the limit
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`

	// Options are enabled on every scan
	Options scanning.Options `yaml:"options" json:"options"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level" validate:"required,oneof=debug info warn error"`
	Format    string `yaml:"format" json:"format" validate:"required,oneof=text json"`
	Output    string `yaml:"output" json:"output" validate:"required,max=255"`
	AddSource bool   `yaml:"add_source" json:"add_source"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	// Textfile is written in the node_exporter textfile format after each
	// command; empty disables it
	Textfile string `yaml:"textfile" json:"textfile" validate:"omitempty,max=4096"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Binary:     "",
			OutputFile: "",
			KeepOutput: false,
			Timeout:    DefaultTimeout,
		},
		Logging: LoggingConfig{
			Level:  string(logging.LevelInfo),
			Format: string(logging.FormatText),
			Output: "stderr",
		},
		Metrics: MetricsConfig{},
	}
}

// Load loads configuration from a file. A missing file or an empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // configuration path is chosen by the operator
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder serves both extensions.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config file %s", filepath.Base(path)), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks field constraints and the scan options.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("configuration validation failed on %q", first.Tag()),
				fieldPath(first.Namespace()), first.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "configuration validation failed", err)
	}

	if _, err := c.Scanner.Options.Flags(); err != nil {
		return err
	}

	return nil
}

// LoggingConfig converts the logging section for the logging package.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     logging.LogLevel(c.Logging.Level),
		Format:    logging.LogFormat(c.Logging.Format),
		Output:    c.Logging.Output,
		AddSource: c.Logging.AddSource,
	}
}

// ScanningConfig converts the scanner section for scanning.New. The output
// file is left to the caller when KeepOutput needs a generated path.
func (c *Config) ScanningConfig() scanning.Config {
	return scanning.Config{
		Binary:     c.Scanner.Binary,
		OutputFile: c.Scanner.OutputFile,
		Timeout:    c.Scanner.Timeout,
	}
}

// fieldPath turns "Config.Logging.Level" into "logging.level".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}
