// Package cli provides the command-line interface for netnmap.
// This package implements the Cobra-based CLI structure with commands for
// running nmap scans, parsing existing reports and printing version details.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/netnmap/internal/config"
	"github.com/anstrom/netnmap/internal/errors"
	"github.com/anstrom/netnmap/internal/logging"
	"github.com/anstrom/netnmap/internal/metrics"
	"github.com/anstrom/netnmap/internal/scanning"
)

const (
	envPrefix = "NETNMAP"

	// exitInterrupted follows the shell convention of 128+SIGINT.
	exitInterrupted = 130
)

var (
	cfgFile     string
	verbose     bool
	metricsFile string
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netnmap",
	Short: "Run nmap and read its XML reports",
	Long: `netnmap drives the nmap binary: it builds the command line from a small
set of options, runs the scan and turns the XML report into a table or JSON
listing of hosts, addresses, operating systems and services.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()

	if mErr := writeMetrics(); mErr != nil {
		logging.Warn("Failed to write metrics textfile", "error", mErr)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status. An interrupted
// scan exits like a process killed by SIGINT.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.IsCode(err, errors.CodeCanceled):
		return exitInterrupted
	default:
		return 1
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./netnmap.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "",
		"write Prometheus metrics to this file in textfile collector format")

	bindRootFlags()
}

// bindRootFlags binds the global flags to viper.
func bindRootFlags() {
	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
	if err := viper.BindPFlag("metrics.textfile", rootCmd.PersistentFlags().Lookup("metrics-file")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind metrics-file flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("netnmap")
	}

	// Read in environment variables that match, NETNMAP_SCANNER_BINARY etc.
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set defaults for common configuration
	setConfigDefaults()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	// Initialize structured logging after config is loaded
	initLogging()
}

// setConfigDefaults mirrors config.Default so that viper lookups and the
// YAML loader agree.
func setConfigDefaults() {
	defaults := config.Default()

	viper.SetDefault("scanner.timeout", defaults.Scanner.Timeout)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.format", defaults.Logging.Format)
	viper.SetDefault("logging.output", defaults.Logging.Output)
}

// loadConfig loads the config file and layers environment and flag values
// that viper knows about on top of it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	overrideString := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	overrideBool := func(key string, dst *bool) {
		if viper.IsSet(key) {
			*dst = viper.GetBool(key)
		}
	}

	overrideString("scanner.binary", &cfg.Scanner.Binary)
	overrideString("scanner.output_file", &cfg.Scanner.OutputFile)
	overrideBool("scanner.keep_output", &cfg.Scanner.KeepOutput)
	if viper.IsSet("scanner.timeout") {
		cfg.Scanner.Timeout = viper.GetDuration("scanner.timeout")
	}

	opts := &cfg.Scanner.Options
	overrideBool("scanner.options.os_detection", &opts.OSDetection)
	overrideBool("scanner.options.service_info", &opts.ServiceInfo)
	overrideString("scanner.options.port_ranges", &opts.PortRanges)
	overrideBool("scanner.options.aggressive", &opts.Aggressive)
	overrideString("scanner.options.extra_args", &opts.ExtraArgs)
	if viper.IsSet("scanner.options.timing") {
		opts.Timing = scanning.TimingTemplate(viper.GetInt("scanner.options.timing"))
	}

	overrideString("logging.level", &cfg.Logging.Level)
	overrideString("logging.format", &cfg.Logging.Format)
	overrideString("logging.output", &cfg.Logging.Output)
	overrideString("metrics.textfile", &cfg.Metrics.Textfile)

	if viper.GetBool("verbose") {
		cfg.Logging.Level = string(logging.LevelDebug)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := loadConfig()
	if err != nil {
		// If config loading fails, use default logging; the command reports the error
		logging.SetDefault(logging.NewDefault())
		return
	}

	logConfig := cfg.LoggingConfig()
	if logConfig.Level == logging.LevelDebug {
		logConfig.AddSource = true
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		// Fall back to default if creation fails
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}

// writeMetrics dumps the global registry when a textfile path is configured.
func writeMetrics() error {
	path := viper.GetString("metrics.textfile")
	if path == "" {
		return nil
	}
	return metrics.GetGlobalMetrics().WriteTextfile(path)
}
