package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/netnmap/internal/errors"
	"github.com/anstrom/netnmap/internal/logging"
	"github.com/anstrom/netnmap/internal/scanning"
)

const keptReportPattern = "netnmap-report-*.xml"

var (
	scanDryRun bool
	scanFormat string
)

// newScanner is replaced in tests to inject a fake runner.
var newScanner = scanning.New

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan [targets...]",
	Short: "Run nmap against targets and print the hosts found",
	Long: `Run nmap against one or more targets and print the hosts, addresses,
operating systems and services found in its XML report.

Targets are passed to nmap as given: hostnames, IP addresses, CIDR blocks
and nmap ranges such as 192.168.1.1-10 all work. Targets nmap cannot
resolve are listed after the results.`,
	Example: `  netnmap scan 192.168.1.1
  netnmap scan --service-info --ports 22,80,443 10.0.0.0/24
  netnmap scan --os --timing 4 scanme.nmap.org
  netnmap scan --ports U:53,T:80 --extra-args "--reason --open" localhost
  netnmap scan --dry-run --aggressive 10.0.0.1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	flags := scanCmd.Flags()
	flags.Bool("os", false, "Enable OS detection (-O)")
	flags.Bool("service-info", false, "Probe open ports for service and version info (-sV)")
	flags.String("ports", "", "Port ranges to scan, e.g. '22,80', '1-1024' or 'U:53,T:80' (-p)")
	flags.Bool("aggressive", false, "Enable OS detection, version detection, scripts and traceroute (-A)")
	flags.Int("timing", -1, "Timing template from 0 (paranoid) to 5 (insane) (-T)")
	flags.String("extra-args", "", "Additional nmap arguments as a shell-quoted string")
	flags.String("output", "", "Write the XML report to this file and keep it")
	flags.Bool("keep-output", false, "Keep the XML report after parsing")
	flags.String("binary", "", "Path to the nmap binary (default: look up nmap in PATH)")
	flags.Duration("timeout", 0, "Maximum time to wait for nmap, e.g. 10m")
	flags.BoolVar(&scanDryRun, "dry-run", false, "Print the nmap command line without running it")
	flags.StringVar(&scanFormat, "format", formatTable, "Output format: table or json")

	bindScanFlags()
}

// bindScanFlags maps scan flags onto the configuration keys they override.
func bindScanFlags() {
	flags := scanCmd.Flags()
	bindings := map[string]string{
		"scanner.options.os_detection": "os",
		"scanner.options.service_info": "service-info",
		"scanner.options.port_ranges":  "ports",
		"scanner.options.aggressive":   "aggressive",
		"scanner.options.timing":       "timing",
		"scanner.options.extra_args":   "extra-args",
		"scanner.output_file":          "output",
		"scanner.keep_output":          "keep-output",
		"scanner.binary":               "binary",
		"scanner.timeout":              "timeout",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag, err)
		}
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	scanCfg := cfg.ScanningConfig()
	scanCfg.Logger = logging.Default()

	kept := cfg.Scanner.KeepOutput && scanCfg.OutputFile == ""
	if kept && !scanDryRun {
		path, err := reserveReportFile()
		if err != nil {
			return err
		}
		scanCfg.OutputFile = path
	}

	scanner, err := newScanner(scanCfg)
	if err != nil {
		return err
	}
	if err := scanner.EnableOptions(cfg.Scanner.Options); err != nil {
		return err
	}

	if scanDryRun {
		return printDryRun(cmd, scanner, args)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Debug("Running scan", "command", scanner.CommandLine(args))

	result, err := scanner.Run(ctx, args)
	if err != nil {
		return err
	}

	if kept {
		fmt.Fprintf(cmd.ErrOrStderr(), "XML report kept at %s\n", scanner.OutputFile())
	}

	return printResult(cmd.OutOrStdout(), result, scanFormat)
}

// printDryRun prints the command a scan would run. The report path is
// reserved so the printed command is complete, then released again.
func printDryRun(cmd *cobra.Command, scanner *scanning.Scanner, targets []string) error {
	if _, err := scanner.PrepareOutput(); err != nil {
		return err
	}
	defer func() {
		if err := scanner.Release(); err != nil {
			logging.Warn("Failed to remove reserved report file", "error", err)
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), scanner.CommandLine(targets))
	return nil
}

// reserveReportFile creates an empty report file the scanner will treat as
// caller-supplied, so it survives parsing.
func reserveReportFile() (string, error) {
	file, err := os.CreateTemp("", keptReportPattern)
	if err != nil {
		return "", errors.WrapExecutionError(errors.CodeScanFailed, "cannot create report file", err)
	}
	if err := file.Close(); err != nil {
		return "", errors.WrapExecutionError(errors.CodeScanFailed, "cannot create report file", err)
	}
	return file.Name(), nil
}
