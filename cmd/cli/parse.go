package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/netnmap/internal/logging"
	"github.com/anstrom/netnmap/internal/metrics"
	"github.com/anstrom/netnmap/internal/scanning"
)

var parseFormat string

// parseCmd represents the parse command
var parseCmd = &cobra.Command{
	Use:   "parse <report.xml>",
	Short: "Print the hosts recorded in an existing nmap XML report",
	Long: `Read an XML report written by nmap -oX and print its hosts, addresses,
operating systems and services. The report file is never modified.`,
	Example: `  netnmap parse scan.xml
  netnmap parse --format json /var/lib/scans/nightly.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVar(&parseFormat, "format", formatTable, "Output format: table or json")
}

func runParse(cmd *cobra.Command, args []string) error {
	if err := validateFormat(parseFormat); err != nil {
		return err
	}

	path := args[0]
	m := metrics.GetGlobalMetrics()

	start := time.Now()
	result, err := scanning.ParseFile(path)
	m.RecordParseDuration(time.Since(start))
	if err != nil {
		m.IncrementParsesTotal("error")
		logging.ErrorParse("Failed to parse scan report", path, err)
		return err
	}

	m.IncrementParsesTotal("success")
	services := 0
	for _, host := range result.Hosts {
		m.IncrementHostsParsed(host.Status(), 1)
		services += len(host.Services())
	}
	m.IncrementServicesFound(services)
	logging.InfoParse("Parsed scan report", path, "hosts", len(result.Hosts))

	return printResult(cmd.OutOrStdout(), result, parseFormat)
}
