package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/netnmap/internal/errors"
	"github.com/anstrom/netnmap/internal/scanning"
)

const (
	formatTable = "table"
	formatJSON  = "json"

	noValue = "-"
)

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	default:
		return errors.NewConfigFieldError(errors.CodeValidation,
			"output format must be table or json", "format", format)
	}
}

// printResult writes a scan result in the requested format.
func printResult(w io.Writer, result *scanning.ScanResult, format string) error {
	if format == formatJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	return printTables(w, result)
}

func printTables(w io.Writer, result *scanning.ScanResult) error {
	if len(result.Hosts) == 0 {
		fmt.Fprintln(w, "No hosts found.")
	} else {
		if err := printHostTable(w, result.Hosts); err != nil {
			return err
		}
		if err := printServiceTable(w, result.Hosts); err != nil {
			return err
		}
	}

	summary := result.Summary
	if summary.HostsTotal > 0 || summary.Elapsed > 0 {
		fmt.Fprintf(w, "\n%d hosts scanned, %d up, %d down in %.2fs\n",
			summary.HostsTotal, summary.HostsUp, summary.HostsDown, summary.Elapsed)
	}

	if len(result.FailedToResolve) > 0 {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("Failed to resolve:"),
			strings.Join(result.FailedToResolve, ", "))
	}
	return nil
}

func printHostTable(w io.Writer, hosts []*scanning.Host) error {
	table := tablewriter.NewWriter(w)
	table.Header("Address", "Hostname", "Status", "OS", "Open Services")

	for _, host := range hosts {
		if err := table.Append([]string{
			hostAddress(host),
			host.PrimaryHostname(),
			colorStatus(host.Status()),
			hostOS(host),
			fmt.Sprintf("%d", len(host.Services())),
		}); err != nil {
			return err
		}
	}

	return table.Render()
}

func printServiceTable(w io.Writer, hosts []*scanning.Host) error {
	var rows [][]string
	for _, host := range hosts {
		address := hostAddress(host)
		for _, svc := range host.Services() {
			rows = append(rows, []string{
				address,
				svc.Port + "/" + svc.Protocol,
				orDash(svc.Name),
				orDash(strings.TrimSpace(svc.Product + " " + svc.Version)),
				orDash(svc.ExtraInfo),
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.Header("Address", "Port", "Service", "Version", "Extra Info")
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// hostAddress prefers the IPv4 address and falls back to the first address
// of any type.
func hostAddress(host *scanning.Host) string {
	if addr, err := host.PrimaryAddress(); err == nil {
		return addr
	}
	for _, addrType := range host.AddressTypes() {
		if addr, err := host.Address(addrType, 0); err == nil {
			return addr
		}
	}
	return noValue
}

func hostOS(host *scanning.Host) string {
	name, err := host.OS()
	if err != nil {
		return noValue
	}
	return name
}

func colorStatus(status string) string {
	switch status {
	case scanning.StatusUp:
		return color.GreenString(status)
	case scanning.StatusDown:
		return color.RedString(status)
	case "":
		return color.YellowString(scanning.StatusUnknown)
	default:
		return color.YellowString(status)
	}
}

func orDash(s string) string {
	if s == "" {
		return noValue
	}
	return s
}
