// Command netnmap runs nmap scans and prints the hosts found in its XML
// reports.
package main

import (
	"github.com/anstrom/netnmap/cmd/cli"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
