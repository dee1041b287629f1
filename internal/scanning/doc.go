// Package scanning wraps the nmap binary for netnmap.
//
// It builds an nmap command line, runs it as a subprocess and reads the
// resulting XML report into hosts and services. The package never opens a
// socket itself; every probe is performed by the external binary.
//
// # Main Components
//
// ## Scan Execution
//
//   - Scanner: resolves the binary once, collects option flags and runs scans
//   - Options: OS detection, service info, port ranges, aggressive mode,
//     timing template and extra arguments
//   - Runner: the process execution seam, ExecRunner in production
//
// ## Report Parsing
//
//   - Parse and ParseFile: single pass over the XML token stream
//   - ScanResult: hosts in document order, unresolved targets, run summary
//   - Host, Service, OSGuess: read-only records with accessors
//
// # Usage
//
//	scanner, err := scanning.New(scanning.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := scanner.EnableOptions(scanning.Options{ServiceInfo: true, PortRanges: "22,80"}); err != nil {
//		log.Fatal(err)
//	}
//	result, err := scanner.Run(ctx, []string{"192.168.1.0/24"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, host := range result.Hosts {
//		addr, _ := host.PrimaryAddress()
//		fmt.Println(addr, host.PrimaryHostname(), host.Status())
//	}
//
// # Errors
//
// Invalid options fail with a ConfigError before any process starts, a
// non-zero exit status is an ExecutionError carrying the captured output,
// and an unreadable or malformed report is a ParseError. See
// internal/errors.
package scanning
