package scanning

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	"github.com/anstrom/netnmap/internal/errors"
	"github.com/anstrom/netnmap/internal/logging"
	"github.com/anstrom/netnmap/internal/metrics"
)

const (
	// DefaultBinary is looked up in PATH when no binary is configured.
	DefaultBinary = "nmap"

	tempFilePattern = "netnmap-*.xml"
	maxOutputLine   = 1024 * 1024
)

// failedToResolvePattern matches nmap's warning for targets it cannot resolve.
var failedToResolvePattern = regexp.MustCompile(`^Failed to resolve given hostname/IP:\s+(.+)\.\s+Note`)

// Config configures a Scanner.
type Config struct {
	// Binary is the scan executable; empty means look up DefaultBinary in PATH
	Binary string
	// OutputFile is where nmap writes its XML report. Empty means a temporary
	// file that is removed once it has been parsed.
	OutputFile string
	// Timeout bounds a single scan; zero means no limit
	Timeout time.Duration
	// Runner executes the binary; nil means ExecRunner
	Runner Runner
	// Logger defaults to the package-level logger
	Logger *logging.Logger
	// Metrics defaults to the global Prometheus metrics
	Metrics *metrics.PrometheusMetrics
}

// Scanner builds nmap command lines, runs them and parses their reports.
// Failed-to-resolve targets accumulate across scans.
type Scanner struct {
	binary     string
	outputFile string
	// generated is true when outputFile is a temp file owned by the scanner
	generated bool
	timeout   time.Duration
	flags     []string
	runner    Runner
	logger    *logging.Logger
	metrics   *metrics.PrometheusMetrics

	mu              sync.Mutex
	failedToResolve []string
}

// New creates a scanner. The binary path is resolved once here.
func New(cfg Config) (*Scanner, error) {
	binary := cfg.Binary
	if binary == "" {
		resolved, err := exec.LookPath(DefaultBinary)
		if err != nil {
			return nil, errors.ErrBinaryNotFound(DefaultBinary, err)
		}
		binary = resolved
	}

	s := &Scanner{
		binary:     binary,
		outputFile: cfg.OutputFile,
		timeout:    cfg.Timeout,
		runner:     cfg.Runner,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if s.runner == nil {
		s.runner = ExecRunner{}
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.GetGlobalMetrics()
	}
	s.logger = s.logger.WithComponent("scanner")

	return s, nil
}

// Binary returns the resolved scan executable.
func (s *Scanner) Binary() string {
	return s.binary
}

// OutputFile returns the report path of the last scan, or the configured
// path before any scan ran.
func (s *Scanner) OutputFile() string {
	return s.outputFile
}

// EnableOptions validates opts and appends their flags to the command line.
// Nothing is appended when validation fails.
func (s *Scanner) EnableOptions(opts Options) error {
	flags, err := opts.Flags()
	if err != nil {
		return err
	}
	s.flags = append(s.flags, flags...)
	return nil
}

// Args returns the arguments passed to the binary for the given targets:
// the XML output flag, the enabled option flags, then the targets. Without a
// configured OutputFile the report path is empty until PrepareOutput runs.
func (s *Scanner) Args(targets []string) []string {
	args := make([]string, 0, 2+len(s.flags)+len(targets))
	args = append(args, "-oX", s.outputFile)
	args = append(args, s.flags...)
	args = append(args, targets...)
	return args
}

// CommandLine renders the full command with every argument shell-escaped.
func (s *Scanner) CommandLine(targets []string) string {
	return shellquote.Join(append([]string{s.binary}, s.Args(targets)...)...)
}

// FailedToResolve returns every target nmap could not resolve so far.
func (s *Scanner) FailedToResolve() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.failedToResolve...)
}

// Scan runs the binary against targets and blocks until it exits. The XML
// report is left at OutputFile for ParseOutput. A non-zero exit status is an
// ExecutionError carrying the captured output.
func (s *Scanner) Scan(ctx context.Context, targets []string) error {
	if _, err := s.PrepareOutput(); err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log := s.logger.WithScanID(uuid.New().String())
	args := s.Args(targets)
	log.InfoScan("Starting scan", targets, "command", s.CommandLine(targets))

	start := time.Now()
	res, err := s.runner.Run(ctx, s.binary, args...)
	s.metrics.RecordScanDuration(time.Since(start))

	lines, scanErr := outputLines(res.Output)
	if scanErr != nil {
		log.Warn("Scan output truncated; unresolved targets may be missing", "error", scanErr)
	}

	switch {
	case ctx.Err() != nil && stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return s.scanFailed(log, targets, errors.WrapExecutionError(errors.CodeTimeout, "scan timed out", ctx.Err()).
			WithOutput(res.ExitCode, strings.Join(lines, " ")))
	case ctx.Err() != nil:
		return s.scanFailed(log, targets, errors.WrapExecutionError(errors.CodeCanceled, "scan canceled", ctx.Err()).
			WithOutput(res.ExitCode, strings.Join(lines, " ")))
	case err != nil:
		return s.scanFailed(log, targets, errors.WrapExecutionError(errors.CodeScanFailed, "scan binary could not run", err).
			WithOutput(res.ExitCode, strings.Join(lines, " ")))
	case res.ExitCode != 0:
		return s.scanFailed(log, targets, errors.WrapExecutionError(errors.CodeScanFailed, "scan binary failed", nil).
			WithOutput(res.ExitCode, strings.Join(lines, " ")))
	}

	unresolved := matchFailedToResolve(lines)
	if len(unresolved) > 0 {
		s.mu.Lock()
		s.failedToResolve = append(s.failedToResolve, unresolved...)
		s.mu.Unlock()
		s.metrics.AddFailedToResolve(len(unresolved))
		log.Warn("Some targets could not be resolved", "unresolved", unresolved)
	}

	s.metrics.IncrementScansTotal("success")
	log.InfoScan("Scan completed", targets, "duration", time.Since(start), "report", s.outputFile)
	return nil
}

// ParseOutput parses a scan report. An empty path means the report of the
// last Scan. A temp file created by the scanner is removed after a
// successful parse; it is kept when parsing fails. Caller-supplied files are
// never removed.
func (s *Scanner) ParseOutput(path string) (*ScanResult, error) {
	own := path == ""
	if own {
		path = s.outputFile
	}
	if path == "" {
		return nil, errors.WrapParseError(errors.CodeFileNotFound, "no scan report to parse", os.ErrNotExist)
	}

	start := time.Now()
	result, err := ParseFile(path)
	s.metrics.RecordParseDuration(time.Since(start))
	if err != nil {
		s.metrics.IncrementParsesTotal("error")
		s.logger.ErrorParse("Failed to parse scan report", path, err)
		return nil, err
	}

	result.FailedToResolve = s.FailedToResolve()
	s.recordParsed(result)
	s.logger.InfoParse("Parsed scan report", path, "hosts", len(result.Hosts))

	if own && s.generated {
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove scan report", "report", path, "error", err)
		}
		s.outputFile = ""
		s.generated = false
	}
	return result, nil
}

// Run scans targets and parses the resulting report.
func (s *Scanner) Run(ctx context.Context, targets []string) (*ScanResult, error) {
	if err := s.Scan(ctx, targets); err != nil {
		return nil, err
	}
	return s.ParseOutput("")
}

// PrepareOutput reserves the report path the next scan writes to and
// returns it. Without a configured OutputFile a temp file owned by the
// scanner is created; Scan calls this itself.
func (s *Scanner) PrepareOutput() (string, error) {
	if s.outputFile != "" {
		return s.outputFile, nil
	}

	file, err := os.CreateTemp("", tempFilePattern)
	if err != nil {
		return "", errors.WrapExecutionError(errors.CodeScanFailed, "cannot create scan output file", err)
	}
	if err := file.Close(); err != nil {
		return "", errors.WrapExecutionError(errors.CodeScanFailed, "cannot create scan output file", err)
	}

	s.outputFile = file.Name()
	s.generated = true
	return s.outputFile, nil
}

// Release removes a temp report the scanner created but has not parsed.
// Caller-supplied files are left alone.
func (s *Scanner) Release() error {
	if !s.generated {
		return nil
	}
	path := s.outputFile
	s.outputFile = ""
	s.generated = false
	if err := os.Remove(path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Scanner) scanFailed(log *logging.Logger, targets []string, err *errors.ExecutionError) error {
	s.metrics.IncrementScansTotal("error")
	s.metrics.IncrementScanErrors(string(err.Code))
	log.ErrorScan("Scan failed", targets, err, "exit_code", err.ExitCode)
	return err
}

func (s *Scanner) recordParsed(result *ScanResult) {
	s.metrics.IncrementParsesTotal("success")
	services := 0
	for _, host := range result.Hosts {
		s.metrics.IncrementHostsParsed(host.Status(), 1)
		services += len(host.services)
	}
	s.metrics.IncrementServicesFound(services)
}

// outputLines splits captured output into lines. Lines longer than
// maxOutputLine stop the split and are reported as an error with the lines
// read so far.
func outputLines(output []byte) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputLine)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	return lines, scanner.Err()
}

func matchFailedToResolve(lines []string) []string {
	var targets []string
	for _, line := range lines {
		if m := failedToResolvePattern.FindStringSubmatch(line); m != nil {
			targets = append(targets, m[1])
		}
	}
	return targets
}
