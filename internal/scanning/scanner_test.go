package scanning

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/anstrom/netnmap/internal/errors"
	"github.com/anstrom/netnmap/internal/logging"
	"github.com/anstrom/netnmap/internal/metrics"
)

const testBinary = "/usr/bin/nmap-test"

// mockRunner is a Runner whose behaviour is scripted per test.
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	called := m.Called(ctx, name, args)
	return called.Get(0).(CommandResult), called.Error(1)
}

// writeReport copies a fixture to the -oX path of a recorded call.
func writeReport(t *testing.T, fixture string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		cmdArgs := args.Get(2).([]string)
		require.GreaterOrEqual(t, len(cmdArgs), 2)
		require.Equal(t, "-oX", cmdArgs[0])

		data, err := os.ReadFile(filepath.Join("testdata", fixture))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(cmdArgs[1], data, 0o600))
	}
}

// counterValue sums every series of a counter family.
func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

type ScannerTestSuite struct {
	suite.Suite
	runner  *mockRunner
	metrics *metrics.PrometheusMetrics
	logs    *bytes.Buffer
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}

func (s *ScannerTestSuite) SetupTest() {
	s.runner = new(mockRunner)
	s.metrics = metrics.NewPrometheusMetrics()
	s.logs = &bytes.Buffer{}
}

func (s *ScannerTestSuite) TearDownTest() {
	s.runner.AssertExpectations(s.T())
}

func (s *ScannerTestSuite) newScanner(outputFile string, timeout time.Duration) *Scanner {
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelDebug, Format: logging.FormatText}, s.logs)
	scanner, err := New(Config{
		Binary:     testBinary,
		OutputFile: outputFile,
		Timeout:    timeout,
		Runner:     s.runner,
		Logger:     logger,
		Metrics:    s.metrics,
	})
	s.Require().NoError(err)
	return scanner
}

func (s *ScannerTestSuite) TestRun_ParsesReportAndRemovesTempFile() {
	scanner := s.newScanner("", 0)
	s.Require().NoError(scanner.EnableOptions(Options{OSDetection: true, ServiceInfo: true}))

	var reportPath string
	s.runner.On("Run", mock.Anything, testBinary, mock.Anything).
		Run(func(args mock.Arguments) {
			reportPath = args.Get(2).([]string)[1]
			writeReport(s.T(), "localhost.xml")(args)
		}).
		Return(CommandResult{Output: []byte("Nmap done: 1 IP address (1 host up)\n")}, nil).
		Once()

	result, err := scanner.Run(context.Background(), []string{"127.0.0.1"})
	s.Require().NoError(err)
	s.Require().Len(result.Hosts, 1)
	s.Equal("localhost", result.Hosts[0].PrimaryHostname())
	s.Empty(result.FailedToResolve)

	s.NotEmpty(reportPath)
	s.NoFileExists(reportPath, "temporary report must be removed after parsing")
	s.Empty(scanner.OutputFile())

	s.Equal(float64(1), counterValue(s.T(), s.metrics.GetRegistry(), "netnmap_scan_total"))
}

func (s *ScannerTestSuite) TestRun_ArgumentOrder() {
	output := filepath.Join(s.T().TempDir(), "report.xml")
	scanner := s.newScanner(output, 0)
	s.Require().NoError(scanner.EnableOptions(Options{ServiceInfo: true, PortRanges: "22,80"}))
	s.Require().NoError(scanner.EnableOptions(Options{ExtraArgs: "--open"}))

	expected := []string{"-oX", output, "-sV", "-p", "22,80", "--open", "10.0.0.1", "host.example"}
	s.runner.On("Run", mock.Anything, testBinary, expected).
		Run(writeReport(s.T(), "localhost.xml")).
		Return(CommandResult{}, nil).
		Once()

	_, err := scanner.Run(context.Background(), []string{"10.0.0.1", "host.example"})
	s.Require().NoError(err)
}

func (s *ScannerTestSuite) TestRun_KeepsCallerOutputFile() {
	output := filepath.Join(s.T().TempDir(), "report.xml")
	scanner := s.newScanner(output, 0)

	s.runner.On("Run", mock.Anything, testBinary, mock.Anything).
		Run(writeReport(s.T(), "multi_host.xml")).
		Return(CommandResult{}, nil).
		Once()

	result, err := scanner.Run(context.Background(), []string{"10.0.0.0/29"})
	s.Require().NoError(err)
	s.Len(result.Hosts, 3)
	s.FileExists(output)
	s.Equal(output, scanner.OutputFile())
}

func (s *ScannerTestSuite) TestRun_KeepsTempFileWhenParseFails() {
	scanner := s.newScanner("", 0)

	var reportPath string
	s.runner.On("Run", mock.Anything, testBinary, mock.Anything).
		Run(func(args mock.Arguments) {
			reportPath = args.Get(2).([]string)[1]
			writeReport(s.T(), "malformed.xml")(args)
		}).
		Return(CommandResult{}, nil).
		Once()

	result, err := scanner.Run(context.Background(), []string{"192.168.0.1"})
	s.Require().Error(err)
	s.Nil(result)
	s.True(errors.IsParseError(err))
	s.FileExists(reportPath)
	s.Equal(reportPath, scanner.OutputFile())

	s.T().Cleanup(func() { _ = os.Remove(reportPath) })
}

func (s *ScannerTestSuite) TestScan_FailedToResolve() {
	output := filepath.Join(s.T().TempDir(), "report.xml")
	scanner := s.newScanner(output, 0)

	stdout := "Starting Nmap 7.94 ( https://nmap.org )\r\n" +
		"Failed to resolve given hostname/IP: foo.invalid. Note that you can't use '/mask' AND '1-4,7,100-' style IP ranges\n" +
		"Failed to resolve given hostname/IP: bar.invalid. Note that you can't use '/mask' AND '1-4,7,100-' style IP ranges\n" +
		"Nmap done: 0 IP addresses (0 hosts up)\n"

	s.runner.On("Run", mock.Anything, testBinary, mock.Anything).
		Run(writeReport(s.T(), "localhost.xml")).
		Return(CommandResult{Output: []byte(stdout)}, nil).
		Twice()

	s.Require().NoError(scanner.Scan(context.Background(), []string{"foo.invalid", "bar.invalid"}))
	s.Equal([]string{"foo.invalid", "bar.invalid"}, scanner.FailedToResolve())

	result, err := scanner.ParseOutput("")
	s.Require().NoError(err)
	s.Equal([]string{"foo.invalid", "bar.invalid"}, result.FailedToResolve)

	// Unresolved targets accumulate across scans.
	s.Require().NoError(scanner.Scan(context.Background(), []string{"foo.invalid"}))
	s.Len(scanner.FailedToResolve(), 4)

	s.Contains(s.logs.String(), "Some targets could not be resolved")
}

func (s *ScannerTestSuite) TestScan_LongOutputLineLogged() {
	scanner := s.newScanner(filepath.Join(s.T().TempDir(), "report.xml"), 0)

	stdout := "Failed to resolve given hostname/IP: foo.invalid. Note that you can't use '/mask' AND '1-4,7,100-' style IP ranges\n" +
		strings.Repeat("x", maxOutputLine+1) + "\n" +
		"Failed to resolve given hostname/IP: bar.invalid. Note that you can't use '/mask' AND '1-4,7,100-' style IP ranges\n"

	s.runner.On("Run", mock.Anything, testBinary, mock.Anything).
		Return(CommandResult{Output: []byte(stdout)}, nil).
		Once()

	s.Require().NoError(scanner.Scan(context.Background(), []string{"foo.invalid", "bar.invalid"}))
	s.Equal([]string{"foo.invalid"}, scanner.FailedToResolve(), "lines before the long one are kept")
	s.Contains(s.logs.String(), "Scan output truncated")
}

func (s *ScannerTestSuite) TestPrepareOutput_ReleaseRemovesOnlyTempFile() {
	scanner := s.newScanner("", 0)

	path, err := scanner.PrepareOutput()
	s.Require().NoError(err)
	s.FileExists(path)
	s.Equal(path, scanner.OutputFile())
	s.Equal([]string{"-oX", path, "10.0.0.1"}, scanner.Args([]string{"10.0.0.1"}))

	again, err := scanner.PrepareOutput()
	s.Require().NoError(err)
	s.Equal(path, again, "the reserved path is reused")

	s.Require().NoError(scanner.Release())
	s.NoFileExists(path)
	s.Empty(scanner.OutputFile())

	explicit := filepath.Join(s.T().TempDir(), "report.xml")
	s.Require().NoError(os.WriteFile(explicit, nil, 0o600))
	kept := s.newScanner(explicit, 0)
	reserved, err := kept.PrepareOutput()
	s.Require().NoError(err)
	s.Equal(explicit, reserved)
	s.Require().NoError(kept.Release())
	s.FileExists(explicit, "caller-supplied report is never removed")
}

func (s *ScannerTestSuite) TestScan_NonZeroExit() {
	scanner := s.newScanner(filepath.Join(s.T().TempDir(), "report.xml"), 0)

	s.runner.On("Run", mock.Anything, testBinary, mock.Anything).
		Return(CommandResult{Output: []byte("Starting Nmap\nQUITTING!\n"), ExitCode: 1}, nil).
		Once()

	err := scanner.Scan(context.Background(), []string{"127.0.0.1"})
	s.Require().Error(err)

	var execErr *errors.ExecutionError
	s.Require().ErrorAs(err, &execErr)
	s.Equal(errors.CodeScanFailed, execErr.Code)
	s.Equal(1, execErr.ExitCode)
	s.Equal("Starting Nmap QUITTING!", execErr.Output)

	s.Equal(float64(1), counterValue(s.T(), s.metrics.GetRegistry(), "netnmap_scan_errors_total"))
}

func (s *ScannerTestSuite) TestScan_RunnerError() {
	scanner := s.newScanner(filepath.Join(s.T().TempDir(), "report.xml"), 0)

	s.runner.On("Run", mock.Anything, testBinary, mock.Anything).
		Return(CommandResult{ExitCode: -1}, os.ErrPermission).
		Once()

	err := scanner.Scan(context.Background(), []string{"127.0.0.1"})
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeScanFailed))
	s.ErrorIs(err, os.ErrPermission)
}

func (s *ScannerTestSuite) TestScan_Timeout() {
	scanner := s.newScanner(filepath.Join(s.T().TempDir(), "report.xml"), 20*time.Millisecond)

	s.runner.On("Run", mock.Anything, testBinary, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			<-ctx.Done()
		}).
		Return(CommandResult{ExitCode: -1}, context.DeadlineExceeded).
		Once()

	err := scanner.Scan(context.Background(), []string{"127.0.0.1"})
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeTimeout))
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *ScannerTestSuite) TestScan_Canceled() {
	scanner := s.newScanner(filepath.Join(s.T().TempDir(), "report.xml"), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.runner.On("Run", mock.Anything, testBinary, mock.Anything).
		Return(CommandResult{ExitCode: -1}, context.Canceled).
		Once()

	err := scanner.Scan(ctx, []string{"127.0.0.1"})
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeCanceled))
}

func (s *ScannerTestSuite) TestEnableOptions_InvalidPortsNeverRuns() {
	scanner := s.newScanner("", 0)

	err := scanner.EnableOptions(Options{OSDetection: true, PortRanges: "22;23"})
	s.Require().Error(err)
	s.True(errors.IsConfigError(err))

	// Rejected options leave the command line untouched.
	s.Equal([]string{"-oX", "", "127.0.0.1"}, scanner.Args([]string{"127.0.0.1"}))
	s.runner.AssertNotCalled(s.T(), "Run", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ScannerTestSuite) TestParseOutput_NoReport() {
	scanner := s.newScanner("", 0)

	_, err := scanner.ParseOutput("")
	s.Require().Error(err)
	s.True(errors.IsCode(err, errors.CodeFileNotFound))
}

func (s *ScannerTestSuite) TestParseOutput_ExplicitPathNeverRemoved() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "saved.xml")
	data, err := os.ReadFile(filepath.Join("testdata", "too_many_fingerprints.xml"))
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(path, data, 0o600))

	scanner := s.newScanner("", 0)
	result, err := scanner.ParseOutput(path)
	s.Require().NoError(err)
	s.Len(result.Hosts, 1)
	s.FileExists(path)
}

func TestScanner_CommandLine(t *testing.T) {
	scanner, err := New(Config{Binary: "/opt/nmap bin/nmap", OutputFile: "/tmp/out file.xml", Runner: &mockRunner{}})
	require.NoError(t, err)
	require.NoError(t, scanner.EnableOptions(Options{ServiceInfo: true, ExtraArgs: `--script "http-title"`}))

	assert.Equal(t,
		`'/opt/nmap bin/nmap' -oX '/tmp/out file.xml' -sV --script http-title 'host;rm -rf /'`,
		scanner.CommandLine([]string{"host;rm -rf /"}))
}

func TestNew_BinaryNotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	scanner, err := New(Config{})
	require.Error(t, err)
	assert.Nil(t, scanner)
	assert.True(t, errors.IsCode(err, errors.CodeBinaryNotFound))
}

func TestNew_ExplicitBinaryUsedVerbatim(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	scanner, err := New(Config{Binary: "/nonexistent/nmap"})
	require.NoError(t, err)
	assert.Equal(t, "/nonexistent/nmap", scanner.Binary())
}
