package scanning

import (
	"context"
	stderrors "errors"
	"os/exec"
)

// CommandResult is what a finished scan process left behind.
type CommandResult struct {
	// Output is the combined stdout and stderr of the process
	Output []byte
	// ExitCode is the process exit status, -1 if it never exited normally
	ExitCode int
}

// Runner executes the scan binary. A non-zero exit is reported through
// CommandResult.ExitCode, not as an error; errors mean the process could not
// be started or was killed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binary and arguments are validated by Scanner
	output, err := cmd.CombinedOutput()
	if err == nil {
		return CommandResult{Output: output}, nil
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) && exitErr.ExitCode() >= 0 && ctx.Err() == nil {
		return CommandResult{Output: output, ExitCode: exitErr.ExitCode()}, nil
	}
	return CommandResult{Output: output, ExitCode: -1}, err
}
