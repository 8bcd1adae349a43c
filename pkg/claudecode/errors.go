package claudecode

import (
	"fmt"
)

type CLINotFoundError struct {
	CLIPath string
}

func (e *CLINotFoundError) Error() string {
	if e.CLIPath == "" {
		return "claude CLI not found in PATH"
	}
	return fmt.Sprintf("claude CLI not found at %q", e.CLIPath)
}

// ProcessError reports a CLI run that exited unsuccessfully.
type ProcessError struct {
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("claude CLI exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("claude CLI exited with code %d: %s", e.ExitCode, e.Stderr)
}

// ResultError reports a run whose final result message is flagged as an error.
type ResultError struct {
	Subtype string
	Result  string
}

func (e *ResultError) Error() string {
	if e.Result == "" {
		return fmt.Sprintf("claude run failed: %s", e.Subtype)
	}
	return fmt.Sprintf("claude run failed: %s: %s", e.Subtype, e.Result)
}
