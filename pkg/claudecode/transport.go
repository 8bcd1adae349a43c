package claudecode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxLineSize    = 4 * 1024 * 1024
	stderrTailSize = 4000
	killWaitDelay  = 5 * time.Second
)

func buildArgs(prompt string, opts *Options) []string {
	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	if opts.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.AppendSystemPrompt)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}
	if opts.PermissionMode != "" && opts.PermissionMode != PermissionModeDefault {
		args = append(args, "--permission-mode", string(opts.PermissionMode))
	}
	return args
}

// stream runs the CLI and calls onMessage for every decoded line. Lines that
// fail to decode are skipped.
func stream(ctx context.Context, prompt string, opts *Options, onMessage func(Message)) error {
	cliPath, err := findCLI(opts.CLIPath)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, cliPath, buildArgs(prompt, opts)...)
	cmd.Env = append(os.Environ(), "CLAUDE_CODE_ENTRYPOINT=sdk-go")
	cmd.Env = append(cmd.Env, opts.Env...)
	cmd.Dir = opts.Cwd
	cmd.WaitDelay = killWaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &tailWriter{limit: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start claude CLI: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			continue
		}
		onMessage(msg)
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Unblock the CLI so Wait can return.
		_, _ = io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ProcessError{ExitCode: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return fmt.Errorf("claude CLI failed: %w", err)
	}
	if scanErr != nil {
		return fmt.Errorf("failed to read claude CLI output: %w", scanErr)
	}
	return nil
}

type tailWriter struct {
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string { return string(w.buf) }

func findCLI(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", &CLINotFoundError{CLIPath: override}
		}
		return override, nil
	}
	if path, err := exec.LookPath("claude"); err == nil {
		return path, nil
	}
	home := os.Getenv("HOME")
	for _, path := range []string{
		filepath.Join(home, ".claude", "local", "claude"),
		filepath.Join(home, ".npm", "bin", "claude"),
		filepath.Join(home, "node_modules", ".bin", "claude"),
		"/usr/local/bin/claude",
		"/usr/bin/claude",
	} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", &CLINotFoundError{}
}
