// Package process runs external programs with merged, line-streamed output.
// It is the single place conntool shells out to CONN, MATLAB and helpers.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/vk/conntool/internal/ctxlog"
)

// terminateGrace is how long a cancelled child gets between SIGTERM and SIGKILL.
const terminateGrace = 5 * time.Second

// Spec describes one external invocation.
type Spec struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the current environment.
	Env []string
}

// String renders the invocation as a shell-like command line.
func (s Spec) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, quote(s.Name))
	for _, a := range s.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

// Result is the outcome of a finished process.
type Result struct {
	Command  string
	Output   string
	ExitCode int
}

// ContainsAny reports the first marker found in the captured output.
func (r *Result) ContainsAny(markers []string) (string, bool) {
	for _, m := range markers {
		if m != "" && strings.Contains(r.Output, m) {
			return m, true
		}
	}
	return "", false
}

// LineFunc receives each output line, without its trailing newline, as it
// is produced.
type LineFunc func(line string)

// Run starts spec, streams merged stdout and stderr through onLine and waits
// for exit. A non-zero exit is reported through Result.ExitCode, not as an
// error; errors mean the process could not be run or was cancelled.
func Run(ctx context.Context, spec Spec, onLine LineFunc) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("command", spec.Name)

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = terminateGrace

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	result := &Result{Command: spec.String(), ExitCode: -1}
	var captured strings.Builder
	readDone := make(chan error, 1)
	go func() {
		readDone <- readLines(pr, func(line string) {
			captured.WriteString(line)
			captured.WriteByte('\n')
			if onLine != nil {
				onLine(line)
			}
		})
	}()

	logger.Debug("Starting process.", "args", spec.Args, "dir", spec.Dir)
	if err := cmd.Start(); err != nil {
		pw.Close()
		<-readDone
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	waitErr := cmd.Wait()
	pw.Close()
	if err := <-readDone; err != nil {
		logger.Warn("Output stream ended with error.", "error", err)
	}
	result.Output = captured.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s interrupted: %w", spec.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		result.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("wait %s: %w", spec.Name, waitErr)
	}
	logger.Debug("Process exited.", "exit_code", result.ExitCode)
	return result, nil
}

// readLines splits r into lines of any length.
func readLines(r io.Reader, fn func(string)) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			fn(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\"'\\$;&|()<>") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
