package pipeline

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vk/conntool/internal/config"
	"github.com/vk/conntool/internal/process"
)

var (
	// ErrRunnerNotFound is returned when neither CONN nor MATLAB can be located.
	ErrRunnerNotFound = errors.New("CONN or MATLAB not found")
	// ErrMCRRootNotSet is returned when the only launcher found is
	// run_conn.sh and no MATLAB Runtime root is configured.
	ErrMCRRootNotSet = errors.New("MATLAB Runtime root not set")
)

// mcrEnvVars name the MATLAB Runtime root required by run_conn.sh.
var mcrEnvVars = []string{"MCR_ROOT", "MCRROOT"}

// Launcher runs a generated batch script.
type Launcher struct {
	Command string
	// Args precede the script argument.
	Args []string
	// MATLAB wraps the script in a run(...); quit; expression.
	MATLAB bool
}

// Spec returns the invocation for script.
func (l Launcher) Spec(script string) process.Spec {
	args := append([]string(nil), l.Args...)
	if l.MATLAB {
		args = append(args, fmt.Sprintf("run('%s'); quit;", script))
	} else {
		args = append(args, script)
	}
	return process.Spec{Name: l.Command, Args: args}
}

// Kind is a short label for logs.
func (l Launcher) Kind() string {
	if l.MATLAB {
		return "MATLAB"
	}
	return "CONN standalone"
}

// LookPathFunc resolves an executable name, like exec.LookPath.
type LookPathFunc func(file string) (string, error)

// DetectLauncher locates CONN. An explicit runner override wins; then conn
// on PATH, the CONN standalone install directory, and finally MATLAB.
func DetectLauncher(override *config.Runner, installDir string, lookPath LookPathFunc) (Launcher, error) {
	if override != nil {
		return Launcher{Command: override.Command, Args: override.Args}, nil
	}
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	if path, err := lookPath("conn"); err == nil {
		return Launcher{Command: path, Args: []string{"batch"}}, nil
	}
	var unusable string
	if installDir != "" {
		if path := filepath.Join(installDir, "conn"); isExecutable(path) {
			return Launcher{Command: path, Args: []string{"batch"}}, nil
		}
		if path := filepath.Join(installDir, "run_conn.sh"); isExecutable(path) {
			if mcr := mcrRoot(); mcr != "" {
				return Launcher{Command: path, Args: []string{mcr, "batch"}}, nil
			}
			unusable = path
		}
	}
	if path, err := lookPath("matlab"); err == nil {
		return Launcher{Command: path, Args: []string{"-r"}, MATLAB: true}, nil
	}
	if unusable != "" {
		return Launcher{}, fmt.Errorf("%w: found %s but neither %s is set", ErrMCRRootNotSet, unusable, strings.Join(mcrEnvVars, " nor "))
	}
	return Launcher{}, ErrRunnerNotFound
}

func mcrRoot() string {
	for _, key := range mcrEnvVars {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0o111 != 0
}
