package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/conntool/internal/app"
	"github.com/vk/conntool/internal/pipeline"
	"github.com/vk/conntool/internal/registry"
)

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected *ExitError, got %v", err)
	require.Equal(t, code, exitErr.Code)
}

func TestParse_NoCommandPrintsUsage(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}

	cfg, shouldExit, err := Parse(nil, out)

	require.NoError(t, err)
	require.True(t, shouldExit)
	require.Nil(t, cfg)
	require.Contains(t, out.String(), "Usage:")
	for _, name := range []string{"run", "bids-info", "map-ids", "reorganize", "export", "gui"} {
		require.Contains(t, out.String(), "  "+name+" ")
	}
}

func TestParse_UnknownCommand(t *testing.T) {
	t.Parallel()

	_, _, err := Parse([]string{"frobnicate"}, &bytes.Buffer{})

	requireExitCode(t, err, 2)
	require.EqualError(t, err, `unknown command "frobnicate"`)
}

func TestParse_SubcommandHelp(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}

	cfg, shouldExit, err := Parse([]string{"run", "-h"}, out)

	require.NoError(t, err)
	require.True(t, shouldExit)
	require.Nil(t, cfg)
	require.Contains(t, out.String(), "-project-dir")
	require.Contains(t, out.String(), "-skip-denoise")
}

func TestParse_RunFlagsAndAliases(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	root := t.TempDir()
	args := []string{
		"run",
		"-p", filepath.Join(root, "project") + "/",
		"--fmriprep-dir", filepath.Join(root, "derivatives"),
		"-b", filepath.Join(root, "bids"),
		"--fwhm", "6",
		"--no-qa",
		"--skip-smooth",
		"--log-level", "DEBUG",
		"--log-format", "json",
	}

	// --- Act ---
	cfg, shouldExit, err := Parse(args, &bytes.Buffer{})

	// --- Assert ---
	require.NoError(t, err)
	require.False(t, shouldExit)
	require.Equal(t, "pipeline", cfg.Command)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, filepath.Join(root, "project"), cfg.Params.String("project-dir"))
	require.Equal(t, filepath.Join(root, "derivatives"), cfg.Params.String("fmriprep-dir"))
	require.Equal(t, filepath.Join(root, "bids"), cfg.Params.String("bids-dir"))
	require.Equal(t, 6, cfg.Params.Int("fwhm"))
	require.True(t, cfg.Params.Bool("no-qa"))
	require.True(t, cfg.Params.Bool("skip-smooth"))
	require.False(t, cfg.Params.Bool("skip-setup"))
}

func TestParse_InvalidInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing required flag",
			args:    []string{"run", "-p", dir},
			wantErr: "parameter 'fmriprep-dir' is required",
		},
		{
			name:    "bad integer",
			args:    []string{"run", "-p", dir, "-f", dir, "-b", dir, "--fwhm", "wide"},
			wantErr: "fwhm",
		},
		{
			name:    "bad log level",
			args:    []string{"bids-info", "--log-level", "loud", dir},
			wantErr: "invalid log-level",
		},
		{
			name:    "bad format",
			args:    []string{"bids-info", "--format", "xml", dir},
			wantErr: "must be one of",
		},
		{
			name:    "extra positional",
			args:    []string{"export", dir, dir, dir},
			wantErr: fmt.Sprintf("unexpected argument %q", dir),
		},
		{
			name:    "gui positional",
			args:    []string{"gui", dir},
			wantErr: "unexpected argument",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := Parse(tc.args, &bytes.Buffer{})

			requireExitCode(t, err, 2)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestParse_PositionalArguments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "conn_study.mat")
	dest := filepath.Join(dir, "light")

	cfg, _, err := Parse([]string{"export", src, dest}, &bytes.Buffer{})

	require.NoError(t, err)
	require.Equal(t, "export", cfg.Command)
	require.Equal(t, registry.Params{"source": src, "dest": dest}, cfg.Params)
}

func TestParse_GUIFlags(t *testing.T) {
	t.Parallel()

	state := t.TempDir()

	cfg, _, err := Parse([]string{"gui", "--host", "127.0.0.1", "--port", "5050", "--no-browser", "--state-dir", state}, &bytes.Buffer{})

	require.NoError(t, err)
	require.Equal(t, app.CommandGUI, cfg.Command)
	require.Equal(t, "127.0.0.1", cfg.GUIHost)
	require.Equal(t, 5050, cfg.GUIPort)
	require.True(t, cfg.NoBrowser)
	require.Equal(t, state, cfg.StateDir)
	require.Empty(t, cfg.Params)
}

func TestToExitError(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want int
	}{
		{name: "step failure", err: &pipeline.StepError{Number: 2, Title: "Import", Reason: "exit code 1"}, want: 1},
		{name: "interrupted", err: fmt.Errorf("conn interrupted: %w", context.Canceled), want: ExitInterrupted},
		{name: "invalid params", err: fmt.Errorf("%w for tool 'export'", registry.ErrInvalidParams), want: ExitUsage},
		{name: "already mapped", err: &ExitError{Code: 7, Message: "x"}, want: 7},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			requireExitCode(t, ToExitError(tc.err), tc.want)
		})
	}
	require.NoError(t, ToExitError(nil))
}
