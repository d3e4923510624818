package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/conntool/internal/cli"
	"github.com/vk/conntool/internal/testutil"
)

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, out, []string{"-h"})

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, out, []string{"run", "--this-is-not-a-valid-flag"})

	// --- Assert ---
	var exitErr *cli.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_BIDSInfoJSON(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"dataset_description.json":                   `{"Name": "Rest study"}`,
		"sub-01/ses-1/func/sub-01_ses-1_bold.json":   `{"RepetitionTime": 0.8}`,
		"sub-01/ses-1/func/sub-01_ses-1_bold.nii.gz": "x",
		"sub-02/ses-1/func/sub-02_ses-1_bold.nii.gz": "x",
	})
	out := &bytes.Buffer{}
	logs := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, logs, []string{"bids-info", "--format", "json", dir})

	// --- Assert ---
	require.NoError(t, err, logs.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got), out.String())
	require.EqualValues(t, 2, got["num_subjects"])
	require.EqualValues(t, 0.8, got["tr"])
	require.Equal(t, "Rest study", got["name"])
	require.Equal(t, []any{"ses-1"}, got["sessions"])
}

func TestRun_ToolFailureExitsWithOne(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	missing := filepath.Join(t.TempDir(), "missing")
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, out, []string{"bids-info", missing})

	// --- Assert ---
	var exitErr *cli.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 1, exitErr.Code)
}
