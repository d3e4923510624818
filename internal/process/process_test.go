package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_StreamsMergedOutput(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	var mu sync.Mutex
	var lines []string
	spec := Spec{Name: "/bin/sh", Args: []string{"-c", "echo first; echo second 1>&2; printf 'no newline'"}}

	// --- Act ---
	res, err := Run(context.Background(), spec, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, []string{"first", "second", "no newline"}, lines)
	require.Equal(t, "first\nsecond\nno newline\n", res.Output)
}

func TestRun_ReportsExitCode(t *testing.T) {
	t.Parallel()

	res, err := Run(context.Background(), Spec{Name: "/bin/sh", Args: []string{"-c", "echo boom; exit 3"}}, nil)

	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.Contains(t, res.Output, "boom")
}

func TestRun_MissingBinary(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), Spec{Name: "/definitely/not/here"}, nil)

	require.Error(t, err)
	require.Contains(t, err.Error(), "start /definitely/not/here")
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, Spec{Name: "/bin/sh", Args: []string{"-c", "sleep 30"}}, nil)

	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestRun_PassesEnvAndDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res, err := Run(context.Background(), Spec{
		Name: "/bin/sh",
		Args: []string{"-c", `echo "$CONNTOOL_PROBE"; pwd`},
		Dir:  dir,
		Env:  []string{"CONNTOOL_PROBE=probe-value"},
	}, nil)

	require.NoError(t, err)
	require.Contains(t, res.Output, "probe-value")
	require.Contains(t, res.Output, dir)
}

func TestResult_ContainsAny(t *testing.T) {
	t.Parallel()

	res := &Result{Output: "Subject 1 Session 1\nERROR DESCRIPTION: Undefined function\n"}

	marker, ok := res.ContainsAny([]string{"Error", "ERROR"})
	require.True(t, ok)
	require.Equal(t, "ERROR", marker)

	_, ok = res.ContainsAny([]string{"panic"})
	require.False(t, ok)
}

func TestSpec_String(t *testing.T) {
	t.Parallel()

	s := Spec{Name: "matlab", Args: []string{"-r", "run('/tmp/a b.m'); quit;"}}

	require.Equal(t, `matlab -r 'run('\''/tmp/a b.m'\''); quit;'`, s.String())
}
