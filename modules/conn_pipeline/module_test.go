package conn_pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/conntool/internal/pipeline"
	"github.com/vk/conntool/internal/registry"
)

func TestRegister_DefaultsInstallDir(t *testing.T) {
	t.Parallel()

	r := registry.New()
	(&Module{InstallDir: "/opt/conn"}).Register(r)

	tool, ok := r.Tool(Name)
	require.True(t, ok)
	p, ok := tool.Param("install-dir")
	require.True(t, ok)
	require.Equal(t, "/opt/conn", p.Default)
}

func TestRunPipeline_InvalidPaths(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	root := t.TempDir()
	r := registry.New()
	(&Module{}).Register(r)
	tool, _ := r.Tool(Name)
	params, err := tool.Validate(registry.Params{
		"project-dir":  filepath.Join(root, "project"),
		"fmriprep-dir": filepath.Join(root, "missing-fmriprep"),
		"bids-dir":     filepath.Join(root, "missing-bids"),
		"skip-smooth":  "true",
	})
	require.NoError(t, err)

	// --- Act ---
	err = tool.Run(context.Background(), params, &bytes.Buffer{})

	// --- Assert ---
	require.ErrorIs(t, err, pipeline.ErrInvalidPaths)
	require.DirExists(t, filepath.Join(root, "project"))
}

func TestRegister_RequiresDirectories(t *testing.T) {
	t.Parallel()

	r := registry.New()
	(&Module{}).Register(r)
	tool, _ := r.Tool(Name)

	_, err := tool.Validate(registry.Params{"project-dir": "/p"})

	require.ErrorIs(t, err, registry.ErrInvalidParams)
	require.ErrorContains(t, err, "parameter 'bids-dir' is required")
	require.ErrorContains(t, err, "parameter 'fmriprep-dir' is required")
}

func TestRegister_RejectsNonPositiveFWHM(t *testing.T) {
	t.Parallel()

	r := registry.New()
	(&Module{}).Register(r)
	tool, _ := r.Tool(Name)

	for _, fwhm := range []string{"0", "-2"} {
		_, err := tool.Validate(registry.Params{
			"project-dir":  "/p",
			"fmriprep-dir": "/f",
			"bids-dir":     "/b",
			"fwhm":         fwhm,
		})

		require.ErrorIs(t, err, registry.ErrInvalidParams)
		require.ErrorContains(t, err, "parameter 'fwhm' must be at least 1, got "+fwhm)
	}
}
