package bids_info

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/conntool/internal/bids"
	"github.com/vk/conntool/internal/registry"
	"github.com/vk/conntool/internal/testutil"
	"gopkg.in/yaml.v3"
)

func tr(v float64) *float64 { return &v }

func TestWrite_Formats(t *testing.T) {
	t.Parallel()

	meta := &bids.Metadata{
		NumSubjects: 2,
		Subjects:    []string{"sub-01", "sub-02"},
		TR:          tr(0.8),
		Name:        "Study",
		DatasetType: "raw",
		Sessions:    []string{"ses-1"},
	}

	t.Run("json", func(t *testing.T) {
		var b bytes.Buffer
		require.NoError(t, Write(&b, meta, "json"))

		var got bids.Metadata
		require.NoError(t, json.Unmarshal(b.Bytes(), &got))
		require.Equal(t, *meta, got)
	})

	t.Run("yaml", func(t *testing.T) {
		var b bytes.Buffer
		require.NoError(t, Write(&b, meta, "yaml"))

		require.Contains(t, b.String(), "num_subjects: 2\n")
		var got bids.Metadata
		require.NoError(t, yaml.Unmarshal(b.Bytes(), &got))
		require.Equal(t, *meta, got)
	})

	t.Run("text", func(t *testing.T) {
		var b bytes.Buffer
		require.NoError(t, Write(&b, meta, "text"))
		require.Contains(t, b.String(), "TR (RepetitionTime): 0.80 seconds")
	})

	t.Run("unknown", func(t *testing.T) {
		require.ErrorContains(t, Write(&bytes.Buffer{}, meta, "xml"), `unknown output format "xml"`)
	})
}

func TestRunBIDSInfo_ThroughRegistry(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"dataset_description.json":               `{"Name": "Demo"}`,
		"sub-01/func/sub-01_task-rest_bold.json": `{"RepetitionTime": 2.5}`,
		"sub-01/func/sub-01_task-rest_bold.nii":  "",
	})
	r := registry.New()
	(&Module{}).Register(r)
	tool, ok := r.Tool(Name)
	require.True(t, ok)
	params, err := tool.Validate(registry.Params{"bids-dir": dir, "format": "json"})
	require.NoError(t, err)
	var out bytes.Buffer

	// --- Act ---
	err = tool.Run(context.Background(), params, &out)

	// --- Assert ---
	require.NoError(t, err)
	var got bids.Metadata
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Equal(t, 1, got.NumSubjects)
	require.Equal(t, "Demo", got.Name)
	require.InDelta(t, 2.5, *got.TR, 1e-9)
	require.Equal(t, 1, got.NumFunctionalFiles)
}
