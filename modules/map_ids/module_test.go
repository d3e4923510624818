package map_ids

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/conntool/internal/registry"
	"github.com/vk/conntool/internal/testutil"
)

func TestRunMapIDs_ThroughRegistry(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"project/conn_study.mat":         "MATLAB",
		"project/conn_study/logfile.txt": "functional sub-01_bold.nii imported to subject 1 session 1\nstructural sub-02_T1w.nii imported to subject 2\n",
		"bids/participants.tsv":          "participant_id\tage\nsub-01\t30\nsub-02\t41\nsub-03\t25\n",
	})
	reg := registry.New()
	(&Module{}).Register(reg)
	tool, ok := reg.Tool(Name)
	require.True(t, ok)
	params, err := tool.Validate(registry.Params{
		"conn": filepath.Join(root, "project/conn_study.mat"),
		"bids": filepath.Join(root, "bids"),
	})
	require.NoError(t, err)
	ctx, logs := testutil.LoggerContext()

	// --- Act ---
	err = tool.Run(ctx, params, nil)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t,
		"participant_id\tage\tconn_id\nsub-01\t30\t1\nsub-02\t41\t2\nsub-03\t25\tn/a\n",
		testutil.ReadFile(t, filepath.Join(root, "project/participants_with_conn.tsv")))
	require.Contains(t, logs.String(), "Mapped 2 participants, wrote 3 rows.")
}

func TestRunMapIDs_MissingInputs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ctx, _ := testutil.LoggerContext()

	err := RunMapIDs(ctx, registry.Params{
		"conn": filepath.Join(root, "conn_study.mat"),
		"bids": root,
	}, nil)

	require.Error(t, err)
}
