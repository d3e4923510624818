package reorganize

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/conntool/internal/testutil"
)

func fmriprepTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteTree(t, root, map[string]string{
		"sub-01/ses-1/anat/sub-01_ses-1_desc-preproc_T1w.nii.gz":             "t1",
		"sub-01/ses-1/anat/sub-01_ses-1_desc-preproc_T1w.json":               `{"Sources": ["ses-1/anat/sub-01_ses-1_T1w.nii.gz", "sub-01_ses-1_desc-brain_mask.nii.gz"]}`,
		"sub-01/ses-1/anat/sub-01_ses-1_from-orig_to-T1w_mode-image_xfm.txt": "xfm",
		"sub-01/ses-1/func/sub-01_ses-1_task-rest_bold.nii.gz":               "bold",
		"sub-01.html":                                                        `<img src="sub-01/ses-1/anat/sub-01_ses-1_desc-preproc_T1w.svg"> sub-01_ses-1_acq-mprage`,

		"sub-02/anat/sub-02_desc-preproc_T1w.json":             `{"Transform": "anat/sub-02_ses-2_from-T1w_to-orig_xfm.txt"}`,
		"sub-02/anat/sub-02_ses-2_from-T1w_to-orig_xfm.txt":    "xfm",
		"sub-02/ses-1/func/sub-02_ses-1_task-rest_bold.nii.gz": "bold",
		"sub-02/ses-2/func/sub-02_ses-2_task-rest_bold.nii.gz": "bold",
		"sub-02.html":                                          `<img src="sub-02/anat/sub-02_ses-2_from-T1w.svg">`,

		"sub-03/anat/sub-03_desc-preproc_T1w.nii.gz": "t1",
		"sub-03/ses-1/anat/sub-03_ses-1_T1w.nii.gz":  "t1",
	})
	return root
}

func TestRun_NormalisesLayout(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	root := fmriprepTree(t)
	ctx, logs := testutil.LoggerContext()

	// --- Act ---
	report, err := Run(ctx, root)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, []string{"sub-01"}, report.Standardized)
	require.Equal(t, []string{filepath.Join(root, "sub-02/ses-2/anat/sub-02_ses-2_from-T1w_to-orig_xfm.txt")}, report.TransformsMoved)
	require.Contains(t, logs.String(), "Standardizing single-session subject: sub-01")

	// single-session subject lifted, transform left in the session
	require.FileExists(t, filepath.Join(root, "sub-01/anat/sub-01_desc-preproc_T1w.nii.gz"))
	require.NoFileExists(t, filepath.Join(root, "sub-01/ses-1/anat/sub-01_ses-1_desc-preproc_T1w.nii.gz"))
	require.FileExists(t, filepath.Join(root, "sub-01/ses-1/anat/sub-01_ses-1_from-orig_to-T1w_mode-image_xfm.txt"))
	require.Equal(t,
		`{"Sources": ["anat/sub-01_T1w.nii.gz", "sub-01_desc-brain_mask.nii.gz"]}`,
		testutil.ReadFile(t, filepath.Join(root, "sub-01/anat/sub-01_desc-preproc_T1w.json")))
	require.Equal(t,
		`<img src="sub-01/anat/sub-01_desc-preproc_T1w.svg"> sub-01_acq-mprage`,
		testutil.ReadFile(t, filepath.Join(root, "sub-01.html")))

	// multi-session transform moved into its session
	require.NoFileExists(t, filepath.Join(root, "sub-02/anat/sub-02_ses-2_from-T1w_to-orig_xfm.txt"))
	require.Equal(t,
		`{"Transform": "ses-2/anat/sub-02_ses-2_from-T1w_to-orig_xfm.txt"}`,
		testutil.ReadFile(t, filepath.Join(root, "sub-02/anat/sub-02_desc-preproc_T1w.json")))
	require.Equal(t,
		`<img src="sub-02/ses-2/anat/sub-02_ses-2_from-T1w.svg">`,
		testutil.ReadFile(t, filepath.Join(root, "sub-02.html")))

	// subject-level anat already present: untouched
	require.FileExists(t, filepath.Join(root, "sub-03/ses-1/anat/sub-03_ses-1_T1w.nii.gz"))
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	root := fmriprepTree(t)
	ctx, _ := testutil.LoggerContext()
	_, err := Run(ctx, root)
	require.NoError(t, err)

	report, err := Run(ctx, root)

	require.NoError(t, err)
	require.Empty(t, report.Standardized)
	require.Empty(t, report.TransformsMoved)
	require.Equal(t,
		`{"Transform": "ses-2/anat/sub-02_ses-2_from-T1w_to-orig_xfm.txt"}`,
		testutil.ReadFile(t, filepath.Join(root, "sub-02/anat/sub-02_desc-preproc_T1w.json")))
}

func TestRun_MissingDirectory(t *testing.T) {
	t.Parallel()

	ctx, _ := testutil.LoggerContext()
	_, err := Run(ctx, filepath.Join(t.TempDir(), "absent"))

	require.ErrorContains(t, err, "derivatives directory not found")
}
