package pipeline

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/conntool/internal/testutil"
)

const (
	boldRel = "sub-01/ses-1/func/sub-01_ses-1_task-rest_space-MNI152NLin2009cAsym_desc-preproc_bold.nii.gz"
	anatRel = "sub-01/anat/sub-01_space-MNI152NLin2009cAsym_desc-preproc_T1w.nii.gz"
)

type fixture struct {
	root     string
	project  string
	fmriprep string
	bids     string
	conn     string
	out      *testutil.SafeBuffer
	logs     *testutil.SafeBuffer
	ctx      context.Context
}

// newFixture lays out a two-subject BIDS dataset with matching fMRIprep
// derivatives and a fake conn executable running connScript.
func newFixture(t *testing.T, connScript string) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:     root,
		project:  filepath.Join(root, "project"),
		fmriprep: filepath.Join(root, "fmriprep"),
		bids:     filepath.Join(root, "bids"),
		out:      &testutil.SafeBuffer{},
	}
	testutil.WriteTree(t, f.bids, map[string]string{
		"dataset_description.json":                           `{"Name": "Rest"}`,
		"sub-01/ses-1/func/sub-01_ses-1_task-rest_bold.json": `{"RepetitionTime": 0.8}`,
		"sub-02/ses-1/func/sub-02_ses-1_task-rest_bold.json": `{"RepetitionTime": 0.8}`,
	})
	testutil.WriteGzip(t, filepath.Join(f.fmriprep, boldRel), []byte("bold volume"))
	testutil.WriteGzip(t, filepath.Join(f.fmriprep, anatRel), []byte("anat volume"))
	require.NoError(t, os.MkdirAll(filepath.Join(f.fmriprep, "sub-02", "anat"), 0o755))

	f.conn = testutil.WriteExecutable(t, filepath.Join(root, "bin"), "conn", connScript)
	f.ctx, f.logs = testutil.LoggerContext()
	return f
}

func (f *fixture) options() Options {
	return Options{
		ProjectDir:  f.project,
		FMRIPrepDir: f.fmriprep,
		BIDSDir:     f.bids,
	}
}

func (f *fixture) pipeline(opts Options) *Pipeline {
	p := New(opts, f.out)
	p.lookPath = func(name string) (string, error) {
		if name == "conn" {
			return f.conn, nil
		}
		return "", exec.ErrNotFound
	}
	p.readVolume = func(string) ([]int, error) { return []int{91, 109, 91, 200}, nil }
	return p
}

func statuses(r *Report) []StepStatus {
	out := make([]StepStatus, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Status
	}
	return out
}

const echoConn = `
	echo "ok $(basename "$2")"
`

func TestRun_AllStepsSucceed(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	f := newFixture(t, echoConn)

	// --- Act ---
	report, err := f.pipeline(f.options()).Run(f.ctx)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, []StepStatus{StatusCompleted, StatusCompleted, StatusCompleted, StatusCompleted}, statuses(report))
	require.Equal(t, f.conn, report.Launcher.Command)

	setup := testutil.ReadFile(t, filepath.Join(f.project, "batch_conn_01_setup.m"))
	require.Contains(t, setup, "PROJECT_DIR         = '"+f.project+"';")
	require.Contains(t, setup, "BIDS_DIR            = '"+f.bids+"';")
	require.Contains(t, setup, "NSUBJECTS           = 2;")
	require.Contains(t, setup, "REPETITION_TIME     = 0.8;")

	smooth := testutil.ReadFile(t, filepath.Join(f.project, "batch_conn_03_smooth.m"))
	require.Contains(t, smooth, "VOLUME_SMOOTHING_FWHM    = 8;")
	denoise := testutil.ReadFile(t, filepath.Join(f.project, "batch_conn_04_denoise.m"))
	require.Contains(t, denoise, "GENERATE_QA_PLOTS = true;")

	out := f.out.String()
	require.Contains(t, out, "ok batch_conn_01_setup.m")
	require.Contains(t, out, "ok batch_conn_04_denoise.m")
	require.Contains(t, out, "PIPELINE COMPLETED SUCCESSFULLY")
	require.Contains(t, f.logs.String(), "Step 4 COMPLETED")

	plog := testutil.ReadFile(t, filepath.Join(f.project, LogFileName))
	require.Contains(t, plog, "Pipeline run started")
	require.Contains(t, plog, "(succeeded)")
	require.NotContains(t, plog, "[FAILED]")
}

func TestRun_SkipFlagsAreIndependent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echoConn)
	opts := f.options()
	opts.Skip = map[string]bool{StepSetup: true, StepSmooth: true}

	report, err := f.pipeline(opts).Run(f.ctx)

	require.NoError(t, err)
	require.Equal(t, []StepStatus{StatusSkipped, StatusCompleted, StatusSkipped, StatusCompleted}, statuses(report))
	require.NoFileExists(t, filepath.Join(f.project, "batch_conn_01_setup.m"))
	require.FileExists(t, filepath.Join(f.project, "batch_conn_02_import.m"))
	require.NoFileExists(t, filepath.Join(f.project, "batch_conn_03_smooth.m"))
}

func TestRun_ConfigFileDisablesSmoothingAndQA(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echoConn)
	cfgPath := filepath.Join(f.root, "pipeline.hcl")
	testutil.WriteTree(t, f.root, map[string]string{
		"pipeline.hcl": testutil.Unindent(`
			smoothing {
			  enabled = false
			  fwhm    = 4
			}
			denoising {
			  generate_qa = false
			}
		`),
	})
	opts := f.options()
	opts.ConfigPath = cfgPath

	report, err := f.pipeline(opts).Run(f.ctx)

	require.NoError(t, err)
	require.Equal(t, StatusSkipped, report.Steps[2].Status)
	denoise := testutil.ReadFile(t, filepath.Join(f.project, "batch_conn_04_denoise.m"))
	require.Contains(t, denoise, "GENERATE_QA_PLOTS = false;")
	require.Contains(t, f.out.String(), "8 mm", "a disabled smoothing block does not override fwhm")
}

func TestRun_MissingConfigFileIsIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echoConn)
	opts := f.options()
	opts.ConfigPath = filepath.Join(f.root, "absent.json")
	opts.FWHM = 6

	_, err := f.pipeline(opts).Run(f.ctx)

	require.NoError(t, err)
	require.Contains(t, f.logs.String(), "Pipeline config not found")
	smooth := testutil.ReadFile(t, filepath.Join(f.project, "batch_conn_03_smooth.m"))
	require.Contains(t, smooth, "VOLUME_SMOOTHING_FWHM    = 6;")
}

func TestRun_FailureMarkerWritesDiagnostics(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	f := newFixture(t, `
		case "$2" in
		  *import*)
		    echo "Subject 2 Session 1"
		    echo "Subject 1 Session 1"
		    echo "ERROR DESCRIPTION: unable to read volume"
		    ;;
		  *) echo "ok" ;;
		esac
	`)
	testutil.WriteTree(t, f.project, map[string]string{
		"conn_project/logfile.txt": "conn says hello\n",
	})

	// --- Act ---
	report, err := f.pipeline(f.options()).Run(f.ctx)

	// --- Assert ---
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, 2, stepErr.Number)
	require.Equal(t, `output contains "ERROR"`, stepErr.Reason)
	require.Equal(t, []StepStatus{StatusCompleted, StatusFailed}, statuses(report))
	require.NoFileExists(t, filepath.Join(f.project, "batch_conn_03_smooth.m"))
	require.Contains(t, f.logs.String(), "Step 2 FAILED")

	plog := testutil.ReadFile(t, filepath.Join(f.project, LogFileName))
	require.Contains(t, plog, "[FAILED] Step 2: Import fMRIprep Data")
	require.Contains(t, plog, "Command: "+f.conn+" batch ")
	require.Contains(t, plog, "ERROR DESCRIPTION: unable to read volume")
	require.Contains(t, plog, "--- CONN project logs ---\n\n[logfile.txt]\nconn says hello\n")
	require.NotContains(t, plog, "[statusfile.open]")
	require.Contains(t, plog, "--- Subject/session diagnostics ---")
	require.Contains(t, plog, "Subject index: 1\n")
	require.Contains(t, plog, "Session label: ses-1\n")
	require.Contains(t, plog, "[NIfTI read check]\n  OK: "+filepath.Join(f.fmriprep, boldRel)+" shape=[91 109 91 200]")
	require.Contains(t, plog, "(failed: step 2 (Import fMRIprep Data) failed")
}

func TestRun_NonZeroExit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, `
		echo "segfault"
		exit 3
	`)

	report, err := f.pipeline(f.options()).Run(f.ctx)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, 1, stepErr.Number)
	require.Equal(t, "exit code 3", stepErr.Reason)
	require.Equal(t, 3, stepErr.Result.ExitCode)
	require.Len(t, report.Steps, 1)
	require.NotContains(t, testutil.ReadFile(t, filepath.Join(f.project, LogFileName)), "Subject/session diagnostics")
}

func TestRun_InvalidPathsReportsAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echoConn)
	opts := f.options()
	opts.FMRIPrepDir = filepath.Join(f.root, "no-fmriprep")
	opts.BIDSDir = filepath.Join(f.root, "no-bids")

	_, err := f.pipeline(opts).Run(f.ctx)

	require.ErrorIs(t, err, ErrInvalidPaths)
	require.Contains(t, err.Error(), "fMRIprep directory not found")
	require.Contains(t, err.Error(), "BIDS directory not found")
	require.DirExists(t, f.project, "project directory is created before inputs are checked")
}

func TestRun_CorruptDerivativesAbortImport(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echoConn)
	testutil.WriteTree(t, f.fmriprep, map[string]string{
		"sub-02/anat/sub-02_T1w.nii.gz": "not gzip at all",
	})

	report, err := f.pipeline(f.options()).Run(f.ctx)

	require.ErrorIs(t, err, ErrCorruptDerivatives)
	require.Equal(t, []StepStatus{StatusCompleted, StatusFailed}, statuses(report))
	require.NoFileExists(t, filepath.Join(f.project, "batch_conn_02_import.m"))
	plog := testutil.ReadFile(t, filepath.Join(f.project, LogFileName))
	require.Contains(t, plog, "Derivative validation failed:")
	require.Contains(t, plog, filepath.Join(f.fmriprep, "sub-02/anat/sub-02_T1w.nii.gz"))
}

func TestRun_RunnerNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echoConn)
	p := f.pipeline(f.options())
	p.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	_, err := p.Run(f.ctx)

	require.True(t, errors.Is(err, ErrRunnerNotFound))
}

func TestRun_MissingTRFallsBackToDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echoConn)
	for _, sub := range []string{"sub-01", "sub-02"} {
		require.NoError(t, os.Remove(filepath.Join(f.bids, sub, "ses-1", "func", sub+"_ses-1_task-rest_bold.json")))
	}
	opts := f.options()
	opts.Skip = map[string]bool{StepImport: true, StepSmooth: true, StepDenoise: true}

	_, err := f.pipeline(opts).Run(f.ctx)

	require.NoError(t, err)
	setup := testutil.ReadFile(t, filepath.Join(f.project, "batch_conn_01_setup.m"))
	require.Contains(t, setup, "NSUBJECTS           = 2;")
	require.Contains(t, setup, "REPETITION_TIME     = 2;")
	require.Contains(t, f.logs.String(), "RepetitionTime not found")
}

func TestResolve_CleansLocationOptions(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	f := newFixture(t, echoConn)
	opts := f.options()
	opts.InstallDir = "conn/../conn/install"
	opts.ConfigPath = "configs/./absent.json"
	opts.TemplatesDir = "templates/"
	wd, err := os.Getwd()
	require.NoError(t, err)

	// --- Act ---
	s, err := f.pipeline(opts).resolve(f.ctx)

	// --- Assert ---
	require.NoError(t, err)
	require.Equal(t, filepath.Join(wd, "conn", "install"), s.installDir)
	require.Equal(t, filepath.Join(wd, "templates"), s.templates)
	require.Contains(t, f.logs.String(), filepath.Join(wd, "configs", "absent.json"))
}

func TestRun_NegativeFWHM(t *testing.T) {
	t.Parallel()

	f := newFixture(t, echoConn)
	opts := f.options()
	opts.FWHM = -4

	_, err := f.pipeline(opts).Run(f.ctx)

	require.ErrorIs(t, err, ErrInvalidFWHM)
	require.NoFileExists(t, filepath.Join(f.project, "batch_conn_01_setup.m"))
}
