// Package pipeline drives the four CONN batch steps: project setup, import of
// fMRIprep derivatives, smoothing and denoising. Each step renders a MATLAB
// batch script from a template and runs it through CONN or MATLAB.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/conntool/internal/bids"
	"github.com/vk/conntool/internal/config"
	"github.com/vk/conntool/internal/console"
	"github.com/vk/conntool/internal/ctxlog"
	"github.com/vk/conntool/internal/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Step names, used as skip keys.
const (
	StepSetup   = "setup"
	StepImport  = "import"
	StepSmooth  = "smooth"
	StepDenoise = "denoise"
)

const (
	// LogFileName is the pipeline log written inside the project directory.
	LogFileName = "conn_pipeline.log"

	DefaultFWHM        = 8
	defaultNumSubjects = 30
	defaultTR          = 2.0

	tracerName = "github.com/vk/conntool/internal/pipeline"
)

// DefaultFailureMarkers flag a step as failed when present in its output.
var DefaultFailureMarkers = []string{"Error", "ERROR"}

var (
	// ErrInvalidPaths is returned when input directories are missing.
	ErrInvalidPaths = errors.New("invalid input paths")
	// ErrInvalidFWHM is returned for a negative smoothing kernel.
	ErrInvalidFWHM = errors.New("invalid smoothing FWHM")
)

// StepError reports a batch step that ran but failed.
type StepError struct {
	Number int
	Title  string
	Reason string
	Result *process.Result
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %s", e.Number, e.Title, e.Reason)
}

// Options configure a pipeline run.
type Options struct {
	ProjectDir   string
	FMRIPrepDir  string
	BIDSDir      string
	InstallDir   string
	// FWHM is the smoothing kernel in mm. Zero selects DefaultFWHM.
	FWHM         int
	NoQA         bool
	ConfigPath   string
	TemplatesDir string
	// Skip holds step names that must not run.
	Skip map[string]bool
}

// StepStatus is the outcome of one step.
type StepStatus string

const (
	StatusSkipped   StepStatus = "skipped"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
)

// StepOutcome records what happened to one catalog step.
type StepOutcome struct {
	Name   string
	Number int
	Title  string
	Status StepStatus
	Script string
}

// Report summarises a run.
type Report struct {
	ProjectDir string
	LogFile    string
	Launcher   Launcher
	Steps      []StepOutcome
}

// Pipeline runs the CONN batch steps for one project.
type Pipeline struct {
	opts       Options
	out        io.Writer
	lookPath   LookPathFunc
	readVolume VolumeReader
	validator  Validator
}

// New returns a pipeline that streams console output to out.
func New(opts Options, out io.Writer) *Pipeline {
	return &Pipeline{
		opts:       opts,
		out:        out,
		readVolume: ReadNIfTIShape,
	}
}

// settings are the resolved inputs of a run.
type settings struct {
	vars       Variables
	sessions   []string
	skip       map[string]bool
	markers    []string
	templates  string
	installDir string
	runner     *config.Runner
	logFile    string
}

// Run executes every step that is not skipped, stopping at the first
// failure.
func (p *Pipeline) Run(ctx context.Context) (report *Report, err error) {
	logger := ctxlog.FromContext(ctx)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	console.Banner(p.out, "CONN Modular Processing Pipeline", "Project Setup → Import → Smooth → Denoise")

	s, err := p.resolve(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("conn.project_dir", s.vars.ProjectDir))

	fmt.Fprintln(p.out)
	console.Heading(p.out, "Configuration:")
	console.KeyValues(p.out, [][2]string{
		{"Project directory", s.vars.ProjectDir},
		{"fMRIprep directory", s.vars.FMRIPrepDir},
		{"BIDS directory", s.vars.BIDSDir},
		{"CONN install dir", s.installDir},
		{"Smoothing FWHM", fmt.Sprintf("%d mm", s.vars.FWHM)},
		{"Generate QA", fmt.Sprintf("%t", s.vars.GenerateQA)},
		{"Log file", s.logFile},
	})
	fmt.Fprintln(p.out)

	if err := validatePaths(ctx, s.vars); err != nil {
		return nil, err
	}

	plog := runLog{path: s.logFile}
	plog.started(s.vars)
	defer func() { plog.finished(err) }()

	p.loadMetadata(ctx, &s)

	launcher, err := DetectLauncher(s.runner, s.installDir, p.lookPath)
	if err != nil {
		if errors.Is(err, ErrRunnerNotFound) {
			logger.Error(fmt.Sprintf("%s in PATH or %s", ErrRunnerNotFound, s.installDir))
		} else {
			logger.Error(err.Error())
		}
		return nil, err
	}
	logger.Log(ctx, console.LevelSuccess, fmt.Sprintf("Using %s: %s", launcher.Kind(), launcher.Command))
	fmt.Fprintln(p.out)

	steps, err := LoadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	templates, err := Templates(s.templates)
	if err != nil {
		return nil, err
	}

	report = &Report{ProjectDir: s.vars.ProjectDir, LogFile: s.logFile, Launcher: launcher}
	executor := stepExecutor{
		out:        p.out,
		settings:   s,
		launcher:   launcher,
		templates:  templates,
		validator:  p.validator,
		readVolume: p.readVolume,
		log:        plog,
	}
	for _, step := range steps {
		outcome := StepOutcome{Name: step.Name, Number: step.Number, Title: step.Title}
		if s.skip[step.Name] {
			outcome.Status = StatusSkipped
			logger.Info(fmt.Sprintf("Step %d: %s skipped.", step.Number, step.Title))
			report.Steps = append(report.Steps, outcome)
			continue
		}
		script, err := executor.run(ctx, step)
		outcome.Script = script
		if err != nil {
			outcome.Status = StatusFailed
			report.Steps = append(report.Steps, outcome)
			return report, err
		}
		outcome.Status = StatusCompleted
		report.Steps = append(report.Steps, outcome)
		fmt.Fprintln(p.out)
	}

	fmt.Fprintln(p.out)
	console.Banner(p.out, "PIPELINE COMPLETED SUCCESSFULLY")
	fmt.Fprintf(p.out, "\nProject directory: %s\nLog file: %s\n\n", s.vars.ProjectDir, s.logFile)
	return report, nil
}

// resolve merges flags with the optional pipeline config file.
func (p *Pipeline) resolve(ctx context.Context) (settings, error) {
	logger := ctxlog.FromContext(ctx)

	var locations [3]string
	for i, raw := range []string{p.opts.InstallDir, p.opts.ConfigPath, p.opts.TemplatesDir} {
		clean, err := config.CleanPath(raw)
		if err != nil {
			return settings{}, err
		}
		locations[i] = clean
	}
	installDir, configPath, templatesDir := locations[0], locations[1], locations[2]

	var cfg *config.Pipeline
	if configPath != "" {
		loaded, err := config.LoadPipeline(configPath)
		switch {
		case errors.Is(err, config.ErrPipelineNotFound):
			logger.Warn("Pipeline config not found, using flags only.", "path", configPath)
		case err != nil:
			return settings{}, err
		default:
			cfg = loaded
		}
	}

	fwhm := p.opts.FWHM
	switch {
	case fwhm < 0:
		return settings{}, fmt.Errorf("%w: %d mm", ErrInvalidFWHM, fwhm)
	case fwhm == 0:
		fwhm = DefaultFWHM
	}

	dirs := make([]string, 3)
	for i, raw := range []string{p.opts.ProjectDir, p.opts.FMRIPrepDir, p.opts.BIDSDir} {
		clean, err := config.CleanPath(raw)
		if err != nil {
			return settings{}, err
		}
		dirs[i] = clean
	}

	skip := make(map[string]bool, len(p.opts.Skip)+2)
	for name, v := range p.opts.Skip {
		skip[name] = v
	}
	if !cfg.SmoothingEnabled() {
		skip[StepSmooth] = true
	}
	if !cfg.DenoisingEnabled() {
		skip[StepDenoise] = true
	}

	s := settings{
		vars: Variables{
			ProjectDir:  dirs[0],
			FMRIPrepDir: dirs[1],
			BIDSDir:     dirs[2],
			NumSubjects: defaultNumSubjects,
			TR:          defaultTR,
			FWHM:        cfg.FWHM(fwhm),
			GenerateQA:  !p.opts.NoQA && cfg.GenerateQA(true),
		},
		skip:       skip,
		markers:    DefaultFailureMarkers,
		templates:  templatesDir,
		installDir: installDir,
		logFile:    filepath.Join(dirs[0], LogFileName),
	}
	if cfg != nil {
		s.runner = cfg.Runner
		if len(cfg.FailureMarkers) > 0 {
			s.markers = cfg.FailureMarkers
		}
		if s.templates == "" {
			s.templates = cfg.TemplatesDir
		}
	}
	return s, nil
}

// validatePaths creates the project directory and reports every missing
// input directory.
func validatePaths(ctx context.Context, vars Variables) error {
	logger := ctxlog.FromContext(ctx)

	if info, err := os.Stat(vars.ProjectDir); err != nil || !info.IsDir() {
		if err := os.MkdirAll(vars.ProjectDir, 0o755); err != nil {
			return fmt.Errorf("create project directory: %w", err)
		}
		logger.Info(fmt.Sprintf("Created project directory: %s", vars.ProjectDir))
	}

	var problems []string
	if info, err := os.Stat(vars.FMRIPrepDir); err != nil || !info.IsDir() {
		problems = append(problems, fmt.Sprintf("fMRIprep directory not found: %s", vars.FMRIPrepDir))
	}
	if info, err := os.Stat(vars.BIDSDir); err != nil || !info.IsDir() {
		problems = append(problems, fmt.Sprintf("BIDS directory not found: %s", vars.BIDSDir))
	}
	for _, msg := range problems {
		logger.Error(msg)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPaths, strings.Join(problems, "; "))
	}
	return nil
}

// loadMetadata fills subject count, TR and sessions from the BIDS dataset,
// keeping the defaults when it cannot be read.
func (p *Pipeline) loadMetadata(ctx context.Context, s *settings) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Extracting metadata from BIDS dataset...")

	meta, err := readMetadata(ctx, s.vars.BIDSDir)
	if err != nil {
		logger.Warn("Using default parameters (could not extract BIDS metadata)", "error", err)
		return
	}
	s.vars.NumSubjects = meta.NumSubjects
	s.sessions = meta.Sessions
	if meta.TR != nil {
		s.vars.TR = *meta.TR
	} else {
		logger.Warn(fmt.Sprintf("RepetitionTime not found, assuming %.1f seconds", defaultTR))
	}

	logger.Log(ctx, console.LevelSuccess, "✓ BIDS metadata extracted")
	fmt.Fprintf(p.out, "    Subjects:  %d\n", s.vars.NumSubjects)
	fmt.Fprintf(p.out, "    TR:        %.3f seconds\n", s.vars.TR)
	if len(s.sessions) > 0 {
		fmt.Fprintf(p.out, "    Sessions:  %s\n", strings.Join(s.sessions, ", "))
	}
	fmt.Fprintln(p.out)
}

func readMetadata(ctx context.Context, dir string) (*bids.Metadata, error) {
	ds, err := bids.Open(ctx, dir)
	if err != nil {
		return nil, err
	}
	return ds.Metadata()
}
