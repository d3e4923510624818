package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/conntool/internal/bids"
	"github.com/vk/conntool/internal/console"
	"github.com/vk/conntool/internal/ctxlog"
	"github.com/vk/conntool/internal/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const stepRule = "======================================================================"

// stepExecutor renders and runs single catalog steps.
type stepExecutor struct {
	out        io.Writer
	settings   settings
	launcher   Launcher
	templates  fs.FS
	validator  Validator
	readVolume VolumeReader
	log        runLog
}

// run executes step and returns the path of the rendered script.
func (e stepExecutor) run(ctx context.Context, step *Step) (script string, err error) {
	logger := ctxlog.FromContext(ctx).With("step", step.Number)
	ctx = ctxlog.WithLogger(ctx, logger)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.Int("conn.step.number", step.Number),
		attribute.String("conn.step.title", step.Title),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger.Info(fmt.Sprintf("Step %d: %s", step.Number, step.Title))
	logger.Info(stepRule)

	if step.ValidateDerivatives {
		if err := e.validateDerivatives(ctx, step); err != nil {
			return "", err
		}
	}

	content, err := step.Render(e.templates, e.settings.vars)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to create MATLAB script: %v", err))
		return "", err
	}
	script = filepath.Join(e.settings.vars.ProjectDir, step.Output)
	if err := os.WriteFile(script, []byte(content), 0o644); err != nil {
		logger.Error(fmt.Sprintf("Failed to create MATLAB script: %v", err))
		return "", fmt.Errorf("write %s: %w", script, err)
	}

	spec := e.launcher.Spec(script)
	spec.Dir = e.settings.vars.ProjectDir
	res, runErr := process.Run(ctx, spec, func(line string) {
		fmt.Fprintln(e.out, line)
	})
	if runErr != nil {
		if res != nil {
			e.recordFailure(step, res, "interrupted")
		}
		logger.Error(fmt.Sprintf("Step %d failed: %v", step.Number, runErr))
		return script, runErr
	}
	span.SetAttributes(attribute.Int("conn.step.exit_code", res.ExitCode))

	if reason, failed := e.failureReason(res); failed {
		logger.Error(fmt.Sprintf("Step %d FAILED", step.Number))
		e.recordFailure(step, res, reason)
		return script, &StepError{Number: step.Number, Title: step.Title, Reason: reason, Result: res}
	}

	logger.Log(ctx, console.LevelSuccess, fmt.Sprintf("Step %d COMPLETED", step.Number))
	return script, nil
}

func (e stepExecutor) failureReason(res *process.Result) (string, bool) {
	if res.ExitCode != 0 {
		return fmt.Sprintf("exit code %d", res.ExitCode), true
	}
	if marker, ok := res.ContainsAny(e.settings.markers); ok {
		return fmt.Sprintf("output contains %q", marker), true
	}
	return "", false
}

// recordFailure appends the failure report of step to the pipeline log.
func (e stepExecutor) recordFailure(step *Step, res *process.Result, reason string) {
	e.log.append(func(w io.Writer) {
		fmt.Fprintf(w, "\n[FAILED] Step %d: %s\n", step.Number, step.Title)
		fmt.Fprintf(w, "Command: %s\n", res.Command)
		fmt.Fprintf(w, "Reason: %s\n", reason)
		fmt.Fprint(w, res.Output)
		writeProjectLogs(w, e.settings.vars.ProjectDir)
		if step.Diagnostics {
			diagnostics{
				fmriprepDir: e.settings.vars.FMRIPrepDir,
				sessions:    e.settings.sessions,
				readVolume:  e.readVolume,
			}.write(w, res.Output)
		}
	})
}

func (e stepExecutor) validateDerivatives(ctx context.Context, step *Step) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Validating fMRIprep derivative files...")

	files, err := bids.DerivativeFiles(e.settings.vars.FMRIPrepDir)
	if err != nil {
		return err
	}
	corrupt, err := e.validator.Check(ctx, files)
	if err != nil {
		return err
	}
	if len(corrupt) > 0 {
		logger.Error("Detected corrupt derivative files. Regenerate them before continuing.")
		for _, c := range corrupt {
			logger.Error(fmt.Sprintf("%s: %s", c.Path, c.Detail))
		}
		e.log.append(func(w io.Writer) {
			fmt.Fprintf(w, "\n[FAILED] Step %d: %s\n", step.Number, step.Title)
			fmt.Fprint(w, "Derivative validation failed:\n")
			for _, c := range corrupt {
				fmt.Fprintf(w, "  %s: %s\n", c.Path, c.Detail)
			}
		})
		return fmt.Errorf("%w: %d file(s)", ErrCorruptDerivatives, len(corrupt))
	}

	logger.Log(ctx, console.LevelSuccess, fmt.Sprintf("Validated fMRIprep derivatives (BOLD + structural files, %d checked)", len(files)))
	return nil
}

// runLog appends records to the pipeline log file. Write failures are
// logged and otherwise ignored.
type runLog struct {
	path string
}

func (l runLog) append(fn func(w io.Writer)) {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		ctxlog.FromContext(context.Background()).Warn("Cannot write pipeline log.", "path", l.path, "error", err)
		return
	}
	defer f.Close()

	var b strings.Builder
	fn(&b)
	if _, err := io.WriteString(f, b.String()); err != nil {
		ctxlog.FromContext(context.Background()).Warn("Cannot write pipeline log.", "path", l.path, "error", err)
	}
}

func (l runLog) started(vars Variables) {
	l.append(func(w io.Writer) {
		fmt.Fprintf(w, "\n=== Pipeline run started %s ===\n", time.Now().Format(time.RFC3339))
		fmt.Fprintf(w, "Project: %s\nfMRIprep: %s\nBIDS: %s\nFWHM: %d\nGenerate QA: %t\n",
			vars.ProjectDir, vars.FMRIPrepDir, vars.BIDSDir, vars.FWHM, vars.GenerateQA)
	})
}

func (l runLog) finished(err error) {
	l.append(func(w io.Writer) {
		status := "succeeded"
		if err != nil {
			status = "failed: " + err.Error()
		}
		fmt.Fprintf(w, "=== Pipeline run finished %s (%s) ===\n", time.Now().Format(time.RFC3339), status)
	})
}
