package conn_pipeline

import (
	"context"
	"io"

	"github.com/vk/conntool/internal/pipeline"
	"github.com/vk/conntool/internal/registry"
)

// Name is the tool name, shared by the CLI "run" command and the GUI.
const Name = "pipeline"

// Module implements the registry.Module interface for this package.
type Module struct {
	// InstallDir is the default CONN standalone location.
	InstallDir string
}

// Register registers the pipeline tool.
func (m *Module) Register(r *registry.Registry) {
	installDir := m.InstallDir
	if installDir == "" {
		installDir = "~/conn_standalone"
	}
	r.RegisterTool(&registry.Tool{
		Name:        Name,
		Description: "Run the CONN pipeline: project setup, import, smoothing and denoising.",
		Params: []registry.Param{
			{Name: "project-dir", Label: "Project directory", Kind: registry.KindPath, Required: true, Help: "Created when missing."},
			{Name: "fmriprep-dir", Label: "fMRIprep directory", Kind: registry.KindPath, Required: true},
			{Name: "bids-dir", Label: "BIDS directory", Kind: registry.KindPath, Required: true},
			{Name: "install-dir", Label: "CONN install directory", Kind: registry.KindPath, Default: installDir},
			{Name: "fwhm", Label: "Smoothing FWHM (mm)", Kind: registry.KindInt, Default: "8", Min: registry.AtLeast(1)},
			{Name: "config", Label: "Pipeline config file", Kind: registry.KindPath},
			{Name: "templates-dir", Label: "Batch templates directory", Kind: registry.KindPath},
			{Name: "no-qa", Label: "Skip QA plots", Kind: registry.KindBool},
			{Name: "skip-setup", Label: "Skip project setup", Kind: registry.KindBool},
			{Name: "skip-import", Label: "Skip import", Kind: registry.KindBool},
			{Name: "skip-smooth", Label: "Skip smoothing", Kind: registry.KindBool},
			{Name: "skip-denoise", Label: "Skip denoising", Kind: registry.KindBool},
		},
		Run: RunPipeline,
	})
}

// RunPipeline is the run function of the pipeline tool.
func RunPipeline(ctx context.Context, p registry.Params, out io.Writer) error {
	opts := pipeline.Options{
		ProjectDir:   p.String("project-dir"),
		FMRIPrepDir:  p.String("fmriprep-dir"),
		BIDSDir:      p.String("bids-dir"),
		InstallDir:   p.String("install-dir"),
		FWHM:         p.Int("fwhm"),
		NoQA:         p.Bool("no-qa"),
		ConfigPath:   p.String("config"),
		TemplatesDir: p.String("templates-dir"),
		Skip: map[string]bool{
			pipeline.StepSetup:   p.Bool("skip-setup"),
			pipeline.StepImport:  p.Bool("skip-import"),
			pipeline.StepSmooth:  p.Bool("skip-smooth"),
			pipeline.StepDenoise: p.Bool("skip-denoise"),
		},
	}
	_, err := pipeline.New(opts, out).Run(ctx)
	return err
}
