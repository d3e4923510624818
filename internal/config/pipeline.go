package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// ErrPipelineNotFound is returned when the pipeline file does not exist.
var ErrPipelineNotFound = errors.New("pipeline config not found")

// Pipeline is the optional pipeline configuration file.
type Pipeline struct {
	Smoothing      *Smoothing `hcl:"smoothing,block"`
	Denoising      *Denoising `hcl:"denoising,block"`
	Runner         *Runner    `hcl:"runner,block"`
	FailureMarkers []string   `hcl:"failure_markers,optional"`
	TemplatesDir   string     `hcl:"templates_dir,optional"`
	Remain         hcl.Body   `hcl:",remain"`
}

// Smoothing configures step 3.
type Smoothing struct {
	Enabled *bool    `hcl:"enabled,optional"`
	FWHM    *int     `hcl:"fwhm,optional"`
	Remain  hcl.Body `hcl:",remain"`
}

// Denoising configures step 4.
type Denoising struct {
	Enabled    *bool    `hcl:"enabled,optional"`
	GenerateQA *bool    `hcl:"generate_qa,optional"`
	Remain     hcl.Body `hcl:",remain"`
}

// Runner overrides CONN launcher detection. Args are placed before the
// generated batch script path.
type Runner struct {
	Command string   `hcl:"command"`
	Args    []string `hcl:"args,optional"`
}

// LoadPipeline decodes the pipeline file at path. Files ending in .hcl or
// .json use the matching syntax; other names are sniffed from their content.
func LoadPipeline(path string) (*Pipeline, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, path)
		}
		return nil, fmt.Errorf("read pipeline config %s: %w", path, err)
	}

	name := path
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl", ".json":
	default:
		if bytes.HasPrefix(bytes.TrimSpace(src), []byte("{")) {
			name = path + ".json"
		} else {
			name = path + ".hcl"
		}
	}

	var p Pipeline
	if err := hclsimple.Decode(name, src, nil, &p); err != nil {
		return nil, fmt.Errorf("decode pipeline config %s: %w", path, err)
	}
	if p.Runner != nil && strings.TrimSpace(p.Runner.Command) == "" {
		return nil, fmt.Errorf("pipeline config %s: runner.command must not be empty", path)
	}
	if p.Smoothing != nil && p.Smoothing.FWHM != nil && *p.Smoothing.FWHM <= 0 {
		return nil, fmt.Errorf("pipeline config %s: smoothing.fwhm must be positive, got %d", path, *p.Smoothing.FWHM)
	}
	return &p, nil
}

// FWHM returns the configured kernel size, or fallback when smoothing is
// not configured or disabled.
func (p *Pipeline) FWHM(fallback int) int {
	if p == nil || p.Smoothing == nil || p.Smoothing.FWHM == nil || !p.SmoothingEnabled() {
		return fallback
	}
	return *p.Smoothing.FWHM
}

// SmoothingEnabled reports whether step 3 should run. Absent means enabled.
func (p *Pipeline) SmoothingEnabled() bool {
	if p == nil || p.Smoothing == nil || p.Smoothing.Enabled == nil {
		return true
	}
	return *p.Smoothing.Enabled
}

// DenoisingEnabled reports whether step 4 should run. Absent means enabled.
func (p *Pipeline) DenoisingEnabled() bool {
	if p == nil || p.Denoising == nil || p.Denoising.Enabled == nil {
		return true
	}
	return *p.Denoising.Enabled
}

// GenerateQA returns the QA preference, or fallback when not configured.
func (p *Pipeline) GenerateQA(fallback bool) bool {
	if p == nil || p.Denoising == nil || p.Denoising.GenerateQA == nil {
		return fallback
	}
	return *p.Denoising.GenerateQA
}
