package pipeline

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/conntool/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

//go:embed steps.hcl templates/*.m
var assets embed.FS

const catalogFile = "steps.hcl"

// Step is one CONN batch step of the catalog.
type Step struct {
	Name                string          `hcl:"name,label"`
	Number              int             `hcl:"number"`
	Title               string          `hcl:"title"`
	Template            string          `hcl:"template"`
	Output              string          `hcl:"output"`
	ValidateDerivatives bool            `hcl:"validate_derivatives,optional"`
	Diagnostics         bool            `hcl:"diagnostics,optional"`
	Substitutions       []*Substitution `hcl:"substitute,block"`
}

// Substitution replaces a literal template line with the value of an
// expression evaluated against the run Variables.
type Substitution struct {
	Match   string         `hcl:"match"`
	Replace hcl.Expression `hcl:"replace"`
}

// catalogRoot decodes the top-level blocks of the catalog file.
type catalogRoot struct {
	Steps  []*Step  `hcl:"step,block"`
	Remain hcl.Body `hcl:",remain"`
}

// Variables are the values visible to substitute expressions.
type Variables struct {
	ProjectDir  string  `cty:"project_dir"`
	BIDSDir     string  `cty:"bids_dir"`
	FMRIPrepDir string  `cty:"fmriprep_dir"`
	NumSubjects int     `cty:"num_subjects"`
	TR          float64 `cty:"tr"`
	FWHM        int     `cty:"fwhm"`
	GenerateQA  bool    `cty:"generate_qa"`
}

// evalContext exposes every field of v as a top-level HCL variable.
func (v Variables) evalContext() (*hcl.EvalContext, error) {
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return nil, fmt.Errorf("unable to infer cty.Type: %w", err)
	}
	obj, err := gocty.ToCtyValue(v, ty)
	if err != nil {
		return nil, fmt.Errorf("convert variables: %w", err)
	}
	return &hcl.EvalContext{Variables: obj.AsValueMap()}, nil
}

// LoadCatalog parses the embedded step catalog.
func LoadCatalog(ctx context.Context) ([]*Step, error) {
	src, err := assets.ReadFile(catalogFile)
	if err != nil {
		return nil, fmt.Errorf("read step catalog: %w", err)
	}
	return parseCatalog(ctx, src, catalogFile)
}

func parseCatalog(ctx context.Context, src []byte, filename string) ([]*Step, error) {
	logger := ctxlog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse step catalog %s: %w", filename, diags)
	}

	var root catalogRoot
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode step catalog %s: %w", filename, diags)
	}

	seen := make(map[string]struct{}, len(root.Steps))
	for _, s := range root.Steps {
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("step catalog %s: duplicate step %q", filename, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	sort.SliceStable(root.Steps, func(i, j int) bool { return root.Steps[i].Number < root.Steps[j].Number })

	logger.Debug("Step catalog loaded.", "steps", len(root.Steps))
	return root.Steps, nil
}

// Templates returns the template file system: dir on disk when set,
// otherwise the embedded templates.
func Templates(dir string) (fs.FS, error) {
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("templates directory not found: %s", dir)
		}
		return os.DirFS(dir), nil
	}
	return fs.Sub(assets, "templates")
}

// Render reads the step template from templates and applies every
// substitution.
func (s *Step) Render(templates fs.FS, vars Variables) (string, error) {
	raw, err := fs.ReadFile(templates, s.Template)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", s.Template, err)
	}
	evalCtx, err := vars.evalContext()
	if err != nil {
		return "", err
	}

	content := string(raw)
	for _, sub := range s.Substitutions {
		replacement, err := evalString(sub.Replace, evalCtx)
		if err != nil {
			return "", fmt.Errorf("step %q substitution for %q: %w", s.Name, sub.Match, err)
		}
		content = strings.ReplaceAll(content, sub.Match, replacement)
	}
	return content, nil
}

func evalString(expr hcl.Expression, evalCtx *hcl.EvalContext) (string, error) {
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return "", diags
	}
	val, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", err
	}
	if val.IsNull() || !val.IsKnown() {
		return "", fmt.Errorf("expression evaluated to null")
	}
	return val.AsString(), nil
}
