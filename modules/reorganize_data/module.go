package reorganize_data

import (
	"context"
	"fmt"
	"io"

	"github.com/vk/conntool/internal/ctxlog"
	"github.com/vk/conntool/internal/registry"
	"github.com/vk/conntool/internal/reorganize"
)

// Name is the tool name.
const Name = "reorganize"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the reorganize tool.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTool(&registry.Tool{
		Name:        Name,
		Description: "Normalise the anatomical layout of an fMRIprep derivatives folder for CONN.",
		Params: []registry.Param{
			{Name: "path", Label: "fMRIprep derivatives directory", Kind: registry.KindPath, Required: true},
		},
		Run: RunReorganize,
	})
}

// RunReorganize reorganizes the derivatives tree in place.
func RunReorganize(ctx context.Context, p registry.Params, out io.Writer) error {
	report, err := reorganize.Run(ctx, p.String("path"))
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx)
	for _, sub := range report.Standardized {
		logger.Info(fmt.Sprintf("Standardized %s", sub))
	}
	for _, path := range report.TransformsMoved {
		logger.Info(fmt.Sprintf("Moved transform to %s", path))
	}
	return nil
}
