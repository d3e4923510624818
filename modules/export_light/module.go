package export_light

import (
	"context"
	"fmt"
	"io"

	"github.com/vk/conntool/internal/ctxlog"
	"github.com/vk/conntool/internal/export"
	"github.com/vk/conntool/internal/registry"
)

// Name is the tool name.
const Name = "export"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the export tool.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTool(&registry.Tool{
		Name:        Name,
		Description: "Copy a CONN project without per-subject data and preprocessing files.",
		Params: []registry.Param{
			{Name: "source", Label: "CONN project (.mat)", Kind: registry.KindPath, Required: true},
			{Name: "dest", Label: "Destination directory", Kind: registry.KindPath, Required: true},
		},
		Run: RunExport,
	})
}

// RunExport performs a lightweight export.
func RunExport(ctx context.Context, p registry.Params, out io.Writer) error {
	res, err := export.Light(ctx, p.String("source"), p.String("dest"))
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info(fmt.Sprintf("Exported %d files (%d bytes), skipped %d.", res.Files, res.Bytes, res.Skipped), "destination", res.ProjectDir)
	return nil
}
