package map_ids

import (
	"context"
	"fmt"
	"io"

	"github.com/vk/conntool/internal/connids"
	"github.com/vk/conntool/internal/ctxlog"
	"github.com/vk/conntool/internal/registry"
)

// Name is the tool name.
const Name = "map-ids"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the map-ids tool.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTool(&registry.Tool{
		Name:        Name,
		Description: "Add CONN subject numbers to participants.tsv.",
		Params: []registry.Param{
			{Name: "conn", Label: "CONN project (.mat)", Kind: registry.KindPath, Required: true},
			{Name: "bids", Label: "BIDS directory", Kind: registry.KindPath, Required: true},
		},
		Run: RunMapIDs,
	})
}

// RunMapIDs writes participants_with_conn.tsv next to the project file.
func RunMapIDs(ctx context.Context, p registry.Params, out io.Writer) error {
	res, err := connids.Map(ctx, p.String("conn"), p.String("bids"))
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info(fmt.Sprintf("Mapped %d participants, wrote %d rows.", res.Mappings, res.Rows), "output", res.OutputFile)
	return nil
}
