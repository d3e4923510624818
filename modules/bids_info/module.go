package bids_info

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/vk/conntool/internal/bids"
	"github.com/vk/conntool/internal/registry"
	"gopkg.in/yaml.v3"
)

// Name is the tool name.
const Name = "bids-info"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the bids-info tool.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTool(&registry.Tool{
		Name:        Name,
		Description: "Summarise a BIDS dataset: subjects, sessions, TR and functional runs.",
		Params: []registry.Param{
			{Name: "bids-dir", Label: "BIDS directory", Kind: registry.KindPath, Required: true},
			{Name: "format", Label: "Output format", Kind: registry.KindString, Default: "text", Choices: []string{"text", "json", "yaml"}},
		},
		Run: RunBIDSInfo,
	})
}

// RunBIDSInfo reads the dataset metadata and writes it to out.
func RunBIDSInfo(ctx context.Context, p registry.Params, out io.Writer) error {
	ds, err := bids.Open(ctx, p.String("bids-dir"))
	if err != nil {
		return err
	}
	meta, err := ds.Metadata()
	if err != nil {
		return err
	}
	return Write(out, meta, p.String("format"))
}

// Write encodes meta in the named format.
func Write(w io.Writer, meta *bids.Metadata, format string) error {
	switch format {
	case "", "text":
		bids.WriteSummary(w, meta)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(meta); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
