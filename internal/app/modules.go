package app

import (
	"github.com/vk/conntool/internal/registry"
	"github.com/vk/conntool/modules/bids_info"
	"github.com/vk/conntool/modules/conn_pipeline"
	"github.com/vk/conntool/modules/export_light"
	"github.com/vk/conntool/modules/map_ids"
	"github.com/vk/conntool/modules/reorganize_data"
)

// coreModules is the definitive list of all tool modules compiled into the
// conntool binary.
func coreModules(cfg *Config) []registry.Module {
	return []registry.Module{
		&conn_pipeline.Module{InstallDir: cfg.InstallDir},
		&bids_info.Module{},
		&map_ids.Module{},
		&reorganize_data.Module{},
		&export_light.Module{},
	}
}

// NewRegistry returns a registry holding the core tool modules, configured
// with cfg.
func NewRegistry(cfg *Config) *registry.Registry {
	reg := registry.New()
	for _, mod := range coreModules(cfg) {
		mod.Register(reg)
	}
	return reg
}
