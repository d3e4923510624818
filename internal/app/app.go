package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/vk/conntool/internal/ctxlog"
	"github.com/vk/conntool/internal/gui"
	"github.com/vk/conntool/internal/jobstore"
	"github.com/vk/conntool/internal/registry"
	"github.com/vk/conntool/internal/telemetry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	level    slog.Level
	registry *registry.Registry
	config   *Config
}

// NewApp is the constructor for the main application. Command output goes
// to outW and logs to logW. Without explicit modules the core tool modules
// are registered.
func NewApp(outW, logW io.Writer, cfg *Config, modules ...registry.Module) *App {
	level := parseLevel(cfg.LogLevel)
	logger := newLogger(level, cfg.LogFormat, logW)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(cfg)
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	return &App{
		outW:     outW,
		logger:   logger,
		level:    level,
		registry: reg,
		config:   cfg,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", a.config.Command)

	shutdown, err := telemetry.Setup(ctx, a.config.OTelEndpoint)
	if err != nil {
		a.logger.Warn("Tracing disabled.", "endpoint", a.config.OTelEndpoint, "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			a.logger.Warn("Failed to flush traces.", "error", err)
		}
	}()

	if a.config.Command == CommandGUI {
		return a.runGUI(ctx)
	}
	return a.runTool(ctx)
}

func (a *App) runTool(ctx context.Context) error {
	tool, ok := a.registry.Tool(a.config.Command)
	if !ok {
		return fmt.Errorf("unknown command %q", a.config.Command)
	}
	params, err := tool.Validate(a.config.Params)
	if err != nil {
		return err
	}
	a.logger.Debug("Running tool.", "tool", tool.Name, "params", params)
	if err := tool.Run(ctx, params, a.outW); err != nil {
		return err
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) runGUI(ctx context.Context) error {
	store, err := jobstore.Open(ctx, filepath.Join(a.config.StateDir, jobstore.FileName))
	if err != nil {
		return fmt.Errorf("open job history: %w", err)
	}
	defer store.Close()

	server := gui.New(a.registry, store, a.logger, a.level)
	return server.Serve(ctx, gui.Options{
		Host:        a.config.GUIHost,
		Port:        a.config.GUIPort,
		OpenBrowser: !a.config.NoBrowser,
	})
}
