package app

import (
	"errors"
	"fmt"

	"github.com/vk/conntool/internal/registry"
)

// CommandGUI starts the browser GUI instead of running a tool.
const CommandGUI = "gui"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// Command is a registered tool name or CommandGUI.
	Command string
	Params  registry.Params

	LogFormat string
	LogLevel  string

	InstallDir   string
	StateDir     string
	OTelEndpoint string

	GUIHost   string
	GUIPort   int
	NoBrowser bool
}

// NewConfig validates cfg and returns a copy.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Command == "" {
		return nil, errors.New("Command is a required configuration field and cannot be empty")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "pretty", "text", "json":
	default:
		return nil, fmt.Errorf("invalid log-format %q: must be 'pretty', 'text' or 'json'", cfg.LogFormat)
	}
	if cfg.Params == nil {
		cfg.Params = registry.Params{}
	}
	return &cfg, nil
}
