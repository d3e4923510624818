package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Env carries defaults that can be supplied through the environment. Command
// line flags take precedence over every field.
type Env struct {
	InstallDir   string `env:"CONNTOOL_INSTALL_DIR" envDefault:"~/conn_standalone"`
	LogLevel     string `env:"CONNTOOL_LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"CONNTOOL_LOG_FORMAT" envDefault:"pretty"`
	GUIHost      string `env:"CONNTOOL_GUI_HOST" envDefault:"0.0.0.0"`
	GUIPort      int    `env:"CONNTOOL_GUI_PORT" envDefault:"5000"`
	StateDir     string `env:"CONNTOOL_STATE_DIR" envDefault:"~/.conntool"`
	OTelEndpoint string `env:"CONNTOOL_OTEL_ENDPOINT"`
}

// ParseEnv loads Env from the process environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	e.InstallDir = ExpandHome(e.InstallDir)
	e.StateDir = ExpandHome(e.StateDir)
	return e, nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// CleanPath returns the absolute form of path without trailing separators.
func CleanPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(ExpandHome(path))
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
