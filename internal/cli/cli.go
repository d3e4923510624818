package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/conntool/internal/app"
	"github.com/vk/conntool/internal/config"
	"github.com/vk/conntool/internal/registry"
	"github.com/vk/conntool/modules/bids_info"
	"github.com/vk/conntool/modules/conn_pipeline"
	"github.com/vk/conntool/modules/export_light"
	"github.com/vk/conntool/modules/map_ids"
	"github.com/vk/conntool/modules/reorganize_data"
)

const programName = "conntool"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// command maps a subcommand to the tool it runs.
type command struct {
	name    string
	tool    string
	summary string
}

var commands = []command{
	{name: "run", tool: conn_pipeline.Name, summary: "Run the CONN pipeline: setup, import, smooth, denoise."},
	{name: bids_info.Name, tool: bids_info.Name, summary: "Print a summary of a BIDS dataset."},
	{name: map_ids.Name, tool: map_ids.Name, summary: "Map BIDS participant ids to CONN subject ids."},
	{name: reorganize_data.Name, tool: reorganize_data.Name, summary: "Normalise the anatomical layout of single-session fMRIprep subjects."},
	{name: export_light.Name, tool: export_light.Name, summary: "Copy a CONN project without preprocessing data."},
	{name: app.CommandGUI, tool: app.CommandGUI, summary: "Start the browser GUI."},
}

// shorthands are the single-letter aliases of tool parameters.
var shorthands = map[string]string{
	"project-dir":  "p",
	"fmriprep-dir": "f",
	"bids-dir":     "b",
	"install-dir":  "i",
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(output io.Writer) {
	fmt.Fprintf(output, `
CONN Tool - orchestrates the CONN toolbox over fMRIprep derivatives.

Usage:
  %s <command> [options] [ARGS]

Commands:
`, programName)
	for _, c := range commands {
		fmt.Fprintf(output, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(output, "\nRun '%s <command> -h' for the options of a command.\n", programName)
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	env, err := config.ParseEnv()
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	if len(args) == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		printUsage(output)
		return nil, true, nil
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		printUsage(output)
		return nil, true, nil
	}
	cmd, ok := lookupCommand(args[0])
	if !ok {
		printUsage(output)
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", args[0])}
	}

	cfg := app.Config{
		Command:      cmd.tool,
		InstallDir:   env.InstallDir,
		StateDir:     env.StateDir,
		OTelEndpoint: env.OTelEndpoint,
	}

	flagSet := flag.NewFlagSet(programName+" "+cmd.name, flag.ContinueOnError)
	flagSet.SetOutput(output)
	logLevelFlag := flagSet.String("log-level", env.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	logFormatFlag := flagSet.String("log-format", env.LogFormat, "Log output format. Options: 'pretty', 'text' or 'json'.")

	var tool *registry.Tool
	var collect func() (registry.Params, error)
	if cmd.tool == app.CommandGUI {
		flagSet.StringVar(&cfg.GUIHost, "host", env.GUIHost, "Interface to listen on.")
		flagSet.IntVar(&cfg.GUIPort, "port", env.GUIPort, "First port to try.")
		flagSet.BoolVar(&cfg.NoBrowser, "no-browser", false, "Do not open a browser window.")
		flagSet.StringVar(&cfg.StateDir, "state-dir", env.StateDir, "Directory holding the job history.")
		collect = func() (registry.Params, error) {
			if flagSet.NArg() > 0 {
				return nil, fmt.Errorf("unexpected argument %q", flagSet.Arg(0))
			}
			return registry.Params{}, nil
		}
	} else {
		tool, _ = app.NewRegistry(&cfg).Tool(cmd.tool)
		collect = bindToolFlags(flagSet, tool)
	}

	flagSet.Usage = func() {
		fmt.Fprintf(output, "\n%s\n\nUsage:\n  %s %s [options]%s\n\nOptions:\n", cmd.summary, programName, cmd.name, positionalHint(tool))
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.", "command", cmd.name)

	params, err := collect()
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if tool != nil {
		if _, err := tool.Validate(params); err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
	}
	cfg.Params = params
	cfg.LogLevel = strings.ToLower(*logLevelFlag)
	cfg.LogFormat = strings.ToLower(*logFormatFlag)
	if cfg.StateDir, err = config.CleanPath(cfg.StateDir); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	appConfig, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", appConfig)
	return appConfig, false, nil
}

// bindToolFlags declares one flag per tool parameter and returns a function
// that collects the values after parsing. Required path parameters that were
// not given as flags are filled from positional arguments in order.
func bindToolFlags(flagSet *flag.FlagSet, tool *registry.Tool) func() (registry.Params, error) {
	strs := make(map[string]*string)
	bools := make(map[string]*bool)

	for _, p := range tool.Params {
		usage := p.Label
		if p.Help != "" {
			usage += ". " + p.Help
		}
		if p.Required {
			usage += " (required)"
		}
		short := shorthands[p.Name]

		if p.Kind == registry.KindBool {
			v := new(bool)
			flagSet.BoolVar(v, p.Name, false, usage)
			if short != "" {
				flagSet.BoolVar(v, short, false, usage+" (shorthand)")
			}
			bools[p.Name] = v
			continue
		}
		v := new(string)
		flagSet.StringVar(v, p.Name, p.Default, usage)
		if short != "" {
			flagSet.StringVar(v, short, p.Default, usage+" (shorthand)")
		}
		strs[p.Name] = v
	}

	return func() (registry.Params, error) {
		params := registry.Params{}
		for name, v := range strs {
			if *v != "" {
				params[name] = *v
			}
		}
		for name, v := range bools {
			if *v {
				params[name] = "true"
			}
		}

		rest := flagSet.Args()
		for _, p := range tool.Params {
			if len(rest) == 0 {
				break
			}
			if p.Kind == registry.KindPath && p.Required && params[p.Name] == "" {
				params[p.Name] = rest[0]
				rest = rest[1:]
			}
		}
		if len(rest) > 0 {
			return nil, fmt.Errorf("unexpected argument %q", rest[0])
		}

		for _, p := range tool.Params {
			if p.Kind != registry.KindPath || params[p.Name] == "" {
				continue
			}
			clean, err := config.CleanPath(params[p.Name])
			if err != nil {
				return nil, err
			}
			params[p.Name] = clean
		}
		return params, nil
	}
}

func positionalHint(tool *registry.Tool) string {
	if tool == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range tool.Params {
		if p.Kind == registry.KindPath && p.Required {
			fmt.Fprintf(&b, " [%s]", strings.ToUpper(strings.ReplaceAll(p.Name, "-", "_")))
		}
	}
	return b.String()
}
