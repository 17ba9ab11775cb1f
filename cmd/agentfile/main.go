package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/deepnoodle-ai/wonton/cli"

	"github.com/TisoneK/agentfile-sub000"
	"github.com/TisoneK/agentfile-sub000/config"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func main() {
	app := cli.New("agentfile").
		Description("Inspect and roll back agent workflow state").
		Version("0.1.0").
		GlobalFlags(
			cli.String("root", "r").
				Env(config.EnvRoot).
				Help("Project root holding the state directory (defaults to current directory)"),
			cli.String("config", "c").
				Help("Path to a config file (defaults to <root>/.agentfile/config.yaml)"),
			cli.String("log-level", "").
				Env(config.EnvLogLevel).
				Help("Log level to use (none, debug, info, warn, error)"),
			cli.String("log-format", "").
				Env(config.EnvLogFormat).
				Help("Log output format (text, json)"),
			cli.String("format", "").
				Env(config.EnvFormat).
				Help("State document format (json, yaml)"),
			cli.String("output", "o").
				Default(outputText).
				Help("Output format (text, json)"),
		)

	registerWorkflowsCommand(app)
	registerStatusCommand(app)
	registerWatchCommand(app)
	registerCheckpointCommands(app)
	registerRollbackCommand(app)
	registerReportCommand(app)

	if err := app.Execute(); err != nil {
		if cli.IsHelpRequested(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}

// globalFlags holds the flags shared by every command.
type globalFlags struct {
	root       string
	configPath string
	logLevel   string
	logFormat  string
	format     string
	output     string
}

func parseGlobalFlags(ctx *cli.Context) globalFlags {
	return globalFlags{
		root:       ctx.String("root"),
		configPath: ctx.String("config"),
		logLevel:   ctx.String("log-level"),
		logFormat:  ctx.String("log-format"),
		format:     ctx.String("format"),
		output:     ctx.String("output"),
	}
}

func (g globalFlags) json() bool {
	return strings.EqualFold(g.output, outputJSON)
}

// loadConfig resolves the effective configuration. Flags win over the
// environment, which wins over the config file.
func (g globalFlags) loadConfig(lookup config.LookupFunc) (*config.Config, error) {
	if g.output != "" && !strings.EqualFold(g.output, outputText) && !g.json() {
		return nil, fmt.Errorf("unknown output format %q", g.output)
	}
	env := func(key string) (string, bool) {
		if key == config.EnvRoot && g.root != "" {
			return g.root, true
		}
		return lookup(key)
	}
	cfg, err := config.LoadWithEnv(g.configPath, env)
	if err != nil {
		return nil, err
	}
	if g.root != "" {
		cfg.Root = g.root
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	if g.format != "" {
		cfg.Format = g.format
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openWorkspace(g globalFlags) (*agentfile.Workspace, error) {
	cfg, err := g.loadConfig(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	return agentfile.Open(cfg)
}

// withWorkspace opens the workspace for one command and closes it after.
func withWorkspace(ctx *cli.Context, fn func(ctx context.Context, g globalFlags, ws *agentfile.Workspace) error) error {
	g := parseGlobalFlags(ctx)
	ws, err := openWorkspace(g)
	if err != nil {
		return cli.Errorf("%v", err)
	}
	defer ws.Close()

	goCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(goCtx, g, ws); err != nil {
		return cli.Errorf("%v", err)
	}
	return nil
}

func requireWorkflowArg(ctx *cli.Context) (string, error) {
	if ctx.NArg() < 1 || strings.TrimSpace(ctx.Arg(0)) == "" {
		return "", cli.Errorf("a workflow id is required")
	}
	return ctx.Arg(0), nil
}
