package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/germanamz/promptkit/pkg/engine"
)

// defaultDir holds the project configuration written by init.
const defaultDir = ".promptkit"

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"ask", "Send a prompt to an agent", cmdAsk},
	{"route", "Send a prompt to the best matching agent", cmdRoute},
	{"evaluate", "Run an evaluation agent and show every attempt", cmdEvaluate},
	{"qa", "Build a cross-device testing matrix from an analytics workbook", cmdQA},
	{"qa-history", "List recorded QA runs", cmdQAHistory},
	{"chat", "Chat interactively with a provider", cmdChat},
	{"models", "List the models installed in the local runtime", cmdModels},
	{"pull", "Download models into the local runtime", cmdPull},
	{"init", "Create a config file interactively", cmdInit},
	{"mcp", "Serve the agents as MCP tools over stdio", cmdMCP},
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	name, args := os.Args[1], os.Args[2:]

	switch name {
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	}

	cmd, ok := findCommand(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.run(ctx, args)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage(w io.Writer) {
	var sb strings.Builder
	sb.WriteString("Usage: promptkit <command> [flags] [args]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&sb, "  %-11s %s\n", c.name, c.summary)
	}
	sb.WriteString("\nRun 'promptkit <command> -h' for the flags of a command.\n")
	fmt.Fprint(w, sb.String())
}

// options are the flags shared by every command that builds an engine.
type options struct {
	config   string
	env      string
	logLevel string
	plain    bool
}

func newFlagSet(name, args, summary string) (*flag.FlagSet, *options) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: promptkit %s [flags] %s\n\n%s.\n\nFlags:\n", name, args, summary)
		fs.PrintDefaults()
	}

	o := &options{}
	fs.StringVar(&o.config, "config", "", "path to configuration file (default: "+defaultDir+"/config.yaml or promptkit.yaml)")
	fs.StringVar(&o.env, "env", ".env", "path to .env file (ignored if missing)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.BoolVar(&o.plain, "plain", false, "print answers as plain text instead of rendered markdown")

	return fs, o
}

// loadConfig resolves and reads the configuration. Without a config file the
// built-in default targets a local runtime.
func (o *options) loadConfig() (engine.Config, error) {
	if err := loadDotEnv(o.env); err != nil {
		return engine.Config{}, err
	}

	logger, err := newLogger(o.logLevel, os.Stderr)
	if err != nil {
		return engine.Config{}, err
	}

	cfg := engine.DefaultConfig()
	if path := resolveConfigPath(o.config, defaultDir); path != "" {
		cfg, err = engine.LoadConfig(path)
		if err != nil {
			return engine.Config{}, err
		}
	}

	cfg.Logger = logger

	return cfg, nil
}

// open loads the configuration and builds the engine. The caller closes it.
func (o *options) open(ctx context.Context) (*engine.Engine, engine.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, cfg, err
	}

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}

	return eng, cfg, nil
}

// render formats an answer for the terminal.
func (o *options) render(text string) string {
	if o.plain {
		return text
	}
	if mdRenderer == nil {
		initMarkdownRenderer(0)
	}
	return renderMarkdown(text)
}
