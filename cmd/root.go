package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sql-assist/internal/config"
	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/logging"
)

// Set at build time with -ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// NewRootCommand assembles the command tree
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "sql-assist",
		Usage: "Turn natural-language questions into schema-grounded SQL",
		Description: `sql-assist reads a schema description, retrieves the columns relevant to a
question, asks a text-generation service for a query and checks it against the
declared foreign-key relationships. Nothing runs against the database until the
proposed query is explicitly confirmed.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			AskCommand(),
			ServeCommand(),
			SchemaCommand(),
			ConfigCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "schema", Aliases: []string{"s"}, Usage: "schema description file (csv, json or yaml)"},
		&cli.StringFlag{Name: "driver", Usage: "database driver: duckdb, sqlite or postgres"},
		&cli.StringFlag{Name: "dsn", Usage: "database connection string or file path"},
		&cli.StringFlag{Name: "provider", Usage: "generation service: openai, anthropic or ollama"},
		&cli.StringFlag{Name: "model", Usage: "generation model name"},
		&cli.StringFlag{Name: "policy", Usage: "relationship policy: enforce, advisory or multi_table"},
		&cli.StringFlag{Name: "cache-dir", Usage: "embedding cache directory"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.BoolFlag{Name: "verbose", Usage: "shorthand for --log-level debug"},
	}
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCommand().Run(ctx, os.Args)
	if err != nil {
		printError(os.Stderr, err)
	}

	return err
}

// loadConfig resolves the configuration for cmd from file, environment and
// the flags set on cmd or any of its parents, then installs the global logger
func loadConfig(cmd *cli.Command, extra map[string]interface{}) (*config.Config, error) {
	overrides := map[string]interface{}{}

	for _, name := range []string{"schema", "driver", "dsn", "provider", "model", "policy", "cache-dir", "log-level"} {
		if cmd.IsSet(name) {
			overrides[name] = cmd.String(name)
		}
	}

	if cmd.Bool("verbose") {
		overrides["verbose"] = true
	}

	for k, v := range extra {
		overrides[k] = v
	}

	cfg, err := config.LoadConfigWithOverrides(overrides)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to load configuration")
	}

	cfg.ExpandAllPaths()

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create directories")
	}

	if err := logging.InitializeLogger(cfg.Logging); err != nil {
		logging.SetupFallbackLogger()
		logging.WithError(err).Warn("falling back to stderr logging")
	}

	return cfg, nil
}

// printError writes the user-facing message for err, the underlying detail
// when it differs, and any suggestions attached along the way
func printError(w io.Writer, err error) {
	msg := errors.UserMessage(err)
	fmt.Fprintf(w, "Error: %s\n", msg)

	if msg != err.Error() {
		fmt.Fprintf(w, "  %v\n", err)
	}

	var structErr *errors.Error
	if stderrors.As(err, &structErr) && len(structErr.Suggestions) > 0 {
		fmt.Fprintln(w, "\nSuggestions:")

		for _, s := range structErr.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}
