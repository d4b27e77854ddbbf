package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sql-assist/internal/config"
	"github.com/kyleking/sql-assist/internal/errors"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:        "config",
		Usage:       "Display the active configuration",
		Description: `Show the current active configuration including all settings from file, environment variables, and command-line flags. API keys are masked.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the raw configuration as JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			return runConfig(cfg, cmd.Bool("json"), os.Stdout)
		},
	}
}

func runConfig(cfg *config.Config, asJSON bool, out io.Writer) error {
	if cfg == nil {
		return errors.NewConfigError("failed to load configuration", "")
	}

	cfg = cfg.Redacted()

	if asJSON {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}

		fmt.Fprintln(out, string(data))

		return nil
	}

	fmt.Fprintln(out, "Active Configuration:")

	fmt.Fprintln(out, "\nSchema:")
	fmt.Fprintf(out, "  Path: %s\n", cfg.Schema.Path)

	if cfg.Schema.Format != "" {
		fmt.Fprintf(out, "  Format: %s\n", cfg.Schema.Format)
	}

	fmt.Fprintln(out, "\nRetrieval:")
	fmt.Fprintf(out, "  Enabled: %t\n", cfg.Retrieval.Enabled)
	fmt.Fprintf(out, "  Top K: %d\n", cfg.Retrieval.TopK)
	fmt.Fprintf(out, "  Workers: %d\n", cfg.Retrieval.Workers)

	fmt.Fprintln(out, "\nEmbedding:")
	fmt.Fprintf(out, "  Provider: %s\n", cfg.Embedding.Provider)

	if cfg.Embedding.Provider == "remote" {
		fmt.Fprintf(out, "  Model: %s\n", cfg.Embedding.Model)
		fmt.Fprintf(out, "  API Key: %s\n", displayOrUnset(cfg.Embedding.APIKey))
	}

	fmt.Fprintf(out, "  Dimensions: %d\n", cfg.Embedding.Dimensions)
	fmt.Fprintf(out, "  Cache Enabled: %t\n", cfg.Embedding.CacheEnabled)

	fmt.Fprintln(out, "\nLLM:")
	fmt.Fprintf(out, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(out, "  Model: %s\n", cfg.LLM.Model)
	fmt.Fprintf(out, "  API Key: %s\n", displayOrUnset(cfg.LLM.APIKey))

	if cfg.LLM.BaseURL != "" {
		fmt.Fprintf(out, "  Base URL: %s\n", cfg.LLM.BaseURL)
	}

	fmt.Fprintf(out, "  Timeout: %s\n", cfg.LLM.Timeout)
	fmt.Fprintf(out, "  Temperature: %g\n", cfg.LLM.Temperature)

	fmt.Fprintln(out, "\nDatabase:")
	fmt.Fprintf(out, "  Driver: %s\n", cfg.Engine.Driver)
	fmt.Fprintf(out, "  DSN: %s\n", displayOrUnset(cfg.Engine.DSN))
	fmt.Fprintf(out, "  Query Timeout: %s\n", cfg.Engine.QueryTimeout)
	fmt.Fprintf(out, "  Max Rows: %d\n", cfg.Engine.MaxRows)

	fmt.Fprintln(out, "\nValidation:")
	fmt.Fprintf(out, "  Policy: %s\n", cfg.Validation.Policy)
	fmt.Fprintf(out, "  Read Only: %t\n", cfg.Validation.ReadOnly)

	fmt.Fprintln(out, "\nCache:")
	fmt.Fprintf(out, "  Directory: %s\n", cfg.Cache.Directory)
	fmt.Fprintf(out, "  Max Size: %d MB\n", cfg.Cache.MaxSizeMB)
	fmt.Fprintf(out, "  TTL: %d hours\n", cfg.Cache.TTLHours)
	fmt.Fprintf(out, "  Cleanup Frequency: %s\n", cfg.Cache.CleanupFreq)

	fmt.Fprintln(out, "\nLogging:")
	fmt.Fprintf(out, "  Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(out, "  Output: %s\n", cfg.Logging.Output)

	if cfg.Logging.Output == "file" {
		fmt.Fprintf(out, "  File: %s\n", cfg.Logging.File)
	}

	fmt.Fprintln(out, "\nMetrics:")
	fmt.Fprintf(out, "  Enabled: %t\n", cfg.Metrics.Enabled)

	if cfg.Metrics.Enabled {
		fmt.Fprintf(out, "  Listen: %s\n", cfg.Metrics.Listen)
	}

	return nil
}

func displayOrUnset(value string) string {
	if value == "" {
		return "(not set)"
	}

	return value
}
