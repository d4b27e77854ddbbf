package cmd

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sql-assist/internal/config"
	"github.com/kyleking/sql-assist/internal/logging"
	"github.com/kyleking/sql-assist/internal/mcpserver"
	"github.com/kyleking/sql-assist/internal/metrics"
)

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the question tools over MCP on stdio",
		Description: `Run an MCP server on stdin/stdout exposing submit_question, acknowledge_query
and describe_schema. The client owns a single session: a proposal is only
executed through acknowledge_query.

Logs always go to stderr or a file while serving, never to stdout.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "metrics", Usage: "serve prometheus metrics on this address, e.g. 127.0.0.1:9464"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			extra := map[string]interface{}{}
			if cmd.IsSet("metrics") {
				extra["metrics"] = cmd.String("metrics")
			}

			cfg, err := loadConfig(cmd, extra)
			if err != nil {
				return err
			}

			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	// stdout carries the protocol
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"

		if err := logging.InitializeLogger(cfg.Logging); err != nil {
			return err
		}
	}

	logger := logging.GetLogger()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Enabled {
		go func() {
			logger.Infof("serving metrics on %s", cfg.Metrics.Listen)

			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logger.ErrorWithErr("metrics server stopped", err)
			}
		}()
	}

	logger.Infof("serving MCP on stdio with %d tables", len(a.pipeline.Model().Tables()))

	return mcpserver.Run(ctx, a.pipeline, version)
}
