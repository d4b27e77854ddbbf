package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kyleking/sql-assist/internal/config"
	"github.com/kyleking/sql-assist/internal/engine"
	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/prompt"
)

func SchemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the declared tables and relationships",
		Description: `Load the schema description and print every table, column and foreign-key
relationship as it is shown to the generation service.

With --check, also report relationships that point at undeclared tables and,
when a database DSN is configured, declared tables the database does not have.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "check", Usage: "verify relationships and compare against the database"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			return runSchema(ctx, cfg, cmd.Bool("check"), os.Stdout)
		},
	}
}

func runSchema(ctx context.Context, cfg *config.Config, check bool, out io.Writer) error {
	model, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	rels, err := model.Relationships()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Schema: %s (%d tables, %d columns, %d relationships)\n\n",
		cfg.Schema.Path, len(model.Tables()), model.ColumnCount(), len(rels))
	fmt.Fprintln(out, prompt.FullContext(model, rels).Text())

	if !check {
		return nil
	}

	problems := 0

	fmt.Fprintln(out, "\nChecks:")

	for _, r := range model.DanglingRelationships(rels) {
		fmt.Fprintf(out, "  relationship %s references an undeclared table\n", r)
		problems++
	}

	if cfg.Engine.DSN != "" {
		missing, err := missingFromDatabase(ctx, cfg, model.TableNames())
		if err != nil {
			return err
		}

		for _, name := range missing {
			fmt.Fprintf(out, "  table %s is not present in the %s database\n", name, cfg.Engine.Driver)
			problems++
		}
	} else {
		fmt.Fprintln(out, "  no database configured, skipping table presence check")
	}

	if problems > 0 {
		return errors.Newf(errors.ErrTypeValidation, "schema check found %d problem(s)", problems)
	}

	fmt.Fprintln(out, "  ok")

	return nil
}

func missingFromDatabase(ctx context.Context, cfg *config.Config, declared []string) ([]string, error) {
	db, err := engine.Open(ctx, cfg.Engine.Driver, cfg.Engine.DSN)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	present, err := engine.ListTables(ctx, db, cfg.Engine.Driver)
	if err != nil {
		return nil, err
	}

	return engine.MissingTables(declared, present), nil
}
