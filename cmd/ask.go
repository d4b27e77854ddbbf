package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/formatter"
	"github.com/kyleking/sql-assist/internal/pipeline"
)

func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Propose a query for a question and run it once confirmed",
		ArgsUsage: "<question>",
		Description: `Retrieve the schema columns relevant to the question, generate a query and
check it against the declared relationships. The proposal is printed and only
executed after you answer yes, or immediately with --yes.

Examples:
  sql-assist ask "How many orders has each customer placed?"
  sql-assist ask --full-context --format csv "Which products were never ordered?"`,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "execute without asking for confirmation"},
			&cli.IntFlag{Name: "top-k", Aliases: []string{"k"}, Usage: "number of schema columns to retrieve"},
			&cli.BoolFlag{Name: "full-context", Usage: "send the whole schema instead of retrieved columns"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "table", Usage: "result format: table, json or csv"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return errors.New(errors.ErrTypeValidation, "a question is required").
					WithSuggestion(`Usage: sql-assist ask "How many orders has each customer placed?"`)
			}

			format, err := formatter.ParseFormat(cmd.String("format"))
			if err != nil {
				return errors.Wrap(err, errors.ErrTypeValidation, "invalid --format")
			}

			extra := map[string]interface{}{}
			if cmd.IsSet("top-k") {
				extra["top-k"] = int(cmd.Int("top-k"))
			}

			if cmd.Bool("full-context") {
				extra["full-context"] = true
			}

			cfg, err := loadConfig(cmd, extra)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			return runAsk(ctx, a.pipeline.NewSession(), strings.Join(cmd.Args().Slice(), " "), askOptions{
				Yes:     cmd.Bool("yes"),
				Format:  format,
				Spinner: true,
			}, os.Stdin, os.Stdout)
		},
	}
}

type askOptions struct {
	Yes     bool
	Format  formatter.OutputFormat
	Spinner bool
}

func runAsk(ctx context.Context, s *pipeline.Session, question string, opts askOptions, in io.Reader, out io.Writer) error {
	f := formatter.NewFormatter()

	stop := startSpinner(opts.Spinner, "Generating query...")
	proposal, err := s.Submit(ctx, question)
	stop()

	if err != nil {
		return err
	}

	fmt.Fprintln(out, f.FormatProposal(proposal))

	if proposal.Rejected() {
		return errors.New(errors.ErrTypeValidation, errors.MsgRelationshipFail).
			WithSuggestion("Rephrase the question, or rerun with --policy advisory to inspect the query anyway")
	}

	if !opts.Yes {
		ok, err := confirm(in, out, "\nExecute this query? [y/N] ")
		if err != nil {
			return err
		}

		if !ok {
			fmt.Fprintln(out, "Query not executed.")
			return nil
		}
	}

	stop = startSpinner(opts.Spinner, "Running query...")
	rs, err := s.Acknowledge(ctx)
	stop()

	if err != nil {
		return err
	}

	rendered, err := f.FormatResult(rs, opts.Format)
	if err != nil {
		return errors.Wrap(err, errors.ErrTypeInternal, "failed to format result")
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, rendered)

	return nil
}

// confirm reads one line from in; only "y" or "yes" count as consent and
// end of input counts as no
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprint(out, question)

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, errors.Wrap(err, errors.ErrTypeInternal, "failed to read input")
	}

	switch strings.TrimSpace(strings.ToLower(response)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// startSpinner shows progress on stderr while a blocking call runs and
// returns the function that stops it
func startSpinner(enabled bool, suffix string) func() {
	if !enabled {
		return func() {}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	s.Start()

	return s.Stop
}
