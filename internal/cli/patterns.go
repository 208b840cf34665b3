package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/querygate/internal/auditlog"
)

// ExtractPatternsOptions holds flags for the extract-patterns command.
type ExtractPatternsOptions struct {
	*RootOptions
	Output string
}

// NewExtractPatternsCommand creates the extract-patterns command.
func NewExtractPatternsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtractPatternsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract-patterns",
		Short: "Export successful queries and their intents as YAML",
		Long: `Export successful queries and their intents as YAML.

Only /query calls that returned 200 and carried an intent are included. The
output pairs each intent with the SQL that answered it.

Example:
  querygate extract-patterns -o query_patterns.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return extractPatterns(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func extractPatterns(ctx context.Context, opts *ExtractPatternsOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	store := opts.store()

	entries, err := store.ReadAll(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "read audit log", err)
	}

	report := auditlog.ExtractPatterns(entries, store.Path())

	if opts.Output == "" {
		if err := report.WriteYAML(cmd.OutOrStdout()); err != nil {
			return WrapExitError(ExitCommandError, "write patterns", err)
		}
		return nil
	}

	if err := writeFile(opts.Output, report.WriteYAML); err != nil {
		return WrapExitError(ExitCommandError, "write patterns", err)
	}
	fmt.Fprintf(out.GetErrWriter(), "Extracted %d queries to %s\n", report.Metadata.TotalQueries, opts.Output)
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
