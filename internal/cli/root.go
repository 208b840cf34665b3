// Package cli is the querygate command-line front end: it starts the
// gateway, sends calls to a running one, and inspects or repairs the audit
// log.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/querygate/internal/auditlog"
	"github.com/roach88/querygate/internal/config"
	"github.com/roach88/querygate/internal/validate"
)

// Version is stamped at build time.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	LogFile string
	URL     string

	// Utility flags. At most one may be set, and never with a call.
	ShowLog   string
	VerifyLog bool
	RepairLog bool
	Test      bool

	// Call flags.
	Intent   string
	Data     string
	DataFile string
	SQL      string
	Limit    int

	// Resolved in PersistentPreRunE.
	Config *config.Config
	Logger zerolog.Logger

	// HTTPClient overrides the client used to reach the gateway.
	HTTPClient *http.Client
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

var utilityFlags = []string{"show-log", "verify-log", "repair-log", "test"}

var rootLong = fmt.Sprintf(`querygate is a read-only SQL gateway with an append-only audit log.

Every call is validated (a single SELECT statement), run with a row limit,
and recorded in the audit log together with an optional intent. Statements
containing any of these keywords are refused:
  %s

Calling the gateway:
  querygate POST /query --sql "SELECT line_id, AVG(oee) FROM mes_data GROUP BY line_id" \
      --intent "compare OEE across lines"
  querygate POST /query --data-file request.json
  echo '{"sql": "SELECT 1"}' | querygate POST /query --data-file -

Shell quoting: inline JSON passed with --data must be wrapped in single
quotes, and any single quote inside the SQL breaks the shell string:
  querygate POST /query --data '{"sql": "SELECT * FROM t WHERE s = 'x'"}'   # broken
Prefer --sql (the JSON body is built for you) or --data-file.

Audit log utilities:
  querygate --show-log <id>     print one entry in full
  querygate --verify-log        check the log; exit 1 when it has problems
  querygate --repair-log        make the log a valid array again (backs up first)
  querygate --test              check that the gateway answers /health`,
	strings.Join(validate.ForbiddenKeywords(), " "))

// NewRootCommand creates the root command for the querygate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "querygate [METHOD ENDPOINT]",
		Short: "querygate - read-only SQL gateway with an audit log",
		Long:  rootLong,
		Args:  rootArgs(opts),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd.Context(), opts, args, cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "audit log path (default from QUERYGATE_AUDIT__PATH)")
	cmd.PersistentFlags().StringVar(&opts.URL, "url", "", "gateway base URL (default from QUERYGATE_CLIENT__URL)")

	// Utility flags
	cmd.Flags().StringVar(&opts.ShowLog, "show-log", "", "print the full audit log entry with this id")
	cmd.Flags().BoolVar(&opts.VerifyLog, "verify-log", false, "verify the audit log")
	cmd.Flags().BoolVar(&opts.RepairLog, "repair-log", false, "repair the audit log")
	cmd.Flags().BoolVar(&opts.Test, "test", false, "check that the gateway is reachable")
	cmd.MarkFlagsMutuallyExclusive(utilityFlags...)

	// Call flags
	cmd.Flags().StringVar(&opts.Intent, "intent", "", "why this query is being run (max 140 characters)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "request body as inline JSON")
	cmd.Flags().StringVar(&opts.DataFile, "data-file", "", "read the request body from a file, or - for stdin")
	cmd.Flags().StringVar(&opts.SQL, "sql", "", "SQL to send as {\"sql\": ...}")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "row limit sent with --sql")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file", "sql")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewExtractPatternsCommand(opts))

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.Reported {
		pterm.Error.WithWriter(stderr).Println(err.Error())
	}
	return GetExitCode(err)
}

// rootArgs enforces the combinations cobra's flag groups cannot express:
// utility flags take no positional arguments, and a call needs exactly
// METHOD and ENDPOINT.
func rootArgs(opts *RootOptions) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		utility := ""
		for _, name := range utilityFlags {
			if cmd.Flags().Changed(name) {
				utility = name
			}
		}

		if utility != "" {
			if len(args) > 0 {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("--%s takes no positional arguments, got %q", utility, strings.Join(args, " ")))
			}
			for _, name := range []string{"intent", "data", "data-file", "sql", "limit"} {
				if cmd.Flags().Changed(name) {
					return NewExitError(ExitCommandError,
						fmt.Sprintf("--%s cannot be combined with --%s", name, utility))
				}
			}
			return nil
		}

		switch len(args) {
		case 0:
			return nil
		case 2:
		default:
			return NewExitError(ExitCommandError,
				fmt.Sprintf("expected METHOD ENDPOINT, got %d argument(s); see --help", len(args)))
		}

		if cmd.Flags().Changed("limit") && !cmd.Flags().Changed("sql") {
			return NewExitError(ExitCommandError, "--limit requires --sql")
		}
		if cmd.Flags().Changed("limit") && opts.Limit <= 0 {
			return NewExitError(ExitCommandError, "--limit must be positive")
		}
		return nil
	}
}

// resolve validates global flags and loads configuration.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "load configuration", err)
	}
	if o.LogFile != "" {
		cfg.Audit.Path = o.LogFile
	}
	if o.URL != "" {
		cfg.Client.URL = strings.TrimRight(o.URL, "/")
	}
	o.Config = cfg

	logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if o.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}
	o.Logger = logger
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) store() *auditlog.Store {
	return auditlog.NewStore(o.Config.Audit.Path, auditlog.Options{
		LockTimeout: o.Config.Audit.LockTimeout,
		Logger:      o.Logger,
	})
}

func (o *RootOptions) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: o.Config.Client.Timeout}
}

func runRoot(ctx context.Context, opts *RootOptions, args []string, cmd *cobra.Command) error {
	switch {
	case cmd.Flags().Changed("show-log"):
		return showLog(ctx, opts, cmd)
	case opts.VerifyLog:
		return verifyLog(ctx, opts, cmd)
	case opts.RepairLog:
		return repairLog(ctx, opts, cmd)
	case opts.Test:
		return testGateway(ctx, opts, cmd)
	case len(args) == 2:
		return runCall(ctx, opts, args[0], args[1], cmd)
	default:
		return cmd.Help()
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
