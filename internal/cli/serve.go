package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/querygate/internal/auditlog"
	"github.com/roach88/querygate/internal/executor"
	"github.com/roach88/querygate/internal/frame"
	"github.com/roach88/querygate/internal/gateway"
	"github.com/roach88/querygate/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr   string
	DB     string
	Driver string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Long: `Start the gateway HTTP server.

Settings come from QUERYGATE_* environment variables (and a .env file in the
working directory); flags override them.

Example:
  querygate serve --db mes_data.db --addr :8000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from QUERYGATE_SERVER__ADDR)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "database path or DSN (default from QUERYGATE_DATABASE__DSN)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "database driver: sqlite or postgres")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg := opts.Config
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.DB != "" {
		cfg.Database.DSN = opts.DB
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err)
	}
	logger := opts.Logger

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec, err := executor.Open(ctx, executor.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		QueryTimeout: cfg.Database.QueryTimeout,
		Logger:       logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "open database", err)
	}
	defer exec.Close()

	store := opts.store()
	svc := gateway.New(gateway.Deps{
		Executor:     exec,
		Framer:       frame.New(cfg.Query.DisplayThreshold, cfg.Query.PreviewBytes),
		Log:          store,
		Logger:       logger,
		DefaultLimit: cfg.Query.DefaultLimit,
		MaxLimit:     cfg.Query.MaxLimit,
	})

	srv := server.New(cfg.Server, server.Deps{
		Gateway: svc,
		DB:      exec,
		Logs:    store,
		Logger:  logger,
		Version: Version,
	})

	logger.Info().
		Str("driver", cfg.Database.Driver).
		Str("dsn", executor.MaskDSN(cfg.Database.DSN)).
		Str("audit_log", store.Path()).
		Str("version", Version).
		Msg("starting querygate")

	if err := srv.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "serve", err)
	}
	logger.Info().Msg("querygate stopped")
	return nil
}

// Compile-time check that the store satisfies what the gateway and server need.
var (
	_ gateway.Appender   = (*auditlog.Store)(nil)
	_ server.EntryReader = (*auditlog.Store)(nil)
)
