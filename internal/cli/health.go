package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/roach88/querygate/internal/server"
)

// testGateway calls GET /health and reports whether the gateway answered.
func testGateway(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	base := opts.Config.Client.URL

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "build request", err)
	}

	resp, err := opts.client().Do(req)
	if err != nil {
		out.Error("unreachable", fmt.Sprintf("gateway at %s is unreachable", base), err.Error())
		return &ExitError{Code: ExitFailure, Message: "gateway unreachable", Err: err, Reported: true}
	}
	defer resp.Body.Close()

	var health server.HealthStatus
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&health) != nil {
		out.Error("unhealthy", fmt.Sprintf("gateway at %s answered %d", base, resp.StatusCode), nil)
		return &ExitError{Code: ExitFailure, Message: "gateway unhealthy", Reported: true}
	}

	if out.Format == "json" {
		return out.Success(health)
	}
	pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("gateway at %s is reachable (database: %s)", base, health.Database)
	if health.Database != "ok" {
		out.Warn("database is %s", health.Database)
	}
	return nil
}
