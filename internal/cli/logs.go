package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/roach88/querygate/internal/auditlog"
)

// showLog prints one entry with its full, untruncated response.
func showLog(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if opts.ShowLog == "" {
		return NewExitError(ExitCommandError, "--show-log requires an entry id")
	}

	entry, err := opts.store().Get(ctx, opts.ShowLog)
	switch {
	case errors.Is(err, auditlog.ErrEntryNotFound):
		out.Error("not_found", fmt.Sprintf("no entry with id %s in %s", opts.ShowLog, opts.Config.Audit.Path), nil)
		return &ExitError{Code: ExitFailure, Message: "entry not found", Err: err, Reported: true}
	case auditlog.IsCorruptError(err):
		out.Error("corrupt_log", "audit log is unreadable; run --repair-log", err.Error())
		return &ExitError{Code: ExitFailure, Message: "audit log is corrupt", Err: err, Reported: true}
	case err != nil:
		return WrapExitError(ExitCommandError, "read audit log", err)
	}

	if out.Format == "json" {
		return out.encode(CLIResponse{Status: "ok", Data: entry, LogID: entry.ID})
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(entry)
}

// verifyLog runs the integrity check. Exit 1 when anything is wrong.
func verifyLog(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	report, err := opts.store().Verify(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "verify audit log", err)
	}

	if out.Format == "json" {
		status := "ok"
		if !report.Valid() {
			status = "error"
		}
		if err := out.encode(CLIResponse{Status: status, Data: report}); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		if report.Valid() {
			pterm.Success.WithWriter(w).Printfln("%s is valid: %d entries", report.Path, report.Entries)
		} else {
			pterm.Error.WithWriter(w).Printfln("%s has %d problem(s) across %d entries", report.Path, len(report.Problems), report.Entries)
			for _, p := range report.Problems {
				fmt.Fprintf(w, "  - %s\n", p)
			}
		}
	}

	if !report.Valid() {
		return &ExitError{Code: ExitFailure, Message: "audit log verification failed", Reported: true}
	}
	return nil
}

// repairLog makes the log a valid array. Exit 0 once the repair completes.
func repairLog(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	report, err := opts.store().Repair(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "repair audit log", err)
	}

	if out.Format == "json" {
		return out.Success(report)
	}

	w := cmd.OutOrStdout()
	switch report.Action {
	case auditlog.RepairNone:
		pterm.Success.WithWriter(w).Printfln("%s is already valid (%d entries); nothing to do", report.Path, report.Entries)
	case auditlog.RepairCreated:
		pterm.Success.WithWriter(w).Printfln("%s did not exist; created an empty log", report.Path)
	case auditlog.RepairWrapped:
		pterm.Success.WithWriter(w).Printfln("%s held a single JSON value; wrapped it in an array", report.Path)
	case auditlog.RepairReinitialized:
		pterm.Success.WithWriter(w).Printfln("%s was unreadable; started a new empty log", report.Path)
	}
	if report.Backup != "" {
		fmt.Fprintf(w, "Original contents preserved at %s\n", report.Backup)
	}
	return nil
}
