package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/querygate/internal/intent"
	"github.com/roach88/querygate/internal/server"
)

// gatewayReply is the union of the gateway's success and error bodies.
type gatewayReply struct {
	Data         json.RawMessage `json:"data"`
	Preview      string          `json:"preview"`
	Truncated    bool            `json:"truncated"`
	ResponseSize int             `json:"response_size"`
	Status       int             `json:"status"`
	LogID        string          `json:"log_id"`
	Warnings     []string        `json:"warnings"`

	Message string `json:"message"`
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail"`
}

// callResult is what --format json prints for a call.
type callResult struct {
	Status       int             `json:"status"`
	Data         json.RawMessage `json:"data,omitempty"`
	Preview      string          `json:"preview,omitempty"`
	Truncated    bool            `json:"truncated"`
	ResponseSize int             `json:"response_size"`
}

var knownMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// runCall sends one request to the gateway and prints the display payload.
func runCall(ctx context.Context, opts *RootOptions, method, endpoint string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	method = strings.ToUpper(method)
	if !knownMethods[method] {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown HTTP method %q", method))
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	body, err := requestBody(opts, cmd.InOrStdin())
	if err != nil {
		return err
	}

	intentText, warning := intent.Normalize(opts.Intent)
	if warning != "" {
		out.Warn("%s", warning)
	}

	url := opts.Config.Client.URL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return WrapExitError(ExitCommandError, "build request", err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if intentText != nil {
		req.Header.Set(server.IntentHeader, *intentText)
	}

	out.VerboseLog("%s %s (%d byte body)", method, url, len(body))
	resp, err := opts.client().Do(req)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("gateway unreachable at %s", opts.Config.Client.URL), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapExitError(ExitCommandError, "read gateway response", err)
	}

	var reply gatewayReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		// Not one of ours; show it as is.
		reply = gatewayReply{Message: strings.TrimSpace(string(raw))}
	}
	if reply.Status == 0 {
		reply.Status = resp.StatusCode
	}

	for _, w := range reply.Warnings {
		out.Warn("%s", w)
	}

	if resp.StatusCode >= 400 {
		return reportCallError(out, resp.StatusCode, &reply)
	}

	if out.Format == "json" {
		if err := out.encode(CLIResponse{
			Status: "ok",
			Data: callResult{
				Status:       reply.Status,
				Data:         reply.Data,
				Preview:      reply.Preview,
				Truncated:    reply.Truncated,
				ResponseSize: reply.ResponseSize,
			},
			LogID:    reply.LogID,
			Warnings: reply.Warnings,
		}); err != nil {
			return WrapExitError(ExitCommandError, "write output", err)
		}
		return nil
	}

	w := cmd.OutOrStdout()
	switch {
	case reply.Truncated:
		fmt.Fprintln(w, reply.Preview)
	case len(reply.Data) > 0:
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, reply.Data, "", "  "); err != nil {
			fmt.Fprintln(w, string(reply.Data))
		} else {
			fmt.Fprintln(w, pretty.String())
		}
	default:
		fmt.Fprintln(w, string(raw))
	}
	if reply.LogID != "" {
		fmt.Fprintf(w, "\nLog entry: %s\n", reply.LogID)
	}
	return nil
}

// requestBody returns the body selected by --data, --data-file or --sql.
func requestBody(opts *RootOptions, stdin io.Reader) ([]byte, error) {
	switch {
	case opts.Data != "":
		return []byte(opts.Data), nil
	case opts.DataFile == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "read request body from stdin", err)
		}
		return b, nil
	case opts.DataFile != "":
		b, err := os.ReadFile(opts.DataFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "read --data-file", err)
		}
		return b, nil
	case opts.SQL != "":
		req := struct {
			SQL   string `json:"sql"`
			Limit int    `json:"limit,omitempty"`
		}{SQL: opts.SQL, Limit: opts.Limit}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(req); err != nil {
			return nil, WrapExitError(ExitCommandError, "encode --sql body", err)
		}
		return bytes.TrimSpace(buf.Bytes()), nil
	}
	return nil, nil
}

func reportCallError(out *OutputFormatter, status int, reply *gatewayReply) error {
	code := reply.Error
	if code == "" {
		code = http.StatusText(status)
	}
	message := reply.Message
	if reply.Reason != "" {
		message = fmt.Sprintf("%s (%s)", message, reply.Reason)
	}

	var details any
	if reply.Detail != "" {
		details = reply.Detail
	}
	if out.Format == "json" {
		if err := out.encode(CLIResponse{
			Status:   "error",
			Error:    &CLIError{Code: code, Message: message, Details: details},
			LogID:    reply.LogID,
			Warnings: reply.Warnings,
		}); err != nil {
			return WrapExitError(ExitCommandError, "write output", err)
		}
	} else {
		if err := out.Error(code, message, details); err != nil {
			return WrapExitError(ExitCommandError, "write output", err)
		}
		if reply.LogID != "" {
			fmt.Fprintf(out.Writer, "Log entry: %s\n", reply.LogID)
		}
	}

	return &ExitError{
		Code:     ExitFailure,
		Message:  fmt.Sprintf("gateway returned %d", status),
		Reported: true,
	}
}
