package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The engine rejected the request (expired, mismatch, denied, broadcast failed)
	ExitCommandError = 2 // Command error (bad flags, unreadable config, store unavailable)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	writeText(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.emit(CLIError{Code: code, Message: message, Details: details})
}

func (f *OutputFormatter) emit(e CLIError) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: &e})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message)
	if f.Verbose && e.Details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", e.Details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
// Engine errors keep their code and details; anything else is a command
// error.
func (f *OutputFormatter) Fail(message string, err error) error {
	var ce *confirm.Error
	if !errors.As(err, &ce) {
		_ = f.Error("COMMAND_ERROR", fmt.Sprintf("%s: %v", message, err), nil)
		return WrapExitError(ExitCommandError, message, err)
	}

	details := map[string]any{}
	if ce.ID != "" {
		details["id"] = ce.ID
	}
	if ce.ExpectedToken != "" {
		details["expected_token"] = ce.ExpectedToken
	}
	if ce.Unlocked {
		details["unlocked"] = true
	}
	if len(ce.Reasons) > 0 {
		details["reasons"] = ce.Reasons
	}
	if ce.Err != nil {
		details["cause"] = ce.Err.Error()
	}
	out := CLIError{Code: string(ce.Code), Message: ce.Message, Retryable: ce.Retryable()}
	if len(details) > 0 {
		out.Details = details
	}
	// The expected token is what lets the operator proceed; show it even
	// without --verbose.
	if f.Format != "json" && ce.ExpectedToken != "" {
		out.Message = fmt.Sprintf("%s (token: %s)", ce.Message, ce.ExpectedToken)
	}
	_ = f.emit(out)
	return WrapExitError(ExitFailure, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// SweepResult is printed by the sweep command.
type SweepResult struct {
	Removed int `json:"removed"`
}

// PolicyCheckResult is printed by the policy check command.
type PolicyCheckResult struct {
	Source string   `json:"source"`
	Mode   string   `json:"mode"`
	Chains []string `json:"chains,omitempty"`
}

func writeText(w io.Writer, data any) {
	switch v := data.(type) {
	case *engine.CreateResult:
		fmt.Fprintln(w, v.Message)
		if len(v.Decision.Warnings) > 0 {
			fmt.Fprintf(w, "warnings: %s\n", strings.Join(v.Decision.Warnings, "; "))
		}
	case *engine.ConfirmResult:
		fmt.Fprintf(w, "%s %s broadcast_id=%s attempts=%d\n", v.ID, v.Status, v.BroadcastID, v.Attempts)
		for _, warn := range v.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warn)
		}
	case *engine.LinkResult:
		kind := "advisory"
		if v.Mandatory {
			kind = "mandatory"
		}
		fmt.Fprintf(w, "linked %s -> %s (%s)\n", v.PrimaryID, v.DependentID, kind)
	case *confirm.Record:
		writeRecord(w, v)
	case []*confirm.Record:
		if len(v) == 0 {
			fmt.Fprintln(w, "no confirmations")
			return
		}
		for _, rec := range v {
			fmt.Fprintf(w, "%-48s %-10s %-16s expires=%s\n", rec.ID, rec.Status, rec.ChainKey, formatMs(rec.ExpiresAtMs))
		}
	case SweepResult:
		fmt.Fprintf(w, "removed %d expired confirmation(s)\n", v.Removed)
	case PolicyCheckResult:
		fmt.Fprintf(w, "policy ok: %s (mode=%s, %d chain rule(s))\n", v.Source, v.Mode, len(v.Chains))
	default:
		fmt.Fprintln(w, data)
	}
}

func writeRecord(w io.Writer, rec *confirm.Record) {
	fmt.Fprintf(w, "id:           %s\n", rec.ID)
	fmt.Fprintf(w, "chain:        %s\n", rec.ChainKey)
	fmt.Fprintf(w, "status:       %s\n", rec.Status)
	fmt.Fprintf(w, "summary_hash: %s\n", rec.SummaryHash)
	fmt.Fprintf(w, "expires:      %s\n", formatMs(rec.ExpiresAtMs))
	fmt.Fprintf(w, "attempts:     %d\n", rec.Attempts)
	if rec.SecondFactor != nil {
		fmt.Fprintf(w, "second_factor satisfied=%t\n", rec.SecondFactor.Satisfied)
	}
	if rec.BroadcastID != "" {
		fmt.Fprintf(w, "broadcast_id: %s\n", rec.BroadcastID)
	}
	if rec.LastError != "" {
		fmt.Fprintf(w, "last_error:   %s\n", rec.LastError)
	}
	if len(rec.LinkedIDs) > 0 {
		fmt.Fprintf(w, "linked:       %s\n", strings.Join(rec.LinkedIDs, ", "))
	}
	if rec.Metadata.Label != "" {
		fmt.Fprintf(w, "label:        %s\n", rec.Metadata.Label)
	}
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
