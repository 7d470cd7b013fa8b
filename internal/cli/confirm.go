package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/engine"
)

// ConfirmOptions holds flags for the confirm and retry commands.
type ConfirmOptions struct {
	*RootOptions
	SummaryHash string
	Token       string
	Text        string
}

// NewConfirmCommand creates the confirm command.
func NewConfirmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfirmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "confirm [id]",
		Short: "Confirm a pending transaction and broadcast it",
		Long: `Confirm a pending transaction by presenting its summary hash.

The id, hash and token can also be pasted as free text with --text, e.g.
the message shown at creation followed by "token:<token>".

Example:
  txgate confirm evm_confirm_1700000000000_ab12cd34ef56ab78 --hash 0x5f...
  txgate confirm --text "confirm evm_confirm_... hash:0x5f... token:3fa9c0d1e2b4"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfirm(opts, cmd, args, false)
		},
	}
	addConfirmFlags(cmd, opts)
	return cmd
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfirmOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "retry [id]",
		Short: "Retry a failed or stalled broadcast",
		Long: `Retry a confirmation whose broadcast failed, or whose broadcaster
stopped before recording an outcome. Sent and skipped confirmations are
final and cannot be retried.

For EVM requests with a pinned nonce or fees, retry first checks them
against the node. If the request had to change, nothing is sent: the
confirmation is pending again and the result carries the new
summary_hash (and token) to confirm with.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfirm(opts, cmd, args, true)
		},
	}
	addConfirmFlags(cmd, opts)
	return cmd
}

func addConfirmFlags(cmd *cobra.Command, opts *ConfirmOptions) {
	cmd.Flags().StringVar(&opts.SummaryHash, "hash", "", "summary hash returned at creation")
	cmd.Flags().StringVar(&opts.Token, "token", "", "second-factor token, when required")
	cmd.Flags().StringVar(&opts.Text, "text", "", "free-form confirmation text holding id, hash and token")
}

// confirmRequest merges positional id, flags and --text. Explicit values
// win over anything parsed from text.
func (opts *ConfirmOptions) confirmRequest(args []string) engine.ConfirmRequest {
	var req engine.ConfirmRequest
	if opts.Text != "" {
		parsed := confirm.ParseConfirmText(opts.Text)
		req = engine.ConfirmRequest{ID: parsed.ID, SummaryHash: parsed.SummaryHash, Token: parsed.Token}
	}
	if len(args) > 0 {
		req.ID = args[0]
	}
	if opts.SummaryHash != "" {
		req.SummaryHash = opts.SummaryHash
	}
	if opts.Token != "" {
		req.Token = opts.Token
	}
	return req
}

func runConfirm(opts *ConfirmOptions, cmd *cobra.Command, args []string, retry bool) error {
	f := newFormatter(opts.RootOptions, cmd)
	req := opts.confirmRequest(args)
	if req.ID == "" {
		_ = f.Error("USAGE", "a confirmation id is required (argument or --text)", nil)
		return NewExitError(ExitCommandError, "missing confirmation id")
	}

	return withRuntime(cmd, opts.RootOptions, f, func(rt *runtime) error {
		op, run := "confirm", rt.engine.Confirm
		if retry {
			op, run = "retry", rt.engine.Retry
		}
		res, err := run(cmd.Context(), req)
		if err != nil {
			return f.Fail(op+" failed", err)
		}
		return f.Success(res)
	})
}
