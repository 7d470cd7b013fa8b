package cli

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/engine"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	ChainKey    string
	PayloadB64  string
	PayloadFile string
	Label       string
	SourceTool  string
	TTL         time.Duration
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Stage a transaction for confirmation",
		Long: `Stage a transaction as a pending confirmation.

The payload is the chain-native unsigned transaction: a JSON request for
EVM chains, wire-format bytes for Solana and BCS TransactionData for Sui.
The response carries the id and summary hash needed to confirm, plus a
second-factor token when policy requires one.

Example:
  txgate create --chain evm:1 --payload-file transfer.json --label "pay invoice"
  txgate create --chain solana:devnet --payload AQAB...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ChainKey, "chain", "", "chain key, e.g. evm:1, solana:devnet, sui:mainnet (required)")
	cmd.Flags().StringVar(&opts.PayloadB64, "payload", "", "base64 payload")
	cmd.Flags().StringVarP(&opts.PayloadFile, "payload-file", "f", "", "file holding the raw payload (- for stdin)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "human label stored with the record")
	cmd.Flags().StringVar(&opts.SourceTool, "source-tool", "cli", "tool that produced the transaction")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "time to live (default from config)")
	_ = cmd.MarkFlagRequired("chain")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	payload, err := readPayload(opts, cmd.InOrStdin())
	if err != nil {
		_ = f.Error(string(confirm.ErrCodeInvalidPayload), err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid payload", err)
	}

	return withRuntime(cmd, opts.RootOptions, f, func(rt *runtime) error {
		res, err := rt.engine.Create(cmd.Context(), engine.CreateRequest{
			ChainKey: opts.ChainKey,
			Payload:  payload,
			TTL:      opts.TTL,
			Metadata: confirm.Metadata{SourceTool: opts.SourceTool, Label: opts.Label},
		})
		if err != nil {
			return f.Fail("create failed", err)
		}
		f.VerboseLog("created %s (expires in %dms)", res.ID, res.ExpiresInMs)
		return f.Success(res)
	})
}

func readPayload(opts *CreateOptions, stdin io.Reader) ([]byte, error) {
	switch {
	case opts.PayloadB64 != "":
		b, err := base64.StdEncoding.DecodeString(opts.PayloadB64)
		if err != nil {
			return nil, fmt.Errorf("--payload is not valid base64: %w", err)
		}
		return b, nil
	case opts.PayloadFile == "-":
		return io.ReadAll(stdin)
	case opts.PayloadFile != "":
		return os.ReadFile(opts.PayloadFile)
	}
	return nil, errors.New("one of --payload or --payload-file is required")
}
