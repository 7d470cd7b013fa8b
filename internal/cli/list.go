package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/txgate/internal/confirm"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Status         string
	ChainKey       string
	Limit          int
	IncludePayload bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List live confirmations, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts.RootOptions, cmd)
			return withRuntime(cmd, opts.RootOptions, f, func(rt *runtime) error {
				recs, err := rt.engine.List(cmd.Context(), confirm.ListFilter{
					Status:         confirm.Status(opts.Status),
					ChainKey:       opts.ChainKey,
					Limit:          opts.Limit,
					IncludePayload: opts.IncludePayload,
				})
				if err != nil {
					return f.Fail("list failed", err)
				}
				return f.Success(recs)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "only show this status (pending|consumed|sent|failed|skipped)")
	cmd.Flags().StringVar(&opts.ChainKey, "chain", "", "only show this chain key (e.g. evm:1)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", confirm.DefaultListLimit, "maximum records to show")
	cmd.Flags().BoolVar(&opts.IncludePayload, "include-payload", false, "include payload bytes (json output)")

	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var includePayload bool

	cmd := &cobra.Command{
		Use:           "get <id>",
		Short:         "Show one confirmation",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withRuntime(cmd, rootOpts, f, func(rt *runtime) error {
				rec, err := rt.engine.Get(cmd.Context(), args[0], includePayload)
				if err != nil {
					return f.Fail("get failed", err)
				}
				return f.Success(rec)
			})
		},
	}
	cmd.Flags().BoolVar(&includePayload, "include-payload", false, "include payload bytes (json output)")
	return cmd
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sweep",
		Short:         "Delete expired confirmations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withRuntime(cmd, rootOpts, f, func(rt *runtime) error {
				n, err := rt.engine.Sweep(cmd.Context())
				if err != nil {
					return f.Fail("sweep failed", err)
				}
				return f.Success(SweepResult{Removed: n})
			})
		},
	}
}
