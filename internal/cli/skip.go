package cli

import (
	"github.com/spf13/cobra"
)

// NewSkipCommand creates the skip command.
func NewSkipCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:           "skip <id>",
		Short:         "Abandon a pending confirmation",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withRuntime(cmd, rootOpts, f, func(rt *runtime) error {
				rec, err := rt.engine.Skip(cmd.Context(), args[0], reason)
				if err != nil {
					return f.Fail("skip failed", err)
				}
				return f.Success(rec)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the transaction was abandoned")
	return cmd
}

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	var mandatory bool

	cmd := &cobra.Command{
		Use:   "link <primary-id> <dependent-id>",
		Short: "Record that one confirmation must be sent before another",
		Long: `Link a dependent confirmation (e.g. a swap) to the primary it needs
(e.g. the token approval). Confirming the dependent first produces a
warning, or fails with DEPENDENCY_PENDING when the link is mandatory.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			return withRuntime(cmd, rootOpts, f, func(rt *runtime) error {
				res, err := rt.engine.Link(cmd.Context(), args[0], args[1], mandatory)
				if err != nil {
					return f.Fail("link failed", err)
				}
				return f.Success(res)
			})
		},
	}
	cmd.Flags().BoolVar(&mandatory, "mandatory", false, "block the dependent until the primary is sent")
	return cmd
}
