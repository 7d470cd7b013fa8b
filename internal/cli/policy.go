package cli

import (
	"errors"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/txgate/internal/config"
	"github.com/roach88/txgate/internal/policy"
)

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate transaction policy",
	}
	cmd.AddCommand(newPolicyCheckCommand(rootOpts))
	return cmd
}

func newPolicyCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [policy-file]",
		Short: "Validate a policy file, or the configured policy",
		Long: `Validate a policy against the schema and compile its thresholds.

Accepts .cue, .yaml/.yml and .toml files. Without an argument the policy
from the config (policy_file or the inline policy section) is checked.

Example:
  txgate policy check policy.cue
  txgate policy check --config txgate.yaml`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyCheck(rootOpts, cmd, args)
		},
	}
}

func runPolicyCheck(opts *RootOptions, cmd *cobra.Command, args []string) error {
	f := newFormatter(opts, cmd)

	var (
		cfg    policy.Config
		source string
		err    error
	)
	switch {
	case len(args) == 1:
		source = args[0]
		cfg, err = policy.LoadFile(source)
	default:
		var c *config.Config
		if c, err = config.Load(opts.Config); err != nil {
			break
		}
		source, cfg = "config", c.Policy
		if c.PolicyFile != "" {
			source = c.PolicyFile
			cfg, err = policy.LoadFile(source)
		}
	}
	if err == nil {
		_, err = policy.NewEvaluator(cfg)
	}
	if err != nil {
		var details any
		var verrs policy.ValidationErrors
		if errors.As(err, &verrs) {
			details = verrs
		}
		_ = f.Error("POLICY_INVALID", err.Error(), details)
		return WrapExitError(ExitFailure, "policy invalid", err)
	}

	chains := make([]string, 0, len(cfg.Chains))
	for key := range cfg.Chains {
		chains = append(chains, key)
	}
	slices.Sort(chains)
	return f.Success(PolicyCheckResult{Source: source, Mode: string(cfg.EffectiveMode()), Chains: chains})
}
