// Package policy decides how much proof a staged transaction needs.
//
// An Evaluator maps (chain key, Facts) to a Decision: allow, require a second
// factor, or deny. Facts are produced by chain adapters from the payload and
// metadata only, never from network state, so the same payload under the
// same Config always yields the same Decision.
//
// Configs can be written in CUE, YAML or TOML. Every config is validated
// against the embedded CUE schema in schema.cue before it is used, and a
// Watcher can hot-reload a policy file into a running Evaluator.
package policy
