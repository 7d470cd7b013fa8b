// Package harness runs confirmation scenarios against the real engine.
//
// A scenario is a YAML file describing a policy, a flow of engine
// operations (create, confirm, retry, skip, link, sweep) interleaved with
// clock advances and injected adapter failures, and assertions over the
// outcome. Each run uses a fresh in-memory SQLite store, a manual clock,
// a counting nonce source and a fake chain adapter, so traces are fully
// deterministic and can be compared against golden files.
//
// Records are addressed by alias ("ref") in scenarios; the harness keeps
// the mapping to generated ids, summary hashes and second-factor tokens.
//
// Example:
//
//	name: second_factor_mainnet
//	description: mainnet transactions need the token
//	flow:
//	  - op: create
//	    ref: tx
//	    chain_key: fake:mainnet
//	    payload: {to: "0xabc", value: "1"}
//	    expect: {decision: second_factor}
//	  - op: confirm
//	    ref: tx
//	    expect: {error: SECOND_FACTOR_REQUIRED}
//	  - op: confirm
//	    ref: tx
//	    with_token: true
//	    expect: {status: sent}
//	assertions:
//	  - type: final_state
//	    ref: tx
//	    status: sent
package harness
