package sui

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
)

const (
	rawPrefixBytes = 16
	flagEd25519    = 0x00
)

// intentTransaction is the intent prefix for TransactionData: scope 0,
// version 0, app id 0.
var intentTransaction = []byte{0x00, 0x00, 0x00}

// ErrNoSigner is returned when no signing key is configured.
var ErrNoSigner = errors.New("sui: no signing key configured")

type effects struct {
	Status struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"status"`
}

type executeResult struct {
	Digest  string   `json:"digest"`
	Effects *effects `json:"effects"`
}

type dryRunResult struct {
	Effects *effects `json:"effects"`
}

// Sign returns the serialized Sui signature (flag || sig || pubkey) over
// blake2b-256(intent || txBytes).
func Sign(key ed25519.PrivateKey, txBytes []byte) []byte {
	digest := blake2b.Sum256(append(append([]byte{}, intentTransaction...), txBytes...))
	sig := ed25519.Sign(key, digest[:])
	out := make([]byte, 0, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	out = append(out, flagEd25519)
	out = append(out, sig...)
	return append(out, key.Public().(ed25519.PublicKey)...)
}

// SignAndBroadcast signs the TransactionData and submits it with
// sui_executeTransactionBlock, waiting for local execution. With preflight
// on (the default) the transaction is first simulated with
// sui_dryRunTransactionBlock; a failing simulation aborts before submit and
// the simulation is reported on the Broadcast either way.
func (a *Adapter) SignAndBroadcast(ctx context.Context, rec *confirm.Record) (chain.Broadcast, error) {
	if a.key == nil {
		return chain.Broadcast{}, ErrNoSigner
	}
	tx, err := DecodeTransaction(rec.Payload)
	if err != nil {
		return chain.Broadcast{}, err
	}
	signer := AddressOf(a.key.Public().(ed25519.PublicKey))
	if signer != tx.Sender {
		return chain.Broadcast{}, fmt.Errorf("sui: signer %s does not match sender %s", signer, tx.Sender)
	}
	c, err := a.client(network(rec.ChainKey))
	if err != nil {
		return chain.Broadcast{}, err
	}

	txB64 := base64.StdEncoding.EncodeToString(rec.Payload)
	var out chain.Broadcast
	if a.preflight {
		if out.DryRun, out.DryRunError, err = dryRun(ctx, c, txB64); err != nil {
			return out, err
		}
		if out.DryRunError != "" {
			return out, fmt.Errorf("sui: dry run failed: %s", out.DryRunError)
		}
	}

	sig := Sign(a.key, rec.Payload)
	out.SignedAtMs = a.clock.NowMs()
	out.RawTxPrefix = hex.EncodeToString(rec.Payload[:min(len(rec.Payload), rawPrefixBytes)])

	var res executeResult
	err = c.CallContext(ctx, &res, "sui_executeTransactionBlock",
		txB64,
		[]string{base64.StdEncoding.EncodeToString(sig)},
		map[string]bool{"showEffects": true},
		"WaitForLocalExecution",
	)
	if err != nil {
		return out, fmt.Errorf("sui: execute: %w", err)
	}
	if res.Digest == "" {
		return out, errors.New("sui: execute returned no digest")
	}
	if res.Effects != nil && res.Effects.Status.Status == "failure" {
		return out, fmt.Errorf("sui: transaction %s failed: %s", res.Digest, res.Effects.Status.Error)
	}
	out.ID = res.Digest
	return out, nil
}

// dryRun simulates the transaction. It returns the node's response as is
// and the execution error when the simulated status is failure.
func dryRun(ctx context.Context, c RPC, txB64 string) ([]byte, string, error) {
	var raw json.RawMessage
	if err := c.CallContext(ctx, &raw, "sui_dryRunTransactionBlock", txB64); err != nil {
		return nil, "", fmt.Errorf("sui: dry run: %w", err)
	}
	var res dryRunResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return raw, "", fmt.Errorf("sui: decode dry run: %w", err)
	}
	if res.Effects != nil && res.Effects.Status.Status == "failure" {
		msg := res.Effects.Status.Error
		if msg == "" {
			msg = "failure"
		}
		return raw, msg, nil
	}
	return raw, "", nil
}
