package solana

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	sol "github.com/gagliardetto/solana-go"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
)

const rawPrefixBytes = 16

// ErrNoSigner is returned when no signing key is configured.
var ErrNoSigner = errors.New("solana: no signing key configured")

// SignAndBroadcast fills the configured key's signature slot and submits the
// transaction. Signatures already present for other signers are kept, so a
// partially signed payload can be completed. The recent blockhash is part of
// the hashed message and is never refreshed here.
func (a *Adapter) SignAndBroadcast(ctx context.Context, rec *confirm.Record) (chain.Broadcast, error) {
	if a.key == nil {
		return chain.Broadcast{}, ErrNoSigner
	}
	tx, err := DecodeTransaction(rec.Payload)
	if err != nil {
		return chain.Broadcast{}, err
	}
	c, err := a.client(cluster(rec.ChainKey))
	if err != nil {
		return chain.Broadcast{}, err
	}
	if err := a.sign(tx); err != nil {
		return chain.Broadcast{}, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return chain.Broadcast{}, fmt.Errorf("solana: encode: %w", err)
	}
	signedAt := a.clock.NowMs()

	sig, err := c.SendTransactionWithOpts(ctx, tx, a.opts)
	if err != nil {
		return chain.Broadcast{}, fmt.Errorf("solana: send: %w", err)
	}
	return chain.Broadcast{
		ID:          sig.String(),
		SignedAtMs:  signedAt,
		RawTxPrefix: hex.EncodeToString(raw[:min(len(raw), rawPrefixBytes)]),
	}, nil
}

func (a *Adapter) sign(tx *sol.Transaction) error {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("solana: encode message: %w", err)
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Message.AccountKeys) < required {
		return chain.Invalid("solana: header requires %d signers but message has %d accounts", required, len(tx.Message.AccountKeys))
	}
	pub := a.key.PublicKey()
	slot := -1
	for i := 0; i < required; i++ {
		if tx.Message.AccountKeys[i].Equals(pub) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("solana: signer %s is not a required signer", pub)
	}

	sig, err := a.key.Sign(msg)
	if err != nil {
		return fmt.Errorf("solana: sign: %w", err)
	}
	sigs := make([]sol.Signature, required)
	copy(sigs, tx.Signatures)
	sigs[slot] = sig
	for i, s := range sigs {
		if s == (sol.Signature{}) {
			return fmt.Errorf("solana: missing signature for %s", tx.Message.AccountKeys[i])
		}
	}
	tx.Signatures = sigs
	return nil
}
