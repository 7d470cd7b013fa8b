package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
)

// rawPrefixBytes is how much of the signed envelope is kept on the record.
const rawPrefixBytes = 16

// ErrNoSigner is returned when no signing key is configured.
var ErrNoSigner = errors.New("evm: no signing key configured")

// SignAndBroadcast signs the staged request as an EIP-1559 transaction and
// submits it. Nonce, gas limit and fees missing from the request are filled
// from the backend at signing time.
func (a *Adapter) SignAndBroadcast(ctx context.Context, rec *confirm.Record) (chain.Broadcast, error) {
	if a.key == nil {
		return chain.Broadcast{}, ErrNoSigner
	}
	req, err := ParseTxRequest(rec.Payload)
	if err != nil {
		return chain.Broadcast{}, err
	}
	signerAddr := crypto.PubkeyToAddress(a.key.PublicKey)
	if signerAddr != req.FromAddress() {
		return chain.Broadcast{}, fmt.Errorf("evm: signer %s does not match from %s", signerAddr.Hex(), req.From)
	}
	b, err := a.backend(req.ChainID)
	if err != nil {
		return chain.Broadcast{}, err
	}

	tx, err := a.buildTx(ctx, b, req)
	if err != nil {
		return chain.Broadcast{}, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(req.ChainID)), a.key)
	if err != nil {
		return chain.Broadcast{}, fmt.Errorf("evm: sign: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return chain.Broadcast{}, fmt.Errorf("evm: encode: %w", err)
	}
	signedAt := a.clock.NowMs()

	if err := b.SendTransaction(ctx, signed); err != nil {
		return chain.Broadcast{}, fmt.Errorf("evm: send: %w", err)
	}
	return chain.Broadcast{
		ID:          signed.Hash().Hex(),
		SignedAtMs:  signedAt,
		RawTxPrefix: hexutil.Encode(raw[:min(len(raw), rawPrefixBytes)]),
	}, nil
}

func (a *Adapter) buildTx(ctx context.Context, b Backend, req *TxRequest) (*types.Transaction, error) {
	data, err := req.Data()
	if err != nil {
		return nil, err
	}
	from, to, value := req.FromAddress(), req.ToAddress(), req.Value()

	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else if nonce, err = b.PendingNonceAt(ctx, from); err != nil {
		return nil, fmt.Errorf("evm: nonce: %w", err)
	}

	tip, err := optionalAmount("max_priority_fee_per_gas_wei", req.MaxPriorityFeePerGas)
	if err != nil {
		return nil, err
	}
	if tip == nil {
		if tip, err = b.SuggestGasTipCap(ctx); err != nil {
			return nil, fmt.Errorf("evm: tip cap: %w", err)
		}
	}
	feeCap, err := optionalAmount("max_fee_per_gas_wei", req.MaxFeePerGasWei)
	if err != nil {
		return nil, err
	}
	if feeCap == nil {
		price, err := b.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("evm: gas price: %w", err)
		}
		// Headroom for one base-fee doubling.
		feeCap = new(big.Int).Add(new(big.Int).Mul(price, big.NewInt(2)), tip)
	}

	var gas uint64
	if req.GasLimit != nil {
		gas = *req.GasLimit
	} else {
		gas, err = b.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data, GasTipCap: tip, GasFeeCap: feeCap})
		if err != nil {
			return nil, fmt.Errorf("evm: estimate gas: %w", err)
		}
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(req.ChainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	}), nil
}
