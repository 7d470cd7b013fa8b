package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/roach88/txgate/internal/confirm"
)

// Refresh re-pins a nonce the account has already moved past and lifts
// pinned fees that fell below the current market. Fields left unpinned are
// filled at signing time and stay untouched. A request that is still
// current comes back as rec.Payload.
func (a *Adapter) Refresh(ctx context.Context, rec *confirm.Record) ([]byte, error) {
	req, err := ParseTxRequest(rec.Payload)
	if err != nil {
		return nil, err
	}
	if req.Nonce == nil && req.MaxFeePerGasWei == "" && req.MaxPriorityFeePerGas == "" {
		return rec.Payload, nil
	}
	b, err := a.backend(req.ChainID)
	if err != nil {
		return nil, err
	}

	changed := false
	if req.Nonce != nil {
		next, err := b.PendingNonceAt(ctx, req.FromAddress())
		if err != nil {
			return nil, fmt.Errorf("evm: nonce: %w", err)
		}
		if *req.Nonce < next {
			req.Nonce = &next
			changed = true
		}
	}

	if req.MaxFeePerGasWei != "" || req.MaxPriorityFeePerGas != "" {
		fees, err := a.refreshFees(ctx, b, req)
		if err != nil {
			return nil, err
		}
		changed = changed || fees
	}

	if !changed {
		return rec.Payload, nil
	}
	out, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("evm: encode refreshed request: %w", err)
	}
	return out, nil
}

// refreshFees raises a pinned tip to the suggested tip, and a pinned fee
// cap below the suggested gas price to the same headroom buildTx uses.
func (a *Adapter) refreshFees(ctx context.Context, b Backend, req *TxRequest) (bool, error) {
	suggestedTip, err := b.SuggestGasTipCap(ctx)
	if err != nil {
		return false, fmt.Errorf("evm: tip cap: %w", err)
	}
	price, err := b.SuggestGasPrice(ctx)
	if err != nil {
		return false, fmt.Errorf("evm: gas price: %w", err)
	}

	changed := false
	tip, err := optionalAmount("max_priority_fee_per_gas_wei", req.MaxPriorityFeePerGas)
	if err != nil {
		return false, err
	}
	if tip != nil && tip.Cmp(suggestedTip) < 0 {
		tip = suggestedTip
		req.MaxPriorityFeePerGas = tip.String()
		changed = true
	}
	if tip == nil {
		tip = suggestedTip
	}

	feeCap, err := optionalAmount("max_fee_per_gas_wei", req.MaxFeePerGasWei)
	if err != nil {
		return false, err
	}
	if feeCap != nil && (feeCap.Cmp(price) < 0 || feeCap.Cmp(tip) < 0) {
		feeCap = new(big.Int).Add(new(big.Int).Mul(price, big.NewInt(2)), tip)
		req.MaxFeePerGasWei = feeCap.String()
		changed = true
	}
	return changed, nil
}
