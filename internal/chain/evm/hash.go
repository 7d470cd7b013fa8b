package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/txgate/internal/canonical"
)

// SummaryObject projects the security-relevant fields of req into the
// canonical object that is hashed. Addresses and calldata are lowercased and
// absent optional fields are omitted, so equivalent requests hash equally.
func SummaryObject(req *TxRequest) canonical.Object {
	obj := canonical.Object{
		"chain_id":  req.ChainID,
		"from":      strings.ToLower(req.From),
		"to":        strings.ToLower(req.To),
		"value_wei": req.Value(),
	}
	if req.Nonce != nil {
		obj["nonce"] = *req.Nonce
	}
	if req.GasLimit != nil {
		obj["gas_limit"] = *req.GasLimit
	}
	if v, _ := optionalAmount("max_fee_per_gas_wei", req.MaxFeePerGasWei); v != nil {
		obj["max_fee_per_gas_wei"] = v
	}
	if v, _ := optionalAmount("max_priority_fee_per_gas_wei", req.MaxPriorityFeePerGas); v != nil {
		obj["max_priority_fee_per_gas_wei"] = v
	}
	if req.DataHex != "" {
		obj["data"] = strings.ToLower(req.DataHex)
	}
	return obj
}

// SummaryHash decodes payload and returns 0x-prefixed
// Keccak-256(domain || 0x00 || canonical summary).
func (a *Adapter) SummaryHash(payload []byte) (string, error) {
	req, err := ParseTxRequest(payload)
	if err != nil {
		return "", err
	}
	data, err := canonical.Marshal(SummaryObject(req))
	if err != nil {
		return "", err
	}
	sum := crypto.Keccak256([]byte(canonical.DomainEVMSummary), []byte{0x00}, data)
	return hexutil.Encode(sum), nil
}
