package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// Describe renders a display summary of the request. It is informational
// only; nothing in it is covered by the summary hash beyond what the hash
// already includes.
func (a *Adapter) Describe(payload []byte) (map[string]any, error) {
	req, err := ParseTxRequest(payload)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"chain_id":  req.ChainID,
		"from":      strings.ToLower(req.From),
		"to":        strings.ToLower(req.To),
		"value_wei": req.ValueWei,
		"value_eth": formatEther(req.Value()),
		"mainnet":   a.mainnets[req.ChainID],
	}
	if req.Label != "" {
		out["label"] = req.Label
	}
	data, err := req.Data()
	if err != nil {
		return nil, err
	}
	switch call := DecodeCall(data); {
	case call != nil:
		out["method"] = call.Method
		out["token"] = strings.ToLower(req.To)
		out["recipient"] = strings.ToLower(call.Recipient.Hex())
		out["amount_raw"] = call.Amount.String()
		if call.Unlimited() {
			out["unlimited"] = true
		}
	case len(data) > 0:
		out["method"] = "contract_call"
		out["selector"] = strings.ToLower(req.DataHex[:min(len(req.DataHex), 10)])
	default:
		out["method"] = "native_transfer"
	}
	return out, nil
}

// formatEther renders wei as a decimal ether string without rounding.
func formatEther(wei *big.Int) string {
	ether := big.NewInt(params.Ether)
	whole, frac := new(big.Int).QuoRem(wei, ether, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	f := frac.String()
	f = strings.Repeat("0", 18-len(f)) + f
	return whole.String() + "." + strings.TrimRight(f, "0")
}
