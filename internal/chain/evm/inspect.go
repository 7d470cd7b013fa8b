package evm

import (
	"strconv"
	"strings"

	"github.com/roach88/txgate/internal/chain"
	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/policy"
)

// Inspect derives policy facts. A chain key naming a different chain id
// than the payload is rejected as invalid.
func (a *Adapter) Inspect(chainKey string, payload []byte, md confirm.Metadata) (policy.Facts, error) {
	req, err := ParseTxRequest(payload)
	if err != nil {
		return policy.Facts{}, err
	}
	if _, idPart, ok := strings.Cut(chainKey, ":"); ok {
		id, err := strconv.ParseUint(idPart, 10, 64)
		if err != nil || id != req.ChainID {
			return policy.Facts{}, chain.Invalid("chain key %s does not match chain_id %d", chainKey, req.ChainID)
		}
	}
	data, err := req.Data()
	if err != nil {
		return policy.Facts{}, err
	}

	to := strings.ToLower(req.To)
	facts := policy.Facts{
		Mainnet:      a.mainnets[req.ChainID],
		Value:        req.Value(),
		Destinations: []string{to},
	}

	if call := DecodeCall(data); call != nil {
		facts.Asset = to
		facts.Value = call.Amount
		facts.Destinations = append(facts.Destinations, strings.ToLower(call.Recipient.Hex()))
		if call.Method == "approve" {
			facts.Flags = append(facts.Flags, policy.FlagApproval)
			if call.Unlimited() {
				facts.Flags = append(facts.Flags, policy.FlagUnlimitedApproval)
			}
		} else if !strings.EqualFold(call.Recipient.Hex(), req.From) {
			facts.Flags = append(facts.Flags, policy.FlagNonOwnedDestination)
		}
		return facts, nil
	}

	if len(data) == 0 && facts.Value.Sign() > 0 && !strings.EqualFold(req.To, req.From) {
		facts.Flags = append(facts.Flags, policy.FlagNonOwnedDestination)
	}
	return facts, nil
}
