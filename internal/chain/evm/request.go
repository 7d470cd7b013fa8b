package evm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/txgate/internal/chain"
)

// TxRequest is the JSON payload staged for EVM chains. Amounts are decimal
// strings in wei so they survive JSON without float rounding.
type TxRequest struct {
	ChainID              uint64  `json:"chain_id"`
	From                 string  `json:"from"`
	To                   string  `json:"to"`
	ValueWei             string  `json:"value_wei"`
	DataHex              string  `json:"data_hex,omitempty"`
	Nonce                *uint64 `json:"nonce,omitempty"`
	GasLimit             *uint64 `json:"gas_limit,omitempty"`
	MaxFeePerGasWei      string  `json:"max_fee_per_gas_wei,omitempty"`
	MaxPriorityFeePerGas string  `json:"max_priority_fee_per_gas_wei,omitempty"`

	// Display-only; not covered by the summary hash.
	Label string `json:"label,omitempty"`
	Note  string `json:"note,omitempty"`
}

const txRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["chain_id", "from", "to", "value_wei"],
  "additionalProperties": false,
  "properties": {
    "chain_id": {"type": "integer", "minimum": 1},
    "from": {"$ref": "#/definitions/address"},
    "to": {"$ref": "#/definitions/address"},
    "value_wei": {"$ref": "#/definitions/amount"},
    "data_hex": {"type": "string", "pattern": "^0[xX]([0-9a-fA-F]{2})*$"},
    "nonce": {"type": "integer", "minimum": 0},
    "gas_limit": {"type": "integer", "minimum": 0},
    "max_fee_per_gas_wei": {"$ref": "#/definitions/amount"},
    "max_priority_fee_per_gas_wei": {"$ref": "#/definitions/amount"},
    "label": {"type": "string"},
    "note": {"type": "string"}
  },
  "definitions": {
    "address": {"type": "string", "pattern": "^0[xX][0-9a-fA-F]{40}$"},
    "amount": {"type": "string", "pattern": "^[0-9]+$"}
  }
}`

var txSchema = jsonschema.MustCompileString("evm-tx-request.json", txRequestSchema)

// ParseTxRequest validates payload against the request schema and decodes it.
func ParseTxRequest(payload []byte) (*TxRequest, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, chain.Invalid("evm payload is not JSON: %v", err)
	}
	if err := txSchema.Validate(doc); err != nil {
		return nil, chain.Invalid("evm payload: %v", err)
	}

	var req TxRequest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, chain.Invalid("evm payload: %v", err)
	}
	return &req, nil
}

// FromAddress returns the checksummed sender.
func (r *TxRequest) FromAddress() common.Address { return common.HexToAddress(r.From) }

// ToAddress returns the checksummed recipient.
func (r *TxRequest) ToAddress() common.Address { return common.HexToAddress(r.To) }

// Value returns value_wei as a big integer.
func (r *TxRequest) Value() *big.Int {
	v, ok := new(big.Int).SetString(r.ValueWei, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// Data returns the decoded calldata, nil when absent.
func (r *TxRequest) Data() ([]byte, error) {
	if r.DataHex == "" {
		return nil, nil
	}
	data, err := hexutil.Decode("0x" + strings.ToLower(r.DataHex[2:]))
	if err != nil {
		return nil, chain.Invalid("data_hex: %v", err)
	}
	return data, nil
}

func optionalAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", field, s)
	}
	return v, nil
}
