package evm

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// ERC-20 selectors recognized by Inspect.
var (
	SelectorApprove      = []byte{0x09, 0x5e, 0xa7, 0xb3} // approve(address,uint256)
	SelectorTransfer     = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
	SelectorTransferFrom = []byte{0x23, 0xb8, 0x72, 0xdd} // transferFrom(address,address,uint256)
	SelectorAllowance    = []byte{0xdd, 0x62, 0xed, 0x3e} // allowance(address,address)
)

// Call is a decoded ERC-20 call.
type Call struct {
	Method    string
	Recipient common.Address // spender for approve
	Amount    *big.Int
}

// Unlimited reports whether Amount is the max uint256 sentinel.
func (c *Call) Unlimited() bool {
	return c.Amount != nil && c.Amount.Cmp(math.MaxBig256) == 0
}

// DecodeCall recognizes approve/transfer/transferFrom calldata.
// Returns nil for anything else.
func DecodeCall(data []byte) *Call {
	if len(data) < 4 {
		return nil
	}
	sel, args := data[:4], data[4:]
	switch {
	case bytes.Equal(sel, SelectorApprove) && len(args) >= 64:
		return &Call{Method: "approve", Recipient: word(args, 0).address(), Amount: word(args, 1).int()}
	case bytes.Equal(sel, SelectorTransfer) && len(args) >= 64:
		return &Call{Method: "transfer", Recipient: word(args, 0).address(), Amount: word(args, 1).int()}
	case bytes.Equal(sel, SelectorTransferFrom) && len(args) >= 96:
		return &Call{Method: "transferFrom", Recipient: word(args, 1).address(), Amount: word(args, 2).int()}
	}
	return nil
}

// EncodeAllowanceCall builds allowance(owner, spender) calldata.
func EncodeAllowanceCall(owner, spender common.Address) []byte {
	out := make([]byte, 0, 4+64)
	out = append(out, SelectorAllowance...)
	out = append(out, common.LeftPadBytes(owner.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(spender.Bytes(), 32)...)
	return out
}

type abiWord []byte

func word(args []byte, i int) abiWord { return abiWord(args[i*32 : (i+1)*32]) }

func (w abiWord) address() common.Address { return common.BytesToAddress(w[12:]) }

func (w abiWord) int() *big.Int { return new(big.Int).SetBytes(w) }
