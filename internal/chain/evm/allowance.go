package evm

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/txgate/internal/confirm"
)

// AllowanceAction is the next step for a swap blocked on allowance.
type AllowanceAction string

const (
	AllowanceSufficient AllowanceAction = "sufficient"
	ConfirmApproveFirst AllowanceAction = "confirm_approve_first"
	WaitForApproveMined AllowanceAction = "wait_for_approve_mined"
)

// AllowanceDecision is the outcome of DecideAllowance.
type AllowanceDecision struct {
	Action  AllowanceAction
	Message string
	Note    string
}

// DecideAllowance picks the guidance for a dependent swap given the current
// on-chain allowance, the required amount and the linked approve's status.
// Once the approve has been sent the caller should wait for it to mine
// rather than confirm it again.
func DecideAllowance(allowance, required *big.Int, approveStatus confirm.Status) AllowanceDecision {
	if allowance != nil && required != nil && allowance.Cmp(required) >= 0 {
		return AllowanceDecision{Action: AllowanceSufficient}
	}
	if approveStatus == confirm.StatusSent {
		return AllowanceDecision{
			Action:  WaitForApproveMined,
			Message: fmt.Sprintf("Allowance insufficient (%s < %s). Approve tx already sent; wait 1-2 blocks, then confirm the swap again.", allowance, required),
			Note:    "approve tx already sent; wait for it to mine, then confirm the swap again",
		}
	}
	return AllowanceDecision{
		Action:  ConfirmApproveFirst,
		Message: fmt.Sprintf("Allowance insufficient (%s < %s). Please confirm the approve tx first.", allowance, required),
		Note:    "confirm the approve, wait for it to mine, then confirm the swap again",
	}
}

// AdviseDependency implements chain.DependencyAdvisor. For records carrying
// an allowance expectation it reads the live allowance and reports nothing
// once it is sufficient, even if the approve record is not yet sent.
func (a *Adapter) AdviseDependency(ctx context.Context, rec *confirm.Record, dep confirm.Dependency) string {
	exp := rec.Metadata.Allowance
	if exp == nil {
		return ""
	}
	required, ok := new(big.Int).SetString(exp.RequiredRaw, 10)
	if !ok {
		return ""
	}
	allowance := new(big.Int)
	if req, err := ParseTxRequest(rec.Payload); err == nil {
		if live, err := a.readAllowance(ctx, req.ChainID, req.FromAddress(), common.HexToAddress(exp.Token), common.HexToAddress(exp.Spender)); err == nil {
			allowance = live
		}
	}
	d := DecideAllowance(allowance, required, dep.Status)
	if d.Action == AllowanceSufficient {
		return ""
	}
	return d.Message
}

func (a *Adapter) readAllowance(ctx context.Context, chainID uint64, owner, token, spender common.Address) (*big.Int, error) {
	b, err := a.backend(chainID)
	if err != nil {
		return nil, err
	}
	out, err := b.CallContract(ctx, ethereum.CallMsg{To: &token, Data: EncodeAllowanceCall(owner, spender)}, nil)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if len(out) < 32 {
		return nil, fmt.Errorf("read allowance: short return data (%d bytes)", len(out))
	}
	return new(big.Int).SetBytes(out[:32]), nil
}
