package solana

import (
	"encoding/binary"
	"math/big"

	bin "github.com/gagliardetto/binary"
	sol "github.com/gagliardetto/solana-go"

	"github.com/roach88/txgate/internal/confirm"
	"github.com/roach88/txgate/internal/policy"
)

// systemTransferKind is the System program instruction index for Transfer.
const systemTransferKind = 2

// Transfer is a decoded System program transfer.
type Transfer struct {
	From     sol.PublicKey
	To       sol.PublicKey
	Lamports uint64
}

// Programs returns the distinct program ids invoked by msg, in order.
func Programs(msg *sol.Message) []sol.PublicKey {
	seen := make(map[sol.PublicKey]bool)
	var out []sol.PublicKey
	for _, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) {
			continue
		}
		p := msg.AccountKeys[ix.ProgramIDIndex]
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Transfers decodes the System program transfers in msg. Instructions whose
// accounts live in address lookup tables are skipped.
func Transfers(msg *sol.Message) []Transfer {
	var out []Transfer
	for _, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) || !msg.AccountKeys[ix.ProgramIDIndex].Equals(sol.SystemProgramID) {
			continue
		}
		if len(ix.Accounts) < 2 || int(ix.Accounts[0]) >= len(msg.AccountKeys) || int(ix.Accounts[1]) >= len(msg.AccountKeys) {
			continue
		}
		dec := bin.NewBinDecoder(ix.Data)
		kind, err := dec.ReadUint32(binary.LittleEndian)
		if err != nil || kind != systemTransferKind {
			continue
		}
		lamports, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			continue
		}
		out = append(out, Transfer{
			From:     msg.AccountKeys[ix.Accounts[0]],
			To:       msg.AccountKeys[ix.Accounts[1]],
			Lamports: lamports,
		})
	}
	return out
}

// Inspect derives policy facts. Destinations are the invoked program ids
// followed by transfer recipients; Value is the total lamports moved by
// System transfers.
func (a *Adapter) Inspect(chainKey string, payload []byte, md confirm.Metadata) (policy.Facts, error) {
	tx, err := DecodeTransaction(payload)
	if err != nil {
		return policy.Facts{}, err
	}
	msg := &tx.Message
	payer := msg.AccountKeys[0]

	facts := policy.Facts{Mainnet: a.mainnets[cluster(chainKey)]}
	for _, p := range Programs(msg) {
		facts.Destinations = append(facts.Destinations, p.String())
	}

	transfers := Transfers(msg)
	if len(transfers) == 0 {
		return facts, nil
	}
	total := new(big.Int)
	nonOwned := false
	for _, t := range transfers {
		total.Add(total, new(big.Int).SetUint64(t.Lamports))
		facts.Destinations = append(facts.Destinations, t.To.String())
		if !t.To.Equals(payer) {
			nonOwned = true
		}
	}
	facts.Value = total
	facts.Flags = append(facts.Flags, policy.FlagSystemTransfer)
	if nonOwned {
		facts.Flags = append(facts.Flags, policy.FlagNonOwnedDestination)
	}
	return facts, nil
}
