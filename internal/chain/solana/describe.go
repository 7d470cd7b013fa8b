package solana

import (
	"strconv"
)

// lamportsPerSOL is 10^9.
const lamportsPerSOL = 1_000_000_000

// Describe renders a display summary of the transaction.
func (a *Adapter) Describe(payload []byte) (map[string]any, error) {
	tx, err := DecodeTransaction(payload)
	if err != nil {
		return nil, err
	}
	msg := &tx.Message
	programs := make([]string, 0)
	for _, p := range Programs(msg) {
		programs = append(programs, p.String())
	}
	out := map[string]any{
		"fee_payer":        msg.AccountKeys[0].String(),
		"recent_blockhash": msg.RecentBlockhash.String(),
		"instructions":     len(msg.Instructions),
		"programs":         programs,
	}
	if transfers := Transfers(msg); len(transfers) > 0 {
		items := make([]map[string]any, 0, len(transfers))
		for _, t := range transfers {
			items = append(items, map[string]any{
				"from":     t.From.String(),
				"to":       t.To.String(),
				"lamports": t.Lamports,
				"sol":      formatSOL(t.Lamports),
			})
		}
		out["transfers"] = items
	}
	return out, nil
}

func formatSOL(lamports uint64) string {
	whole, frac := lamports/lamportsPerSOL, lamports%lamportsPerSOL
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	f := strconv.FormatUint(frac+lamportsPerSOL, 10)[1:]
	for f[len(f)-1] == '0' {
		f = f[:len(f)-1]
	}
	return strconv.FormatUint(whole, 10) + "." + f
}
