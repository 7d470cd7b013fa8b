package policy

import (
	"fmt"
	"strings"
)

// MessageContext carries the record details quoted in a decision message.
type MessageContext struct {
	ID          string
	ChainKey    string
	SummaryHash string
	Token       string
	ExpiresInMs int64
}

// DecisionMessage renders a human-readable next step for d.
func DecisionMessage(d Decision, mc MessageContext) string {
	var b strings.Builder
	switch d.Verdict {
	case VerdictDeny:
		fmt.Fprintf(&b, "Transaction on %s denied by policy", mc.ChainKey)
		if len(d.Reasons) > 0 {
			fmt.Fprintf(&b, ": %s", strings.Join(d.Reasons, "; "))
		}
		b.WriteString(".")
		return b.String()
	case VerdictSecondFactor:
		fmt.Fprintf(&b, "Second confirmation required for %s", mc.ID)
		if len(d.Reasons) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(d.Reasons, "; "))
		}
		fmt.Fprintf(&b, ". Confirm with summary_hash=%s and token=%s", mc.SummaryHash, mc.Token)
	default:
		fmt.Fprintf(&b, "Confirm %s with summary_hash=%s", mc.ID, mc.SummaryHash)
	}
	if mc.ExpiresInMs > 0 {
		fmt.Fprintf(&b, " within %ds", (mc.ExpiresInMs+999)/1000)
	}
	b.WriteString(".")
	for _, w := range d.Warnings {
		fmt.Fprintf(&b, "\nWARNING: %s", w)
	}
	return b.String()
}
