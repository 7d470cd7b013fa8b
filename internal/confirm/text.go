package confirm

import "strings"

// ConfirmText holds the pieces recovered from a free-form confirmation
// message such as "confirm evm_confirm_1_ab hash:0x… token:abc".
type ConfirmText struct {
	ID          string
	SummaryHash string
	Token       string
}

const trimChars = ",.;:()[]{}<>\"'"

// ParseConfirmText extracts an id, summary hash and token from text.
// Ids are recognized by the "_confirm_" infix; hashes are 64 hex characters
// with an optional 0x prefix, optionally tagged hash, summary or
// summary_hash; tokens must be tagged token. Tags take ":" or "=", so the
// creation message can be pasted back verbatim.
func ParseConfirmText(text string) ConfirmText {
	var out ConfirmText
	for _, raw := range strings.Fields(text) {
		tag, value := splitTag(raw)
		value = strings.Trim(value, trimChars)
		switch tag {
		case "token":
			if value != "" && out.Token == "" {
				out.Token = value
			}
			continue
		case "hash", "summary", "summary_hash", "":
		default:
			continue
		}
		switch {
		case out.SummaryHash == "" && isSummaryHash(strings.ToLower(value)):
			out.SummaryHash = strings.ToLower(value)
		case tag == "" && out.ID == "" && strings.Contains(value, "_confirm_"):
			out.ID = value
		}
	}
	return out
}

// splitTag splits "tag:value" or "tag=value". Untagged words return an
// empty tag.
func splitTag(word string) (tag, value string) {
	word = strings.TrimLeft(word, trimChars)
	i := strings.IndexAny(word, ":=")
	if i <= 0 {
		return "", word
	}
	return strings.ToLower(word[:i]), word[i+1:]
}

func isSummaryHash(s string) bool {
	hexPart := strings.TrimPrefix(s, "0x")
	if len(hexPart) != 64 {
		return false
	}
	for _, c := range hexPart {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}
