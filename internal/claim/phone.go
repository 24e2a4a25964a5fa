package claim

import (
	"strings"
	"unicode"
)

// NormalizePhone reduces input to the 11-digit local form (0XXXXXXXXXX).
// The international form 92XXXXXXXXXX is converted; anything else is rejected.
func NormalizePhone(input string) (string, bool) {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "92"):
		return "0" + digits[2:], true
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		return digits, true
	default:
		return "", false
	}
}

// ParsePhones splits a message into normalized keys, keeping the first occurrence of
// each and returning the tokens that could not be parsed.
func ParsePhones(text string) (keys, invalid []string) {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';'
	})

	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		key, ok := NormalizePhone(field)
		if !ok {
			invalid = append(invalid, field)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	return keys, invalid
}
