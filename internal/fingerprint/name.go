package fingerprint

import (
	"strings"
)

// minSerialLen is the minimum token length treated as a serial fragment.
const minSerialLen = 4

// Pattern normalises an advertised device name into a stable pattern.
//
// Many devices embed rotating or per-unit fragments in their names
// ("Tile_a1f4", "Device-1234"). The pattern keeps the naming shape while
// collapsing those fragments so that sibling units and renumbered
// advertisements match:
//
//   - lowercased and trimmed
//   - hex-looking tokens of 4+ characters containing a digit become "#"
//   - remaining decimal digit runs become "#"
//
// "Device-1234" and "Device-5678" both yield "device-#".
func Pattern(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "" {
		return ""
	}

	var b strings.Builder
	var token strings.Builder

	flush := func() {
		if token.Len() > 0 {
			b.WriteString(collapseToken(token.String()))
			token.Reset()
		}
	}

	for _, r := range s {
		if isSeparator(r) {
			flush()
			b.WriteRune(r)
			continue
		}
		token.WriteRune(r)
	}
	flush()

	return b.String()
}

// isSeparator reports whether r delimits name tokens.
func isSeparator(r rune) bool {
	return r == ' ' || r == '-' || r == '_' || r == ':'
}

// collapseToken reduces a single name token to its pattern form.
func collapseToken(token string) string {
	if isSerialFragment(token) {
		return "#"
	}
	return collapseDigits(token)
}

// isSerialFragment reports whether a token looks like a per-unit serial:
// hex characters only, at least one digit, minimum length.
func isSerialFragment(token string) bool {
	if len(token) < minSerialLen {
		return false
	}
	hasDigit := false
	for _, r := range token {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return hasDigit
}

// collapseDigits replaces each run of decimal digits with a single '#'.
func collapseDigits(s string) string {
	var b strings.Builder
	inDigits := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			if !inDigits {
				b.WriteByte('#')
				inDigits = true
			}
			continue
		}
		inDigits = false
		b.WriteRune(r)
	}
	return b.String()
}
