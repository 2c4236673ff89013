// Package cmdline assembles the external segmentation tool's argument
// vector from a run configuration.
package cmdline

import "strings"

// Tokenize splits a raw argument string the way a shell would: whitespace
// separates tokens, single or double quotes group, and a backslash escapes
// exactly the next character. An unmatched quote consumes to the end of
// the string.
func Tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inToken := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\':
			inToken = true
			if i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
			}
		case r == '\'' || r == '"':
			inToken = true
			quote := r
			// Consume to matching quote, or to end of string if unmatched
			for i++; i < len(runes); i++ {
				if runes[i] == '\\' && quote == '"' && i+1 < len(runes) {
					i++
					cur.WriteRune(runes[i])
					continue
				}
				if runes[i] == quote {
					break
				}
				cur.WriteRune(runes[i])
			}
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			inToken = true
			cur.WriteRune(r)
		}
	}
	flush()

	return tokens
}
