package mapper

import (
	"strings"
	"unicode"
)

// Normalize lower-cases s, drops every rune that is not a letter, digit or
// whitespace and joins the remaining words with single underscores.
// "First Name" and "first name?" both become "first_name"; the underscore of
// an identifier is punctuation, so "first_name" becomes "firstname".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), "_")
}

// Compact folds camelCase, lower-cases and removes every separator, so
// "firstName", "First-Name" and "first_name" compare equal.
func Compact(s string) string {
	return strings.Join(Tokens(s), "")
}

// Tokens splits s into lower-case words on separators and camelCase
// boundaries. "getHTTPResponse" yields get, http, response.
func Tokens(s string) []string {
	var tokens []string
	var current strings.Builder
	runes := []rune(s)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if i > 0 && startsToken(runes, i) {
			flush()
		}
		current.WriteRune(r)
	}
	flush()
	return tokens
}

func startsToken(runes []rune, i int) bool {
	r, prev := runes[i], runes[i-1]
	if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
		return false
	}
	if unicode.IsUpper(r) && !unicode.IsUpper(prev) {
		return true
	}
	// end of an acronym: "XMLParser" splits before P
	return unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
}
