package ai

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nhle/inboxpilot/internal/model"
)

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// truncateRunes cuts s to at most n runes and reports whether it did.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 {
		return "", s != ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}

	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

// SenderName returns the display name of m's sender, or the title-cased
// local part of the address when there is none.
func SenderName(m *model.Message) string {
	if name := strings.TrimSpace(m.SenderName); name != "" {
		return name
	}

	local, _, _ := strings.Cut(m.SenderAddress, "@")
	words := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}

	if len(words) == 0 {
		return "there"
	}
	return strings.Join(words, " ")
}
