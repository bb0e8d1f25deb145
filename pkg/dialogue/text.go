package dialogue

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// StripEmoji removes every grapheme cluster that renders as an emoji,
// including ZWJ sequences, flags and skin-tone variants, then collapses the
// spaces left behind.
func StripEmoji(text string) string {
	if text == "" {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(text))
	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		if isEmojiCluster(gr.Runes()) {
			continue
		}
		sb.WriteString(gr.Str())
	}
	return collapseSpaces(sb.String())
}

func isEmojiCluster(runes []rune) bool {
	for _, r := range runes {
		if isEmojiRune(r) {
			return true
		}
		if r == 0xFE0F && len(runes) > 1 && isSymbolRune(runes[0]) {
			return true
		}
	}
	return false
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0x231A || r == 0x231B || (r >= 0x23E9 && r <= 0x23FA):
		return true
	case r == 0x2B50 || r == 0x2B55 || r == 0x2B1B || r == 0x2B1C:
		return true
	}
	return false
}

func isSymbolRune(r rune) bool {
	return unicode.IsSymbol(r) || unicode.Is(unicode.Other_Math, r)
}

func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// cleanResponse drops a leading "<assistant>:" and cuts the reply at the
// first stop pattern.
func cleanResponse(raw, assistant string, stops []string) string {
	text := strings.TrimSpace(raw)
	prefix := strings.ToLower(assistant) + ":"
	if strings.HasPrefix(strings.ToLower(text), prefix) {
		text = strings.TrimSpace(text[len(prefix):])
	}
	cut := len(text)
	for _, stop := range stops {
		if stop == "" {
			continue
		}
		if idx := strings.Index(text, stop); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return strings.TrimSpace(text[:cut])
}

// MatchEmotion maps a free-form model answer onto one of the allowed
// emotions: an exact match first, then the first allowed name contained in
// the answer, else fallback.
func MatchEmotion(raw string, allowed []string, fallback string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, raw)
	if cleaned == "" {
		return fallback
	}
	for _, name := range allowed {
		if cleaned == name {
			return name
		}
	}
	for _, name := range allowed {
		if name != "" && strings.Contains(cleaned, name) {
			return name
		}
	}
	return fallback
}

func stopPatterns(assistant string) []string {
	return []string{
		"User:", "User :", "\nUser:",
		assistant + ":", assistant + " :", "\n" + assistant + ":",
		"Assistant:", "Assistant :", "\nAssistant:",
		"\n\n\n",
	}
}
