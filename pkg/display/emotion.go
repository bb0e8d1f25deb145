package display

import "strings"

const NeutralEmotion = "neutral"

// EmotionMapper normalizes emotion names coming from the dialogue engine to
// the set the renderer can draw.
type EmotionMapper struct {
	known   map[string]struct{}
	aliases map[string]string
}

func NewEmotionMapper(emotions []string, aliases map[string]string) *EmotionMapper {
	m := &EmotionMapper{
		known:   make(map[string]struct{}, len(emotions)+1),
		aliases: make(map[string]string, len(aliases)),
	}
	m.known[NeutralEmotion] = struct{}{}
	for _, e := range emotions {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			m.known[e] = struct{}{}
		}
	}
	for from, to := range aliases {
		m.aliases[strings.ToLower(strings.TrimSpace(from))] = strings.ToLower(strings.TrimSpace(to))
	}
	return m
}

// Map lowercases name, resolves aliases and falls back to neutral for
// anything the renderer does not know.
func (m *EmotionMapper) Map(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := m.aliases[key]; ok {
		key = alias
	}
	if _, ok := m.known[key]; ok {
		return key
	}
	return NeutralEmotion
}
