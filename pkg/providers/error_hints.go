package providers

import "strings"

type errorHint struct {
	needles []string
	hint    string
}

var errorHints = []errorHint{
	{
		needles: []string{"exceed the context size", "context length", "too many tokens"},
		hint:    "lower memory.recent_turns or raise the context size of the inference server.",
	},
	{
		needles: []string{"loading model"},
		hint:    "the inference server is still loading the model; wait a moment and retry.",
	},
	{
		needles: []string{"unauthorized", "invalid api key", "incorrect api key"},
		hint:    "check provider.api_key, or leave it empty for a local server.",
	},
}

// augmentProviderError appends a config hint to well-known server errors.
func augmentProviderError(message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	if strings.Contains(lower, "model") && strings.Contains(lower, "not found") {
		return msg + " Hint: provider.model must name a model loaded by the inference server."
	}
	for _, h := range errorHints {
		for _, needle := range h.needles {
			if strings.Contains(lower, needle) {
				return msg + " Hint: " + h.hint
			}
		}
	}
	return msg
}
