package perception

import (
	"strings"
	"time"
)

// Accumulator merges recognized speech fragments into one pending utterance
// and releases it once the speaker has been silent long enough.
type Accumulator struct {
	text         string
	lastActivity time.Time
	minWords     int
}

func NewAccumulator(minWords int, now time.Time) *Accumulator {
	if minWords < 1 {
		minWords = 1
	}
	return &Accumulator{minWords: minWords, lastActivity: now}
}

// Ingest merges one fragment. A fragment that extends the pending text
// replaces it; any other fragment is appended unless the pending text already
// ends with it. Blank fragments are ignored and report false.
func (a *Accumulator) Ingest(fragment string, now time.Time) bool {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return false
	}

	switch {
	case a.text == "":
		a.text = fragment
	case len(fragment) > len(a.text) && strings.HasPrefix(fragment, a.text):
		a.text = fragment
	case !strings.HasSuffix(a.text, fragment):
		a.text += " " + fragment
	}
	a.lastActivity = now
	return true
}

// Poll releases the pending utterance when more than timeout has passed since
// the last fragment. Utterances shorter than the minimum word count are
// discarded. Either way the pending text is cleared and the clock restarts.
func (a *Accumulator) Poll(now time.Time, timeout time.Duration) (string, bool) {
	if a.text == "" || now.Sub(a.lastActivity) <= timeout {
		return "", false
	}

	text := strings.TrimSpace(a.text)
	a.text = ""
	a.lastActivity = now

	if len(strings.Fields(text)) < a.minWords {
		return "", false
	}
	return text, true
}

func (a *Accumulator) Text() string {
	return a.text
}

func (a *Accumulator) LastActivity() time.Time {
	return a.lastActivity
}

// Reset drops the pending text and restarts the silence clock at now.
func (a *Accumulator) Reset(now time.Time) {
	a.text = ""
	a.lastActivity = now
}
