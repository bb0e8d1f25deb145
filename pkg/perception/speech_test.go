package perception

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIngest_ForwardExtensionsKeepLongest(t *testing.T) {
	start := time.Unix(1000, 0)
	a := NewAccumulator(1, start)
	for i, f := range []string{"hello", "hello jul", "hello julie", "hello julie how are you"} {
		a.Ingest(f, start.Add(time.Duration(i)*100*time.Millisecond))
	}
	assert.Equal(t, "hello julie how are you", a.Text())
}

func TestIngest_MergeRule(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      string
	}{
		{"new utterance appended", []string{"hello there", "how are you"}, "hello there how are you"},
		{"repeated suffix ignored", []string{"hello there", "there"}, "hello there"},
		{"identical fragment ignored", []string{"hello", "hello"}, "hello"},
		{"blank fragment ignored", []string{"hello", "   "}, "hello"},
		{"fragment trimmed", []string{"  hi  "}, "hi"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Unix(0, 0)
			a := NewAccumulator(1, now)
			for _, f := range tc.fragments {
				a.Ingest(f, now)
			}
			assert.Equal(t, tc.want, a.Text())
		})
	}
}

func TestIngest_ResetsActivityClock(t *testing.T) {
	start := time.Unix(0, 0)
	a := NewAccumulator(1, start)
	a.Ingest("hello", start)
	a.Ingest("hello", start.Add(1500*time.Millisecond))

	_, ok := a.Poll(start.Add(3*time.Second), 2*time.Second)
	assert.False(t, ok, "clock should restart on every ingest")
	text, ok := a.Poll(start.Add(3600*time.Millisecond), 2*time.Second)
	assert.True(t, ok)
	assert.Equal(t, "hello", text)
}

func TestPoll_ReleasesAfterSilenceAndClears(t *testing.T) {
	start := time.Unix(0, 0)
	a := NewAccumulator(1, start)
	a.Ingest("julie are you there", start)

	_, ok := a.Poll(start.Add(2*time.Second), 2*time.Second)
	assert.False(t, ok, "timeout must be strictly exceeded")

	text, ok := a.Poll(start.Add(2001*time.Millisecond), 2*time.Second)
	assert.True(t, ok)
	assert.Equal(t, "julie are you there", text)
	assert.Empty(t, a.Text())

	_, ok = a.Poll(start.Add(10*time.Second), 2*time.Second)
	assert.False(t, ok)
}

func TestPoll_DiscardsShortUtterances(t *testing.T) {
	start := time.Unix(0, 0)
	a := NewAccumulator(3, start)
	a.Ingest("hi julie", start)

	_, ok := a.Poll(start.Add(3*time.Second), 2*time.Second)
	assert.False(t, ok)
	assert.Empty(t, a.Text(), "short utterance should be cleared, not kept")
}

func TestReset_ClearsTextAndRestartsClock(t *testing.T) {
	start := time.Unix(0, 0)
	a := NewAccumulator(1, start)
	a.Ingest("hello", start)
	a.Reset(start.Add(5 * time.Second))

	assert.Empty(t, a.Text())
	assert.Equal(t, start.Add(5*time.Second), a.LastActivity())
}
