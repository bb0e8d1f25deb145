package perception

// Channel names an independently voted signal.
type Channel string

const (
	ChannelEmotion  Channel = "emotion"
	ChannelIdentity Channel = "identity"
)

// Voter keeps a bounded label history per channel and reduces it to one
// stable label by majority vote.
type Voter struct {
	size         int
	placeholder  string
	placeholders map[string]struct{}
	histories    map[Channel][]string
}

// NewVoter creates a voter with window size per channel. The first entry of
// placeholders is returned for an empty history.
func NewVoter(size int, placeholders []string) *Voter {
	if size <= 0 {
		size = 15
	}
	if len(placeholders) == 0 {
		placeholders = []string{"---"}
	}
	set := make(map[string]struct{}, len(placeholders))
	for _, p := range placeholders {
		set[p] = struct{}{}
	}
	return &Voter{
		size:         size,
		placeholder:  placeholders[0],
		placeholders: set,
		histories:    make(map[Channel][]string),
	}
}

// Record appends label to the channel history, dropping the oldest sample
// once the window is full.
func (v *Voter) Record(ch Channel, label string) {
	h := append(v.histories[ch], label)
	if len(h) > v.size {
		h = h[len(h)-v.size:]
	}
	v.histories[ch] = h
}

// Stabilize returns the most frequent informative label of the channel.
// Placeholders only count when nothing else was seen. Ties go to the label
// that appeared first in the window.
func (v *Voter) Stabilize(ch Channel) string {
	h := v.histories[ch]
	if len(h) == 0 {
		return v.placeholder
	}

	source := make([]string, 0, len(h))
	for _, label := range h {
		if !v.IsPlaceholder(label) {
			source = append(source, label)
		}
	}
	if len(source) == 0 {
		source = h
	}

	counts := make(map[string]int, len(source))
	order := make([]string, 0, len(source))
	for _, label := range source {
		if counts[label] == 0 {
			order = append(order, label)
		}
		counts[label]++
	}

	best, bestCount := v.placeholder, 0
	for _, label := range order {
		if counts[label] > bestCount {
			best, bestCount = label, counts[label]
		}
	}
	return best
}

func (v *Voter) IsPlaceholder(label string) bool {
	_, ok := v.placeholders[label]
	return ok
}

// Len reports the number of samples held for ch.
func (v *Voter) Len(ch Channel) int {
	return len(v.histories[ch])
}

// Reset clears every channel.
func (v *Voter) Reset() {
	for ch := range v.histories {
		delete(v.histories, ch)
	}
}
