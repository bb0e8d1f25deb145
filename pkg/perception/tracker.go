package perception

import "github.com/dotsetgreg/dotcompanion/pkg/faces"

// Tracker keeps attention on the same face across frames.
type Tracker struct {
	maxDistance float64
	last        faces.Embedding
}

func NewTracker(maxDistance float64) *Tracker {
	return &Tracker{maxDistance: maxDistance}
}

// Choose returns the index of the face to follow. The face nearest to the
// previously tracked one wins while it stays within maxDistance; otherwise
// the first face is picked. An empty frame clears tracking and returns -1.
func (t *Tracker) Choose(embeddings []faces.Embedding) int {
	if len(embeddings) == 0 {
		t.last = nil
		return -1
	}

	chosen := 0
	if t.last != nil {
		best := -1
		var minDist float64
		for i, e := range embeddings {
			d := faces.Distance(t.last, e)
			if best == -1 || d < minDist {
				best, minDist = i, d
			}
		}
		if minDist < t.maxDistance {
			chosen = best
		}
	}
	t.last = embeddings[chosen]
	return chosen
}

func (t *Tracker) Tracking() bool {
	return t.last != nil
}

func (t *Tracker) Reset() {
	t.last = nil
}
