package perception

import "time"

// Gate switches the expensive per-frame pipeline on and off around dialogue
// turns. Both transitions wipe the transient perception state so nothing
// observed before a turn leaks into the next one.
type Gate struct {
	open    bool
	epoch   uint64
	voter   *Voter
	speech  *Accumulator
	tracker *Tracker
}

// NewGate returns an open gate guarding the given state.
func NewGate(voter *Voter, speech *Accumulator, tracker *Tracker) *Gate {
	return &Gate{open: true, voter: voter, speech: speech, tracker: tracker}
}

// Pause closes the gate and clears histories, pending speech and tracking.
func (g *Gate) Pause(now time.Time) uint64 {
	g.clear(now)
	if g.open {
		g.open = false
		g.epoch++
	}
	return g.epoch
}

// Resume clears the same state, restarts the silence clock and reopens the
// gate.
func (g *Gate) Resume(now time.Time) uint64 {
	g.clear(now)
	if !g.open {
		g.open = true
		g.epoch++
	}
	return g.epoch
}

func (g *Gate) Open() bool {
	return g.open
}

// Epoch increases on every open/close transition.
func (g *Gate) Epoch() uint64 {
	return g.epoch
}

func (g *Gate) clear(now time.Time) {
	g.voter.Reset()
	g.speech.Reset(now)
	g.tracker.Reset()
}
