package conversation

import "time"

// Deadline is a single-shot timer checked by its owner once per tick.
// Arming replaces any earlier expiry; a deadline that expired is reported
// once and then stays disarmed.
type Deadline struct {
	at    time.Time
	armed bool
}

func (d *Deadline) Arm(now time.Time, after time.Duration) {
	d.at = now.Add(after)
	d.armed = true
}

func (d *Deadline) Cancel() {
	d.armed = false
	d.at = time.Time{}
}

func (d *Deadline) Armed() bool {
	return d.armed
}

// Expired reports whether the deadline passed and disarms it when it did.
func (d *Deadline) Expired(now time.Time) bool {
	if !d.armed || now.Before(d.at) {
		return false
	}
	d.Cancel()
	return true
}

// Remaining is zero when the deadline is disarmed or overdue.
func (d *Deadline) Remaining(now time.Time) time.Duration {
	if !d.armed {
		return 0
	}
	if left := d.at.Sub(now); left > 0 {
		return left
	}
	return 0
}
