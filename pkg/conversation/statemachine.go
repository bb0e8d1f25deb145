package conversation

import (
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
)

// Trigger names what started a session.
type Trigger string

const (
	TriggerKeyword Trigger = "keyword"
	TriggerFace    Trigger = "face"
	TriggerConsole Trigger = "console"
)

// EndReason names why a session ended.
type EndReason string

const (
	EndTimeout   EndReason = "timeout"
	EndAssistant EndReason = "assistant"
	EndQuit      EndReason = "quit"
	EndReset     EndReason = "reset"
)

type Session struct {
	Trigger         Trigger
	User            string
	StartedAt       time.Time
	LastInteraction time.Time
	Turns           int
}

// StateMachine tracks the active session, the turn timeout and the greeting
// cooldown. It is owned by a single goroutine and is not safe for
// concurrent use.
type StateMachine struct {
	timeout  time.Duration
	cooldown time.Duration

	session     *Session
	turnTimeout Deadline
	cooldownEnd Deadline
	lastGreeted string
	forcedIdle  bool
}

func NewStateMachine(timeout, cooldown time.Duration) *StateMachine {
	return &StateMachine{timeout: timeout, cooldown: cooldown}
}

func (sm *StateMachine) State() State {
	if sm.session != nil {
		return StateActive
	}
	return StateIdle
}

func (sm *StateMachine) Active() bool {
	return sm.session != nil
}

// Session returns a copy of the active session.
func (sm *StateMachine) Session() (Session, bool) {
	if sm.session == nil {
		return Session{}, false
	}
	return *sm.session, true
}

func (sm *StateMachine) CooldownActive() bool {
	return sm.cooldownEnd.Armed()
}

// LastGreeted is empty when nobody has been greeted since the last reset.
func (sm *StateMachine) LastGreeted() string {
	return sm.lastGreeted
}

func (sm *StateMachine) SetLastGreeted(identity string) {
	sm.lastGreeted = identity
}

func (sm *StateMachine) SetForcedIdle(on bool) {
	if sm.forcedIdle == on {
		return
	}
	sm.forcedIdle = on
	logger.InfoCF("conversation", "Forced idle changed", map[string]interface{}{
		"forced_idle": on,
	})
}

func (sm *StateMachine) ForcedIdle() bool {
	return sm.forcedIdle
}

// ShouldGreet reports whether a stabilized known identity may start a
// session.
func (sm *StateMachine) ShouldGreet(identity string, known bool) bool {
	return known &&
		identity != "" &&
		sm.session == nil &&
		!sm.forcedIdle &&
		!sm.cooldownEnd.Armed() &&
		identity != sm.lastGreeted
}

// ShouldStartOnSpeech reports whether an utterance may start a session.
func (sm *StateMachine) ShouldStartOnSpeech(containsTrigger bool) bool {
	return containsTrigger && sm.session == nil && !sm.forcedIdle
}

// NoteUnknownFace forgets the last greeted identity when an unknown face
// is seen while idle and outside the cooldown, so the next known face is
// greeted again.
func (sm *StateMachine) NoteUnknownFace() {
	if sm.session == nil && !sm.cooldownEnd.Armed() {
		sm.lastGreeted = ""
	}
}

// BeginSession moves Idle to Active and arms the turn timeout. It returns
// false when a session is already active.
func (sm *StateMachine) BeginSession(now time.Time, trigger Trigger, user string) bool {
	if sm.session != nil {
		return false
	}
	sm.session = &Session{
		Trigger:         trigger,
		User:            user,
		StartedAt:       now,
		LastInteraction: now,
	}
	sm.turnTimeout.Arm(now, sm.timeout)
	if trigger != TriggerFace {
		sm.cooldownEnd.Cancel()
	}
	logger.InfoCF("conversation", "Session started", map[string]interface{}{
		"trigger": string(trigger),
		"user":    user,
	})
	return true
}

// Touch records an interaction and re-arms the turn timeout.
func (sm *StateMachine) Touch(now time.Time) {
	if sm.session == nil {
		return
	}
	sm.session.LastInteraction = now
	sm.session.Turns++
	sm.turnTimeout.Arm(now, sm.timeout)
}

// HoldTimeout disarms the turn timeout while a nested procedure runs.
func (sm *StateMachine) HoldTimeout() {
	sm.turnTimeout.Cancel()
}

// RearmTimeout restarts the turn timeout without counting a turn.
func (sm *StateMachine) RearmTimeout(now time.Time) {
	if sm.session == nil {
		return
	}
	sm.turnTimeout.Arm(now, sm.timeout)
}

// EndSession moves Active to Idle and, unless startCooldown is false,
// starts the greeting cooldown. It returns the ended session.
func (sm *StateMachine) EndSession(now time.Time, reason EndReason, startCooldown bool) (Session, bool) {
	if sm.session == nil {
		return Session{}, false
	}
	ended := *sm.session
	sm.session = nil
	sm.turnTimeout.Cancel()
	if startCooldown {
		sm.startCooldown(now)
	}
	logger.InfoCF("conversation", "Session ended", map[string]interface{}{
		"reason":   string(reason),
		"turns":    ended.Turns,
		"duration": now.Sub(ended.StartedAt).Round(time.Millisecond).String(),
		"cooldown": sm.cooldownEnd.Armed(),
	})
	return ended, true
}

// ClearCooldown cancels the cooldown and forgets the last greeted identity.
func (sm *StateMachine) ClearCooldown() {
	sm.cooldownEnd.Cancel()
	sm.lastGreeted = ""
}

// CheckTimeout ends the session when the turn timeout expired.
func (sm *StateMachine) CheckTimeout(now time.Time) (Session, bool) {
	if sm.session == nil || !sm.turnTimeout.Expired(now) {
		return Session{}, false
	}
	return sm.EndSession(now, EndTimeout, true)
}

// CheckCooldown reports the cooldown expiry once and resets the last
// greeted identity.
func (sm *StateMachine) CheckCooldown(now time.Time) bool {
	if !sm.cooldownEnd.Expired(now) {
		return false
	}
	sm.lastGreeted = ""
	logger.InfoC("conversation", "Greeting cooldown expired")
	return true
}

func (sm *StateMachine) startCooldown(now time.Time) {
	sm.lastGreeted = ""
	if sm.cooldownEnd.Armed() {
		return
	}
	sm.cooldownEnd.Arm(now, sm.cooldown)
	logger.DebugCF("conversation", "Greeting cooldown started", map[string]interface{}{
		"duration": sm.cooldown.String(),
	})
}
