package conversation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestDeadline_ArmReplacesEarlierExpiry(t *testing.T) {
	var d Deadline
	assert.False(t, d.Expired(t0), "disarmed deadline never expires")

	d.Arm(t0, 10*time.Second)
	d.Arm(t0.Add(5*time.Second), 10*time.Second)
	assert.False(t, d.Expired(t0.Add(12*time.Second)))
	assert.Equal(t, 3*time.Second, d.Remaining(t0.Add(12*time.Second)))

	assert.True(t, d.Expired(t0.Add(15*time.Second)))
	assert.False(t, d.Armed())
	assert.False(t, d.Expired(t0.Add(20*time.Second)), "expiry is reported once")
}

func TestDeadline_CancelIsNoOpWhenFired(t *testing.T) {
	var d Deadline
	d.Arm(t0, time.Second)
	require.True(t, d.Expired(t0.Add(time.Second)))
	d.Cancel()
	assert.False(t, d.Armed())
	assert.Equal(t, time.Duration(0), d.Remaining(t0))
}

func TestStateMachine_TimeoutStartsCooldownAndExpiryResetsGreeted(t *testing.T) {
	sm := NewStateMachine(120*time.Second, 600*time.Second)
	require.True(t, sm.BeginSession(t0, TriggerKeyword, "Alice"))
	assert.Equal(t, StateActive, sm.State())
	assert.False(t, sm.BeginSession(t0, TriggerKeyword, "Bob"), "second begin while active")

	_, ended := sm.CheckTimeout(t0.Add(119 * time.Second))
	assert.False(t, ended)

	session, ended := sm.CheckTimeout(t0.Add(121 * time.Second))
	require.True(t, ended)
	assert.Equal(t, "Alice", session.User)
	assert.Equal(t, StateIdle, sm.State())
	assert.True(t, sm.CooldownActive())

	sm.SetLastGreeted("Alice")
	assert.False(t, sm.CheckCooldown(t0.Add(700*time.Second)))
	assert.True(t, sm.CheckCooldown(t0.Add(722*time.Second)))
	assert.False(t, sm.CooldownActive())
	assert.Empty(t, sm.LastGreeted())
}

func TestStateMachine_TouchRearmsTimeout(t *testing.T) {
	sm := NewStateMachine(10*time.Second, time.Minute)
	sm.BeginSession(t0, TriggerConsole, "")
	sm.Touch(t0.Add(8 * time.Second))

	_, ended := sm.CheckTimeout(t0.Add(12 * time.Second))
	assert.False(t, ended)
	_, ended = sm.CheckTimeout(t0.Add(19 * time.Second))
	assert.True(t, ended)
}

func TestStateMachine_EndSessionResetsGreetedAndKeepsRunningCooldown(t *testing.T) {
	sm := NewStateMachine(time.Minute, 10*time.Minute)
	sm.BeginSession(t0, TriggerFace, "Alice")
	sm.SetLastGreeted("Alice")
	_, ok := sm.EndSession(t0.Add(time.Minute), EndAssistant, true)
	require.True(t, ok)
	assert.Empty(t, sm.LastGreeted())
	assert.True(t, sm.CooldownActive())

	_, ok = sm.EndSession(t0.Add(2*time.Minute), EndAssistant, true)
	assert.False(t, ok, "ending an idle machine is a no-op")
}

func TestStateMachine_ShouldGreet(t *testing.T) {
	sm := NewStateMachine(time.Minute, time.Minute)
	assert.True(t, sm.ShouldGreet("Alice", true))
	assert.False(t, sm.ShouldGreet("Alice", false))

	sm.SetLastGreeted("Alice")
	assert.False(t, sm.ShouldGreet("Alice", true))
	assert.True(t, sm.ShouldGreet("Bob", true))

	sm.NoteUnknownFace()
	assert.True(t, sm.ShouldGreet("Alice", true))

	sm.SetForcedIdle(true)
	assert.False(t, sm.ShouldGreet("Alice", true))
	assert.False(t, sm.ShouldStartOnSpeech(true))
	sm.SetForcedIdle(false)

	sm.BeginSession(t0, TriggerKeyword, "")
	assert.False(t, sm.ShouldGreet("Bob", true))
	sm.EndSession(t0, EndTimeout, true)
	assert.False(t, sm.ShouldGreet("Bob", true), "cooldown suppresses greetings")
	sm.NoteUnknownFace()
	assert.False(t, sm.ShouldGreet("Bob", true))
}

func TestStateMachine_KeywordTriggerCancelsCooldown(t *testing.T) {
	sm := NewStateMachine(time.Minute, time.Hour)
	sm.BeginSession(t0, TriggerFace, "Alice")
	sm.EndSession(t0, EndAssistant, true)
	require.True(t, sm.CooldownActive())

	sm.BeginSession(t0.Add(time.Second), TriggerFace, "Alice")
	sm.EndSession(t0.Add(time.Second), EndAssistant, true)
	assert.True(t, sm.CooldownActive())

	sm.BeginSession(t0.Add(2*time.Second), TriggerKeyword, "")
	assert.False(t, sm.CooldownActive())
}

func TestSchedule_Awake(t *testing.T) {
	_, err := NewSchedule("not a cron")
	assert.Error(t, err)

	always, err := NewSchedule("")
	require.NoError(t, err)
	assert.True(t, always.Awake(t0))

	daytime, err := NewSchedule("* 8-20 * * *")
	require.NoError(t, err)
	assert.True(t, daytime.Awake(time.Date(2026, 3, 14, 12, 34, 0, 0, time.UTC)))
	assert.False(t, daytime.Awake(time.Date(2026, 3, 14, 23, 10, 0, 0, time.UTC)))

	var none *Schedule
	assert.True(t, none.Awake(t0))
}
