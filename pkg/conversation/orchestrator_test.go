package conversation

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/dialogue"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeGate struct {
	epoch   uint64
	pauses  int
	resumes int
	paused  bool
}

func (g *fakeGate) Pause(context.Context) (uint64, error) {
	g.pauses++
	g.epoch++
	g.paused = true
	return g.epoch, nil
}

func (g *fakeGate) Resume(context.Context) (uint64, error) {
	g.resumes++
	g.epoch++
	g.paused = false
	return g.epoch, nil
}

type fakeDialogue struct {
	requests []dialogue.TurnRequest
	result   dialogue.TurnResult
	err      error
	resets   int
	gate     *fakeGate
	pausedIn []bool
}

func (d *fakeDialogue) ProcessTurn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnResult, error) {
	d.requests = append(d.requests, req)
	if d.gate != nil {
		d.pausedIn = append(d.pausedIn, d.gate.paused)
	}
	return d.result, d.err
}

func (d *fakeDialogue) ResetContext() { d.resets++ }

type recordingDisplay struct {
	emotions []string
	blinks   int
}

func (d *recordingDisplay) SetEmotion(name string) bool {
	d.emotions = append(d.emotions, name)
	return true
}

func (d *recordingDisplay) Blink() bool {
	d.blinks++
	return true
}

type recordingSpeaker struct{ texts []string }

func (s *recordingSpeaker) Speak(ctx context.Context, text string) {
	s.texts = append(s.texts, text)
}

type fakeMemory struct{ clears int }

func (m *fakeMemory) ClearAll(context.Context) error {
	m.clears++
	return nil
}

type fakeRegistrar struct {
	calls int
	name  string
	err   error
}

func (r *fakeRegistrar) Register(context.Context) (string, error) {
	r.calls++
	return r.name, r.err
}

type harness struct {
	o         *Orchestrator
	clock     *fakeClock
	gate      *fakeGate
	dialogue  *fakeDialogue
	display   *recordingDisplay
	speaker   *recordingSpeaker
	memory    *fakeMemory
	registrar *fakeRegistrar
	events    *bus.Queue[bus.PerceptionEvent]
	console   *bus.Queue[bus.ConsoleLine]
	out       *bytes.Buffer
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:     &fakeClock{now: t0},
		gate:      &fakeGate{},
		display:   &recordingDisplay{},
		speaker:   &recordingSpeaker{},
		memory:    &fakeMemory{},
		registrar: &fakeRegistrar{name: "Bob"},
		events:    bus.NewQueue[bus.PerceptionEvent]("events", 16),
		console:   bus.NewQueue[bus.ConsoleLine]("console", 16),
		out:       &bytes.Buffer{},
	}
	h.dialogue = &fakeDialogue{
		gate:   h.gate,
		result: dialogue.TurnResult{Text: "Hi there!", Emotion: "joy"},
	}
	opts := Options{
		AssistantName: "Julie",
		TriggerWord:   "julie",
		TickInterval:  time.Millisecond,
		Timeout:       120 * time.Second,
		Cooldown:      600 * time.Second,
		Now:           h.clock.Now,
	}
	if mutate != nil {
		mutate(&opts)
	}
	o, err := NewOrchestrator(opts, Dependencies{
		Gate:      h.gate,
		Dialogue:  h.dialogue,
		Display:   h.display,
		Speaker:   h.speaker,
		Memory:    h.memory,
		Registrar: h.registrar,
		Events:    h.events,
		Console:   h.console,
		Out:       NewConsole(h.out),
	})
	require.NoError(t, err)
	h.o = o
	return h
}

func (h *harness) speech(text string, trigger bool, identity string, known bool) {
	h.events.TryPublish(bus.NewSpeechEvent(h.gate.epoch, h.clock.now, bus.SpeechStable{
		Text:                text,
		UserEmotion:         "joy",
		UserIdentity:        identity,
		IsKnownUser:         known,
		ContainsTriggerWord: trigger,
	}))
}

func (h *harness) visual(identity, emotion string) {
	h.events.TryPublish(bus.NewVisualEvent(h.gate.epoch, h.clock.now, bus.VisualInfoUpdate{
		Emotion:  emotion,
		Identity: identity,
	}))
}

func (h *harness) typeLine(text string) {
	h.console.TryPublish(bus.ConsoleLine{Text: text})
}

func TestTick_TriggerWordStartsSessionWithOneTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.speech("hey julie how are you", true, "---", false)

	h.o.Tick(context.Background())

	sm := h.o.StateMachine()
	require.True(t, sm.Active())
	session, _ := sm.Session()
	assert.Equal(t, TriggerKeyword, session.Trigger)
	require.Len(t, h.dialogue.requests, 1)
	assert.Equal(t, "hey julie how are you", h.dialogue.requests[0].Text)
	assert.Equal(t, []bool{true}, h.dialogue.pausedIn, "turn runs with perception paused")
	assert.Equal(t, 1, h.gate.pauses)
	assert.Equal(t, 1, h.gate.resumes)
	assert.Equal(t, 1, h.dialogue.resets)
	assert.Equal(t, []string{"Hi there!"}, h.speaker.texts)
	assert.Contains(t, h.out.String(), "Julie (joy): Hi there!")
	assert.Equal(t, "joy", h.display.emotions[len(h.display.emotions)-1])
}

func TestTick_UtteranceWithoutTriggerIsIgnoredWhileIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.speech("what a nice day", false, "Alice", true)

	h.o.Tick(context.Background())

	assert.False(t, h.o.StateMachine().Active())
	assert.Empty(t, h.dialogue.requests)
	assert.Zero(t, h.gate.pauses)
}

func TestTick_TimeoutEndsSessionThenCooldownExpiryResetsGreeted(t *testing.T) {
	h := newHarness(t, nil)
	h.speech("julie", true, "---", false)
	h.o.Tick(context.Background())
	sm := h.o.StateMachine()
	require.True(t, sm.Active())

	h.clock.Advance(121 * time.Second)
	h.o.Tick(context.Background())
	assert.False(t, sm.Active())
	assert.True(t, sm.CooldownActive())
	assert.Contains(t, h.out.String(), "(Conversation ended after inactivity.)")

	sm.SetLastGreeted("Alice")
	h.clock.Advance(601 * time.Second)
	h.o.Tick(context.Background())
	assert.False(t, sm.CooldownActive())
	assert.Empty(t, sm.LastGreeted())
}

func TestTick_KnownFaceGreetsOncePerSession(t *testing.T) {
	h := newHarness(t, nil)
	h.visual("Alice", "joy")
	h.o.Tick(context.Background())

	sm := h.o.StateMachine()
	require.True(t, sm.Active())
	require.Len(t, h.dialogue.requests, 1)
	assert.Equal(t, dialogue.TurnRequest{Text: "Hello Alice.", UserEmotion: "joy", UserName: "Alice"}, h.dialogue.requests[0])
	assert.Equal(t, "Alice", sm.LastGreeted())

	h.visual("Alice", "joy")
	h.o.Tick(context.Background())
	assert.Len(t, h.dialogue.requests, 1, "same identity in an active session must not re-trigger")
}

func TestTick_UnknownAndPlaceholderFacesDoNotGreet(t *testing.T) {
	h := newHarness(t, nil)
	h.visual("unknown face", "joy")
	h.o.Tick(context.Background())
	h.visual("---", "---")
	h.o.Tick(context.Background())

	assert.False(t, h.o.StateMachine().Active())
	assert.Empty(t, h.dialogue.requests)
}

func TestTick_CooldownSuppressesFaceGreeting(t *testing.T) {
	h := newHarness(t, nil)
	h.dialogue.result = dialogue.TurnResult{Text: "Bye!", Emotion: "sadness", ShouldEnd: true}
	h.visual("Alice", "joy")
	h.o.Tick(context.Background())

	sm := h.o.StateMachine()
	require.False(t, sm.Active(), "assistant ended the session")
	require.True(t, sm.CooldownActive())

	h.visual("Alice", "joy")
	h.o.Tick(context.Background())
	assert.Len(t, h.dialogue.requests, 1)
}

func TestTick_ConsoleIsHandledBeforePerception(t *testing.T) {
	h := newHarness(t, nil)
	h.speech("julie are you there", true, "---", false)
	h.typeLine("hello julie")

	h.o.Tick(context.Background())

	require.Len(t, h.dialogue.requests, 1)
	assert.Equal(t, "hello julie", h.dialogue.requests[0].Text)
	assert.Equal(t, "ConsoleUser", h.dialogue.requests[0].UserName)
	assert.Equal(t, NeutralEmotion, h.dialogue.requests[0].UserEmotion)
	session, ok := h.o.StateMachine().Session()
	require.True(t, ok)
	assert.Equal(t, TriggerConsole, session.Trigger)
	assert.Equal(t, 1, h.events.Len(), "perception event waits for a later tick")
}

func TestTick_DropsEventsFromEarlierGateEpoch(t *testing.T) {
	h := newHarness(t, nil)
	h.speech("stale julie", true, "---", false)
	h.typeLine("julie")
	h.o.Tick(context.Background())
	require.Len(t, h.dialogue.requests, 1)

	h.o.Tick(context.Background())
	assert.Len(t, h.dialogue.requests, 1, "speech captured before the turn is stale")
	assert.Zero(t, h.events.Len())

	h.speech("and now?", false, "---", false)
	h.o.Tick(context.Background())
	require.Len(t, h.dialogue.requests, 2)
	assert.Equal(t, "and now?", h.dialogue.requests[1].Text)
}

func TestTick_OneInitiationPerTick(t *testing.T) {
	h := newHarness(t, nil)
	h.visual("Alice", "joy")
	h.speech("julie", true, "Alice", true)

	h.o.Tick(context.Background())
	assert.Len(t, h.dialogue.requests, 1)
	assert.Equal(t, 1, h.events.Len())
}

func TestTick_ConsoleHintWhenIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.typeLine("hello there")
	h.o.Tick(context.Background())

	assert.Empty(t, h.dialogue.requests)
	assert.Contains(t, h.out.String(), "(Conversation not active. Say 'julie'.)")
}

func TestTick_ConsoleUsesLastGreetedName(t *testing.T) {
	h := newHarness(t, nil)
	h.visual("Alice", "joy")
	h.o.Tick(context.Background())
	h.typeLine("what time is it?")
	h.o.Tick(context.Background())

	require.Len(t, h.dialogue.requests, 2)
	assert.Equal(t, "Alice", h.dialogue.requests[1].UserName)
}

func TestTick_ResetMemoryEndsWithoutCooldown(t *testing.T) {
	h := newHarness(t, nil)
	h.visual("Alice", "joy")
	h.o.Tick(context.Background())
	require.True(t, h.o.StateMachine().Active())

	h.typeLine("Reset Memory")
	h.o.Tick(context.Background())

	sm := h.o.StateMachine()
	assert.Equal(t, 1, h.memory.clears)
	assert.False(t, sm.Active())
	assert.False(t, sm.CooldownActive())
	assert.Empty(t, sm.LastGreeted())
	assert.Equal(t, NeutralEmotion, h.display.emotions[len(h.display.emotions)-1])
	assert.Equal(t, h.gate.pauses, h.gate.resumes)
	assert.Contains(t, h.out.String(), "(Memory cleared.)")
}

func TestTick_FaceRegistrationRunsInsideTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.dialogue.result = dialogue.TurnResult{Text: "Let's do it.", Emotion: "joy", FaceRegistrationRequested: true}
	h.typeLine("julie remember my face")
	h.o.Tick(context.Background())

	sm := h.o.StateMachine()
	assert.Equal(t, 1, h.registrar.calls)
	assert.Equal(t, "Bob", sm.LastGreeted())
	assert.True(t, sm.Active())
	assert.Equal(t, 1, h.gate.resumes)

	h.clock.Advance(119 * time.Second)
	h.o.Tick(context.Background())
	assert.True(t, sm.Active(), "timeout restarts after registration")
}

func TestTick_FailedRegistrationKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.registrar.err = ErrRegistrationCancelled
	h.dialogue.result = dialogue.TurnResult{Text: "Ok.", FaceRegistrationRequested: true}
	h.typeLine("julie register me")
	h.o.Tick(context.Background())

	assert.True(t, h.o.StateMachine().Active())
	assert.Empty(t, h.o.StateMachine().LastGreeted())
	assert.Contains(t, h.out.String(), "Julie (neutral): Ok.")
}

func TestTick_ConsoleEOFDuringRegistrationQuits(t *testing.T) {
	h := newHarness(t, nil)
	prompts := &answeringConsole{queue: h.console, answers: []bus.ConsoleLine{{EOF: true}}}
	capturer := &scriptedCapturer{}
	h.o.deps.Registrar = NewRegistrar(capturer, &recordingStore{}, h.display, h.speaker, h.console, NewConsole(prompts), RegistrarOptions{Interval: time.Millisecond})
	h.dialogue.result = dialogue.TurnResult{Text: "Let's do it.", Emotion: "joy", FaceRegistrationRequested: true}

	h.typeLine("julie remember my face")
	h.o.Tick(context.Background())

	assert.True(t, h.o.QuitRequested())
	assert.False(t, h.o.StateMachine().Active())
	assert.Zero(t, capturer.calls)
	assert.Equal(t, h.gate.pauses, h.gate.resumes)
	assert.Contains(t, h.out.String(), "Goodbye.")
}

func TestTick_DialogueFailureStillSpeaks(t *testing.T) {
	h := newHarness(t, nil)
	h.dialogue.err = errors.New("backend down")
	h.dialogue.result = dialogue.TurnResult{}
	h.typeLine("julie?")
	h.o.Tick(context.Background())

	require.Len(t, h.speaker.texts, 1)
	assert.Equal(t, "Sorry, something went wrong on my side.", h.speaker.texts[0])
	assert.True(t, h.o.StateMachine().Active())
	assert.Equal(t, 1, h.gate.resumes)
}

func TestTick_ForcedIdleSuppressesPerceptionInitiation(t *testing.T) {
	night, err := NewSchedule("* 8-20 * * *")
	require.NoError(t, err)
	h := newHarness(t, func(o *Options) { o.Schedule = night })
	h.clock.now = time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)

	h.speech("julie", true, "Alice", true)
	h.o.Tick(context.Background())
	h.visual("Alice", "joy")
	h.o.Tick(context.Background())
	assert.Empty(t, h.dialogue.requests)
	assert.True(t, h.o.StateMachine().ForcedIdle())

	h.typeLine("julie wake up")
	h.o.Tick(context.Background())
	assert.Len(t, h.dialogue.requests, 1)
}

func TestRun_QuitStopsLoop(t *testing.T) {
	h := newHarness(t, nil)
	h.typeLine("julie")
	h.typeLine("quit")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.o.Run(ctx))

	assert.True(t, h.o.QuitRequested())
	assert.False(t, h.o.StateMachine().Active())
	assert.NoError(t, ctx.Err(), "loop returned before the deadline")
	assert.Contains(t, h.out.String(), "Goodbye.")
}

func TestRun_ConsoleEOFQuits(t *testing.T) {
	h := newHarness(t, nil)
	h.console.TryPublish(bus.ConsoleLine{EOF: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.o.Run(ctx))
	assert.True(t, h.o.QuitRequested())
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Options{}, Dependencies{})
	assert.Error(t, err)
}
