// dotcompanion - Companion robot runtime
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 dotcompanion contributors

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/dialogue"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/metrics"
	"github.com/dotsetgreg/dotcompanion/pkg/perception"
)

const NeutralEmotion = "neutral"

// Gate pauses and resumes perception. Both calls return the gate epoch
// after the change.
type Gate interface {
	Pause(ctx context.Context) (uint64, error)
	Resume(ctx context.Context) (uint64, error)
}

type Dialogue interface {
	ProcessTurn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnResult, error)
	ResetContext()
}

type Display interface {
	SetEmotion(name string) bool
	Blink() bool
}

type Speaker interface {
	Speak(ctx context.Context, text string)
}

type MemoryResetter interface {
	ClearAll(ctx context.Context) error
}

type FaceRegistrar interface {
	Register(ctx context.Context) (string, error)
}

type Options struct {
	AssistantName   string
	TriggerWord     string
	ConsoleUserName string
	UnknownIdentity string
	Placeholders    []string
	TickInterval    time.Duration
	Timeout         time.Duration
	Cooldown        time.Duration
	Schedule        *Schedule
	Now             func() time.Time
}

func OptionsFromConfig(cfg *config.Config) (Options, error) {
	schedule, err := NewSchedule(cfg.Conversation.AwakeCron)
	if err != nil {
		return Options{}, err
	}
	return Options{
		AssistantName:   cfg.Conversation.AssistantName,
		TriggerWord:     cfg.Conversation.TriggerWord,
		ConsoleUserName: cfg.Conversation.ConsoleUserName,
		UnknownIdentity: cfg.Perception.UnknownIdentity,
		Placeholders:    cfg.Perception.Placeholders,
		TickInterval:    cfg.Conversation.TickInterval(),
		Timeout:         cfg.Conversation.Timeout(),
		Cooldown:        cfg.Conversation.GreetingCooldown(),
		Schedule:        schedule,
	}, nil
}

type Dependencies struct {
	Gate      Gate
	Dialogue  Dialogue
	Display   Display
	Speaker   Speaker
	Memory    MemoryResetter
	Registrar FaceRegistrar
	Events    *bus.Queue[bus.PerceptionEvent]
	Console   *bus.Queue[bus.ConsoleLine]
	Out       *Console
	Metrics   *metrics.Metrics
}

// Orchestrator owns the conversation session. Once per tick it checks the
// turn timeout and the greeting cooldown, then handles either one console
// line or one fresh perception event, so at most one session can start per
// tick.
type Orchestrator struct {
	opts Options
	deps Dependencies
	sm   *StateMachine

	epoch uint64
	quit  bool
}

func NewOrchestrator(opts Options, deps Dependencies) (*Orchestrator, error) {
	if deps.Dialogue == nil {
		return nil, fmt.Errorf("conversation: dialogue is required")
	}
	if deps.Events == nil || deps.Console == nil {
		return nil, fmt.Errorf("conversation: event and console queues are required")
	}
	if deps.Display == nil {
		deps.Display = nopDisplay{}
	}
	if deps.Speaker == nil {
		deps.Speaker = nopSpeaker{}
	}
	if strings.TrimSpace(opts.AssistantName) == "" {
		opts.AssistantName = "Julie"
	}
	if strings.TrimSpace(opts.TriggerWord) == "" {
		opts.TriggerWord = strings.ToLower(opts.AssistantName)
	}
	if opts.ConsoleUserName == "" {
		opts.ConsoleUserName = "ConsoleUser"
	}
	if opts.UnknownIdentity == "" {
		opts.UnknownIdentity = "unknown face"
	}
	if len(opts.Placeholders) == 0 {
		opts.Placeholders = []string{"---", "impossible"}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		opts: opts,
		deps: deps,
		sm:   NewStateMachine(opts.Timeout, opts.Cooldown),
	}, nil
}

// StateMachine exposes the session state for inspection.
func (o *Orchestrator) StateMachine() *StateMachine {
	return o.sm
}

// QuitRequested reports whether a quit command or the end of console input
// was seen.
func (o *Orchestrator) QuitRequested() bool {
	return o.quit
}

// Run ticks until ctx is cancelled or a quit is requested.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger.InfoCF("conversation", "Orchestrator started", map[string]interface{}{
		"tick_interval": o.opts.TickInterval.String(),
		"timeout":       o.opts.Timeout.String(),
		"cooldown":      o.opts.Cooldown.String(),
		"trigger_word":  o.opts.TriggerWord,
	})

	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-ticker.C:
		}
		o.Tick(ctx)
		if o.quit {
			o.shutdown()
			return nil
		}
	}
}

// Tick runs one orchestrator cycle.
func (o *Orchestrator) Tick(ctx context.Context) {
	now := o.opts.Now()

	if o.opts.Schedule != nil {
		o.sm.SetForcedIdle(!o.opts.Schedule.Awake(now))
	}
	if _, ok := o.sm.CheckTimeout(now); ok {
		o.deps.Metrics.RecordSessionEnd(string(EndTimeout))
		o.deps.Display.SetEmotion(NeutralEmotion)
		o.deps.Out.Notice("(Conversation ended after inactivity.)")
	}
	o.sm.CheckCooldown(now)

	if line, ok := o.deps.Console.TryConsume(); ok {
		o.handleConsole(ctx, line)
		return
	}
	if ev, ok := o.nextEvent(); ok {
		o.handleEvent(ctx, ev)
	}
}

// nextEvent skips events produced before the last gate change and returns
// the first current one.
func (o *Orchestrator) nextEvent() (bus.PerceptionEvent, bool) {
	for {
		ev, ok := o.deps.Events.TryConsume()
		if !ok {
			return bus.PerceptionEvent{}, false
		}
		if ev.Epoch < o.epoch {
			o.deps.Metrics.RecordDroppedEvent(string(ev.Topic), "stale_epoch")
			logger.DebugCF("conversation", "Dropped stale perception event", map[string]interface{}{
				"topic":         string(ev.Topic),
				"event_epoch":   ev.Epoch,
				"current_epoch": o.epoch,
			})
			continue
		}
		return ev, true
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev bus.PerceptionEvent) {
	switch {
	case ev.Topic == bus.TopicSpeechStable && ev.Speech != nil:
		o.handleSpeech(ctx, *ev.Speech)
	case ev.Topic == bus.TopicVisualInfoUpdate && ev.Visual != nil:
		o.handleVisual(ctx, *ev.Visual)
	default:
		logger.WarnCF("conversation", "Malformed perception event", map[string]interface{}{
			"topic": string(ev.Topic),
		})
	}
}

func (o *Orchestrator) handleVisual(ctx context.Context, v bus.VisualInfoUpdate) {
	if v.Identity == o.opts.UnknownIdentity {
		o.sm.NoteUnknownFace()
		return
	}
	if !o.isKnown(v.Identity) || !o.sm.ShouldGreet(v.Identity, true) {
		return
	}

	o.sm.SetLastGreeted(v.Identity)
	o.startSession(TriggerFace, v.Identity)
	o.deps.Out.Notice(fmt.Sprintf("(%s recognized.)", v.Identity))
	o.runTurn(ctx, "face", dialogue.TurnRequest{
		Text:        fmt.Sprintf("Hello %s.", v.Identity),
		UserEmotion: v.Emotion,
		UserName:    v.Identity,
	})
}

func (o *Orchestrator) handleSpeech(ctx context.Context, s bus.SpeechStable) {
	userName := ""
	if s.IsKnownUser {
		userName = s.UserIdentity
	}

	if !o.sm.Active() {
		if !o.sm.ShouldStartOnSpeech(s.ContainsTriggerWord) {
			logger.DebugCF("conversation", "Ignoring utterance while idle", map[string]interface{}{
				"text":        s.Text,
				"forced_idle": o.sm.ForcedIdle(),
			})
			return
		}
		o.sm.ClearCooldown()
		if s.IsKnownUser {
			o.sm.SetLastGreeted(s.UserIdentity)
		}
		o.startSession(TriggerKeyword, userName)
		o.deps.Display.SetEmotion(NeutralEmotion)
	} else if userName == "" {
		if session, ok := o.sm.Session(); ok {
			userName = session.User
		}
	}

	o.deps.Out.User(userName, s.UserEmotion, s.Text)
	o.runTurn(ctx, "speech", dialogue.TurnRequest{
		Text:        s.Text,
		UserEmotion: s.UserEmotion,
		UserName:    userName,
	})
}

func (o *Orchestrator) handleConsole(ctx context.Context, line bus.ConsoleLine) {
	if line.EOF {
		o.requestQuit()
		return
	}
	text := strings.TrimSpace(line.Text)
	if text == "" {
		return
	}

	if isQuitCommand(text) {
		o.requestQuit()
		return
	}
	if strings.EqualFold(text, "reset memory") {
		o.resetMemory(ctx)
		return
	}

	if !o.sm.Active() && perception.ContainsTrigger(text, o.opts.TriggerWord) {
		o.startSession(TriggerConsole, o.consoleUser())
		o.deps.Display.SetEmotion(NeutralEmotion)
	}
	if !o.sm.Active() {
		o.deps.Out.Notice(fmt.Sprintf("(Conversation not active. Say '%s'.)", o.opts.TriggerWord))
		return
	}

	o.runTurn(ctx, "console", dialogue.TurnRequest{
		Text:        text,
		UserEmotion: NeutralEmotion,
		UserName:    o.consoleUser(),
	})
}

func (o *Orchestrator) consoleUser() string {
	if name := o.sm.LastGreeted(); name != "" {
		return name
	}
	return o.opts.ConsoleUserName
}

func (o *Orchestrator) startSession(trigger Trigger, user string) {
	if !o.sm.BeginSession(o.opts.Now(), trigger, user) {
		return
	}
	o.deps.Dialogue.ResetContext()
	o.deps.Metrics.RecordSessionStart(string(trigger))
}

func (o *Orchestrator) endSession(reason EndReason, startCooldown bool) {
	if _, ok := o.sm.EndSession(o.opts.Now(), reason, startCooldown); !ok {
		return
	}
	o.deps.Metrics.RecordSessionEnd(string(reason))
}

// runTurn asks the dialogue backend for a reply with perception paused and
// acts on the result.
func (o *Orchestrator) runTurn(ctx context.Context, source string, req dialogue.TurnRequest) {
	start := o.opts.Now()
	o.sm.Touch(start)
	o.pauseGate(ctx)

	status := "ok"
	result, err := o.deps.Dialogue.ProcessTurn(ctx, req)
	if err != nil {
		status = "error"
		logger.ErrorCF("conversation", "Dialogue turn failed", map[string]interface{}{
			"source": source,
			"error":  err.Error(),
		})
	}
	if strings.TrimSpace(result.Text) == "" && err != nil {
		result = dialogue.TurnResult{Text: "Sorry, something went wrong on my side.", Emotion: dialogue.ApologyEmotion}
	}

	o.handleResponse(ctx, result)
	o.deps.Metrics.RecordTurn(source, status, o.opts.Now().Sub(start).Seconds())
}

func (o *Orchestrator) handleResponse(ctx context.Context, result dialogue.TurnResult) {
	emotion := result.Emotion
	if emotion == "" {
		emotion = NeutralEmotion
	}
	o.deps.Out.Assistant(o.opts.AssistantName, emotion, result.Text)
	o.deps.Display.SetEmotion(emotion)
	o.deps.Speaker.Speak(ctx, result.Text)

	if result.FaceRegistrationRequested && o.deps.Registrar != nil {
		o.sm.HoldTimeout()
		name, err := o.deps.Registrar.Register(ctx)
		if errors.Is(err, ErrQuitRequested) {
			o.requestQuit()
			o.resumeGate(ctx)
			return
		}
		if err != nil {
			logger.WarnCF("conversation", "Face registration did not complete", map[string]interface{}{
				"error":     err.Error(),
				"cancelled": errors.Is(err, ErrRegistrationCancelled),
			})
		} else {
			o.sm.SetLastGreeted(name)
		}
	}

	if result.ShouldEnd {
		o.endSession(EndAssistant, true)
	} else {
		o.sm.RearmTimeout(o.opts.Now())
	}
	o.resumeGate(ctx)
}

func (o *Orchestrator) resetMemory(ctx context.Context) {
	o.pauseGate(ctx)
	defer o.resumeGate(ctx)

	if o.deps.Memory != nil {
		if err := o.deps.Memory.ClearAll(ctx); err != nil {
			logger.ErrorCF("conversation", "Memory reset failed", map[string]interface{}{
				"error": err.Error(),
			})
			o.deps.Out.Notice("(Memory reset failed.)")
		} else {
			o.deps.Out.Notice("(Memory cleared.)")
		}
	}
	o.deps.Dialogue.ResetContext()
	o.endSession(EndReset, false)
	o.sm.ClearCooldown()
	o.deps.Display.SetEmotion(NeutralEmotion)
}

func isQuitCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "quit", "exit", "quitter":
		return true
	}
	return false
}

func (o *Orchestrator) requestQuit() {
	o.quit = true
	o.endSession(EndQuit, true)
	o.deps.Out.Notice("Goodbye.")
}

func (o *Orchestrator) shutdown() {
	o.endSession(EndQuit, false)
	o.deps.Display.SetEmotion(NeutralEmotion)
	logger.InfoC("conversation", "Orchestrator stopped")
}

func (o *Orchestrator) pauseGate(ctx context.Context) {
	if o.deps.Gate == nil {
		return
	}
	if _, err := o.deps.Gate.Pause(ctx); err != nil {
		logger.WarnCF("conversation", "Could not pause perception", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (o *Orchestrator) resumeGate(ctx context.Context) {
	if o.deps.Gate == nil {
		return
	}
	epoch, err := o.deps.Gate.Resume(ctx)
	if err != nil {
		logger.WarnCF("conversation", "Could not resume perception", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	o.epoch = epoch
}

func (o *Orchestrator) isKnown(identity string) bool {
	if identity == "" || identity == o.opts.UnknownIdentity {
		return false
	}
	for _, p := range o.opts.Placeholders {
		if identity == p {
			return false
		}
	}
	return true
}

type nopDisplay struct{}

func (nopDisplay) SetEmotion(string) bool { return true }
func (nopDisplay) Blink() bool { return true }

type nopSpeaker struct{}

func (nopSpeaker) Speak(context.Context, string) {}
