package perception

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/faces"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/metrics"
)

var (
	ErrLoopStopped = errors.New("fusion loop stopped")
	ErrNoFrame     = errors.New("no camera frame available")
)

// Face is one detected face with its descriptor and per-emotion scores.
type Face struct {
	Embedding faces.Embedding    `json:"embedding"`
	Emotions  map[string]float64 `json:"emotions"`
}

// Observation is the analysis of one camera frame.
type Observation struct {
	Faces []Face `json:"faces"`
}

// Vision grabs one frame and analyzes it. It returns ErrNoFrame when the
// camera had nothing to deliver.
type Vision interface {
	Observe(ctx context.Context) (Observation, error)
}

type IdentityResolver interface {
	Identify(faces.Embedding) string
}

type LoopConfig struct {
	PollInterval     time.Duration
	PublishInterval  time.Duration
	CameraBackoff    time.Duration
	SpeechStability  time.Duration
	HistorySize      int
	MinWords         int
	TrackingDistance float64
	Placeholders     []string
	UnknownIdentity  string
	TriggerWord      string
	EventQueueSize   int
}

func LoopConfigFrom(p config.PerceptionConfig, triggerWord string) LoopConfig {
	return LoopConfig{
		PollInterval:     p.PollInterval(),
		PublishInterval:  p.PublishInterval(),
		CameraBackoff:    p.CameraBackoff(),
		SpeechStability:  p.SpeechStability(),
		HistorySize:      p.HistorySize,
		MinWords:         p.MinWords,
		TrackingDistance: p.TrackingDistance,
		Placeholders:     p.Placeholders,
		UnknownIdentity:  p.UnknownIdentity,
		TriggerWord:      triggerWord,
	}
}

type gateRequest struct {
	pause bool
	ack   chan uint64
}

// FusionLoop samples the vision and speech sources at a fixed cadence,
// stabilizes what it sees and hears, and publishes perception events. All
// perception state is owned by the goroutine running Run; other goroutines
// reach it only through Pause and Resume.
type FusionLoop struct {
	cfg        LoopConfig
	vision     Vision
	identities IdentityResolver
	fragments  *bus.Queue[string]
	events     *bus.Queue[bus.PerceptionEvent]
	metrics    *metrics.Metrics

	voter   *Voter
	speech  *Accumulator
	tracker *Tracker
	gate    *Gate

	control chan gateRequest
	done    chan struct{}
	now     func() time.Time

	placeholder string
	lastPublish time.Time
}

func NewFusionLoop(cfg LoopConfig, vision Vision, identities IdentityResolver, fragments *bus.Queue[string], m *metrics.Metrics) *FusionLoop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Millisecond
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = 100
	}
	if len(cfg.Placeholders) == 0 {
		cfg.Placeholders = []string{"---", "impossible"}
	}
	if cfg.UnknownIdentity == "" {
		cfg.UnknownIdentity = "unknown face"
	}

	now := time.Now
	voter := NewVoter(cfg.HistorySize, cfg.Placeholders)
	speech := NewAccumulator(cfg.MinWords, now())
	tracker := NewTracker(cfg.TrackingDistance)

	return &FusionLoop{
		cfg:         cfg,
		vision:      vision,
		identities:  identities,
		fragments:   fragments,
		events:      bus.NewQueue[bus.PerceptionEvent]("perception", cfg.EventQueueSize),
		metrics:     m,
		voter:       voter,
		speech:      speech,
		tracker:     tracker,
		gate:        NewGate(voter, speech, tracker),
		control:     make(chan gateRequest),
		done:        make(chan struct{}),
		now:         now,
		placeholder: cfg.Placeholders[0],
	}
}

// Events is the output queue consumed by the orchestrator.
func (l *FusionLoop) Events() *bus.Queue[bus.PerceptionEvent] {
	return l.events
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (l *FusionLoop) Run(ctx context.Context) error {
	defer close(l.done)
	defer l.events.Close()

	logger.InfoCF("fusion", "Fusion loop started", map[string]interface{}{
		"poll_interval": l.cfg.PollInterval.String(),
		"history_size":  l.cfg.HistorySize,
	})

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("fusion", "Fusion loop stopped")
			return nil
		case req := <-l.control:
			l.applyGate(req)
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// Pause closes the perception gate and returns the new gate epoch once the
// loop has applied it.
func (l *FusionLoop) Pause(ctx context.Context) (uint64, error) {
	return l.requestGate(ctx, true)
}

// Resume reopens the perception gate and returns the new gate epoch.
func (l *FusionLoop) Resume(ctx context.Context) (uint64, error) {
	return l.requestGate(ctx, false)
}

func (l *FusionLoop) requestGate(ctx context.Context, pause bool) (uint64, error) {
	req := gateRequest{pause: pause, ack: make(chan uint64, 1)}
	select {
	case l.control <- req:
	case <-l.done:
		return 0, ErrLoopStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case epoch := <-req.ack:
		return epoch, nil
	case <-l.done:
		return 0, ErrLoopStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (l *FusionLoop) applyGate(req gateRequest) {
	now := l.now()
	var epoch uint64
	if req.pause {
		epoch = l.gate.Pause(now)
	} else {
		epoch = l.gate.Resume(now)
	}
	dropped := 0
	if l.fragments != nil {
		dropped = l.fragments.Drain()
	}
	logger.DebugCF("fusion", "Gate changed", map[string]interface{}{
		"open":              l.gate.Open(),
		"epoch":             epoch,
		"dropped_fragments": dropped,
	})
	req.ack <- epoch
}

func (l *FusionLoop) tick(ctx context.Context) {
	now := l.now()
	open := l.gate.Open()

	l.drainFragments(now, open)

	if open {
		obs, err := l.vision.Observe(ctx)
		switch {
		case errors.Is(err, ErrNoFrame):
			l.metrics.RecordCameraMiss()
			l.backoff(ctx)
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.WarnCF("fusion", "Frame analysis failed", map[string]interface{}{
				"error": err.Error(),
			})
			l.voter.Record(ChannelEmotion, l.placeholder)
			l.voter.Record(ChannelIdentity, l.placeholder)
		default:
			emotion, identity := l.classify(obs)
			l.voter.Record(ChannelEmotion, emotion)
			l.voter.Record(ChannelIdentity, identity)
		}
	}

	emotion := l.voter.Stabilize(ChannelEmotion)
	identity := l.voter.Stabilize(ChannelIdentity)

	if l.lastPublish.IsZero() || now.Sub(l.lastPublish) >= l.cfg.PublishInterval {
		l.publish(bus.NewVisualEvent(l.gate.Epoch(), now, bus.VisualInfoUpdate{
			Emotion:          emotion,
			Identity:         identity,
			SpeechInProgress: l.speech.Text(),
		}), false)
		l.lastPublish = now
	}

	if !open {
		return
	}
	if text, ok := l.speech.Poll(now, l.cfg.SpeechStability); ok {
		l.publish(bus.NewSpeechEvent(l.gate.Epoch(), now, bus.SpeechStable{
			Text:                text,
			UserEmotion:         emotion,
			UserIdentity:        identity,
			IsKnownUser:         l.isKnown(identity),
			ContainsTriggerWord: ContainsTrigger(text, l.cfg.TriggerWord),
		}), true)
	}
}

func (l *FusionLoop) drainFragments(now time.Time, open bool) {
	if l.fragments == nil {
		return
	}
	for {
		fragment, ok := l.fragments.TryConsume()
		if !ok {
			return
		}
		if open {
			l.speech.Ingest(fragment, now)
		}
	}
}

// classify picks the tracked face of the frame and returns its dominant
// emotion and resolved identity.
func (l *FusionLoop) classify(obs Observation) (string, string) {
	if len(obs.Faces) == 0 {
		l.tracker.Reset()
		return l.placeholder, l.placeholder
	}

	candidates := make([]Face, 0, len(obs.Faces))
	embeddings := make([]faces.Embedding, 0, len(obs.Faces))
	for _, f := range obs.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, f)
		embeddings = append(embeddings, f.Embedding)
	}
	if len(candidates) == 0 {
		return l.placeholder, l.placeholder
	}

	chosen := candidates[l.tracker.Choose(embeddings)]
	emotion := DominantEmotion(chosen.Emotions, l.placeholder)
	identity := l.cfg.UnknownIdentity
	if l.identities != nil {
		identity = l.identities.Identify(chosen.Embedding)
	}
	return emotion, identity
}

func (l *FusionLoop) isKnown(identity string) bool {
	return identity != "" && identity != l.cfg.UnknownIdentity && !l.voter.IsPlaceholder(identity)
}

func (l *FusionLoop) publish(ev bus.PerceptionEvent, wait bool) {
	var ok bool
	if wait {
		ok = l.events.Publish(ev)
	} else {
		ok = l.events.TryPublish(ev)
	}
	if !ok {
		l.metrics.RecordDroppedEvent(string(ev.Topic), "queue_full")
		logger.DebugCF("fusion", "Perception event dropped", map[string]interface{}{
			"topic": string(ev.Topic),
		})
		return
	}
	l.metrics.RecordEvent(string(ev.Topic))
}

func (l *FusionLoop) backoff(ctx context.Context) {
	if l.cfg.CameraBackoff <= 0 {
		return
	}
	t := time.NewTimer(l.cfg.CameraBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// DominantEmotion returns the highest scored emotion, or fallback when there
// are no scores. Equal scores resolve alphabetically.
func DominantEmotion(scores map[string]float64, fallback string) string {
	if len(scores) == 0 {
		return fallback
	}
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if scores[name] > scores[best] {
			best = name
		}
	}
	return best
}

// ContainsTrigger reports whether text mentions the trigger word, ignoring
// case.
func ContainsTrigger(text, trigger string) bool {
	if trigger == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(trigger))
}
