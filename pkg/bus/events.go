package bus

import "time"

// Topic names the kind of a perception event.
type Topic string

const (
	TopicVisualInfoUpdate Topic = "visual_info_update"
	TopicSpeechStable     Topic = "speech_stable"
)

// PerceptionEvent is a stabilized observation published by the fusion loop.
// Exactly one of Visual or Speech is set, matching Topic.
type PerceptionEvent struct {
	Topic Topic
	// Epoch is the gate epoch the event was produced in. Consumers drop
	// speech events from an epoch older than the current one.
	Epoch  uint64
	At     time.Time
	Visual *VisualInfoUpdate
	Speech *SpeechStable
}

type VisualInfoUpdate struct {
	Emotion          string `json:"emotion"`
	Identity         string `json:"identity"`
	SpeechInProgress string `json:"speech_in_progress"`
}

type SpeechStable struct {
	Text                string `json:"text"`
	UserEmotion         string `json:"user_emotion"`
	UserIdentity        string `json:"user_identity"`
	IsKnownUser         bool   `json:"is_known_user"`
	ContainsTriggerWord bool   `json:"contains_trigger_word"`
}

func NewVisualEvent(epoch uint64, at time.Time, v VisualInfoUpdate) PerceptionEvent {
	return PerceptionEvent{Topic: TopicVisualInfoUpdate, Epoch: epoch, At: at, Visual: &v}
}

func NewSpeechEvent(epoch uint64, at time.Time, s SpeechStable) PerceptionEvent {
	return PerceptionEvent{Topic: TopicSpeechStable, Epoch: epoch, At: at, Speech: &s}
}

// ConsoleLine is one line read by the console context. EOF marks the end of
// console input.
type ConsoleLine struct {
	Text string
	EOF  bool
}
