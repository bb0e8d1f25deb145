package display

import "fmt"

// CommandKind tags the variant held by a Command.
type CommandKind string

const (
	KindSetEmotion CommandKind = "set_emotion"
	KindAction     CommandKind = "action"
)

// ActionBlink is the one-shot animation played after each captured photo.
const ActionBlink = "blink"

// Command is a message to the eye renderer. Exactly one of Emotion or Action
// is meaningful, selected by Kind; build values with SetEmotion or Action.
type Command struct {
	Kind    CommandKind `json:"type"`
	Emotion string      `json:"emotion,omitempty"`
	Action  string      `json:"action,omitempty"`
}

func SetEmotion(name string) Command {
	return Command{Kind: KindSetEmotion, Emotion: name}
}

func Action(name string) Command {
	return Command{Kind: KindAction, Action: name}
}

func (c Command) Validate() error {
	switch c.Kind {
	case KindSetEmotion:
		if c.Emotion == "" {
			return fmt.Errorf("set_emotion command without emotion")
		}
	case KindAction:
		if c.Action == "" {
			return fmt.Errorf("action command without action")
		}
	default:
		return fmt.Errorf("unknown display command %q", c.Kind)
	}
	return nil
}

func (c Command) String() string {
	if c.Kind == KindAction {
		return "action:" + c.Action
	}
	return string(c.Kind) + ":" + c.Emotion
}
