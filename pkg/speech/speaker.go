package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnavailable is returned when the configured TTS program is not
// installed.
var ErrUnavailable = errors.New("speech: tts command unavailable")

// Speaker turns text into audio and returns once playback is over.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// CommandSpeaker runs an external TTS program (espeak-ng, piper, say...)
// with the text on stdin.
type CommandSpeaker struct {
	name string
	args []string
}

func NewCommandSpeaker(command []string) (*CommandSpeaker, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("speech: command is empty")
	}
	return &CommandSpeaker{name: command[0], args: append([]string(nil), command[1:]...)}, nil
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	path, err := exec.LookPath(s.name)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return ErrUnavailable
		}
		return fmt.Errorf("locate %s: %w", s.name, err)
	}

	cmd := exec.CommandContext(ctx, path, s.args...)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", s.name, err, msg)
		}
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}
