package speech

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// Processor speaks assistant replies. Failures are logged, never returned.
type Processor struct {
	speaker Speaker
	suffix  string

	warnedUnavailable atomic.Bool
}

func NewProcessor(speaker Speaker, suffix string) *Processor {
	return &Processor{speaker: speaker, suffix: suffix}
}

// Speak blocks until the utterance has been played. Blank text is ignored.
func (p *Processor) Speak(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" || p == nil || p.speaker == nil {
		return
	}
	if p.suffix != "" && !strings.HasSuffix(text, p.suffix) {
		text += p.suffix
	}

	if err := p.speaker.Speak(ctx, text); err != nil {
		if errors.Is(err, ErrUnavailable) {
			if !p.warnedUnavailable.Swap(true) {
				logger.WarnC("speech", "TTS command not found; replies will only be printed")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.ErrorCF("speech", "Speech synthesis failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
