package display

import (
	"context"
	"sync"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// Renderer draws commands on an eye display.
type Renderer interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Render(ctx context.Context, cmd Command) error
}

// LogRenderer is used when no display is configured; it only logs and keeps
// the last emotion for status output.
type LogRenderer struct {
	mu      sync.Mutex
	emotion string
}

func NewLogRenderer() *LogRenderer {
	return &LogRenderer{emotion: NeutralEmotion}
}

func (r *LogRenderer) Name() string { return "log" }

func (r *LogRenderer) Start(context.Context) error { return nil }

func (r *LogRenderer) Stop(context.Context) error { return nil }

func (r *LogRenderer) Render(_ context.Context, cmd Command) error {
	r.mu.Lock()
	if cmd.Kind == KindSetEmotion {
		r.emotion = cmd.Emotion
	}
	r.mu.Unlock()
	logger.DebugCF("display", "Render", map[string]interface{}{
		"command": cmd.String(),
	})
	return nil
}

func (r *LogRenderer) Emotion() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emotion
}
