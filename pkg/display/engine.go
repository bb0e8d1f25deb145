package display

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

// Engine owns the renderer and feeds it from a bounded command queue in its
// own goroutine, so callers never wait on the display.
type Engine struct {
	renderer Renderer
	mapper   *EmotionMapper
	queue    *bus.Queue[Command]
	running  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(renderer Renderer, mapper *EmotionMapper, queueSize int) *Engine {
	if renderer == nil {
		renderer = NewLogRenderer()
	}
	if mapper == nil {
		mapper = NewEmotionMapper(nil, nil)
	}
	return &Engine{
		renderer: renderer,
		mapper:   mapper,
		queue:    bus.NewQueue[Command]("display", queueSize),
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return nil
	}
	if err := e.renderer.Start(ctx); err != nil {
		return fmt.Errorf("start %s renderer: %w", e.renderer.Name(), err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running.Store(true)
	go e.dispatch(loopCtx, e.done)

	logger.InfoCF("display", "Display engine started", map[string]interface{}{
		"renderer": e.renderer.Name(),
	})
	return nil
}

// Stop renders what is still queued, then stops the renderer. Commands sent
// afterwards are rejected.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Swap(false) {
		return nil
	}
	e.queue.Close()
	select {
	case <-e.done:
	case <-ctx.Done():
		e.cancel()
		<-e.done
	}
	e.cancel()
	logger.InfoC("display", "Display engine stopped")
	return e.renderer.Stop(ctx)
}

func (e *Engine) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		cmd, ok := e.queue.Consume(ctx)
		if !ok {
			return
		}
		if err := e.renderer.Render(ctx, cmd); err != nil {
			logger.WarnCF("display", "Render failed", map[string]interface{}{
				"command": cmd.String(),
				"error":   err.Error(),
			})
		}
	}
}

// Send enqueues cmd. It reports false when the engine is stopped, the
// command is invalid or the queue is full.
func (e *Engine) Send(cmd Command) bool {
	if !e.running.Load() {
		return false
	}
	if cmd.Kind == KindSetEmotion {
		cmd.Emotion = e.mapper.Map(cmd.Emotion)
	}
	if err := cmd.Validate(); err != nil {
		logger.WarnCF("display", "Rejected display command", map[string]interface{}{"error": err.Error()})
		return false
	}
	return e.queue.TryPublish(cmd)
}

func (e *Engine) SetEmotion(name string) bool {
	return e.Send(SetEmotion(name))
}

func (e *Engine) Blink() bool {
	return e.Send(Action(ActionBlink))
}

func (e *Engine) MapEmotion(name string) string {
	return e.mapper.Map(name)
}
