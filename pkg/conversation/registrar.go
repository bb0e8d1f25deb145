package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/faces"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

var (
	ErrRegistrationCancelled = errors.New("face registration cancelled")
	// ErrQuitRequested means the console asked to quit while the registrar
	// was reading from it.
	ErrQuitRequested = errors.New("quit requested during face registration")
)

// Capturer takes one picture and returns the descriptor of the face in it.
type Capturer interface {
	Capture(ctx context.Context) (faces.Embedding, error)
}

type IdentityStore interface {
	Save(name string, samples []faces.Embedding) (string, error)
}

type RegistrarOptions struct {
	Shots    int
	Interval time.Duration
}

// Registrar runs the interactive face registration. The caller keeps the
// perception gate paused while it runs.
type Registrar struct {
	capturer Capturer
	store    IdentityStore
	display  Display
	speaker  Speaker
	console  *bus.Queue[bus.ConsoleLine]
	out      *Console
	opts     RegistrarOptions
	wait     func(ctx context.Context, d time.Duration) bool
}

func NewRegistrar(capturer Capturer, store IdentityStore, display Display, speaker Speaker, console *bus.Queue[bus.ConsoleLine], out *Console, opts RegistrarOptions) *Registrar {
	if opts.Shots <= 0 {
		opts.Shots = 5
	}
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	return &Registrar{
		capturer: capturer,
		store:    store,
		display:  display,
		speaker:  speaker,
		console:  console,
		out:      out,
		opts:     opts,
		wait:     sleepCtx,
	}
}

// Register asks for a name on the console, takes the configured number of
// shots and saves every successful one under that name. It returns the
// registered name.
func (r *Registrar) Register(ctx context.Context) (string, error) {
	defer r.display.SetEmotion(NeutralEmotion)

	if n := r.console.Drain(); n > 0 {
		logger.DebugCF("registrar", "Flushed pending console input", map[string]interface{}{"lines": n})
	}

	name, err := r.askName(ctx)
	if err != nil {
		return "", err
	}
	logger.InfoCF("registrar", "Face registration started", map[string]interface{}{
		"name":  name,
		"shots": r.opts.Shots,
	})

	r.display.SetEmotion("surprise")

	var samples []faces.Embedding
	for i := 1; i <= r.opts.Shots; i++ {
		r.speaker.Speak(ctx, fmt.Sprintf("Photo %d", i))
		if !r.wait(ctx, r.opts.Interval) {
			return "", ErrRegistrationCancelled
		}
		sample, err := r.capturer.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", ErrRegistrationCancelled
			}
			logger.WarnCF("registrar", "Capture failed", map[string]interface{}{
				"shot":  i,
				"error": err.Error(),
			})
			r.speaker.Speak(ctx, "No face detected.")
			continue
		}
		samples = append(samples, sample)
		r.display.Blink()
	}

	if len(samples) == 0 {
		r.fail(ctx)
		return "", fmt.Errorf("no face captured for %q", name)
	}

	msg, err := r.store.Save(name, samples)
	if err != nil {
		r.fail(ctx)
		return "", fmt.Errorf("save identity %q: %w", name, err)
	}
	r.out.Notice(msg)
	r.display.SetEmotion("joy")
	r.speaker.Speak(ctx, fmt.Sprintf("%s, your face has been registered.", name))

	logger.InfoCF("registrar", "Face registered", map[string]interface{}{
		"name":    name,
		"samples": len(samples),
	})
	return name, nil
}

func (r *Registrar) askName(ctx context.Context) (string, error) {
	for {
		r.out.Prompt("Name to register: ")
		line, ok := r.console.Consume(ctx)
		if !ok {
			return "", ErrRegistrationCancelled
		}
		name := strings.TrimSpace(line.Text)
		if line.EOF || isQuitCommand(name) {
			return "", ErrQuitRequested
		}
		if err := faces.ValidateName(name); err != nil {
			r.out.Notice("Invalid name. Use letters and digits only.")
			continue
		}
		return name, nil
	}
}

func (r *Registrar) fail(ctx context.Context) {
	r.display.SetEmotion("sadness")
	r.speaker.Speak(ctx, "Sorry, registration failed.")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
