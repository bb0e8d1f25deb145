package display

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRenderer struct {
	mu       sync.Mutex
	commands []Command
	started  bool
	stopped  bool
	block    chan struct{}
}

func (r *recordingRenderer) Name() string { return "recording" }

func (r *recordingRenderer) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *recordingRenderer) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func (r *recordingRenderer) Render(ctx context.Context, cmd Command) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return nil
}

func (r *recordingRenderer) snapshot() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

func defaultMapper() *EmotionMapper {
	return NewEmotionMapper(
		[]string{"neutral", "joy", "sadness", "anger", "surprise", "fear", "disgust"},
		map[string]string{"degout": "disgust", "joie": "joy"},
	)
}

func TestEmotionMapper(t *testing.T) {
	m := defaultMapper()
	tests := map[string]string{
		"Joy":       "joy",
		" SADNESS ": "sadness",
		"degout":    "disgust",
		"Joie":      "joy",
		"bored":     "neutral",
		"":          "neutral",
	}
	for in, want := range tests {
		assert.Equal(t, want, m.Map(in), in)
	}
}

func TestCommandValidate(t *testing.T) {
	assert.NoError(t, SetEmotion("joy").Validate())
	assert.NoError(t, Action(ActionBlink).Validate())
	assert.Error(t, SetEmotion("").Validate())
	assert.Error(t, Action("").Validate())
	assert.Error(t, Command{Kind: "dance"}.Validate())
	assert.Equal(t, "action:blink", Action(ActionBlink).String())
}

func TestEngine_DeliversInOrderWithMappedEmotions(t *testing.T) {
	r := &recordingRenderer{}
	e := NewEngine(r, defaultMapper(), 8)
	require.NoError(t, e.Start(context.Background()))

	assert.True(t, e.SetEmotion("Joie"))
	assert.True(t, e.Blink())
	assert.True(t, e.SetEmotion("confused"))

	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, []Command{SetEmotion("joy"), Action(ActionBlink), SetEmotion("neutral")}, r.snapshot())
	assert.True(t, r.started)
	assert.True(t, r.stopped)

	assert.False(t, e.SetEmotion("joy"), "send after stop must fail")
}

func TestEngine_SendFailsWhenNotStartedOrFull(t *testing.T) {
	r := &recordingRenderer{block: make(chan struct{})}
	e := NewEngine(r, defaultMapper(), 1)
	assert.False(t, e.SetEmotion("joy"))

	require.NoError(t, e.Start(context.Background()))
	// The first command is picked up by the dispatcher and blocks in Render,
	// the second fills the queue.
	require.True(t, e.SetEmotion("joy"))
	require.Eventually(t, func() bool { return e.queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, e.SetEmotion("sadness"))
	assert.False(t, e.SetEmotion("anger"))

	close(r.block)
	require.NoError(t, e.Stop(context.Background()))
	assert.Len(t, r.snapshot(), 2)
}

func TestLogRenderer_TracksEmotion(t *testing.T) {
	r := NewLogRenderer()
	require.NoError(t, r.Render(context.Background(), SetEmotion("joy")))
	require.NoError(t, r.Render(context.Background(), Action(ActionBlink)))
	assert.Equal(t, "joy", r.Emotion())
}

func TestWebsocketRenderer_SendsJSONFrames(t *testing.T) {
	received := make(chan Command, 4)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cmd Command
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			received <- cmd
		}
	}))
	defer server.Close()

	r := NewWebsocketRenderer("ws" + strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Render(context.Background(), SetEmotion("surprise")))
	require.NoError(t, r.Render(context.Background(), Action(ActionBlink)))

	for _, want := range []Command{SetEmotion("surprise"), Action(ActionBlink)} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %v", want)
		}
	}
	require.NoError(t, r.Stop(context.Background()))
}

func TestWebsocketRenderer_StartFailsWithoutServer(t *testing.T) {
	r := NewWebsocketRenderer("ws://127.0.0.1:1/eyes")
	assert.Error(t, r.Start(context.Background()))
}
