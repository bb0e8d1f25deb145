package dialogue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/dotsetgreg/dotcompanion/pkg/providers"
	"github.com/dotsetgreg/dotcompanion/pkg/tools"
)

const (
	NeutralEmotion = "neutral"
	ApologyEmotion = "sadness"

	farewellText = "Okay. See you next time!"
	fallbackText = "I'm not sure how to answer that."
)

// Memory receives every completed exchange.
type Memory interface {
	Remember(ctx context.Context, ex memory.Exchange, stmTexts []string) error
}

type TurnRequest struct {
	Text        string
	UserEmotion string
	UserName    string
}

type TurnResult struct {
	Text                      string
	Emotion                   string
	ShouldEnd                 bool
	FaceRegistrationRequested bool
}

type Options struct {
	Provider            providers.LLMProvider
	Tools               *tools.ToolRegistry
	Memory              Memory
	AssistantName       string
	Emotions            []string
	RecentTurns         int
	EmotionContextTurns int
	ResponseMaxTokens   int
	ResponseTemperature float64
	DeciderMaxTokens    int
	EmotionMaxTokens    int
	Now                 func() time.Time
}

// OptionsFromConfig fills everything but the collaborators.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		AssistantName:       cfg.Conversation.AssistantName,
		Emotions:            cfg.Display.Emotions,
		RecentTurns:         cfg.Memory.RecentTurns,
		EmotionContextTurns: cfg.Memory.EmotionContextTurns,
		ResponseMaxTokens:   cfg.Provider.ResponseMaxTokens,
		ResponseTemperature: cfg.Provider.ResponseTemperature,
		DeciderMaxTokens:    cfg.Provider.DeciderMaxTokens,
		EmotionMaxTokens:    cfg.Provider.EmotionMaxTokens,
	}
}

// Engine turns one user utterance into the assistant's reply. It keeps the
// short rolling windows the prompts are built from.
type Engine struct {
	opts     Options
	emotions []string

	mu         sync.Mutex
	history    []string
	emotionLog []string
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("dialogue: provider is required")
	}
	if opts.Tools == nil {
		opts.Tools = tools.NewToolRegistry()
	}
	if strings.TrimSpace(opts.AssistantName) == "" {
		opts.AssistantName = "Julie"
	}
	if opts.RecentTurns <= 0 {
		opts.RecentTurns = 3
	}
	if opts.EmotionContextTurns <= 0 {
		opts.EmotionContextTurns = 3
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DeciderMaxTokens <= 0 {
		opts.DeciderMaxTokens = 100
	}
	if opts.ResponseMaxTokens <= 0 {
		opts.ResponseMaxTokens = 250
	}
	if opts.EmotionMaxTokens <= 0 {
		opts.EmotionMaxTokens = 30
	}

	emotions := make([]string, 0, len(opts.Emotions)+1)
	hasNeutral := false
	for _, e := range opts.Emotions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		hasNeutral = hasNeutral || e == NeutralEmotion
		emotions = append(emotions, e)
	}
	if !hasNeutral {
		emotions = append(emotions, NeutralEmotion)
	}

	return &Engine{opts: opts, emotions: emotions}, nil
}

// ProcessTurn runs tool decision, tool execution, the reply and the
// assistant-emotion pass. A provider failure still yields a speakable
// apology result; the error is returned alongside it for logging.
func (e *Engine) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		userName = "User"
	}
	history, emotionLog := e.windows()

	state := tools.NewTurnState()
	toolCtx := tools.WithTurnState(tools.WithTurn(ctx, tools.Turn{UserText: req.Text, UserName: userName}), state)

	calls, err := e.decideTools(ctx, history, req.Text)
	if err != nil {
		return e.apology(userName), fmt.Errorf("tool decision: %w", err)
	}

	notes, ended := e.runTools(toolCtx, calls, state)

	reply := farewellText
	if !ended {
		reply, err = e.respond(ctx, history, req, userName, notes)
		if err != nil {
			return e.apology(userName), fmt.Errorf("response: %w", err)
		}
	}

	emotion := e.detectEmotion(ctx, emotionLog, req.Text, reply)
	e.record(req.Text, reply, emotion)

	if e.opts.Memory != nil {
		ex := memory.Exchange{
			Timestamp:       e.opts.Now(),
			UserInput:       req.Text,
			Response:        reply,
			ResponseEmotion: emotion,
			UserName:        userName,
			UserEmotion:     req.UserEmotion,
		}
		stm := []string{"User: " + req.Text, e.opts.AssistantName + ": " + reply}
		if err := e.opts.Memory.Remember(ctx, ex, stm); err != nil {
			logger.WarnCF("dialogue", "Failed to persist exchange", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return TurnResult{
		Text:                      reply,
		Emotion:                   emotion,
		ShouldEnd:                 ended,
		FaceRegistrationRequested: state.FaceRegistrationRequested(),
	}, nil
}

// ResetContext clears the rolling windows at the start of a session.
func (e *Engine) ResetContext() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
	e.emotionLog = nil
	logger.DebugC("dialogue", "Conversation context reset")
}

// History returns a copy of the recent-turn window.
func (e *Engine) History() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.history...)
}

func (e *Engine) windows() ([]string, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.history...), append([]string(nil), e.emotionLog...)
}

func (e *Engine) record(userText, reply, emotion string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := e.opts.AssistantName
	e.history = appendWindow(e.history, e.opts.RecentTurns*2,
		"User: "+userText, name+": "+reply)
	e.emotionLog = appendWindow(e.emotionLog, e.opts.EmotionContextTurns*2,
		"User: "+userText, fmt.Sprintf("%s (%s): %s", name, emotion, reply))
}

func appendWindow(window []string, limit int, lines ...string) []string {
	window = append(window, lines...)
	if over := len(window) - limit; over > 0 {
		window = append([]string(nil), window[over:]...)
	}
	return window
}

func (e *Engine) decideTools(ctx context.Context, history []string, userText string) ([]tools.Call, error) {
	messages := []providers.Message{
		{Role: "system", Content: buildDeciderPrompt(e.opts.AssistantName, e.opts.Tools.GetSummaries())},
		{Role: "user", Content: buildDeciderInput(history, userText)},
	}
	resp, err := e.opts.Provider.Chat(ctx, messages, e.opts.Tools.ToProviderDefs(), providers.ChatOptions{
		MaxTokens: e.opts.DeciderMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.ToolCalls) > 0 {
		calls := make([]tools.Call, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			args := tc.Arguments
			if args == nil {
				args = map[string]interface{}{}
			}
			calls = append(calls, tools.Call{Name: tc.Name, Args: args})
		}
		logger.DebugCF("dialogue", "Native tool calls", map[string]interface{}{"count": len(calls)})
		return calls, nil
	}

	calls := tools.ParseCalls(resp.Content)
	logger.DebugCF("dialogue", "Tool decision", map[string]interface{}{
		"raw":   strings.TrimSpace(resp.Content),
		"calls": len(calls),
	})
	return calls, nil
}

func (e *Engine) runTools(ctx context.Context, calls []tools.Call, state *tools.TurnState) ([]string, bool) {
	var notes []string
	for _, call := range calls {
		if _, ok := e.opts.Tools.Get(call.Name); !ok {
			notes = append(notes, fmt.Sprintf("(Tool '%s' is not recognized.)", call.Name))
			continue
		}
		result := e.opts.Tools.Execute(ctx, call.Name, call.Args)
		if state.EndRequested() {
			notes = append(notes, fmt.Sprintf("Note: tool '%s' ended the conversation.", call.Name))
			return notes, true
		}
		if result.IsError {
			notes = append(notes, fmt.Sprintf("(Internal error with tool %s.)", call.Name))
			continue
		}
		notes = append(notes, fmt.Sprintf("Result of tool '%s': %q", call.Name, result.ForLLM))
	}
	return notes, false
}

func (e *Engine) respond(ctx context.Context, history []string, req TurnRequest, userName string, notes []string) (string, error) {
	name := e.opts.AssistantName
	messages := []providers.Message{
		{Role: "system", Content: buildResponsePrompt(name, userName, req.UserEmotion, notes)},
		{Role: "user", Content: buildResponseInput(name, history, req.Text)},
	}
	stops := stopPatterns(name)
	resp, err := e.opts.Provider.Chat(ctx, messages, nil, providers.ChatOptions{
		MaxTokens:   e.opts.ResponseMaxTokens,
		Temperature: e.opts.ResponseTemperature,
		Stop:        []string{"User:", name + ":", "Assistant:", "\n\n\n"},
	})
	if err != nil {
		return "", err
	}
	text := StripEmoji(cleanResponse(resp.Content, name, stops))
	if text == "" {
		text = fallbackText
	}
	return text, nil
}

func (e *Engine) detectEmotion(ctx context.Context, emotionLog []string, userText, reply string) string {
	if strings.TrimSpace(reply) == "" {
		return NeutralEmotion
	}
	prompt := buildEmotionPrompt(e.opts.AssistantName, emotionLog, userText, reply, e.emotions)
	resp, err := e.opts.Provider.Chat(ctx, []providers.Message{{Role: "user", Content: prompt}}, nil, providers.ChatOptions{
		MaxTokens: e.opts.EmotionMaxTokens,
	})
	if err != nil {
		logger.WarnCF("dialogue", "Emotion detection failed", map[string]interface{}{
			"error": err.Error(),
		})
		return NeutralEmotion
	}
	return MatchEmotion(resp.Content, e.emotions, NeutralEmotion)
}

func (e *Engine) apology(userName string) TurnResult {
	return TurnResult{
		Text:    fmt.Sprintf("Sorry %s, something went wrong on my side.", userName),
		Emotion: ApologyEmotion,
	}
}
