package tools

import (
	"context"
	"sync/atomic"
)

// Tool is the interface that all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ToolResult is what a tool hands back to the dialogue engine. ForLLM is
// inserted into the response prompt.
type ToolResult struct {
	ForLLM  string
	IsError bool
	Err     error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// Turn describes the user utterance that triggered the tool decision.
type Turn struct {
	UserText string
	UserName string
}

type turnKey struct{}

// WithTurn annotates a call context with the current user utterance.
func WithTurn(ctx context.Context, turn Turn) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, turnKey{}, turn)
}

func turnFromContext(ctx context.Context) (Turn, bool) {
	if ctx == nil {
		return Turn{}, false
	}
	turn, ok := ctx.Value(turnKey{}).(Turn)
	return turn, ok
}

// TurnState collects the side effects tools request during one turn.
type TurnState struct {
	faceRegistration atomic.Bool
	endConversation  atomic.Bool
}

func NewTurnState() *TurnState {
	return &TurnState{}
}

func (s *TurnState) RequestFaceRegistration() {
	if s == nil {
		return
	}
	s.faceRegistration.Store(true)
}

func (s *TurnState) FaceRegistrationRequested() bool {
	if s == nil {
		return false
	}
	return s.faceRegistration.Load()
}

func (s *TurnState) RequestEnd() {
	if s == nil {
		return
	}
	s.endConversation.Store(true)
}

func (s *TurnState) EndRequested() bool {
	if s == nil {
		return false
	}
	return s.endConversation.Load()
}

type turnStateKey struct{}

// WithTurnState adds per-turn state to context.
func WithTurnState(ctx context.Context, state *TurnState) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if state == nil {
		return ctx
	}
	return context.WithValue(ctx, turnStateKey{}, state)
}

func turnStateFromContext(ctx context.Context) *TurnState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(turnStateKey{}).(*TurnState)
	return state
}
