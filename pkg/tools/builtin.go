package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/memory"
)

const (
	ToolCurrentTime     = "get_current_time"
	ToolRegisterFace    = "register_face"
	ToolShortTermMemory = "query_short_term_memory"
	ToolLongTermMemory  = "query_long_term_memory"
	ToolEndConversation = "end_conversation"
)

const (
	shortTermSnippetRunes = 150
	longTermSnippetRunes  = 70
)

type ShortTermSearcher interface {
	Search(ctx context.Context, query string, k int) ([]memory.Entry, error)
}

type LongTermSearcher interface {
	Search(ctx context.Context, keywords []string, limit int) ([]memory.Exchange, error)
}

// BuiltinOptions wires the built-in tools to their collaborators.
type BuiltinOptions struct {
	ShortTerm     ShortTermSearcher
	LongTerm      LongTermSearcher
	RecallResults int
	LongTermLimit int
	Now           func() time.Time
}

// RegisterBuiltins adds the five companion tools in the order the decider
// prompt lists them.
func RegisterBuiltins(r *ToolRegistry, opts BuiltinOptions) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RecallResults <= 0 {
		opts.RecallResults = 3
	}
	if opts.LongTermLimit <= 0 {
		opts.LongTermLimit = 3
	}
	r.Register(&CurrentTimeTool{now: opts.Now})
	r.Register(&RegisterFaceTool{})
	r.Register(&ShortTermMemoryTool{store: opts.ShortTerm, k: opts.RecallResults})
	r.Register(&LongTermMemoryTool{store: opts.LongTerm, limit: opts.LongTermLimit})
	r.Register(&EndConversationTool{})
}

func emptyParameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

type CurrentTimeTool struct {
	now func() time.Time
}

func (t *CurrentTimeTool) Name() string { return ToolCurrentTime }
func (t *CurrentTimeTool) Description() string {
	return "Get the current time when it is explicitly asked for. Format: `get_current_time()`"
}
func (t *CurrentTimeTool) Parameters() map[string]interface{} { return emptyParameters() }

func (t *CurrentTimeTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	return NewToolResult(fmt.Sprintf("It is %s.", t.now().Format("15:04")))
}

// RegisterFaceTool only raises the per-turn flag; the orchestrator runs the
// capture procedure once the reply has been spoken.
type RegisterFaceTool struct{}

func (t *RegisterFaceTool) Name() string { return ToolRegisterFace }
func (t *RegisterFaceTool) Description() string {
	return "Use only if the user EXPLICITLY asks to register their face. Format: `register_face()`"
}
func (t *RegisterFaceTool) Parameters() map[string]interface{} { return emptyParameters() }

func (t *RegisterFaceTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	turnStateFromContext(ctx).RequestFaceRegistration()
	return NewToolResult("The face registration request was received. I will guide the user: ask for their first name and take a few photos.")
}

type ShortTermMemoryTool struct {
	store ShortTermSearcher
	k     int
}

func (t *ShortTermMemoryTool) Name() string { return ToolShortTermMemory }
func (t *ShortTermMemoryTool) Description() string {
	return "Look up semantically related recent exchanges. Format: `query_short_term_memory()`"
}
func (t *ShortTermMemoryTool) Parameters() map[string]interface{} { return emptyParameters() }

func (t *ShortTermMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	turn, _ := turnFromContext(ctx)
	query := strings.TrimSpace(turn.UserText)
	if query == "" {
		return NewToolResult("No current user question to search short-term memory with.")
	}
	if t.store == nil {
		return ErrorResult("short-term memory is not initialized")
	}
	entries, err := t.store.Search(ctx, query, t.k)
	if err != nil {
		return ErrorResult(fmt.Sprintf("short-term memory search failed: %v", err)).WithError(err)
	}
	if len(entries) == 0 {
		return NewToolResult("No relevant short-term memories found.")
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- %q", truncateRunes(e.Content, shortTermSnippetRunes)))
	}
	return NewToolResult("Short-term memories:\n" + strings.Join(lines, "\n"))
}

type LongTermMemoryTool struct {
	store LongTermSearcher
	limit int
}

func (t *LongTermMemoryTool) Name() string { return ToolLongTermMemory }
func (t *LongTermMemoryTool) Description() string {
	return "Search the whole conversation history by keywords. Format: `query_long_term_memory(query_keywords='keyword1, keyword2')`"
}

func (t *LongTermMemoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query_keywords": map[string]interface{}{
				"type":        "string",
				"description": "Comma-separated keywords taken from the user's question",
			},
		},
		"required": []string{"query_keywords"},
	}
}

func (t *LongTermMemoryTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	raw, _ := args["query_keywords"].(string)
	if raw == "" {
		raw, _ = args[PositionalArg].(string)
	}
	keywords := SplitKeywords(raw)
	if len(keywords) == 0 {
		return NewToolResult("Missing or invalid keywords for the long-term search.")
	}
	if t.store == nil {
		return ErrorResult("long-term memory is not initialized")
	}
	exchanges, err := t.store.Search(ctx, keywords, t.limit)
	if err != nil {
		return ErrorResult(fmt.Sprintf("long-term memory search failed: %v", err)).WithError(err)
	}
	if len(exchanges) == 0 {
		return NewToolResult("No long-term memories found for these keywords.")
	}
	lines := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		name := ex.UserName
		if name == "" {
			name = "User"
		}
		lines = append(lines, fmt.Sprintf("- On %s (with %s), U: '%s...', J: '%s...'",
			ex.Timestamp.Format("2006-01-02 15:04:05"), name,
			truncateRunes(ex.UserInput, longTermSnippetRunes),
			truncateRunes(ex.Response, longTermSnippetRunes)))
	}
	return NewToolResult("Long-term memories:\n" + strings.Join(lines, "\n"))
}

type EndConversationTool struct{}

func (t *EndConversationTool) Name() string { return ToolEndConversation }
func (t *EndConversationTool) Description() string {
	return "Use if the user CLEARLY wants to stop talking. Format: `end_conversation()`"
}
func (t *EndConversationTool) Parameters() map[string]interface{} { return emptyParameters() }

func (t *EndConversationTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	turnStateFromContext(ctx).RequestEnd()
	return NewToolResult("Conversation end requested.")
}

// SplitKeywords splits a comma-separated keyword list, dropping blanks.
func SplitKeywords(raw string) []string {
	var out []string
	for _, kw := range strings.Split(raw, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
