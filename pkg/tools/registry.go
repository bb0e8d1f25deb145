package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/metrics"
	"github.com/dotsetgreg/dotcompanion/pkg/providers"
)

const maxLoggedArgLen = 120

// ToolRegistry holds the tools offered to the decider, in registration order.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	metrics *metrics.Metrics
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// SetMetrics routes per-tool outcome counters to m.
func (r *ToolRegistry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Register adds tool, replacing any tool of the same name in place.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs the named tool. It never returns nil: unknown tools, nil
// results and panics all become error results.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]interface{}) (result *ToolResult) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	m := r.metrics
	r.mu.RUnlock()

	if !ok {
		logger.WarnCF("tool", "Tool not found", map[string]interface{}{"tool": name})
		m.RecordToolCall(name, "unknown")
		return ErrorResult(fmt.Sprintf("tool %q not found", name)).WithError(fmt.Errorf("tool not found"))
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("tool %q panicked: %v", name, rec)
			result = ErrorResult(err.Error()).WithError(err)
		}
		status := "ok"
		if result.IsError {
			status = "error"
		}
		m.RecordToolCall(name, status)
		fields := map[string]interface{}{
			"tool":        name,
			"args":        compactArgs(args),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if result.IsError {
			fields["error"] = result.ForLLM
			logger.WarnCF("tool", "Tool execution failed", fields)
			return
		}
		fields["result_length"] = len(result.ForLLM)
		logger.InfoCF("tool", "Tool execution completed", fields)
	}()

	result = tool.Execute(ctx, args)
	if result == nil {
		err := fmt.Errorf("tool %q returned nil result", name)
		result = ErrorResult(err.Error()).WithError(err)
	}
	return result
}

// ToProviderDefs converts the registered tools to native function
// definitions.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		definitions = append(definitions, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}

// List returns the registered tool names in registration order.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// GetSummaries returns "- name: description" lines for the decider prompt.
func (r *ToolRegistry) GetSummaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]string, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		summaries = append(summaries, fmt.Sprintf("- %s: %s", tool.Name(), tool.Description()))
	}
	return summaries
}

// compactArgs shortens string arguments for logging. Tool arguments carry
// user speech, which can be long.
func compactArgs(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > maxLoggedArgLen {
			v = s[:maxLoggedArgLen] + "...(truncated)"
		}
		out[k] = v
	}
	return out
}
