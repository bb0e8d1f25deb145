package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
)

func TestCreateProvider_LocalServerWithoutKey(t *testing.T) {
	var (
		seenAuth string
		seenPath string
		seenReq  map[string]interface{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&seenReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"joy"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Provider.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, ChatOptions{
		MaxTokens: 30,
		Stop:      []string{"User:"},
	})
	require.NoError(t, err)

	assert.Equal(t, "joy", resp.Content)
	assert.Empty(t, seenAuth)
	assert.Equal(t, "/chat/completions", seenPath)
	assert.Equal(t, cfg.Provider.Model, seenReq["model"])
	assert.Equal(t, float64(30), seenReq["max_tokens"])
	assert.Equal(t, float64(0), seenReq["temperature"])
	assert.Equal(t, []interface{}{"User:"}, seenReq["stop"])
	assert.NotContains(t, seenReq, "tools")
}

func TestCreateProvider_WithAPIKeyAndToolCalls(t *testing.T) {
	var (
		seenAuth string
		seenReq  map[string]interface{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&seenReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {
							"name": "query_long_term_memory",
							"arguments": "{\"query_keywords\":\"pizza, olives\"}"
						}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Provider.APIBase = server.URL
	cfg.Provider.APIKey = "local-key"

	provider, err := CreateProvider(cfg)
	require.NoError(t, err)
	defs := []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionDefinition{
			Name:        "query_long_term_memory",
			Description: "search history",
			Parameters:  map[string]interface{}{"type": "object"},
		},
	}}
	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "pizza?"}}, defs, ChatOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Bearer local-key", seenAuth)
	assert.Equal(t, "auto", seenReq["tool_choice"])
	assert.Contains(t, seenReq, "tools")
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "query_long_term_memory", resp.ToolCalls[0].Name)
	assert.Equal(t, "pizza, olives", resp.ToolCalls[0].Arguments["query_keywords"])
	assert.Empty(t, resp.Content)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestChat_SurfacesAPIErrorWithHintWithoutRetry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"request (9000 tokens) exceed the context size (4096 tokens)"}}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{APIBase: server.URL, Backoff: time.Millisecond})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, ChatOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
	assert.Contains(t, err.Error(), "Hint:")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestChat_RetriesWhileModelLoads(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"Loading model"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":[{"type":"text","text":"Hello "},{"type":"text","text":"there"}]}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{APIBase: server.URL, Attempts: 3, Backoff: time.Millisecond})
	require.NoError(t, err)

	resp, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestChat_GivesUpAfterAttempts(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Loading model"}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{APIBase: server.URL, Attempts: 2, Backoff: time.Millisecond})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), nil, nil, ChatOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
	assert.Contains(t, err.Error(), "still loading")
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"gemma"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{APIBase: server.URL + "/"})
	require.NoError(t, err)
	assert.NoError(t, client.Ping(context.Background()))

	broken, err := NewClient(ClientOptions{APIBase: server.URL + "/missing"})
	require.NoError(t, err)
	assert.Error(t, broken.Ping(context.Background()))
}

func TestCreateProvider_RequiresHTTPAPIBase(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.APIBase = "  "
	_, err := CreateProvider(cfg)
	assert.Error(t, err)

	cfg.Provider.APIBase = "unix:///tmp/llama.sock"
	_, err = CreateProvider(cfg)
	assert.Error(t, err)
}

func TestExtractAPIError(t *testing.T) {
	assert.Equal(t, "empty response body", extractAPIError(nil))
	assert.Equal(t, "nested", extractAPIError([]byte(`{"error":{"message":"nested"}}`)))
	assert.Equal(t, "flat", extractAPIError([]byte(`{"error":"flat"}`)))
	assert.Equal(t, "top", extractAPIError([]byte(`{"message":"top"}`)))
	assert.Equal(t, "plain text", extractAPIError([]byte("plain text")))
}
