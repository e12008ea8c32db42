package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient creates an sdkClient pointing at a local test server.
func newTestClient(baseURL string, opts ...ClientOption) *sdkClient {
	opts = append(opts, WithBaseURL(baseURL))
	return NewClient("test-key", opts...).(*sdkClient)
}

func writeMessage(w http.ResponseWriter, stopReason string, content []map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"id":          "msg_test_001",
		"type":        "message",
		"role":        "assistant",
		"content":     content,
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": stopReason,
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     0,
		},
	})
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		writeMessage(w, "end_turn", []map[string]any{{"type": "text", "text": "Hello from test"}})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Hello from test", resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(5), resp.Usage.OutputTokens)
}

func TestSDKClient_CreateMessage_ToolRoundTrip(t *testing.T) {
	var bodies []map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		bodies = append(bodies, body)

		if len(bodies) == 1 {
			writeMessage(w, "tool_use", []map[string]any{{
				"type":  "tool_use",
				"id":    "toolu_01",
				"name":  "search_knowledge",
				"input": map[string]any{"query": "revenue"},
			}})
			return
		}
		writeMessage(w, "end_turn", []map[string]any{{"type": "text", "text": "Revenue is $400k ARR."}})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	tools := []Tool{{
		Name:        "search_knowledge",
		Description: "Search the company knowledge base",
		Properties:  map[string]any{"query": map[string]any{"type": "string"}},
		Required:    []string{"query"},
	}}
	req := MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 512,
		System:    BuildCachedSystemBlocks("You are a financial analyst.", ""),
		Messages:  []Message{{Role: "user", Content: "What is revenue?"}},
		Tools:     tools,
	}

	first, err := client.CreateMessage(context.Background(), req)
	require.NoError(t, err)
	uses := first.ToolUses()
	require.Len(t, uses, 1)
	assert.Equal(t, "toolu_01", uses[0].ID)

	req.Messages = append(req.Messages,
		Message{Role: "assistant", Blocks: first.Content},
		Message{Role: "user", Blocks: []ContentBlock{ToolResult(uses[0].ID, "Revenue: $400k ARR", false)}},
	)
	second, err := client.CreateMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Revenue is $400k ARR.", second.Text())

	require.Len(t, bodies, 2)
	sentTools := bodies[0]["tools"].([]any)
	require.Len(t, sentTools, 1)
	tool := sentTools[0].(map[string]any)
	assert.Equal(t, "search_knowledge", tool["name"])
	schema := tool["input_schema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])

	msgs := bodies[1]["messages"].([]any)
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]any)
	block := last["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", block["type"])
	assert.Equal(t, "toolu_01", block["tool_use_id"])
}

func TestSDKClient_CreateMessage_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"message": "bad request",
			},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestSDKClient_CreateMessage_RateLimitHonorsContext(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0", WithRateLimit(0.001))
	// Drain the single burst token.
	require.True(t, client.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := client.CreateMessage(ctx, MessageRequest{
		Model:    "claude-haiku-4-5-20251001",
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: rate limit")
}

func TestSDKClient_CreateMessage_NoToolUse(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeMessage(w, "end_turn", []map[string]any{{"type": "text", "text": "final"}})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 64,
		Messages:  []Message{{Role: "user", Content: "Wrap up."}},
		Tools:     []Tool{{Name: "search_knowledge", Properties: map[string]any{}}},
		NoToolUse: true,
	})
	require.NoError(t, err)

	choice, ok := body["tool_choice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "none", choice["type"])
}

func TestSDKClient_CreateMessage_OverloadedIsRetryable(t *testing.T) {
	var calls int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "overloaded_error", "message": "Overloaded"},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL, WithMaxRetries(0))
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 16,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(io.EOF))
	assert.True(t, IsRetryable(apiError(http.StatusTooManyRequests)))
	assert.True(t, IsRetryable(fmt.Errorf("agent: call: %w", apiError(http.StatusBadGateway))))
	assert.False(t, IsRetryable(apiError(http.StatusBadRequest)))
}

func apiError(code int) *sdk.Error {
	return &sdk.Error{
		StatusCode: code,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: code},
	}
}
