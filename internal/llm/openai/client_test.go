package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepakdriver/lepakdriver/internal/llm"
	"github.com/lepakdriver/lepakdriver/internal/llm/openai"
	"github.com/lepakdriver/lepakdriver/internal/provider/resilience"
)

func newTestClient(t *testing.T, serverURL string) *openai.Client {
	t.Helper()

	httpCfg := resilience.DefaultClientConfig("openai-test")
	httpCfg.MaxRetries = -1

	return openai.NewClient(openai.ClientConfig{
		APIKey:     "sk-test",
		BaseURL:    serverURL + "/v1",
		Model:      "gpt-test",
		HTTPClient: resilience.NewClient(httpCfg),
		Logger:     zerolog.Nop(),
	})
}

func TestClient_Name(t *testing.T) {
	client := openai.NewClient(openai.ClientConfig{APIKey: "sk-test", Logger: zerolog.Nop()})
	assert.Equal(t, openai.DefaultModel, client.Name())
}

func TestClient_Complete_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Equal(t, "gpt-test", body["model"])
		assert.Equal(t, "auto", body["tool_choice"])

		tools, ok := body["tools"].([]interface{})
		require.True(t, ok)
		require.Len(t, tools, 1)
		fn := tools[0].(map[string]interface{})["function"].(map[string]interface{})
		assert.Equal(t, "get_bus_arrival", fn["name"])

		msgs := body["messages"].([]interface{})
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
		assert.Equal(t, "user", msgs[1].(map[string]interface{})["role"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_abc",
						"type": "function",
						"function": {"name": "get_bus_arrival", "arguments": "{\"bus_stop_code\":\"54009\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120}
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	completion, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			llm.SystemMessage("you are helpful"),
			llm.UserMessage("when is the next 174?"),
		},
		Temperature: 0.7,
		MaxTokens:   500,
		Tools: []llm.ToolSpec{{
			Name:        "get_bus_arrival",
			Description: "Get bus arrivals",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"bus_stop_code":{"type":"string"}},"required":["bus_stop_code"]}`),
		}},
		ToolChoice: llm.ToolChoiceAuto,
	})
	require.NoError(t, err)

	require.True(t, completion.HasToolCalls())
	assert.Equal(t, "call_abc", completion.ToolCalls[0].ID)
	assert.Equal(t, "get_bus_arrival", completion.ToolCalls[0].Name)
	assert.JSONEq(t, `{"bus_stop_code":"54009"}`, completion.ToolCalls[0].Arguments)
	assert.Equal(t, 120, completion.TotalTokens)
}

func TestClient_Complete_ToolResultsRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		_, hasTools := body["tools"]
		assert.False(t, hasTools, "follow-up call must not offer tools")
		_, hasChoice := body["tool_choice"]
		assert.False(t, hasChoice)

		msgs := body["messages"].([]interface{})
		require.Len(t, msgs, 3)

		assistant := msgs[1].(map[string]interface{})
		calls := assistant["tool_calls"].([]interface{})
		require.Len(t, calls, 1)
		assert.Equal(t, "call_abc", calls[0].(map[string]interface{})["id"])

		result := msgs[2].(map[string]interface{})
		assert.Equal(t, "tool", result["role"])
		assert.Equal(t, "call_abc", result["tool_call_id"])
		assert.Equal(t, "Service 174: 3 minutes", result["content"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Bus 174 coming in 3 minutes lah!"}}],
			"usage": {"total_tokens": 42}
		}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	completion, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			llm.UserMessage("when is the next 174?"),
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_abc", Name: "get_bus_arrival", Arguments: `{"bus_stop_code":"54009"}`}}},
			llm.ToolResultMessage("call_abc", "Service 174: 3 minutes"),
		},
	})
	require.NoError(t, err)

	assert.False(t, completion.HasToolCalls())
	assert.Equal(t, "Bus 174 coming in 3 minutes lah!", completion.Content)
}

func TestClient_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{llm.UserMessage("hi")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion")
}

func TestClient_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{llm.UserMessage("hi")},
	})
	assert.ErrorIs(t, err, llm.ErrEmptyCompletion)
}
