package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	c, err := NewClient(ProviderOpenAI, "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	c, err = NewClient(ProviderAnthropic, "sk-ant-test")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", c.Name())
	assert.NotEmpty(t, c.Models())

	_, err = NewClient("mistral", "key")
	assert.ErrorContains(t, err, "unknown LLM provider")

	_, err = NewClient(ProviderOpenAI, "")
	assert.Error(t, err)
}

func TestWithDefaults(t *testing.T) {
	model, maxTokens := withDefaults(&CompletionRequest{}, "fallback")
	assert.Equal(t, "fallback", model)
	assert.Equal(t, defaultMaxTokens, maxTokens)

	model, maxTokens = withDefaults(&CompletionRequest{Model: "m", MaxTokens: 10}, "fallback")
	assert.Equal(t, "m", model)
	assert.Equal(t, 10, maxTokens)
}

func chunk(content, finish string) string {
	finishJSON := "null"
	if finish != "" {
		finishJSON = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":%q},"finish_reason":%s}]}`+"\n\n", content, finishJSON)
}

func newStreamingServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = w.Write([]byte(c))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openAIClientFor(srv *httptest.Server) *OpenAIClient {
	cfg := openai.DefaultConfig("sk-test")
	cfg.BaseURL = srv.URL + "/v1"
	return NewOpenAIClientWithConfig(cfg)
}

func TestOpenAIClient_CompleteStream(t *testing.T) {
	srv := newStreamingServer(t, chunk("Hel", ""), chunk("", ""), chunk("lo", "stop"))
	client := openAIClientFor(srv)

	var deltas []string
	var indexes []int
	resp, err := client.CompleteStream(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "say hello"}},
	}, func(delta string, index int) error {
		deltas = append(deltas, delta)
		indexes = append(indexes, index)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, []int{0, 1}, indexes)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, openai.GPT4o, resp.Model)
}

func TestOpenAIClient_CompleteStreamCallbackError(t *testing.T) {
	srv := newStreamingServer(t, chunk("a", ""), chunk("b", ""))
	client := openAIClientFor(srv)

	stop := errors.New("client went away")
	_, err := client.CompleteStream(context.Background(), &CompletionRequest{}, func(string, int) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func anthropicEvent(name, data string) string {
	return "event: " + name + "\ndata: " + data + "\n\n"
}

func anthropicTextDelta(text string) string {
	return anthropicEvent("content_block_delta",
		fmt.Sprintf(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":%q}}`, text))
}

func newAnthropicServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			_, _ = w.Write([]byte(e))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func anthropicClientFor(t *testing.T, srv *httptest.Server) *AnthropicClient {
	t.Helper()
	client, err := NewAnthropicClient("sk-ant-test",
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
	require.NoError(t, err)
	return client
}

func TestAnthropicClient_CompleteStream(t *testing.T) {
	srv := newAnthropicServer(t,
		anthropicEvent("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`),
		anthropicEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
		anthropicTextDelta("Hel"),
		anthropicTextDelta(""),
		anthropicTextDelta("lo"),
		anthropicEvent("content_block_stop", `{"type":"content_block_stop","index":0}`),
		anthropicEvent("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":5}}`),
		anthropicEvent("message_stop", `{"type":"message_stop"}`),
	)
	client := anthropicClientFor(t, srv)

	var deltas []string
	var indexes []int
	resp, err := client.CompleteStream(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "say hello"},
		},
	}, func(delta string, index int) error {
		deltas = append(deltas, delta)
		indexes = append(indexes, index)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, []int{0, 1}, indexes)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, 12, resp.TokensIn)
	assert.Equal(t, 5, resp.TokensOut)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, defaultAnthropicModel, resp.Model)
}

func TestAnthropicClient_CompleteStreamCallbackError(t *testing.T) {
	srv := newAnthropicServer(t,
		anthropicTextDelta("a"),
		anthropicTextDelta("b"),
	)
	client := anthropicClientFor(t, srv)

	stop := errors.New("client went away")
	calls := 0
	_, err := client.CompleteStream(context.Background(), &CompletionRequest{}, func(string, int) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestAnthropicClient_CompleteStreamAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	t.Cleanup(srv.Close)
	client := anthropicClientFor(t, srv)

	_, err := client.CompleteStream(context.Background(), &CompletionRequest{}, func(string, int) error {
		t.Fatal("no deltas expected")
		return nil
	})
	assert.Error(t, err)
}

func TestAnthropicClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[{"type":"text","text":"Hello"}],"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	t.Cleanup(srv.Close)
	client := anthropicClientFor(t, srv)

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, 3, resp.TokensIn)
	assert.Equal(t, 2, resp.TokensOut)
	assert.Equal(t, "end_turn", resp.StopReason)
}
