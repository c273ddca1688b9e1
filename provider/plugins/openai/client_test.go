package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelgate/modelgate/core"
)

func TestChatAgainstCompatibleEndpoint(t *testing.T) {
	var gotAuth string
	var gotBody ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("request body: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL, nil)
	temp := 0.3
	resp, err := c.Chat(context.Background(), "gpt-4o", &core.ChatRequest{
		Messages: []core.Message{
			{Role: core.RoleSystem, Content: "be terse"},
			{Role: core.RoleUser, Content: "hello"},
		},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-4o" || len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("wire request = %+v", gotBody)
	}
	if gotBody.Temperature == nil || *gotBody.Temperature != 0.3 {
		t.Error("temperature not forwarded")
	}

	if resp.Message.Content != "hi there" || resp.FinishReason != core.FinishStop {
		t.Errorf("response = %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatUpstreamErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error": {"message": "slow down"}}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL, nil)
	req := &core.ChatRequest{Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}}}

	_, err := c.Chat(context.Background(), "gpt-4o", req)
	if core.KindOf(err) != core.KindProvider || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("429 err = %v", err)
	}

	status = http.StatusUnauthorized
	_, err = c.Chat(context.Background(), "gpt-4o", req)
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Errorf("401 err = %v", err)
	}

	// missing key is rejected before any request is made
	bare := NewClient("", srv.URL, nil)
	if _, err := bare.Chat(context.Background(), "gpt-4o", req); err == nil {
		t.Error("Chat without API key succeeded")
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]core.FinishReason{
		"stop":           core.FinishStop,
		"length":         core.FinishLength,
		"content_filter": core.FinishContentFilter,
		"tool_calls":     core.FinishToolCalls,
		"":               "",
		"unknown":        core.FinishStop,
	}
	for in, want := range cases {
		if got := MapFinishReason(in); got != want {
			t.Errorf("MapFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStreamChunks(t *testing.T) {
	sse := strings.Join([]string{
		`data: {"choices":[{"delta":{"content":"Hel"},"finish_reason":""}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"},"finish_reason":""}]}`,
		``,
		`data: {"choices":[{"delta":{"content":""},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")

	chunks := StreamChunks(context.Background(), io.NopCloser(strings.NewReader(sse)), "openai", nil)

	var text strings.Builder
	var finish core.FinishReason
	var usage *core.TokenUsage
	for chunk := range chunks {
		text.WriteString(chunk.Delta)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	if text.String() != "Hello" {
		t.Errorf("assembled text = %q", text.String())
	}
	if finish != core.FinishStop {
		t.Errorf("finish = %q", finish)
	}
	if usage == nil || usage.TotalTokens != 5 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestParseResponseRejectsEmptyChoices(t *testing.T) {
	if _, err := ParseResponse("openai", []byte(`{"id":"x","choices":[]}`)); err == nil {
		t.Error("ParseResponse accepted a body with no choices")
	}
	if _, err := ParseResponse("openai", []byte(`not json`)); err == nil {
		t.Error("ParseResponse accepted malformed JSON")
	}
}
