package dialogue_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkreel/internal/services"
	"talkreel/internal/services/dialogue"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int64   `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
}

func completionBody(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "deepseek-chat",
		"choices": []any{
			map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	}
}

func newClient(t *testing.T, url string, timeout time.Duration) *dialogue.Client {
	t.Helper()
	cfg := dialogue.DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = url
	cfg.Timeout = timeout
	clock := func() time.Time { return time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC) }
	return dialogue.NewClient(cfg, dialogue.WithClock(clock))
}

func TestReplySendsPersonaPrompt(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody("  今天天气不错哦  "))
	}))
	defer server.Close()

	reply, err := newClient(t, server.URL, time.Second).Reply(context.Background(), "你好", dialogue.Persona{Name: "小雅", Personality: "温柔体贴"})
	require.NoError(t, err)
	assert.Equal(t, "今天天气不错哦", reply)

	assert.Equal(t, "deepseek-chat", got.Model)
	assert.InDelta(t, 1.0, got.Temperature, 1e-9)
	assert.Equal(t, int64(100), got.MaxTokens)
	assert.InDelta(t, 0.95, got.TopP, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "你是小雅")
	assert.Contains(t, got.Messages[0].Content, "温柔体贴")
	assert.Contains(t, got.Messages[0].Content, "14:05:09")
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t, "你好", got.Messages[1].Content)
}

func TestReplyEmptyPromptSkipsProvider(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	reply, err := newClient(t, server.URL, time.Second).Reply(context.Background(), "   ", dialogue.Persona{})
	require.NoError(t, err)
	assert.Equal(t, "请问有什么可以帮助您的？", reply)
	assert.Zero(t, calls.Load())
}

func TestReplyProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	}))
	defer server.Close()

	_, err := newClient(t, server.URL, time.Second).Reply(context.Background(), "hello", dialogue.Persona{})
	require.Error(t, err)
	assert.ErrorIs(t, err, dialogue.ErrProviderError)
	assert.ErrorIs(t, err, services.ErrDialogue)
	assert.NotErrorIs(t, err, dialogue.ErrTimeout)
}

func TestReplyEmptyContentIsProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(""))
	}))
	defer server.Close()

	_, err := newClient(t, server.URL, time.Second).Reply(context.Background(), "hello", dialogue.Persona{})
	assert.ErrorIs(t, err, dialogue.ErrProviderError)
}

func TestReplyTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := newClient(t, server.URL, 50*time.Millisecond).Reply(context.Background(), "hello", dialogue.Persona{})
	require.Error(t, err)
	assert.ErrorIs(t, err, dialogue.ErrTimeout)
	assert.ErrorIs(t, err, services.ErrTimeout)
}

func TestReplyWithoutAPIKey(t *testing.T) {
	client := dialogue.NewClient(dialogue.Config{})
	assert.False(t, client.Configured())
	_, err := client.Reply(context.Background(), "hello", dialogue.Persona{})
	assert.ErrorIs(t, err, dialogue.ErrProviderError)
}

func TestSystemPromptWithoutPersona(t *testing.T) {
	prompt := dialogue.SystemPrompt(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), dialogue.Persona{})
	assert.True(t, strings.HasPrefix(prompt, "你是一个语音对话助手。当前时间：09:00:00"))
	assert.NotContains(t, prompt, "性格特点")
	assert.Contains(t, prompt, "30字以内")
}
