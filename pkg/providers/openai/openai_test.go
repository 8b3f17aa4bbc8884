package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/content"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
	"github.com/germanamz/promptkit/pkg/modeladapter"
	"github.com/germanamz/promptkit/pkg/providers/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *openai.Adapter {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return openai.New(srv.URL, "test-key", "gpt-4o-mini")
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func readBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}

	return req
}

func reply(text string) map[string]any {
	return map[string]any{
		"model": "gpt-4o-mini",
		"choices": []map[string]any{
			{
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 5,
		},
	}
}

func TestComplete_SimpleText(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		req := readBody(t, r)
		assert.Equal(t, "gpt-4o-mini", req["model"])
		assert.NotContains(t, req, "temperature")

		msgs, ok := req["messages"].([]any)
		require.True(t, ok)
		assert.Len(t, msgs, 2)

		first, _ := msgs[0].(map[string]any)
		assert.Equal(t, "system", first["role"])
		assert.Equal(t, "You are helpful.", first["content"])

		writeJSON(t, w, reply("Hello there!"))
	})

	c := chat.New(
		message.NewText("", role.System, "You are helpful."),
		message.NewText("", role.User, "Hi"),
	)

	msg, err := adapter.Complete(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, role.Assistant, msg.Role)
	assert.Equal(t, "Hello there!", msg.TextContent())

	reason, _ := msg.GetMeta("finish_reason")
	assert.Equal(t, "stop", reason)

	last, ok := adapter.Usage.Last()
	require.True(t, ok)
	assert.Equal(t, 10, last.InputTokens)
	assert.Equal(t, 5, last.OutputTokens)
}

func TestComplete_NoKeyNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(t, w, reply("ok"))
	}))
	t.Cleanup(srv.Close)

	adapter := openai.New(srv.URL+"/", "", "llama3.2")

	_, err := adapter.Complete(context.Background(), chat.New(message.NewText("", role.User, "hi")))
	require.NoError(t, err)
}

func TestComplete_Temperature(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := readBody(t, r)
		assert.InDelta(t, 0.7, req["temperature"], 1e-9)
		assert.InDelta(t, 256, req["max_tokens"], 1e-9)
		writeJSON(t, w, reply("ok"))
	})
	adapter.Temperature = 0.7
	adapter.MaxTokens = 256

	_, err := adapter.Complete(context.Background(), chat.New(message.NewText("", role.User, "hi")))
	require.NoError(t, err)
}

func TestComplete_ImageParts(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := readBody(t, r)
		msgs, _ := req["messages"].([]any)
		first, _ := msgs[0].(map[string]any)

		parts, ok := first["content"].([]any)
		require.True(t, ok)
		require.Len(t, parts, 2)

		img, _ := parts[1].(map[string]any)
		assert.Equal(t, "image_url", img["type"])
		url, _ := img["image_url"].(map[string]any)
		assert.Equal(t, "data:image/jpeg;base64,AQI=", url["url"])

		writeJSON(t, w, reply("a chart"))
	})

	c := chat.New(message.New("", role.User,
		content.Text{Text: "Describe"},
		content.Image{Data: []byte{1, 2}, MediaType: "image/jpeg"},
	))

	msg, err := adapter.Complete(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "a chart", msg.TextContent())
}

func TestComplete_EmptyChoices(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{"choices": []any{}})
	})

	_, err := adapter.Complete(context.Background(), chat.New())
	require.ErrorIs(t, err, openai.ErrEmptyChoices)
}

func TestComplete_NullContent(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": nil}}},
		})
	})

	msg, err := adapter.Complete(context.Background(), chat.New())
	require.NoError(t, err)
	assert.Empty(t, msg.TextContent())
}

func TestComplete_RateLimited(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	})

	_, err := adapter.Complete(context.Background(), chat.New())

	var busy *modeladapter.BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, http.StatusTooManyRequests, busy.Code)
}

func TestGenerate_SingleUserMessage(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := readBody(t, r)
		msgs, _ := req["messages"].([]any)
		require.Len(t, msgs, 1)

		only, _ := msgs[0].(map[string]any)
		assert.Equal(t, "user", only["role"])
		assert.Equal(t, "What is 2+2?", only["content"])

		writeJSON(t, w, reply("4"))
	})

	out, err := adapter.Generate(context.Background(), "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, "4", out)
}

func TestEmbed_OrdersByIndex(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		req := readBody(t, r)
		assert.Equal(t, "text-embedding-3-small", req["model"])

		writeJSON(t, w, map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
			"usage": map[string]any{"prompt_tokens": 4},
		})
	})
	adapter.EmbedModel = "text-embedding-3-small"

	vecs, err := adapter.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestEmbed_IndexOutOfRange(t *testing.T) {
	adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"data": []map[string]any{{"index": 3, "embedding": []float32{1}}},
		})
	})

	_, err := adapter.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
}
