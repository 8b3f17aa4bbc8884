// Package openai provides a Completer implementation for OpenAI-compatible
// Chat Completions APIs, including the local runtime's /v1 layer.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/content"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
	"github.com/germanamz/promptkit/pkg/modeladapter"
	"github.com/germanamz/promptkit/pkg/modeladapter/usage"
)

const (
	completionsPath = "/v1/chat/completions"
	embeddingsPath  = "/v1/embeddings"
)

var (
	_ modeladapter.Completer = (*Adapter)(nil)
	_ modeladapter.Generator = (*Adapter)(nil)
	_ modeladapter.Embedder  = (*Adapter)(nil)
)

// ErrEmptyChoices is returned when the API answers without any choice.
var ErrEmptyChoices = errors.New("openai: empty choices in response")

// Adapter implements modeladapter.Completer for the Chat Completions API.
type Adapter struct {
	modeladapter.ModelAdapter

	// EmbedModel is used by Embed; it defaults to Name.
	EmbedModel string
}

// New creates an Adapter. The baseURL should not carry the /v1 suffix, e.g.
// "https://api.openai.com" or "http://localhost:11434". An empty apiKey sends
// no Authorization header, which the local runtime accepts.
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = strings.TrimRight(baseURL, "/")
	a.Auth = modeladapter.Auth{Key: apiKey}
	a.Name = model

	return a
}

// Complete sends a conversation and returns the assistant's reply.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat) (message.Message, error) {
	req := a.buildRequest(c)

	var resp apiResponse
	if err := a.PostJSON(ctx, completionsPath, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("openai: %w", err)
	}

	a.Usage.Add(usage.TokenCount{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	})

	if len(resp.Choices) == 0 {
		return message.Message{}, ErrEmptyChoices
	}

	choice := resp.Choices[0]

	text := ""
	if choice.Message.Content != nil {
		text = *choice.Message.Content
	}

	reply := message.NewText("", role.Assistant, text)
	reply.SetMeta("model", resp.Model)
	if choice.FinishReason != "" {
		reply.SetMeta("finish_reason", choice.FinishReason)
	}

	return reply, nil
}

// Generate sends prompt as a single user message.
func (a *Adapter) Generate(ctx context.Context, prompt string) (string, error) {
	reply, err := a.Complete(ctx, chat.New(message.NewText("", role.User, prompt)))
	if err != nil {
		return "", err
	}
	return reply.TextContent(), nil
}

// Embed returns one embedding per input, ordered by the response index.
func (a *Adapter) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	req := embedRequest{Model: a.EmbeddingModel(), Input: inputs}

	var resp embedResponse
	if err := a.PostJSON(ctx, embeddingsPath, req, &resp); err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("openai: got %d embeddings for %d inputs", len(resp.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}

	a.Usage.Add(usage.TokenCount{InputTokens: resp.Usage.PromptTokens})

	return out, nil
}

// EmbeddingModel returns the model name used for embeddings.
func (a *Adapter) EmbeddingModel() string {
	if a.EmbedModel != "" {
		return a.EmbedModel
	}
	return a.Name
}

// --- request types ---

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

// apiMessage content is either a plain string or a list of typed parts when
// the message carries images.
type apiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type apiPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *apiImageURL `json:"image_url,omitempty"`
}

type apiImageURL struct {
	URL string `json:"url"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// --- response types ---

type apiResponse struct {
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      apiRespMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type apiRespMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage apiUsage `json:"usage"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(c *chat.Chat) apiRequest {
	req := apiRequest{
		Model:     a.Name,
		MaxTokens: a.MaxTokens,
	}

	if a.Temperature != 0 {
		t := a.Temperature
		req.Temperature = &t
	}

	c.Each(func(_ int, m message.Message) bool {
		req.Messages = append(req.Messages, toAPIMessage(m))
		return true
	})

	return req
}

func toAPIMessage(m message.Message) apiMessage {
	images := m.Images()
	if len(images) == 0 || m.Role != role.User {
		return apiMessage{Role: m.Role.String(), Content: m.TextContent()}
	}

	var parts []apiPart
	for _, p := range m.Parts {
		switch v := p.(type) {
		case content.Text:
			parts = append(parts, apiPart{Type: "text", Text: v.Text})
		case content.Image:
			parts = append(parts, apiPart{
				Type:     "image_url",
				ImageURL: &apiImageURL{URL: v.DataURL()},
			})
		}
	}

	return apiMessage{Role: m.Role.String(), Content: parts}
}
