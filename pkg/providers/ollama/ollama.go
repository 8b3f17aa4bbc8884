// Package ollama provides an adapter for the native HTTP API of a local
// Ollama runtime: chat, raw generation, streaming, embeddings, and model
// management.
package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/content"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
	"github.com/germanamz/promptkit/pkg/modeladapter"
	"github.com/germanamz/promptkit/pkg/modeladapter/usage"
)

const (
	// DefaultBaseURL is where a local runtime listens unless OLLAMA_HOST says
	// otherwise.
	DefaultBaseURL = "http://localhost:11434"
	// DefaultModel is the model pulled by the setup instructions.
	DefaultModel = "llama3.2"

	chatPath     = "/api/chat"
	generatePath = "/api/generate"
	embedPath    = "/api/embed"
	tagsPath     = "/api/tags"
	pullPath     = "/api/pull"
	versionPath  = "/api/version"
)

var (
	_ modeladapter.Completer = (*Adapter)(nil)
	_ modeladapter.Generator = (*Adapter)(nil)
	_ modeladapter.Embedder  = (*Adapter)(nil)
)

// Adapter talks to an Ollama runtime.
type Adapter struct {
	modeladapter.ModelAdapter

	// KeepAlive controls how long the runtime keeps the model loaded after a
	// request (e.g. "5m", "0" to unload). Empty means runtime default.
	KeepAlive string
	// EmbedModel is used by Embed; it defaults to Name.
	EmbedModel string
}

// New creates an Adapter for the runtime at baseURL using model. An empty
// baseURL resolves through HostFromEnv; an empty model uses DefaultModel.
func New(baseURL, model string) *Adapter {
	if baseURL == "" {
		baseURL = HostFromEnv()
	}
	if model == "" {
		model = DefaultModel
	}

	a := &Adapter{}
	a.BaseURL = strings.TrimRight(baseURL, "/")
	a.Name = model

	return a
}

// HostFromEnv returns the runtime base URL from OLLAMA_HOST, accepting the
// bare "host:port" form the runtime itself accepts. It falls back to
// DefaultBaseURL.
func HostFromEnv() string {
	host := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
	if host == "" {
		return DefaultBaseURL
	}

	if !strings.Contains(host, "://") {
		host = "http://" + host
	}

	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return DefaultBaseURL
	}

	if u.Port() == "" {
		u.Host += ":11434"
	}

	return strings.TrimRight(u.String(), "/")
}

// Complete sends the conversation to /api/chat and returns the reply.
func (a *Adapter) Complete(ctx context.Context, c *chat.Chat) (message.Message, error) {
	req := a.buildChatRequest(c, false)

	var resp chatResponse
	if err := a.PostJSON(ctx, chatPath, req, &resp); err != nil {
		return message.Message{}, fmt.Errorf("ollama: %w", err)
	}

	if resp.Error != "" {
		return message.Message{}, fmt.Errorf("ollama: %s", resp.Error)
	}

	a.record(resp.metrics)

	reply := message.NewText("", role.Assistant, resp.Message.Content)
	reply.SetMeta("model", resp.Model)
	if resp.DoneReason != "" {
		reply.SetMeta("done_reason", resp.DoneReason)
	}

	return reply, nil
}

// Generate sends a single prompt to /api/generate with no chat template
// history and returns the generated text.
func (a *Adapter) Generate(ctx context.Context, prompt string) (string, error) {
	return a.GenerateWithImages(ctx, prompt)
}

// GenerateWithImages is Generate for multimodal models.
func (a *Adapter) GenerateWithImages(ctx context.Context, prompt string, images ...content.Image) (string, error) {
	req := generateRequest{
		Model:     a.Name,
		Prompt:    prompt,
		Images:    encodeImages(images),
		Stream:    false,
		Options:   a.options(),
		KeepAlive: a.KeepAlive,
	}

	var resp generateResponse
	if err := a.PostJSON(ctx, generatePath, req, &resp); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}

	if resp.Error != "" {
		return "", fmt.Errorf("ollama: %s", resp.Error)
	}

	a.record(resp.metrics)

	return resp.Response, nil
}

// Stream sends the conversation to /api/chat with streaming enabled and calls
// onChunk for every partial piece of the reply. It returns the full reply
// once the runtime reports done.
func (a *Adapter) Stream(ctx context.Context, c *chat.Chat, onChunk func(string)) (message.Message, error) {
	body, err := a.OpenStream(ctx, chatPath, a.buildChatRequest(c, true))
	if err != nil {
		return message.Message{}, fmt.Errorf("ollama: %w", err)
	}
	defer func() { _ = body.Close() }()

	var full strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return message.Message{}, fmt.Errorf("ollama: decode stream chunk: %w", err)
		}

		if chunk.Error != "" {
			return message.Message{}, fmt.Errorf("ollama: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if onChunk != nil {
				onChunk(chunk.Message.Content)
			}
		}

		if chunk.Done {
			a.record(chunk.metrics)
			return message.NewText("", role.Assistant, full.String()), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return message.Message{}, fmt.Errorf("ollama: read stream: %w", err)
	}

	return message.Message{}, errors.New("ollama: stream ended before done")
}

// Embed returns one embedding per input from /api/embed.
func (a *Adapter) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	model := a.EmbedModel
	if model == "" {
		model = a.Name
	}

	req := embedRequest{Model: model, Input: inputs, KeepAlive: a.KeepAlive}

	var resp embedResponse
	if err := a.PostJSON(ctx, embedPath, req, &resp); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	if len(resp.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("ollama: got %d embeddings for %d inputs", len(resp.Embeddings), len(inputs))
	}

	return resp.Embeddings, nil
}

// EmbeddingModel returns the model name used for embeddings, for cache keys.
func (a *Adapter) EmbeddingModel() string {
	if a.EmbedModel != "" {
		return a.EmbedModel
	}
	return a.Name
}

// Model describes a model installed in the runtime.
type Model struct {
	Name              string
	Size              int64
	Digest            string
	ModifiedAt        time.Time
	Family            string
	ParameterSize     string
	QuantizationLevel string
}

// ListModels returns the models installed in the runtime.
func (a *Adapter) ListModels(ctx context.Context) ([]Model, error) {
	var resp tagsResponse
	if err := a.GetJSON(ctx, tagsPath, &resp); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	models := make([]Model, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = Model{
			Name:              m.Name,
			Size:              m.Size,
			Digest:            m.Digest,
			ModifiedAt:        m.ModifiedAt,
			Family:            m.Details.Family,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
		}
	}

	return models, nil
}

// HasModel reports whether name is installed. A name without a tag matches
// the ":latest" tag, as the runtime resolves it.
func (a *Adapter) HasModel(ctx context.Context, name string) (bool, error) {
	models, err := a.ListModels(ctx)
	if err != nil {
		return false, err
	}

	want := name
	if !strings.Contains(want, ":") {
		want += ":latest"
	}

	for _, m := range models {
		if m.Name == name || m.Name == want {
			return true, nil
		}
	}

	return false, nil
}

// Pull downloads a model into the runtime and blocks until it finishes.
func (a *Adapter) Pull(ctx context.Context, name string) error {
	req := pullRequest{Model: name, Stream: false}

	var resp pullResponse
	if err := a.PostJSON(ctx, pullPath, req, &resp); err != nil {
		return fmt.Errorf("ollama: pull %s: %w", name, err)
	}

	if resp.Error != "" {
		return fmt.Errorf("ollama: pull %s: %s", name, resp.Error)
	}

	if resp.Status != "success" {
		return fmt.Errorf("ollama: pull %s: unexpected status %q", name, resp.Status)
	}

	return nil
}

// Version returns the runtime version. It doubles as a health check.
func (a *Adapter) Version(ctx context.Context) (string, error) {
	var resp versionResponse
	if err := a.GetJSON(ctx, versionPath, &resp); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return resp.Version, nil
}

func (a *Adapter) buildChatRequest(c *chat.Chat, stream bool) chatRequest {
	req := chatRequest{
		Model:     a.Name,
		Stream:    stream,
		Options:   a.options(),
		KeepAlive: a.KeepAlive,
	}

	c.Each(func(_ int, m message.Message) bool {
		req.Messages = append(req.Messages, apiMessage{
			Role:    m.Role.String(),
			Content: m.TextContent(),
			Images:  encodeImages(m.Images()),
		})
		return true
	})

	return req
}

func (a *Adapter) options() *apiOptions {
	if a.Temperature == 0 && a.MaxTokens == 0 && a.ContextWindow == 0 {
		return nil
	}

	opts := &apiOptions{
		NumPredict: a.MaxTokens,
		NumCtx:     a.ContextWindow,
	}
	if a.Temperature != 0 {
		t := a.Temperature
		opts.Temperature = &t
	}

	return opts
}

func (a *Adapter) record(m metrics) {
	a.Usage.Add(usage.TokenCount{
		InputTokens:  m.PromptEvalCount,
		OutputTokens: m.EvalCount,
		Duration:     time.Duration(m.EvalDuration),
	})
}

func encodeImages(images []content.Image) []string {
	if len(images) == 0 {
		return nil
	}

	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.Base64()
	}

	return out
}
