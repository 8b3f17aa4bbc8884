package ollama

import "time"

// --- request types ---

type apiMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type apiOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
}

type chatRequest struct {
	Model     string       `json:"model"`
	Messages  []apiMessage `json:"messages"`
	Stream    bool         `json:"stream"`
	Options   *apiOptions  `json:"options,omitempty"`
	KeepAlive string       `json:"keep_alive,omitempty"`
}

type generateRequest struct {
	Model     string      `json:"model"`
	Prompt    string      `json:"prompt"`
	Images    []string    `json:"images,omitempty"`
	Stream    bool        `json:"stream"`
	Options   *apiOptions `json:"options,omitempty"`
	KeepAlive string      `json:"keep_alive,omitempty"`
}

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}

type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// --- response types ---

// metrics are the counters the runtime attaches to final responses.
// Durations are in nanoseconds.
type metrics struct {
	TotalDuration   int64 `json:"total_duration"`
	LoadDuration    int64 `json:"load_duration"`
	PromptEvalCount int   `json:"prompt_eval_count"`
	EvalCount       int   `json:"eval_count"`
	EvalDuration    int64 `json:"eval_duration"`
}

type chatResponse struct {
	Model      string     `json:"model"`
	Message    apiMessage `json:"message"`
	Done       bool       `json:"done"`
	DoneReason string     `json:"done_reason"`
	Error      string     `json:"error"`
	metrics
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
	metrics
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

type tagsResponse struct {
	Models []apiModel `json:"models"`
}

type apiModel struct {
	Name       string          `json:"name"`
	Size       int64           `json:"size"`
	Digest     string          `json:"digest"`
	ModifiedAt time.Time       `json:"modified_at"`
	Details    apiModelDetails `json:"details"`
}

type apiModelDetails struct {
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

type pullResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type versionResponse struct {
	Version string `json:"version"`
}
