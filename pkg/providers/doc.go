// Package providers groups the model runtime adapters.
//
// Each sub-package embeds [github.com/germanamz/promptkit/pkg/modeladapter.ModelAdapter]
// and translates chats to its runtime's wire format:
//   - [github.com/germanamz/promptkit/pkg/providers/ollama] native API of a local Ollama runtime
//   - [github.com/germanamz/promptkit/pkg/providers/openai] OpenAI-compatible Chat Completions
package providers
