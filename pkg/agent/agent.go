// Package agent provides prompt agents that answer a single input by
// templating it into a prompt or chat and sending it to a model runtime.
//
// Every agent implements [Responder], so agents compose: an [Evaluator] wraps
// a worker, a [Router] picks between routes, and [Middleware] decorates any of
// them.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
	"github.com/germanamz/promptkit/pkg/modeladapter"
)

// DefaultGreeting opens every answer of an Augmented agent unless overridden.
const DefaultGreeting = "Dear students,"

// DefaultTopK is the number of chunks a RAGKnowledge agent retrieves.
const DefaultTopK = 4

// Responder answers a single input.
type Responder interface {
	Respond(ctx context.Context, input string) (string, error)
}

// ResponderFunc adapts a plain function to the Responder interface.
type ResponderFunc func(ctx context.Context, input string) (string, error)

// Respond calls the underlying function.
func (f ResponderFunc) Respond(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// Retriever returns the chunks of a knowledge corpus most relevant to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// --- Direct ---

// Direct forwards the input to the model verbatim.
type Direct struct {
	gen modeladapter.Generator
}

// NewDirect creates a Direct agent.
func NewDirect(gen modeladapter.Generator) *Direct {
	return &Direct{gen: gen}
}

// Respond implements Responder.
func (a *Direct) Respond(ctx context.Context, input string) (string, error) {
	out, err := a.gen.Generate(ctx, input)
	if err != nil {
		return "", fmt.Errorf("agent: direct: %w", err)
	}
	return out, nil
}

// --- Augmented ---

// Augmented prefixes the input with a persona and a fixed greeting the answer
// must start with.
type Augmented struct {
	gen      modeladapter.Generator
	persona  string
	greeting string
}

// NewAugmented creates an Augmented agent. An empty greeting uses
// DefaultGreeting.
func NewAugmented(gen modeladapter.Generator, persona, greeting string) *Augmented {
	if greeting == "" {
		greeting = DefaultGreeting
	}
	return &Augmented{gen: gen, persona: persona, greeting: greeting}
}

// Prompt returns the prompt sent for input.
func (a *Augmented) Prompt(input string) string {
	return fmt.Sprintf("%s Always begin your answer with: '%s'. Forget all previous context.\n%s",
		a.persona, a.greeting, input)
}

// Respond implements Responder.
func (a *Augmented) Respond(ctx context.Context, input string) (string, error) {
	out, err := a.gen.Generate(ctx, a.Prompt(input))
	if err != nil {
		return "", fmt.Errorf("agent: augmented: %w", err)
	}
	return out, nil
}

// --- KnowledgeAugmented ---

// KnowledgeAugmented restricts the model to a fixed body of knowledge.
type KnowledgeAugmented struct {
	gen       modeladapter.Generator
	persona   string
	knowledge string
}

// NewKnowledgeAugmented creates a KnowledgeAugmented agent.
func NewKnowledgeAugmented(gen modeladapter.Generator, persona, knowledge string) *KnowledgeAugmented {
	return &KnowledgeAugmented{gen: gen, persona: persona, knowledge: knowledge}
}

// Prompt returns the prompt sent for input.
func (a *KnowledgeAugmented) Prompt(input string) string {
	return fmt.Sprintf("You are %s knowledge-based assistant. Forget all previous context. "+
		"Use only the following knowledge to answer, do not use your own knowledge: %s "+
		"Answer the prompt based on this knowledge, not your own.\n%s",
		a.persona, a.knowledge, input)
}

// Respond implements Responder.
func (a *KnowledgeAugmented) Respond(ctx context.Context, input string) (string, error) {
	out, err := a.gen.Generate(ctx, a.Prompt(input))
	if err != nil {
		return "", fmt.Errorf("agent: knowledge: %w", err)
	}
	return out, nil
}

// --- RAGKnowledge ---

// RAGOptions configures a RAGKnowledge agent.
type RAGOptions struct {
	// Retriever, when set, replaces the whole corpus with the chunks most
	// relevant to each input.
	Retriever Retriever
	TopK      int // Chunks to retrieve (default DefaultTopK).
	// Instructions are appended to the system message.
	Instructions string
}

// RAGKnowledge answers through a chat whose system message carries the
// knowledge, either the whole corpus or retrieved chunks.
type RAGKnowledge struct {
	completer modeladapter.Completer
	persona   string
	corpus    string
	opts      RAGOptions
}

// NewRAGKnowledge creates a RAGKnowledge agent over corpus.
func NewRAGKnowledge(completer modeladapter.Completer, persona, corpus string, opts RAGOptions) *RAGKnowledge {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &RAGKnowledge{completer: completer, persona: persona, corpus: corpus, opts: opts}
}

// SystemPrompt returns the system message built around knowledge.
func (a *RAGKnowledge) SystemPrompt(knowledge string) string {
	prompt := fmt.Sprintf("You are %s. Use only the following knowledge to answer: %s. Forget all previous context.",
		a.persona, knowledge)
	if a.opts.Instructions != "" {
		prompt += "\n\n" + a.opts.Instructions
	}
	return prompt
}

// Respond implements Responder.
func (a *RAGKnowledge) Respond(ctx context.Context, input string) (string, error) {
	knowledge, err := a.knowledge(ctx, input)
	if err != nil {
		return "", fmt.Errorf("agent: rag: %w", err)
	}

	out, err := ask(ctx, a.completer, a.SystemPrompt(knowledge), input)
	if err != nil {
		return "", fmt.Errorf("agent: rag: %w", err)
	}
	return out, nil
}

func (a *RAGKnowledge) knowledge(ctx context.Context, input string) (string, error) {
	if a.opts.Retriever == nil {
		return a.corpus, nil
	}

	chunks, err := a.opts.Retriever.Retrieve(ctx, input, a.opts.TopK)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}

	if len(chunks) == 0 {
		return a.corpus, nil
	}

	return strings.Join(chunks, "\n\n"), nil
}

// ask sends a system+user chat and returns the reply text.
func ask(ctx context.Context, c modeladapter.Completer, system, user string) (string, error) {
	reply, err := c.Complete(ctx, chat.New(
		message.NewText("", role.System, system),
		message.NewText("", role.User, user),
	))
	if err != nil {
		return "", err
	}
	return reply.TextContent(), nil
}
