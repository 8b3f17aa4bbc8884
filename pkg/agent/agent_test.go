package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test helpers ---

// fakeGenerator records prompts and answers with a canned reply.
type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

// fakeCompleter answers each call with the next queued reply and records the
// chats it was sent.
type fakeCompleter struct {
	mu      sync.Mutex
	replies []string
	chats   []*chat.Chat
	err     error
}

func (c *fakeCompleter) Complete(_ context.Context, ch *chat.Chat) (message.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.chats = append(c.chats, ch)
	if c.err != nil {
		return message.Message{}, c.err
	}

	reply := ""
	if len(c.replies) > 0 {
		reply = c.replies[0]
		c.replies = c.replies[1:]
	}

	return message.NewText("", role.Assistant, reply), nil
}

type fakeRetriever struct {
	chunks []string
	query  string
	k      int
	err    error
}

func (r *fakeRetriever) Retrieve(_ context.Context, query string, k int) ([]string, error) {
	r.query = query
	r.k = k
	return r.chunks, r.err
}

// --- Direct ---

func TestDirect_SendsInputVerbatim(t *testing.T) {
	gen := &fakeGenerator{reply: "The capital of France is Paris."}

	out, err := NewDirect(gen).Respond(context.Background(), "What is the capital of France?")

	require.NoError(t, err)
	assert.Equal(t, "The capital of France is Paris.", out)
	assert.Equal(t, []string{"What is the capital of France?"}, gen.prompts)
}

func TestDirect_WrapsError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection refused")}

	_, err := NewDirect(gen).Respond(context.Background(), "hi")

	require.Error(t, err)
	assert.Equal(t, "agent: direct: connection refused", err.Error())
}

// --- Augmented ---

func TestAugmented_Prompt(t *testing.T) {
	gen := &fakeGenerator{reply: "Dear students, Paris."}
	a := NewAugmented(gen, "You are a college professor; your answers always start with: 'Dear students,'", "")

	out, err := a.Respond(context.Background(), "What is the capital of France?")

	require.NoError(t, err)
	assert.Equal(t, "Dear students, Paris.", out)
	require.Len(t, gen.prompts, 1)
	assert.Equal(t,
		"You are a college professor; your answers always start with: 'Dear students,' "+
			"Always begin your answer with: 'Dear students,'. Forget all previous context.\n"+
			"What is the capital of France?",
		gen.prompts[0])
}

func TestAugmented_CustomGreeting(t *testing.T) {
	a := NewAugmented(&fakeGenerator{}, "Pirate.", "Ahoy,")

	assert.Equal(t, "Pirate. Always begin your answer with: 'Ahoy,'. Forget all previous context.\nhi", a.Prompt("hi"))
}

// --- KnowledgeAugmented ---

func TestKnowledgeAugmented_Prompt(t *testing.T) {
	gen := &fakeGenerator{reply: "London"}
	a := NewKnowledgeAugmented(gen, "a college professor", "The capital of France is London, not Paris")

	_, err := a.Respond(context.Background(), "What is the capital of France?")

	require.NoError(t, err)
	require.Len(t, gen.prompts, 1)
	assert.Equal(t,
		"You are a college professor knowledge-based assistant. Forget all previous context. "+
			"Use only the following knowledge to answer, do not use your own knowledge: "+
			"The capital of France is London, not Paris "+
			"Answer the prompt based on this knowledge, not your own.\n"+
			"What is the capital of France?",
		gen.prompts[0])
}

// --- RAGKnowledge ---

func TestRAGKnowledge_WholeCorpus(t *testing.T) {
	c := &fakeCompleter{replies: []string{"Clara"}}
	a := NewRAGKnowledge(c, "a helpful assistant", "Clara is a marine biologist.", RAGOptions{})

	out, err := a.Respond(context.Background(), "Who is Clara?")

	require.NoError(t, err)
	assert.Equal(t, "Clara", out)
	require.Len(t, c.chats, 1)

	sent := c.chats[0]
	require.Equal(t, 2, sent.Len())
	assert.Equal(t, role.System, sent.At(0).Role)
	assert.Equal(t,
		"You are a helpful assistant. Use only the following knowledge to answer: "+
			"Clara is a marine biologist.. Forget all previous context.",
		sent.At(0).TextContent())
	assert.Equal(t, role.User, sent.At(1).Role)
	assert.Equal(t, "Who is Clara?", sent.At(1).TextContent())
}

func TestRAGKnowledge_RetrieverAndInstructions(t *testing.T) {
	c := &fakeCompleter{replies: []string{"ok"}}
	r := &fakeRetriever{chunks: []string{"chunk one", "chunk two"}}
	a := NewRAGKnowledge(c, "an expert", "full corpus", RAGOptions{
		Retriever:    r,
		TopK:         2,
		Instructions: "Answer in a table.",
	})

	_, err := a.Respond(context.Background(), "question")

	require.NoError(t, err)
	assert.Equal(t, "question", r.query)
	assert.Equal(t, 2, r.k)
	assert.Equal(t,
		"You are an expert. Use only the following knowledge to answer: chunk one\n\nchunk two. "+
			"Forget all previous context.\n\nAnswer in a table.",
		c.chats[0].SystemPrompt())
}

func TestRAGKnowledge_EmptyRetrievalFallsBackToCorpus(t *testing.T) {
	c := &fakeCompleter{replies: []string{"ok"}}
	a := NewRAGKnowledge(c, "x", "corpus", RAGOptions{Retriever: &fakeRetriever{}})

	_, err := a.Respond(context.Background(), "q")

	require.NoError(t, err)
	assert.Contains(t, c.chats[0].SystemPrompt(), "answer: corpus.")
}

func TestRAGKnowledge_RetrieverError(t *testing.T) {
	a := NewRAGKnowledge(&fakeCompleter{}, "x", "corpus", RAGOptions{
		Retriever: &fakeRetriever{err: errors.New("index empty")},
	})

	_, err := a.Respond(context.Background(), "q")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieve: index empty")
}

func TestResponderFunc(t *testing.T) {
	var r Responder = ResponderFunc(func(_ context.Context, input string) (string, error) {
		return "echo " + input, nil
	})

	out, err := r.Respond(context.Background(), "hi")

	require.NoError(t, err)
	assert.Equal(t, "echo hi", out)
}
