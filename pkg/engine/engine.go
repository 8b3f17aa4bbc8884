package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/germanamz/promptkit/pkg/agent"
	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
	"github.com/germanamz/promptkit/pkg/knowledge"
	"github.com/germanamz/promptkit/pkg/modeladapter"
	"github.com/germanamz/promptkit/pkg/providers/ollama"
	"github.com/germanamz/promptkit/pkg/qaplan"
	"github.com/germanamz/promptkit/pkg/store"
)

// ErrNoOllama is returned by Ollama when no provider talks to a local runtime.
var ErrNoOllama = errors.New("engine: no ollama provider configured")

// Engine is the composition root that assembles providers, agents, the router
// and the QA planner from configuration.
type Engine struct {
	cfg    Config
	log    *slog.Logger
	events *EventBus
	store  *store.Store

	providers  map[string]ProviderConfig
	raw        map[string]modeladapter.Completer
	completers map[string]modeladapter.Completer

	registry   *agent.Registry
	responders map[string]agent.Responder // Unwrapped, for evaluation workers.
	evaluators map[string]*agent.Evaluator
	indexes    map[string]*knowledge.Index
	router     *agent.Router
	planner    *qaplan.Planner

	mu       sync.Mutex
	sessions map[string]*Session
	nextID   int
}

// New creates an Engine from the given configuration. It validates the
// config, opens the store, creates provider adapters, embeds knowledge for
// retrieval agents and registers every agent.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &Engine{
		cfg:        cfg,
		log:        cfg.Logger,
		events:     NewEventBus(),
		providers:  make(map[string]ProviderConfig, len(cfg.Providers)),
		raw:        make(map[string]modeladapter.Completer, len(cfg.Providers)),
		completers: make(map[string]modeladapter.Completer, len(cfg.Providers)),
		registry:   agent.NewRegistry(),
		responders: make(map[string]agent.Responder, len(cfg.Agents)),
		evaluators: make(map[string]*agent.Evaluator),
		indexes:    make(map[string]*knowledge.Index),
		sessions:   make(map[string]*Session),
	}

	if cfg.StorePath != "" {
		path := cfg.StorePath
		if path != store.Memory {
			path = cfg.resolvePath(path)
		}

		s, err := store.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.store = s
	}

	for _, pc := range cfg.Providers {
		raw, c, err := buildCompleter(pc)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("engine: provider %q: %w", pc.Name, err)
		}
		e.providers[pc.Name] = pc
		e.raw[pc.Name] = raw
		e.completers[pc.Name] = c
	}

	byName := make(map[string]AgentConfig, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		byName[ac.Name] = ac
	}

	visiting := make(map[string]bool)
	for _, ac := range cfg.Agents {
		if err := e.buildAgent(ctx, ac, byName, visiting); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	if err := e.buildRouter(); err != nil {
		_ = e.Close()
		return nil, err
	}

	e.buildPlanner()

	return e, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Registry returns the agent directory.
func (e *Engine) Registry() *agent.Registry { return e.registry }

// Router returns the router over the configured routes.
func (e *Engine) Router() *agent.Router { return e.router }

// QAPlanner returns the QA planner.
func (e *Engine) QAPlanner() *qaplan.Planner { return e.planner }

// Store returns the store, or nil when persistence is disabled.
func (e *Engine) Store() *store.Store { return e.store }

// Agent returns the named agent, wrapped with the engine middleware.
func (e *Engine) Agent(name string) (agent.Responder, error) {
	r, ok := e.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("engine: agent %q not found", name)
	}
	return r, nil
}

// Evaluator returns the named evaluation agent, for callers that need every
// attempt rather than only the final answer.
func (e *Engine) Evaluator(name string) (*agent.Evaluator, error) {
	ev, ok := e.evaluators[name]
	if !ok {
		return nil, fmt.Errorf("engine: agent %q is not an evaluation agent", name)
	}
	return ev, nil
}

// RouteResult is the outcome of Route.
type RouteResult struct {
	Route  string
	Score  float64
	Answer string
}

// Route selects the best agent for input and answers through it.
func (e *Engine) Route(ctx context.Context, input string) (RouteResult, error) {
	route, score, err := e.router.Select(ctx, input)
	if err != nil {
		return RouteResult{}, err
	}

	e.events.Publish(Event{Kind: EventRouteSelected, Agent: route.Name, Data: score})

	answer, err := route.Responder.Respond(ctx, input)
	if err != nil {
		return RouteResult{Route: route.Name, Score: score}, err
	}

	return RouteResult{Route: route.Name, Score: score, Answer: answer}, nil
}

// RunQA runs the QA planner on the workbook at path and publishes the result
// as an EventQARun.
func (e *Engine) RunQA(ctx context.Context, path string) (qaplan.Result, error) {
	res, err := e.planner.RunFile(ctx, path)
	if err != nil {
		e.events.Publish(Event{Kind: EventError, Agent: qaplan.WorkerPersona, Data: err})
		return res, err
	}

	e.events.Publish(Event{Kind: EventQARun, Agent: qaplan.WorkerPersona, Data: res})
	return res, nil
}

// Ollama returns the adapter of the first provider that talks to a local
// runtime, for model management.
func (e *Engine) Ollama() (*ollama.Adapter, error) {
	for _, pc := range e.cfg.Providers {
		if a, ok := e.raw[pc.Name].(*ollama.Adapter); ok {
			return a, nil
		}
	}
	return nil, ErrNoOllama
}

// NewSession starts an interactive conversation with a provider. An empty
// provider selects the first one. Replies stream when the adapter supports it.
func (e *Engine) NewSession(provider, system string) (*Session, error) {
	name := e.providerName(provider)

	c, ok := e.completers[name]
	if !ok {
		return nil, fmt.Errorf("engine: provider %q not found", name)
	}

	var streamer Streamer
	if s, ok := e.raw[name].(Streamer); ok {
		streamer = s
	}

	e.mu.Lock()
	e.nextID++
	id := fmt.Sprintf("session-%d", e.nextID)
	e.mu.Unlock()

	s := newSession(id, name, c, streamer, system, e.events)

	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()

	return s, nil
}

// Session returns an existing session by ID.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[id]
	return s, ok
}

// Close releases the store.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

func (e *Engine) providerName(name string) string {
	if name == "" && len(e.cfg.Providers) > 0 {
		return e.cfg.Providers[0].Name
	}
	return name
}

// buildAgent creates ac and, for evaluation agents, its worker first.
func (e *Engine) buildAgent(ctx context.Context, ac AgentConfig, byName map[string]AgentConfig, visiting map[string]bool) error {
	if _, done := e.responders[ac.Name]; done {
		return nil
	}
	if visiting[ac.Name] {
		return fmt.Errorf("engine: agent %q: evaluation cycle", ac.Name)
	}
	visiting[ac.Name] = true
	defer delete(visiting, ac.Name)

	providerName := e.providerName(ac.Provider)
	completer := e.completers[providerName]

	var r agent.Responder

	switch ac.Kind {
	case "", KindDirect:
		r = agent.NewDirect(generatorFor(completer))

	case KindAugmented:
		r = agent.NewAugmented(generatorFor(completer), ac.Persona, ac.Greeting)

	case KindKnowledge:
		text, err := e.loadKnowledge(ac)
		if err != nil {
			return err
		}
		r = agent.NewKnowledgeAugmented(generatorFor(completer), ac.Persona, text)

	case KindRAG:
		text, err := e.loadKnowledge(ac)
		if err != nil {
			return err
		}

		opts := agent.RAGOptions{TopK: ac.TopK, Instructions: ac.Instructions}
		if ac.Retrieval {
			ix, err := e.buildIndex(ctx, ac, text)
			if err != nil {
				return err
			}
			opts.Retriever = ix
		}
		r = agent.NewRAGKnowledge(completer, ac.Persona, text, opts)

	case KindEvaluation:
		if err := e.buildAgent(ctx, byName[ac.Worker], byName, visiting); err != nil {
			return err
		}

		ev := agent.NewEvaluator(e.responders[ac.Worker], e.completers[e.providerName(ac.Judge)], ac.Criteria,
			agent.EvaluatorOptions{Persona: ac.Persona, MaxInteractions: ac.MaxInteractions})
		e.evaluators[ac.Name] = ev
		r = ev
	}

	e.responders[ac.Name] = r

	mws := []agent.Middleware{
		agent.Recovery(),
		e.eventsMiddleware(ac.Name),
		agent.Logger(e.log, ac.Name),
	}
	if ac.Timeout != "" {
		d, err := time.ParseDuration(ac.Timeout)
		if err != nil {
			return fmt.Errorf("engine: agent %q: invalid timeout %q: %w", ac.Name, ac.Timeout, err)
		}
		mws = append(mws, agent.Timeout(d))
	}

	e.registry.Register(ac.Name, ac.Description, agent.Chain(r, mws...))

	return nil
}

func (e *Engine) loadKnowledge(ac AgentConfig) (string, error) {
	if ac.KnowledgeFile == "" {
		return ac.Knowledge, nil
	}

	data, err := os.ReadFile(e.cfg.resolvePath(ac.KnowledgeFile))
	if err != nil {
		return "", fmt.Errorf("engine: agent %q: knowledge: %w", ac.Name, err)
	}
	return string(data), nil
}

// buildIndex embeds text for a retrieval agent, through the store cache when
// enabled.
func (e *Engine) buildIndex(ctx context.Context, ac AgentConfig, text string) (*knowledge.Index, error) {
	providerName := e.cfg.Knowledge.Provider
	if providerName == "" {
		providerName = e.providerName(ac.Provider)
	}

	embedder, err := e.embedder(providerName)
	if err != nil {
		return nil, fmt.Errorf("engine: agent %q: %w", ac.Name, err)
	}

	kc := e.cfg.Knowledge
	ix := knowledge.NewIndex(embedder, knowledge.IndexOptions{
		BatchSize:   kc.BatchSize,
		Concurrency: kc.Concurrency,
	})

	splitter := knowledge.Splitter{Size: kc.ChunkSize, Overlap: kc.ChunkOverlap}
	if err := ix.AddDocument(ctx, text, splitter); err != nil {
		return nil, fmt.Errorf("engine: agent %q: %w", ac.Name, err)
	}

	e.log.InfoContext(ctx, "knowledge indexed", "agent", ac.Name, "chunks", ix.Len())
	e.indexes[ac.Name] = ix

	return ix, nil
}

// embedder returns the Embedder of a provider, wrapped with the store cache
// when enabled.
func (e *Engine) embedder(providerName string) (modeladapter.Embedder, error) {
	if _, ok := e.raw[providerName].(modeladapter.Embedder); !ok {
		return nil, fmt.Errorf("provider %q cannot embed", providerName)
	}

	var emb modeladapter.Embedder
	if t, ok := e.completers[providerName].(modeladapter.Embedder); ok {
		emb = t
	} else {
		emb = e.raw[providerName].(modeladapter.Embedder)
	}

	if e.cfg.Knowledge.Cache && e.store != nil {
		model := embeddingModel(e.raw[providerName], e.providers[providerName])
		emb = knowledge.NewCachedEmbedder(emb, e.store, model)
	}

	return emb, nil
}

func (e *Engine) buildRouter() error {
	opts := agent.RouterOptions{Logger: e.log}

	if e.cfg.Router.Scorer == ScorerEmbeddings {
		emb, err := e.embedder(e.providerName(e.cfg.Router.Provider))
		if err != nil {
			return fmt.Errorf("engine: router: %w", err)
		}
		opts.Scorer = agent.NewEmbeddingScorer(emb)
	}

	names := e.cfg.Router.Routes
	if len(names) == 0 {
		// Ties go to the earliest route, so keep the declared agent order.
		for _, ac := range e.cfg.Agents {
			names = append(names, ac.Name)
		}
	}

	e.router = agent.NewRouter(e.registry.Routes(names...), opts)

	return nil
}

func (e *Engine) buildPlanner() {
	qc := e.cfg.QA

	worker := e.providerName(qc.Provider)
	judge := worker
	if qc.Judge != "" {
		judge = qc.Judge
	}

	var runs qaplan.RunStore
	if e.store != nil {
		runs = e.store
	}

	pc := e.providers[worker]
	e.planner = qaplan.New(e.completers[worker], e.completers[judge], runs, qaplan.Options{
		OSVersions:      qaplan.OSVersions{IOS: qc.IOSVersion, Android: qc.AndroidVersion},
		Model:           pc.Model,
		ContextWindow:   pc.ContextWindow,
		MaxTokens:       pc.MaxTokens,
		MaxInteractions: qc.MaxInteractions,
		Logger:          e.log,
	})
}

// eventsMiddleware publishes start, end and error events around an agent.
func (e *Engine) eventsMiddleware(name string) agent.Middleware {
	return func(next agent.Responder) agent.Responder {
		return agent.ResponderFunc(func(ctx context.Context, input string) (string, error) {
			e.events.Publish(Event{Kind: EventAgentStart, Agent: name, Data: input})

			out, err := next.Respond(ctx, input)
			if err != nil {
				e.events.Publish(Event{Kind: EventError, Agent: name, Data: err})
			}

			e.events.Publish(Event{Kind: EventAgentEnd, Agent: name, Data: out})
			return out, err
		})
	}
}

// generatorFor returns c as a Generator, or sends each prompt as a single
// user message when c only completes chats.
func generatorFor(c modeladapter.Completer) modeladapter.Generator {
	if g, ok := c.(modeladapter.Generator); ok {
		if t, ok := c.(*modeladapter.Throttled); !ok || isGenerator(t.Inner()) {
			return g
		}
	}
	return chatGenerator{c}
}

func isGenerator(c modeladapter.Completer) bool {
	_, ok := c.(modeladapter.Generator)
	return ok
}

type chatGenerator struct {
	c modeladapter.Completer
}

func (g chatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	reply, err := g.c.Complete(ctx, chat.New(message.NewText("", role.User, prompt)))
	if err != nil {
		return "", err
	}
	return reply.TextContent(), nil
}
