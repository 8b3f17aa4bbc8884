package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/germanamz/promptkit/pkg/knowledge"
	"github.com/germanamz/promptkit/pkg/modeladapter"
)

// ErrNoRoute is returned when a Router has no routes to pick from.
var ErrNoRoute = errors.New("agent: no route available")

// Route is a Responder the router can pick, described in plain words.
type Route struct {
	Name        string
	Description string
	Responder   Responder
}

// Scorer rates how well each route description matches an input. It returns
// one score per route, in order.
type Scorer interface {
	Score(ctx context.Context, input string, routes []Route) ([]float64, error)
}

// WordOverlap scores a route by the number of distinct lower-cased words its
// description shares with the input.
type WordOverlap struct{}

// Score implements Scorer.
func (WordOverlap) Score(_ context.Context, input string, routes []Route) ([]float64, error) {
	words := wordSet(input)

	scores := make([]float64, len(routes))
	for i, r := range routes {
		n := 0
		for w := range wordSet(r.Description) {
			if _, ok := words[w]; ok {
				n++
			}
		}
		scores[i] = float64(n)
	}

	return scores, nil
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// EmbeddingScorer scores routes by cosine similarity between the input and
// description embeddings. Description vectors are cached.
type EmbeddingScorer struct {
	embedder modeladapter.Embedder

	mu    sync.Mutex
	cache map[string][]float32
}

// NewEmbeddingScorer creates an EmbeddingScorer.
func NewEmbeddingScorer(embedder modeladapter.Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{embedder: embedder, cache: make(map[string][]float32)}
}

// Score implements Scorer.
func (s *EmbeddingScorer) Score(ctx context.Context, input string, routes []Route) ([]float64, error) {
	texts := []string{input}

	s.mu.Lock()
	for _, r := range routes {
		if _, ok := s.cache[r.Description]; !ok {
			texts = append(texts, r.Description)
		}
	}
	s.mu.Unlock()

	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(texts))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range texts[1:] {
		s.cache[t] = vecs[i+1]
	}

	scores := make([]float64, len(routes))
	for i, r := range routes {
		scores[i] = knowledge.Cosine(vecs[0], s.cache[r.Description])
	}

	return scores, nil
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Scorer Scorer       // Default WordOverlap.
	Logger *slog.Logger // Default slog.Default().
}

// Router sends each input to the route whose description matches it best.
type Router struct {
	routes []Route
	scorer Scorer
	log    *slog.Logger
}

// NewRouter creates a Router over routes.
func NewRouter(routes []Route, opts RouterOptions) *Router {
	if opts.Scorer == nil {
		opts.Scorer = WordOverlap{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{routes: routes, scorer: opts.Scorer, log: opts.Logger}
}

// Routes returns a copy of the configured routes.
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Select returns the best route for input and its score. The highest score
// wins and ties keep the earliest route, so a zero score still selects the
// first route when nothing matches.
func (r *Router) Select(ctx context.Context, input string) (Route, float64, error) {
	if len(r.routes) == 0 {
		return Route{}, 0, ErrNoRoute
	}

	scores, err := r.scorer.Score(ctx, input, r.routes)
	if err != nil {
		return Route{}, 0, fmt.Errorf("agent: router: %w", err)
	}
	if len(scores) != len(r.routes) {
		return Route{}, 0, fmt.Errorf("agent: router: scorer returned %d scores for %d routes", len(scores), len(r.routes))
	}

	best, bestScore := -1, -1.0
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = i, s
		}
	}

	if best < 0 {
		return Route{}, 0, ErrNoRoute
	}

	route := r.routes[best]
	r.log.InfoContext(ctx, "route selected", "route", route.Name, "score", bestScore)

	return route, bestScore, nil
}

// Respond implements Responder by answering through the selected route.
func (r *Router) Respond(ctx context.Context, input string) (string, error) {
	route, _, err := r.Select(ctx, input)
	if err != nil {
		return "", err
	}
	return route.Responder.Respond(ctx, input)
}
