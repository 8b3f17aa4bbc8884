// Package qaplan turns a web analytics workbook into a cross-device testing
// matrix. A knowledge agent writes the matrix from the summarised analytics
// and an evaluation agent reviews it.
package qaplan

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/germanamz/promptkit/pkg/agent"
	"github.com/germanamz/promptkit/pkg/analytics"
	"github.com/germanamz/promptkit/pkg/modeladapter"
	"github.com/germanamz/promptkit/pkg/store"
)

// RunStore persists runs. *store.Store implements it.
type RunStore interface {
	SaveRun(ctx context.Context, run store.QARun) error
	ListRuns(ctx context.Context, limit int) ([]store.QARun, error)
}

// Options configures a Planner.
type Options struct {
	OSVersions      OSVersions
	Model           string // Recorded with each run.
	ContextWindow   int    // Tokens; 0 disables the size warning.
	MaxTokens       int    // Reserved for the answer when checking the window.
	MaxInteractions int    // Evaluation attempts (default agent.DefaultMaxInteractions).
	Logger          *slog.Logger
}

// Result is the outcome of a run.
type Result struct {
	ID         string
	CreatedAt  time.Time
	Workbook   string
	Knowledge  string
	Analysis   analytics.Analysis
	Matrix     string
	Evaluation agent.Evaluation
}

// Planner runs the QA workflow.
type Planner struct {
	worker modeladapter.Completer
	judge  modeladapter.Completer
	runs   RunStore
	opts   Options

	estimator modeladapter.TokenEstimator
	newID     func() string
	now       func() time.Time
}

// New creates a Planner. worker answers as the QA expert, judge evaluates.
// runs may be nil to skip persistence.
func New(worker, judge modeladapter.Completer, runs RunStore, opts Options) *Planner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Planner{
		worker: worker,
		judge:  judge,
		runs:   runs,
		opts:   opts,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// RunFile reads the workbook at path and runs the workflow on it.
func (p *Planner) RunFile(ctx context.Context, path string) (Result, error) {
	wb, err := analytics.ReadFile(path)
	if err != nil {
		return Result{}, err
	}
	return p.Run(ctx, wb, filepath.Base(path))
}

// Run produces and evaluates a testing matrix for wb. source names the
// workbook in the run history.
func (p *Planner) Run(ctx context.Context, wb *analytics.Workbook, source string) (Result, error) {
	res := Result{
		ID:        p.newID(),
		CreatedAt: p.now(),
		Workbook:  source,
		Analysis:  wb.Analyze(),
	}

	log := p.opts.Logger.With("run", res.ID)

	shares, err := SharesSummary(res.Analysis)
	if err != nil {
		return res, err
	}

	res.Knowledge = wb.Summarize()
	if shares != "" {
		res.Knowledge += "\n\n" + shares
	}

	instructions, err := SystemPrompt("", p.opts.OSVersions)
	if err != nil {
		return res, err
	}

	task, err := TaskPrompt(res.Analysis, p.opts.OSVersions)
	if err != nil {
		return res, err
	}

	worker := agent.NewRAGKnowledge(p.worker, WorkerPersona, res.Knowledge, agent.RAGOptions{
		Instructions: instructions,
	})

	p.checkWindow(ctx, log, worker.SystemPrompt(res.Knowledge)+task)

	log.InfoContext(ctx, "qa matrix requested", "workbook", source)

	res.Matrix, err = worker.Respond(ctx, task)
	if err != nil {
		return res, fmt.Errorf("qaplan: matrix: %w", err)
	}

	evaluator := agent.NewEvaluator(worker, p.judge, EvaluationCriteria, agent.EvaluatorOptions{
		Persona:         EvaluatorPersona,
		MaxInteractions: p.opts.MaxInteractions,
	})

	res.Evaluation, err = evaluator.Evaluate(ctx, EvaluationPrompt(res.Matrix))
	if err != nil {
		return res, fmt.Errorf("qaplan: evaluation: %w", err)
	}

	log.InfoContext(ctx, "qa matrix evaluated",
		"accepted", res.Evaluation.Accepted,
		"iterations", res.Evaluation.Iterations,
	)

	if p.runs != nil {
		err := p.runs.SaveRun(ctx, store.QARun{
			ID:         res.ID,
			CreatedAt:  res.CreatedAt,
			Model:      p.opts.Model,
			Workbook:   source,
			Matrix:     res.Matrix,
			Evaluation: res.Evaluation.Evaluation,
			Iterations: res.Evaluation.Iterations,
			Accepted:   res.Evaluation.Accepted,
		})
		if err != nil {
			return res, fmt.Errorf("qaplan: %w", err)
		}
	}

	return res, nil
}

// History lists past runs, newest first.
func (p *Planner) History(ctx context.Context, limit int) ([]store.QARun, error) {
	if p.runs == nil {
		return nil, nil
	}
	return p.runs.ListRuns(ctx, limit)
}

func (p *Planner) checkWindow(ctx context.Context, log *slog.Logger, prompt string) {
	if p.opts.ContextWindow <= 0 {
		return
	}

	estimate := p.estimator.EstimatePrompt(prompt)
	if !p.estimator.Fits(estimate, p.opts.MaxTokens, p.opts.ContextWindow) {
		log.WarnContext(ctx, "prompt may exceed the model context window",
			"estimated_tokens", estimate,
			"reserved_tokens", p.opts.MaxTokens,
			"context_window", p.opts.ContextWindow,
		)
	}
}
