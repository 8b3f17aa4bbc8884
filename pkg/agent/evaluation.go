package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/germanamz/promptkit/pkg/modeladapter"
)

const (
	// DefaultEvaluatorPersona is the judge persona unless overridden.
	DefaultEvaluatorPersona = "Evaluator"
	// DefaultMaxInteractions bounds the worker/judge loop.
	DefaultMaxInteractions = 3
)

// EvaluatorOptions configures an Evaluator.
type EvaluatorOptions struct {
	Persona         string // Judge persona (default DefaultEvaluatorPersona).
	MaxInteractions int    // Worker attempts (default DefaultMaxInteractions).
}

// Attempt records one worker answer and how it was judged.
type Attempt struct {
	Prompt       string
	Response     string
	Evaluation   string
	Instructions string // Empty when accepted or on the last attempt.
}

// Evaluation is the outcome of an evaluation loop.
type Evaluation struct {
	FinalResponse string // Last worker response.
	Evaluation    string // Last judge verdict.
	Iterations    int
	Accepted      bool
	Attempts      []Attempt
}

// Evaluator asks a worker to answer, has a judge model check the answer
// against criteria, and feeds correction instructions back to the worker
// until the judge accepts or the attempts run out.
type Evaluator struct {
	worker   Responder
	judge    modeladapter.Completer
	criteria string
	opts     EvaluatorOptions
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(worker Responder, judge modeladapter.Completer, criteria string, opts EvaluatorOptions) *Evaluator {
	if opts.Persona == "" {
		opts.Persona = DefaultEvaluatorPersona
	}
	if opts.MaxInteractions <= 0 {
		opts.MaxInteractions = DefaultMaxInteractions
	}
	return &Evaluator{worker: worker, judge: judge, criteria: criteria, opts: opts}
}

// Criteria returns the evaluation criteria.
func (e *Evaluator) Criteria() string { return e.criteria }

// Evaluate runs the loop starting from initialPrompt.
func (e *Evaluator) Evaluate(ctx context.Context, initialPrompt string) (Evaluation, error) {
	var result Evaluation

	prompt := initialPrompt

	for i := range e.opts.MaxInteractions {
		result.Iterations++

		response, err := e.worker.Respond(ctx, prompt)
		if err != nil {
			return result, fmt.Errorf("agent: evaluation: worker: %w", err)
		}

		verdict, err := ask(ctx, e.judge,
			fmt.Sprintf("You are %s. Evaluate the following answer.", e.opts.Persona),
			fmt.Sprintf("Does the following answer: %s\nMeet this criteria: %s\n"+
				"Respond Yes or No, and the reason why it does or doesn't meet the criteria.",
				response, e.criteria),
		)
		if err != nil {
			return result, fmt.Errorf("agent: evaluation: judge: %w", err)
		}

		result.FinalResponse = response
		result.Evaluation = verdict

		attempt := Attempt{Prompt: prompt, Response: response, Evaluation: verdict}

		if Accepted(verdict) {
			result.Accepted = true
			result.Attempts = append(result.Attempts, attempt)
			return result, nil
		}

		if i == e.opts.MaxInteractions-1 {
			result.Attempts = append(result.Attempts, attempt)
			break
		}

		instructions, err := ask(ctx, e.judge,
			fmt.Sprintf("You are %s. Provide correction instructions.", e.opts.Persona),
			"Provide instructions to fix an answer based on these reasons why it is incorrect: "+verdict,
		)
		if err != nil {
			return result, fmt.Errorf("agent: evaluation: instructions: %w", err)
		}

		attempt.Instructions = instructions
		result.Attempts = append(result.Attempts, attempt)

		prompt = fmt.Sprintf("The original prompt was: %s\nThe response to that prompt was: %s\n"+
			"It has been evaluated as incorrect.\n"+
			"Make only these corrections, do not alter content validity: %s",
			initialPrompt, response, instructions)
	}

	return result, nil
}

// Respond implements Responder by returning the final worker response.
func (e *Evaluator) Respond(ctx context.Context, input string) (string, error) {
	result, err := e.Evaluate(ctx, input)
	if err != nil {
		return "", err
	}
	return result.FinalResponse, nil
}

// Accepted reports whether a judge verdict starts with "yes", ignoring case
// and leading whitespace.
func Accepted(verdict string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimLeft(verdict, " \t\r\n")), "yes")
}
