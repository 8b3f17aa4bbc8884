package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/germanamz/promptkit/pkg/agent"
	"github.com/germanamz/promptkit/pkg/engine"
	"github.com/germanamz/promptkit/pkg/mcpserver"
	"github.com/germanamz/promptkit/pkg/providers/ollama"
	"github.com/germanamz/promptkit/pkg/qaplan"
	"github.com/germanamz/promptkit/pkg/store"
)

// version is reported to MCP clients.
const version = "0.1.0"

func cmdAsk(ctx context.Context, args []string) error {
	fs, o := newFlagSet("ask", "<prompt>", "Send a prompt to an agent")
	agentName := fs.String("agent", "", "agent to ask (default: first configured agent)")
	_ = fs.Parse(args)

	prompt, err := promptArg(fs.Args(), os.Stdin)
	if err != nil {
		return err
	}

	eng, cfg, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	name := *agentName
	if name == "" {
		name = cfg.Agents[0].Name
	}

	r, err := eng.Agent(name)
	if err != nil {
		return err
	}

	stop := watchEvents(eng.Events(), os.Stderr)
	answer, err := r.Respond(ctx, prompt)
	stop()
	if err != nil {
		return err
	}

	fmt.Println(o.render(answer))
	return nil
}

func cmdRoute(ctx context.Context, args []string) error {
	fs, o := newFlagSet("route", "<prompt>", "Send a prompt to the agent whose description matches it best")
	_ = fs.Parse(args)

	prompt, err := promptArg(fs.Args(), os.Stdin)
	if err != nil {
		return err
	}

	eng, _, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	stop := watchEvents(eng.Events(), os.Stderr)
	res, err := eng.Route(ctx, prompt)
	stop()
	if err != nil {
		return err
	}

	fmt.Println(renderAnswer(res.Route, o.render(res.Answer)))
	return nil
}

func cmdEvaluate(ctx context.Context, args []string) error {
	fs, o := newFlagSet("evaluate", "<prompt>", "Run an evaluation agent and show every attempt")
	agentName := fs.String("agent", "", "evaluation agent to run (required)")
	_ = fs.Parse(args)

	if *agentName == "" {
		return errors.New("evaluate: --agent is required")
	}

	prompt, err := promptArg(fs.Args(), os.Stdin)
	if err != nil {
		return err
	}

	eng, _, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	ev, err := eng.Evaluator(*agentName)
	if err != nil {
		return err
	}

	stop := watchEvents(eng.Events(), os.Stderr)
	result, err := ev.Evaluate(ctx, prompt)
	stop()
	if err != nil {
		return err
	}

	return printEvaluation(os.Stdout, result, o.render)
}

func cmdQA(ctx context.Context, args []string) error {
	fs, o := newFlagSet("qa", "<workbook.xlsx>", "Build a cross-device testing matrix from an analytics workbook")
	showKnowledge := fs.Bool("show-knowledge", false, "print the workbook summary given to the model")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("qa: exactly one workbook path is required")
	}

	eng, _, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	stop := watchEvents(eng.Events(), os.Stderr)
	res, err := eng.RunQA(ctx, fs.Arg(0))
	stop()
	if err != nil {
		return err
	}

	printQAResult(os.Stdout, res, *showKnowledge, o.render)
	return nil
}

func cmdQAHistory(ctx context.Context, args []string) error {
	fs, o := newFlagSet("qa-history", "", "List recorded QA runs")
	limit := fs.Int("limit", 20, "maximum number of runs to list")
	_ = fs.Parse(args)

	eng, _, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if eng.Store() == nil {
		return errors.New("qa-history: no store configured (set store_path in the config)")
	}

	runs, err := eng.QAPlanner().History(ctx, *limit)
	if err != nil {
		return err
	}

	printRuns(os.Stdout, runs)
	return nil
}

func cmdModels(ctx context.Context, args []string) error {
	fs, o := newFlagSet("models", "", "List the models installed in the local runtime")
	_ = fs.Parse(args)

	eng, _, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	a, err := eng.Ollama()
	if err != nil {
		return err
	}

	return listModels(ctx, a, os.Stdout)
}

func cmdPull(ctx context.Context, args []string) error {
	fs, o := newFlagSet("pull", "[model...]", "Download models into the local runtime")
	force := fs.Bool("force", false, "pull even when the model is already installed")
	_ = fs.Parse(args)

	eng, cfg, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	a, err := eng.Ollama()
	if err != nil {
		return err
	}

	names := fs.Args()
	if len(names) == 0 {
		names = configuredModels(cfg)
	}

	return pullModels(ctx, a, names, *force, os.Stdout)
}

func cmdMCP(ctx context.Context, args []string) error {
	fs, o := newFlagSet("mcp", "", "Serve the agents as MCP tools over stdio")
	_ = fs.Parse(args)

	eng, cfg, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	return serveMCP(ctx, eng, cfg.Logger, os.Stdin, os.Stdout)
}

// promptArg joins the positional arguments into a prompt, or reads it from
// stdin when there are none or the only one is "-".
func promptArg(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && (len(args) != 1 || args[0] != "-") {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}

	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("a prompt is required")
	}

	return prompt, nil
}

// watchEvents prints a status line for each agent event until the returned
// function is called.
func watchEvents(events *engine.EventBus, w io.Writer) func() {
	sub := events.Subscribe(64,
		engine.EventRouteSelected, engine.EventAgentStart, engine.EventAgentEnd, engine.EventError)

	var wg sync.WaitGroup
	wg.Go(func() {
		started := make(map[string]time.Time)
		for ev := range sub.C {
			if line := eventLine(ev, started); line != "" {
				fmt.Fprintln(w, statusStyle.Render(line))
			}
		}
	})

	return func() {
		events.Unsubscribe(sub)
		wg.Wait()
	}
}

// eventLine describes ev for the status output. started tracks agent start
// times to report durations.
func eventLine(ev engine.Event, started map[string]time.Time) string {
	switch ev.Kind {
	case engine.EventRouteSelected:
		score, _ := ev.Data.(float64)
		return fmt.Sprintf("→ routed to %s (score %.2f)", ev.Agent, score)
	case engine.EventAgentStart:
		started[ev.Agent] = ev.Timestamp
		return fmt.Sprintf("• %s: %s", ev.Agent, randomThinkingMessage())
	case engine.EventAgentEnd:
		start, ok := started[ev.Agent]
		if !ok {
			return ""
		}
		delete(started, ev.Agent)
		return fmt.Sprintf("• %s done in %s", ev.Agent, fmtDuration(ev.Timestamp.Sub(start)))
	case engine.EventError:
		return fmt.Sprintf("✗ %s: %v", ev.Agent, ev.Data)
	}
	return ""
}

// printEvaluation shows each attempt with its verdict and the diff against
// the previous attempt, then the final answer.
func printEvaluation(w io.Writer, result agent.Evaluation, render func(string) string) error {
	for i, at := range result.Attempts {
		n := i + 1
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Attempt %d", n)))

		if i == 0 {
			fmt.Fprintln(w, render(at.Response))
		} else {
			diff, err := attemptDiff(result.Attempts[i-1].Response, at.Response, n)
			if err != nil {
				return fmt.Errorf("evaluate: diff: %w", err)
			}
			if diff == "" {
				fmt.Fprintln(w, dimStyle.Render("(unchanged)"))
			} else {
				fmt.Fprintln(w, colorDiff(diff))
			}
		}

		fmt.Fprintln(w, dimStyle.Render("Verdict: ")+strings.TrimSpace(at.Evaluation))
		if at.Instructions != "" {
			fmt.Fprintln(w, dimStyle.Render("Instructions: ")+strings.TrimSpace(at.Instructions))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, verdictLine(result.Accepted, result.Iterations))
	fmt.Fprintln(w)
	fmt.Fprintln(w, render(result.FinalResponse))

	return nil
}

func verdictLine(accepted bool, iterations int) string {
	noun := "attempts"
	if iterations == 1 {
		noun = "attempt"
	}
	if accepted {
		return acceptedStyle.Render(fmt.Sprintf("Accepted after %d %s", iterations, noun))
	}
	return rejectedStyle.Render(fmt.Sprintf("Not accepted after %d %s", iterations, noun))
}

func printQAResult(w io.Writer, res qaplan.Result, showKnowledge bool, render func(string) string) {
	if showKnowledge {
		fmt.Fprintln(w, headerStyle.Render("Workbook summary"))
		fmt.Fprintln(w, res.Knowledge)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, render(res.Matrix))
	fmt.Fprintln(w)
	fmt.Fprintln(w, verdictLine(res.Evaluation.Accepted, res.Evaluation.Iterations))
	if !res.Evaluation.Accepted {
		fmt.Fprintln(w, dimStyle.Render("Verdict: ")+strings.TrimSpace(res.Evaluation.Evaluation))
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("Run %s (%s)", res.ID, res.Workbook)))
}

func printRuns(w io.Writer, runs []store.QARun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No QA runs recorded.")
		return
	}

	rows := make([][]string, len(runs))
	for i, r := range runs {
		accepted := "no"
		if r.Accepted {
			accepted = "yes"
		}
		rows[i] = []string{
			truncate(r.ID, 8),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(r.Workbook, 32),
			r.Model,
			strconv.Itoa(r.Iterations),
			accepted,
		}
	}

	fmt.Fprint(w, formatTable([]string{"ID", "CREATED", "WORKBOOK", "MODEL", "ATTEMPTS", "ACCEPTED"}, rows))
}

func listModels(ctx context.Context, a *ollama.Adapter, w io.Writer) error {
	v, err := a.Version(ctx)
	if err != nil {
		return err
	}

	models, err := a.ListModels(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("ollama %s at %s", v, a.BaseURL)))

	if len(models) == 0 {
		fmt.Fprintln(w, "No models installed. Run 'promptkit pull' to download one.")
		return nil
	}

	rows := make([][]string, len(models))
	for i, m := range models {
		rows[i] = []string{
			m.Name,
			fmtSize(m.Size),
			m.ParameterSize,
			m.QuantizationLevel,
			m.ModifiedAt.Local().Format("2006-01-02 15:04"),
		}
	}

	fmt.Fprint(w, formatTable([]string{"NAME", "SIZE", "PARAMS", "QUANT", "MODIFIED"}, rows))
	return nil
}

func pullModels(ctx context.Context, a *ollama.Adapter, names []string, force bool, w io.Writer) error {
	for _, name := range names {
		if !force {
			ok, err := a.HasModel(ctx, name)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(w, "%s already installed\n", name)
				continue
			}
		}

		fmt.Fprintf(w, "pulling %s...\n", name)
		start := time.Now()
		if err := a.Pull(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(w, "pulled %s in %s\n", name, fmtDuration(time.Since(start)))
	}

	return nil
}

// configuredModels returns the chat and embedding models of the ollama
// providers in cfg, without duplicates.
func configuredModels(cfg engine.Config) []string {
	var names []string
	seen := make(map[string]bool)

	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	for _, p := range cfg.Providers {
		if p.Kind != "ollama" {
			continue
		}
		if p.Model == "" {
			add(ollama.DefaultModel)
		} else {
			add(p.Model)
		}
		add(p.EmbedModel)
	}

	return names
}

func serveMCP(ctx context.Context, eng *engine.Engine, log *slog.Logger, in io.Reader, out io.Writer) error {
	srv := mcpserver.New("promptkit", version, log)
	srv.Register(mcpserver.AgentTools(eng.Registry(), eng.Router())...)
	return srv.Serve(ctx, in, out)
}
