package qaplan

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/germanamz/promptkit/pkg/analytics"
	"github.com/germanamz/promptkit/pkg/chats/chat"
	"github.com/germanamz/promptkit/pkg/chats/message"
	"github.com/germanamz/promptkit/pkg/chats/role"
	"github.com/germanamz/promptkit/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test helpers ---

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

func testWorkbook() *analytics.Workbook {
	return &analytics.Workbook{
		Devices: []analytics.DeviceSheet{{
			Name: "Device - site",
			Rows: []analytics.DeviceRow{
				{Category: "desktop", Brand: "Apple", Model: "Macintosh", Sessions: 30},
				{Category: "desktop", Brand: "Dell", Model: "XPS", Sessions: 70},
				{Category: "mobile", Brand: "Apple", Model: "iPhone", Sessions: 55},
				{Category: "mobile", Brand: "Samsung", Model: "Galaxy S24", Sessions: 45},
			},
		}},
		Browsers: []analytics.BrowserSheet{{
			Name:        "Browser - site",
			HasCategory: true,
			Rows: []analytics.BrowserRow{
				{Browser: "Chrome", Version: "139", Resolution: "1920x1080", Category: "desktop", Sessions: 90},
				{Browser: "Firefox", Version: "140", Resolution: "1366x768", Category: "desktop", Sessions: 10},
			},
		}},
	}
}

func newTestPlanner(worker, judge *fakeCompleter, runs RunStore, opts Options) *Planner {
	p := New(worker, judge, runs, opts)
	p.newID = func() string { return "run-1" }
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

// --- prompts ---

func TestSharesSummary(t *testing.T) {
	out, err := SharesSummary(testWorkbook().Analyze())
	require.NoError(t, err)

	want := "--- In-category shares ---\n" +
		"Device categories: desktop 50% (Tier 1), mobile 50% (Tier 1)\n" +
		"Desktop operating systems: Windows/Other 70% (Tier 1), macOS 30% (Tier 1)\n" +
		"Mobile operating systems: iOS 55% (Tier 1), Android 45% (Tier 1)\n" +
		"Desktop browsers: Chrome 90% (Tier 1), Firefox 10% (Tier 2)"

	assert.Equal(t, want, out)
}

func TestSharesSummary_Empty(t *testing.T) {
	out, err := SharesSummary(analytics.Analysis{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTaskPrompt(t *testing.T) {
	out, err := TaskPrompt(testWorkbook().Analyze(), OSVersions{})
	require.NoError(t, err)

	assert.Contains(t, out, "- Windows is approximately 70% of desktop traffic (NOT 100%)")
	assert.Contains(t, out, "- macOS is approximately 30% of desktop traffic")
	assert.Contains(t, out, "- iOS is approximately 55% of mobile traffic (NOT 100%)")
	assert.Contains(t, out, "- Android is approximately 45% of mobile traffic")
	assert.Contains(t, out, "Latest iPhone model with iOS 17-18")
	assert.Contains(t, out, "Latest Samsung Galaxy model with Android 13-15")
}

func TestTaskPrompt_CustomVersions(t *testing.T) {
	out, err := TaskPrompt(analytics.Analysis{}, OSVersions{IOS: "26", Android: "16"})
	require.NoError(t, err)

	assert.Contains(t, out, "Latest iPhone model with iOS 26")
	assert.Contains(t, out, "Latest Samsung Galaxy model with Android 16")
	assert.Contains(t, out, "- Windows is approximately 0% of desktop traffic")
}

func TestSystemPrompt(t *testing.T) {
	withData, err := SystemPrompt("Total sessions: 10", OSVersions{})
	require.NoError(t, err)
	assert.Contains(t, withData, "You MUST use ONLY the following Google Analytics data to inform your recommendations:\n\nTotal sessions: 10\n")
	assert.Contains(t, withData, `use "Latest iPhone model with iOS 17-18" instead of inventing models`)

	without, err := SystemPrompt("", OSVersions{IOS: "26"})
	require.NoError(t, err)
	assert.Contains(t, without, "You MUST use ONLY the Google Analytics data given above")
	assert.Contains(t, without, "iOS 26")
	assert.NotContains(t, without, "Total sessions")
}

func TestEvaluationPrompt(t *testing.T) {
	assert.Equal(t,
		"Evaluate the following QA matrix for accuracy, clarity, and adherence to the instructions:\n\n## Matrix",
		EvaluationPrompt("## Matrix"))
}

// --- planner ---

func TestRun(t *testing.T) {
	ctx := context.Background()

	runs, err := store.Open(ctx, store.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	worker := &fakeCompleter{replies: []string{"matrix v1", "matrix v2"}}
	judge := &fakeCompleter{replies: []string{"Yes, the tiers match the data."}}

	p := newTestPlanner(worker, judge, runs, Options{Model: "llama3.2"})
	res, err := p.Run(ctx, testWorkbook(), "analytics.xlsx")
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.ID)
	assert.Equal(t, "matrix v1", res.Matrix)
	assert.True(t, res.Evaluation.Accepted)
	assert.Equal(t, 1, res.Evaluation.Iterations)
	assert.Equal(t, "matrix v2", res.Evaluation.FinalResponse)
	assert.Contains(t, res.Knowledge, "\n--- Device - site ---\nTotal sessions: 200")
	assert.Contains(t, res.Knowledge, "\n\n--- In-category shares ---\n")

	require.Len(t, worker.chats, 2)

	system := worker.chats[0].SystemPrompt()
	assert.Contains(t, system, "You are Software Quality Assurance Expert. Use only the following knowledge to answer: ")
	assert.Contains(t, system, res.Knowledge)
	assert.Contains(t, system, "You are an experienced QA Lead")
	assert.Contains(t, worker.chats[0].At(1).TextContent(), "- Windows is approximately 70% of desktop traffic")
	assert.Equal(t, EvaluationPrompt("matrix v1"), worker.chats[1].At(1).TextContent())

	require.Len(t, judge.chats, 1)
	assert.Equal(t,
		"You are Software Quality Assurance Expert Evaluator. Evaluate the following answer.",
		judge.chats[0].SystemPrompt())
	assert.Contains(t, judge.chats[0].At(1).TextContent(), EvaluationCriteria)

	history, err := p.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "run-1", history[0].ID)
	assert.Equal(t, "llama3.2", history[0].Model)
	assert.Equal(t, "analytics.xlsx", history[0].Workbook)
	assert.Equal(t, "matrix v1", history[0].Matrix)
	assert.True(t, history[0].Accepted)
}

func TestRun_Rejected(t *testing.T) {
	worker := &fakeCompleter{replies: []string{"m1", "m2", "m3"}}
	judge := &fakeCompleter{replies: []string{"No, tiers are wrong.", "Fix the tiers.", "No, still wrong."}}

	p := newTestPlanner(worker, judge, nil, Options{MaxInteractions: 2})
	res, err := p.Run(context.Background(), testWorkbook(), "a.xlsx")
	require.NoError(t, err)

	assert.False(t, res.Evaluation.Accepted)
	assert.Equal(t, 2, res.Evaluation.Iterations)
	assert.Equal(t, "No, still wrong.", res.Evaluation.Evaluation)

	history, err := p.History(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRun_WorkerError(t *testing.T) {
	worker := &fakeCompleter{err: errors.New("connection refused")}
	judge := &fakeCompleter{}

	p := newTestPlanner(worker, judge, nil, Options{})
	_, err := p.Run(context.Background(), testWorkbook(), "a.xlsx")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "qaplan: matrix:")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, judge.chats)
}

func TestRun_JudgeError(t *testing.T) {
	worker := &fakeCompleter{replies: []string{"m1", "m2"}}
	judge := &fakeCompleter{err: errors.New("timeout")}

	p := newTestPlanner(worker, judge, nil, Options{})
	_, err := p.Run(context.Background(), testWorkbook(), "a.xlsx")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "qaplan: evaluation:")
}

func TestRun_WarnsWhenPromptExceedsWindow(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	worker := &fakeCompleter{replies: []string{"m1", "m2"}}
	judge := &fakeCompleter{replies: []string{"yes"}}

	p := newTestPlanner(worker, judge, nil, Options{ContextWindow: 100, MaxTokens: 50, Logger: logger})
	_, err := p.Run(context.Background(), testWorkbook(), "a.xlsx")
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "prompt may exceed the model context window")
	assert.Contains(t, buf.String(), "run=run-1")
}

func TestRunFile_MissingFile(t *testing.T) {
	p := newTestPlanner(&fakeCompleter{}, &fakeCompleter{}, nil, Options{})
	_, err := p.RunFile(context.Background(), "does-not-exist.xlsx")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "analytics: open does-not-exist.xlsx")
}
