package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const (
	promptMinRows = 1
	promptMaxRows = 5
	promptPadding = 4 // border plus one column of padding per side
)

var (
	activeFrame   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("2"))
	inactiveFrame = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8"))
	commandHint   = dimStyle.Render("  /help  /reset  /quit")
)

var promptKeys = struct {
	submit, prev, next key.Binding
}{
	submit: key.NewBinding(key.WithKeys("enter")),
	prev:   key.NewBinding(key.WithKeys("up")),
	next:   key.NewBinding(key.WithKeys("down")),
}

// promptInput is the chat prompt box. Up and down on a single-line prompt
// walk through earlier prompts of the session.
type promptInput struct {
	area   textarea.Model
	active bool
	width  int

	history []string
	pos     int    // index into history; len(history) means the draft
	draft   string // text typed before browsing history
}

func newPromptInput() promptInput {
	ta := textarea.New()
	ta.Placeholder = "Ask something... (alt+enter for a new line, /help for commands)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(promptMinRows)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))

	plain := lipgloss.NewStyle()
	ta.FocusedStyle.CursorLine, ta.BlurredStyle.CursorLine = plain, plain
	ta.FocusedStyle.Prompt, ta.BlurredStyle.Prompt = plain, plain

	return promptInput{area: ta}
}

func (p promptInput) Update(msg tea.Msg) (promptInput, tea.Cmd) {
	if !p.active {
		return p, nil
	}

	if km, ok := msg.(tea.KeyMsg); ok && !km.Alt {
		switch {
		case key.Matches(km, promptKeys.submit):
			return p.submit()
		case key.Matches(km, promptKeys.prev) && p.area.LineCount() == 1:
			p.recall(-1)
			return p, nil
		case key.Matches(km, promptKeys.next) && p.area.LineCount() == 1:
			p.recall(1)
			return p, nil
		}
	}

	// Grow first so the textarea does not scroll while inserting, then fit.
	p.area.SetHeight(promptMaxRows)

	var cmd tea.Cmd
	p.area, cmd = p.area.Update(msg)
	p.fit()

	return p, cmd
}

func (p promptInput) submit() (promptInput, tea.Cmd) {
	text := strings.TrimSpace(p.area.Value())
	if text == "" {
		return p, nil
	}

	if n := len(p.history); n == 0 || p.history[n-1] != text {
		p.history = append(p.history, text)
	}
	p.pos = len(p.history)
	p.draft = ""

	p.area.Reset()
	p.fit()

	return p, func() tea.Msg { return inputSubmitMsg{text: text} }
}

// recall moves through the history by delta, restoring the draft when it
// walks past the newest entry.
func (p *promptInput) recall(delta int) {
	next := min(max(p.pos+delta, 0), len(p.history))
	if next == p.pos {
		return
	}

	if p.pos == len(p.history) {
		p.draft = p.area.Value()
	}
	p.pos = next

	if p.pos == len(p.history) {
		p.area.SetValue(p.draft)
	} else {
		p.area.SetValue(p.history[p.pos])
	}
	p.fit()
}

func (p *promptInput) fit() {
	rows := wrappedRows(p.area.Value(), p.area.Width())
	p.area.SetHeight(min(max(rows, promptMinRows), promptMaxRows))
}

func (p promptInput) View() string {
	frame := activeFrame
	if !p.active {
		frame = inactiveFrame
	}

	inner := max(p.width-promptPadding, 10)
	p.area.SetWidth(inner)
	box := frame.Width(inner).Render(p.area.View())

	if p.active && strings.HasPrefix(p.area.Value(), "/") {
		return lipgloss.JoinVertical(lipgloss.Left, box, commandHint)
	}
	return box
}

func (p *promptInput) resize(w int) {
	p.width = w
	p.area.SetWidth(max(w-promptPadding, 10))
	p.fit()
}

func (p *promptInput) focus() tea.Cmd {
	p.active = true
	return p.area.Focus()
}

func (p *promptInput) blur() {
	p.active = false
	p.area.Blur()
}

// wrappedRows counts the screen rows text needs at width, including soft
// wraps of long lines.
func wrappedRows(text string, width int) int {
	if text == "" {
		return 1
	}

	width = max(width, 1)

	rows := 0
	for line := range strings.SplitSeq(text, "\n") {
		w := runewidth.StringWidth(line)
		rows += max((w+width-1)/width, 1)
	}

	return rows
}
