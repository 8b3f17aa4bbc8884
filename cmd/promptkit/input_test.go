package main

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeInput(t *testing.T) promptInput {
	t.Helper()

	p := newPromptInput()
	p.resize(40)
	p.focus()
	return p
}

func typeText(p promptInput, s string) promptInput {
	p, _ = p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return p
}

func pressKey(p promptInput, k tea.KeyType) (promptInput, tea.Cmd) {
	return p.Update(tea.KeyMsg{Type: k})
}

func TestPromptInput_Submit(t *testing.T) {
	p := typeText(activeInput(t), "  hello  ")

	p, cmd := pressKey(p, tea.KeyEnter)
	require.NotNil(t, cmd)
	assert.Equal(t, inputSubmitMsg{text: "hello"}, cmd())
	assert.Empty(t, p.area.Value())
	assert.Equal(t, []string{"hello"}, p.history)
}

func TestPromptInput_BlankSubmitIgnored(t *testing.T) {
	p := typeText(activeInput(t), "   ")

	_, cmd := pressKey(p, tea.KeyEnter)
	assert.Nil(t, cmd)
}

func TestPromptInput_InactiveIgnoresKeys(t *testing.T) {
	p := newPromptInput()
	p = typeText(p, "hi")

	assert.Empty(t, p.area.Value())
}

func TestPromptInput_History(t *testing.T) {
	p := activeInput(t)
	for _, s := range []string{"first", "second", "second"} {
		p = typeText(p, s)
		p, _ = pressKey(p, tea.KeyEnter)
	}
	assert.Equal(t, []string{"first", "second"}, p.history)

	p = typeText(p, "draft")

	p, _ = pressKey(p, tea.KeyUp)
	assert.Equal(t, "second", p.area.Value())
	p, _ = pressKey(p, tea.KeyUp)
	assert.Equal(t, "first", p.area.Value())
	p, _ = pressKey(p, tea.KeyUp)
	assert.Equal(t, "first", p.area.Value())

	p, _ = pressKey(p, tea.KeyDown)
	assert.Equal(t, "second", p.area.Value())
	p, _ = pressKey(p, tea.KeyDown)
	assert.Equal(t, "draft", p.area.Value())
}

func TestPromptInput_CommandHint(t *testing.T) {
	p := typeText(activeInput(t), "/re")
	assert.Contains(t, p.View(), "/reset")

	p = typeText(activeInput(t), "question")
	assert.NotContains(t, p.View(), "/reset")
}

func TestWrappedRows(t *testing.T) {
	assert.Equal(t, 1, wrappedRows("", 10))
	assert.Equal(t, 1, wrappedRows("short", 10))
	assert.Equal(t, 2, wrappedRows("exactly ten + more", 10))
	assert.Equal(t, 3, wrappedRows("a\n\nb", 10))
	assert.Equal(t, 2, wrappedRows("日本語日本語", 10)) // 12 columns
	assert.Equal(t, 5, wrappedRows("abcde", 0))
}
