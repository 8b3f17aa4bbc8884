package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/germanamz/promptkit/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatModel(t *testing.T) chatModel {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(
			`{"message":{"role":"assistant","content":"Hel"},"done":false}` + "\n" +
				`{"message":{"role":"assistant","content":"lo"},"done":true}` + "\n"))
	}))
	t.Cleanup(srv.Close)

	cfg := engine.DefaultConfig()
	cfg.Providers[0].BaseURL = srv.URL

	eng, err := engine.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	sess, err := eng.NewSession("", "Be brief.")
	require.NoError(t, err)

	m := newChatModel(context.Background(), sess, eng.Events(), func(s string) string { return s })
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	updated, _ = updated.Update(initDrainMsg{})

	return updated.(chatModel)
}

// runBatch executes cmd and every command it batches, returning the
// messages they produce.
func runBatch(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}

	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		return []tea.Msg{msg}
	}

	var out []tea.Msg
	for _, c := range batch {
		out = append(out, runBatch(c)...)
	}
	return out
}

func TestChatModel_ViewBeforeResize(t *testing.T) {
	m := newChatModel(context.Background(), nil, nil, nil)
	assert.Equal(t, "Loading...", m.View())
}

func TestChatModel_SendRoundTrip(t *testing.T) {
	m := newTestChatModel(t)
	assert.True(t, m.input.active)

	updated, cmd := m.Update(inputSubmitMsg{text: "Say hello"})
	m = updated.(chatModel)

	assert.Equal(t, stateProcessing, m.state)
	assert.False(t, m.input.active)
	assert.NotEmpty(t, m.thinking)

	updated, _ = m.Update(chunkMsg{text: "Hel"})
	m = updated.(chatModel)
	assert.Equal(t, "Hel", m.partial)
	assert.Contains(t, m.View(), "Hel")

	var done *sendCompleteMsg
	for _, msg := range runBatch(cmd) {
		if sc, ok := msg.(sendCompleteMsg); ok {
			done = &sc
		}
	}
	require.NotNil(t, done)
	require.NoError(t, done.err)
	assert.Equal(t, "Hello", done.reply)

	updated, _ = m.Update(*done)
	m = updated.(chatModel)

	assert.Equal(t, stateIdle, m.state)
	assert.Empty(t, m.partial)
	assert.True(t, m.input.active)
	assert.Positive(t, m.lastDuration)
	assert.Equal(t, 3, m.sess.Chat().Len())
	assert.Contains(t, m.statusLine(), "3 messages")
}

func TestChatModel_SendError(t *testing.T) {
	m := newTestChatModel(t)

	updated, _ := m.Update(inputSubmitMsg{text: "hi"})
	m = updated.(chatModel)

	updated, cmd := m.Update(sendCompleteMsg{err: errors.New("runtime down"), duration: time.Second})
	m = updated.(chatModel)

	assert.Equal(t, stateIdle, m.state)
	assert.NotNil(t, cmd)
}

func TestChatModel_ChunkIgnoredWhenIdle(t *testing.T) {
	m := newTestChatModel(t)

	updated, _ := m.Update(chunkMsg{text: "late"})
	assert.Empty(t, updated.(chatModel).partial)
}

func TestChatModel_Commands(t *testing.T) {
	m := newTestChatModel(t)

	updated, cmd := m.Update(inputSubmitMsg{text: "/help"})
	assert.Equal(t, stateIdle, updated.(chatModel).state)
	assert.NotNil(t, cmd)

	m.lastDuration = time.Second
	updated, _ = m.Update(inputSubmitMsg{text: "/reset"})
	assert.Zero(t, updated.(chatModel).lastDuration)
	assert.Equal(t, 1, m.sess.Chat().Len())

	_, cmd = m.Update(inputSubmitMsg{text: "/quit"})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "a\nb", lastLines("a\nb", 3))
	assert.Equal(t, "c\nd", lastLines("a\nb\nc\nd", 2))
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "1 message", pluralize(1, "message"))
	assert.Equal(t, "4 messages", pluralize(4, "message"))
}
