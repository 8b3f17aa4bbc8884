package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/germanamz/promptkit/pkg/engine"
)

func cmdChat(ctx context.Context, args []string) error {
	fs, o := newFlagSet("chat", "", "Chat interactively with a provider")
	provider := fs.String("provider", "", "provider to talk to (default: first configured provider)")
	system := fs.String("system", "", "system prompt that opens the conversation")
	_ = fs.Parse(args)

	eng, _, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	sess, err := eng.NewSession(*provider, *system)
	if err != nil {
		return err
	}

	p := tea.NewProgram(newChatModel(ctx, sess, eng.Events(), o.render))

	// Send the program reference so the model can start the bridge goroutine.
	go func() {
		p.Send(programReadyMsg{program: p})
	}()

	_, err = p.Run()
	return err
}

// inputSubmitMsg carries the text the user submitted from the input box.
type inputSubmitMsg struct {
	text string
}

// chunkMsg delivers a streamed piece of the reply from the bridge goroutine.
type chunkMsg struct {
	text string
}

// sendCompleteMsg is returned by the tea.Cmd that calls sess.Send.
type sendCompleteMsg struct {
	reply    string
	err      error
	duration time.Duration
}

// programReadyMsg passes the *tea.Program to the model so it can start the
// bridge goroutine.
type programReadyMsg struct {
	program *tea.Program
}

// initDrainMsg fires after a short delay so that stale terminal responses
// (e.g. OSC 11 background-color replies) are discarded before focusing input.
type initDrainMsg struct{}

type chatState int

const (
	stateIdle chatState = iota
	stateProcessing
)

// chatModel is the root bubbletea model of the chat command. Finished turns
// are printed to the terminal scrollback; the view only holds the reply
// being streamed, the input box and the status line.
type chatModel struct {
	ctx          context.Context
	sess         *engine.Session
	events       *engine.EventBus
	render       func(string) string
	input        promptInput
	spinner      spinner.Model
	state        chatState
	thinking     string
	partial      string
	lastDuration time.Duration
	cancelBridge context.CancelFunc
	width        int
	height       int
}

func newChatModel(ctx context.Context, sess *engine.Session, events *engine.EventBus, render func(string) string) chatModel {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Spinner{Frames: spinnerFrames, FPS: time.Second / 10}),
		spinner.WithStyle(spinnerStyle),
	)

	return chatModel{
		ctx:     ctx,
		sess:    sess,
		events:  events,
		render:  render,
		input:   newPromptInput(),
		spinner: sp,
		state:   stateIdle,
	}
}

func (m chatModel) Init() tea.Cmd {
	greeting := dimStyle.Render("Chatting with " + m.sess.Provider() + ". Type /help for commands.")

	// Delay focusing the input so that stale terminal escape-sequence
	// responses are drained first.
	return tea.Batch(
		tea.Println(greeting),
		tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg {
			return initDrainMsg{}
		}),
	)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.resize(m.width)
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m.quit()
		}

	case initDrainMsg:
		return m, m.input.focus()

	case programReadyMsg:
		m.cancelBridge = startBridge(m.ctx, msg.program, m.sess.ID(), m.events)
		return m, nil

	case inputSubmitMsg:
		return m.handleSubmit(msg)

	case chunkMsg:
		if m.state == stateProcessing {
			m.partial += msg.text
		}
		return m, nil

	case sendCompleteMsg:
		return m.handleComplete(msg)

	case spinner.TickMsg:
		if m.state != stateProcessing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	if m.state == stateIdle {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m chatModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var sections []string

	if m.state == stateProcessing {
		if m.partial == "" {
			sections = append(sections, "  "+m.spinner.View()+" "+spinnerStyle.Render(m.thinking))
		} else {
			inputHeight := lipgloss.Height(m.input.View())
			live := lastLines(m.partial, max(m.height-inputHeight-2, 3))
			sections = append(sections, renderAnswer(m.sess.Provider(), live), "  "+m.spinner.View())
		}
	}

	sections = append(sections, m.input.View(), m.statusLine())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m chatModel) statusLine() string {
	parts := []string{m.sess.Provider()}
	// The chat is only read between turns; Send owns it while processing.
	if m.state == stateIdle {
		if n := m.sess.Chat().Len(); n > 0 {
			parts = append(parts, pluralize(n, "message"))
		}
	}
	if m.lastDuration > 0 {
		parts = append(parts, "last reply "+fmtDuration(m.lastDuration))
	}
	return statusStyle.Render(" " + strings.Join(parts, " · "))
}

func (m chatModel) handleSubmit(msg inputSubmitMsg) (tea.Model, tea.Cmd) {
	text := msg.text

	switch text {
	case "/quit", "/exit":
		return m.quit()
	case "/help":
		return m, tea.Println(helpText())
	case "/reset":
		m.sess.Reset()
		m.lastDuration = 0
		return m, tea.Println(dimStyle.Render("Conversation cleared."))
	}

	m.state = stateProcessing
	m.thinking = randomThinkingMessage()
	m.partial = ""
	m.input.blur()

	sess := m.sess
	ctx := m.ctx
	start := time.Now()
	sendCmd := func() tea.Msg {
		reply, err := sess.Send(ctx, text)
		return sendCompleteMsg{reply: reply.TextContent(), err: err, duration: time.Since(start)}
	}

	return m, tea.Batch(tea.Println(renderUserMessage(text)), sendCmd, m.spinner.Tick)
}

func (m chatModel) handleComplete(msg sendCompleteMsg) (tea.Model, tea.Cmd) {
	m.state = stateIdle
	m.partial = ""
	m.lastDuration = msg.duration
	focusCmd := m.input.focus()

	var out string
	switch {
	case msg.err != nil && m.ctx.Err() == nil:
		out = errorBlockStyle.Render("error: " + msg.err.Error())
	case msg.err == nil:
		out = renderAnswer(m.sess.Provider(), m.render(msg.reply))
	}

	if out == "" {
		return m, focusCmd
	}
	return m, tea.Batch(tea.Println(out), focusCmd)
}

func (m chatModel) quit() (tea.Model, tea.Cmd) {
	if m.cancelBridge != nil {
		m.cancelBridge()
	}
	return m, tea.Quit
}

// startBridge forwards the session's streamed chunks to the program. The
// goroutine only calls p.Send; it never touches model state.
func startBridge(ctx context.Context, p *tea.Program, sessionID string, events *engine.EventBus) context.CancelFunc {
	bridgeCtx, cancel := context.WithCancel(ctx)
	sub := events.Subscribe(256, engine.EventChunk)

	go func() {
		defer events.Unsubscribe(sub)
		for {
			select {
			case <-bridgeCtx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if ev.SessionID != sessionID {
					continue
				}
				if s, ok := ev.Data.(string); ok {
					p.Send(chunkMsg{text: s})
				}
			}
		}
	}()

	return cancel
}

// lastLines returns the last n lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}

func helpText() string {
	return dimStyle.Render(
		"Commands:\n" +
			"  /help          Show this help message\n" +
			"  /reset         Forget the conversation\n" +
			"  /quit          Exit the chat\n\n" +
			"Shortcuts:\n" +
			"  Enter          Submit message\n" +
			"  Alt+Enter      New line\n" +
			"  Ctrl+C         Exit",
	)
}
