// Package tui is the interactive terminal chat for repairbot.
package tui

import (
	"context"
	"fmt"
	"strings"

	"repairbot/internal/agent"
	"repairbot/internal/chat"
	"repairbot/internal/pipeline"
	"repairbot/internal/store"
	"repairbot/internal/turn"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
)

// Service is the part of *chat.Service the TUI drives.
type Service interface {
	Send(ctx context.Context, req chat.Request) (*chat.Result, error)
	History(ctx context.Context, ownerID, threadID string, limit int) (*chat.HistoryView, error)
	Clear(ctx context.Context, ownerID, threadID string) (int64, error)
	Usage(ctx context.Context, ownerID string) (store.Usage, error)
}

// Options configures a chat session.
type Options struct {
	OwnerID  string
	ThreadID string // empty starts a new thread
	// GlamourStyle names a glamour style; empty picks one from the terminal.
	GlamourStyle string
}

// Message is one entry of the visible conversation.
type Message struct {
	Role     turn.Role
	Content  string
	Official *bool // assistant replies only
}

// Messages exchanged with the turn goroutine.
type (
	statusMsg   string
	tokenMsg    string
	retryMsg    int
	turnDoneMsg struct {
		result *chat.Result
		err    error
	}
	historyMsg struct {
		messages []store.Message
		err      error
	}
	noticeMsg string
)

// Model is the bubbletea model of the chat view.
type Model struct {
	svc  Service
	opts Options
	ctx  context.Context

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	styles   Styles

	history   []Message
	streaming string
	status    string
	notice    string
	err       error
	loading   bool
	events    chan tea.Msg
	cancel    context.CancelFunc

	width, height int
	ready         bool
}

// NewModel creates the chat model.
func NewModel(ctx context.Context, svc Service, opts Options) Model {
	if opts.ThreadID == "" {
		opts.ThreadID = newThreadID()
	}

	ta := textarea.New()
	ta.Placeholder = "Describe what's broken... (enter to send, /help for commands)"
	ta.ShowLineNumbers = false
	ta.CharLimit = 4000
	ta.SetHeight(2)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		svc:      svc,
		opts:     opts,
		ctx:      ctx,
		textarea: ta,
		spinner:  sp,
		styles:   DefaultStyles(),
		renderer: newRenderer(opts.GlamourStyle, 80),
	}
}

func newThreadID() string {
	return "cli-" + uuid.NewString()
}

func newRenderer(style string, width int) *glamour.TermRenderer {
	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
	if err != nil {
		return nil
	}
	return r
}

// Init loads the thread's stored messages.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.loadHistory())
}

func (m Model) loadHistory() tea.Cmd {
	svc, ctx, owner, thread := m.svc, m.ctx, m.opts.OwnerID, m.opts.ThreadID
	return func() tea.Msg {
		view, err := svc.History(ctx, owner, thread, chat.DefaultHistoryLimit)
		if err != nil {
			return historyMsg{err: err}
		}
		return historyMsg{messages: view.Messages}
	}
}

// Update handles input and turn progress.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.stop()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.loading {
				m.stop()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			text := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if text == "" {
				return m, nil
			}
			if strings.HasPrefix(text, "/") {
				return m.handleCommand(text)
			}
			return m.submit(text)
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		m.history = make([]Message, 0, len(msg.messages))
		for _, sm := range msg.messages {
			m.history = append(m.history, Message{Role: sm.Role, Content: sm.Content})
		}

	case statusMsg:
		m.status = string(msg)
		cmds = append(cmds, waitForEvent(m.events))

	case tokenMsg:
		m.streaming += string(msg)
		cmds = append(cmds, waitForEvent(m.events))

	case retryMsg:
		m.streaming = ""
		m.status = fmt.Sprintf("⏳ Rate limited, retry %d...", int(msg))
		cmds = append(cmds, waitForEvent(m.events))

	case turnDoneMsg:
		m.finishTurn(msg)

	case noticeMsg:
		m.notice = string(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.loading {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}
	if m.ready {
		m.viewport.SetContent(m.renderHistory())
		if _, isKey := msg.(tea.KeyMsg); !isKey || m.loading {
			m.viewport.GotoBottom()
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	const chrome = 2 + 4 + 2 // header, input box, footer
	vh := max(height-chrome, 1)
	vw := max(width-2, 1)
	if !m.ready {
		m.viewport = viewport.New(vw, vh)
		m.ready = true
	} else {
		m.viewport.Width, m.viewport.Height = vw, vh
	}
	m.textarea.SetWidth(max(width-6, 10))
	m.renderer = newRenderer(m.opts.GlamourStyle, max(vw-4, 20))
}

// submit shows the user's message and starts the turn.
func (m Model) submit(text string) (tea.Model, tea.Cmd) {
	m.history = append(m.history, Message{Role: turn.RoleUser, Content: text})
	m.loading = true
	m.err = nil
	m.notice = ""
	m.status = ""
	m.streaming = ""

	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.events = make(chan tea.Msg, 64)
	return m, tea.Batch(m.spinner.Tick, startTurn(ctx, m.svc, m.events, chat.Request{
		OwnerID:  m.opts.OwnerID,
		ThreadID: m.opts.ThreadID,
		Message:  text,
	}))
}

// startTurn runs the turn on its own goroutine, forwarding pipeline events
// into events, and returns the first of them.
func startTurn(ctx context.Context, svc Service, events chan tea.Msg, req chat.Request) tea.Cmd {
	return func() tea.Msg {
		go func() {
			sink := func(ev pipeline.Event) {
				var out tea.Msg
				switch ev.Type {
				case pipeline.EventStatus:
					text := agent.StatusMessage(ev.Stage, ev.Content)
					if text == "" {
						return
					}
					out = statusMsg(text)
				case pipeline.EventToken:
					out = tokenMsg(ev.Content)
				case pipeline.EventRetry:
					out = retryMsg(ev.Attempt)
				default:
					return
				}
				select {
				case events <- out:
				case <-ctx.Done():
				}
			}
			res, err := svc.Send(pipeline.WithEventSink(ctx, sink), req)
			events <- turnDoneMsg{result: res, err: err}
		}()
		return <-events
	}
}

func waitForEvent(events chan tea.Msg) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg { return <-events }
}

func (m *Model) finishTurn(msg turnDoneMsg) {
	m.loading = false
	m.status = ""
	m.streaming = ""
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.events = nil
	if msg.err != nil {
		m.err = msg.err
		return
	}
	official := msg.result.OfficialSource
	m.history = append(m.history, Message{Role: turn.RoleAssistant, Content: msg.result.Reply, Official: &official})
}

func (m *Model) stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

const helpText = "/new start a new thread · /clear delete this thread · /usage show token usage · /quit exit"

func (m Model) handleCommand(text string) (tea.Model, tea.Cmd) {
	svc, ctx, owner, thread := m.svc, m.ctx, m.opts.OwnerID, m.opts.ThreadID
	switch strings.Fields(text)[0] {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/help":
		m.notice = helpText
	case "/new":
		m.opts.ThreadID = newThreadID()
		m.history = nil
		m.notice = "new thread " + m.opts.ThreadID
	case "/clear":
		m.history = nil
		return m, func() tea.Msg {
			n, err := svc.Clear(ctx, owner, thread)
			if err != nil {
				return noticeMsg("clear failed: " + err.Error())
			}
			return noticeMsg(fmt.Sprintf("deleted %d messages", n))
		}
	case "/usage":
		return m, func() tea.Msg {
			u, err := svc.Usage(ctx, owner)
			if err != nil {
				return noticeMsg("usage failed: " + err.Error())
			}
			return noticeMsg(fmt.Sprintf("%d tokens over %d requests", u.TotalTokens, u.RequestCount))
		}
	default:
		m.notice = "unknown command; " + helpText
	}
	return m, nil
}

// Run starts the full-screen chat and blocks until the user quits.
func Run(ctx context.Context, svc Service, opts Options) error {
	p := tea.NewProgram(NewModel(ctx, svc, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
