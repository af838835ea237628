// Package ui renders a chat session in the terminal, either as a Bubble Tea
// program or as a plain line-oriented stream.
package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/go-go-golems/agentchat/pkg/conversation"
	"github.com/go-go-golems/agentchat/pkg/session"
	"github.com/go-go-golems/agentchat/pkg/transport"
)

// Chat is the part of a session the UI drives.
type Chat interface {
	SendMessage(text string) error
	ClearMessages()
	Snapshot() session.Snapshot
	Subscribe(ctx context.Context) (<-chan session.Snapshot, error)
}

var _ Chat = (*session.Session)(nil)

const (
	headerHeight = 1
	// rounded border plus the input line
	inputHeight  = 3
	footerHeight = 1
)

type snapshotMsg session.Snapshot

type updatesClosedMsg struct{}

// waitForSnapshot delivers one snapshot from ch as a Tea message.
func waitForSnapshot(ch <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return snapshotMsg(s)
	}
}

type Option func(*Model)

// WithClipboard replaces the system clipboard writer.
func WithClipboard(fn func(string) error) Option {
	return func(m *Model) {
		m.copy = fn
	}
}

type Model struct {
	chat    Chat
	updates <-chan session.Snapshot
	snap    session.Snapshot

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	width  int
	height int
	notice string
	copy   func(string) error
}

func NewModel(chat Chat, updates <-chan session.Snapshot, opts ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message and press Enter"
	ti.Prompt = "> "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	m := Model{
		chat:     chat,
		updates:  updates,
		snap:     chat.Snapshot(),
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		width:    80,
		height:   headerHeight + 20 + inputHeight + footerHeight,
		copy:     clipboard.WriteAll,
	}
	for _, o := range opts {
		o(&m)
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForSnapshot(m.updates))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(ev.Width, ev.Height)
		return m, nil

	case tea.KeyMsg:
		switch ev.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			m.send()
			return m, nil
		case "ctrl+l":
			m.chat.ClearMessages()
			m.notice = ""
			return m, nil
		case "ctrl+y":
			m.copyLast()
			return m, nil
		}

	case snapshotMsg:
		m.snap = session.Snapshot(ev)
		m.refresh()
		return m, waitForSnapshot(m.updates)

	case updatesClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(ev)
		if m.snap.AwaitingResponse {
			m.refresh()
		}
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = max(width-8, 10)
	m.viewport.Width = width
	m.viewport.Height = max(height-headerHeight-inputHeight-footerHeight, 1)
	m.refresh()
}

func (m *Model) send() {
	text := m.input.Value()
	err := m.chat.SendMessage(text)
	switch {
	case err == nil:
		m.input.Reset()
		m.notice = ""
	case errors.Is(err, conversation.ErrEmptyMessage):
	case errors.Is(err, conversation.ErrNotConnected):
		m.notice = "not connected, message not sent"
	default:
		m.notice = "send failed: " + err.Error()
	}
}

func (m *Model) copyLast() {
	last, ok := m.snap.Last()
	if !ok {
		m.notice = "nothing to copy"
		return
	}
	if err := m.copy(last.Content); err != nil {
		m.notice = "copy failed: " + err.Error()
		return
	}
	m.notice = "copied last message"
}

func (m *Model) refresh() {
	body := renderTranscript(m.snap, m.viewport.Width)
	if m.snap.AwaitingResponse {
		body += "\n" + m.spinner.View() + " " + emptyStyle.Render("waiting for reply")
	}
	m.viewport.SetContent(body)
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	header := titleStyle.Render("agentchat") + " " + renderStatus(m.snap.ConnectionStatus)
	if m.snap.ActiveAgent != "" {
		header += " " + agentStyle.Render(m.snap.ActiveAgent)
	}
	footer := helpStyle.Render("enter send • ctrl+y copy last • ctrl+l clear • esc quit")
	if m.notice != "" {
		footer = noticeStyle.Render(m.notice)
	}
	input := inputBoxStyle.Width(max(m.width-2, 10)).Render(m.input.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), input, footer)
}

func renderStatus(s transport.Status) string {
	switch s {
	case transport.StatusConnected:
		return statusConnectedStyle.Render("● connected")
	case transport.StatusConnecting:
		return statusConnectingStyle.Render("● connecting")
	default:
		return statusDisconnectedStyle.Render("● disconnected")
	}
}

func renderTranscript(s session.Snapshot, width int) string {
	if len(s.Messages) == 0 {
		return emptyStyle.Render("No messages yet.")
	}
	wrap := lipgloss.NewStyle().Width(max(width-2, 10))
	var sb strings.Builder
	for i, msg := range s.Messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		label := userLabelStyle.Render("You")
		if msg.Role == conversation.RoleAssistant {
			label = botLabelStyle.Render("Assistant")
		}
		fmt.Fprintf(&sb, "%s %s\n", label, helpStyle.Render(msg.Timestamp.Format("15:04:05")))
		sb.WriteString(wrap.Render(msg.Content))
	}
	return sb.String()
}

// Run starts the Bubble Tea program on the alternate screen until the user
// quits or ctx is done.
func Run(ctx context.Context, chat Chat) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, err := chat.Subscribe(subCtx)
	if err != nil {
		return errors.Wrap(err, "subscribe to session")
	}
	p := tea.NewProgram(NewModel(chat, updates), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "run tui")
	}
	return nil
}
