package ui

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/agentchat/pkg/conversation"
	"github.com/go-go-golems/agentchat/pkg/session"
	"github.com/go-go-golems/agentchat/pkg/transport"
)

type fakeChat struct {
	mu      sync.Mutex
	snap    session.Snapshot
	sent    []string
	sendErr error
	cleared int
	subs    []chan session.Snapshot
	// reply, when set, is streamed back after every successful send.
	reply string
}

func newFakeChat() *fakeChat {
	return &fakeChat{snap: session.Snapshot{SessionID: "s", ConnectionStatus: transport.StatusConnected}}
}

func (f *fakeChat) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return conversation.ErrEmptyMessage
	}
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, text)
	seq := uint64(len(f.snap.Messages) + 1)
	f.snap.Messages = append(f.snap.Messages, conversation.Message{ID: text, Seq: seq, Role: conversation.RoleUser, Content: text})
	f.snap.AwaitingResponse = true
	f.publishLocked()
	if f.reply != "" {
		f.snap.Messages = append(f.snap.Messages, conversation.Message{ID: "r-" + text, Seq: seq + 1, Role: conversation.RoleAssistant, Content: f.reply})
		f.snap.AwaitingResponse = false
		f.publishLocked()
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeChat) ClearMessages() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.snap.Messages = nil
	f.publishLocked()
}

func (f *fakeChat) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeChat) Subscribe(ctx context.Context) (<-chan session.Snapshot, error) {
	ch := make(chan session.Snapshot, 16)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, c := range f.subs {
			if c == ch {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (f *fakeChat) publishLocked() {
	f.snap.Version++
	snap := f.snap
	snap.Messages = append([]conversation.Message(nil), f.snap.Messages...)
	for _, c := range f.subs {
		c <- snap
	}
}

func key(t tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: t}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func TestModelSendsOnEnter(t *testing.T) {
	fc := newFakeChat()
	m := NewModel(fc, nil)
	m.input.SetValue("hello there")

	m, _ = update(t, m, key(tea.KeyEnter))
	require.Equal(t, []string{"hello there"}, fc.sent)
	require.Empty(t, m.input.Value())
	require.Empty(t, m.notice)
}

func TestModelIgnoresBlankInput(t *testing.T) {
	fc := newFakeChat()
	m := NewModel(fc, nil)
	m.input.SetValue("   ")

	m, _ = update(t, m, key(tea.KeyEnter))
	require.Empty(t, fc.sent)
	require.Empty(t, m.notice)
}

func TestModelKeepsInputWhenNotConnected(t *testing.T) {
	fc := newFakeChat()
	fc.sendErr = conversation.ErrNotConnected
	m := NewModel(fc, nil)
	m.input.SetValue("hello")

	m, _ = update(t, m, key(tea.KeyEnter))
	require.Equal(t, "hello", m.input.Value())
	require.Contains(t, m.View(), "not connected")
}

func TestModelRendersSnapshots(t *testing.T) {
	fc := newFakeChat()
	m := NewModel(fc, nil)
	require.Contains(t, m.View(), "No messages yet.")

	snap := session.Snapshot{
		Version:          3,
		ConnectionStatus: transport.StatusConnected,
		ActiveAgent:      "Billing Agent",
		Messages: []conversation.Message{
			{ID: "1", Seq: 1, Role: conversation.RoleUser, Content: "hi"},
			{ID: "2", Seq: 2, Role: conversation.RoleAssistant, Content: "You said: hi"},
		},
	}
	m, cmd := update(t, m, snapshotMsg(snap))
	require.NotNil(t, cmd)

	view := m.View()
	require.Contains(t, view, "● connected")
	require.Contains(t, view, "Billing Agent")
	require.Contains(t, view, "You said: hi")
	require.Contains(t, view, "Assistant")
}

func TestModelShowsStatusChanges(t *testing.T) {
	m := NewModel(newFakeChat(), nil)
	m, _ = update(t, m, snapshotMsg(session.Snapshot{ConnectionStatus: transport.StatusDisconnected}))
	require.Contains(t, m.View(), "● disconnected")
	m, _ = update(t, m, snapshotMsg(session.Snapshot{ConnectionStatus: transport.StatusConnecting}))
	require.Contains(t, m.View(), "● connecting")
}

func TestModelCopiesLastMessage(t *testing.T) {
	var copied string
	m := NewModel(newFakeChat(), nil, WithClipboard(func(s string) error {
		copied = s
		return nil
	}))

	m, _ = update(t, m, key(tea.KeyCtrlY))
	require.Empty(t, copied)
	require.Equal(t, "nothing to copy", m.notice)

	m, _ = update(t, m, snapshotMsg(session.Snapshot{Messages: []conversation.Message{
		{ID: "1", Seq: 1, Role: conversation.RoleUser, Content: "q"},
		{ID: "2", Seq: 2, Role: conversation.RoleAssistant, Content: "answer"},
	}}))
	m, _ = update(t, m, key(tea.KeyCtrlY))
	require.Equal(t, "answer", copied)
	require.Equal(t, "copied last message", m.notice)
}

func TestModelClearAndQuit(t *testing.T) {
	fc := newFakeChat()
	m := NewModel(fc, nil)

	m, _ = update(t, m, key(tea.KeyCtrlL))
	require.Equal(t, 1, fc.cleared)

	_, cmd := update(t, m, key(tea.KeyCtrlC))
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())

	_, cmd = update(t, m, updatesClosedMsg{})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelResize(t *testing.T) {
	m := NewModel(newFakeChat(), nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	require.Equal(t, 100, m.viewport.Width)
	require.Equal(t, 30-headerHeight-inputHeight-footerHeight, m.viewport.Height)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 5, Height: 2})
	require.Equal(t, 1, m.viewport.Height)
}

func TestWaitForSnapshot(t *testing.T) {
	ch := make(chan session.Snapshot, 1)
	ch <- session.Snapshot{Version: 7}
	msg := waitForSnapshot(ch)()
	require.Equal(t, uint64(7), session.Snapshot(msg.(snapshotMsg)).Version)

	close(ch)
	require.IsType(t, updatesClosedMsg{}, waitForSnapshot(ch)())
}

func TestPlainPrinterStreamsAssistantContent(t *testing.T) {
	var buf bytes.Buffer
	p := &plainPrinter{w: &buf}
	user := conversation.Message{ID: "u1", Seq: 1, Role: conversation.RoleUser, Content: "hi"}
	asst := func(content string) conversation.Message {
		return conversation.Message{ID: "a2", Seq: 2, Role: conversation.RoleAssistant, Content: content}
	}

	p.apply(session.Snapshot{ConnectionStatus: transport.StatusConnected})
	p.apply(session.Snapshot{ConnectionStatus: transport.StatusConnected, AwaitingResponse: true, Messages: []conversation.Message{user}})
	p.apply(session.Snapshot{ConnectionStatus: transport.StatusConnected, ActiveAgent: "Triage Agent", Messages: []conversation.Message{user, asst("You")}})
	p.apply(session.Snapshot{ConnectionStatus: transport.StatusConnected, ActiveAgent: "Triage Agent", Messages: []conversation.Message{user, asst("You said: hi")}})
	p.apply(session.Snapshot{ConnectionStatus: transport.StatusConnected, ActiveAgent: "Triage Agent", Messages: []conversation.Message{
		user, asst("You said: hi"), {ID: "u3", Seq: 3, Role: conversation.RoleUser, Content: "again"},
	}})
	p.endLine()

	require.Equal(t, "[connected]\n[agent: Triage Agent]\n< You said: hi\n", buf.String())
}

func TestRunPlainSendsLinesAndPrintsReplies(t *testing.T) {
	fc := newFakeChat()
	fc.reply = "You said: hello"
	var out bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, RunPlain(ctx, fc, strings.NewReader("hello\n\n"), &out))

	require.Equal(t, []string{"hello"}, fc.sent)
	require.Contains(t, out.String(), "< You said: hello\n")
}

func TestRunPlainReportsNotConnected(t *testing.T) {
	fc := newFakeChat()
	fc.sendErr = conversation.ErrNotConnected
	var out bytes.Buffer

	require.NoError(t, RunPlain(context.Background(), fc, strings.NewReader("hello\n"), &out))
	require.Contains(t, out.String(), "[not connected, message not sent]")
}
