package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyMessage = errors.New("conversation: empty message")
	ErrNotConnected = errors.New("conversation: not connected")
)

// Sender is the outbound half of the connection the assembler talks through.
type Sender interface {
	IsConnected() bool
	Send(payload []byte) error
}

// Assembler owns the conversation state. It merges streamed content fragments
// into the in-progress assistant message, tracks the awaiting-response flag
// and the active agent label, and records user messages once they were
// actually transmitted.
type Assembler struct {
	sender   Sender
	now      func() time.Time
	newID    func() string
	onChange func()
	logger   zerolog.Logger

	mu          sync.Mutex
	messages    []Message
	awaiting    bool
	activeAgent string
	// turnClosed is set by an end event; the next fragment opens a new
	// assistant message even if the last message is from the assistant.
	turnClosed bool
	seq        uint64
}

type Option func(*Assembler)

func WithClock(now func() time.Time) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(a *Assembler) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// WithOnChange registers a callback invoked after every state mutation,
// outside the assembler lock.
func WithOnChange(fn func()) Option {
	return func(a *Assembler) {
		a.onChange = fn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

func NewAssembler(sender Sender, opts ...Option) *Assembler {
	a := &Assembler{
		sender: sender,
		now:    time.Now,
		newID:  newMessageID,
		logger: log.With().Str("component", "conversation").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleFrame decodes and applies one inbound frame. Undecodable frames are
// dropped with a warning and leave the state untouched; the decode error is
// returned for callers that care.
func (a *Assembler) HandleFrame(data []byte) error {
	ev, err := DecodeEvent(data)
	if err != nil {
		a.logger.Warn().Err(err).Int("len", len(data)).Msg("dropping inbound frame")
		return err
	}
	a.Apply(ev)
	return nil
}

// Apply applies a decoded event.
func (a *Assembler) Apply(ev Event) {
	a.mu.Lock()
	switch ev.Type {
	case EventContent:
		a.mergeFragmentLocked(ev.Content)
		a.awaiting = false
	case EventAgentChange:
		a.activeAgent = ev.Agent
	case EventEnd:
		a.awaiting = false
		a.turnClosed = true
		if ev.Agent != "" {
			a.activeAgent = ev.Agent
		}
	default:
		a.mu.Unlock()
		a.logger.Debug().Str("type", string(ev.Type)).Msg("ignoring event")
		return
	}
	a.mu.Unlock()
	a.changed()
}

func (a *Assembler) mergeFragmentLocked(fragment string) {
	if n := len(a.messages); n > 0 && !a.turnClosed && a.messages[n-1].Role == RoleAssistant {
		a.messages[n-1].Content += fragment
		return
	}
	a.appendLocked(RoleAssistant, fragment)
	a.turnClosed = false
}

func (a *Assembler) appendLocked(role Role, content string) {
	a.seq++
	a.messages = append(a.messages, Message{
		ID:        a.newID(),
		Seq:       a.seq,
		Role:      role,
		Content:   content,
		Timestamp: a.now(),
	})
}

// SendMessage transmits text verbatim and, only once the transmission went
// through, appends it as a user message and raises the awaiting-response flag.
// Blank text and a disconnected sender are no-ops reported through the
// returned error.
func (a *Assembler) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if a.sender == nil {
		return errors.New("conversation: no sender")
	}

	// inbound frames wait on the lock, so a reply can never be merged before
	// the user message it answers is in the list.
	a.mu.Lock()
	if !a.sender.IsConnected() {
		a.mu.Unlock()
		return ErrNotConnected
	}
	if err := a.sender.Send([]byte(text)); err != nil {
		a.mu.Unlock()
		a.logger.Debug().Err(err).Msg("send dropped")
		return errors.Wrap(err, "send message")
	}
	a.appendLocked(RoleUser, text)
	a.awaiting = true
	a.turnClosed = false
	a.mu.Unlock()

	a.changed()
	return nil
}

// ClearMessages empties the message list. Connection state and the active
// agent are left alone.
func (a *Assembler) ClearMessages() {
	a.mu.Lock()
	if len(a.messages) == 0 {
		a.mu.Unlock()
		return
	}
	a.messages = nil
	a.turnClosed = false
	a.mu.Unlock()
	a.changed()
}

func (a *Assembler) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.messages...)
}

func (a *Assembler) AwaitingResponse() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.awaiting
}

func (a *Assembler) ActiveAgent() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeAgent
}

func (a *Assembler) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		Messages:         append([]Message(nil), a.messages...),
		AwaitingResponse: a.awaiting,
		ActiveAgent:      a.activeAgent,
	}
}

func (a *Assembler) changed() {
	if a.onChange != nil {
		a.onChange()
	}
}
