// Package session binds one connection manager and one message assembler
// into the chat session the UI talks to. Every state change is published as
// a versioned Snapshot on an events.Bus.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/agentchat/pkg/conversation"
	"github.com/go-go-golems/agentchat/pkg/events"
	"github.com/go-go-golems/agentchat/pkg/transport"
)

const (
	MetaSessionID = "session_id"
	MetaVersion   = "version"

	subscriberBuffer = 16
)

type Config struct {
	URL            string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	PingInterval   time.Duration

	// Dialer defaults to a websocket dialer using PingInterval.
	Dialer transport.Dialer
	// Bus defaults to a private in-memory bus that is closed with the session.
	Bus *events.Bus
	// ID defaults to a random UUID.
	ID string
}

// Snapshot is the published view of a session.
type Snapshot struct {
	SessionID        string                 `json:"sessionId"`
	Version          uint64                 `json:"version"`
	ConnectionStatus transport.Status       `json:"connectionStatus"`
	Messages         []conversation.Message `json:"messages"`
	AwaitingResponse bool                   `json:"awaitingResponse"`
	ActiveAgent      string                 `json:"activeAgent"`
}

// Last returns the most recent message, if any.
func (s Snapshot) Last() (conversation.Message, bool) {
	if len(s.Messages) == 0 {
		return conversation.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

type Session struct {
	id        string
	manager   *transport.Manager
	assembler *conversation.Assembler
	bus       *events.Bus
	ownsBus   bool
	logger    zerolog.Logger

	publishMu sync.Mutex
	version   atomic.Uint64
	closed    bool

	closeOnce sync.Once
	closeErr  error
}

// New builds a session. The connection is not opened until Start.
func New(ctx context.Context, cfg Config) (*Session, error) {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = uuid.NewString()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &transport.WebsocketDialer{PingInterval: cfg.PingInterval}
	}

	s := &Session{
		id:     id,
		bus:    cfg.Bus,
		logger: log.With().Str("component", "session").Str("session_id", id).Logger(),
	}
	if s.bus == nil {
		s.bus = events.NewInMemoryBus("")
		s.ownsBus = true
	}

	m, err := transport.NewManager(transport.Config{
		URL:            cfg.URL,
		Dialer:         dialer,
		ReconnectDelay: cfg.ReconnectDelay,
		DialTimeout:    cfg.DialTimeout,
		BaseCtx:        ctx,
	}, transport.Hooks{
		OnOpen: func() {
			s.logger.Info().Msg("connected")
		},
		OnMessage: func(data []byte) {
			// Malformed frames are logged by the assembler and dropped.
			_ = s.assembler.HandleFrame(data)
		},
		OnError: func(err error) {
			s.logger.Debug().Err(err).Msg("transport error")
		},
		OnClose: func() {
			s.logger.Info().Msg("disconnected")
		},
		OnStatus: func(transport.Status) {
			s.notify()
		},
	})
	if err != nil {
		if s.ownsBus {
			_ = s.bus.Close()
		}
		return nil, errors.Wrap(err, "create connection manager")
	}
	s.manager = m
	s.assembler = conversation.NewAssembler(m,
		conversation.WithOnChange(s.notify),
		conversation.WithLogger(s.logger),
	)
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Start opens the connection. It returns immediately; progress is visible
// through ConnectionStatus and snapshots.
func (s *Session) Start() error {
	return s.manager.Open()
}

func (s *Session) Messages() []conversation.Message {
	return s.assembler.Messages()
}

func (s *Session) AwaitingResponse() bool {
	return s.assembler.AwaitingResponse()
}

func (s *Session) ActiveAgent() string {
	return s.assembler.ActiveAgent()
}

func (s *Session) ConnectionStatus() transport.Status {
	return s.manager.Status()
}

func (s *Session) IsConnected() bool {
	return s.manager.IsConnected()
}

// SendMessage dispatches text to the peer. It fails with
// conversation.ErrEmptyMessage or conversation.ErrNotConnected without
// touching state; callers may ignore both.
func (s *Session) SendMessage(text string) error {
	return s.assembler.SendMessage(text)
}

func (s *Session) ClearMessages() {
	s.assembler.ClearMessages()
}

// Snapshot returns the current state, stamped with the latest published
// version.
func (s *Session) Snapshot() Snapshot {
	return s.snapshot(s.version.Load())
}

func (s *Session) snapshot(version uint64) Snapshot {
	st := s.assembler.State()
	return Snapshot{
		SessionID:        s.id,
		Version:          version,
		ConnectionStatus: s.manager.Status(),
		Messages:         st.Messages,
		AwaitingResponse: st.AwaitingResponse,
		ActiveAgent:      st.ActiveAgent,
	}
}

func (s *Session) notify() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if s.closed {
		return
	}
	v := s.version.Add(1)
	payload, err := json.Marshal(s.snapshot(v))
	if err != nil {
		s.logger.Error().Err(err).Msg("encode snapshot")
		return
	}
	err = s.bus.Publish(payload, map[string]string{
		MetaSessionID: s.id,
		MetaVersion:   strconv.FormatUint(v, 10),
	})
	if err != nil {
		s.logger.Warn().Err(err).Uint64("version", v).Msg("publish snapshot")
	}
}

// Subscribe streams snapshots of this session until ctx is done or the
// session is closed. Stale snapshots are skipped, so versions received are
// strictly increasing.
func (s *Session) Subscribe(ctx context.Context) (<-chan Snapshot, error) {
	msgs, err := s.bus.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan Snapshot, subscriberBuffer)
	go func() {
		defer close(out)
		var last uint64
		for msg := range msgs {
			msg.Ack()
			if msg.Metadata.Get(MetaSessionID) != s.id {
				continue
			}
			var snap Snapshot
			if err := json.Unmarshal(msg.Payload, &snap); err != nil {
				s.logger.Warn().Err(err).Msg("decode snapshot")
				continue
			}
			if snap.Version <= last {
				continue
			}
			last = snap.Version
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close tears the session down: the pending reconnect is cancelled, the live
// handle is closed and no snapshot is published afterwards. The final
// disconnected status is published before the bus is released.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.manager.Close()

		s.publishMu.Lock()
		s.closed = true
		s.publishMu.Unlock()

		if s.ownsBus {
			if err := s.bus.Close(); err != nil && s.closeErr == nil {
				s.closeErr = errors.Wrap(err, "close bus")
			}
		}
	})
	return s.closeErr
}
