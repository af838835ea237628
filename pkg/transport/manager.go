package transport

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultDialTimeout    = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Send when no handle is connected. Callers
	// are free to ignore it: nothing is queued.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrClosed is returned by Open after the manager was torn down.
	ErrClosed = errors.New("transport: manager closed")
	// ErrRemoteClosed marks a read that ended because the peer hung up cleanly.
	ErrRemoteClosed = errors.New("transport: remote closed")
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Conn is one live transport handle.
type Conn interface {
	// Read blocks until the next inbound frame. A clean remote hangup is
	// reported as an error wrapping ErrRemoteClosed.
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer opens new handles.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Hooks receive transport events. Exactly one of OnOpen, OnMessage, OnError or
// OnClose is invoked per transport event, in arrival order, from the goroutine
// owning the handle. OnStatus is invoked after every status transition.
//
// Hooks are called without any manager lock held, but they must not call
// Close: Close waits for the handle goroutine to return.
type Hooks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
	OnStatus  func(status Status)
}

type Config struct {
	URL            string
	Dialer         Dialer
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	// BaseCtx bounds in-flight dials. It is cancelled on Close as well.
	BaseCtx context.Context
}

type handle struct {
	conn    Conn
	writeMu sync.Mutex
}

// Manager owns the lifecycle of a single transport handle: open, health
// tracking, close and fixed-delay reconnect. At most one handle is pending or
// live at any time.
type Manager struct {
	url            string
	dialer         Dialer
	hooks          Hooks
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	logger         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	status  Status
	handle  *handle
	timer   *time.Timer
	stopped bool

	// wg tracks handle goroutines and armed reconnect timers.
	wg sync.WaitGroup
}

func NewManager(cfg Config, hooks Hooks) (*Manager, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("transport: missing url")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("transport: dialer is nil")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.DialTimeout < 0 {
		cfg.DialTimeout = 0
	}
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	return &Manager{
		url:            url,
		dialer:         cfg.Dialer,
		hooks:          hooks,
		reconnectDelay: cfg.ReconnectDelay,
		dialTimeout:    cfg.DialTimeout,
		logger:         log.With().Str("component", "transport").Str("url", url).Logger(),
		ctx:            ctx,
		cancel:         cancel,
		status:         StatusDisconnected,
	}, nil
}

func (m *Manager) Status() Status {
	if m == nil {
		return StatusDisconnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) IsConnected() bool {
	return m.Status() == StatusConnected
}

// Open starts a new handle unless one is already pending or live. It returns
// immediately; the outcome is reported through the hooks.
func (m *Manager) Open() error {
	if m == nil {
		return ErrClosed
	}
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.handle != nil {
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()
	h := &handle{}
	m.handle = h
	m.status = StatusConnecting
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug().Msg("opening handle")
	m.emitStatus(StatusConnecting)
	go m.run(h)
	return nil
}

// Send writes payload on the connected handle. It never queues: when no handle
// is connected it returns ErrNotConnected and does nothing else.
func (m *Manager) Send(payload []byte) error {
	if m == nil {
		return ErrNotConnected
	}
	m.mu.Lock()
	h := m.handle
	if m.status != StatusConnected || h == nil || h.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := h.conn
	m.mu.Unlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := conn.Write(payload); err != nil {
		// a failed write poisons the handle; the reader observes the close
		// and runs the regular close path.
		m.logger.Warn().Err(err).Msg("write failed, closing handle")
		_ = conn.Close()
		return errors.Wrap(err, "transport: write")
	}
	return nil
}

// Close tears the manager down: the pending reconnect is cancelled, any
// in-flight dial is aborted and the live handle is closed. No hook other than
// a final OnStatus(StatusDisconnected) fires afterwards. Close is idempotent.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.stopTimerLocked()
	var conn Conn
	if m.handle != nil {
		conn = m.handle.conn
	}
	m.handle = nil
	changed := m.status != StatusDisconnected
	m.status = StatusDisconnected
	m.mu.Unlock()

	m.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.wg.Wait()
	m.logger.Debug().Msg("manager closed")
	if changed {
		m.emitStatus(StatusDisconnected)
	}
	if err != nil {
		return errors.Wrap(err, "transport: close handle")
	}
	return nil
}

func (m *Manager) run(h *handle) {
	defer m.wg.Done()

	dialCtx := m.ctx
	cancel := func() {}
	if m.dialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(m.ctx, m.dialTimeout)
	}
	conn, err := m.dialer.Dial(dialCtx, m.url)
	cancel()
	if err != nil {
		if m.isCurrent(h) {
			m.logger.Warn().Err(err).Msg("dial failed")
			m.emitError(err)
		}
		m.finish(h)
		return
	}

	m.mu.Lock()
	if m.stopped || m.handle != h {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.conn = conn
	m.status = StatusConnected
	m.mu.Unlock()

	m.logger.Info().Msg("connected")
	m.emitStatus(StatusConnected)
	if m.hooks.OnOpen != nil {
		m.hooks.OnOpen()
	}
	m.readLoop(h, conn)
}

func (m *Manager) readLoop(h *handle, conn Conn) {
	for {
		data, err := conn.Read()
		if err != nil {
			if m.isCurrent(h) {
				if errors.Is(err, ErrRemoteClosed) {
					m.logger.Info().Err(err).Msg("remote closed connection")
				} else {
					m.logger.Warn().Err(err).Msg("transport error")
					m.emitError(err)
				}
			}
			_ = conn.Close()
			m.finish(h)
			return
		}
		if !m.isCurrent(h) {
			continue
		}
		if m.hooks.OnMessage != nil {
			m.hooks.OnMessage(data)
		}
	}
}

// finish runs the close path for h: status goes to disconnected and, unless
// the manager was torn down, a reconnect is armed after the fixed delay.
func (m *Manager) finish(h *handle) {
	m.mu.Lock()
	if m.handle != h {
		m.mu.Unlock()
		return
	}
	m.handle = nil
	changed := m.status != StatusDisconnected
	m.status = StatusDisconnected
	if !m.stopped {
		m.wg.Add(1)
		m.timer = time.AfterFunc(m.reconnectDelay, m.reconnect)
	}
	m.mu.Unlock()

	m.logger.Info().Dur("retry_in", m.reconnectDelay).Msg("disconnected")
	if changed {
		m.emitStatus(StatusDisconnected)
	}
	if m.hooks.OnClose != nil {
		m.hooks.OnClose()
	}
}

func (m *Manager) reconnect() {
	defer m.wg.Done()
	m.mu.Lock()
	m.timer = nil
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		m.logger.Debug().Msg("reconnect skipped, manager closed")
		return
	}
	if err := m.Open(); err != nil {
		m.logger.Debug().Err(err).Msg("reconnect skipped")
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer == nil {
		return
	}
	if m.timer.Stop() {
		m.wg.Done()
	}
	m.timer = nil
}

func (m *Manager) isCurrent(h *handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stopped && m.handle == h
}

func (m *Manager) emitStatus(s Status) {
	if m.hooks.OnStatus != nil {
		m.hooks.OnStatus(s)
	}
}

func (m *Manager) emitError(err error) {
	if m.hooks.OnError != nil {
		m.hooks.OnError(err)
	}
}
