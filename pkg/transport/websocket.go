package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const closeGracePeriod = 250 * time.Millisecond

// WebsocketDialer opens gorilla websocket handles. Outbound frames are sent as
// text messages.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
	// PingInterval enables keepalive pings when > 0. The read deadline is pushed
	// out by two intervals on every pong; a missed deadline surfaces as a read
	// error.
	PingInterval time.Duration
}

var _ Dialer = (*WebsocketDialer)(nil)

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.DefaultDialer
	var header http.Header
	var pingInterval time.Duration
	if d != nil {
		if d.Dialer != nil {
			dialer = d.Dialer
		}
		header = d.Header
		pingInterval = d.PingInterval
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return newWSConn(conn, pingInterval), nil
}

type wsConn struct {
	conn         *websocket.Conn
	pingInterval time.Duration
	done         chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

func newWSConn(conn *websocket.Conn, pingInterval time.Duration) *wsConn {
	c := &wsConn{
		conn:         conn,
		pingInterval: pingInterval,
		done:         make(chan struct{}),
	}
	if pingInterval > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
		})
		go c.keepalive()
	}
	return c
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, errors.Wrapf(ErrRemoteClosed, "close code %d", ce.Code)
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) Write(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) keepalive() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.pingInterval)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("component", "transport").Msg("keepalive ping failed")
				_ = c.Close()
				return
			}
		}
	}
}
