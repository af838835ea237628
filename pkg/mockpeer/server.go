// Package mockpeer implements a scripted conversational peer speaking the
// agentchat wire protocol. It answers every inbound text frame with an
// agent_change, the reply split into content fragments, and an end event.
// It is meant for local development and tests.
package mockpeer

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/agentchat/pkg/conversation"
)

const (
	DefaultAgent     = "Triage Agent"
	DefaultChunkSize = 4
)

type Config struct {
	Agent      string
	ChunkSize  int
	ChunkDelay time.Duration
	// Reply computes the full answer for a prompt. Defaults to an echo.
	Reply func(prompt string) string
}

func EchoReply(prompt string) string {
	return "You said: " + prompt
}

type peerConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peerConn) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	conns   map[*peerConn]struct{}
	prompts []string
	done    chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

func New(cfg Config) *Server {
	if strings.TrimSpace(cfg.Agent) == "" {
		cfg.Agent = DefaultAgent
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Reply == nil {
		cfg.Reply = EchoReply
	}
	return &Server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   log.With().Str("component", "mockpeer").Logger(),
		conns:    map[*peerConn]struct{}{},
		done:     make(chan struct{}),
	}
}

// Handler serves /ws and /chat.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/chat", s.ServeChat)
	return mux
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}
	pc := &peerConn{conn: conn}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[pc] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	wsLog := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	wsLog.Info().Msg("peer connected")

	go func() {
		defer s.wg.Done()
		defer s.remove(pc)
		defer wsLog.Info().Msg("peer disconnected")
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				wsLog.Debug().Err(err).Msg("read loop end")
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			prompt := string(data)
			s.mu.Lock()
			s.prompts = append(s.prompts, prompt)
			s.mu.Unlock()
			if err := s.stream(pc, prompt); err != nil {
				wsLog.Debug().Err(err).Msg("stream aborted")
				return
			}
		}
	}()
}

func (s *Server) stream(pc *peerConn, prompt string) error {
	frames := [][]byte{}
	add := func(ev conversation.Event) error {
		b, err := ev.Encode()
		if err != nil {
			return err
		}
		frames = append(frames, b)
		return nil
	}
	if err := add(conversation.Event{Type: conversation.EventAgentChange, Agent: s.cfg.Agent}); err != nil {
		return err
	}
	for _, chunk := range Split(s.cfg.Reply(prompt), s.cfg.ChunkSize) {
		if err := add(conversation.Event{Type: conversation.EventContent, Content: chunk}); err != nil {
			return err
		}
	}
	if err := add(conversation.Event{Type: conversation.EventEnd, Agent: s.cfg.Agent}); err != nil {
		return err
	}

	for i, f := range frames {
		if i > 0 && s.cfg.ChunkDelay > 0 {
			select {
			case <-s.done:
				return errors.New("server closed")
			case <-time.After(s.cfg.ChunkDelay):
			}
		}
		if err := pc.write(f); err != nil {
			return errors.Wrap(err, "write frame")
		}
	}
	return nil
}

// Split cuts text into chunks of at most size runes.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for len(runes) > 0 {
		n := size
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Response string `json:"response"`
	Agent    string `json:"agent"`
}

// ServeChat answers the request/response endpoint with a reply to the last
// user message.
func (s *Server) ServeChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	prompt := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == string(conversation.RoleUser) {
			prompt = req.Messages[i].Content
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(chatResponse{Response: s.cfg.Reply(prompt), Agent: s.cfg.Agent})
}

// Broadcast writes a raw frame to every connected client.
func (s *Server) Broadcast(frame []byte) {
	for _, pc := range s.snapshotConns() {
		if err := pc.write(frame); err != nil {
			s.logger.Warn().Err(err).Msg("broadcast failed, dropping connection")
			_ = pc.conn.Close()
		}
	}
}

// DropConnections hangs up on every client without a close frame, the way a
// crashing peer would.
func (s *Server) DropConnections() {
	for _, pc := range s.snapshotConns() {
		_ = pc.conn.Close()
	}
}

func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Prompts returns every frame received so far, in order.
func (s *Server) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Close disconnects all clients and waits for their goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) snapshotConns() []*peerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peerConn, 0, len(s.conns))
	for pc := range s.conns {
		out = append(out, pc)
	}
	return out
}

func (s *Server) remove(pc *peerConn) {
	s.mu.Lock()
	delete(s.conns, pc)
	s.mu.Unlock()
	_ = pc.conn.Close()
}
