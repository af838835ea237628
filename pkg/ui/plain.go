package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/agentchat/pkg/conversation"
	"github.com/go-go-golems/agentchat/pkg/session"
	"github.com/go-go-golems/agentchat/pkg/transport"
)

// drainIdle is how long RunPlain waits for the stream to go quiet after its
// input is exhausted.
const drainIdle = time.Second

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}

// plainPrinter streams snapshots to a writer as text: status transitions on
// their own lines and assistant content as it grows.
type plainPrinter struct {
	w       io.Writer
	status  transport.Status
	agent   string
	current string
	printed int
	lastSeq uint64
}

func (p *plainPrinter) apply(s session.Snapshot) {
	if s.ConnectionStatus != p.status {
		p.endLine()
		p.status = s.ConnectionStatus
		fmt.Fprintf(p.w, "[%s]\n", s.ConnectionStatus)
	}
	if s.ActiveAgent != "" && s.ActiveAgent != p.agent {
		p.endLine()
		p.agent = s.ActiveAgent
		fmt.Fprintf(p.w, "[agent: %s]\n", s.ActiveAgent)
	}
	if len(s.Messages) == 0 {
		p.endLine()
		p.lastSeq = 0
		return
	}
	for _, msg := range s.Messages {
		if msg.Role != conversation.RoleAssistant {
			if msg.Seq > p.lastSeq {
				p.endLine()
				p.lastSeq = msg.Seq
			}
			continue
		}
		if msg.ID != p.current {
			if msg.Seq <= p.lastSeq {
				continue
			}
			p.endLine()
			p.current = msg.ID
			p.printed = 0
			p.lastSeq = msg.Seq
			fmt.Fprint(p.w, "< ")
		}
		if len(msg.Content) > p.printed {
			fmt.Fprint(p.w, msg.Content[p.printed:])
			p.printed = len(msg.Content)
		}
	}
}

func (p *plainPrinter) endLine() {
	if p.current != "" {
		fmt.Fprintln(p.w)
		p.current = ""
		p.printed = 0
	}
}

// RunPlain reads one message per input line and prints the conversation as
// it streams. Once in is exhausted it waits for the reply stream to go quiet,
// then returns. It also returns when ctx is done.
func RunPlain(ctx context.Context, chat Chat, in io.Reader, out io.Writer) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, err := chat.Subscribe(subCtx)
	if err != nil {
		return errors.Wrap(err, "subscribe to session")
	}
	w := &lockedWriter{w: out}

	activity := make(chan struct{}, 1)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		p := &plainPrinter{w: w}
		for s := range updates {
			p.apply(s)
			select {
			case activity <- struct{}{}:
			default:
			}
		}
		p.endLine()
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-subCtx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	defer func() {
		cancel()
		<-printed
	}()
	sent := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return errors.Wrap(err, "read input")
					}
				default:
					return nil
				}
				if !sent {
					return nil
				}
				return waitQuiet(ctx, chat, activity)
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := chat.SendMessage(line); err != nil {
				if errors.Is(err, conversation.ErrNotConnected) {
					fmt.Fprintln(w, "[not connected, message not sent]")
					continue
				}
				return err
			}
			sent = true
		}
	}
}

// waitQuiet returns once no reply is pending and no snapshot arrived for
// drainIdle.
func waitQuiet(ctx context.Context, chat Chat, activity <-chan struct{}) error {
	timer := time.NewTimer(drainIdle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(drainIdle)
		case <-timer.C:
			if !chat.Snapshot().AwaitingResponse {
				return nil
			}
			timer.Reset(drainIdle)
		}
	}
}
