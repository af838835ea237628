package conversation

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type EventType string

const (
	EventContent     EventType = "content"
	EventAgentChange EventType = "agent_change"
	EventEnd         EventType = "end"
)

var (
	ErrMalformedFrame = errors.New("conversation: malformed frame")
	ErrUnknownEvent   = errors.New("conversation: unknown event type")
)

// Event is one decoded inbound frame.
//
//	{"type":"content","content":"<fragment>"}
//	{"type":"agent_change","agent":"<label>"}
//	{"type":"end"} or {"type":"end","agent":"<label>"}
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Agent   string    `json:"agent,omitempty"`
}

type wireEvent struct {
	Type    EventType `json:"type"`
	Content *string   `json:"content,omitempty"`
	Agent   *string   `json:"agent,omitempty"`
}

// DecodeEvent parses a frame. Frames that are not JSON objects, that carry no
// type, or whose payload field is missing fail with ErrMalformedFrame; frames
// with a type we do not handle fail with ErrUnknownEvent.
func DecodeEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	switch w.Type {
	case EventContent:
		if w.Content == nil {
			return Event{}, errors.Wrap(ErrMalformedFrame, "content event without content")
		}
		return Event{Type: EventContent, Content: *w.Content}, nil
	case EventAgentChange:
		if w.Agent == nil {
			return Event{}, errors.Wrap(ErrMalformedFrame, "agent_change event without agent")
		}
		return Event{Type: EventAgentChange, Agent: *w.Agent}, nil
	case EventEnd:
		ev := Event{Type: EventEnd}
		if w.Agent != nil {
			ev.Agent = *w.Agent
		}
		return ev, nil
	case "":
		return Event{}, errors.Wrap(ErrMalformedFrame, "missing type")
	default:
		return Event{}, errors.Wrapf(ErrUnknownEvent, "%q", string(w.Type))
	}
}

// Encode is the inverse of DecodeEvent. It is used by peers and tests.
func (e Event) Encode() ([]byte, error) {
	w := wireEvent{Type: e.Type}
	switch e.Type {
	case EventContent:
		w.Content = &e.Content
	case EventAgentChange:
		w.Agent = &e.Agent
	case EventEnd:
		if e.Agent != "" {
			w.Agent = &e.Agent
		}
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%q", string(e.Type))
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "encode event")
	}
	return b, nil
}
