package events

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTopic = "agentchat.session"

	localOutputBuffer = 64
)

// Bus carries session notifications. Local subscribers always read from an
// in-process channel; when a mirror is configured every message is also
// published there for external observers.
type Bus struct {
	topic  string
	local  *gochannel.GoChannel
	mirror message.Publisher
	// closers run after the publishers are closed, in order.
	closers []func() error
	logger  zerolog.Logger
}

// NewInMemoryBus returns a bus without an external mirror.
func NewInMemoryBus(topic string) *Bus {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	logger := log.With().Str("component", "events").Str("topic", topic).Logger()
	return &Bus{
		topic: topic,
		local: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: localOutputBuffer,
		}, NewWatermillLogger(logger)),
		logger: logger,
	}
}

// NewBus builds a bus from settings, adding a Redis Streams mirror when
// enabled.
func NewBus(ctx context.Context, s RedisSettings) (*Bus, error) {
	s = s.withDefaults()
	b := NewInMemoryBus(s.Stream)
	if !s.Enabled {
		return b, nil
	}
	client, err := newRedisClient(ctx, s.Addr)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	pub, err := newRedisPublisher(client, b.logger)
	if err != nil {
		_ = client.Close()
		_ = b.Close()
		return nil, errors.Wrap(err, "create redis publisher")
	}
	b.mirror = pub
	b.closers = append(b.closers, client.Close)
	b.logger.Info().Str("addr", s.Addr).Msg("mirroring session events to redis")
	return b, nil
}

func (b *Bus) Topic() string {
	return b.topic
}

// Publish sends payload to local subscribers and to the mirror, if any. A
// mirror failure does not prevent local delivery.
func (b *Bus) Publish(payload []byte, metadata map[string]string) error {
	if b == nil {
		return nil
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}

	var firstErr error
	if err := b.local.Publish(b.topic, msg.Copy()); err != nil {
		firstErr = errors.Wrap(err, "publish local")
	}
	if b.mirror != nil {
		if err := b.mirror.Publish(b.topic, msg.Copy()); err != nil {
			b.logger.Warn().Err(err).Msg("mirror publish failed")
			if firstErr == nil {
				firstErr = errors.Wrap(err, "publish mirror")
			}
		}
	}
	return firstErr
}

// Subscribe returns local messages. Consumers must Ack every message.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if b == nil {
		return nil, errors.New("events: bus is nil")
	}
	ch, err := b.local.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	return ch, nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.mirror != nil {
		keep(b.mirror.Close())
	}
	keep(b.local.Close())
	for _, c := range b.closers {
		keep(c())
	}
	return firstErr
}
