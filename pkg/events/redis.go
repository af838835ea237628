package events

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedisSettings configures the optional Redis Streams mirror.
type RedisSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func DefaultRedisSettings() RedisSettings {
	return RedisSettings{
		Addr:     "localhost:6379",
		Stream:   DefaultTopic,
		Group:    "agentchat-watch",
		Consumer: "watch-1",
	}
}

func (s RedisSettings) withDefaults() RedisSettings {
	d := DefaultRedisSettings()
	if strings.TrimSpace(s.Addr) == "" {
		s.Addr = d.Addr
	}
	if strings.TrimSpace(s.Stream) == "" {
		s.Stream = d.Stream
	}
	if strings.TrimSpace(s.Group) == "" {
		s.Group = d.Group
	}
	if strings.TrimSpace(s.Consumer) == "" {
		s.Consumer = d.Consumer
	}
	return s
}

func newRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	return client, nil
}

func newRedisPublisher(client redis.UniversalClient, logger zerolog.Logger) (message.Publisher, error) {
	return rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, NewWatermillLogger(logger))
}

// RedisSubscription is a consumer-group subscription to the mirrored stream.
type RedisSubscription struct {
	Subscriber message.Subscriber
	Stream     string
	client     *redis.Client
}

// NewRedisSubscription connects to the mirror stream as s.Group/s.Consumer.
// The group is created at the stream tail so observers only see new
// snapshots.
func NewRedisSubscription(ctx context.Context, s RedisSettings) (*RedisSubscription, error) {
	s = s.withDefaults()
	client, err := newRedisClient(ctx, s.Addr)
	if err != nil {
		return nil, err
	}
	if err := ensureGroupAtTail(ctx, client, s.Stream, s.Group); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger := log.With().Str("component", "events").Str("stream", s.Stream).Logger()
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, NewWatermillLogger(logger))
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis subscriber")
	}
	return &RedisSubscription{Subscriber: sub, Stream: s.Stream, client: client}, nil
}

func (r *RedisSubscription) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return r.Subscriber.Subscribe(ctx, r.Stream)
}

func (r *RedisSubscription) Close() error {
	err := r.Subscriber.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func ensureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("component", "events").Str("stream", stream).Str("group", group).Msg("created redis consumer group at tail")
	return nil
}
