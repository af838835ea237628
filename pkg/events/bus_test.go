package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryBusDeliversToSubscribers(t *testing.T) {
	b := NewInMemoryBus("")
	defer b.Close()
	require.Equal(t, DefaultTopic, b.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Publish([]byte(`{"v":1}`), map[string]string{"session_id": "s1"}))

	select {
	case msg := <-ch:
		require.Equal(t, `{"v":1}`, string(msg.Payload))
		require.Equal(t, "s1", msg.Metadata.Get("session_id"))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestInMemoryBusPublishWithoutSubscribers(t *testing.T) {
	b := NewInMemoryBus("custom.topic")
	require.Equal(t, "custom.topic", b.Topic())
	require.NoError(t, b.Publish([]byte("x"), nil))
	require.NoError(t, b.Close())
}

func TestNilBusIsInert(t *testing.T) {
	var b *Bus
	require.NoError(t, b.Publish([]byte("x"), nil))
	require.NoError(t, b.Close())
	_, err := b.Subscribe(context.Background())
	require.Error(t, err)
}

func TestRedisSettingsDefaults(t *testing.T) {
	s := RedisSettings{Enabled: true}.withDefaults()
	require.Equal(t, "localhost:6379", s.Addr)
	require.Equal(t, DefaultTopic, s.Stream)
	require.Equal(t, "agentchat-watch", s.Group)

	s = RedisSettings{Addr: "redis:6380", Stream: "chat"}.withDefaults()
	require.Equal(t, "redis:6380", s.Addr)
	require.Equal(t, "chat", s.Stream)
}

func TestNewBusWithoutRedisIsInMemory(t *testing.T) {
	b, err := NewBus(context.Background(), RedisSettings{Stream: "s"})
	require.NoError(t, err)
	defer b.Close()
	require.Nil(t, b.mirror)
	require.Equal(t, "s", b.Topic())
}
