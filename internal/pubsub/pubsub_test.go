package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"#", "anything/at/all", true},
		{"+/b", "x/b", true},
		{"a/b/c", "a/b", false},
	}
	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.filter, tt.topic))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, ValidateTopic("a/b"))
	assert.ErrorIs(t, ValidateTopic(""), ErrInvalidTopic)
	assert.ErrorIs(t, ValidateTopic("a/+"), ErrInvalidTopic)

	assert.NoError(t, ValidateFilter("a/+/c/#"))
	assert.ErrorIs(t, ValidateFilter(""), ErrInvalidFilter)
	assert.ErrorIs(t, ValidateFilter("a/#/c"), ErrInvalidFilter)
	assert.ErrorIs(t, ValidateFilter("a/b+"), ErrInvalidFilter)
}

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *collector) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Topic
	}
	return out
}

func TestWatermillBridge_PublishSubscribe(t *testing.T) {
	bus := NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	sensors := &collector{}
	all := &collector{}
	subA, err := bus.Subscribe(ctx, "sensors/+", sensors.handle)
	require.NoError(t, err)
	subB, err := bus.Subscribe(ctx, "#", all.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "sensors/temp", []byte("21")))
	require.NoError(t, bus.Publish(ctx, "logs/app", []byte("hello")))

	require.Eventually(t, func() bool { return len(all.topics()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"sensors/temp"}, sensors.topics())

	require.NoError(t, subA.Unsubscribe())
	require.NoError(t, subA.Unsubscribe(), "second unsubscribe is harmless")

	require.NoError(t, bus.Publish(ctx, "sensors/humidity", []byte("40")))
	require.Eventually(t, func() bool { return len(all.topics()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Len(t, sensors.topics(), 1)

	require.NoError(t, subB.Unsubscribe())
}

func TestWatermillBridge_SubscriptionOutlivesRequestContext(t *testing.T) {
	bus := NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	sub, err := bus.Subscribe(ctx, "a", c.handle)
	require.NoError(t, err)
	cancel()

	require.NoError(t, bus.Publish(context.Background(), "a", []byte("x")))
	require.Eventually(t, func() bool { return len(c.topics()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Unsubscribe())
}

func TestWatermillBridge_RejectsInvalidInput(t *testing.T) {
	bus := NewWatermillBridge()
	t.Cleanup(func() { _ = bus.Close() })
	ctx := context.Background()

	_, err := bus.Subscribe(ctx, "a/#/b", func(context.Context, Message) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidFilter)
	assert.ErrorIs(t, bus.Publish(ctx, "a/#", nil), ErrInvalidTopic)
}
