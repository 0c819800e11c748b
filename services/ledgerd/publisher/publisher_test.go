package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"xficredit/core/types"
)

type payloadEvent struct {
	kind  string
	attrs map[string]string
}

func (e payloadEvent) EventType() string { return e.kind }

func (e payloadEvent) Event() *types.Event {
	return &types.Event{Type: e.kind, Attributes: e.attrs}
}

type fakeClient struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	fail     error
}

func (c *fakeClient) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return redis.NewIntResult(0, c.fail)
	}
	c.channels = append(c.channels, channel)
	c.messages = append(c.messages, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func TestRunPublishesQueuedEvents(t *testing.T) {
	client := &fakeClient{}
	pub := New(client, "xfi.events", 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	pub.Emit(payloadEvent{kind: "yield.deposited", attrs: map[string]string{"amount": "1000"}})
	require.Eventually(t, func() bool { return client.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var msg Message
	require.NoError(t, json.Unmarshal(client.messages[0], &msg))
	require.Equal(t, "yield.deposited", msg.Type)
	require.Equal(t, "1000", msg.Attributes["amount"])
	require.Equal(t, "xfi.events", client.channels[0])
}

func TestEmitDropsWhenFull(t *testing.T) {
	pub := New(&fakeClient{}, "c", 1)
	pub.Emit(payloadEvent{kind: "a"})
	pub.Emit(payloadEvent{kind: "b"})
	pub.Emit(nil)
	require.Equal(t, uint64(1), pub.Dropped())
}

func TestRunDrainsOnShutdown(t *testing.T) {
	client := &fakeClient{}
	pub := New(client, "c", 4)
	pub.Emit(payloadEvent{kind: "a"})
	pub.Emit(payloadEvent{kind: "b"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, pub.Run(ctx))
	require.Equal(t, 2, client.count())
}

func TestPublishFailureDoesNotStop(t *testing.T) {
	client := &fakeClient{fail: errors.New("connection refused")}
	pub := New(client, "c", 4)
	pub.Emit(payloadEvent{kind: "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, pub.Run(ctx))
	require.Equal(t, 0, client.count())
}
