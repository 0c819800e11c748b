package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"xficredit/core/events"
	"xficredit/core/types"
	"xficredit/observability"
)

const sinkName = "redis"

// ErrBufferFull is recorded when an event is dropped because the publish
// queue is saturated.
var ErrBufferFull = errors.New("publisher: buffer full")

// Client is the subset of the Redis client the publisher needs.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Message is the JSON payload published for each event.
type Message struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Publisher fans ledger events out to a Redis channel. Emit never blocks the
// emitting ledger: events are queued and published by Run.
type Publisher struct {
	client  Client
	channel string
	queue   chan *types.Event
	dropped atomic.Uint64
	logger  *slog.Logger
	metrics *observability.EventMetricsRegistry
}

// NewRedis connects to addr.
func NewRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// New builds a publisher writing to channel with a queue of buffer events.
func New(client Client, channel string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{
		client:  client,
		channel: channel,
		queue:   make(chan *types.Event, buffer),
		logger:  slog.Default(),
		metrics: observability.Events(),
	}
}

// SetLogger overrides the structured logger.
func (p *Publisher) SetLogger(logger *slog.Logger) {
	if p == nil || logger == nil {
		return
	}
	p.logger = logger
}

// Emit implements events.Emitter.
func (p *Publisher) Emit(evt events.Event) {
	if p == nil || evt == nil {
		return
	}
	select {
	case p.queue <- events.Flatten(evt):
	default:
		p.dropped.Add(1)
		p.metrics.RecordDelivery(sinkName, ErrBufferFull)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	if p == nil {
		return 0
	}
	return p.dropped.Load()
}

// Run publishes queued events until ctx is cancelled, then drains what is
// already queued.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case evt := <-p.queue:
			p.publish(ctx, evt)
		case <-ctx.Done():
			p.drain()
			return nil
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case evt := <-p.queue:
			p.publish(context.Background(), evt)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, evt *types.Event) {
	payload, err := json.Marshal(Message{Type: evt.Type, Attributes: evt.Attributes})
	if err == nil {
		err = p.client.Publish(ctx, p.channel, payload).Err()
	}
	p.metrics.RecordDelivery(sinkName, err)
	if err != nil {
		p.logger.Warn("event publish failed", "type", evt.Type, "channel", p.channel, "error", err)
	}
}
