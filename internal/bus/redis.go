package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// channelPrefix namespaces conversation channels inside the Redis keyspace.
const channelPrefix = "chat."

// RedisBus fans events out across process instances via Redis pub/sub. Every
// instance publishes committed writes to the conversation's channel and each
// local subscriber receives them, so clients connected to different instances
// see the same stream.
type RedisBus struct {
	client *redis.Client
	buffer int
	root   context.Context
	stop   context.CancelFunc
}

// NewRedisBus wraps an established Redis client. The caller owns the client's
// lifecycle; Close stops subscription loops but does not close the client.
func NewRedisBus(client *redis.Client, buffer int) *RedisBus {
	if buffer <= 0 {
		buffer = 16
	}
	root, stop := context.WithCancel(context.Background())
	return &RedisBus{client: client, buffer: buffer, root: root, stop: stop}
}

func channel(conversationID string) string {
	return channelPrefix + conversationID
}

// Publish marshals ev and publishes it on the conversation's channel.
func (b *RedisBus) Publish(ctx context.Context, conversationID string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel(conversationID), payload).Err()
}

// Subscribe opens a Redis subscription on the conversation's channel and
// decodes incoming payloads onto the returned Subscription. Undecodable
// payloads are logged and skipped.
func (b *RedisBus) Subscribe(ctx context.Context, conversationID string) (*Subscription, error) {
	ch := channel(conversationID)
	ps := b.client.Subscribe(ctx, ch)
	// Force the SUBSCRIBE round trip so a dead broker surfaces here instead
	// of as a silent event drought.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Event, b.buffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-b.root.Done():
				return
			case <-done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn().Err(err).Str("channel", ch).Msg("bus: dropping undecodable payload")
					continue
				}
				select {
				case out <- ev:
				default:
					// Subscriber is not draining; drop rather than stall the loop.
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { close(done) })
		_ = ps.Close()
	}
	return &Subscription{C: out, cancel: cancel}, nil
}

// Close stops every subscription loop started by this bus.
func (b *RedisBus) Close() error {
	b.stop()
	return nil
}
