package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/mycelicmemory/memcore/internal/logging"
)

var log = logging.GetLogger("eventbus")

// RedisMirror forwards Pulses from a Bus subscription to a Redis pub/sub
// channel, for consumers outside this process. It is a pure sink: per
// spec §7 propagation policy, pulse delivery errors are always
// swallowed (logged, never returned) so a Redis outage cannot affect
// in-process state mutation.
type RedisMirror struct {
	client  *redis.Client
	channel string
	cancel  func()
}

// NewRedisMirror subscribes to bus and republishes every pulse (as
// JSON) to channel on client until the returned mirror is stopped.
func NewRedisMirror(bus *Bus, client *redis.Client, channel string) *RedisMirror {
	ch, unsubscribe := bus.Subscribe(defaultBufferSize)
	ctx, cancel := context.WithCancel(context.Background())

	m := &RedisMirror{client: client, channel: channel, cancel: func() {
		cancel()
		unsubscribe()
	}}

	go m.run(ctx, ch)
	return m
}

func (m *RedisMirror) run(ctx context.Context, ch <-chan Pulse) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			m.publish(ctx, p)
		}
	}
}

func (m *RedisMirror) publish(ctx context.Context, p Pulse) {
	payload, err := json.Marshal(p)
	if err != nil {
		log.Warn("mirror pulse marshal failed", "error", err)
		return
	}
	if err := m.client.Publish(ctx, m.channel, payload).Err(); err != nil {
		log.Warn("mirror pulse publish failed", "error", err)
	}
}

// Stop ends the mirror's subscription and background goroutine.
func (m *RedisMirror) Stop() {
	m.cancel()
}
