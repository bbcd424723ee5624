package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisRelay publishes events on a Redis channel and feeds every event seen on
// that channel into the local Broker, so subscribers on any instance see
// events raised on any other.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	broker  *Broker
	logger  *slog.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string, broker *Broker, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: channel, broker: broker, logger: logger}
}

// Publish sends ev through Redis. If Redis is unreachable the event is still
// delivered to local subscribers.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encoding event failed", "type", ev.Type, "error", err)
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		r.logger.Warn("redis publish failed, delivering locally",
			"type", ev.Type, "session_id", ev.SessionID, "error", err)
		r.broker.deliver(ev.SessionID, data)
	}
}

// Run subscribes to the relay channel and forwards messages to the Broker
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.logger.Info("relaying events", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) handle(payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warn("dropping malformed relay message", "error", err)
		return
	}
	if ev.SessionID == "" {
		r.logger.Warn("dropping relay message without session", "type", ev.Type)
		return
	}
	r.broker.deliver(ev.SessionID, payload)
}
