package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "session:"
	publishTimeout = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance fan-out.
// Origin is the sending socket id so the origin instance can skip it.
type redisPayload struct {
	Event  string          `json:"event"`
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data"`
	At     int64           `json:"at"`
}

// RedisPubSub bridges session events across instances over Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// PublishSessionEvent publishes an event to the session's Redis channel.
func (r *RedisPubSub) PublishSessionEvent(sessionID, origin, event string, payload []byte) error {
	channel := channelPrefix + sessionID
	body, err := json.Marshal(redisPayload{Event: event, Origin: origin, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channel, body).Err()
}

// SubscribeSession subscribes to a session's Redis channel and calls handler
// for each message. Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeSession(sessionID string, handler func(origin, event string, payload []byte)) (cancel func(), err error) {
	channel := channelPrefix + sessionID
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	_, err = pubsub.Receive(ctx)
	if err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Warn("malformed session event", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(p.Origin, p.Event, p.Data)
			}
		}
	}()
	cancel = func() { cancelCtx() }
	return cancel, nil
}
