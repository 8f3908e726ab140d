package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// redisChannel is the Redis pub/sub channel carrying all bus events.
const redisChannel = "caseflow.events"

// RedisBridge fans events out across service instances via Redis pub/sub.
// Publish goes to Redis; a background loop re-delivers received events onto
// the local Bus, so local subscribers see events from every instance.
type RedisBridge struct {
	client *redis.Client
	bus    *Bus
	logger zerolog.Logger
	sub    *redis.PubSub
	done   chan struct{}
}

// NewRedisBridge connects to Redis at redisURL and binds it to bus.
func NewRedisBridge(redisURL string, bus *Bus, logger zerolog.Logger) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBridge{
		client: redis.NewClient(opts),
		bus:    bus,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Start begins consuming events from Redis and re-publishing them locally.
func (rb *RedisBridge) Start(ctx context.Context) error {
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	rb.sub = rb.client.Subscribe(ctx, redisChannel)
	go rb.consume(ctx)
	return nil
}

func (rb *RedisBridge) consume(ctx context.Context) {
	ch := rb.sub.Channel()
	for {
		select {
		case <-rb.done:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				rb.logger.Warn().Err(err).Msg("dropping malformed bus event")
				continue
			}
			if err := rb.bus.Publish(ctx, event); err != nil {
				rb.logger.Error().Err(err).Str("topic", event.Topic).Msg("local redelivery failed")
			}
		}
	}
}

// Publish sends the event through Redis. Local delivery happens when the
// consume loop receives it back, keeping ordering identical on every
// instance.
func (rb *RedisBridge) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := rb.client.Publish(ctx, redisChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Close stops the consume loop and releases the Redis connection.
func (rb *RedisBridge) Close() error {
	close(rb.done)
	if rb.sub != nil {
		if err := rb.sub.Close(); err != nil {
			return err
		}
	}
	return rb.client.Close()
}
