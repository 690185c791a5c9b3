package dispatch

import (
	"context"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/sage3/foresight/errors"
)

// Source yields raw result notifications one at a time. Receive blocks
// until a payload arrives, ctx is done, or the source is exhausted (io.EOF).
type Source interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// RedisSource reads results from a Redis pub/sub channel.
type RedisSource struct {
	channel string
	pubsub  *redis.PubSub
	msgs    <-chan *redis.Message
}

// NewRedisSource subscribes to channel and waits for the subscription to be
// confirmed, so no result published afterwards is missed.
func NewRedisSource(ctx context.Context, rdb *redis.Client, channel string) (*RedisSource, error) {
	pubsub := rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Transport("redis "+channel, err)
	}
	return &RedisSource{channel: channel, pubsub: pubsub, msgs: pubsub.Channel()}, nil
}

// Receive returns io.EOF once the subscription is closed. Reconnects to
// Redis are handled inside the pub/sub client.
func (s *RedisSource) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.msgs:
		if !ok {
			return nil, io.EOF
		}
		return []byte(msg.Payload), nil
	}
}

func (s *RedisSource) Close() error {
	return s.pubsub.Close()
}

// ChanSource adapts a Go channel; closing the channel ends the source.
type ChanSource struct {
	ch <-chan []byte
}

// NewChanSource wraps ch.
func NewChanSource(ch <-chan []byte) *ChanSource {
	return &ChanSource{ch: ch}
}

func (s *ChanSource) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return payload, nil
	}
}

func (s *ChanSource) Close() error { return nil }
