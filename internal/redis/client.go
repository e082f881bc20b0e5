package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/openclaw/broadcast-server-go/internal/util"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// EventsChannel is the pub/sub channel carrying an owner's dispatch events.
func EventsChannel(owner string) string {
	return fmt.Sprintf("events:%s", owner)
}

// HandshakeNonceKey marks a handshake context as consumed.
func HandshakeNonceKey(nonce string) string {
	return fmt.Sprintf("handshake:nonce:%s", nonce)
}

// LoginRateKey scopes a login limit to one identifier. The identifier is
// hashed so phone numbers never appear in redis.
func LoginRateKey(step, identifier string) string {
	return fmt.Sprintf("login:%s:%s", step, util.HashToken(identifier))
}
