package repository

import (
	"context"
	"sync"
	"time"

	redisclient "github.com/openclaw/broadcast-server-go/internal/redis"
)

// ChallengeLedger records consumed handshake nonces so that a handshake
// context can be redeemed at most once.
type ChallengeLedger interface {
	// Consume marks nonce as used. It returns false if it was already used.
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

type redisLedger struct {
	client *redisclient.Client
}

func NewRedisChallengeLedger(client *redisclient.Client) ChallengeLedger {
	return &redisLedger{client: client}
}

func (l *redisLedger) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, redisclient.HandshakeNonceKey(nonce), 1, ttl).Result()
}

type memoryLedger struct {
	mu      sync.Mutex
	used    map[string]time.Time
	nowFunc func() time.Time
}

// NewMemoryChallengeLedger keeps nonces in process memory. It only protects a
// single instance and is meant for tests and local runs.
func NewMemoryChallengeLedger() ChallengeLedger {
	return &memoryLedger{used: make(map[string]time.Time), nowFunc: time.Now}
}

func (l *memoryLedger) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	for n, exp := range l.used {
		if now.After(exp) {
			delete(l.used, n)
		}
	}

	if _, ok := l.used[nonce]; ok {
		return false, nil
	}
	l.used[nonce] = now.Add(ttl)
	return true, nil
}
