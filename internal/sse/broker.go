package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/broadcast-server-go/internal/model"
	redisclient "github.com/openclaw/broadcast-server-go/internal/redis"
	"github.com/openclaw/broadcast-server-go/internal/util"
)

const (
	HeartbeatInterval = 30 * time.Second

	EventConnected      = "connected"
	EventDispatchReport = "dispatch_report"

	clientBuffer = 32
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Owner  string
	Events chan Event
	Done   chan struct{}
}

// Broker fans dispatch events out to dashboard connections. Events travel
// through redis pub/sub so any instance can serve any owner.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // owner -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(owner string) *Client {
	client := &Client{
		Owner:  owner,
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[owner] == nil {
		b.clients[owner] = make(map[*Client]bool)
		go b.subscribeToRedis(owner)
	}
	b.clients[owner][client] = true
	clientCount := len(b.clients[owner])
	b.mu.Unlock()

	log.Info().
		Str("owner", util.MaskIdentifier(owner)).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.Owner]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)

	if len(clients) == 0 {
		delete(b.clients, client.Owner)
	}

	log.Info().
		Str("owner", util.MaskIdentifier(client.Owner)).
		Int("clientCount", len(clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, owner string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.EventsChannel(owner), data).Err()
}

// ScheduleProcessed publishes a dispatch_report event to the schedule owner.
func (b *Broker) ScheduleProcessed(ctx context.Context, report model.ScheduleReport) {
	event, err := NewEvent(EventDispatchReport, report)
	if err == nil {
		err = b.Publish(ctx, report.Owner, event)
	}
	if err != nil {
		log.Warn().Err(err).Str("scheduleId", report.ScheduleID).Msg("failed to publish dispatch event")
	}
}

func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

func (b *Broker) subscribeToRedis(owner string) {
	channel := redisclient.EventsChannel(owner)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			if !b.broadcast(owner, event) {
				return
			}
		}
	}
}

// broadcast delivers to every local client of owner. It reports false once
// the owner has no clients left, which ends the redis subscription.
func (b *Broker) broadcast(owner string, event Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	clients, ok := b.clients[owner]
	if !ok {
		return false
	}
	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("owner", util.MaskIdentifier(owner)).
				Msg("client event buffer full, dropping event")
		}
	}
	return true
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
