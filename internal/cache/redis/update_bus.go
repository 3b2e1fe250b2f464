package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tradesense/challenge/internal/domain"
)

// UpdateChannel carries committed challenge snapshots between processes.
const UpdateChannel = "challenge:updates"

const (
	publishTimeout   = 2 * time.Second
	publishQueueSize = 256
)

// ChallengeNotifier receives relayed updates.  Implemented by ws.Hub.
type ChallengeNotifier interface {
	NotifyChallenge(c *domain.Challenge)
}

// UpdateBus fans challenge updates out over Redis Pub/Sub so a mutation made
// by the back-office or another API replica reaches the replica holding the
// trader's WebSocket.  Updates are published by Run, one at a time, in the
// order NotifyChallenge queued them.
type UpdateBus struct {
	rdb    *redis.Client
	logger *slog.Logger
	queue  chan []byte
}

// NewUpdateBus creates an UpdateBus backed by the given Client.  Start Run
// before the first mutation.
func NewUpdateBus(c *Client, logger *slog.Logger) *UpdateBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateBus{rdb: c.rdb, logger: logger, queue: make(chan []byte, publishQueueSize)}
}

// NotifyChallenge queues c for publication.  It implements service.Notifier
// and never blocks: with a full queue the update is dropped and logged.
func (b *UpdateBus) NotifyChallenge(c *domain.Challenge) {
	payload, err := json.Marshal(c)
	if err != nil {
		b.logger.Error("update bus: marshal failed", "challenge_id", c.ID, "err", err)
		return
	}
	select {
	case b.queue <- payload:
	default:
		b.logger.Warn("update bus: queue full, update dropped", "challenge_id", c.ID)
	}
}

// Pending reports how many updates wait for Run.
func (b *UpdateBus) Pending() int { return len(b.queue) }

// Run publishes queued updates until ctx ends, then flushes what is left.
func (b *UpdateBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case payload := <-b.queue:
					b.publishQueued(payload)
				default:
					return
				}
			}
		case payload := <-b.queue:
			b.publishQueued(payload)
		}
	}
}

func (b *UpdateBus) publishQueued(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, UpdateChannel, payload).Err(); err != nil {
		b.logger.Warn("update bus: publish failed", "err", err)
	}
}

// Publish sends one snapshot synchronously.
func (b *UpdateBus) Publish(ctx context.Context, c *domain.Challenge) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("redis: marshal update: %w", err)
	}
	if err := b.rdb.Publish(ctx, UpdateChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", UpdateChannel, err)
	}
	return nil
}

// Relay subscribes to UpdateChannel and hands every snapshot to n until ctx
// ends.  It returns once the subscription is confirmed; delivery continues
// in the background.
func (b *UpdateBus) Relay(ctx context.Context, n ChallengeNotifier) error {
	pubsub := b.rdb.Subscribe(ctx, UpdateChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: subscribe %s: %w", UpdateChannel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var c domain.Challenge
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					b.logger.Warn("update bus: bad payload", "err", err)
					continue
				}
				n.NotifyChallenge(&c)
			}
		}
	}()
	return nil
}
