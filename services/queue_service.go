package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"raid-system/config"
	"raid-system/models"
	"raid-system/monitoring"
	"raid-system/status"
)

// QueueService is the producer side of the raid event stream plus the
// correlation/ack side channel. Any number of request handlers may call
// Submit and AwaitAck concurrently; all serialization happens on the
// consumer side.
type QueueService struct {
	Redis   *redis.Client
	Config  *config.Config
	monitor *monitoring.Monitor

	newID func() string

	mu         sync.Mutex
	groupReady bool
}

func NewQueueService(redisClient *redis.Client, cfg *config.Config, monitor *monitoring.Monitor) *QueueService {
	return &QueueService{
		Redis:   redisClient,
		Config:  cfg,
		monitor: monitor,
		newID:   uuid.NewString,
	}
}

// EnsureGroup creates the consumer group if it does not exist yet.
// Racing creators are fine: the second one gets BUSYGROUP, which we
// treat as success.
func (s *QueueService) EnsureGroup(ctx context.Context) error {
	err := s.Redis.XGroupCreateMkStream(ctx, s.Config.StreamKey, s.Config.GroupName, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group: %v", status.ErrTransport, err)
	}
	return nil
}

// ensureGroupOnce runs EnsureGroup the first time it succeeds and caches
// the outcome; a failed attempt is retried on the next Submit.
func (s *QueueService) ensureGroupOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groupReady {
		return nil
	}
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}
	s.groupReady = true
	return nil
}

// Submit appends one event to the stream and returns the correlation id
// the caller can wait on. The entry is durable once XADD returns. The
// consumer group is created first if this producer has not confirmed it
// yet: the group starts reading at "$", so an entry appended before the
// group exists would never be delivered.
func (s *QueueService) Submit(ctx context.Context, ev models.QueueEvent) (string, error) {
	if err := s.ensureGroupOnce(ctx); err != nil {
		return "", err
	}

	payload, err := models.EncodeQueueEvent(ev)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}

	cid := s.newID()
	err = s.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: s.Config.StreamKey,
		Values: []any{"cid", cid, "payload", string(payload)},
	}).Err()
	if err != nil {
		return "", fmt.Errorf("%w: xadd: %v", status.ErrTransport, err)
	}
	return cid, nil
}

// AwaitAck polls the ack key until the consumer publishes a result or the
// timeout lapses. A nil result with nil error means the outcome is not
// known yet. The write may still have succeeded, so callers re-read the
// authoritative participant state instead of assuming failure.
func (s *QueueService) AwaitAck(ctx context.Context, correlationID string, timeout time.Duration) (*models.AckResult, error) {
	started := time.Now()
	deadline := started.Add(timeout)

	for {
		val, err := s.Redis.Get(ctx, ackKey(correlationID)).Result()
		if err == nil {
			s.monitor.ObserveAckWait(time.Since(started))
			var ack models.AckResult
			if jsonErr := json.Unmarshal([]byte(val), &ack); jsonErr != nil {
				return nil, nil
			}
			return &ack, nil
		}
		// redis.Nil and transient read failures both mean "no ack yet";
		// keep polling until the deadline.
		if !time.Now().Before(deadline) {
			s.monitor.ObserveAckWait(time.Since(started))
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Config.AckPollStep):
		}
	}
}

// PublishAck records the consumer's outcome under the correlation id.
// The short TTL is all the durability this needs: the relational store
// is authoritative, the ack only exists to give the producer a
// synchronous-feeling answer.
func (s *QueueService) PublishAck(ctx context.Context, correlationID string, ack models.AckResult) error {
	payload, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("encode ack: %w", err)
	}
	if err := s.Redis.Set(ctx, ackKey(correlationID), payload, s.Config.AckTTL).Err(); err != nil {
		return fmt.Errorf("%w: set ack: %v", status.ErrTransport, err)
	}
	return nil
}

func ackKey(correlationID string) string {
	return "raid_ack:" + correlationID
}
