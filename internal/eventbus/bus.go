// Package eventbus implements the consensus pipeline's event fan-out
// (spec.md §4.G): per-conversation subscriber channels, non-blocking
// publish with drop-on-full, and an optional Redis Streams fan-out so a
// gateway process can subscribe to events published by a separate worker
// process. Grounded directly on internal/streaming/manager.go's Manager.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/metrics"
)

// EventType enumerates the taxonomy from spec.md §4.G.
type EventType string

const (
	EventProfileLoaded    EventType = "profile_loaded"
	EventStageStarted     EventType = "stage_started"
	EventStageChunk       EventType = "stage_chunk"
	EventStageProgress    EventType = "stage_progress"
	EventStageCompleted   EventType = "stage_completed"
	EventStageError       EventType = "stage_error"
	EventD1Authorization  EventType = "d1_authorization"
	EventCompleted        EventType = "completed"
	EventCancelled        EventType = "cancelled"
	EventAnalyticsRefresh EventType = "analytics_refresh"
	EventError            EventType = "error"
)

// Event is one item in the taxonomy, carrying whichever fields its type
// uses. Unused fields are left zero.
type Event struct {
	ConversationID string                 `json:"conversation_id"`
	Type           EventType              `json:"type"`
	Stage          string                 `json:"stage,omitempty"`
	Chunk          string                 `json:"chunk,omitempty"`
	RunningTotal   string                 `json:"running_total,omitempty"`
	Pct            float64                `json:"pct,omitempty"`
	Tokens         int                    `json:"tokens,omitempty"`
	Cost           float64                `json:"cost,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Remaining      int                    `json:"remaining,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Seq            uint64                 `json:"seq"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Marshal returns the event as JSON for SSE framing or Redis field values.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// passthroughTypes bypass the stage_chunk throttle entirely, matching
// the teacher's isCriticalEvent always-deliver carve-out.
func passthrough(t EventType) bool {
	switch t {
	case EventStageStarted, EventStageError, EventStageCompleted, EventCompleted, EventCancelled, EventError:
		return true
	default:
		return false
	}
}

// subscriberChannelCapacity matches spec.md §5's bounded-channel requirement.
const subscriberChannelCapacity = 100

type subscription struct {
	cancel context.CancelFunc
}

// Bus fans out events per conversation ID. All methods are goroutine-safe.
type Bus struct {
	mu          sync.RWMutex
	redis       *redis.Client
	subscribers map[string]map[chan Event]*subscription
	seq         map[string]*uint64
	seqMu       sync.Mutex
	throttles   map[string]*stageThrottle
	throttleMu  sync.Mutex
	logger      *zap.Logger
	shutdownCh  chan struct{}
	wg          sync.WaitGroup
}

// New builds a Bus. A nil redisClient keeps the bus in-process only.
func New(redisClient *redis.Client, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		redis:       redisClient,
		subscribers: make(map[string]map[chan Event]*subscription),
		seq:         make(map[string]*uint64),
		throttles:   make(map[string]*stageThrottle),
		logger:      logger,
		shutdownCh:  make(chan struct{}),
	}
}

func (b *Bus) streamKey(conversationID string) string {
	return fmt.Sprintf("consensus:events:%s", conversationID)
}

// Subscribe returns a bounded channel of events for conversationID. The
// caller must drain it and call Unsubscribe; the bus owns channel closing.
func (b *Bus) Subscribe(conversationID string) chan Event {
	ch := make(chan Event, subscriberChannelCapacity)
	ctx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	subs := b.subscribers[conversationID]
	if subs == nil {
		subs = make(map[chan Event]*subscription)
		b.subscribers[conversationID] = subs
	}
	subs[ch] = &subscription{cancel: cancel}
	b.mu.Unlock()

	if b.redis != nil {
		b.wg.Add(1)
		go b.streamReader(ctx, conversationID, ch)
	}

	return ch
}

// Unsubscribe removes the channel; the reader (if any) closes it after
// cancellation. In-process-only subscribers are closed immediately.
func (b *Bus) Unsubscribe(conversationID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	sub, ok := subs[ch]
	if !ok {
		return
	}
	sub.cancel()
	delete(subs, ch)
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}
	if b.redis == nil {
		close(ch)
	}
}

func (b *Bus) nextSeq(conversationID string) uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	counter, ok := b.seq[conversationID]
	if !ok {
		var zero uint64
		counter = &zero
		b.seq[conversationID] = counter
	}
	*counter++
	return *counter
}

// Publish delivers evt to every local subscriber and, if configured, to
// the Redis stream for cross-process subscribers. stage_chunk events pass
// through the per-stage throttle first (see ThrottledPublish); callers
// that want the throttle should call that instead of Publish directly.
func (b *Bus) Publish(conversationID string, evt Event) {
	evt.ConversationID = conversationID
	evt.Seq = b.nextSeq(conversationID)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	if b.redis != nil {
		b.publishRedis(conversationID, evt)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.subscribers[conversationID]
	for ch := range subs {
		select {
		case ch <- evt:
		default:
			metrics.EventsDropped.WithLabelValues(string(evt.Type)).Inc()
			b.logger.Warn("eventbus: dropped event, subscriber channel full",
				zap.String("conversation_id", conversationID),
				zap.String("type", string(evt.Type)))
		}
	}
}

func (b *Bus) publishRedis(conversationID string, evt Event) {
	ctx := context.Background()
	streamKey := b.streamKey(conversationID)
	var payloadJSON string
	if evt.Payload != nil {
		if raw, err := json.Marshal(evt.Payload); err == nil {
			payloadJSON = string(raw)
		}
	}
	_, err := b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(evt.Marshal()),
			"seq":  strconv.FormatUint(evt.Seq, 10),
		},
	}).Result()
	if err != nil {
		b.logger.Error("eventbus: failed to publish to redis stream",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	b.redis.Expire(ctx, streamKey, 1*time.Hour)
}

func (b *Bus) streamReader(ctx context.Context, conversationID string, ch chan Event) {
	defer b.wg.Done()
	defer close(ch)

	streamKey := b.streamKey(conversationID)
	lastID := "0-0"
	retryDelay := time.Second
	const maxRetryDelay = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.shutdownCh:
			return
		default:
		}

		result, err := b.redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   10,
			Block:   5 * time.Second,
		}).Result()

		if err == redis.Nil {
			retryDelay = time.Second
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-time.After(retryDelay):
				if retryDelay*2 < maxRetryDelay {
					retryDelay *= 2
				} else {
					retryDelay = maxRetryDelay
				}
			case <-ctx.Done():
				return
			case <-b.shutdownCh:
				return
			}
			continue
		}

		retryDelay = time.Second
		for _, stream := range result {
			for _, message := range stream.Messages {
				lastID = message.ID
				raw, ok := message.Values["data"].(string)
				if !ok {
					continue
				}
				var evt Event
				if err := json.Unmarshal([]byte(raw), &evt); err != nil {
					continue
				}
				select {
				case ch <- evt:
				default:
					metrics.EventsDropped.WithLabelValues(string(evt.Type)).Inc()
					b.logger.Warn("eventbus: dropped event, subscriber channel full",
						zap.String("conversation_id", conversationID),
						zap.String("type", string(evt.Type)))
				}
			}
		}
	}
}

// Shutdown cancels all subscriptions and waits for Redis reader goroutines
// to exit, up to ctx's deadline.
func (b *Bus) Shutdown(ctx context.Context) error {
	close(b.shutdownCh)

	b.mu.Lock()
	for conversationID, subs := range b.subscribers {
		for ch, sub := range subs {
			sub.cancel()
			delete(subs, ch)
		}
		delete(b.subscribers, conversationID)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
