package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishSubscribeInProcess(t *testing.T) {
	bus := New(nil, zap.NewNop())
	ch := bus.Subscribe("conv-1")
	defer bus.Unsubscribe("conv-1", ch)

	bus.Publish("conv-1", Event{Type: EventStageStarted, Stage: "generator"})

	select {
	case evt := <-ch:
		assert.Equal(t, EventStageStarted, evt.Type)
		assert.Equal(t, "generator", evt.Stage)
		assert.Equal(t, uint64(1), evt.Seq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsWhenSubscriberChannelFull(t *testing.T) {
	bus := New(nil, zap.NewNop())
	ch := bus.Subscribe("conv-full")
	defer bus.Unsubscribe("conv-full", ch)

	for i := 0; i < subscriberChannelCapacity+10; i++ {
		bus.Publish("conv-full", Event{Type: EventStageProgress})
	}

	// Channel should be full but not block; draining it yields at most
	// capacity entries.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			assert.LessOrEqual(t, drained, subscriberChannelCapacity)
			return
		}
	}
}

func TestThrottledPublishCoalescesStageChunks(t *testing.T) {
	bus := New(nil, zap.NewNop())
	ch := bus.Subscribe("conv-throttle")
	defer bus.Unsubscribe("conv-throttle", ch)

	for i := 0; i < 20; i++ {
		bus.ThrottledPublish("conv-throttle", Event{
			Type:         EventStageChunk,
			Stage:        "refiner",
			RunningTotal: "partial output growing",
		})
	}

	select {
	case evt := <-ch:
		assert.Equal(t, EventStageChunk, evt.Type)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("throttle never flushed a chunk event")
	}

	select {
	case <-ch:
		t.Fatal("expected only one coalesced chunk event, got a second")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestThrottledPublishAlwaysForwardsStageCompleted(t *testing.T) {
	bus := New(nil, zap.NewNop())
	ch := bus.Subscribe("conv-passthrough")
	defer bus.Unsubscribe("conv-passthrough", ch)

	bus.ThrottledPublish("conv-passthrough", Event{Type: EventStageCompleted, Stage: "validator", Cost: 0.002})
	bus.ThrottledPublish("conv-passthrough", Event{Type: EventStageError, Stage: "curator", Message: "boom"})

	first := <-ch
	second := <-ch
	assert.Equal(t, EventStageCompleted, first.Type)
	assert.Equal(t, EventStageError, second.Type)
}

func TestRedisFanOutAcrossProcesses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	publisher := New(redisClient, zap.NewNop())
	subscriber := New(redisClient, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := subscriber.Subscribe("conv-redis")
	defer subscriber.Unsubscribe("conv-redis", ch)

	publisher.Publish("conv-redis", Event{Type: EventCompleted})

	select {
	case evt := <-ch:
		assert.Equal(t, EventCompleted, evt.Type)
	case <-ctx.Done():
		t.Fatal("timed out waiting for cross-process event")
	}
}
