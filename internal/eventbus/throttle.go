package eventbus

import (
	"sync"
	"time"
)

// chunkThrottleInterval matches spec.md §4.G's 10 Hz stage_chunk cap.
const chunkThrottleInterval = 100 * time.Millisecond

// stageThrottle coalesces stage_chunk publishes for one (conversation,
// stage) pair down to 10 Hz, retaining only the latest running_total
// between ticks. Grounded on the teacher's persistWorker ticker-based
// batching, adapted from batched DB writes to batched subscriber sends.
type stageThrottle struct {
	mu      sync.Mutex
	pending *Event
	timer   *time.Timer
	fire    func(Event)
}

func newStageThrottle(fire func(Event)) *stageThrottle {
	return &stageThrottle{fire: fire}
}

// Offer records evt as the latest pending chunk for this stage, flushing
// immediately if no flush is currently scheduled and scheduling one
// otherwise. Only the most recent running_total survives between flushes.
func (s *stageThrottle) Offer(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = &evt
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(chunkThrottleInterval, s.flush)
}

func (s *stageThrottle) flush() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	if pending != nil {
		s.fire(*pending)
	}
}

func throttleKey(conversationID, stage string) string {
	return conversationID + "|" + stage
}

// ThrottledPublish rate-limits stage_chunk events to 10 Hz per
// (conversation, stage), always letting stage_started/stage_error/
// stage_completed and every other event type through immediately — the
// same always-passthrough carve-out the teacher reserves for critical
// events in shouldPersistEvent/isCriticalEvent.
func (b *Bus) ThrottledPublish(conversationID string, evt Event) {
	if evt.Type != EventStageChunk || passthrough(evt.Type) {
		b.Publish(conversationID, evt)
		return
	}

	key := throttleKey(conversationID, evt.Stage)

	b.throttleMu.Lock()
	t, ok := b.throttles[key]
	if !ok {
		t = newStageThrottle(func(e Event) { b.Publish(conversationID, e) })
		b.throttles[key] = t
	}
	b.throttleMu.Unlock()

	t.Offer(evt)
}
