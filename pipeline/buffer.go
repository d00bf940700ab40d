package pipeline

import (
	"sync"
	"time"
)

// deliverer hands a dequeued batch to the delivery layer.
type deliverer interface {
	Send(batch []Event, preferFireAndForget bool) error
}

// entry pairs a queued event with its priority so the eviction policy can
// tell victims apart after insertion.
type entry struct {
	ev   Event
	high bool
}

// EventBuffer is the ordered queue of pending events. High-priority events
// enter at the head, everything else at the tail; flushes always take from
// the head, so priority falls out of queue position without a separate heap.
//
// A flush removes its slice under the lock before the network send starts,
// so enqueues racing a flush can neither be lost nor jump ahead of an
// in-flight batch. Several flushes may be in flight at once. A failed batch
// is reinserted at the head in original order; later enqueues never overtake
// requeued events.
type EventBuffer struct {
	mu    sync.Mutex
	queue []entry

	cfg   Config
	agent deliverer

	// stamp attaches the common envelope at enqueue time.
	stamp func(*Event)

	// sample returns a uniform [0,1) value for the sampling filter.
	sample func() float64

	inflight sync.WaitGroup
}

func NewEventBuffer(cfg Config, agent deliverer, stamp func(*Event), sample func() float64) *EventBuffer {
	return &EventBuffer{
		cfg:    cfg,
		agent:  agent,
		stamp:  stamp,
		sample: sample,
	}
}

// Enqueue applies sampling, stamps the envelope, inserts the event, and
// flushes when the queue reaches the batch size.
func (b *EventBuffer) Enqueue(ev Event, highPriority bool) {
	if b.cfg.SamplingRate < 100 && !exemptFromSampling(ev.Kind) {
		if b.sample()*100 > float64(b.cfg.SamplingRate) {
			return
		}
	}

	b.stamp(&ev)

	b.mu.Lock()
	if highPriority {
		b.queue = append([]entry{{ev: ev, high: true}}, b.queue...)
	} else {
		b.queue = append(b.queue, entry{ev: ev, high: false})
	}
	b.evictOverflowLocked()
	shouldFlush := len(b.queue) >= b.cfg.BatchSize
	b.mu.Unlock()

	if shouldFlush {
		b.Flush(false)
	}
}

// Flush removes up to BatchSize events from the head and sends them
// asynchronously. On a detected delivery failure the batch is reinserted at
// the head, restoring its original order and priority position.
func (b *EventBuffer) Flush(useBeacon bool) {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	n := b.cfg.BatchSize
	if n > len(b.queue) {
		n = len(b.queue)
	}
	batch := make([]entry, n)
	copy(batch, b.queue[:n])
	b.queue = append([]entry(nil), b.queue[n:]...)
	b.mu.Unlock()

	events := make([]Event, len(batch))
	for i, e := range batch {
		events[i] = e.ev
	}

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		if err := b.agent.Send(events, useBeacon); err != nil {
			b.requeue(batch)
		}
	}()
}

// Len reports the number of pending (not in-flight) events.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// WaitIdle blocks until no deliveries are in flight or the timeout expires.
// Returns true if idle.
func (b *EventBuffer) WaitIdle(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// requeue puts a failed batch back at the head. No flush is triggered here;
// the batch rides the next timer or size trigger.
func (b *EventBuffer) requeue(batch []entry) {
	b.mu.Lock()
	b.queue = append(batch, b.queue...)
	b.evictOverflowLocked()
	b.mu.Unlock()
}

// evictOverflowLocked enforces MaxQueueSize by dropping the oldest
// low-priority event. When every queued event is high priority the oldest of
// those goes instead; memory stays bounded under a sustained outage either
// way.
func (b *EventBuffer) evictOverflowLocked() {
	if b.cfg.MaxQueueSize <= 0 {
		return
	}
	for len(b.queue) > b.cfg.MaxQueueSize {
		victim := -1
		for i := range b.queue {
			if !b.queue[i].high {
				victim = i
				break
			}
		}
		if victim == -1 {
			victim = 0
		}
		b.queue = append(b.queue[:victim], b.queue[victim+1:]...)
	}
}
