package executor

import (
	"sync"

	"interlude/types"
)

const subscriberBuffer = 256

// Broadcaster fans one run's event feed out to any number of subscribers.
// Events are buffered so a subscriber attaching mid-run replays everything
// emitted so far before receiving live events, in the original order.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers []chan types.StreamEvent
	history     []types.StreamEvent
	closed      bool
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Publish appends the event to the replay history and delivers it to every
// subscriber. Delivery is non-blocking; a subscriber that stopped draining
// its channel misses events rather than stalling the run.
func (b *Broadcaster) Publish(event types.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.history = append(b.history, event)
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel carrying the full replay history followed by
// live events. The channel is closed when the run ends.
func (b *Broadcaster) Subscribe() <-chan types.StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.StreamEvent, len(b.history)+subscriberBuffer)
	for _, event := range b.history {
		ch <- event
	}

	if b.closed {
		close(ch)
		return ch
	}

	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. A disconnecting
// viewer never affects the running command.
func (b *Broadcaster) Unsubscribe(ch <-chan types.StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			if !b.closed {
				close(sub)
			}
			return
		}
	}
}

// Close marks the run finished and closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}

// SubscriberCount returns the number of attached subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// History returns a copy of the events emitted so far.
func (b *Broadcaster) History() []types.StreamEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.StreamEvent, len(b.history))
	copy(out, b.history)
	return out
}
