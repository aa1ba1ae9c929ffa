package bus

import (
	"context"
	"log/slog"
)

// DefaultQueueCapacity bounds each adapter's inbound queue.
const DefaultQueueCapacity = 100

// Queue is the bounded inbound queue between one adapter and its pipeline.
// Adapters push, exactly one pipeline consumes.
type Queue struct {
	ch chan IncomingMessage
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan IncomingMessage, capacity)}
}

// Push enqueues a message, dropping it when the queue is full so a stalled
// pipeline cannot block the adapter's ingress loop.
func (q *Queue) Push(msg IncomingMessage) {
	select {
	case q.ch <- msg:
	default:
		slog.Warn("bus.queue.full", "channel", msg.Channel, "chat", msg.ChannelID)
	}
}

// Pop blocks until a message is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (IncomingMessage, bool) {
	select {
	case <-ctx.Done():
		return IncomingMessage{}, false
	case msg, ok := <-q.ch:
		return msg, ok
	}
}

// TryPop dequeues without blocking.
func (q *Queue) TryPop() (IncomingMessage, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
		return IncomingMessage{}, false
	}
}

// Len reports the number of queued messages.
func (q *Queue) Len() int { return len(q.ch) }
