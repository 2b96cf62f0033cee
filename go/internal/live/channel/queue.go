package channel

import (
	"slices"

	"github.com/guesssenpai/livesync/go/internal/live/protocol"
)

// Queue is the FIFO of outbound messages waiting for an open channel.
type Queue struct {
	items []protocol.Outbound
}

func (q *Queue) Push(o protocol.Outbound) {
	q.items = append(q.items, o)
}

// Requeue puts items back at the head of the queue, keeping their order.
func (q *Queue) Requeue(items []protocol.Outbound) {
	if len(items) == 0 {
		return
	}
	q.items = append(slices.Clone(items), q.items...)
}

// Drain empties the queue and returns its contents in FIFO order.
func (q *Queue) Drain() []protocol.Outbound {
	items := q.items
	q.items = nil
	return items
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Items returns a copy of the queued messages.
func (q *Queue) Items() []protocol.Outbound {
	return slices.Clone(q.items)
}
