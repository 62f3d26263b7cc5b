package domain

import (
	"errors"

	"github.com/gammazero/deque"
)

var ErrBufferOverflow = errors.New("diff buffer overflow")

// DiffBuffer holds depth diffs that arrived while the book is not synced.
// It is not safe for concurrent use; the maintainer loop owns it.
type DiffBuffer struct {
	queue    deque.Deque[*OrderBookUpdate]
	capacity int
}

func NewDiffBuffer(capacity int) *DiffBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &DiffBuffer{capacity: capacity}
}

// Push appends the diff. When the capacity is exceeded the oldest diffs are
// dropped and ErrBufferOverflow is returned: the retained history is no
// longer continuous.
func (b *DiffBuffer) Push(update *OrderBookUpdate) error {
	b.queue.PushBack(update)
	if b.queue.Len() <= b.capacity {
		return nil
	}
	for b.queue.Len() > b.capacity {
		b.queue.PopFront()
	}
	return ErrBufferOverflow
}

// DrainApplicable empties the buffer and returns, in arrival order, the diffs
// with FinalUpdateID > since. Fully stale diffs are discarded.
func (b *DiffBuffer) DrainApplicable(since uint64) []*OrderBookUpdate {
	out := make([]*OrderBookUpdate, 0, b.queue.Len())
	for b.queue.Len() > 0 {
		update := b.queue.PopFront()
		if update.FinalUpdateID > since {
			out = append(out, update)
		}
	}
	return out
}

func (b *DiffBuffer) Clear() {
	b.queue.Clear()
}

func (b *DiffBuffer) Len() int {
	return b.queue.Len()
}

func (b *DiffBuffer) Cap() int {
	return b.capacity
}
