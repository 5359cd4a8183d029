// Package eventq holds the non-blocking channel helpers every fan-out in
// corral uses so a slow consumer can never stall a process reader.
package eventq

import (
	"context"
	"sync/atomic"
)

// Offer performs a non-blocking send.
// It returns true when the value was sent and false when the channel is full
// or already closed.
func Offer[T any](ch chan<- T, value T) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}

// OfferContext is Offer that also gives up when ctx is already done.
func OfferContext[T any](ctx context.Context, ch chan<- T, value T) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return Offer(ch, value)
}

// DropCounter counts values that Offer could not deliver. Report returns true
// on the first drop and every 100th after, which is when callers log.
type DropCounter struct {
	n atomic.Uint64
}

// Report records one drop.
func (c *DropCounter) Report() (total uint64, shouldLog bool) {
	total = c.n.Add(1)
	return total, total == 1 || total%100 == 0
}

// Total returns the number of drops so far.
func (c *DropCounter) Total() uint64 {
	return c.n.Load()
}
