package eventq

import (
	"context"
	"testing"
)

func TestOffer(t *testing.T) {
	ch := make(chan int, 1)
	if !Offer(ch, 1) {
		t.Fatal("first offer should succeed")
	}
	if Offer(ch, 2) {
		t.Fatal("offer on a full channel should fail")
	}
	close(ch)
	if Offer(ch, 3) {
		t.Fatal("offer on a closed channel should fail without panicking")
	}
}

func TestOfferContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch := make(chan int, 1)
	if OfferContext(ctx, ch, 1) {
		t.Fatal("offer with a done context should fail")
	}
}

func TestDropCounter(t *testing.T) {
	var c DropCounter
	logged := 0
	for i := 0; i < 200; i++ {
		if _, ok := c.Report(); ok {
			logged++
		}
	}
	if logged != 3 {
		t.Fatalf("logged %d times, want 3 (1st, 100th, 200th)", logged)
	}
	if c.Total() != 200 {
		t.Fatalf("Total() = %d", c.Total())
	}
}
