package syncq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(Signal{Kind: ReplayStarted})
	b.Publish(Signal{Kind: ReplayCompleted, OK: true})

	for _, ch := range []<-chan Signal{ch1, ch2} {
		require.Equal(t, Signal{Kind: ReplayStarted}, <-ch)
		require.Equal(t, Signal{Kind: ReplayCompleted, OK: true}, <-ch)
	}
}

func TestBroadcaster_CancelStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	cancel()

	b.Publish(Signal{Kind: ReplayStarted})
	select {
	case sig := <-ch:
		t.Fatalf("unexpected signal after cancel: %+v", sig)
	default:
	}
}

func TestBroadcaster_PublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe()
	defer cancel()

	// Overflow the subscriber's buffer; Publish must keep returning.
	for i := 0; i < 32; i++ {
		b.Publish(Signal{Kind: ReplayStarted})
	}
}
