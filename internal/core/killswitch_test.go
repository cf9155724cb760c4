package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestKillSwitchFiresOnce(t *testing.T) {
	var fired int32
	ks := newKillSwitch(func() { atomic.AddInt32(&fired, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ks.Shutdown()
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("expected stop to run once, ran %d times", got)
	}
	select {
	case <-ks.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
}

func TestKillSwitchShutdownAfterChannelStop(t *testing.T) {
	ch := newTestChannel(t, "general")

	flow := newPartyFlow(ch, uuid.New(), 8)
	in := make(chan string)
	out := make(chan ChatMessage, 8)
	ks := flow.Materialize(in, out)

	ch.Close()

	// The channel is gone; shutting the switch down must still be safe,
	// twice over.
	ks.Shutdown()
	ks.Shutdown()
}

func TestMaterializedFlowPublishesAndReceives(t *testing.T) {
	ch := newTestChannel(t, "general")

	author := uuid.New()
	flow := newPartyFlow(ch, author, 8)
	in := make(chan string, 1)
	out := make(chan ChatMessage, 8)
	ks := flow.Materialize(in, out)

	in <- "echo"
	msg := mustMessage(t, out, "echo")
	if msg.AuthorID != author || msg.ChannelID != ch.ID() {
		t.Fatalf("unexpected message: %+v", msg)
	}

	ks.Shutdown()

	// After shutdown the flow is detached: nothing published reaches it.
	ch.Publish(uuid.New(), "after")
	select {
	case msg, ok := <-out:
		if ok {
			t.Fatalf("detached flow received %q", msg.Text)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClosingInboundEndsInboundHalfOnly(t *testing.T) {
	ch := newTestChannel(t, "general")

	flow := newPartyFlow(ch, uuid.New(), 8)
	in := make(chan string)
	out := make(chan ChatMessage, 8)
	flow.Materialize(in, out)

	close(in)

	// The outbound half stays live: other publishers still reach us.
	ch.Publish(uuid.New(), "still here")
	mustMessage(t, out, "still here")
}
