package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := zerolog.Nop()
	s := NewServer(&logger, 16)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)

	return s
}

func testCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testParty stands in for a transport: it materializes every flow onto a
// shared outbound channel and records the switches handed back.
type testParty struct {
	mu       sync.Mutex
	out      chan ChatMessage
	inputs   map[string]chan string
	switches []*KillSwitch
}

func newTestParty() *testParty {
	return &testParty{
		out:    make(chan ChatMessage, 64),
		inputs: make(map[string]chan string),
	}
}

func (p *testParty) materializer(flow *PartyFlow) *KillSwitch {
	in := make(chan string, 8)
	ks := flow.Materialize(in, p.out)

	p.mu.Lock()
	p.inputs[flow.ChannelName()] = in
	p.switches = append(p.switches, ks)
	p.mu.Unlock()
	return ks
}

func (p *testParty) say(t *testing.T, channel, text string) {
	t.Helper()

	p.mu.Lock()
	in, ok := p.inputs[channel]
	p.mu.Unlock()
	if !ok {
		t.Fatalf("no materialized flow for channel %q", channel)
	}
	in <- text
}

func (p *testParty) firedSwitches() (fired, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ks := range p.switches {
		select {
		case <-ks.Done():
			fired++
		default:
		}
	}
	return fired, len(p.switches)
}

func mustMessage(t *testing.T, ch <-chan ChatMessage, text string) ChatMessage {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ch:
			if msg.Text == text {
				return msg
			}
		case <-deadline:
			t.Fatalf("message %q not received", text)
			return ChatMessage{}
		}
	}
}

func mustNoMessage(t *testing.T, ch <-chan ChatMessage) {
	t.Helper()

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
