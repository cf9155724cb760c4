package core

import "github.com/google/uuid"

// Materializer turns a prepared party flow into a running stream and
// returns the kill-switch that severs it. The coordinator invokes it once
// per (user, channel) join and keeps the switch; a user without a
// materializer is headless and gets no stream.
type Materializer func(flow *PartyFlow) *KillSwitch

// PartyFlow is the bidirectional segment between one user's transport and
// one channel actor: inbound turns the user's text into publications under
// the user's id, outbound carries the channel's fan-out back.
type PartyFlow struct {
	channel *Channel
	userID  uuid.UUID
	sinkCap int
}

func newPartyFlow(ch *Channel, userID uuid.UUID, sinkCap int) *PartyFlow {
	return &PartyFlow{
		channel: ch,
		userID:  userID,
		sinkCap: sinkCap,
	}
}

// ChannelID identifies the channel this flow feeds.
func (f *PartyFlow) ChannelID() uuid.UUID { return f.channel.ID() }

// ChannelName returns the channel's name.
func (f *PartyFlow) ChannelName() string { return f.channel.Name() }

// UserID identifies the party this flow belongs to.
func (f *PartyFlow) UserID() uuid.UUID { return f.userID }

// Materialize attaches the flow to its channel and starts both halves:
// text received on in is published under the flow's user id, and the
// channel's fan-out is forwarded to out. Closing in ends the inbound half;
// the returned kill-switch ends both and detaches from the channel. The
// flow never closes out, the transport owns it.
func (f *PartyFlow) Materialize(in <-chan string, out chan<- ChatMessage) *KillSwitch {
	sink := make(chan ChatMessage, f.sinkCap)
	ks := newKillSwitch(func() {
		f.channel.Detach(f.userID)
	})
	f.channel.Attach(f.userID, sink)

	go func() {
		for {
			select {
			case <-ks.done:
				return
			case text, ok := <-in:
				if !ok {
					return
				}
				f.channel.Publish(f.userID, text)
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ks.done:
				return
			case ev, ok := <-sink:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ks.done:
					return
				}
			}
		}
	}()

	return ks
}
