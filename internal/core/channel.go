package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const channelMailboxSize = 32

// ChatMessage is one published message as seen by subscribers.
type ChatMessage struct {
	ChannelID uuid.UUID
	Channel   string
	AuthorID  uuid.UUID
	Text      string
	SentAt    time.Time
}

type channelMsgKind int

const (
	// partyAttach registers a subscriber sink for a party.
	partyAttach channelMsgKind = iota
	// partyDetach removes a party and closes its sink.
	partyDetach
	// partyPublish fans a party's message out to every attached sink.
	partyPublish
	// partyList asks for the ids of the attached parties.
	partyList
)

type channelMsg struct {
	kind   channelMsgKind
	party  uuid.UUID
	sink   chan ChatMessage
	text   string
	sentAt time.Time
	ids    chan []uuid.UUID
}

// Channel is the per-channel actor: a single goroutine owns the subscriber
// set and serializes attach, detach and publication, so every attached
// party observes one publisher's messages in publication order.
type Channel struct {
	id      uuid.UUID
	name    string
	sinkCap int

	mailbox chan channelMsg
	done    chan struct{}
	closer  sync.Once
	log     *zerolog.Logger
}

func newChannel(id uuid.UUID, name string, sinkCap int, logger *zerolog.Logger) *Channel {
	c := &Channel{
		id:      id,
		name:    name,
		sinkCap: sinkCap,
		mailbox: make(chan channelMsg, channelMailboxSize),
		done:    make(chan struct{}),
		log:     logger,
	}
	go c.run()
	return c
}

// ID returns the channel's identifier.
func (c *Channel) ID() uuid.UUID { return c.id }

// Name returns the channel's immutable name.
func (c *Channel) Name() string { return c.name }

func (c *Channel) run() {
	sinks := make(map[uuid.UUID]chan ChatMessage)
	defer func() {
		for id, sink := range sinks {
			delete(sinks, id)
			close(sink)
		}
	}()

	for {
		select {
		case <-c.done:
			return
		case m := <-c.mailbox:
			switch m.kind {
			case partyAttach:
				if old, ok := sinks[m.party]; ok {
					// The fresh registration wins; the stale sink is closed
					// so its flow winds down.
					close(old)
				}
				sinks[m.party] = m.sink
			case partyDetach:
				if sink, ok := sinks[m.party]; ok {
					delete(sinks, m.party)
					close(sink)
				}
			case partyPublish:
				ev := ChatMessage{
					ChannelID: c.id,
					Channel:   c.name,
					AuthorID:  m.party,
					Text:      m.text,
					SentAt:    m.sentAt,
				}
				for id, sink := range sinks {
					select {
					case sink <- ev:
					default:
						// Slow subscriber; drop rather than stall the room.
						c.log.Warn().
							Str("channel", c.name).
							Str("party_id", id.String()).
							Msg("subscriber sink full, message dropped")
					}
				}
			case partyList:
				ids := make([]uuid.UUID, 0, len(sinks))
				for id := range sinks {
					ids = append(ids, id)
				}
				m.ids <- ids
			}
		}
	}
}

// send enqueues a message unless the actor has stopped.
func (c *Channel) send(m channelMsg) {
	select {
	case c.mailbox <- m:
	case <-c.done:
	}
}

// Attach registers a subscriber sink for the given party. The actor owns
// the sink from here on and closes it on detach or channel stop.
func (c *Channel) Attach(party uuid.UUID, sink chan ChatMessage) {
	c.send(channelMsg{kind: partyAttach, party: party, sink: sink})
}

// Detach removes the party's sink. Safe to call on a stopped channel or
// for a party that was never attached.
func (c *Channel) Detach(party uuid.UUID) {
	c.send(channelMsg{kind: partyDetach, party: party})
}

// Publish fans text out to every attached party on behalf of author.
func (c *Channel) Publish(author uuid.UUID, text string) {
	c.send(channelMsg{kind: partyPublish, party: author, text: text, sentAt: time.Now()})
}

// ListUsers reports the ids of the currently attached parties. Returns nil
// once the channel has stopped or the context expires.
func (c *Channel) ListUsers(ctx context.Context) []uuid.UUID {
	reply := make(chan []uuid.UUID, 1)
	select {
	case c.mailbox <- channelMsg{kind: partyList, ids: reply}:
	case <-c.done:
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case ids := <-reply:
		return ids
	case <-c.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Close stops the actor and closes every attached sink. Idempotent.
func (c *Channel) Close() {
	c.closer.Do(func() {
		close(c.done)
	})
}
