package core

import "github.com/google/uuid"

// ControlKind describes what a caller asks the coordinator to do.
type ControlKind int

const (
	// ControlList asks for every channel with its live user count.
	ControlList ControlKind = iota
	// ControlNewChannel creates a channel, or returns the existing one.
	ControlNewChannel
	// ControlFindChannel looks a channel up by name.
	ControlFindChannel
	// ControlSetTopic replaces a channel's topic.
	ControlSetTopic
	// ControlDropChannel removes a channel and kicks every subscriber.
	ControlDropChannel
	// ControlConnect registers a user and subscribes its initial channels.
	ControlConnect
	// ControlDisconnect severs all of a user's streams and removes it.
	ControlDisconnect
	// ControlJoin subscribes a user to a channel, creating it if needed.
	ControlJoin
	// ControlLeave severs one (user, channel) subscription.
	ControlLeave
	// ControlGetUser asks for a user's info with its joined channels.
	ControlGetUser
	// ControlReadState snapshots the raw server state (tests, inspection).
	ControlReadState
	// ControlUpdateState applies a transform to the raw state (tests).
	ControlUpdateState
)

// Control is the request envelope processed by the coordinator. Kind
// selects the operation; the other fields carry its inputs.
type Control struct {
	Kind ControlKind

	Name         string
	Topic        string
	ChannelID    uuid.UUID
	UserID       uuid.UUID
	Nick         string
	Email        string
	Materializer Materializer
	ChannelIDs   []uuid.UUID
	Update       func(*ServerData)

	reply chan Reply
}
