package core

import "github.com/google/uuid"

// ChannelData is the coordinator's record of one channel. Only the topic
// changes after creation; the actor lives until the channel is dropped.
type ChannelData struct {
	ID    uuid.UUID
	Name  string
	Topic string
	Actor *Channel
}

// UserData is the coordinator's record of one connected user.
type UserData struct {
	ID           uuid.UUID
	Nick         string
	Email        string
	Materializer Materializer
	// Channels maps each joined channel id to the kill-switch that severs
	// the user's stream there. A nil switch marks a headless membership:
	// the user joined but runs no live stream (bots, tests).
	Channels map[uuid.UUID]*KillSwitch
}

// ServerData is the compound state owned by the coordinator. No other
// goroutine reads or writes it.
type ServerData struct {
	Channels map[uuid.UUID]*ChannelData
	Users    map[uuid.UUID]*UserData
}

func newServerData() ServerData {
	return ServerData{
		Channels: make(map[uuid.UUID]*ChannelData),
		Users:    make(map[uuid.UUID]*UserData),
	}
}

// clone copies the state one level deep: fresh maps and records, shared
// actors and switches. Enough for callers to inspect without racing the
// coordinator.
func (d ServerData) clone() ServerData {
	out := ServerData{
		Channels: make(map[uuid.UUID]*ChannelData, len(d.Channels)),
		Users:    make(map[uuid.UUID]*UserData, len(d.Users)),
	}
	for id, ch := range d.Channels {
		cp := *ch
		out.Channels[id] = &cp
	}
	for id, u := range d.Users {
		cp := *u
		cp.Channels = make(map[uuid.UUID]*KillSwitch, len(u.Channels))
		for cid, ks := range u.Channels {
			cp.Channels[cid] = ks
		}
		out.Users[id] = &cp
	}
	return out
}
