package core

import "github.com/google/uuid"

// ReplyKind tags the coordinator's answer to a Control.
type ReplyKind int

const (
	// ReplyAck acknowledges a state transition with no payload.
	ReplyAck ReplyKind = iota
	// ReplyChannelList carries every channel's info.
	ReplyChannelList
	// ReplyChannelInfo carries a single channel's info.
	ReplyChannelInfo
	// ReplyUserInfo carries a single user's info.
	ReplyUserInfo
	// ReplyState carries a raw state snapshot.
	ReplyState
	// ReplyError carries a domain error.
	ReplyError
)

// ChannelInfo is the externally visible view of a channel.
type ChannelInfo struct {
	ID        uuid.UUID
	Name      string
	Topic     string
	UserCount int
}

// UserInfo is the externally visible view of a connected user.
type UserInfo struct {
	ID       uuid.UUID
	Nick     string
	Email    string
	Channels []ChannelInfo
}

// Reply is the response envelope; exactly one payload field matches Kind.
type Reply struct {
	Kind     ReplyKind
	Channels []ChannelInfo
	Channel  ChannelInfo
	User     UserInfo
	State    ServerData
	Err      error
}

func errReply(err error) Reply {
	return Reply{Kind: ReplyError, Err: err}
}
