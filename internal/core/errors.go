package core

import "errors"

// Error codes exposed to transports alongside the fixed wordings below.
const (
	ErrCodeInvalidChannelName = "invalid_channel_name"
	ErrCodeChannelNameUnknown = "channel_name_not_found"
	ErrCodeChannelNotFound    = "channel_not_found"
	ErrCodeUserNotFound       = "user_not_found"
	ErrCodeNickTaken          = "nick_taken"
	ErrCodeAlreadyJoined      = "already_joined"
	ErrCodeNotJoined          = "not_joined"
	ErrCodeInternal           = "internal"
)

// Domain errors. The wordings are part of the public contract; callers
// compare with errors.Is and may show the text verbatim.
var (
	ErrInvalidChannelName  = errors.New("Invalid channel name")
	ErrChannelNameNotFound = errors.New("Channel with such name not found")
	ErrChannelNotFound     = errors.New("Channel not found")
	ErrUserNotFound        = errors.New("User with such id not found")
	ErrNickTaken           = errors.New("User with such nick already exists")
	ErrAlreadyJoined       = errors.New("User already joined this channel")
	ErrNotJoined           = errors.New("User is not joined channel")

	// ErrServerClosed reports a command sent after the coordinator stopped.
	ErrServerClosed = errors.New("server closed")
)

// CodeOf maps a domain error to its transport code.
func CodeOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidChannelName):
		return ErrCodeInvalidChannelName
	case errors.Is(err, ErrChannelNameNotFound):
		return ErrCodeChannelNameUnknown
	case errors.Is(err, ErrChannelNotFound):
		return ErrCodeChannelNotFound
	case errors.Is(err, ErrUserNotFound):
		return ErrCodeUserNotFound
	case errors.Is(err, ErrNickTaken):
		return ErrCodeNickTaken
	case errors.Is(err, ErrAlreadyJoined):
		return ErrCodeAlreadyJoined
	case errors.Is(err, ErrNotJoined):
		return ErrCodeNotJoined
	default:
		return ErrCodeInternal
	}
}
