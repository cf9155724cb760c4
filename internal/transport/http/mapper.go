package http

import (
	"github.com/parleychat/parley/internal/core"
	"github.com/parleychat/parley/internal/proto"
)

func outboundFromMessage(msg core.ChatMessage) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: "message",
		Data: proto.EventMessage{
			Channel: msg.Channel,
			From:    msg.AuthorID.String(),
			Text:    msg.Text,
			TS:      msg.SentAt.Unix(),
		},
	}
}

func errorFrame(err error) *proto.Outbound {
	return &proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: core.CodeOf(err), Msg: err.Error()},
	}
}

func badRequestFrame(msg string) *proto.Outbound {
	return &proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: "bad_request", Msg: msg},
	}
}
