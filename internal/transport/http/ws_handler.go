package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/core"
	"github.com/parleychat/parley/internal/proto"
)

const (
	inputBuffer       = 16
	disconnectTimeout = 5 * time.Second
)

// WSHandler upgrades HTTP connections and bridges them to the coordinator:
// hello becomes Connect with a materializer bound to this socket, join and
// leave become coordinator commands, msg feeds the party flows.
type WSHandler struct {
	coord *core.Server
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(coord *core.Server, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{coord: coord, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	session := newWSSession(h.coord, h.log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	session.close()

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *wsSession) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		frame, err := h.handleInbound(ctx, session, inbound)
		if err != nil {
			return err
		}
		if frame != nil {
			if writeErr := wsjson.Write(ctx, conn, *frame); writeErr != nil {
				return writeErr
			}
		}
	}
}

// handleInbound applies one client frame and returns the direct response
// frame, if any. Fan-out traffic reaches the client through writeLoop.
func (h *WSHandler) handleInbound(ctx context.Context, session *wsSession, inbound proto.Inbound) (*proto.Outbound, error) {
	switch inbound.Type {
	case proto.InboundTypeHello:
		var hello proto.HelloData
		if err := json.Unmarshal(inbound.Data, &hello); err != nil {
			return nil, err
		}
		if hello.Nick == "" {
			return badRequestFrame("nick is required"), nil
		}
		return session.hello(ctx, hello), nil
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, err
		}
		if join.Channel == "" {
			return badRequestFrame("channel is required"), nil
		}
		return session.join(ctx, join.Channel), nil
	case proto.InboundTypeLeave:
		var leave proto.JoinData
		if err := json.Unmarshal(inbound.Data, &leave); err != nil {
			return nil, err
		}
		if leave.Channel == "" {
			return badRequestFrame("channel is required"), nil
		}
		return session.leave(ctx, leave.Channel), nil
	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, err
		}
		if msg.Channel == "" {
			return badRequestFrame("channel is required"), nil
		}
		return session.publish(msg.Channel, msg.Text), nil
	default:
		return &proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: "invalid_message", Msg: "unknown message type"},
		}, nil
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, session *wsSession) error {
	for {
		select {
		case msg := <-session.out:
			if err := wsjson.Write(ctx, conn, outboundFromMessage(msg)); err != nil {
				h.log.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// wsSession is the per-connection state: the connected user, the shared
// outbound stream and one inbound lane per materialized channel flow.
type wsSession struct {
	coord *core.Server
	log   *zerolog.Logger
	out   chan core.ChatMessage

	mu        sync.Mutex
	userID    uuid.UUID
	connected bool
	inputs    map[string]chan string
}

func newWSSession(coord *core.Server, logger *zerolog.Logger) *wsSession {
	return &wsSession{
		coord:  coord,
		log:    logger,
		out:    make(chan core.ChatMessage, 64),
		inputs: make(map[string]chan string),
	}
}

// materializer is handed to Connect; the coordinator calls it once per
// joined channel and keeps the returned switch.
func (s *wsSession) materializer(flow *core.PartyFlow) *core.KillSwitch {
	in := make(chan string, inputBuffer)
	ks := flow.Materialize(in, s.out)

	name := flow.ChannelName()
	s.mu.Lock()
	s.inputs[name] = in
	s.mu.Unlock()

	go func() {
		<-ks.Done()
		s.mu.Lock()
		if s.inputs[name] == in {
			delete(s.inputs, name)
		}
		s.mu.Unlock()
	}()

	return ks
}

func (s *wsSession) hello(ctx context.Context, hello proto.HelloData) *proto.Outbound {
	s.mu.Lock()
	already := s.connected
	s.mu.Unlock()
	if already {
		return badRequestFrame("already connected")
	}

	info, err := s.coord.Connect(ctx, hello.Nick, hello.Email, s.materializer, nil)
	if err != nil {
		return errorFrame(err)
	}

	s.mu.Lock()
	s.userID = info.ID
	s.connected = true
	s.mu.Unlock()

	s.log.Info().Str("nick", info.Nick).Str("user_id", info.ID.String()).Msg("ws user connected")
	return &proto.Outbound{
		Type: proto.OutboundTypeWelcome,
		Data: proto.WelcomeData{UserID: info.ID.String(), Nick: info.Nick},
	}
}

func (s *wsSession) join(ctx context.Context, channel string) *proto.Outbound {
	id, ok := s.currentUser()
	if !ok {
		return badRequestFrame("hello first")
	}
	if err := s.coord.Join(ctx, id, channel); err != nil {
		return errorFrame(err)
	}
	return nil
}

func (s *wsSession) leave(ctx context.Context, channel string) *proto.Outbound {
	id, ok := s.currentUser()
	if !ok {
		return badRequestFrame("hello first")
	}
	info, err := s.coord.FindChannel(ctx, channel)
	if err != nil {
		return errorFrame(err)
	}
	if err := s.coord.Leave(ctx, id, info.ID); err != nil {
		return errorFrame(err)
	}
	return nil
}

func (s *wsSession) publish(channel, text string) *proto.Outbound {
	s.mu.Lock()
	in, ok := s.inputs[channel]
	s.mu.Unlock()
	if !ok {
		return errorFrame(core.ErrNotJoined)
	}

	select {
	case in <- text:
	default:
		// Inbound lane is saturated; shed rather than stall the socket.
		s.log.Warn().Str("channel", channel).Msg("inbound lane full, message dropped")
	}
	return nil
}

func (s *wsSession) currentUser() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.connected
}

// close disconnects the session's user once the socket is gone.
func (s *wsSession) close() {
	id, ok := s.currentUser()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := s.coord.Disconnect(ctx, id); err != nil && !errors.Is(err, core.ErrUserNotFound) {
		s.log.Warn().Err(err).Str("user_id", id.String()).Msg("disconnect on close")
	}
}
