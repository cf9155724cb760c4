package core

import (
	"context"
	"fmt"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/ident"
)

const (
	serverMailboxSize = 64
	defaultFlowBuffer = 64
)

// Server is the coordinator: the single owner of ServerData. One goroutine
// drains the control mailbox, so every observable state transition is
// atomic with respect to concurrent commands.
type Server struct {
	mailbox chan Control
	done    chan struct{}
	sinkCap int
	log     *zerolog.Logger

	// state is touched only by the Run goroutine.
	state ServerData
}

// NewServer builds a coordinator. flowBuffer bounds each subscriber sink;
// zero or negative selects the default.
func NewServer(logger *zerolog.Logger, flowBuffer int) *Server {
	if flowBuffer <= 0 {
		flowBuffer = defaultFlowBuffer
	}
	return &Server{
		mailbox: make(chan Control, serverMailboxSize),
		done:    make(chan struct{}),
		sinkCap: flowBuffer,
		log:     logger,
		state:   newServerData(),
	}
}

// Run drains the mailbox until ctx is cancelled, then severs every live
// stream and stops every channel actor.
func (s *Server) Run(ctx context.Context) {
	defer s.teardown()
	for {
		select {
		case <-ctx.Done():
			return
		case ctrl := <-s.mailbox:
			s.dispatch(ctx, ctrl)
		}
	}
}

func (s *Server) teardown() {
	close(s.done)
	for _, u := range s.state.Users {
		for _, ks := range u.Channels {
			if ks != nil {
				ks.Shutdown()
			}
		}
	}
	for _, ch := range s.state.Channels {
		ch.Actor.Close()
	}
	s.log.Info().
		Int("channels", len(s.state.Channels)).
		Int("users", len(s.state.Users)).
		Msg("coordinator stopped")
}

// Send delivers a raw control envelope and returns the reply. Most callers
// want the typed wrappers below; transports that speak envelopes natively
// use Send directly.
func (s *Server) Send(ctx context.Context, ctrl Control) (Reply, error) {
	ctrl.reply = make(chan Reply, 1)
	select {
	case s.mailbox <- ctrl:
	case <-s.done:
		return Reply{}, ErrServerClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
	select {
	case rep := <-ctrl.reply:
		if rep.Kind == ReplyError {
			return Reply{}, rep.Err
		}
		return rep, nil
	case <-s.done:
		return Reply{}, ErrServerClosed
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// List reports every channel with the count of its attached parties. The
// counts come from the channel actors; the coordinator's mailbox is not
// blocked while they answer.
func (s *Server) List(ctx context.Context) ([]ChannelInfo, error) {
	rep, err := s.Send(ctx, Control{Kind: ControlList})
	if err != nil {
		return nil, err
	}
	return rep.Channels, nil
}

// NewChannel creates a channel, or returns the existing one by that name.
func (s *Server) NewChannel(ctx context.Context, name string) (ChannelInfo, error) {
	rep, err := s.Send(ctx, Control{Kind: ControlNewChannel, Name: name})
	if err != nil {
		return ChannelInfo{}, err
	}
	return rep.Channel, nil
}

// FindChannel looks a channel up by name.
func (s *Server) FindChannel(ctx context.Context, name string) (ChannelInfo, error) {
	rep, err := s.Send(ctx, Control{Kind: ControlFindChannel, Name: name})
	if err != nil {
		return ChannelInfo{}, err
	}
	return rep.Channel, nil
}

// SetTopic replaces the channel's topic.
func (s *Server) SetTopic(ctx context.Context, channelID uuid.UUID, topic string) error {
	_, err := s.Send(ctx, Control{Kind: ControlSetTopic, ChannelID: channelID, Topic: topic})
	return err
}

// DropChannel removes the channel and severs every member's subscription.
func (s *Server) DropChannel(ctx context.Context, channelID uuid.UUID) error {
	_, err := s.Send(ctx, Control{Kind: ControlDropChannel, ChannelID: channelID})
	return err
}

// Connect registers a user and subscribes it to the listed channels. Ids
// of channels that do not exist are silently dropped from the
// subscription set. A nil materializer connects a headless user.
func (s *Server) Connect(ctx context.Context, nick, email string, mat Materializer, channelIDs []uuid.UUID) (UserInfo, error) {
	rep, err := s.Send(ctx, Control{
		Kind:         ControlConnect,
		Nick:         nick,
		Email:        email,
		Materializer: mat,
		ChannelIDs:   channelIDs,
	})
	if err != nil {
		return UserInfo{}, err
	}
	return rep.User, nil
}

// Disconnect severs all of the user's streams and removes it.
func (s *Server) Disconnect(ctx context.Context, userID uuid.UUID) error {
	_, err := s.Send(ctx, Control{Kind: ControlDisconnect, UserID: userID})
	return err
}

// Join subscribes the user to the named channel, creating the channel
// first when it does not exist and the name is valid.
func (s *Server) Join(ctx context.Context, userID uuid.UUID, channelName string) error {
	_, err := s.Send(ctx, Control{Kind: ControlJoin, UserID: userID, Name: channelName})
	return err
}

// Leave severs the user's subscription to the channel.
func (s *Server) Leave(ctx context.Context, userID uuid.UUID, channelID uuid.UUID) error {
	_, err := s.Send(ctx, Control{Kind: ControlLeave, UserID: userID, ChannelID: channelID})
	return err
}

// GetUser reports the user's info with its joined channels.
func (s *Server) GetUser(ctx context.Context, userID uuid.UUID) (UserInfo, error) {
	rep, err := s.Send(ctx, Control{Kind: ControlGetUser, UserID: userID})
	if err != nil {
		return UserInfo{}, err
	}
	return rep.User, nil
}

// ReadState snapshots the raw state. Inspection and tests only.
func (s *Server) ReadState(ctx context.Context) (ServerData, error) {
	rep, err := s.Send(ctx, Control{Kind: ControlReadState})
	if err != nil {
		return ServerData{}, err
	}
	return rep.State, nil
}

// UpdateState applies fn to the raw state inside the serialized region.
// Inspection and tests only.
func (s *Server) UpdateState(ctx context.Context, fn func(*ServerData)) error {
	_, err := s.Send(ctx, Control{Kind: ControlUpdateState, Update: fn})
	return err
}

// dispatch runs one command. A panic from downstream work (a throwing
// materializer, a misbehaving transform) is converted into an error reply
// so the mailbox keeps serving.
func (s *Server) dispatch(ctx context.Context, ctrl Control) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Int("kind", int(ctrl.Kind)).Msg("command panicked")
			select {
			case ctrl.reply <- errReply(fmt.Errorf("command failed: %v", r)):
			default:
			}
		}
	}()

	switch ctrl.Kind {
	case ControlList:
		s.handleList(ctx, ctrl)
		// Reply is sent by the collector goroutine.
		return
	case ControlNewChannel:
		ctrl.reply <- s.handleNewChannel(ctrl.Name)
	case ControlFindChannel:
		ctrl.reply <- s.handleFindChannel(ctrl.Name)
	case ControlSetTopic:
		ctrl.reply <- s.handleSetTopic(ctrl.ChannelID, ctrl.Topic)
	case ControlDropChannel:
		ctrl.reply <- s.handleDropChannel(ctrl.ChannelID)
	case ControlConnect:
		ctrl.reply <- s.handleConnect(ctrl.Nick, ctrl.Email, ctrl.Materializer, ctrl.ChannelIDs)
	case ControlDisconnect:
		ctrl.reply <- s.handleDisconnect(ctrl.UserID)
	case ControlJoin:
		ctrl.reply <- s.handleJoin(ctrl.UserID, ctrl.Name)
	case ControlLeave:
		ctrl.reply <- s.handleLeave(ctrl.UserID, ctrl.ChannelID)
	case ControlGetUser:
		ctrl.reply <- s.handleGetUser(ctrl.UserID)
	case ControlReadState:
		ctrl.reply <- Reply{Kind: ReplyState, State: s.state.clone()}
	case ControlUpdateState:
		ctrl.Update(&s.state)
		ctrl.reply <- Reply{Kind: ReplyAck}
	default:
		ctrl.reply <- errReply(fmt.Errorf("unknown control kind %d", ctrl.Kind))
	}
}

// handleList snapshots the channel set and collects each actor's attached
// parties out-of-band, so a busy channel cannot stall the mailbox.
func (s *Server) handleList(ctx context.Context, ctrl Control) {
	type entry struct {
		info  ChannelInfo
		actor *Channel
	}
	snapshot := make([]entry, 0, len(s.state.Channels))
	for _, ch := range s.state.Channels {
		snapshot = append(snapshot, entry{
			info:  ChannelInfo{ID: ch.ID, Name: ch.Name, Topic: ch.Topic},
			actor: ch.Actor,
		})
	}

	go func() {
		infos := make([]ChannelInfo, 0, len(snapshot))
		for _, e := range snapshot {
			e.info.UserCount = len(e.actor.ListUsers(ctx))
			infos = append(infos, e.info)
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
		ctrl.reply <- Reply{Kind: ReplyChannelList, Channels: infos}
	}()
}

func (s *Server) handleNewChannel(name string) Reply {
	if ch := s.channelByName(name); ch != nil {
		return Reply{Kind: ReplyChannelInfo, Channel: s.channelInfo(ch)}
	}
	ch, err := s.createChannel(name)
	if err != nil {
		return errReply(err)
	}
	s.state.Channels[ch.ID] = ch
	s.log.Info().Str("channel", ch.Name).Str("channel_id", ch.ID.String()).Msg("channel created")
	return Reply{Kind: ReplyChannelInfo, Channel: s.channelInfo(ch)}
}

func (s *Server) handleFindChannel(name string) Reply {
	ch := s.channelByName(name)
	if ch == nil {
		return errReply(ErrChannelNameNotFound)
	}
	return Reply{Kind: ReplyChannelInfo, Channel: s.channelInfo(ch)}
}

func (s *Server) handleSetTopic(channelID uuid.UUID, topic string) Reply {
	ch, ok := s.state.Channels[channelID]
	if !ok {
		return errReply(ErrChannelNotFound)
	}
	ch.Topic = topic
	return Reply{Kind: ReplyAck}
}

func (s *Server) handleDropChannel(channelID uuid.UUID) Reply {
	ch, ok := s.state.Channels[channelID]
	if !ok {
		return errReply(ErrChannelNotFound)
	}
	for _, u := range s.state.Users {
		ks, joined := u.Channels[channelID]
		if !joined {
			continue
		}
		if ks != nil {
			ks.Shutdown()
		}
		delete(u.Channels, channelID)
	}
	ch.Actor.Close()
	delete(s.state.Channels, channelID)
	s.log.Info().Str("channel", ch.Name).Msg("channel dropped")
	return Reply{Kind: ReplyAck}
}

func (s *Server) handleConnect(nick, email string, mat Materializer, channelIDs []uuid.UUID) Reply {
	if s.userByNick(nick) != nil {
		return errReply(ErrNickTaken)
	}

	id := ident.New()
	subs := make(map[uuid.UUID]*KillSwitch)
	committed := false
	defer func() {
		// A panicking materializer must not leak the switches already
		// created for this command.
		if committed {
			return
		}
		for _, ks := range subs {
			if ks != nil {
				ks.Shutdown()
			}
		}
	}()

	for _, cid := range channelIDs {
		ch, ok := s.state.Channels[cid]
		if !ok {
			// Unknown ids are dropped from the subscription set.
			s.log.Debug().Str("nick", nick).Str("channel_id", cid.String()).Msg("connect: unknown channel id skipped")
			continue
		}
		if _, dup := subs[cid]; dup {
			continue
		}
		subs[cid] = s.materialize(mat, ch, id)
	}

	user := &UserData{
		ID:           id,
		Nick:         nick,
		Email:        email,
		Materializer: mat,
		Channels:     subs,
	}
	s.state.Users[id] = user
	committed = true
	s.log.Info().Str("nick", nick).Str("user_id", id.String()).Int("channels", len(subs)).Msg("user connected")
	return Reply{Kind: ReplyUserInfo, User: s.userInfo(user)}
}

func (s *Server) handleDisconnect(userID uuid.UUID) Reply {
	u, ok := s.state.Users[userID]
	if !ok {
		return errReply(ErrUserNotFound)
	}
	for cid, ks := range u.Channels {
		if ks != nil {
			ks.Shutdown()
		}
		delete(u.Channels, cid)
	}
	delete(s.state.Users, userID)
	s.log.Info().Str("nick", u.Nick).Msg("user disconnected")
	return Reply{Kind: ReplyAck}
}

func (s *Server) handleJoin(userID uuid.UUID, channelName string) Reply {
	u, ok := s.state.Users[userID]
	if !ok {
		return errReply(ErrUserNotFound)
	}

	ch := s.channelByName(channelName)
	if ch != nil {
		if _, joined := u.Channels[ch.ID]; joined {
			return errReply(ErrAlreadyJoined)
		}
	} else {
		created, err := s.createChannel(channelName)
		if err != nil {
			return errReply(err)
		}
		// Commit only after materialization cannot fail anymore.
		defer func() {
			if _, kept := s.state.Channels[created.ID]; !kept {
				created.Actor.Close()
			}
		}()
		ch = created
	}

	ks := s.materialize(u.Materializer, ch, userID)
	s.state.Channels[ch.ID] = ch
	u.Channels[ch.ID] = ks
	s.log.Debug().Str("nick", u.Nick).Str("channel", ch.Name).Msg("user joined channel")
	return Reply{Kind: ReplyAck}
}

func (s *Server) handleLeave(userID uuid.UUID, channelID uuid.UUID) Reply {
	u, ok := s.state.Users[userID]
	if !ok {
		return errReply(ErrUserNotFound)
	}
	ks, joined := u.Channels[channelID]
	if !joined {
		return errReply(ErrNotJoined)
	}
	if ks != nil {
		ks.Shutdown()
	}
	delete(u.Channels, channelID)
	s.log.Debug().Str("nick", u.Nick).Str("channel_id", channelID.String()).Msg("user left channel")
	return Reply{Kind: ReplyAck}
}

func (s *Server) handleGetUser(userID uuid.UUID) Reply {
	u, ok := s.state.Users[userID]
	if !ok {
		return errReply(ErrUserNotFound)
	}
	return Reply{Kind: ReplyUserInfo, User: s.userInfo(u)}
}

// materialize builds and starts the (user, channel) flow. Headless users
// have no materializer and get a nil switch.
func (s *Server) materialize(mat Materializer, ch *ChannelData, userID uuid.UUID) *KillSwitch {
	if mat == nil {
		return nil
	}
	return mat(newPartyFlow(ch.Actor, userID, s.sinkCap))
}

func (s *Server) createChannel(name string) (*ChannelData, error) {
	if !validChannelName(name) {
		return nil, ErrInvalidChannelName
	}
	id := ident.New()
	return &ChannelData{
		ID:    id,
		Name:  name,
		Actor: newChannel(id, name, s.sinkCap, s.log),
	}, nil
}

func (s *Server) channelByName(name string) *ChannelData {
	for _, ch := range s.state.Channels {
		if ch.Name == name {
			return ch
		}
	}
	return nil
}

func (s *Server) userByNick(nick string) *UserData {
	for _, u := range s.state.Users {
		if u.Nick == nick {
			return u
		}
	}
	return nil
}

// memberCount is the number of users joined to the channel, headless
// members included. List reports attached parties instead; the two views
// differ exactly by headless members.
func (s *Server) memberCount(channelID uuid.UUID) int {
	n := 0
	for _, u := range s.state.Users {
		if _, joined := u.Channels[channelID]; joined {
			n++
		}
	}
	return n
}

func (s *Server) channelInfo(ch *ChannelData) ChannelInfo {
	return ChannelInfo{
		ID:        ch.ID,
		Name:      ch.Name,
		Topic:     ch.Topic,
		UserCount: s.memberCount(ch.ID),
	}
}

func (s *Server) userInfo(u *UserData) UserInfo {
	channels := make([]ChannelInfo, 0, len(u.Channels))
	for cid := range u.Channels {
		if ch, ok := s.state.Channels[cid]; ok {
			channels = append(channels, s.channelInfo(ch))
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	return UserInfo{
		ID:       u.ID,
		Nick:     u.Nick,
		Email:    u.Email,
		Channels: channels,
	}
}

// validChannelName accepts non-empty names starting with a letter.
func validChannelName(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return name != "" && r != utf8.RuneError && unicode.IsLetter(r)
}
