package core

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestListEmpty(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	channels, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 0 {
		t.Fatalf("expected empty channel list, got %+v", channels)
	}
}

func TestNewChannelIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	first, err := s.NewChannel(ctx, "hardware")
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}
	if first.Name != "hardware" || first.UserCount != 0 {
		t.Fatalf("unexpected channel info: %+v", first)
	}

	second, err := s.NewChannel(ctx, "hardware")
	if err != nil {
		t.Fatalf("repeat new channel: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same channel id, got %s and %s", first.ID, second.ID)
	}

	channels, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected one channel, got %+v", channels)
	}
}

func TestNewChannelRejectsInvalidNames(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	for _, name := range []string{"", "1bad", " space", "-dash"} {
		if _, err := s.NewChannel(ctx, name); !errors.Is(err, ErrInvalidChannelName) {
			t.Fatalf("name %q: expected ErrInvalidChannelName, got %v", name, err)
		}
	}

	channels, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 0 {
		t.Fatalf("rejected names must not mutate state, got %+v", channels)
	}
}

func TestFindChannel(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	created, err := s.NewChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	found, err := s.FindChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("find channel: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected id %s, got %s", created.ID, found.ID)
	}

	if _, err := s.FindChannel(ctx, "dogs"); !errors.Is(err, ErrChannelNameNotFound) {
		t.Fatalf("expected ErrChannelNameNotFound, got %v", err)
	}
}

func TestSetTopic(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	ch, err := s.NewChannel(ctx, "hardware")
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	if err := s.SetTopic(ctx, ch.ID, "firmware talk"); err != nil {
		t.Fatalf("set topic: %v", err)
	}

	found, err := s.FindChannel(ctx, "hardware")
	if err != nil {
		t.Fatalf("find channel: %v", err)
	}
	if found.Topic != "firmware talk" {
		t.Fatalf("expected topic to stick, got %q", found.Topic)
	}

	if err := s.SetTopic(ctx, uuid.New(), "x"); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestConnectRejectsDuplicateNick(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	alice, err := s.Connect(ctx, "alice", "", nil, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if alice.Nick != "alice" || len(alice.Channels) != 0 {
		t.Fatalf("unexpected user info: %+v", alice)
	}

	if _, err := s.Connect(ctx, "alice", "", nil, nil); !errors.Is(err, ErrNickTaken) {
		t.Fatalf("expected ErrNickTaken, got %v", err)
	}
}

func TestConnectSubscribesListedChannels(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	cats, err := s.NewChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	bob, err := s.Connect(ctx, "bob", "", nil, []uuid.UUID{cats.ID})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(bob.Channels) != 1 || bob.Channels[0].Name != "cats" {
		t.Fatalf("expected bob subscribed to cats, got %+v", bob.Channels)
	}

	if err := s.Leave(ctx, bob.ID, cats.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := s.Leave(ctx, bob.ID, cats.ID); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined on second leave, got %v", err)
	}
}

func TestConnectDropsUnknownChannelIDs(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	cats, err := s.NewChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	ghost := uuid.New()
	info, err := s.Connect(ctx, "bob", "", nil, []uuid.UUID{ghost, cats.ID, ghost})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(info.Channels) != 1 || info.Channels[0].ID != cats.ID {
		t.Fatalf("expected only the existing channel kept, got %+v", info.Channels)
	}
}

func TestJoinCreatesMissingChannel(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	u, err := s.Connect(ctx, "carol", "", nil, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := s.Join(ctx, u.ID, "newchan"); err != nil {
		t.Fatalf("join: %v", err)
	}

	ch, err := s.FindChannel(ctx, "newchan")
	if err != nil {
		t.Fatalf("expected channel auto-created: %v", err)
	}
	if ch.UserCount != 1 {
		t.Fatalf("expected one member, got %d", ch.UserCount)
	}

	if err := s.DropChannel(ctx, ch.ID); err != nil {
		t.Fatalf("drop: %v", err)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(got.Channels) != 0 {
		t.Fatalf("expected no channels after drop, got %+v", got.Channels)
	}
}

func TestJoinErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	u, err := s.Connect(ctx, "dave", "", nil, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := s.Join(ctx, uuid.New(), "cats"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := s.Join(ctx, u.ID, "9lives"); !errors.Is(err, ErrInvalidChannelName) {
		t.Fatalf("expected ErrInvalidChannelName, got %v", err)
	}
	if _, err := s.FindChannel(ctx, "9lives"); !errors.Is(err, ErrChannelNameNotFound) {
		t.Fatalf("invalid join must not create the channel, got %v", err)
	}

	if err := s.Join(ctx, u.ID, "cats"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Join(ctx, u.ID, "cats"); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestDropChannelIsNotRepeatable(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	ch, err := s.NewChannel(ctx, "hardware")
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	if err := s.DropChannel(ctx, ch.ID); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := s.DropChannel(ctx, ch.ID); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound on second drop, got %v", err)
	}
}

func TestConnectDisconnectRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	if _, err := s.NewChannel(ctx, "lobby"); err != nil {
		t.Fatalf("new channel: %v", err)
	}

	before, err := s.ReadState(ctx)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}

	u, err := s.Connect(ctx, "eve", "eve@example.com", nil, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Disconnect(ctx, u.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := s.Disconnect(ctx, u.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound on second disconnect, got %v", err)
	}

	after, err := s.ReadState(ctx)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if len(after.Users) != len(before.Users) {
		t.Fatalf("expected user set restored, got %d users", len(after.Users))
	}
	if len(after.Channels) != len(before.Channels) {
		t.Fatalf("expected channel set untouched, got %d channels", len(after.Channels))
	}
}

func TestJoinLeaveFiresExactlyOneShutdown(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	party := newTestParty()
	u, err := s.Connect(ctx, "frank", "", party.materializer, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := s.Join(ctx, u.ID, "cats"); err != nil {
		t.Fatalf("join: %v", err)
	}
	ch, err := s.FindChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if fired, total := party.firedSwitches(); fired != 0 || total != 1 {
		t.Fatalf("expected one live switch, got fired=%d total=%d", fired, total)
	}

	if err := s.Leave(ctx, u.ID, ch.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if fired, total := party.firedSwitches(); fired != 1 || total != 1 {
		t.Fatalf("expected exactly one shutdown, got fired=%d total=%d", fired, total)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(got.Channels) != 0 {
		t.Fatalf("expected subscription map restored, got %+v", got.Channels)
	}
}

func TestDisconnectSeversAllSubscriptions(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	party := newTestParty()
	u, err := s.Connect(ctx, "gina", "", party.materializer, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, name := range []string{"cats", "dogs", "birds"} {
		if err := s.Join(ctx, u.ID, name); err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
	}

	if err := s.Disconnect(ctx, u.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if fired, total := party.firedSwitches(); fired != 3 || total != 3 {
		t.Fatalf("expected all three switches fired, got fired=%d total=%d", fired, total)
	}
}

func TestDropChannelKicksLiveSubscribers(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	party := newTestParty()
	u, err := s.Connect(ctx, "hana", "", party.materializer, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Join(ctx, u.ID, "cats"); err != nil {
		t.Fatalf("join: %v", err)
	}
	ch, err := s.FindChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("find: %v", err)
	}

	if err := s.DropChannel(ctx, ch.ID); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if fired, total := party.firedSwitches(); fired != 1 || total != 1 {
		t.Fatalf("expected the subscription severed, got fired=%d total=%d", fired, total)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(got.Channels) != 0 {
		t.Fatalf("expected no stale subscription, got %+v", got.Channels)
	}
}

func TestListCountsAttachedParties(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	ch, err := s.NewChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	party := newTestParty()
	if _, err := s.Connect(ctx, "live", "", party.materializer, []uuid.UUID{ch.ID}); err != nil {
		t.Fatalf("connect live: %v", err)
	}
	if _, err := s.Connect(ctx, "bot", "", nil, []uuid.UUID{ch.ID}); err != nil {
		t.Fatalf("connect headless: %v", err)
	}

	// List asks the channel actor: only the materialized party is attached.
	channels, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 1 || channels[0].UserCount != 1 {
		t.Fatalf("expected one attached party, got %+v", channels)
	}

	// The coordinator's own view counts joined members, headless included.
	found, err := s.FindChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.UserCount != 2 {
		t.Fatalf("expected two joined members, got %d", found.UserCount)
	}
}

func TestGetUserReportsLiveCounts(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	ch, err := s.NewChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	first, err := s.Connect(ctx, "ivy", "", nil, []uuid.UUID{ch.ID})
	if err != nil {
		t.Fatalf("connect ivy: %v", err)
	}
	if _, err := s.Connect(ctx, "jack", "", nil, []uuid.UUID{ch.ID}); err != nil {
		t.Fatalf("connect jack: %v", err)
	}

	got, err := s.GetUser(ctx, first.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if len(got.Channels) != 1 || got.Channels[0].UserCount != 2 {
		t.Fatalf("expected live member count 2, got %+v", got.Channels)
	}
}

func TestMaterializerPanicDoesNotPoisonCoordinator(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	boom := func(*PartyFlow) *KillSwitch { panic("materializer exploded") }

	ch, err := s.NewChannel(ctx, "cats")
	if err != nil {
		t.Fatalf("new channel: %v", err)
	}

	if _, err := s.Connect(ctx, "kate", "", boom, []uuid.UUID{ch.ID}); err == nil {
		t.Fatal("expected connect to surface the panic as an error")
	}

	// The failed command must not have registered the user.
	state, err := s.ReadState(ctx)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	if len(state.Users) != 0 {
		t.Fatalf("expected no users after failed connect, got %d", len(state.Users))
	}

	// And the coordinator keeps serving.
	if _, err := s.Connect(ctx, "kate", "", nil, nil); err != nil {
		t.Fatalf("coordinator poisoned: %v", err)
	}
}

func TestUpdateStateRunsInSerializedRegion(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	u, err := s.Connect(ctx, "lena", "", nil, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	err = s.UpdateState(ctx, func(d *ServerData) {
		d.Users[u.ID].Email = "lena@example.com"
	})
	if err != nil {
		t.Fatalf("update state: %v", err)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Email != "lena@example.com" {
		t.Fatalf("expected transform applied, got %q", got.Email)
	}
}

func TestFanOutThroughCoordinator(t *testing.T) {
	s := newTestServer(t)
	ctx := testCtx(t)

	alice := newTestParty()
	bob := newTestParty()

	au, err := s.Connect(ctx, "alice", "", alice.materializer, nil)
	if err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	bu, err := s.Connect(ctx, "bob", "", bob.materializer, nil)
	if err != nil {
		t.Fatalf("connect bob: %v", err)
	}
	if err := s.Join(ctx, au.ID, "general"); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := s.Join(ctx, bu.ID, "general"); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	alice.say(t, "general", "hello bob")

	msg := mustMessage(t, bob.out, "hello bob")
	if msg.AuthorID != au.ID || msg.Channel != "general" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	// The publisher hears itself as well.
	mustMessage(t, alice.out, "hello bob")

	ch, err := s.FindChannel(ctx, "general")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := s.Leave(ctx, bu.ID, ch.ID); err != nil {
		t.Fatalf("leave bob: %v", err)
	}

	alice.say(t, "general", "anyone here")
	mustMessage(t, alice.out, "anyone here")
	mustNoMessage(t, bob.out)
}
