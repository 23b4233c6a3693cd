package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/dispatcher"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport/transporttest"
)

const (
	corePath     = "users"
	presencePath = "users/alice/presence"
	cursorsPath  = "cursors/0/users/alice"
	filesPath    = "users/alice/files"
)

type recorder struct {
	mu     sync.Mutex
	calls  []string
	errs   []error
	joined []*domain.User
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) listener() dispatcher.ListenerFuncs {
	return dispatcher.ListenerFuncs{
		CurrentUser: func(cu *domain.CurrentUser) { r.add("current:%s", cu.User.ID) },
		Error: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.add("error")
		},
		RemovedFromRoom: func(id int) { r.add("removed:%d", id) },
		AddedToRoom:     func(room *domain.Room) { r.add("added:%d", room.ID) },
		RoomUpdated:     func(room *domain.Room) { r.add("updated:%d", room.ID) },
		RoomDeleted:     func(id int) { r.add("deleted:%d", id) },
		UserJoinedRoom: func(u *domain.User, room *domain.Room) {
			r.mu.Lock()
			r.joined = append(r.joined, u)
			r.mu.Unlock()
			r.add("joined:%s@%d", u.ID, room.ID)
		},
		UserLeftRoom:    func(u *domain.User, room *domain.Room) { r.add("left:%s@%d", u.ID, room.ID) },
		UserCameOnline:  func(u *domain.User) { r.add("online:%s", u.ID) },
		UserWentOffline: func(u *domain.User) { r.add("offline:%s", u.ID) },
		CursorUpdated:   func(c *domain.Cursor) { r.add("cursor:%s@%d=%d", c.UserID, c.RoomID, c.Position) },
	}
}

type harness struct {
	t       *testing.T
	factory *transporttest.Factory
	queue   *dispatcher.Queue
	rec     *recorder
	sub     *Subscription
}

func newHarness(t *testing.T, prepare ...func(*transporttest.Factory)) *harness {
	t.Helper()
	f := transporttest.NewFactory()
	eps, err := transport.NewEndpoints(f, transport.EndpointConfig{Locator: "v1:us1:inst"})
	require.NoError(t, err)
	for _, p := range prepare {
		p(f)
	}

	q := dispatcher.NewQueue(zerolog.Nop())
	rec := &recorder{}
	sub, err := New(Config{
		UserID:    "alice",
		Endpoints: eps,
		Listeners: dispatcher.From(rec.listener(), q, zerolog.Nop()),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	h := &harness{t: t, factory: f, queue: q, rec: rec, sub: sub}
	t.Cleanup(func() {
		sub.Disconnect()
		q.Close()
	})
	sub.Start(context.Background())
	return h
}

func (h *harness) stream(service, path string) *transporttest.Stream {
	h.t.Helper()
	inst := h.factory.Instance(service)
	require.NotNil(h.t, inst)
	require.Eventually(h.t, func() bool { return inst.Stream(path) != nil }, 2*time.Second, time.Millisecond)
	return inst.Stream(path)
}

func (h *harness) core() *transporttest.Stream { return h.stream(transport.ServiceCore, corePath) }

func (h *harness) presence() *transporttest.Stream {
	return h.stream(transport.ServicePresence, presencePath)
}

// settle waits until every pushed delivery has been handled and the
// queue has run the resulting callbacks. A stream's run loop is serial, so
// once it has taken the Sync marker it is done with every earlier delivery.
func (h *harness) settle() {
	h.t.Helper()
	var streams []*transporttest.Stream
	for _, s := range []struct{ svc, path string }{
		{transport.ServiceCore, corePath},
		{transport.ServicePresence, presencePath},
		{transport.ServiceCursors, cursorsPath},
		{transport.ServiceFiles, filesPath},
	} {
		if st := h.factory.Instance(s.svc).Stream(s.path); st != nil {
			streams = append(streams, st)
			st.Sync()
		}
	}
	require.Eventually(h.t, func() bool {
		for _, st := range streams {
			if st.Received() != st.Sent() {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(h.t, h.queue.Flush(ctx))
}

func (h *harness) initialState(rooms ...map[string]any) {
	h.t.Helper()
	if rooms == nil {
		rooms = []map[string]any{}
	}
	h.core().Push(domain.EventInitialState, map[string]any{
		"current_user": map[string]any{"id": "alice", "name": "Alice"},
		"rooms":        rooms,
	})
	require.Eventually(h.t, func() bool { return h.sub.State() == StateActive }, 2*time.Second, time.Millisecond)
}

func room(id int, members ...string) map[string]any {
	if members == nil {
		members = []string{}
	}
	return map[string]any{"id": id, "name": fmt.Sprintf("room-%d", id), "member_user_ids": members}
}

func TestCurrentUserPrecedesAddedToRoom(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateConnecting, h.sub.State())

	h.initialState()
	h.core().Push(domain.EventAddedToRoom, map[string]any{"room": room(42)})
	h.settle()

	assert.Equal(t, []string{"current:alice", "added:42"}, h.rec.snapshot())
	r, ok := h.sub.Room(42)
	require.True(t, ok)
	assert.Equal(t, "room-42", r.GetName())
	assert.Equal(t, "Alice", h.sub.CurrentUser().User.GetName())
}

func TestNonCoreCallbacksWaitForCurrentUser(t *testing.T) {
	h := newHarness(t)

	h.presence().Push(domain.EventPresenceUpdate, map[string]any{"user_id": "bob", "state": "online"})
	h.initialState()
	h.settle()

	assert.Equal(t, []string{"current:alice", "online:bob"}, h.rec.snapshot())
}

func TestMembershipReflectsNetEffect(t *testing.T) {
	h := newHarness(t)
	h.initialState(room(1, "alice"))

	core, presence := h.core(), h.presence()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, step := range []struct{ name, user string }{
			{domain.EventUserJoined, "bob"},
			{domain.EventUserJoined, "carol"},
			{domain.EventUserLeft, "bob"},
			{domain.EventUserJoined, "bob"},
			{domain.EventUserLeft, "carol"},
			{domain.EventUserLeft, "nobody"},
		} {
			core.Push(step.name, map[string]any{"room_id": 1, "user_id": step.user})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			presence.Push(domain.EventPresenceUpdate, map[string]any{"user_id": fmt.Sprintf("p%d", i), "state": "online"})
		}
	}()
	wg.Wait()
	h.settle()

	r, ok := h.sub.Room(1)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, r.MemberIDs())
}

func TestSameStreamCallbacksKeepOrder(t *testing.T) {
	h := newHarness(t)
	h.initialState(room(1))

	var want []string
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("u%02d", i)
		h.core().Push(domain.EventUserJoined, map[string]any{"room_id": 1, "user_id": id})
		want = append(want, "joined:"+id+"@1")
	}
	h.settle()

	assert.Equal(t, want, h.rec.snapshot()[1:])
}

func TestRoomDeletedForUnknownRoom(t *testing.T) {
	h := newHarness(t)
	h.initialState()

	h.core().Push(domain.EventRoomDeleted, map[string]any{"room_id": 7})
	h.settle()

	assert.Equal(t, []string{"current:alice", "deleted:7"}, h.rec.snapshot())
	_, ok := h.sub.Room(7)
	assert.False(t, ok)
}

func TestMembershipAfterRemovalDoesNotRestoreRoom(t *testing.T) {
	h := newHarness(t)
	h.initialState(room(1, "alice", "bob"))

	h.core().Push(domain.EventRemovedFromRoom, map[string]any{"room_id": 1})
	h.core().Push(domain.EventUserLeft, map[string]any{"room_id": 1, "user_id": "alice"})
	h.core().Push(domain.EventRoomUpdated, map[string]any{"room": room(1, "bob")})
	h.settle()

	assert.Equal(t, []string{"current:alice", "removed:1"}, h.rec.snapshot())
	_, ok := h.sub.Room(1)
	assert.False(t, ok)
	assert.Empty(t, h.sub.Rooms())
}

func TestMembershipAfterDeletionIsDropped(t *testing.T) {
	h := newHarness(t)
	h.initialState(room(7))

	h.core().Push(domain.EventRoomDeleted, map[string]any{"room_id": 7})
	h.core().Push(domain.EventUserJoined, map[string]any{"room_id": 7, "user_id": "carol"})
	h.settle()

	assert.Equal(t, []string{"current:alice", "deleted:7"}, h.rec.snapshot())
	_, ok := h.sub.Room(7)
	assert.False(t, ok)

	// A resync that no longer lists the room reports nothing further.
	h.core().Push(domain.EventInitialState, map[string]any{
		"current_user": map[string]any{"id": "alice"},
		"rooms":        []map[string]any{},
	})
	h.settle()
	assert.Equal(t, []string{"current:alice", "deleted:7"}, h.rec.snapshot())
}

func TestAddedToRoomAfterRemovalRestoresRoom(t *testing.T) {
	h := newHarness(t)
	h.initialState(room(1, "alice"))

	h.core().Push(domain.EventRemovedFromRoom, map[string]any{"room_id": 1})
	h.core().Push(domain.EventAddedToRoom, map[string]any{"room": room(1, "alice")})
	h.core().Push(domain.EventUserJoined, map[string]any{"room_id": 1, "user_id": "bob"})
	h.settle()

	assert.Equal(t, []string{"current:alice", "removed:1", "added:1", "joined:bob@1"}, h.rec.snapshot())
	r, ok := h.sub.Room(1)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, r.MemberIDs())
}

func TestPresenceErrorDegradesWithoutStoppingCore(t *testing.T) {
	h := newHarness(t)
	h.initialState()

	h.presence().Fail(errors.New("connection reset"))
	require.Eventually(t, func() bool { return h.sub.State() == StateDegraded }, 2*time.Second, time.Millisecond)

	h.core().Push(domain.EventAddedToRoom, map[string]any{"room": room(5)})
	h.settle()

	assert.Equal(t, []string{"current:alice", "error", "added:5"}, h.rec.snapshot())
	errs := h.rec.errors()
	require.Len(t, errs, 1)
	var se *StreamError
	require.ErrorAs(t, errs[0], &se)
	assert.Equal(t, transport.ServicePresence, se.Service)
	assert.False(t, IsFatal(errs[0]))

	h.presence().Push(domain.EventPresenceUpdate, map[string]any{"user_id": "bob", "state": "online"})
	require.Eventually(t, func() bool { return h.sub.State() == StateActive }, 2*time.Second, time.Millisecond)
}

func TestPresenceStreamLossLeavesSubscriptionUp(t *testing.T) {
	h := newHarness(t)
	h.initialState()

	h.presence().End()
	require.Eventually(t, func() bool { return h.sub.State() == StateDegraded }, 2*time.Second, time.Millisecond)

	h.core().Push(domain.EventAddedToRoom, map[string]any{"room": room(6)})
	h.settle()
	assert.Contains(t, h.rec.snapshot(), "added:6")
}

func TestLateEventAfterDisconnectIsDropped(t *testing.T) {
	h := newHarness(t)
	h.initialState()
	core := h.core()

	h.sub.Disconnect()
	assert.Equal(t, StateTerminated, h.sub.State())
	assert.True(t, core.Closed())

	core.Push(domain.EventAddedToRoom, map[string]any{"room": room(9)})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.queue.Flush(ctx))

	assert.Equal(t, []string{"current:alice"}, h.rec.snapshot())
	assert.NoError(t, h.sub.Err())
}

func TestFatalCoreErrorTerminatesOnce(t *testing.T) {
	h := newHarness(t)
	h.initialState()
	presence := h.presence()

	h.core().FailFatal(errors.New("retries exhausted"))
	select {
	case <-h.sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not terminate")
	}

	presence.Push(domain.EventPresenceUpdate, map[string]any{"user_id": "bob", "state": "online"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.queue.Flush(ctx))

	assert.Equal(t, []string{"current:alice", "error"}, h.rec.snapshot())
	assert.True(t, IsFatal(h.sub.Err()))
	assert.True(t, presence.Closed())
}

func TestCoreOpenFailureIsFatal(t *testing.T) {
	h := newHarness(t, func(f *transporttest.Factory) {
		f.Instance(transport.ServiceCore).FailOpen(corePath, errors.New("dial refused"))
	})

	require.Eventually(t, func() bool { return h.sub.State() == StateTerminated }, 2*time.Second, time.Millisecond)
	require.NoError(t, h.queue.Flush(context.Background()))
	assert.Equal(t, []string{"error"}, h.rec.snapshot())
	assert.True(t, IsFatal(h.sub.Err()))
}

func TestUnknownAndMalformedEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.initialState()

	h.core().Push("brand_new_event", map[string]any{"x": 1})
	h.core().PushRaw(domain.EventAddedToRoom, []byte(`{"room":`))
	h.core().PushRaw(domain.EventRoomDeleted, nil)
	h.stream(transport.ServiceFiles, filesPath).Push("file_uploaded", map[string]any{})
	h.core().Push(domain.EventAddedToRoom, map[string]any{"room": room(3)})
	h.settle()

	assert.Equal(t, []string{"current:alice", "added:3"}, h.rec.snapshot())
	assert.Equal(t, StateActive, h.sub.State())
}

func TestPresenceTransitions(t *testing.T) {
	h := newHarness(t)
	h.initialState()

	h.presence().Push(domain.EventInitialState, map[string]any{"user_states": []map[string]any{
		{"user_id": "bob", "state": "online"},
		{"user_id": "carol", "state": "offline"},
	}})
	h.presence().Push(domain.EventPresenceUpdate, map[string]any{"user_id": "bob", "state": "online"})
	h.presence().Push(domain.EventJoinRoomPresenceUpdate, map[string]any{"user_states": []map[string]any{
		{"user_id": "carol", "state": "online"},
	}})
	h.presence().Push(domain.EventPresenceUpdate, map[string]any{"user_id": "bob", "state": "offline"})
	h.settle()

	assert.Equal(t, []string{"current:alice", "online:bob", "online:carol", "offline:bob"}, h.rec.snapshot())
}

func TestInitialStateResync(t *testing.T) {
	h := newHarness(t)
	h.initialState(room(1), room(2))

	h.core().Fail(errors.New("reconnecting"))
	h.core().Push(domain.EventInitialState, map[string]any{
		"current_user": map[string]any{"id": "alice"},
		"rooms":        []map[string]any{room(2), room(3)},
	})
	h.settle()

	assert.Equal(t, []string{"current:alice", "error", "added:3", "removed:1"}, h.rec.snapshot())
	ids := []int{}
	for _, r := range h.sub.Rooms() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int{2, 3}, ids)
	assert.Equal(t, StateActive, h.sub.State())
}

func TestCursorsResolveBackReferences(t *testing.T) {
	h := newHarness(t)
	h.initialState(room(1, "alice", "bob"))

	cursors := h.stream(transport.ServiceCursors, cursorsPath)
	cursors.Push(domain.EventInitialState, map[string]any{"cursors": []map[string]any{
		{"user_id": "bob", "room_id": 1, "cursor_type": 0, "position": 10},
	}})
	cursors.Push(domain.EventNewCursor, map[string]any{"user_id": "bob", "room_id": 1, "cursor_type": 0, "position": 12})
	h.settle()

	assert.Equal(t, []string{"current:alice", "cursor:bob@1=10", "cursor:bob@1=12"}, h.rec.snapshot())
	c, ok := h.sub.Cursor(1, "bob")
	require.True(t, ok)
	assert.Equal(t, 12, c.Position)
	r, _ := h.sub.Room(1)
	assert.Same(t, r, c.Room)
	assert.Equal(t, "bob", c.User.ID)
}

func TestPlaceholderUserIsEnrichedInPlace(t *testing.T) {
	h := newHarness(t, func(f *transporttest.Factory) {
		f.Instance(transport.ServiceCore).RespondJSON("users/zed", map[string]any{"id": "zed", "name": "Zed"})
	})
	h.initialState(room(1))

	h.core().Push(domain.EventUserJoined, map[string]any{"room_id": 1, "user_id": "zed"})
	h.settle()

	h.rec.mu.Lock()
	require.Len(t, h.rec.joined, 1)
	zed := h.rec.joined[0]
	h.rec.mu.Unlock()

	require.Eventually(t, func() bool { return zed.GetName() == "Zed" }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, h.factory.Instance(transport.ServiceCore).RequestCount("users/zed"))
}

func TestUserUpdatedMergesIntoStore(t *testing.T) {
	h := newHarness(t)
	h.initialState()

	h.core().Push(domain.EventUserUpdated, map[string]any{"user": map[string]any{"id": "alice", "avatar_url": "http://a"}})
	h.settle()

	u := h.sub.CurrentUser().User
	assert.Equal(t, "Alice", u.GetName())
	assert.Equal(t, "http://a", u.GetAvatarURL())
}

func TestFetchMessages(t *testing.T) {
	h := newHarness(t, func(f *transporttest.Factory) {
		f.Instance(transport.ServiceCore).RespondJSON("rooms/1/messages", []map[string]any{
			{"id": 10, "user_id": "alice", "room_id": 1, "text": "hi"},
			{"id": 11, "user_id": "bob", "room_id": 1, "attachment": map[string]any{
				"resource_link": "attachments/tok", "type": "image", "fetch_required": true,
			}},
		})
	})
	h.initialState(room(1))

	msgs, err := h.sub.FetchMessages(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	r, _ := h.sub.Room(1)
	assert.Same(t, r, msgs[0].Room)
	assert.Same(t, h.sub.CurrentUser().User, msgs[0].User)
	assert.Equal(t, "bob", msgs[1].User.ID)
	require.NotNil(t, msgs[1].Attachment)
	assert.True(t, msgs[1].Attachment.FetchRequired)

	reqs := h.factory.Instance(transport.ServiceCore).Requests()
	var found bool
	for _, req := range reqs {
		if req.Path == "rooms/1/messages" {
			found = true
			assert.Equal(t, "20", req.Query.Get("limit"))
		}
	}
	assert.True(t, found)
}

func TestFetchAttachment(t *testing.T) {
	h := newHarness(t, func(f *transporttest.Factory) {
		f.Instance(transport.ServiceFiles).RespondJSON("attachments/tok", map[string]any{
			"resource_link": "https://cdn.example/x.png",
		})
	})
	h.initialState()

	resolved, err := h.sub.FetchAttachment(context.Background(), &domain.Attachment{
		FetchRequired: true, Link: "attachments/tok", Type: "image",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/x.png", resolved.Link)
	assert.Equal(t, "image", resolved.Type)
	assert.False(t, resolved.FetchRequired)

	direct := &domain.Attachment{Link: "https://cdn.example/y.png", Type: "image"}
	got, err := h.sub.FetchAttachment(context.Background(), direct)
	require.NoError(t, err)
	assert.Same(t, direct, got)

	h.sub.Disconnect()
	_, err = h.sub.FetchMessages(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestStreamError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &StreamError{Service: "chatkit", Err: errors.New("x"), Fatal: true})
	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(&StreamError{Service: "chatkit_presence"}))
	assert.False(t, IsFatal(errors.New("plain")))
}
