package dispatcher

import (
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
)

// Listeners wraps a Listener so that every callback is scheduled on an
// Executor instead of being invoked on the caller's goroutine. It is the
// only path by which subscription callbacks reach application code.
// A panicking callback is logged and swallowed whatever the executor.
type Listeners struct {
	listener Listener
	cursors  CursorListener
	exec     Executor
	logger   zerolog.Logger
}

// From binds listener to exec.
func From(listener Listener, exec Executor, logger zerolog.Logger) *Listeners {
	cl, _ := listener.(CursorListener)
	return &Listeners{listener: listener, cursors: cl, exec: exec, logger: logger}
}

func (l *Listeners) schedule(callback string, fn func()) {
	l.exec.Schedule(func() {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error().
					Str("callback", callback).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("listener callback panicked")
			}
		}()
		fn()
	})
}

func (l *Listeners) CurrentUserReceived(u *domain.CurrentUser) {
	l.schedule("current_user", func() { l.listener.OnCurrentUser(u) })
}

func (l *Listeners) Error(err error) {
	l.schedule("error", func() { l.listener.OnError(err) })
}

func (l *Listeners) RemovedFromRoom(roomID int) {
	l.schedule("removed_from_room", func() { l.listener.OnRemovedFromRoom(roomID) })
}

func (l *Listeners) AddedToRoom(r *domain.Room) {
	l.schedule("added_to_room", func() { l.listener.OnAddedToRoom(r) })
}

func (l *Listeners) RoomUpdated(r *domain.Room) {
	l.schedule("room_updated", func() { l.listener.OnRoomUpdated(r) })
}

func (l *Listeners) RoomDeleted(roomID int) {
	l.schedule("room_deleted", func() { l.listener.OnRoomDeleted(roomID) })
}

func (l *Listeners) UserJoinedRoom(u *domain.User, r *domain.Room) {
	l.schedule("user_joined", func() { l.listener.OnUserJoinedRoom(u, r) })
}

func (l *Listeners) UserLeftRoom(u *domain.User, r *domain.Room) {
	l.schedule("user_left", func() { l.listener.OnUserLeftRoom(u, r) })
}

func (l *Listeners) UserCameOnline(u *domain.User) {
	l.schedule("user_came_online", func() { l.listener.OnUserCameOnline(u) })
}

func (l *Listeners) UserWentOffline(u *domain.User) {
	l.schedule("user_went_offline", func() { l.listener.OnUserWentOffline(u) })
}

// CursorUpdated is a no-op unless the listener implements CursorListener.
func (l *Listeners) CursorUpdated(c *domain.Cursor) {
	if l.cursors == nil {
		return
	}
	l.schedule("cursor_updated", func() { l.cursors.OnCursorUpdated(c) })
}
