package dispatcher

import "github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"

// Listener receives subscription callbacks.
type Listener interface {
	OnCurrentUser(user *domain.CurrentUser)
	OnError(err error)
	OnRemovedFromRoom(roomID int)
	OnAddedToRoom(room *domain.Room)
	OnRoomUpdated(room *domain.Room)
	OnRoomDeleted(roomID int)
	OnUserJoinedRoom(user *domain.User, room *domain.Room)
	OnUserLeftRoom(user *domain.User, room *domain.Room)
	OnUserCameOnline(user *domain.User)
	OnUserWentOffline(user *domain.User)
}

// CursorListener is optionally implemented by a Listener to receive
// read-cursor updates.
type CursorListener interface {
	OnCursorUpdated(cursor *domain.Cursor)
}

// ListenerFuncs implements Listener and CursorListener with optional
// function fields. Nil fields are no-ops.
type ListenerFuncs struct {
	CurrentUser     func(*domain.CurrentUser)
	Error           func(error)
	RemovedFromRoom func(int)
	AddedToRoom     func(*domain.Room)
	RoomUpdated     func(*domain.Room)
	RoomDeleted     func(int)
	UserJoinedRoom  func(*domain.User, *domain.Room)
	UserLeftRoom    func(*domain.User, *domain.Room)
	UserCameOnline  func(*domain.User)
	UserWentOffline func(*domain.User)
	CursorUpdated   func(*domain.Cursor)
}

func (f ListenerFuncs) OnCurrentUser(u *domain.CurrentUser) {
	if f.CurrentUser != nil {
		f.CurrentUser(u)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f ListenerFuncs) OnRemovedFromRoom(id int) {
	if f.RemovedFromRoom != nil {
		f.RemovedFromRoom(id)
	}
}

func (f ListenerFuncs) OnAddedToRoom(r *domain.Room) {
	if f.AddedToRoom != nil {
		f.AddedToRoom(r)
	}
}

func (f ListenerFuncs) OnRoomUpdated(r *domain.Room) {
	if f.RoomUpdated != nil {
		f.RoomUpdated(r)
	}
}

func (f ListenerFuncs) OnRoomDeleted(id int) {
	if f.RoomDeleted != nil {
		f.RoomDeleted(id)
	}
}

func (f ListenerFuncs) OnUserJoinedRoom(u *domain.User, r *domain.Room) {
	if f.UserJoinedRoom != nil {
		f.UserJoinedRoom(u, r)
	}
}

func (f ListenerFuncs) OnUserLeftRoom(u *domain.User, r *domain.Room) {
	if f.UserLeftRoom != nil {
		f.UserLeftRoom(u, r)
	}
}

func (f ListenerFuncs) OnUserCameOnline(u *domain.User) {
	if f.UserCameOnline != nil {
		f.UserCameOnline(u)
	}
}

func (f ListenerFuncs) OnUserWentOffline(u *domain.User) {
	if f.UserWentOffline != nil {
		f.UserWentOffline(u)
	}
}

func (f ListenerFuncs) OnCursorUpdated(c *domain.Cursor) {
	if f.CursorUpdated != nil {
		f.CursorUpdated(c)
	}
}
