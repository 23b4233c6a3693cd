package subscription

import (
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
	"github.com/weiawesome/wes-io-live-chatkit/pkg/log"
)

type initialStatePayload struct {
	CurrentUser *domain.User   `json:"current_user"`
	Rooms       []*domain.Room `json:"rooms"`
}

type roomPayload struct {
	Room *domain.Room `json:"room"`
}

type roomIDPayload struct {
	RoomID int `json:"room_id"`
}

type membershipPayload struct {
	RoomID int    `json:"room_id"`
	UserID string `json:"user_id"`
}

type userPayload struct {
	User *domain.User `json:"user"`
}

// applyCore handles the core stream. Changes arriving before the initial
// state are applied without callbacks; the initial state reports them.
func (s *Subscription) applyCore(evt *domain.ChatEvent) {
	switch evt.EventName {
	case domain.EventInitialState:
		var p initialStatePayload
		if s.decode(evt, &p) {
			s.applyInitialState(&p)
		}

	case domain.EventAddedToRoom:
		var p roomPayload
		if !s.decode(evt, &p) || p.Room == nil {
			return
		}
		delete(s.gone, p.Room.ID)
		r := s.mergeRoomLocked(p.Room)
		if s.emitting() {
			s.listeners.AddedToRoom(r)
		}

	case domain.EventRoomUpdated:
		var p roomPayload
		if !s.decode(evt, &p) || p.Room == nil || s.goneLocked(p.Room.ID) {
			return
		}
		r := s.mergeRoomLocked(p.Room)
		if s.emitting() {
			s.listeners.RoomUpdated(r)
		}

	case domain.EventRemovedFromRoom:
		var p roomIDPayload
		if !s.decode(evt, &p) {
			return
		}
		delete(s.rooms, p.RoomID)
		s.gone[p.RoomID] = struct{}{}
		if s.emitting() {
			s.listeners.RemovedFromRoom(p.RoomID)
		}

	case domain.EventRoomDeleted:
		var p roomIDPayload
		if !s.decode(evt, &p) {
			return
		}
		delete(s.rooms, p.RoomID)
		s.gone[p.RoomID] = struct{}{}
		if s.emitting() {
			s.listeners.RoomDeleted(p.RoomID)
		}

	case domain.EventUserJoined:
		var p membershipPayload
		if !s.decode(evt, &p) || p.UserID == "" || s.goneLocked(p.RoomID) {
			return
		}
		r := s.roomLocked(p.RoomID)
		u := s.users.Resolve(p.UserID)
		if r.AddMember(p.UserID) && s.emitting() {
			s.listeners.UserJoinedRoom(u, r)
		}

	case domain.EventUserLeft:
		var p membershipPayload
		if !s.decode(evt, &p) || p.UserID == "" || s.goneLocked(p.RoomID) {
			return
		}
		r := s.roomLocked(p.RoomID)
		u := s.users.Resolve(p.UserID)
		if r.RemoveMember(p.UserID) && s.emitting() {
			s.listeners.UserLeftRoom(u, r)
		}

	case domain.EventUserUpdated:
		var p userPayload
		if s.decode(evt, &p) && p.User != nil {
			s.users.Update(p.User)
		}

	default:
		s.unknownEvent(transport.ServiceCore, evt)
	}
}

// applyInitialState activates the subscription on first delivery. A later
// initial state (after the core stream reconnects) is reconciled against
// the room table instead.
func (s *Subscription) applyInitialState(p *initialStatePayload) {
	clear(s.gone)
	var user *domain.User
	if p.CurrentUser != nil && p.CurrentUser.ID != "" {
		user = s.users.Update(p.CurrentUser)
	} else {
		user = s.users.Resolve(s.userID)
	}

	if s.currentUser == nil {
		fresh := make(map[int]*domain.Room, len(p.Rooms))
		for _, room := range p.Rooms {
			if room == nil {
				continue
			}
			fresh[room.ID] = s.mergeRoomLocked(room)
		}
		// Rooms only known through earlier placeholder events are not
		// part of the user's state.
		for id := range s.rooms {
			if _, ok := fresh[id]; !ok {
				delete(s.rooms, id)
			}
		}

		s.currentUser = user
		next := StateActive
		if len(s.degraded) > 0 {
			next = StateDegraded
		}
		s.setStateLocked(next)
		close(s.active)
		s.logger.Info().Int("rooms", len(s.rooms)).Msg("current user received")
		s.listeners.CurrentUserReceived(&domain.CurrentUser{User: user, Rooms: s.roomsLocked()})
		return
	}

	s.logger.Info().Msg("resynchronising after core reconnect")
	seen := make(map[int]bool, len(p.Rooms))
	for _, room := range p.Rooms {
		if room == nil {
			continue
		}
		seen[room.ID] = true
		existing, known := s.rooms[room.ID]
		var before string
		if known {
			before = existing.GetUpdatedAt()
		}
		r := s.mergeRoomLocked(room)
		switch {
		case !known:
			s.listeners.AddedToRoom(r)
		case r.GetUpdatedAt() != before:
			s.listeners.RoomUpdated(r)
		}
	}
	for _, r := range s.roomsLocked() {
		if !seen[r.ID] {
			delete(s.rooms, r.ID)
			s.listeners.RemovedFromRoom(r.ID)
		}
	}
}

// emitting reports whether callbacks may be issued for core changes.
func (s *Subscription) emitting() bool {
	return s.currentUser != nil
}

// goneLocked reports whether roomID was removed or deleted since the last
// initial state, in which case later events for it are dropped.
func (s *Subscription) goneLocked(roomID int) bool {
	if _, ok := s.gone[roomID]; ok {
		s.logger.Debug().Int(log.FieldRoomID, roomID).Msg("dropping event for departed room")
		return true
	}
	return false
}

// roomLocked returns the canonical room, creating a placeholder.
func (s *Subscription) roomLocked(id int) *domain.Room {
	r, ok := s.rooms[id]
	if !ok {
		r = domain.NewRoom(id)
		s.rooms[id] = r
		s.logger.Debug().Int(log.FieldRoomID, id).Msg("created placeholder room")
	}
	return r
}

func (s *Subscription) mergeRoomLocked(room *domain.Room) *domain.Room {
	r, ok := s.rooms[room.ID]
	if !ok {
		s.rooms[room.ID] = room
		return room
	}
	r.Merge(room)
	return r
}
