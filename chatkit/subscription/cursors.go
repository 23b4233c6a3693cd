package subscription

import (
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
)

type cursorsPayload struct {
	Cursors []*domain.Cursor `json:"cursors"`
}

func (s *Subscription) applyCursors(evt *domain.ChatEvent) {
	switch evt.EventName {
	case domain.EventInitialState:
		var p cursorsPayload
		if !s.decode(evt, &p) {
			return
		}
		for _, c := range p.Cursors {
			s.setCursorLocked(c)
		}

	case domain.EventNewCursor:
		var c domain.Cursor
		if s.decode(evt, &c) {
			s.setCursorLocked(&c)
		}

	default:
		s.unknownEvent(transport.ServiceCursors, evt)
	}
}

// setCursorLocked stores c with its back-references resolved. A cursor
// for a room the user has not joined keeps a nil Room.
func (s *Subscription) setCursorLocked(c *domain.Cursor) {
	if c == nil || c.UserID == "" {
		return
	}
	c.User = s.users.Resolve(c.UserID)
	c.Room = s.rooms[c.RoomID]
	s.cursors[cursorKey{roomID: c.RoomID, userID: c.UserID}] = c
	s.listeners.CursorUpdated(c)
}

// applyFiles handles the files stream, which carries nothing the
// subscription acts on.
func (s *Subscription) applyFiles(evt *domain.ChatEvent) {
	s.unknownEvent(transport.ServiceFiles, evt)
}
