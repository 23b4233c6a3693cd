package subscription

import (
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/domain"
	"github.com/weiawesome/wes-io-live-chatkit/chatkit/transport"
)

type presenceStatesPayload struct {
	UserStates []domain.UserPresence `json:"user_states"`
}

func (s *Subscription) applyPresence(evt *domain.ChatEvent) {
	switch evt.EventName {
	case domain.EventInitialState, domain.EventJoinRoomPresenceUpdate:
		var p presenceStatesPayload
		if !s.decode(evt, &p) {
			return
		}
		for _, up := range p.UserStates {
			s.setPresenceLocked(up)
		}

	case domain.EventPresenceUpdate:
		var up domain.UserPresence
		if s.decode(evt, &up) {
			s.setPresenceLocked(up)
		}

	default:
		s.unknownEvent(transport.ServicePresence, evt)
	}
}

// setPresenceLocked records a presence state. Only transitions are
// reported; a first sighting as offline is not a change.
func (s *Subscription) setPresenceLocked(up domain.UserPresence) {
	if up.UserID == "" {
		return
	}
	u := s.users.Resolve(up.UserID)
	prev := u.GetPresence()
	if !u.SetPresence(up.State) {
		return
	}
	switch up.State {
	case domain.PresenceOnline:
		s.listeners.UserCameOnline(u)
	case domain.PresenceOffline:
		if prev != domain.PresenceUnknown {
			s.listeners.UserWentOffline(u)
		}
	}
}
