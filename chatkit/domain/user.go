package domain

import (
	"sync"
)

// PresenceState is a user's last known presence.
type PresenceState string

const (
	PresenceUnknown PresenceState = ""
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// CustomData is free-form application metadata attached to a user.
type CustomData map[string]string

// User is the canonical record for a chat user. One *User exists per id
// for the lifetime of a subscription; it is updated in place, so read it
// through the Get* accessors when it is shared with a listener.
type User struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	AvatarURL  string        `json:"avatar_url,omitempty"`
	CustomData CustomData    `json:"custom_data,omitempty"`
	CreatedAt  string        `json:"created_at,omitempty"`
	UpdatedAt  string        `json:"updated_at,omitempty"`
	Presence   PresenceState `json:"-"`
	mu         sync.RWMutex
}

// NewUser returns a placeholder user carrying only its id.
func NewUser(id string) *User {
	return &User{ID: id}
}

// Merge copies every field set on other into u. Empty strings never
// erase known values; custom data is merged key by key. Presence is
// tracked separately and is left alone.
func (u *User) Merge(other *User) {
	if other == nil || other == u {
		return
	}
	other.mu.RLock()
	name, avatar := other.Name, other.AvatarURL
	created, updated := other.CreatedAt, other.UpdatedAt
	custom := copyCustomData(other.CustomData)
	other.mu.RUnlock()

	u.mu.Lock()
	defer u.mu.Unlock()
	if name != "" {
		u.Name = name
	}
	if avatar != "" {
		u.AvatarURL = avatar
	}
	if created != "" {
		u.CreatedAt = created
	}
	if updated != "" {
		u.UpdatedAt = updated
	}
	if len(custom) > 0 {
		if u.CustomData == nil {
			u.CustomData = make(CustomData, len(custom))
		}
		for k, v := range custom {
			u.CustomData[k] = v
		}
	}
}

// SetPresence records state and reports whether it changed.
func (u *User) SetPresence(state PresenceState) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Presence == state {
		return false
	}
	u.Presence = state
	return true
}

func (u *User) GetPresence() PresenceState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.Presence
}

func (u *User) IsOnline() bool {
	return u.GetPresence() == PresenceOnline
}

func (u *User) GetName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.Name
}

func (u *User) GetAvatarURL() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.AvatarURL
}

func (u *User) GetUpdatedAt() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.UpdatedAt
}

// GetCustomData returns a copy of the user's custom data.
func (u *User) GetCustomData() CustomData {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return copyCustomData(u.CustomData)
}

func copyCustomData(in CustomData) CustomData {
	if in == nil {
		return nil
	}
	out := make(CustomData, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// UserPresence is one entry of a presence payload.
type UserPresence struct {
	UserID string        `json:"user_id"`
	State  PresenceState `json:"state"`
}
