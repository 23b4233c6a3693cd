package domain

import (
	"encoding/json"
	"sort"
	"sync"
)

// Room is the canonical record for a room. Membership is a set of user
// ids; users themselves live in the user store.
type Room struct {
	ID          int
	Name        string
	CreatedByID string
	Private     bool
	CreatedAt   string
	UpdatedAt   string

	members map[string]struct{}
	// hasMembers is true when the decoded payload carried a member list;
	// Merge only replaces membership in that case.
	hasMembers bool
	hasPrivate bool
	mu         sync.RWMutex
}

type roomWire struct {
	ID            int      `json:"id"`
	Name          string   `json:"name,omitempty"`
	CreatedByID   string   `json:"created_by_id,omitempty"`
	Private       *bool    `json:"private,omitempty"`
	MemberUserIDs []string `json:"member_user_ids,omitempty"`
	CreatedAt     string   `json:"created_at,omitempty"`
	UpdatedAt     string   `json:"updated_at,omitempty"`
}

// NewRoom returns a placeholder room carrying only its id.
func NewRoom(id int) *Room {
	return &Room{ID: id, members: make(map[string]struct{})}
}

func (r *Room) UnmarshalJSON(data []byte) error {
	var w roomWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.Name = w.Name
	r.CreatedByID = w.CreatedByID
	r.CreatedAt = w.CreatedAt
	r.UpdatedAt = w.UpdatedAt
	if w.Private != nil {
		r.Private = *w.Private
		r.hasPrivate = true
	}
	r.members = make(map[string]struct{}, len(w.MemberUserIDs))
	for _, id := range w.MemberUserIDs {
		r.members[id] = struct{}{}
	}
	r.hasMembers = w.MemberUserIDs != nil
	return nil
}

func (r *Room) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	private := r.Private
	return json.Marshal(roomWire{
		ID:            r.ID,
		Name:          r.Name,
		CreatedByID:   r.CreatedByID,
		Private:       &private,
		MemberUserIDs: r.sortedMembers(),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	})
}

// Merge copies the fields set on other into r.
func (r *Room) Merge(other *Room) {
	if other == nil || other == r {
		return
	}
	other.mu.RLock()
	w := roomWire{
		Name:        other.Name,
		CreatedByID: other.CreatedByID,
		CreatedAt:   other.CreatedAt,
		UpdatedAt:   other.UpdatedAt,
	}
	private, hasPrivate := other.Private, other.hasPrivate
	var members []string
	hasMembers := other.hasMembers
	if hasMembers {
		members = other.sortedMembers()
	}
	other.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if w.Name != "" {
		r.Name = w.Name
	}
	if w.CreatedByID != "" {
		r.CreatedByID = w.CreatedByID
	}
	if w.CreatedAt != "" {
		r.CreatedAt = w.CreatedAt
	}
	if w.UpdatedAt != "" {
		r.UpdatedAt = w.UpdatedAt
	}
	if hasPrivate {
		r.Private = private
		r.hasPrivate = true
	}
	if hasMembers {
		r.members = make(map[string]struct{}, len(members))
		for _, id := range members {
			r.members[id] = struct{}{}
		}
		r.hasMembers = true
	}
}

// AddMember adds userID and reports whether it was newly added.
func (r *Room) AddMember(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members == nil {
		r.members = make(map[string]struct{})
	}
	if _, ok := r.members[userID]; ok {
		return false
	}
	r.members[userID] = struct{}{}
	return true
}

// RemoveMember removes userID and reports whether it was present.
func (r *Room) RemoveMember(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[userID]; !ok {
		return false
	}
	delete(r.members, userID)
	return true
}

func (r *Room) HasMember(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[userID]
	return ok
}

// MemberIDs returns the member ids in sorted order.
func (r *Room) MemberIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedMembers()
}

func (r *Room) sortedMembers() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) GetName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Name
}

func (r *Room) IsPrivate() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Private
}

func (r *Room) GetUpdatedAt() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.UpdatedAt
}
