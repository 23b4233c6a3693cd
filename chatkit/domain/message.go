package domain

import "encoding/json"

// Message is a room message. User and Room are resolved against the
// canonical stores when the message is handed to a caller; they are
// back-references, not owned copies.
type Message struct {
	ID         int         `json:"id"`
	UserID     string      `json:"user_id"`
	RoomID     int         `json:"room_id"`
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  string      `json:"created_at"`
	UpdatedAt  string      `json:"updated_at"`

	User *User `json:"-"`
	Room *Room `json:"-"`
}

// Attachment references a file attached to a message. When FetchRequired
// is set, Link is a short-lived fetch token that must be resolved through
// the files service before use. FetchRequired is never written back.
type Attachment struct {
	FetchRequired bool   `json:"-"`
	Link          string `json:"resource_link"`
	Type          string `json:"type"`
}

func (a *Attachment) UnmarshalJSON(data []byte) error {
	var w struct {
		Link          string `json:"resource_link"`
		Type          string `json:"type"`
		FetchRequired bool   `json:"fetch_required"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	a.Link = w.Link
	a.Type = w.Type
	a.FetchRequired = w.FetchRequired
	return nil
}

// Cursor is a user's read position in a room. Cursors are immutable once
// published; a newer position replaces the value.
type Cursor struct {
	UserID    string `json:"user_id"`
	RoomID    int    `json:"room_id"`
	Type      int    `json:"cursor_type"`
	Position  int    `json:"position"`
	UpdatedAt string `json:"updated_at"`

	User *User `json:"-"`
	Room *Room `json:"-"`
}
