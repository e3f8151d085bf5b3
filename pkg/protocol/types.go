package protocol

import "time"

// HiddenVote is the value shown for a vote that has been cast but is not
// visible to the viewer yet.
const HiddenVote = ""

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
}

type Item struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Votes         map[string]string `json:"votes"` // userID -> token
	Revealed      bool              `json:"revealed"`
	FinalEstimate string            `json:"finalEstimate,omitempty"`
}

// Session is the wire snapshot of a planning session. Users are listed in
// join order and items in creation order.
type Session struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	HostID        string    `json:"hostId"`
	Users         []User    `json:"users"`
	Items         []Item    `json:"items"`
	CurrentItemID string    `json:"currentItemId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// User returns a pointer into s.Users so callers may patch it in place.
func (s *Session) User(id string) (*User, bool) {
	for i := range s.Users {
		if s.Users[i].ID == id {
			return &s.Users[i], true
		}
	}
	return nil, false
}

// Item returns a pointer into s.Items so callers may patch it in place.
func (s *Session) Item(id string) (*Item, bool) {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return &s.Items[i], true
		}
	}
	return nil, false
}

func (s Session) Clone() Session {
	out := s
	out.Users = append([]User(nil), s.Users...)
	out.Items = make([]Item, len(s.Items))
	for i, it := range s.Items {
		out.Items[i] = it.Clone()
	}
	return out
}

func (it Item) Clone() Item {
	out := it
	out.Votes = make(map[string]string, len(it.Votes))
	for k, v := range it.Votes {
		out.Votes[k] = v
	}
	return out
}
