package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

type User struct {
	ID        string
	Name      string
	Connected bool

	connSeq uint64 // order of the current connection, 0 while disconnected
}

type Item struct {
	ID            string
	Title         string
	Description   string
	Votes         map[string]string
	Revealed      bool
	FinalEstimate string
}

type Rules struct {
	Deck protocol.Deck
}

func DefaultRules() Rules {
	return Rules{Deck: protocol.DefaultDeck()}
}

// State is the authoritative state of one session. It is not safe for
// concurrent use; the owning room serialises every call.
type State struct {
	ID            string
	Name          string
	HostID        string
	CurrentItemID string
	CreatedAt     time.Time
	Rules         Rules

	users map[string]*User
	order []string // join order
	items []*Item
	seq   uint64

	newID func() string
	now   func() time.Time
}

type Option func(*State)

func WithIDs(fn func() string) Option {
	return func(s *State) { s.newID = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(s *State) { s.now = fn }
}

func newState(id, name string, rules Rules, opts []Option) *State {
	s := &State{
		ID:    id,
		Name:  name,
		Rules: rules,
		users: make(map[string]*User),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.CreatedAt = s.now().UTC()
	return s
}

// NewSession creates a session together with its host. The host starts
// disconnected and claims the seat by identifying with the returned id.
func NewSession(id, name, hostName string, rules Rules, opts ...Option) (*State, User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, User{}, ErrEmptySessionName
	}
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return nil, User{}, ErrEmptyName
	}

	s := newState(id, name, rules, opts)
	host := s.addUser(s.newID(), hostName)
	s.HostID = host.ID
	return s, *host, nil
}

// Restore rebuilds a session from a full, unredacted snapshot. Every user
// comes back disconnected.
func Restore(snap protocol.Session, rules Rules, opts ...Option) (*State, error) {
	s := newState(snap.ID, snap.Name, rules, opts)
	s.CreatedAt = snap.CreatedAt
	s.HostID = snap.HostID
	s.CurrentItemID = snap.CurrentItemID

	for _, u := range snap.Users {
		if _, dup := s.users[u.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate user %q", ErrInconsistentArchive, u.ID)
		}
		s.addUser(u.ID, u.Name)
	}
	for _, it := range snap.Items {
		if _, dup := s.item(it.ID); dup {
			return nil, fmt.Errorf("%w: duplicate item %q", ErrInconsistentArchive, it.ID)
		}
		votes := make(map[string]string, len(it.Votes))
		for k, v := range it.Votes {
			votes[k] = v
		}
		s.items = append(s.items, &Item{
			ID:            it.ID,
			Title:         it.Title,
			Description:   it.Description,
			Votes:         votes,
			Revealed:      it.Revealed,
			FinalEstimate: it.FinalEstimate,
		})
	}

	if err := s.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInconsistentArchive, err)
	}
	return s, nil
}

func (s *State) addUser(id, name string) *User {
	u := &User{ID: id, Name: name}
	s.users[id] = u
	s.order = append(s.order, id)
	return u
}

func (s *State) removeUser(id string) {
	delete(s.users, id)
	for i, uid := range s.order {
		if uid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	for _, it := range s.items {
		delete(it.Votes, id)
	}
}

func (s *State) item(id string) (*Item, bool) {
	for _, it := range s.items {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

func (s *State) User(id string) (User, bool) {
	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Phase reports the lifecycle phase of an item.
func (s *State) Phase(itemID string) (Phase, bool) {
	it, ok := s.item(itemID)
	if !ok {
		return "", false
	}
	return PhaseOf(it, s.CurrentItemID), true
}

func (s *State) UserCount() int { return len(s.users) }
func (s *State) ItemCount() int { return len(s.items) }

func (s *State) ConnectedCount() int {
	n := 0
	for _, u := range s.users {
		if u.Connected {
			n++
		}
	}
	return n
}

func (s *State) nameTaken(name, exceptID string) bool {
	folded := cases.Fold().String(name)
	for _, u := range s.users {
		if u.ID == exceptID {
			continue
		}
		if cases.Fold().String(u.Name) == folded {
			return true
		}
	}
	return false
}

// longestConnected picks the connected user whose current connection is the
// oldest, skipping exceptID. Returns "" when nobody qualifies.
func (s *State) longestConnected(exceptID string) string {
	best := ""
	var bestSeq uint64
	for _, id := range s.order {
		u := s.users[id]
		if id == exceptID || !u.Connected {
			continue
		}
		if best == "" || u.connSeq < bestSeq {
			best, bestSeq = id, u.connSeq
		}
	}
	return best
}

// Check verifies the referential invariants of the session.
func (s *State) Check() error {
	if len(s.order) != len(s.users) {
		return fmt.Errorf("join order tracks %d users, roster has %d", len(s.order), len(s.users))
	}
	if len(s.users) == 0 {
		if s.HostID != "" {
			return fmt.Errorf("empty session has host %q", s.HostID)
		}
	} else if _, ok := s.users[s.HostID]; !ok {
		return fmt.Errorf("host %q is not in the session", s.HostID)
	}

	if s.CurrentItemID != "" {
		if _, ok := s.item(s.CurrentItemID); !ok {
			return fmt.Errorf("current item %q does not exist", s.CurrentItemID)
		}
	}

	seen := make(map[string]bool, len(s.items))
	for _, it := range s.items {
		if seen[it.ID] {
			return fmt.Errorf("duplicate item %q", it.ID)
		}
		seen[it.ID] = true
		for uid := range it.Votes {
			if _, ok := s.users[uid]; !ok {
				return fmt.Errorf("item %q has a vote from unknown user %q", it.ID, uid)
			}
		}
	}
	return nil
}

// Snapshot renders the session as viewerID may see it: vote values of
// unrevealed items are hidden except the viewer's own.
func (s *State) Snapshot(viewerID string) protocol.Session {
	return s.snapshot(func(it *Item, uid string) bool {
		return it.Revealed || uid == viewerID
	})
}

// Export renders the session with every vote value. It must never reach a
// participant.
func (s *State) Export() protocol.Session {
	return s.snapshot(func(*Item, string) bool { return true })
}

func (s *State) snapshot(visible func(it *Item, userID string) bool) protocol.Session {
	out := protocol.Session{
		ID:            s.ID,
		Name:          s.Name,
		HostID:        s.HostID,
		CurrentItemID: s.CurrentItemID,
		CreatedAt:     s.CreatedAt,
		Users:         make([]protocol.User, 0, len(s.order)),
		Items:         make([]protocol.Item, 0, len(s.items)),
	}
	for _, id := range s.order {
		out.Users = append(out.Users, s.userView(s.users[id]))
	}
	for _, it := range s.items {
		out.Items = append(out.Items, itemView(it, visible))
	}
	return out
}

func (s *State) userView(u *User) protocol.User {
	return protocol.User{
		ID:        u.ID,
		Name:      u.Name,
		IsHost:    u.ID == s.HostID,
		Connected: u.Connected,
	}
}

func itemView(it *Item, visible func(*Item, string) bool) protocol.Item {
	votes := make(map[string]string, len(it.Votes))
	for uid, token := range it.Votes {
		if visible(it, uid) {
			votes[uid] = token
		} else {
			votes[uid] = protocol.HiddenVote
		}
	}
	return protocol.Item{
		ID:            it.ID,
		Title:         it.Title,
		Description:   it.Description,
		Votes:         votes,
		Revealed:      it.Revealed,
		FinalEstimate: it.FinalEstimate,
	}
}
