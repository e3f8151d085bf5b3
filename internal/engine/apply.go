package engine

import (
	"strings"

	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

// Identify registers or reconnects a participant. A known userID is a
// reconnection: membership and votes are kept. An unknown non-empty userID is
// registered under that id. The first user of a hostless session becomes host.
func (s *State) Identify(userID, displayName string) (protocol.User, protocol.Event, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return protocol.User{}, nil, ErrEmptyName
	}

	u, known := s.users[userID]
	if userID == "" || !known {
		if s.nameTaken(name, "") {
			return protocol.User{}, nil, ErrNameTaken
		}
		if userID == "" {
			userID = s.newID()
		}
		u = s.addUser(userID, name)
	} else {
		if s.nameTaken(name, u.ID) {
			return protocol.User{}, nil, ErrNameTaken
		}
		u.Name = name
	}

	s.seq++
	u.Connected = true
	u.connSeq = s.seq
	if s.HostID == "" {
		s.HostID = u.ID
	}

	view := s.userView(u)
	return view, protocol.UserJoined{User: view}, nil
}

// Disconnect marks a user's channel closed. The user and their votes stay.
// When the host leaves, the longest-connected remaining user takes over; with
// nobody connected the host role stays put until someone returns.
func (s *State) Disconnect(userID string) (protocol.Event, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if !u.Connected {
		return nil, ErrNotConnected
	}

	u.Connected = false
	u.connSeq = 0

	ev := protocol.UserLeft{UserID: userID}
	if s.HostID == userID {
		if next := s.longestConnected(userID); next != "" {
			s.HostID = next
			ev.HostID = next
		}
	}
	return ev, nil
}

// Apply validates and applies one intent from actorID. On success it returns
// the single event to broadcast; on failure the state is untouched.
func (s *State) Apply(actorID string, in protocol.Intent) (protocol.Event, error) {
	actor, ok := s.users[actorID]
	if !ok {
		return nil, ErrUserNotFound
	}

	switch in := in.(type) {
	case protocol.Vote:
		return s.castVote(actor, in)
	case protocol.RevealVotes:
		return s.revealVotes(actor, in)
	case protocol.ResetVotes:
		return s.resetVotes(actor, in)
	case protocol.SetFinalEstimate:
		return s.setFinalEstimate(actor, in)
	case protocol.AddItem:
		return s.addItem(actor, in)
	case protocol.SetCurrentItem:
		return s.setCurrentItem(actor, in)
	case protocol.TransferHost:
		return s.transferHost(actor, in)
	case protocol.Leave:
		return s.leave(actor)
	case protocol.Identify:
		return nil, ErrAlreadyIdentified
	default:
		return nil, ErrUnsupportedIntent
	}
}

func (s *State) requireHost(u *User) error {
	if u.ID != s.HostID {
		return ErrNotHost
	}
	return nil
}

func (s *State) castVote(actor *User, in protocol.Vote) (protocol.Event, error) {
	if !actor.Connected {
		return nil, ErrNotConnected
	}
	it, ok := s.item(in.ItemID)
	if !ok {
		return nil, ErrItemNotFound
	}
	if err := Allow(PhaseOf(it, s.CurrentItemID), ActionVote); err != nil {
		return nil, err
	}

	token := strings.TrimSpace(in.Token)
	if token == "" {
		if _, voted := it.Votes[actor.ID]; !voted {
			return nil, ErrNoVote
		}
		delete(it.Votes, actor.ID)
		return protocol.VoteSubmitted{ItemID: it.ID, UserID: actor.ID, HasVoted: false}, nil
	}
	if !s.Rules.Deck.Contains(token) {
		return nil, ErrInvalidToken
	}

	it.Votes[actor.ID] = token
	return protocol.VoteSubmitted{ItemID: it.ID, UserID: actor.ID, HasVoted: true}, nil
}

func (s *State) revealVotes(actor *User, in protocol.RevealVotes) (protocol.Event, error) {
	if err := s.requireHost(actor); err != nil {
		return nil, err
	}
	it, ok := s.item(in.ItemID)
	if !ok {
		return nil, ErrItemNotFound
	}
	if err := Allow(PhaseOf(it, s.CurrentItemID), ActionReveal); err != nil {
		return nil, err
	}

	it.Revealed = true
	return protocol.VotesRevealed{Item: itemView(it, func(*Item, string) bool { return true })}, nil
}

func (s *State) resetVotes(actor *User, in protocol.ResetVotes) (protocol.Event, error) {
	if err := s.requireHost(actor); err != nil {
		return nil, err
	}
	it, ok := s.item(in.ItemID)
	if !ok {
		return nil, ErrItemNotFound
	}
	if err := Allow(PhaseOf(it, s.CurrentItemID), ActionReset); err != nil {
		return nil, err
	}

	// final estimate survives a reset
	it.Votes = make(map[string]string)
	it.Revealed = false
	return protocol.VotesReset{ItemID: it.ID}, nil
}

func (s *State) setFinalEstimate(actor *User, in protocol.SetFinalEstimate) (protocol.Event, error) {
	if err := s.requireHost(actor); err != nil {
		return nil, err
	}
	it, ok := s.item(in.ItemID)
	if !ok {
		return nil, ErrItemNotFound
	}
	if err := Allow(PhaseOf(it, s.CurrentItemID), ActionFinalize); err != nil {
		return nil, err
	}
	estimate := strings.TrimSpace(in.Estimate)
	if estimate == "" {
		return nil, ErrEmptyEstimate
	}

	it.FinalEstimate = estimate
	return protocol.FinalEstimateSet{ItemID: it.ID, Estimate: estimate}, nil
}

func (s *State) addItem(actor *User, in protocol.AddItem) (protocol.Event, error) {
	if err := s.requireHost(actor); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	it := &Item{
		ID:          s.newID(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Votes:       make(map[string]string),
	}
	s.items = append(s.items, it)
	return protocol.ItemAdded{Item: itemView(it, func(*Item, string) bool { return false })}, nil
}

func (s *State) setCurrentItem(actor *User, in protocol.SetCurrentItem) (protocol.Event, error) {
	if err := s.requireHost(actor); err != nil {
		return nil, err
	}
	if _, ok := s.item(in.ItemID); !ok {
		return nil, ErrItemNotFound
	}

	// votes on the newly focused item are kept
	s.CurrentItemID = in.ItemID
	return protocol.CurrentItemChanged{ItemID: in.ItemID}, nil
}

func (s *State) transferHost(actor *User, in protocol.TransferHost) (protocol.Event, error) {
	if err := s.requireHost(actor); err != nil {
		return nil, err
	}
	if _, ok := s.users[in.UserID]; !ok {
		return nil, ErrUserNotFound
	}
	if in.UserID == s.HostID {
		return nil, ErrAlreadyHost
	}

	s.HostID = in.UserID
	return protocol.HostChanged{HostID: in.UserID}, nil
}

// leave removes the actor for good, votes included.
func (s *State) leave(actor *User) (protocol.Event, error) {
	ev := protocol.UserLeft{UserID: actor.ID, Removed: true}
	wasHost := s.HostID == actor.ID

	s.removeUser(actor.ID)

	if wasHost {
		next := s.longestConnected("")
		if next == "" && len(s.order) > 0 {
			next = s.order[0]
		}
		s.HostID = next
		ev.HostID = next
	}
	return ev, nil
}
