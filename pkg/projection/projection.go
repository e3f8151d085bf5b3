// Package projection folds session events into the read-only view a
// participant renders.
package projection

import "github.com/DoyleJ11/poker-planning-backend/pkg/protocol"

type Projection struct {
	Session protocol.Session
	// Me is the id the server assigned to this participant.
	Me    string
	Ready bool
	// LastError is the text of the most recent error event.
	LastError string
}

// Reduce returns the projection after ev. p is never modified. Events that
// arrive before the welcome, and event kinds it does not know, are ignored.
func Reduce(p Projection, ev protocol.Event) Projection {
	switch ev := ev.(type) {
	case protocol.Welcome:
		return Projection{Session: ev.Session.Clone(), Me: ev.UserID, Ready: true}

	case protocol.Error:
		p.LastError = ev.Error
		return p
	}

	if !p.Ready {
		return p
	}
	p.Session = p.Session.Clone()
	s := &p.Session

	switch ev := ev.(type) {
	case protocol.UserJoined:
		if u, ok := s.User(ev.User.ID); ok {
			*u = ev.User
		} else {
			s.Users = append(s.Users, ev.User)
		}
		if ev.User.IsHost {
			setHost(s, ev.User.ID)
		} else {
			setHost(s, s.HostID)
		}

	case protocol.UserLeft:
		if ev.Removed {
			removeUser(s, ev.UserID)
			if s.HostID == ev.UserID && ev.HostID == "" {
				s.HostID = ""
			}
		} else if u, ok := s.User(ev.UserID); ok {
			u.Connected = false
		}
		if ev.HostID != "" {
			setHost(s, ev.HostID)
		}

	case protocol.HostChanged:
		setHost(s, ev.HostID)

	case protocol.ItemAdded:
		if _, ok := s.Item(ev.Item.ID); !ok {
			s.Items = append(s.Items, ev.Item.Clone())
		}

	case protocol.CurrentItemChanged:
		if _, ok := s.Item(ev.ItemID); ok {
			s.CurrentItemID = ev.ItemID
		}

	case protocol.VoteSubmitted:
		// a late vote for an item already revealed changes nothing
		if it, ok := s.Item(ev.ItemID); ok && !it.Revealed {
			if ev.HasVoted {
				it.Votes[ev.UserID] = protocol.HiddenVote
			} else {
				delete(it.Votes, ev.UserID)
			}
		}

	case protocol.VotesRevealed:
		if it, ok := s.Item(ev.Item.ID); ok {
			*it = ev.Item.Clone()
		}

	case protocol.VotesReset:
		if it, ok := s.Item(ev.ItemID); ok {
			it.Votes = make(map[string]string)
			it.Revealed = false
		}

	case protocol.FinalEstimateSet:
		if it, ok := s.Item(ev.ItemID); ok {
			it.FinalEstimate = ev.Estimate
		}

	default:
		// forward compatibility
	}
	return p
}

func setHost(s *protocol.Session, hostID string) {
	s.HostID = hostID
	for i := range s.Users {
		s.Users[i].IsHost = s.Users[i].ID == hostID
	}
}

func removeUser(s *protocol.Session, id string) {
	for i, u := range s.Users {
		if u.ID == id {
			s.Users = append(s.Users[:i:i], s.Users[i+1:]...)
			break
		}
	}
	for i := range s.Items {
		delete(s.Items[i].Votes, id)
	}
}

// Voted reports whether userID has a vote on itemID, whatever its visibility.
func (p Projection) Voted(itemID, userID string) bool {
	it, ok := p.Session.Item(itemID)
	if !ok {
		return false
	}
	_, voted := it.Votes[userID]
	return voted
}

func (p Projection) IsHost() bool {
	return p.Ready && p.Me != "" && p.Session.HostID == p.Me
}
