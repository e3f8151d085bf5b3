package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// newSprint returns a session whose host is already connected.
func newSprint(t *testing.T) (*State, string) {
	t.Helper()
	s, host, err := NewSession("ABC123", "Sprint 1", "Hana", DefaultRules(), WithIDs(seqIDs()))
	require.NoError(t, err)
	_, _, err = s.Identify(host.ID, "Hana")
	require.NoError(t, err)
	return s, host.ID
}

func join(t *testing.T, s *State, name string) string {
	t.Helper()
	u, _, err := s.Identify("", name)
	require.NoError(t, err)
	require.NoError(t, s.Check())
	return u.ID
}

func mustApply(t *testing.T, s *State, actor string, in protocol.Intent) protocol.Event {
	t.Helper()
	ev, err := s.Apply(actor, in)
	require.NoError(t, err)
	require.NoError(t, s.Check())
	return ev
}

func addCurrent(t *testing.T, s *State, host, title string) string {
	t.Helper()
	ev := mustApply(t, s, host, protocol.AddItem{Title: title})
	id := ev.(protocol.ItemAdded).Item.ID
	mustApply(t, s, host, protocol.SetCurrentItem{ItemID: id})
	return id
}

func votesOf(t *testing.T, s *State, itemID string) map[string]string {
	t.Helper()
	it, ok := s.item(itemID)
	require.True(t, ok)
	return it.Votes
}

func TestNewSession_Validation(t *testing.T) {
	_, _, err := NewSession("X", "  ", "Hana", DefaultRules())
	assert.ErrorIs(t, err, ErrEmptySessionName)

	_, _, err = NewSession("X", "Sprint", "", DefaultRules())
	assert.ErrorIs(t, err, ErrEmptyName)

	s, host, err := NewSession("X", " Sprint ", " Hana ", DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, "Sprint", s.Name)
	assert.Equal(t, "Hana", host.Name)
	assert.False(t, host.Connected)
	assert.Equal(t, host.ID, s.HostID)
	require.NoError(t, s.Check())
}

func TestIdentify(t *testing.T) {
	t.Run("first user of a hostless session becomes host", func(t *testing.T) {
		s := newState("S", "Sprint", DefaultRules(), nil)
		u, ev, err := s.Identify("", "Ada")
		require.NoError(t, err)
		assert.True(t, u.IsHost)
		assert.Equal(t, protocol.UserJoined{User: u}, ev)

		v, _, err := s.Identify("", "Bo")
		require.NoError(t, err)
		assert.False(t, v.IsHost)
		require.NoError(t, s.Check())
	})

	t.Run("empty id mints a new one", func(t *testing.T) {
		s, _ := newSprint(t)
		u, _, err := s.Identify("", "Ada")
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		assert.True(t, u.Connected)
	})

	t.Run("unknown id is registered as given", func(t *testing.T) {
		s, _ := newSprint(t)
		u, _, err := s.Identify("custom", "Ada")
		require.NoError(t, err)
		assert.Equal(t, "custom", u.ID)
	})

	t.Run("names are unique regardless of case", func(t *testing.T) {
		s, _ := newSprint(t)
		join(t, s, "Ada")
		_, _, err := s.Identify("", "ADA")
		assert.ErrorIs(t, err, ErrNameTaken)
		assert.Equal(t, ClassInvalid, ClassOf(err))
	})

	t.Run("blank name", func(t *testing.T) {
		s, _ := newSprint(t)
		_, _, err := s.Identify("", "   ")
		assert.ErrorIs(t, err, ErrEmptyName)
	})

	t.Run("reconnect keeps votes and does not duplicate the user", func(t *testing.T) {
		s, host := newSprint(t)
		ada := join(t, s, "Ada")
		item := addCurrent(t, s, host, "Login bug")
		mustApply(t, s, ada, protocol.Vote{ItemID: item, Token: "5"})

		_, err := s.Disconnect(ada)
		require.NoError(t, err)

		u, _, err := s.Identify(ada, "ada")
		require.NoError(t, err)
		assert.True(t, u.Connected)
		assert.Equal(t, 2, s.UserCount())
		assert.Equal(t, "5", votesOf(t, s, item)[ada])
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("keeps the user and their votes", func(t *testing.T) {
		s, host := newSprint(t)
		ada := join(t, s, "Ada")
		item := addCurrent(t, s, host, "Login bug")
		mustApply(t, s, ada, protocol.Vote{ItemID: item, Token: "3"})

		ev, err := s.Disconnect(ada)
		require.NoError(t, err)
		assert.Equal(t, protocol.UserLeft{UserID: ada}, ev)

		u, ok := s.User(ada)
		require.True(t, ok)
		assert.False(t, u.Connected)
		assert.Equal(t, "3", votesOf(t, s, item)[ada])
		require.NoError(t, s.Check())
	})

	t.Run("host leaving promotes the longest connected user", func(t *testing.T) {
		s, host := newSprint(t)
		ada := join(t, s, "Ada")
		bo := join(t, s, "Bo")

		// Ada reconnects, so Bo now holds the older connection.
		_, err := s.Disconnect(ada)
		require.NoError(t, err)
		_, _, err = s.Identify(ada, "Ada")
		require.NoError(t, err)

		ev, err := s.Disconnect(host)
		require.NoError(t, err)
		assert.Equal(t, protocol.UserLeft{UserID: host, HostID: bo}, ev)
		assert.Equal(t, bo, s.HostID)
		require.NoError(t, s.Check())
	})

	t.Run("host leaving an otherwise empty room stays host", func(t *testing.T) {
		s, host := newSprint(t)
		ev, err := s.Disconnect(host)
		require.NoError(t, err)
		assert.Equal(t, protocol.UserLeft{UserID: host}, ev)
		assert.Equal(t, host, s.HostID)
	})

	t.Run("twice is a conflict", func(t *testing.T) {
		s, _ := newSprint(t)
		ada := join(t, s, "Ada")
		_, err := s.Disconnect(ada)
		require.NoError(t, err)
		_, err = s.Disconnect(ada)
		assert.True(t, Silent(err))
	})
}

func TestCastVote(t *testing.T) {
	s, host := newSprint(t)
	ada := join(t, s, "Ada")
	a := addCurrent(t, s, host, "A")
	b := mustApply(t, s, host, protocol.AddItem{Title: "B"}).(protocol.ItemAdded).Item.ID

	ev := mustApply(t, s, ada, protocol.Vote{ItemID: a, Token: "5"})
	assert.Equal(t, protocol.VoteSubmitted{ItemID: a, UserID: ada, HasVoted: true}, ev)

	// overwrite
	mustApply(t, s, ada, protocol.Vote{ItemID: a, Token: "8"})
	assert.Equal(t, map[string]string{ada: "8"}, votesOf(t, s, a))

	cases := []struct {
		name    string
		vote    protocol.Vote
		wantErr error
	}{
		{"unknown item", protocol.Vote{ItemID: "nope", Token: "5"}, ErrItemNotFound},
		{"not the current item", protocol.Vote{ItemID: b, Token: "5"}, ErrNotCurrentItem},
		{"card outside the deck", protocol.Vote{ItemID: a, Token: "4"}, ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := votesOf(t, s, a)[ada]
			_, err := s.Apply(ada, tc.vote)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, before, votesOf(t, s, a)[ada])
			assert.Empty(t, votesOf(t, s, b))
		})
	}

	t.Run("retract", func(t *testing.T) {
		ev := mustApply(t, s, ada, protocol.Vote{ItemID: a, Token: ""})
		assert.Equal(t, protocol.VoteSubmitted{ItemID: a, UserID: ada, HasVoted: false}, ev)
		assert.Empty(t, votesOf(t, s, a))

		_, err := s.Apply(ada, protocol.Vote{ItemID: a})
		assert.ErrorIs(t, err, ErrNoVote)
		assert.True(t, Silent(err))
	})

	t.Run("locked after reveal", func(t *testing.T) {
		mustApply(t, s, ada, protocol.Vote{ItemID: a, Token: "2"})
		mustApply(t, s, host, protocol.RevealVotes{ItemID: a})

		_, err := s.Apply(ada, protocol.Vote{ItemID: a, Token: "13"})
		assert.ErrorIs(t, err, ErrVotesLocked)
		assert.True(t, Silent(err))
		assert.Equal(t, map[string]string{ada: "2"}, votesOf(t, s, a))
	})

	t.Run("disconnected users cannot vote", func(t *testing.T) {
		bo := join(t, s, "Bo")
		mustApply(t, s, host, protocol.SetCurrentItem{ItemID: b})
		_, err := s.Disconnect(bo)
		require.NoError(t, err)
		_, err = s.Apply(bo, protocol.Vote{ItemID: b, Token: "1"})
		assert.ErrorIs(t, err, ErrNotConnected)
	})
}

func TestHostOnlyIntents(t *testing.T) {
	s, host := newSprint(t)
	ada := join(t, s, "Ada")
	item := addCurrent(t, s, host, "Login bug")

	intents := []protocol.Intent{
		protocol.AddItem{Title: "x"},
		protocol.SetCurrentItem{ItemID: item},
		protocol.RevealVotes{ItemID: item},
		protocol.ResetVotes{ItemID: item},
		protocol.SetFinalEstimate{ItemID: item, Estimate: "3"},
		protocol.TransferHost{UserID: ada},
	}
	for _, in := range intents {
		t.Run(string(in.Kind()), func(t *testing.T) {
			before := s.Export()
			_, err := s.Apply(ada, in)
			require.ErrorIs(t, err, ErrNotHost)
			assert.Equal(t, ClassUnauthorized, ClassOf(err))
			assert.False(t, Silent(err))
			assert.Equal(t, before, s.Export())
		})
	}
}

func TestRevealResetFinalize(t *testing.T) {
	s, host := newSprint(t)
	ada := join(t, s, "Ada")
	bo := join(t, s, "Bo")
	item := addCurrent(t, s, host, "Login bug")

	mustApply(t, s, ada, protocol.Vote{ItemID: item, Token: "5"})
	mustApply(t, s, bo, protocol.Vote{ItemID: item, Token: "8"})

	_, err := s.Apply(host, protocol.SetFinalEstimate{ItemID: item, Estimate: "8"})
	require.ErrorIs(t, err, ErrNotRevealed)
	assert.False(t, Silent(err))

	ev := mustApply(t, s, host, protocol.RevealVotes{ItemID: item})
	revealed := ev.(protocol.VotesRevealed).Item
	assert.True(t, revealed.Revealed)
	assert.Equal(t, map[string]string{ada: "5", bo: "8"}, revealed.Votes)

	t.Run("reveal twice leaves votes alone", func(t *testing.T) {
		_, err := s.Apply(host, protocol.RevealVotes{ItemID: item})
		assert.ErrorIs(t, err, ErrAlreadyRevealed)
		assert.Equal(t, map[string]string{ada: "5", bo: "8"}, votesOf(t, s, item))
	})

	_, err = s.Apply(host, protocol.SetFinalEstimate{ItemID: item, Estimate: " "})
	require.ErrorIs(t, err, ErrEmptyEstimate)

	ev = mustApply(t, s, host, protocol.SetFinalEstimate{ItemID: item, Estimate: "8"})
	assert.Equal(t, protocol.FinalEstimateSet{ItemID: item, Estimate: "8"}, ev)
	phase, _ := s.Phase(item)
	assert.Equal(t, PhaseFinalized, phase)

	ev = mustApply(t, s, host, protocol.ResetVotes{ItemID: item})
	assert.Equal(t, protocol.VotesReset{ItemID: item}, ev)
	it, _ := s.item(item)
	assert.Empty(t, it.Votes)
	assert.False(t, it.Revealed)
	assert.Equal(t, "8", it.FinalEstimate)
	phase, _ = s.Phase(item)
	assert.Equal(t, PhaseCollecting, phase)

	t.Run("fresh round after reset has no residue", func(t *testing.T) {
		mustApply(t, s, ada, protocol.Vote{ItemID: item, Token: "3"})
		mustApply(t, s, bo, protocol.Vote{ItemID: item, Token: "?"})
		mustApply(t, s, host, protocol.Vote{ItemID: item, Token: "2"})
		ev := mustApply(t, s, host, protocol.RevealVotes{ItemID: item})
		assert.Equal(t, map[string]string{ada: "3", bo: "?", host: "2"}, ev.(protocol.VotesRevealed).Item.Votes)
	})
}

func TestVotesPersistAcrossRefocus(t *testing.T) {
	s, host := newSprint(t)
	ada := join(t, s, "Ada")
	a := addCurrent(t, s, host, "A")
	mustApply(t, s, ada, protocol.Vote{ItemID: a, Token: "5"})

	addCurrent(t, s, host, "B")
	phase, _ := s.Phase(a)
	assert.Equal(t, PhaseNotCurrent, phase)
	mustApply(t, s, host, protocol.SetCurrentItem{ItemID: a})

	assert.Equal(t, map[string]string{ada: "5"}, votesOf(t, s, a))
}

func TestSetCurrentItem_UnknownItem(t *testing.T) {
	s, host := newSprint(t)
	_, err := s.Apply(host, protocol.SetCurrentItem{ItemID: "ghost"})
	require.ErrorIs(t, err, ErrItemNotFound)
	assert.Equal(t, ClassNotFound, ClassOf(err))
	assert.Empty(t, s.CurrentItemID)
}

func TestAddItem(t *testing.T) {
	s, host := newSprint(t)
	_, err := s.Apply(host, protocol.AddItem{Title: "  "})
	require.ErrorIs(t, err, ErrEmptyTitle)

	ev := mustApply(t, s, host, protocol.AddItem{Title: " Login bug ", Description: "500 on submit"})
	it := ev.(protocol.ItemAdded).Item
	assert.Equal(t, "Login bug", it.Title)
	assert.Equal(t, "500 on submit", it.Description)
	assert.Empty(t, it.Votes)
	assert.NotNil(t, it.Votes)
	assert.False(t, it.Revealed)
}

func TestTransferHost(t *testing.T) {
	s, host := newSprint(t)
	ada := join(t, s, "Ada")

	_, err := s.Apply(host, protocol.TransferHost{UserID: "ghost"})
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.Apply(host, protocol.TransferHost{UserID: host})
	require.ErrorIs(t, err, ErrAlreadyHost)

	ev := mustApply(t, s, host, protocol.TransferHost{UserID: ada})
	assert.Equal(t, protocol.HostChanged{HostID: ada}, ev)

	_, err = s.Apply(host, protocol.AddItem{Title: "x"})
	assert.ErrorIs(t, err, ErrNotHost)
}

func TestLeave(t *testing.T) {
	s, host := newSprint(t)
	ada := join(t, s, "Ada")
	item := addCurrent(t, s, host, "A")
	mustApply(t, s, ada, protocol.Vote{ItemID: item, Token: "5"})
	mustApply(t, s, host, protocol.Vote{ItemID: item, Token: "3"})

	ev := mustApply(t, s, ada, protocol.Leave{})
	assert.Equal(t, protocol.UserLeft{UserID: ada, Removed: true}, ev)
	_, ok := s.User(ada)
	assert.False(t, ok)
	assert.Equal(t, map[string]string{host: "3"}, votesOf(t, s, item))

	t.Run("host leaving with nobody connected promotes the earliest joined", func(t *testing.T) {
		bo := join(t, s, "Bo")
		_, err := s.Disconnect(bo)
		require.NoError(t, err)

		ev := mustApply(t, s, host, protocol.Leave{})
		assert.Equal(t, protocol.UserLeft{UserID: host, HostID: bo, Removed: true}, ev)
		assert.Equal(t, bo, s.HostID)
	})

	t.Run("last user leaving empties the session", func(t *testing.T) {
		mustApply(t, s, s.HostID, protocol.Leave{})
		assert.Equal(t, 0, s.UserCount())
		assert.Empty(t, s.HostID)
	})
}

func TestApply_UnknownActorAndIdentify(t *testing.T) {
	s, host := newSprint(t)

	_, err := s.Apply("ghost", protocol.RevealVotes{ItemID: "x"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = s.Apply(host, protocol.Identify{DisplayName: "again"})
	assert.Equal(t, ClassProtocol, ClassOf(err))
}
