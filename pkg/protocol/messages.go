package protocol

import "encoding/json"

type Kind string

// Participant -> authority
const (
	KindIdentify         Kind = "identify"
	KindVote             Kind = "vote"
	KindRevealVotes      Kind = "reveal_votes"
	KindResetVotes       Kind = "reset_votes"
	KindSetFinalEstimate Kind = "set_final_estimate"
	KindAddItem          Kind = "add_item"
	KindSetCurrentItem   Kind = "set_current_item"
	KindTransferHost     Kind = "transfer_host"
	KindLeave            Kind = "leave"
)

// Authority -> participant
const (
	KindWelcome            Kind = "welcome"
	KindError              Kind = "error"
	KindUserJoined         Kind = "user_joined"
	KindUserLeft           Kind = "user_left"
	KindHostChanged        Kind = "host_changed"
	KindItemAdded          Kind = "item_added"
	KindCurrentItemChanged Kind = "current_item_changed"
	KindVoteSubmitted      Kind = "vote_submitted"
	KindVotesRevealed      Kind = "votes_revealed"
	KindVotesReset         Kind = "votes_reset"
	KindFinalEstimateSet   Kind = "final_estimate_set"
)

// Message is anything that can travel inside an envelope.
type Message interface {
	Kind() Kind
}

// Intent is the closed set of messages a participant may send.
type Intent interface {
	Message
	isIntent()
}

// Event is the closed set of messages the authority sends. Unknown covers
// tags this version does not understand.
type Event interface {
	Message
	isEvent()
}

// ---- intents ----

type Identify struct {
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName"`
}

type Vote struct {
	ItemID string `json:"itemId"`
	Token  string `json:"token"`
}

type RevealVotes struct {
	ItemID string `json:"itemId"`
}

type ResetVotes struct {
	ItemID string `json:"itemId"`
}

type SetFinalEstimate struct {
	ItemID   string `json:"itemId"`
	Estimate string `json:"estimate"`
}

type AddItem struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type SetCurrentItem struct {
	ItemID string `json:"itemId"`
}

type TransferHost struct {
	UserID string `json:"userId"`
}

type Leave struct{}

func (Identify) Kind() Kind         { return KindIdentify }
func (Vote) Kind() Kind             { return KindVote }
func (RevealVotes) Kind() Kind      { return KindRevealVotes }
func (ResetVotes) Kind() Kind       { return KindResetVotes }
func (SetFinalEstimate) Kind() Kind { return KindSetFinalEstimate }
func (AddItem) Kind() Kind          { return KindAddItem }
func (SetCurrentItem) Kind() Kind   { return KindSetCurrentItem }
func (TransferHost) Kind() Kind     { return KindTransferHost }
func (Leave) Kind() Kind            { return KindLeave }

func (Identify) isIntent()         {}
func (Vote) isIntent()             {}
func (RevealVotes) isIntent()      {}
func (ResetVotes) isIntent()       {}
func (SetFinalEstimate) isIntent() {}
func (AddItem) isIntent()          {}
func (SetCurrentItem) isIntent()   {}
func (TransferHost) isIntent()     {}
func (Leave) isIntent()            {}

// ---- events ----

type Welcome struct {
	Session Session `json:"session"`
	UserID  string  `json:"userId"`
}

type Error struct {
	Error string `json:"error"`
}

type UserJoined struct {
	User User `json:"user"`
}

// UserLeft reports a disconnect, or a permanent removal when Removed is set.
// HostID is filled when the departure moved the host role.
type UserLeft struct {
	UserID  string `json:"userId"`
	HostID  string `json:"hostId,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

type HostChanged struct {
	HostID string `json:"hostId"`
}

type ItemAdded struct {
	Item Item `json:"item"`
}

type CurrentItemChanged struct {
	ItemID string `json:"itemId"`
}

// VoteSubmitted never carries the token.
type VoteSubmitted struct {
	ItemID   string `json:"itemId"`
	UserID   string `json:"userId"`
	HasVoted bool   `json:"hasVoted"`
}

type VotesRevealed struct {
	Item Item `json:"item"`
}

type VotesReset struct {
	ItemID string `json:"itemId"`
}

type FinalEstimateSet struct {
	ItemID   string `json:"itemId"`
	Estimate string `json:"estimate"`
}

type Unknown struct {
	Type    Kind
	Payload json.RawMessage
}

func (Welcome) Kind() Kind            { return KindWelcome }
func (Error) Kind() Kind              { return KindError }
func (UserJoined) Kind() Kind         { return KindUserJoined }
func (UserLeft) Kind() Kind           { return KindUserLeft }
func (HostChanged) Kind() Kind        { return KindHostChanged }
func (ItemAdded) Kind() Kind          { return KindItemAdded }
func (CurrentItemChanged) Kind() Kind { return KindCurrentItemChanged }
func (VoteSubmitted) Kind() Kind      { return KindVoteSubmitted }
func (VotesRevealed) Kind() Kind      { return KindVotesRevealed }
func (VotesReset) Kind() Kind         { return KindVotesReset }
func (FinalEstimateSet) Kind() Kind   { return KindFinalEstimateSet }
func (u Unknown) Kind() Kind          { return u.Type }

func (Welcome) isEvent()            {}
func (Error) isEvent()              {}
func (UserJoined) isEvent()         {}
func (UserLeft) isEvent()           {}
func (HostChanged) isEvent()        {}
func (ItemAdded) isEvent()          {}
func (CurrentItemChanged) isEvent() {}
func (VoteSubmitted) isEvent()      {}
func (VotesRevealed) isEvent()      {}
func (VotesReset) isEvent()         {}
func (FinalEstimateSet) isEvent()   {}
func (Unknown) isEvent()            {}
