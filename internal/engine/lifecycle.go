package engine

// Phase is where an item sits in its vote lifecycle. It is derived from the
// item's fields and the session focus, never stored.
type Phase string

const (
	PhaseNotCurrent Phase = "not_current"
	PhaseCollecting Phase = "collecting"
	PhaseRevealed   Phase = "revealed"
	PhaseFinalized  Phase = "finalized"
)

type Action string

const (
	ActionVote     Action = "vote"
	ActionReveal   Action = "reveal"
	ActionReset    Action = "reset"
	ActionFinalize Action = "finalize"
)

func PhaseOf(it *Item, currentItemID string) Phase {
	switch {
	case it.Revealed && it.FinalEstimate != "":
		return PhaseFinalized
	case it.Revealed:
		return PhaseRevealed
	case it.ID == currentItemID:
		return PhaseCollecting
	default:
		return PhaseNotCurrent
	}
}

// Missing entries are allowed. Reset is allowed from every phase.
var rejections = map[Phase]map[Action]error{
	PhaseNotCurrent: {
		ActionVote:     ErrNotCurrentItem,
		ActionFinalize: ErrNotRevealed,
	},
	PhaseCollecting: {
		ActionFinalize: ErrNotRevealed,
	},
	PhaseRevealed: {
		ActionVote:   ErrVotesLocked,
		ActionReveal: ErrAlreadyRevealed,
	},
	PhaseFinalized: {
		ActionVote:   ErrVotesLocked,
		ActionReveal: ErrAlreadyRevealed,
	},
}

// Allow returns nil when action may run on an item in phase p.
func Allow(p Phase, action Action) error {
	return rejections[p][action]
}
