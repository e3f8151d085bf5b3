package engine

import "errors"

// Error classes. Every error returned by this package wraps exactly one.
var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrStateConflict     = errors.New("state conflict")
	ErrInvalid           = errors.New("invalid request")
)

var (
	ErrNotHost = newError(ErrUnauthorized, "only the host can perform this action")

	ErrSessionNotFound = newError(ErrNotFound, "session not found")
	ErrItemNotFound    = newError(ErrNotFound, "item not found")
	ErrUserNotFound    = newError(ErrNotFound, "user not found")

	ErrNotCurrentItem      = newError(ErrStateConflict, "item is not the current item")
	ErrVotesLocked         = newError(ErrStateConflict, "votes are locked once revealed")
	ErrAlreadyRevealed     = newError(ErrStateConflict, "votes already revealed")
	ErrNoVote              = newError(ErrStateConflict, "no vote to retract")
	ErrNotConnected        = newError(ErrStateConflict, "user is not connected")
	ErrAlreadyHost         = newError(ErrStateConflict, "user is already the host")
	ErrAlreadyIdentified   = newError(ErrProtocolViolation, "channel already identified")
	ErrUnsupportedIntent   = newError(ErrProtocolViolation, "unsupported intent")
	ErrEmptyName           = newError(ErrInvalid, "display name cannot be empty")
	ErrNameTaken           = newError(ErrInvalid, "display name is already taken in this session")
	ErrInvalidToken        = newError(ErrInvalid, "invalid card value")
	ErrEmptyTitle          = newError(ErrInvalid, "item title cannot be empty")
	ErrEmptyEstimate       = newError(ErrInvalid, "final estimate cannot be empty")
	ErrNotRevealed         = newError(ErrInvalid, "votes must be revealed before setting a final estimate")
	ErrEmptySessionName    = newError(ErrInvalid, "session name cannot be empty")
	ErrInconsistentArchive = newError(ErrInvalid, "archived session violates invariants")
)

// Error carries a user-facing message and unwraps to its class.
type Error struct {
	class error
	msg   string
}

func newError(class error, msg string) *Error {
	return &Error{class: class, msg: msg}
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.class }

type Class int

const (
	ClassInternal Class = iota
	ClassProtocol
	ClassUnauthorized
	ClassNotFound
	ClassConflict
	ClassInvalid
)

func (c Class) String() string {
	switch c {
	case ClassProtocol:
		return "protocol_violation"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "state_conflict"
	case ClassInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

func ClassOf(err error) Class {
	switch {
	case err == nil:
		return ClassInternal
	case errors.Is(err, ErrProtocolViolation):
		return ClassProtocol
	case errors.Is(err, ErrUnauthorized):
		return ClassUnauthorized
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrStateConflict):
		return ClassConflict
	case errors.Is(err, ErrInvalid):
		return ClassInvalid
	default:
		return ClassInternal
	}
}

// Silent reports whether a rejection is an expected race that must not be
// surfaced to the participant.
func Silent(err error) bool {
	return errors.Is(err, ErrStateConflict)
}
