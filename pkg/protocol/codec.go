package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message type")
)

type envelope struct {
	Type    Kind `json:"type"`
	Payload any  `json:"payload"`
}

// Encode wraps msg in a {"type", "payload"} envelope.
func Encode(msg Message) ([]byte, error) {
	if u, ok := msg.(Unknown); ok {
		return json.Marshal(struct {
			Type    Kind            `json:"type"`
			Payload json.RawMessage `json:"payload,omitempty"`
		}{u.Type, u.Payload})
	}
	b, err := json.Marshal(envelope{Type: msg.Kind(), Payload: msg})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return b, nil
}

// DecodeIntent parses a participant frame. Unknown tags are an error: the
// authority treats them as a protocol violation.
func DecodeIntent(data []byte) (Intent, error) {
	kind, payload, err := peek(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindIdentify:
		return intentOf[Identify](payload)
	case KindVote:
		return intentOf[Vote](payload)
	case KindRevealVotes:
		return intentOf[RevealVotes](payload)
	case KindResetVotes:
		return intentOf[ResetVotes](payload)
	case KindSetFinalEstimate:
		return intentOf[SetFinalEstimate](payload)
	case KindAddItem:
		return intentOf[AddItem](payload)
	case KindSetCurrentItem:
		return intentOf[SetCurrentItem](payload)
	case KindTransferHost:
		return intentOf[TransferHost](payload)
	case KindLeave:
		return intentOf[Leave](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// DecodeEvent parses an authority frame. Tags it does not know come back as
// Unknown so newer servers do not break older clients.
func DecodeEvent(data []byte) (Event, error) {
	kind, payload, err := peek(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindWelcome:
		return eventOf[Welcome](payload)
	case KindError:
		return eventOf[Error](payload)
	case KindUserJoined:
		return eventOf[UserJoined](payload)
	case KindUserLeft:
		return eventOf[UserLeft](payload)
	case KindHostChanged:
		return eventOf[HostChanged](payload)
	case KindItemAdded:
		return eventOf[ItemAdded](payload)
	case KindCurrentItemChanged:
		return eventOf[CurrentItemChanged](payload)
	case KindVoteSubmitted:
		return eventOf[VoteSubmitted](payload)
	case KindVotesRevealed:
		return eventOf[VotesRevealed](payload)
	case KindVotesReset:
		return eventOf[VotesReset](payload)
	case KindFinalEstimateSet:
		return eventOf[FinalEstimateSet](payload)
	default:
		return Unknown{Type: kind, Payload: payload}, nil
	}
}

func peek(data []byte) (Kind, json.RawMessage, error) {
	if !gjson.ValidBytes(data) {
		return "", nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return "", nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return "", nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var raw json.RawMessage
	if p := root.Get("payload"); p.Exists() && p.Type != gjson.Null {
		if !p.IsObject() {
			return "", nil, fmt.Errorf("%w: payload must be an object", ErrMalformed)
		}
		raw = json.RawMessage(p.Raw)
	}
	return Kind(typ.Str), raw, nil
}

func decodeAs[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

func intentOf[T Intent](payload json.RawMessage) (Intent, error) {
	v, err := decodeAs[T](payload)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func eventOf[T Event](payload json.RawMessage) (Event, error) {
	v, err := decodeAs[T](payload)
	if err != nil {
		return nil, err
	}
	return v, nil
}
