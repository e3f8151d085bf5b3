package room

import (
	"context"
	"errors"

	"github.com/DoyleJ11/poker-planning-backend/internal/engine"
	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

// MinOutboxSize is the smallest outbox that holds a joiner's welcome and its
// own user_joined before the channel writer has drained anything.
const MinOutboxSize = 2

var ErrOutboxTooSmall = errors.New("outbox too small")

// Join identifies connID as userID (empty for a new user). The room owns
// outbox from here on, including when Join fails after the room accepted it.
func (r *Room) Join(ctx context.Context, connID, userID, displayName string, outbox chan protocol.Event) (protocol.User, error) {
	if cap(outbox) < MinOutboxSize {
		return protocol.User{}, ErrOutboxTooSmall
	}
	reply := make(chan IdentifyResult, 1)
	if !r.Send(Identify{ConnID: connID, UserID: userID, DisplayName: displayName, Outbox: outbox, Reply: reply}) {
		return protocol.User{}, engine.ErrSessionNotFound
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return protocol.User{}, err
	}
	return res.User, res.Err
}

// Submit forwards an intent read from connID. The outcome arrives as events.
func (r *Room) Submit(connID, userID string, in protocol.Intent) bool {
	return r.Send(FromClient{ConnID: connID, UserID: userID, Intent: in})
}

// Do applies an intent on behalf of userID and returns the event it
// produced.
func (r *Room) Do(ctx context.Context, userID string, in protocol.Intent) (protocol.Event, error) {
	reply := make(chan Outcome, 1)
	if !r.Send(FromClient{UserID: userID, Intent: in, Reply: reply}) {
		return nil, engine.ErrSessionNotFound
	}
	out, err := await(ctx, r, reply)
	if err != nil {
		return nil, err
	}
	return out.Event, out.Err
}

func (r *Room) Leave(connID string) {
	r.Send(Disconnect{ConnID: connID})
}

// View returns the session as viewerID may see it.
func (r *Room) View(ctx context.Context, viewerID string) (View, error) {
	reply := make(chan View, 1)
	if !r.Send(GetState{ViewerID: viewerID, Reply: reply}) {
		return View{}, engine.ErrSessionNotFound
	}
	return await(ctx, r, reply)
}

func await[T any](ctx context.Context, r *Room, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.Done():
		// the reply may have been sent just before the room stopped
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, engine.ErrSessionNotFound
		}
	}
}
