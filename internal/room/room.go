package room

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-planning-backend/internal/engine"
	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

type Msg interface{ isRoomMsg() }

// Identify binds a connection to a user. On success the room sends a welcome
// to Outbox and takes ownership of it: only the room closes it.
type Identify struct {
	ConnID      string
	UserID      string
	DisplayName string
	Outbox      chan protocol.Event
	Reply       chan IdentifyResult
}

type IdentifyResult struct {
	User protocol.User
	Err  error
}

// FromClient carries one intent. ConnID is empty for request/response
// callers, who get the outcome on Reply instead of an error event.
type FromClient struct {
	ConnID string
	UserID string
	Intent protocol.Intent
	Reply  chan Outcome // optional
}

type Outcome struct {
	Event protocol.Event
	Err   error
}

type Disconnect struct {
	ConnID string
}

type GetState struct {
	ViewerID string
	Reply    chan View
}

type Shutdown struct{}

type idleExpired struct{ gen int }

func (Identify) isRoomMsg()    {}
func (FromClient) isRoomMsg()  {}
func (Disconnect) isRoomMsg()  {}
func (GetState) isRoomMsg()    {}
func (Shutdown) isRoomMsg()    {}
func (idleExpired) isRoomMsg() {}

type View struct {
	Version    int
	NumClients int
	Session    protocol.Session
}

// Archiver receives a full snapshot after every accepted change.
type Archiver interface {
	Enqueue(protocol.Session)
}

type Options struct {
	Logger  *zap.Logger
	Archive Archiver
	// IdleTimeout tears the room down after this long without a connection.
	// Zero keeps it alive until shutdown.
	IdleTimeout time.Duration
	OnTeardown  func(id string)
}

type client struct {
	userID string
	outbox chan protocol.Event
}

// Room is the single writer of one session. Every change goes through its
// inbox and is applied in arrival order.
type Room struct {
	id      string
	inbox   chan Msg
	state   *engine.State
	version int
	clients map[string]*client // by connection id
	opts    Options
	log     *zap.Logger

	idleGen   int
	idleTimer *time.Timer

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func New(parent context.Context, state *engine.State, opts Options) *Room {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := &Room{
		id:      state.ID,
		inbox:   make(chan Msg, 64),
		state:   state,
		clients: make(map[string]*client),
		opts:    opts,
		log:     opts.Logger.With(zap.String("session", state.ID)),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	r.armIdle()

	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Done is closed once the room has stopped accepting messages.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

// Stopped is closed once the loop has exited and nothing more will be
// committed or archived.
func (r *Room) Stopped() <-chan struct{} { return r.stopped }

// Send queues m unless the room has shut down.
func (r *Room) Send(m Msg) bool {
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Room) loop() {
	defer close(r.stopped)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Identify:
				r.identify(msg)

			case FromClient:
				ev, err := r.fromClient(msg)
				if msg.Reply != nil {
					msg.Reply <- Outcome{Event: ev, Err: err}
				}

			case Disconnect:
				if c, ok := r.clients[msg.ConnID]; ok {
					r.drop(msg.ConnID, c)
				}

			case GetState:
				msg.Reply <- View{
					Version:    r.version,
					NumClients: len(r.clients),
					Session:    r.state.Snapshot(msg.ViewerID),
				}

			case idleExpired:
				if msg.gen != r.idleGen || len(r.clients) > 0 {
					break
				}
				r.log.Info("session idle, tearing down")
				r.shutdown()
				if r.opts.OnTeardown != nil {
					go r.opts.OnTeardown(r.id)
				}
				return

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) identify(msg Identify) {
	user, ev, err := r.state.Identify(msg.UserID, msg.DisplayName)
	if err != nil {
		r.log.Debug("identify rejected", zap.String("user", msg.UserID), zap.Error(err))
		msg.Reply <- IdentifyResult{Err: err}
		return
	}

	// the newer channel wins; older ones for the same user are torn down
	for connID, c := range r.clients {
		if c.userID == user.ID {
			r.log.Debug("closing superseded connection", zap.String("conn", connID), zap.String("user", user.ID))
			close(c.outbox)
			delete(r.clients, connID)
		}
	}

	r.clients[msg.ConnID] = &client{userID: user.ID, outbox: msg.Outbox}
	r.idleGen++
	msg.Reply <- IdentifyResult{User: user}

	if !r.deliver(msg.ConnID, protocol.Welcome{Session: r.state.Snapshot(user.ID), UserID: user.ID}) {
		return
	}
	r.log.Info("user identified", zap.String("user", user.ID), zap.String("conn", msg.ConnID))
	r.commit(ev)
}

func (r *Room) fromClient(msg FromClient) (protocol.Event, error) {
	if msg.ConnID != "" {
		c, ok := r.clients[msg.ConnID]
		if !ok || c.userID != msg.UserID {
			return nil, engine.ErrNotConnected
		}
	}

	ev, err := r.state.Apply(msg.UserID, msg.Intent)
	if err != nil {
		if engine.Silent(err) {
			r.log.Debug("intent ignored", zap.String("user", msg.UserID), zap.String("intent", string(msg.Intent.Kind())), zap.Error(err))
			return nil, err
		}
		r.log.Info("intent rejected", zap.String("user", msg.UserID), zap.String("intent", string(msg.Intent.Kind())), zap.Error(err))
		if msg.ConnID != "" {
			r.deliver(msg.ConnID, protocol.Error{Error: err.Error()})
		}
		return nil, err
	}

	r.commit(ev)

	if left, ok := ev.(protocol.UserLeft); ok && left.Removed {
		for connID, c := range r.clients {
			if c.userID == left.UserID {
				close(c.outbox)
				delete(r.clients, connID)
			}
		}
		r.armIdle()
	}
	return ev, nil
}

// drop forgets a connection and marks its user disconnected.
func (r *Room) drop(connID string, c *client) {
	close(c.outbox)
	delete(r.clients, connID)

	ev, err := r.state.Disconnect(c.userID)
	if err != nil {
		r.log.Debug("disconnect ignored", zap.String("user", c.userID), zap.Error(err))
	} else {
		r.log.Info("user disconnected", zap.String("user", c.userID), zap.String("conn", connID))
		r.commit(ev)
	}
	r.armIdle()
}

// commit publishes an accepted change.
func (r *Room) commit(ev protocol.Event) {
	r.version++
	if r.opts.Archive != nil {
		r.opts.Archive.Enqueue(r.state.Export())
	}
	r.broadcast(ev)
}

// deliver sends ev to one connection, dropping it if its outbox is full.
func (r *Room) deliver(connID string, ev protocol.Event) bool {
	c, ok := r.clients[connID]
	if !ok {
		return false
	}
	select {
	case c.outbox <- ev:
		return true
	default:
		r.log.Warn("dropping slow client", zap.String("conn", connID), zap.String("user", c.userID))
		r.drop(connID, c)
		return false
	}
}

func (r *Room) broadcast(ev protocol.Event) {
	var slow []string
	for connID, c := range r.clients {
		select {
		case c.outbox <- ev:
		default:
			slow = append(slow, connID)
		}
	}
	for _, connID := range slow {
		// a drop above may already have removed it
		if c, ok := r.clients[connID]; ok {
			r.log.Warn("dropping slow client", zap.String("conn", connID), zap.String("user", c.userID))
			r.drop(connID, c)
		}
	}
}

func (r *Room) armIdle() {
	if len(r.clients) > 0 || r.opts.IdleTimeout <= 0 {
		return
	}
	r.idleGen++
	gen := r.idleGen
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(r.opts.IdleTimeout, func() {
		r.Send(idleExpired{gen: gen})
	})
}

func (r *Room) shutdown() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	for id, c := range r.clients {
		close(c.outbox)
		delete(r.clients, id)
	}
	r.cancel()
}
