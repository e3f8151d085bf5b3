package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-planning-backend/internal/engine"
	"github.com/DoyleJ11/poker-planning-backend/internal/room"
	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

var (
	ErrClosed     = errors.New("hub closed")
	ErrNoFreeCode = errors.New("no free session code")

	errCodeTaken = errors.New("session code taken")
)

const maxCodeAttempts = 16

type HubMsg interface{ isHubMsg() }

// CreateSession starts a session under Code unless a live room holds it, in
// which case the reply carries errCodeTaken.
type CreateSession struct {
	Code     string
	Name     string
	HostName string
	Reply    chan Created
}

type Created struct {
	Room *room.Room
	Host engine.User
	Err  error
}

type GetSession struct {
	ID    string
	Reply chan *room.Room // nil when absent
}

// EnsureSession installs a room for State unless one is already live under
// the same id, in which case the live one wins.
type EnsureSession struct {
	State *engine.State
	Reply chan *room.Room
}

// RemoveSession forgets a room once it has stopped.
type RemoveSession struct {
	ID string
}

type ListSessions struct {
	Reply chan []*room.Room
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ListSessions) isHubMsg()  {}
func (ShutdownHub) isHubMsg()   {}

// Loader reads archived sessions. Load returns engine.ErrSessionNotFound when
// nothing is archived under id.
type Loader interface {
	Load(ctx context.Context, id string) (protocol.Session, error)
}

type Config struct {
	Rules       engine.Rules
	Logger      *zap.Logger
	Archive     room.Archiver
	Loader      Loader
	IdleTimeout time.Duration
	// NewCode generates session ids. Defaults to GenerateCode.
	NewCode func() (string, error)
}

type Summary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UserCount int    `json:"userCount"`
	ItemCount int    `json:"itemCount"`
}

type Hub struct {
	inbox chan HubMsg
	rooms map[string]*room.Room
	cfg   Config
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func NewHub(parent context.Context, cfg Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NewCode == nil {
		cfg.NewCode = GenerateCode
	}
	if len(cfg.Rules.Deck.Cards()) == 0 {
		cfg.Rules = engine.DefaultRules()
	}

	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		cfg:    cfg,
		log:    cfg.Logger.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Send(m HubMsg) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			clear(h.rooms)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				msg.Reply <- h.create(msg.Code, msg.Name, msg.HostName)

			case GetSession:
				msg.Reply <- h.live(msg.ID)

			case EnsureSession:
				if rm := h.live(msg.State.ID); rm != nil {
					msg.Reply <- rm
					break
				}
				rm := h.spawn(msg.State)
				h.log.Info("session restored from archive", zap.String("session", msg.State.ID))
				msg.Reply <- rm

			case RemoveSession:
				if rm := h.rooms[msg.ID]; rm != nil && stopped(rm) {
					delete(h.rooms, msg.ID)
					h.log.Info("session removed", zap.String("session", msg.ID))
				}

			case ListSessions:
				out := make([]*room.Room, 0, len(h.rooms))
				for id := range h.rooms {
					if rm := h.live(id); rm != nil {
						out = append(out, rm)
					}
				}
				msg.Reply <- out

			case ShutdownHub:
				for _, rm := range h.rooms {
					rm.Send(room.Shutdown{})
				}
				// rooms finish what is queued before the hub reports done
				for _, rm := range h.rooms {
					<-rm.Stopped()
				}
				clear(h.rooms)
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) create(code, name, hostName string) Created {
	if h.live(code) != nil {
		return Created{Err: errCodeTaken}
	}

	state, host, err := engine.NewSession(code, name, hostName, h.cfg.Rules)
	if err != nil {
		return Created{Err: err}
	}
	if h.cfg.Archive != nil {
		h.cfg.Archive.Enqueue(state.Export())
	}
	rm := h.spawn(state)
	h.log.Info("session created", zap.String("session", code), zap.String("host", host.ID))
	return Created{Room: rm, Host: host}
}

func (h *Hub) spawn(state *engine.State) *room.Room {
	rm := room.New(h.ctx, state, room.Options{
		Logger:      h.cfg.Logger.Named("room"),
		Archive:     h.cfg.Archive,
		IdleTimeout: h.cfg.IdleTimeout,
		OnTeardown:  func(id string) { h.Send(RemoveSession{ID: id}) },
	})
	h.rooms[state.ID] = rm
	return rm
}

// live returns the running room for id, forgetting it if it has stopped.
func (h *Hub) live(id string) *room.Room {
	rm := h.rooms[id]
	if rm == nil {
		return nil
	}
	if stopped(rm) {
		delete(h.rooms, id)
		return nil
	}
	return rm
}

func stopped(rm *room.Room) bool {
	select {
	case <-rm.Done():
		return true
	default:
		return false
	}
}

// Create starts a new session and returns its room and host. Codes held by
// a live room or by an archived session are skipped.
func (h *Hub) Create(ctx context.Context, name, hostName string) (*room.Room, engine.User, error) {
	for range maxCodeAttempts {
		code, err := h.cfg.NewCode()
		if err != nil {
			return nil, engine.User{}, err
		}
		taken, err := h.archived(ctx, code)
		if err != nil {
			return nil, engine.User{}, err
		}
		if taken {
			h.log.Debug("code held by archived session, regenerating", zap.String("code", code))
			continue
		}

		reply := make(chan Created, 1)
		if !h.Send(CreateSession{Code: code, Name: name, HostName: hostName, Reply: reply}) {
			return nil, engine.User{}, ErrClosed
		}
		var res Created
		select {
		case res = <-reply:
		case <-ctx.Done():
			return nil, engine.User{}, ctx.Err()
		}
		if errors.Is(res.Err, errCodeTaken) {
			h.log.Debug("collision on code, regenerating", zap.String("code", code))
			continue
		}
		return res.Room, res.Host, res.Err
	}
	return nil, engine.User{}, ErrNoFreeCode
}

// archived reports whether the archive already holds a session under code.
func (h *Hub) archived(ctx context.Context, code string) (bool, error) {
	if h.cfg.Loader == nil {
		return false, nil
	}
	_, err := h.cfg.Loader.Load(ctx, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, engine.ErrSessionNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Lookup returns the live room for id, restoring it from the archive when
// it is not in memory.
func (h *Hub) Lookup(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	if !h.Send(GetSession{ID: id, Reply: reply}) {
		return nil, ErrClosed
	}
	var rm *room.Room
	select {
	case rm = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if rm != nil {
		return rm, nil
	}
	if h.cfg.Loader == nil {
		return nil, engine.ErrSessionNotFound
	}

	// the archive read runs outside the hub loop
	snap, err := h.cfg.Loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := engine.Restore(snap, h.cfg.Rules)
	if err != nil {
		h.log.Error("archived session is unusable", zap.String("session", id), zap.Error(err))
		return nil, err
	}

	if !h.Send(EnsureSession{State: state, Reply: reply}) {
		return nil, ErrClosed
	}
	select {
	case rm = <-reply:
		return rm, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// List summarises every live session, ordered by id.
func (h *Hub) List(ctx context.Context) ([]Summary, error) {
	reply := make(chan []*room.Room, 1)
	if !h.Send(ListSessions{Reply: reply}) {
		return nil, ErrClosed
	}
	var rooms []*room.Room
	select {
	case rooms = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	out := make([]Summary, 0, len(rooms))
	for _, rm := range rooms {
		v, err := rm.View(ctx, "")
		if errors.Is(err, engine.ErrSessionNotFound) {
			continue // torn down meanwhile
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{
			ID:        v.Session.ID,
			Name:      v.Session.Name,
			UserCount: len(v.Session.Users),
			ItemCount: len(v.Session.Items),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Shutdown stops every room. Done is closed only after all of them have
// stopped.
func (h *Hub) Shutdown() {
	h.Send(ShutdownHub{})
}
