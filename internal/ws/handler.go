package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/poker-planning-backend/internal/engine"
	"github.com/DoyleJ11/poker-planning-backend/internal/hub"
	"github.com/DoyleJ11/poker-planning-backend/internal/room"
	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

type Options struct {
	OriginPatterns  []string
	IdentifyTimeout time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	OutboxSize      int
	Logger          *zap.Logger
}

func (o *Options) defaults() {
	if o.IdentifyTimeout <= 0 {
		o.IdentifyTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 32
	}
	o.OutboxSize = max(o.OutboxSize, room.MinOutboxSize)
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Handler serves /ws/{sessionId}. The first frame must be an identify.
func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	opts.defaults()
	log := opts.Logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()

		c := &channel{
			conn:    conn,
			opts:    opts,
			connID:  uuid.NewString(),
			session: sessionID,
		}
		c.log = log.With(zap.String("session", sessionID), zap.String("conn", c.connID))

		err = c.serve(r.Context(), h)
		switch {
		case err == nil:
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
			websocket.CloseStatus(err) == websocket.StatusGoingAway:
			c.log.Debug("channel closed by peer")
		default:
			c.log.Debug("channel ended", zap.Error(err))
		}
	}
}

type channel struct {
	conn    *websocket.Conn
	opts    Options
	connID  string
	session string
	log     *zap.Logger
}

func (c *channel) serve(ctx context.Context, h *hub.Hub) error {
	id, err := c.readIdentify(ctx)
	if err != nil {
		c.conn.Close(websocket.StatusPolicyViolation, "expected identify")
		return err
	}

	rm, err := h.Lookup(ctx, c.session)
	if err != nil {
		return c.reject(ctx, err)
	}

	outbox := make(chan protocol.Event, c.opts.OutboxSize)
	user, err := rm.Join(ctx, c.connID, id.UserID, id.DisplayName, outbox)
	defer rm.Leave(c.connID)
	if err != nil {
		return c.reject(ctx, err)
	}
	c.log = c.log.With(zap.String("user", user.ID))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx, outbox) })
	g.Go(func() error { return c.readLoop(gctx, rm, user.ID) })
	return g.Wait()
}

func (c *channel) readIdentify(ctx context.Context) (protocol.Identify, error) {
	rctx, cancel := context.WithTimeout(ctx, c.opts.IdentifyTimeout)
	defer cancel()

	_, data, err := c.conn.Read(rctx)
	if err != nil {
		return protocol.Identify{}, err
	}
	in, err := protocol.DecodeIntent(data)
	if err != nil {
		return protocol.Identify{}, err
	}
	id, ok := in.(protocol.Identify)
	if !ok {
		return protocol.Identify{}, engine.ErrProtocolViolation
	}
	return id, nil
}

// reject tells the peer why it was refused and closes the channel.
func (c *channel) reject(ctx context.Context, cause error) error {
	c.log.Info("identify refused", zap.Error(cause))
	if !errors.Is(cause, context.Canceled) {
		c.write(ctx, protocol.Error{Error: cause.Error()})
	}
	c.conn.Close(websocket.StatusNormalClosure, "identify refused")
	return nil
}

func (c *channel) readLoop(ctx context.Context, rm *room.Room, userID string) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}

		in, err := protocol.DecodeIntent(data)
		if err != nil {
			c.log.Info("protocol violation", zap.Error(err))
			c.conn.Close(websocket.StatusPolicyViolation, err.Error())
			return err
		}
		if _, again := in.(protocol.Identify); again {
			c.log.Info("protocol violation", zap.Error(engine.ErrAlreadyIdentified))
			c.conn.Close(websocket.StatusPolicyViolation, engine.ErrAlreadyIdentified.Error())
			return engine.ErrAlreadyIdentified
		}

		if !rm.Submit(c.connID, userID, in) {
			c.conn.Close(websocket.StatusGoingAway, "session closed")
			return nil
		}
	}
}

// writeLoop drains the outbox until the room closes it and keeps the peer
// alive with pings.
func (c *channel) writeLoop(ctx context.Context, outbox <-chan protocol.Event) error {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-outbox:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "closed by server")
				return nil
			}
			if err := c.write(ctx, ev); err != nil {
				return err
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				return err
			}
		}
	}
}

func (c *channel) write(ctx context.Context, ev protocol.Event) error {
	payload, err := protocol.Encode(ev)
	if err != nil {
		c.log.Error("encode event", zap.String("type", string(ev.Kind())), zap.Error(err))
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, payload)
}
