// Package client is a participant's handle on a live session: it dials the
// session channel, identifies, sends intents and keeps a projection of the
// session folded from the events it receives.
package client

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-planning-backend/pkg/projection"
	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

var ErrClosed = errors.New("connection closed")

const readLimit = 1 << 20

type Options struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
}

type Conn struct {
	ws  *websocket.Conn
	log *zap.Logger

	mu      sync.Mutex
	proj    projection.Projection
	changed chan struct{} // closed and replaced after every event
	err     error

	done chan struct{}
}

// Dial opens the channel at url and identifies as id. The welcome arrives
// asynchronously; use Wait to block until it is folded in.
func Dial(ctx context.Context, url string, id protocol.Identify, opts Options) (*Conn, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: opts.HTTPClient})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(readLimit)

	c := &Conn{
		ws:      ws,
		log:     opts.Logger.Named("client"),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if err := c.Send(ctx, id); err != nil {
		ws.CloseNow()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

// readLoop is the only writer of the projection.
func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			c.log.Warn("dropping undecodable event", zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.proj = projection.Reduce(c.proj, ev)
		close(c.changed)
		c.changed = make(chan struct{})
		c.mu.Unlock()
	}
}

// Send writes one intent. Its effect is only visible once the resulting
// event has been folded into the projection.
func (c *Conn) Send(ctx context.Context, in protocol.Intent) error {
	data, err := protocol.Encode(in)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *Conn) Projection() projection.Projection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proj
}

// Wait blocks until pred holds for the projection, the channel closes or ctx
// ends. It returns the last projection it saw.
func (c *Conn) Wait(ctx context.Context, pred func(projection.Projection) bool) (projection.Projection, error) {
	for {
		c.mu.Lock()
		p, changed := c.proj, c.changed
		c.mu.Unlock()
		if pred(p) {
			return p, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return p, ctx.Err()
		case <-c.done:
			p = c.Projection()
			if pred(p) {
				return p, nil
			}
			return p, ErrClosed
		}
	}
}

func (c *Conn) Done() <-chan struct{} { return c.done }

// Err is the read error that ended the channel, nil while it is open.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// CloseStatus is the status the server closed with, or -1.
func (c *Conn) CloseStatus() websocket.StatusCode {
	return websocket.CloseStatus(c.Err())
}

func (c *Conn) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	<-c.done
	// a completed close handshake in either direction is a clean close
	if err != nil && c.CloseStatus() != -1 {
		return nil
	}
	return err
}
