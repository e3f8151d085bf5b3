package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-planning-backend/pkg/protocol"
)

type Saver interface {
	Save(ctx context.Context, s protocol.Session) error
}

// Archive is a write-behind queue in front of a Saver. Only the latest
// snapshot of each session is kept; older pending ones are overwritten.
type Archive struct {
	saver Saver
	log   *zap.Logger

	mu      sync.Mutex
	pending map[string]protocol.Session
	order   []string
	wake    chan struct{}
}

func NewArchive(saver Saver, log *zap.Logger) *Archive {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archive{
		saver:   saver,
		log:     log.Named("archive"),
		pending: make(map[string]protocol.Session),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue never blocks.
func (a *Archive) Enqueue(s protocol.Session) {
	a.mu.Lock()
	if _, queued := a.pending[s.ID]; !queued {
		a.order = append(a.order, s.ID)
	}
	a.pending[s.ID] = s
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Archive) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run writes queued snapshots until ctx is done, then makes a last attempt
// to flush within flushTimeout.
func (a *Archive) Run(ctx context.Context, flushTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			defer cancel()
			return a.Flush(final)
		case <-a.wake:
			if err := a.Flush(ctx); err != nil {
				a.log.Warn("archive flush failed", zap.Error(err))
			}
		}
	}
}

// Flush saves everything queued so far. Failed snapshots are queued again
// unless a newer one arrived meanwhile.
func (a *Archive) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := make([]protocol.Session, 0, len(a.order))
	for _, id := range a.order {
		batch = append(batch, a.pending[id])
	}
	a.pending = make(map[string]protocol.Session)
	a.order = nil
	a.mu.Unlock()

	var errs error
	for _, s := range batch {
		if err := a.saver.Save(ctx, s); err != nil {
			errs = multierr.Append(errs, err)
			a.requeue(s)
			continue
		}
		a.log.Debug("session archived", zap.String("session", s.ID))
	}
	return errs
}

func (a *Archive) requeue(s protocol.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, newer := a.pending[s.ID]; newer {
		return
	}
	a.pending[s.ID] = s
	a.order = append(a.order, s.ID)
}
