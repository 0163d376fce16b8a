package backup

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/scratchcard/game/events"
)

// Backupper takes one backup
type Backupper interface {
	Backup(ctx context.Context) (string, error)
}

// Trigger turns backup requests into calls on a Backupper. Requests never
// block: a single worker runs backups one at a time and requests that arrive
// while one is queued are merged into it. There is one deferred timer for the
// whole process.
type Trigger struct {
	backupper Backupper
	clock     clockwork.Clock
	requests  chan struct{}

	mu         sync.Mutex
	timer      clockwork.Timer
	generation uint64
}

// NewTrigger creates a trigger for b
func NewTrigger(b Backupper, clock clockwork.Clock) *Trigger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Trigger{
		backupper: b,
		clock:     clock,
		requests:  make(chan struct{}, 1),
	}
}

// RequestImmediateBackup queues a backup
func (t *Trigger) RequestImmediateBackup() {
	select {
	case t.requests <- struct{}{}:
	default:
	}
}

// RequestDeferredBackup arms the deferred timer, replacing any pending one
func (t *Trigger) RequestDeferredBackup(after time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	gen := t.generation

	t.timer = t.clock.AfterFunc(after, func() {
		t.mu.Lock()
		if gen != t.generation {
			t.mu.Unlock()
			return
		}
		t.timer = nil
		t.mu.Unlock()

		log.WithField("idle", after).Info("idle period elapsed, requesting backup")
		t.RequestImmediateBackup()
	})
	log.WithField("after", after).Debug("deferred backup armed")
}

// CancelDeferredBackup disarms the deferred timer if it has not fired
func (t *Trigger) CancelDeferredBackup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
		log.Debug("deferred backup cancelled")
	}
}

// Pending reports whether the deferred timer is armed
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Run performs queued backups until ctx is cancelled. Failures are logged.
func (t *Trigger) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.requests:
			if key, err := t.backupper.Backup(ctx); err != nil {
				log.WithError(err).Warn("backup failed")
			} else {
				log.WithField("key", key).Debug("backup finished")
			}
		}
	}
}

// Listen requests a backup for every winning reveal on ch
func (t *Trigger) Listen(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if e.Type == events.WinningRevealed {
				log.WithFields(logrus.Fields{"session": e.Code, "value": e.Value}).Info("winning reveal, requesting backup")
				t.RequestImmediateBackup()
			}
		}
	}
}
