// README: Online availability watchdog: forces idle ONLINE drivers back to OFFLINE.
package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ridecore/internal/metrics"
	"ridecore/internal/modules/driver"
	"ridecore/internal/types"
)

// DefaultTTL is how long a driver stays ONLINE without a refresh.
const DefaultTTL = 60 * time.Second

const expireTimeout = 5 * time.Second

var errUnchanged = errors.New("unchanged")

type DriverUpdater interface {
	Update(ctx context.Context, id types.ID, mutate driver.Mutator) (*driver.Driver, error)
}

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Watchdog keeps one single-shot timer per driver. MarkOnline replaces the timer.
type Watchdog struct {
	drivers DriverUpdater
	ttl     time.Duration
	log     logrus.FieldLogger

	mu      sync.Mutex
	entries map[types.ID]*entry
	gen     uint64
}

func New(drivers DriverUpdater, ttl time.Duration, log logrus.FieldLogger) *Watchdog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Watchdog{drivers: drivers, ttl: ttl, log: log, entries: make(map[types.ID]*entry)}
}

func (w *Watchdog) MarkOnline(id types.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[id]; ok {
		e.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.entries[id] = &entry{
		gen:   gen,
		timer: time.AfterFunc(w.ttl, func() { w.fire(id, gen) }),
	}
}

func (w *Watchdog) MarkOffline(id types.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[id]; ok {
		e.timer.Stop()
		delete(w.entries, id)
	}
}

// Tracked reports whether a timer is armed for the driver.
func (w *Watchdog) Tracked(id types.ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[id]
	return ok
}

// Stop disarms every timer.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, e := range w.entries {
		e.timer.Stop()
		delete(w.entries, id)
	}
}

func (w *Watchdog) fire(id types.ID, gen uint64) {
	w.mu.Lock()
	e, ok := w.entries[id]
	if !ok || e.gen != gen {
		// replaced or disarmed after the timer was already running
		w.mu.Unlock()
		return
	}
	delete(w.entries, id)
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expireTimeout)
	defer cancel()
	w.expire(ctx, id)
}

func (w *Watchdog) expire(ctx context.Context, id types.ID) {
	_, err := w.drivers.Update(ctx, id, func(d *driver.Driver) error {
		if d.Status != driver.StatusOnline {
			return errUnchanged
		}
		d.Status = driver.StatusOffline
		return nil
	})
	switch {
	case err == nil:
		w.log.WithField("driver_id", id).Info("driver online flag expired")
	case errors.Is(err, errUnchanged), errors.Is(err, driver.ErrNotFound):
	default:
		metrics.SideEffectFailures.WithLabelValues(metrics.EffectDriverState).Inc()
		w.log.WithError(err).WithField("driver_id", id).Warn("watchdog expiry failed")
	}
}
