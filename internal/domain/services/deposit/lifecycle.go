package deposit

import (
	"context"
	"sync"
	"time"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/domain/services/monitor"
	"github.com/rail-service/deposit_watcher/pkg/logger"
)

// Timer is a stoppable scheduled callback
type Timer interface {
	Stop() bool
}

// Clock schedules the grace-period stop of idle monitors
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MonitorFactory builds an unstarted monitor for a watch request
type MonitorFactory func(req entities.WatchRequest) (monitor.Monitor, error)

type monitorHandle struct {
	monitor   monitor.Monitor
	sessions  int
	stopTimer Timer
	// gen changes whenever a scheduled stop is armed or cancelled
	gen uint64
}

func (h *monitorHandle) cancelStop() {
	if h.stopTimer != nil {
		h.stopTimer.Stop()
		h.stopTimer = nil
	}
	h.gen++
}

// Lifecycle owns one monitor per (user, chain) and stops it after the last
// session has been gone for the grace period.
type Lifecycle struct {
	mu       sync.Mutex
	handles  map[entities.MonitorKey]*monitorHandle
	starting map[entities.MonitorKey]chan struct{}
	closed   bool
	factory  MonitorFactory
	grace    time.Duration
	clock    Clock
	log      *logger.Logger
}

// NewLifecycle creates a lifecycle manager. A nil clock uses wall time.
func NewLifecycle(factory MonitorFactory, grace time.Duration, clock Clock, log *logger.Logger) *Lifecycle {
	if clock == nil {
		clock = systemClock{}
	}
	return &Lifecycle{
		handles:  make(map[entities.MonitorKey]*monitorHandle),
		starting: make(map[entities.MonitorKey]chan struct{}),
		factory:  factory,
		grace:    grace,
		clock:    clock,
		log:      log,
	}
}

// Connect registers a session for req. An active monitor for the key is
// reused and its pending stop is cancelled; an inert one is replaced.
// Monitors start outside the lock; concurrent connects for a key that is
// still starting wait for that start and then share its monitor.
func (l *Lifecycle) Connect(ctx context.Context, req entities.WatchRequest) (monitor.Monitor, error) {
	key := req.Key()

	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, domainerrors.ErrMonitorStopped
		}
		if wait, ok := l.starting[key]; ok {
			l.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var inert monitor.Monitor
		if h, ok := l.handles[key]; ok {
			if h.monitor.Active() {
				h.cancelStop()
				h.sessions++
				sessions := h.sessions
				l.mu.Unlock()
				l.log.Debug("Reusing deposit monitor", "key", key.String(), "sessions", sessions)
				return h.monitor, nil
			}
			h.cancelStop()
			delete(l.handles, key)
			inert = h.monitor
		}
		done := make(chan struct{})
		l.starting[key] = done
		l.mu.Unlock()

		if inert != nil {
			inert.Stop()
			l.log.Info("Replacing inactive deposit monitor", "key", key.String())
		}

		m, err := l.start(ctx, req)

		l.mu.Lock()
		delete(l.starting, key)
		close(done)
		if err == nil && l.closed {
			err = domainerrors.ErrMonitorStopped
		} else if err == nil {
			l.handles[key] = &monitorHandle{monitor: m, sessions: 1}
		}
		l.mu.Unlock()

		if err != nil {
			if m != nil {
				m.Stop()
			}
			return nil, err
		}
		l.log.Info("Deposit monitor started", "key", key.String())
		return m, nil
	}
}

// start builds and starts a monitor. A monitor is returned only when it started.
func (l *Lifecycle) start(ctx context.Context, req entities.WatchRequest) (monitor.Monitor, error) {
	m, err := l.factory(req)
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		m.Stop()
		return nil, err
	}
	return m, nil
}

// Disconnect releases a session. When none remain the monitor is scheduled
// to stop after the grace period.
func (l *Lifecycle) Disconnect(key entities.MonitorKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.handles[key]
	if !ok {
		return
	}
	if h.sessions > 0 {
		h.sessions--
	}
	if h.sessions > 0 || h.stopTimer != nil {
		return
	}

	h.gen++
	gen := h.gen
	h.stopTimer = l.clock.AfterFunc(l.grace, func() { l.expire(key, h, gen) })
	l.log.Debug("Deposit monitor idle, scheduled stop", "key", key.String(), "grace", l.grace)
}

// expire stops h when the stop scheduled at generation gen is still current
func (l *Lifecycle) expire(key entities.MonitorKey, h *monitorHandle, gen uint64) {
	l.mu.Lock()
	if cur, ok := l.handles[key]; !ok || cur != h || h.gen != gen || h.sessions > 0 {
		l.mu.Unlock()
		return
	}
	delete(l.handles, key)
	l.mu.Unlock()

	h.monitor.Stop()
	l.log.Info("Deposit monitor stopped after grace period", "key", key.String())
}

// Monitor returns the monitor registered for key
func (l *Lifecycle) Monitor(key entities.MonitorKey) (monitor.Monitor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handles[key]
	if !ok {
		return nil, false
	}
	return h.monitor, true
}

// ActiveSessions returns the number of connected sessions across monitors
func (l *Lifecycle) ActiveSessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, h := range l.handles {
		n += h.sessions
	}
	return n
}

// MonitorCount returns the number of registered monitors
func (l *Lifecycle) MonitorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.handles)
}

// Shutdown stops every monitor immediately. Later connects fail.
func (l *Lifecycle) Shutdown() {
	l.mu.Lock()
	l.closed = true
	handles := l.handles
	l.handles = make(map[entities.MonitorKey]*monitorHandle)
	for _, h := range handles {
		h.cancelStop()
	}
	l.mu.Unlock()

	for _, h := range handles {
		h.monitor.Stop()
	}
}
