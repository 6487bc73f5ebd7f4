package lock_sweeper

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule sweeps expired address locks every minute
const DefaultSchedule = "@every 1m"

// LockStore is a lock registry whose expired entries can be swept
type LockStore interface {
	SweepExpired() int
	Count() int
}

// Worker drops address locks that outlived their lifetime
type Worker struct {
	locks    LockStore
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger
}

func NewWorker(locks LockStore, schedule string, logger *zap.Logger) *Worker {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Worker{
		locks:    locks,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, w.Sweep); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Lock sweeper started", zap.String("schedule", w.schedule))
	return nil
}

// Sweep removes expired locks once
func (w *Worker) Sweep() {
	removed := w.locks.SweepExpired()
	if removed > 0 {
		w.logger.Info("Swept expired address locks",
			zap.Int("removed", removed),
			zap.Int("remaining", w.locks.Count()))
	}
}

func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
	w.logger.Info("Lock sweeper stopped")
}
