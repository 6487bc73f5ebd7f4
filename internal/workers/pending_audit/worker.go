package pending_audit

import (
	"context"
	"sync"
	"time"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	"github.com/rail-service/deposit_watcher/pkg/logger"
	"github.com/rail-service/deposit_watcher/pkg/metrics"
)

// PendingStore is the part of the pending store the audit needs
type PendingStore interface {
	List(ctx context.Context) ([]*entities.PendingEntry, error)
	Update(ctx context.Context, hash string, fn func(*entities.PendingEntry) error) error
}

// Worker flags pending entries that have waited too long for finality.
// Flagged entries stay in the store and keep being verified.
type Worker struct {
	store         PendingStore
	maxAge        time.Duration
	checkInterval time.Duration
	logger        *logger.Logger
	now           func() time.Time
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// Config holds worker configuration
type Config struct {
	MaxAge        time.Duration
	CheckInterval time.Duration
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAge:        time.Duration(entities.MaxPendingAgeHours) * time.Hour,
		CheckInterval: 15 * time.Minute,
	}
}

// NewWorker creates a new pending audit worker
func NewWorker(store PendingStore, config *Config, logger *logger.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Worker{
		store:         store,
		maxAge:        config.MaxAge,
		checkInterval: config.CheckInterval,
		logger:        logger,
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
}

// Start blocks running audits until ctx is cancelled or Stop is called
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting pending audit worker",
		"max_age", w.maxAge.String(),
		"check_interval", w.checkInterval.String())

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	w.audit(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Pending audit worker stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("Pending audit worker stopped")
			return
		case <-ticker.C:
			w.audit(ctx)
		}
	}
}

// Stop stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// RunOnce runs the audit once and returns how many entries were newly flagged
func (w *Worker) RunOnce(ctx context.Context) int {
	return w.audit(ctx)
}

func (w *Worker) audit(ctx context.Context) int {
	entries, err := w.store.List(ctx)
	if err != nil {
		w.logger.Error("Failed to list pending entries", "error", err)
		return 0
	}
	metrics.PendingEntries.Set(float64(len(entries)))

	now := w.now()
	flagged := 0
	for _, entry := range entries {
		if entry.Flagged || entry.Age(now) < w.maxAge {
			continue
		}

		err := w.store.Update(ctx, entry.Key(), func(e *entities.PendingEntry) error {
			e.Flagged = true
			return nil
		})
		if err != nil {
			w.logger.Warn("Failed to flag stuck entry", "hash", entry.Key(), "error", err)
			continue
		}

		flagged++
		metrics.PendingStuck.WithLabelValues(entry.Detail.Chain).Inc()
		w.logger.Error("Deposit pending beyond maximum age, needs manual review",
			"hash", entry.Key(),
			"chain", entry.Detail.Chain,
			"user_id", entry.Detail.UserID,
			"amount", entry.Detail.Amount,
			"currency", entry.Detail.Currency,
			"first_seen_at", entry.FirstSeenAt.Format(time.RFC3339))
	}

	if flagged > 0 {
		w.logger.Info("Pending audit completed", "entries", len(entries), "flagged", flagged)
	}
	return flagged
}
