package chainapi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
)

// FetchFunc returns the recent incoming transfers of address
type FetchFunc func(ctx context.Context, address string) ([]entities.ChainTransfer, error)

// Poller turns a transfer listing into a stream of status changes. A transfer
// is reported when first seen and again whenever its status changes.
type Poller struct {
	interval time.Duration
	logger   *zap.Logger
}

// NewPoller creates a poller fetching every interval
func NewPoller(interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{interval: interval, logger: logger}
}

// Watch polls fetch for address until the returned stop func is called
func (p *Poller) Watch(ctx context.Context, address string, fetch FetchFunc, cb func(entities.ChainTransfer)) (func(), error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	seen := make(map[string]entities.PendingStatus)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.poll(ctx, address, fetch, seen, cb)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx, address, fetch, seen, cb)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

func (p *Poller) poll(ctx context.Context, address string, fetch FetchFunc, seen map[string]entities.PendingStatus, cb func(entities.ChainTransfer)) {
	transfers, err := fetch(ctx, address)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Failed to fetch transfers", zap.String("address", address), zap.Error(err))
		}
		return
	}

	current := make(map[string]struct{}, len(transfers))
	for _, t := range transfers {
		current[t.Hash] = struct{}{}
		if prev, ok := seen[t.Hash]; ok && prev == t.Status {
			continue
		}
		seen[t.Hash] = t.Status
		if ctx.Err() != nil {
			return
		}
		cb(t)
	}

	// forget transfers that dropped out of the listing window
	for hash := range seen {
		if _, ok := current[hash]; !ok {
			delete(seen, hash)
		}
	}
}
