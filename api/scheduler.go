/*
scheduler.go - Automated expiry scheduler

PURPOSE:
  Periodically marks batches past their expiry date as Expired and logs
  what needs attention soon: batches about to expire and transfer requests
  past their required-by date.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Each pass goes through BatchService.SweepExpired, so every status change
    is written in its own transaction with the batch's version check
  - A failed batch is logged and retried on the next pass

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - ExpiringDays: Look-ahead for the expiring-soon warning (default: 30)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExpiryScheduler(batches, transfers, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SweepExpired endpoint (manual sweep)
  - inventory/batch_service.go: SweepExpired, Expiring
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/explosives-inventory/inventory"
	"go.uber.org/zap"
)

// ExpiryScheduler handles automated batch expiry.
type ExpiryScheduler struct {
	Batches       *inventory.BatchService
	Transfers     *inventory.TransferService
	Logger        *zap.Logger
	CheckInterval time.Duration
	ExpiringDays  int
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpiryScheduler creates a new scheduler. transfers may be nil, in which
// case overdue requests are not reported.
func NewExpiryScheduler(batches *inventory.BatchService, transfers *inventory.TransferService, logger *zap.Logger) *ExpiryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExpiryScheduler{
		Batches:       batches,
		Transfers:     transfers,
		Logger:        logger.Named("scheduler"),
		CheckInterval: 1 * time.Hour,
		ExpiringDays:  DefaultExpiringDays,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.Logger.Info("disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run(es.ticker, es.stop)

	es.Logger.Info("started", zap.Duration("check_interval", es.CheckInterval))
}

// Stop stops the scheduler and waits for a running pass to finish.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker == nil {
		return
	}
	es.ticker.Stop()
	close(es.stop)
	es.wg.Wait()
	es.ticker = nil
	es.Logger.Info("stopped")
}

func (es *ExpiryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer es.wg.Done()

	// Run immediately on start
	es.checkAndProcess()

	for {
		select {
		case <-ticker.C:
			es.checkAndProcess()
		case <-stop:
			return
		}
	}
}

// PassResult summarizes one scheduler pass.
type PassResult struct {
	Expired  int
	Expiring int
	Overdue  int
}

func (es *ExpiryScheduler) checkAndProcess() PassResult {
	ctx := context.Background()
	var res PassResult

	marked, err := es.Batches.SweepExpired(ctx)
	res.Expired = marked
	if err != nil {
		es.Logger.Warn("expiry sweep incomplete", zap.Int("marked", marked), zap.Error(err))
	}

	expiring, err := es.Batches.Expiring(ctx, es.ExpiringDays)
	if err != nil {
		es.Logger.Warn("listing expiring batches failed", zap.Error(err))
	}
	res.Expiring = len(expiring)
	for _, b := range expiring {
		es.Logger.Warn("batch expiring soon",
			zap.String("batch_id", string(b.ID)),
			zap.String("batch_code", b.BatchCode),
			zap.Int("days_left", b.DaysUntilExpiry(es.Batches.Clock)),
			zap.String("available", b.Available().String()))
	}

	if es.Transfers != nil {
		overdue, err := es.Transfers.Overdue(ctx)
		if err != nil {
			es.Logger.Warn("listing overdue transfers failed", zap.Error(err))
		}
		res.Overdue = len(overdue)
		for _, r := range overdue {
			es.Logger.Warn("transfer request overdue",
				zap.String("request_number", r.RequestNumber),
				zap.String("status", string(r.Status)),
				zap.Timep("required_by", r.RequiredBy))
		}
	}

	if res.Expired > 0 || res.Expiring > 0 || res.Overdue > 0 {
		es.Logger.Info("pass completed",
			zap.Int("expired", res.Expired),
			zap.Int("expiring", res.Expiring),
			zap.Int("overdue", res.Overdue))
	}
	return res
}

// RunNow triggers an immediate check (for testing/admin).
func (es *ExpiryScheduler) RunNow() PassResult {
	return es.checkAndProcess()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (es *ExpiryScheduler) GetNextRunTime() time.Time {
	return es.Batches.Clock.Now().Add(es.CheckInterval)
}
