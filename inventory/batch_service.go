package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BatchService exposes batch operations that are not driven by a transfer
// request: registration, stock-take corrections, quarantine and expiry.
// Quantity changes are written together with a StockMovement.
type BatchService struct {
	Store  TxStore
	Clock  Clock
	Logger *zap.Logger
}

func NewBatchService(store TxStore, clock Clock, logger *zap.Logger) *BatchService {
	return &BatchService{Store: store, Clock: orSystem(clock), Logger: orNop(logger)}
}

// CreateBatch registers a batch. Batch codes are unique.
func (s *BatchService) CreateBatch(ctx context.Context, p NewBatchParams, createdBy UserID) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var created *Batch
	err := s.Store.WithTx(ctx, func(tx Store) error {
		exists, err := tx.BatchExists(ctx, p.BatchCode)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("batch code %q: %w", p.BatchCode, ErrDuplicate)
		}
		b, err := NewBatch(p, s.Clock)
		if err != nil {
			return err
		}
		if err := tx.SaveBatch(ctx, b); err != nil {
			return err
		}
		m := newMovement("", b, MovementAdjustment, b.Quantity, "", "initial stock", createdBy, b.CreatedAt)
		if err := recordMovement(ctx, tx, m); err != nil {
			return err
		}
		created = b
		return nil
	})
	if err != nil {
		s.Logger.Warn("batch not created", zap.String("batch_code", p.BatchCode), zap.Error(err))
		return nil, err
	}
	s.Logger.Info("batch created",
		zap.String("batch_id", string(created.ID)),
		zap.String("batch_code", created.BatchCode),
		zap.String("quantity", created.Quantity.String()))
	return created, nil
}

func (s *BatchService) Get(ctx context.Context, id BatchID) (*Batch, error) {
	return s.Store.LoadBatch(ctx, id)
}

func (s *BatchService) List(ctx context.Context, filter BatchFilter) ([]*Batch, error) {
	return s.Store.ListBatches(ctx, filter)
}

func (s *BatchService) Movements(ctx context.Context, id BatchID) ([]StockMovement, error) {
	if _, err := s.Store.LoadBatch(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.MovementsByBatch(ctx, id)
}

// =============================================================================
// QUANTITY OPERATIONS
// =============================================================================

func (s *BatchService) Allocate(ctx context.Context, id BatchID, amount decimal.Decimal, by UserID, reason string) (*Batch, error) {
	return s.mutate(ctx, id, "allocate", func(b *Batch, now time.Time) (*StockMovement, error) {
		q := Quantity{Value: amount, Unit: b.Unit()}
		if err := b.Allocate(q); err != nil {
			return nil, err
		}
		m := newMovement("", b, MovementAllocation, q, "", reason, by, now)
		return &m, nil
	})
}

func (s *BatchService) ReleaseAllocation(ctx context.Context, id BatchID, amount decimal.Decimal, by UserID, reason string) (*Batch, error) {
	return s.mutate(ctx, id, "release allocation", func(b *Batch, now time.Time) (*StockMovement, error) {
		q := Quantity{Value: amount, Unit: b.Unit()}
		if err := b.ReleaseAllocation(q); err != nil {
			return nil, err
		}
		m := newMovement("", b, MovementRelease, q, "", reason, by, now)
		return &m, nil
	})
}

func (s *BatchService) Consume(ctx context.Context, id BatchID, amount decimal.Decimal, by UserID, reason string) (*Batch, error) {
	return s.mutate(ctx, id, "consume", func(b *Batch, now time.Time) (*StockMovement, error) {
		q := Quantity{Value: amount, Unit: b.Unit()}
		if err := b.Consume(q); err != nil {
			return nil, err
		}
		m := newMovement("", b, MovementConsumption, q, "", reason, by, now)
		return &m, nil
	})
}

// UpdateQuantity applies a stock-take correction. The movement delta is
// new - old and may be negative.
func (s *BatchService) UpdateQuantity(ctx context.Context, id BatchID, newQuantity decimal.Decimal, by UserID, reason string) (*Batch, error) {
	return s.mutate(ctx, id, "update quantity", func(b *Batch, now time.Time) (*StockMovement, error) {
		old := b.Quantity
		if err := b.UpdateQuantity(Quantity{Value: newQuantity, Unit: b.Unit()}); err != nil {
			return nil, err
		}
		m := newMovement("", b, MovementAdjustment, b.Quantity.Sub(old), "", reason, by, now)
		return &m, nil
	})
}

// =============================================================================
// LIFECYCLE OPERATIONS
// =============================================================================

func (s *BatchService) Quarantine(ctx context.Context, id BatchID, reason string) (*Batch, error) {
	return s.mutate(ctx, id, "quarantine", func(b *Batch, _ time.Time) (*StockMovement, error) {
		return nil, b.Quarantine(reason)
	})
}

func (s *BatchService) ReleaseFromQuarantine(ctx context.Context, id BatchID) (*Batch, error) {
	return s.mutate(ctx, id, "release from quarantine", func(b *Batch, _ time.Time) (*StockMovement, error) {
		return nil, b.ReleaseFromQuarantine()
	})
}

func (s *BatchService) MarkExpired(ctx context.Context, id BatchID) (*Batch, error) {
	return s.mutate(ctx, id, "mark expired", func(b *Batch, _ time.Time) (*StockMovement, error) {
		return nil, b.MarkExpired()
	})
}

func (s *BatchService) UpdateLocation(ctx context.Context, id BatchID, location string) (*Batch, error) {
	return s.mutate(ctx, id, "update location", func(b *Batch, _ time.Time) (*StockMovement, error) {
		return nil, b.UpdateLocation(location)
	})
}

func (s *BatchService) Deactivate(ctx context.Context, id BatchID) (*Batch, error) {
	return s.mutate(ctx, id, "deactivate", func(b *Batch, _ time.Time) (*StockMovement, error) {
		return nil, b.Deactivate()
	})
}

// =============================================================================
// EXPIRY
// =============================================================================

// Expiring returns Active batches that expire within days.
func (s *BatchService) Expiring(ctx context.Context, days int) ([]*Batch, error) {
	if days < 0 {
		return nil, argErr("days", "must not be negative")
	}
	active, err := s.Store.ListBatches(ctx, BatchFilter{Status: BatchActive})
	if err != nil {
		return nil, err
	}
	var out []*Batch
	for _, b := range active {
		if b.IsExpiringSoon(s.Clock, days) {
			out = append(out, b)
		}
	}
	return out, nil
}

// SweepExpired marks every batch past its expiry date as Expired and
// returns how many were changed. A failure on one batch does not stop the
// sweep; the first error is returned after all batches were tried.
func (s *BatchService) SweepExpired(ctx context.Context) (int, error) {
	all, err := s.Store.ListBatches(ctx, BatchFilter{})
	if err != nil {
		return 0, err
	}
	var (
		marked   int
		firstErr error
	)
	for _, b := range all {
		if b.Status == BatchExpired || b.Status == BatchInactive || !b.IsExpired(s.Clock) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		if _, err := s.MarkExpired(ctx, b.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		marked++
	}
	return marked, firstErr
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *BatchService) mutate(ctx context.Context, id BatchID, action string, fn func(b *Batch, now time.Time) (*StockMovement, error)) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := orSystem(s.Clock).Now()

	var result *Batch
	err := s.Store.WithTx(ctx, func(tx Store) error {
		b, err := tx.LoadBatch(ctx, id)
		if err != nil {
			return err
		}
		m, err := fn(b, now)
		if err != nil {
			return err
		}
		b.Touch(now)
		if err := tx.SaveBatch(ctx, b); err != nil {
			return err
		}
		if m != nil {
			if err := recordMovement(ctx, tx, *m); err != nil {
				return err
			}
		}
		result = b
		return nil
	})
	if err != nil {
		s.Logger.Warn("batch operation failed",
			zap.String("action", action),
			zap.String("batch_id", string(id)),
			zap.Error(err))
		return nil, err
	}
	s.Logger.Info("batch "+action,
		zap.String("batch_id", string(result.ID)),
		zap.String("status", string(result.Status)),
		zap.String("quantity", result.Quantity.String()),
		zap.String("allocated", result.Allocated.String()))
	return result, nil
}
