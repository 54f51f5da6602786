/*
service.go - Transfer orchestration

PURPOSE:
  TransferService is the only component that touches both aggregates. It
  runs each workflow step as one unit of work so a batch's allocation and
  the status of the requests against it never diverge.

REQUEST FLOW:
  ┌───────────────────────────────────────────────────────────────────────┐
  │ Create    load batch ─▶ number ─▶ Allocate(requested) ─▶ save both    │
  │ Approve   Approve ─▶ ReleaseAllocation(requested - approved)          │
  │ Reject    Reject ─▶ ReleaseAllocation(requested)                      │
  │ Dispatch  request only                                                │
  │ Confirm   request only (flag, status unchanged)                       │
  │ Complete  Consume(final) ─▶ consumption movement ─▶ Complete          │
  │ Cancel    Cancel ─▶ ReleaseAllocation(outstanding)                    │
  └───────────────────────────────────────────────────────────────────────┘

ATOMICITY:
  Every operation runs inside TxStore.WithTx. Batch, request and movement
  are saved in that order and the first failure rolls everything back.
  The batch is re-read inside the transaction and saved with its version,
  so two requests racing for the same stock cannot both allocate it.

NOT IDEMPOTENT:
  Calling an operation twice is a second state transition, not a retry.
  The state guards turn most repeats into ErrInvalidStateTransition, but
  callers must not blindly retry on ErrConcurrentModification either:
  reload and decide again.

CANCEL OF AN APPROVED REQUEST:
  The approved quantity is released. PreserveCancelLeak restores the older
  behaviour where only Pending cancellations released their allocation.

SEE ALSO:
  - batch.go, transfer.go: the aggregates
  - batch_service.go: batch operations not tied to a request
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// TRANSFER SERVICE
// =============================================================================

type TransferService struct {
	Store   TxStore
	Clock   Clock
	Numbers *RequestNumberGenerator
	Logger  *zap.Logger

	// UrgentDays overrides UrgentHorizonDays for Urgent when positive.
	UrgentDays int

	// PreserveCancelLeak leaves an Approved request's allocation in place
	// when it is cancelled. Off by default.
	PreserveCancelLeak bool
}

func NewTransferService(store TxStore, clock Clock, logger *zap.Logger) *TransferService {
	clock = orSystem(clock)
	return &TransferService{
		Store:   store,
		Clock:   clock,
		Numbers: NewRequestNumberGenerator(DefaultRequestPrefix, clock),
		Logger:  orNop(logger),
	}
}

// CreateTransferInput is the orchestrator-level create payload.
type CreateTransferInput struct {
	BatchID            BatchID
	DestinationStoreID StoreID
	Quantity           decimal.Decimal
	Unit               Unit // empty means the batch's unit
	RequestedBy        UserID
	RequiredBy         *time.Time
	Notes              string
}

// CreateTransferRequest allocates the requested quantity on the batch and
// records a Pending request with a fresh request number.
func (s *TransferService) CreateTransferRequest(ctx context.Context, in CreateTransferInput) (*TransferRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qty := Quantity{Value: in.Quantity, Unit: in.Unit}
	now := s.now()

	var created *TransferRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		batch, err := tx.LoadBatch(ctx, in.BatchID)
		if err != nil {
			return err
		}
		if qty.Unit == "" {
			qty.Unit = batch.Unit()
		}
		if !batch.CanBeAllocated(qty) {
			return batch.allocationError(qty)
		}

		number, err := s.numbers().Next(ctx, tx.RequestNumberExists)
		if err != nil {
			return err
		}
		req, err := NewTransferRequest(NewTransferRequestParams{
			RequestNumber:      number,
			BatchID:            batch.ID,
			DestinationStoreID: in.DestinationStoreID,
			RequestedQuantity:  qty,
			RequestedBy:        in.RequestedBy,
			RequiredBy:         in.RequiredBy,
			Notes:              in.Notes,
		}, now)
		if err != nil {
			return err
		}

		if err := batch.Allocate(qty); err != nil {
			return err
		}
		batch.Touch(now)
		if err := tx.SaveBatch(ctx, batch); err != nil {
			return err
		}
		if err := tx.SaveTransferRequest(ctx, req); err != nil {
			return err
		}
		m := newMovement("", batch, MovementAllocation, qty, string(req.ID), "transfer request "+req.RequestNumber, in.RequestedBy, now)
		if err := recordMovement(ctx, tx, m); err != nil {
			return err
		}
		created = req
		return nil
	})
	if err != nil {
		s.Logger.Warn("transfer request not created",
			zap.String("batch_id", string(in.BatchID)),
			zap.String("quantity", qty.String()),
			zap.Error(err))
		return nil, err
	}

	s.Logger.Info("transfer request created",
		zap.String("request_id", string(created.ID)),
		zap.String("request_number", created.RequestNumber),
		zap.String("batch_id", string(created.BatchID)),
		zap.String("quantity", qty.String()))
	return created, nil
}

// Approve approves a Pending request. A smaller approved quantity releases
// the difference back to the batch.
func (s *TransferService) Approve(ctx context.Context, id RequestID, approverID UserID, approvedQty *decimal.Decimal, notes string) (*TransferRequest, error) {
	return s.transition(ctx, id, "approve", func(tx Store, r *TransferRequest, now time.Time) error {
		var approved *Quantity
		if approvedQty != nil {
			approved = &Quantity{Value: *approvedQty, Unit: r.Unit()}
		}
		if err := r.Approve(approverID, approved, notes, now); err != nil {
			return err
		}
		release := r.ReleaseOnApproval()
		if !release.IsPositive() {
			return nil
		}
		return s.adjustBatch(ctx, tx, r.BatchID, now, func(b *Batch) (*StockMovement, error) {
			if err := b.ReleaseAllocation(release); err != nil {
				return nil, err
			}
			m := newMovement("", b, MovementRelease, release, string(r.ID), "partial approval", approverID, now)
			return &m, nil
		})
	})
}

// Reject rejects a Pending request and releases its full allocation.
func (s *TransferService) Reject(ctx context.Context, id RequestID, rejecterID UserID, reason string) (*TransferRequest, error) {
	return s.transition(ctx, id, "reject", func(tx Store, r *TransferRequest, now time.Time) error {
		release := r.OutstandingAllocation()
		if err := r.Reject(rejecterID, reason, now); err != nil {
			return err
		}
		return s.adjustBatch(ctx, tx, r.BatchID, now, func(b *Batch) (*StockMovement, error) {
			if err := b.ReleaseAllocation(release); err != nil {
				return nil, err
			}
			m := newMovement("", b, MovementRelease, release, string(r.ID), "rejected: "+reason, rejecterID, now)
			return &m, nil
		})
	})
}

// Dispatch records truck and driver details on an Approved request.
func (s *TransferService) Dispatch(ctx context.Context, id RequestID, d DispatchDetails) (*TransferRequest, error) {
	return s.transition(ctx, id, "dispatch", func(_ Store, r *TransferRequest, now time.Time) error {
		return r.Dispatch(d, now)
	})
}

// ConfirmDelivery stamps arrival at the destination store.
func (s *TransferService) ConfirmDelivery(ctx context.Context, id RequestID, confirmedBy UserID) (*TransferRequest, error) {
	return s.transition(ctx, id, "confirm delivery", func(_ Store, r *TransferRequest, now time.Time) error {
		return r.ConfirmDelivery(confirmedBy, now)
	})
}

// Complete consumes the final quantity from the batch and closes the request.
// transactionRef, when given, becomes the ID of the consumption movement.
func (s *TransferService) Complete(ctx context.Context, id RequestID, processorID UserID, transactionRef string) (*TransferRequest, error) {
	return s.transition(ctx, id, "complete", func(tx Store, r *TransferRequest, now time.Time) error {
		movementID := MovementID(transactionRef)
		if movementID == "" {
			movementID = MovementID(uuid.NewString())
		}
		final := r.FinalQuantity()
		if err := r.Complete(processorID, movementID, now); err != nil {
			return err
		}
		return s.adjustBatch(ctx, tx, r.BatchID, now, func(b *Batch) (*StockMovement, error) {
			if err := b.Consume(final); err != nil {
				return nil, fmt.Errorf("completing %s: %w", r.RequestNumber, asInvariant(err))
			}
			m := newMovement(movementID, b, MovementConsumption, final, string(r.ID),
				"transfer to store "+string(r.DestinationStoreID), processorID, now)
			return &m, nil
		})
	})
}

// Cancel cancels a Pending or Approved request and releases what it holds.
func (s *TransferService) Cancel(ctx context.Context, id RequestID, reason string) (*TransferRequest, error) {
	return s.transition(ctx, id, "cancel", func(tx Store, r *TransferRequest, now time.Time) error {
		release := r.OutstandingAllocation()
		if r.Status == TransferApproved && s.PreserveCancelLeak {
			release = release.Zero()
		}
		if err := r.Cancel(reason, now); err != nil {
			return err
		}
		if !release.IsPositive() {
			return nil
		}
		return s.adjustBatch(ctx, tx, r.BatchID, now, func(b *Batch) (*StockMovement, error) {
			if err := b.ReleaseAllocation(release); err != nil {
				return nil, err
			}
			m := newMovement("", b, MovementRelease, release, string(r.ID), "cancelled: "+reason, r.RequestedBy, now)
			return &m, nil
		})
	})
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *TransferService) Get(ctx context.Context, id RequestID) (*TransferRequest, error) {
	return s.Store.LoadTransferRequest(ctx, id)
}

func (s *TransferService) GetByNumber(ctx context.Context, number string) (*TransferRequest, error) {
	return s.Store.LoadTransferRequestByNumber(ctx, number)
}

func (s *TransferService) List(ctx context.Context, filter TransferFilter) ([]*TransferRequest, error) {
	return s.Store.ListTransferRequests(ctx, filter)
}

// Overdue returns open requests whose required-by date has passed.
func (s *TransferService) Overdue(ctx context.Context) ([]*TransferRequest, error) {
	open, err := s.Store.ListTransferRequests(ctx, TransferFilter{OpenOnly: true})
	if err != nil {
		return nil, err
	}
	var out []*TransferRequest
	for _, r := range open {
		if r.IsOverdue(s.Clock) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Urgent returns Pending requests required within the urgent horizon.
func (s *TransferService) Urgent(ctx context.Context) ([]*TransferRequest, error) {
	pending, err := s.Store.ListTransferRequests(ctx, TransferFilter{Status: TransferPending})
	if err != nil {
		return nil, err
	}
	days := s.UrgentDays
	if days <= 0 {
		days = UrgentHorizonDays
	}
	var out []*TransferRequest
	for _, r := range pending {
		if r.IsUrgentWithin(s.Clock, days) {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// transition loads a request inside a transaction, applies fn and saves the
// request. fn is responsible for any batch side effect (see adjustBatch).
func (s *TransferService) transition(
	ctx context.Context,
	id RequestID,
	action string,
	fn func(tx Store, r *TransferRequest, now time.Time) error,
) (*TransferRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()

	var result *TransferRequest
	err := s.Store.WithTx(ctx, func(tx Store) error {
		r, err := tx.LoadTransferRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, r, now); err != nil {
			return err
		}
		if err := tx.SaveTransferRequest(ctx, r); err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		s.Logger.Warn("transfer request transition failed",
			zap.String("action", action),
			zap.String("request_id", string(id)),
			zap.Error(err))
		return nil, err
	}

	s.Logger.Info("transfer request "+action,
		zap.String("request_id", string(result.ID)),
		zap.String("request_number", result.RequestNumber),
		zap.String("status", string(result.Status)),
		zap.String("final_quantity", result.FinalQuantity().String()))
	return result, nil
}

// adjustBatch loads the batch in tx, applies fn, saves it and appends the
// movement fn returns.
func (s *TransferService) adjustBatch(ctx context.Context, tx Store, id BatchID, now time.Time, fn func(b *Batch) (*StockMovement, error)) error {
	b, err := tx.LoadBatch(ctx, id)
	if err != nil {
		return err
	}
	m, err := fn(b)
	if err != nil {
		return err
	}
	b.Touch(now)
	if err := tx.SaveBatch(ctx, b); err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	return recordMovement(ctx, tx, *m)
}

func (s *TransferService) numbers() *RequestNumberGenerator {
	if s.Numbers == nil {
		return NewRequestNumberGenerator(DefaultRequestPrefix, s.Clock)
	}
	return s.Numbers
}

func (s *TransferService) now() time.Time { return orSystem(s.Clock).Now() }

// asInvariant reclassifies an argument failure from the batch as an
// internal inconsistency: a request always holds what it asks to consume.
func asInvariant(err error) error {
	var arg *ArgumentError
	if errors.As(err, &arg) {
		return &InvariantError{Message: arg.Error()}
	}
	return err
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
