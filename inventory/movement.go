/*
movement.go - Append-only stock movement log

PURPOSE:
  Every change to a batch's on-hand or allocated quantity is recorded as a
  StockMovement. The batch row holds the current counters; the movement
  log explains how they got there.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: movements are never updated or deleted
  2. Each movement references the request that caused it, if any
  3. Completing a transfer writes exactly one consumption movement, and the
     request's CompletedTransactionID points at it

MOVEMENT TYPES:
  allocation   Allocated += Delta          (request created / manual allocate)
  release      Allocated -= Delta          (partial approval, reject, cancel)
  consumption  Quantity and Allocated -= Delta  (transfer completed)
  adjustment   Quantity set by stock take; Delta = new - old

EXAMPLE FLOW (batch of 1000 kg):
  request 300 kg   allocation  +300   allocated 300
  approve 250 kg   release      50    allocated 250
  complete         consumption 250    quantity 750, allocated 0

SEE ALSO:
  - store.go: MovementStore persistence
*/
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MovementType string

const (
	MovementAllocation  MovementType = "allocation"
	MovementRelease     MovementType = "release"
	MovementConsumption MovementType = "consumption"
	MovementAdjustment  MovementType = "adjustment"
)

type StockMovement struct {
	ID          MovementID
	BatchID     BatchID
	Type        MovementType
	Delta       Quantity
	ReferenceID string // transfer request ID, empty for manual operations
	Reason      string
	CreatedBy   UserID
	CreatedAt   time.Time
}

func newMovement(id MovementID, batch *Batch, typ MovementType, delta Quantity, ref, reason string, by UserID, at time.Time) StockMovement {
	if id == "" {
		id = MovementID(uuid.NewString())
	}
	return StockMovement{
		ID:          id,
		BatchID:     batch.ID,
		Type:        typ,
		Delta:       delta,
		ReferenceID: ref,
		Reason:      reason,
		CreatedBy:   by,
		CreatedAt:   at,
	}
}

// recordMovement appends a movement unless delta is zero.
func recordMovement(ctx context.Context, s Store, m StockMovement) error {
	if m.Delta.IsZero() {
		return nil
	}
	return s.AppendMovement(ctx, m)
}
