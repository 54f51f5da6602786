/*
batch.go - InventoryBatch aggregate

PURPOSE:
  A Batch is a quantity of one explosive batch held at a central warehouse.
  It owns the allocation counter that reserves stock against outstanding
  transfer requests.

QUANTITIES:
  Quantity   on hand, physically in the magazine
  Allocated  promised to open transfer requests
  Available  Quantity - Allocated, what a new request may reserve

CRITICAL INVARIANT:
  0 <= Allocated <= Quantity at all times.
  Every mutator checks before it writes; a failed call leaves the batch
  exactly as it was.

ALLOCATION FLOW:
  create request   -> Allocate(requested)
  partial approval -> ReleaseAllocation(requested - approved)
  reject / cancel  -> ReleaseAllocation(outstanding)
  complete         -> Consume(final)   (Quantity and Allocated both drop)

SEE ALSO:
  - transfer.go: the request side of the workflow
  - service.go: the only caller that mutates a batch on behalf of a request
*/
package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BATCH
// =============================================================================

type Batch struct {
	ID                BatchID
	BatchCode         string
	ExplosiveType     ExplosiveType
	Quantity          Quantity
	Allocated         Quantity
	ManufacturingDate time.Time
	ExpiryDate        time.Time
	Supplier          string
	StorageLocation   string
	WarehouseID       WarehouseID
	Status            BatchStatus
	QuarantineReason  string

	// nil when no technical record is attached
	TechnicalProperties TechnicalProperties

	// Version is the optimistic concurrency token. Stores bump it on every
	// successful save and refuse saves carrying a stale value.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBatchParams holds everything needed to register a batch.
type NewBatchParams struct {
	ID                  BatchID // generated when empty
	BatchCode           string
	ExplosiveType       ExplosiveType
	Quantity            decimal.Decimal
	Unit                Unit
	ManufacturingDate   time.Time
	ExpiryDate          time.Time
	Supplier            string
	StorageLocation     string
	WarehouseID         WarehouseID
	TechnicalProperties TechnicalProperties
}

// NewBatch validates params and returns an Active batch with nothing allocated.
func NewBatch(p NewBatchParams, clock Clock) (*Batch, error) {
	if strings.TrimSpace(p.BatchCode) == "" {
		return nil, argErr("batch_code", "must not be empty")
	}
	if !p.ExplosiveType.Valid() {
		return nil, argErr("explosive_type", fmt.Sprintf("unknown type %q", p.ExplosiveType))
	}
	if !p.Unit.Valid() {
		return nil, argErr("unit", fmt.Sprintf("unknown unit %q", p.Unit))
	}
	if !p.Quantity.IsPositive() {
		return nil, argErr("quantity", "must be greater than zero")
	}
	if !p.ExpiryDate.After(p.ManufacturingDate) {
		return nil, argErr("expiry_date", "must be after manufacturing date")
	}
	if p.TechnicalProperties != nil && p.TechnicalProperties.ExplosiveType() != p.ExplosiveType {
		return nil, argErr("technical_properties",
			fmt.Sprintf("%s properties attached to %s batch", p.TechnicalProperties.ExplosiveType(), p.ExplosiveType))
	}

	id := p.ID
	if id == "" {
		id = BatchID(uuid.NewString())
	}
	now := orSystem(clock).Now()

	return &Batch{
		ID:                  id,
		BatchCode:           strings.TrimSpace(p.BatchCode),
		ExplosiveType:       p.ExplosiveType,
		Quantity:            Quantity{Value: p.Quantity, Unit: p.Unit},
		Allocated:           Quantity{Value: decimal.Zero, Unit: p.Unit},
		ManufacturingDate:   p.ManufacturingDate,
		ExpiryDate:          p.ExpiryDate,
		Supplier:            p.Supplier,
		StorageLocation:     p.StorageLocation,
		WarehouseID:         p.WarehouseID,
		Status:              BatchActive,
		TechnicalProperties: p.TechnicalProperties,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

func (b *Batch) Unit() Unit { return b.Quantity.Unit }

// Available is Quantity - Allocated. Never negative while the invariant holds.
func (b *Batch) Available() Quantity {
	return b.Quantity.Sub(b.Allocated)
}

func (b *Batch) IsExpired(clock Clock) bool {
	return !orSystem(clock).Now().Before(b.ExpiryDate)
}

// IsExpiringSoon reports a batch that is not yet expired but will be
// within the given number of days.
func (b *Batch) IsExpiringSoon(clock Clock, days int) bool {
	now := orSystem(clock).Now()
	if !now.Before(b.ExpiryDate) {
		return false
	}
	return !b.ExpiryDate.After(now.AddDate(0, 0, days))
}

func (b *Batch) DaysUntilExpiry(clock Clock) int {
	return DaysBetween(orSystem(clock).Now(), b.ExpiryDate)
}

// CanBeAllocated is a pure predicate: amount > 0 && amount <= available.
func (b *Batch) CanBeAllocated(amount Quantity) bool {
	if !amount.SameUnit(b.Quantity) || !amount.IsPositive() {
		return false
	}
	return !amount.GreaterThan(b.Available())
}

// =============================================================================
// ALLOCATION PRIMITIVES
// =============================================================================

// Allocate reserves amount of available stock.
func (b *Batch) Allocate(amount Quantity) error {
	if err := b.allocationError(amount); err != nil {
		return err
	}
	b.Allocated = b.Allocated.Add(amount)
	return nil
}

// allocationError explains why amount cannot be allocated right now.
func (b *Batch) allocationError(amount Quantity) error {
	if err := b.checkAmount(amount); err != nil {
		return err
	}
	if b.Status != BatchActive {
		return b.stateErr("allocate")
	}
	if amount.GreaterThan(b.Available()) {
		return &InsufficientAvailableError{BatchID: b.ID, Available: b.Available(), Requested: amount}
	}
	return nil
}

// ReleaseAllocation returns previously reserved stock to available.
func (b *Batch) ReleaseAllocation(amount Quantity) error {
	if err := b.checkAmount(amount); err != nil {
		return err
	}
	if amount.GreaterThan(b.Allocated) {
		return argErr("amount", fmt.Sprintf("release of %s exceeds allocated %s", amount, b.Allocated))
	}
	b.Allocated = b.Allocated.Sub(amount)
	return nil
}

// Consume permanently removes previously allocated stock from the batch.
// Used when a transfer completes: on-hand and allocated drop together.
func (b *Batch) Consume(amount Quantity) error {
	if err := b.checkAmount(amount); err != nil {
		return err
	}
	if amount.GreaterThan(b.Allocated) {
		return argErr("amount", fmt.Sprintf("consumption of %s exceeds allocated %s", amount, b.Allocated))
	}
	b.Quantity = b.Quantity.Sub(amount)
	b.Allocated = b.Allocated.Sub(amount)
	if b.Quantity.IsZero() && b.Status == BatchActive {
		b.Status = BatchDepleted
	}
	return nil
}

// UpdateQuantity sets on-hand stock directly (stock-take correction).
// On-hand may never drop below what is already promised.
func (b *Batch) UpdateQuantity(newQuantity Quantity) error {
	if !newQuantity.SameUnit(b.Quantity) {
		return argErr("unit", fmt.Sprintf("expected %s, got %s", b.Unit(), newQuantity.Unit))
	}
	if newQuantity.IsNegative() {
		return argErr("quantity", "must not be negative")
	}
	if newQuantity.LessThan(b.Allocated) {
		return argErr("quantity", fmt.Sprintf("%s is below allocated %s", newQuantity, b.Allocated))
	}
	b.Quantity = newQuantity
	switch {
	case b.Quantity.IsZero() && b.Status == BatchActive:
		b.Status = BatchDepleted
	case b.Quantity.IsPositive() && b.Status == BatchDepleted:
		b.Status = BatchActive
	}
	return nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func (b *Batch) Quarantine(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return argErr("reason", "quarantine requires a reason")
	}
	if b.Status != BatchActive {
		return b.stateErr("quarantine")
	}
	b.Status = BatchQuarantined
	b.QuarantineReason = reason
	return nil
}

func (b *Batch) ReleaseFromQuarantine() error {
	if b.Status != BatchQuarantined {
		return b.stateErr("release from quarantine")
	}
	b.Status = BatchActive
	b.QuarantineReason = ""
	return nil
}

// MarkExpired is a no-op on an already expired batch.
func (b *Batch) MarkExpired() error {
	switch b.Status {
	case BatchExpired:
		return nil
	case BatchInactive:
		return b.stateErr("mark expired")
	}
	b.Status = BatchExpired
	return nil
}

func (b *Batch) UpdateLocation(location string) error {
	if strings.TrimSpace(location) == "" {
		return argErr("location", "must not be empty")
	}
	b.StorageLocation = strings.TrimSpace(location)
	return nil
}

// Deactivate logically deletes the batch. Refused while any stock is reserved.
func (b *Batch) Deactivate() error {
	if b.Allocated.IsPositive() {
		return &InvariantError{Message: fmt.Sprintf("batch %s still has %s allocated", b.BatchCode, b.Allocated)}
	}
	b.Status = BatchInactive
	return nil
}

// Touch records a modification time. Called by services before saving.
func (b *Batch) Touch(at time.Time) { b.UpdatedAt = at }

// Clone returns a copy safe to mutate independently.
func (b *Batch) Clone() *Batch {
	c := *b
	return &c
}

func (b *Batch) checkAmount(amount Quantity) error {
	if !amount.SameUnit(b.Quantity) {
		return argErr("unit", fmt.Sprintf("expected %s, got %s", b.Unit(), amount.Unit))
	}
	if !amount.IsPositive() {
		return argErr("amount", "must be greater than zero")
	}
	return nil
}

func (b *Batch) stateErr(action string) error {
	return &StateTransitionError{Subject: "batch " + b.BatchCode, From: string(b.Status), Action: action}
}
