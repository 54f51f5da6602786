/*
Package inventory provides the central-warehouse allocation engine.

PURPOSE:
  This package owns the quantity-reservation model for explosive batches
  held at a central warehouse, and the transfer-request workflow that moves
  stock from a batch to a destination store. Everything else in the module
  (HTTP, SQLite, config) is plumbing around the types defined here.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity: A decimal value with a unit of measure (e.g., 300 kg)
  - Identifiers: Type-safe IDs for batches, requests, stores, users
  - ExplosiveType / BatchStatus: Closed enumerations with validation

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so 0.1 + 0.2 kg is exactly 0.3 kg
  2. Type Safety: Strong typing for IDs prevents mixing batch/request IDs
  3. Typed Errors: Every operation returns a classified error (errors.go)
  4. Injected Time: Nothing reads the wall clock directly (clock.go)

USAGE:
  qty := inventory.NewQuantity(300, inventory.UnitKilogram)
  batch, err := inventory.NewBatch(params, clock)
  err = batch.Allocate(qty)

SEE ALSO:
  - batch.go: InventoryBatch aggregate
  - transfer.go: TransferRequest state machine
  - service.go: Orchestrator that keeps both in step
*/
package inventory

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY - Decimal value with a unit of measure
// =============================================================================

type Quantity struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitKilogram Unit = "kg"
	UnitTonne    Unit = "t"
	UnitLitre    Unit = "L"
	UnitPieces   Unit = "units"
)

// Valid reports whether u is one of the supported units.
func (u Unit) Valid() bool {
	switch u {
	case UnitKilogram, UnitTonne, UnitLitre, UnitPieces:
		return true
	}
	return false
}

func NewQuantity(value float64, unit Unit) Quantity {
	return Quantity{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewQuantityFromDecimal(value decimal.Decimal, unit Unit) Quantity {
	return Quantity{Value: value, Unit: unit}
}

// ParseQuantity parses a decimal string such as "12.5".
func ParseQuantity(s string, unit Unit) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, &ArgumentError{Field: "quantity", Message: fmt.Sprintf("not a decimal: %q", s)}
	}
	return Quantity{Value: d, Unit: unit}, nil
}

func (q Quantity) Zero() Quantity                  { return Quantity{Value: decimal.Zero, Unit: q.Unit} }
func (q Quantity) Add(o Quantity) Quantity         { return Quantity{Value: q.Value.Add(o.Value), Unit: q.Unit} }
func (q Quantity) Sub(o Quantity) Quantity         { return Quantity{Value: q.Value.Sub(o.Value), Unit: q.Unit} }
func (q Quantity) IsZero() bool                    { return q.Value.IsZero() }
func (q Quantity) IsPositive() bool                { return q.Value.IsPositive() }
func (q Quantity) IsNegative() bool                { return q.Value.IsNegative() }
func (q Quantity) GreaterThan(o Quantity) bool     { return q.Value.GreaterThan(o.Value) }
func (q Quantity) LessThan(o Quantity) bool        { return q.Value.LessThan(o.Value) }
func (q Quantity) Equal(o Quantity) bool           { return q.Unit == o.Unit && q.Value.Equal(o.Value) }
func (q Quantity) SameUnit(o Quantity) bool        { return q.Unit == o.Unit }
func (q Quantity) String() string                  { return q.Value.String() + " " + string(q.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BatchID string
type RequestID string
type MovementID string
type StoreID string
type WarehouseID string
type UserID string

// =============================================================================
// EXPLOSIVE TYPE
// =============================================================================

type ExplosiveType string

const (
	ExplosiveANFO     ExplosiveType = "ANFO"
	ExplosiveEmulsion ExplosiveType = "Emulsion"
)

func (t ExplosiveType) Valid() bool {
	return t == ExplosiveANFO || t == ExplosiveEmulsion
}

// =============================================================================
// BATCH STATUS
// =============================================================================

type BatchStatus string

const (
	BatchActive      BatchStatus = "Active"
	BatchQuarantined BatchStatus = "Quarantined"
	BatchExpired     BatchStatus = "Expired"
	BatchDepleted    BatchStatus = "Depleted"
	BatchInactive    BatchStatus = "Inactive"
)

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchActive, BatchQuarantined, BatchExpired, BatchDepleted, BatchInactive:
		return true
	}
	return false
}
