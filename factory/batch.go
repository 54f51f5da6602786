/*
Package factory provides JSON to Go batch conversion.

PURPOSE:
  Converts JSON batch definitions into inventory.NewBatchParams. Goods-in
  paperwork arrives as JSON (admin UI, supplier feeds, seed files) and the
  factory turns it into validated Go structs before the batch service
  registers it.

JSON SCHEMA:
  {
    "batch_code": "ANFO-2024-0042",
    "explosive_type": "ANFO",
    "quantity": "1000",
    "unit": "kg",
    "manufacturing_date": "2024-01-10",
    "expiry_date": "2025-01-10",
    "supplier": "Orica",
    "storage_location": "Magazine A / Bay 3",
    "warehouse_id": "wh-central",
    "technical_properties": {
      "type": "ANFO",
      "data": {"density": "0.82", "fuel_oil_percentage": "5.7"}
    }
  }

KEY FEATURES:
  - Quantity accepted as JSON string or number, kept exact as decimal
  - Dates accepted as YYYY-MM-DD or RFC3339
  - Unit defaults to kg
  - technical_properties.type must match explosive_type

USAGE:
  f := NewBatchFactory()
  params, err := f.ParseBatch(jsonString)
  batch, err := batches.CreateBatch(ctx, params, userID)

SEE ALSO:
  - inventory/batch.go: NewBatchParams and validation
  - inventory/technical.go: tagged technical properties envelope
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/explosives-inventory/inventory"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// BatchJSON is the JSON representation of a batch definition.
type BatchJSON struct {
	ID                  string          `json:"id,omitempty"`
	BatchCode           string          `json:"batch_code"`
	ExplosiveType       string          `json:"explosive_type"`
	Quantity            decimal.Decimal `json:"quantity"`
	Unit                string          `json:"unit,omitempty"` // default kg
	ManufacturingDate   string          `json:"manufacturing_date"`
	ExpiryDate          string          `json:"expiry_date"`
	Supplier            string          `json:"supplier,omitempty"`
	StorageLocation     string          `json:"storage_location,omitempty"`
	WarehouseID         string          `json:"warehouse_id,omitempty"`
	TechnicalProperties json.RawMessage `json:"technical_properties,omitempty"`
}

// =============================================================================
// BATCH FACTORY
// =============================================================================

// BatchFactory converts JSON batch definitions to NewBatchParams.
type BatchFactory struct {
	DefaultUnit inventory.Unit
}

func NewBatchFactory() *BatchFactory {
	return &BatchFactory{DefaultUnit: inventory.UnitKilogram}
}

// ParseBatch parses a JSON string into NewBatchParams.
func (f *BatchFactory) ParseBatch(jsonStr string) (inventory.NewBatchParams, error) {
	var bj BatchJSON
	if err := json.Unmarshal([]byte(jsonStr), &bj); err != nil {
		return inventory.NewBatchParams{}, fmt.Errorf("failed to parse batch JSON: %w: %w", inventory.ErrValidationFailed, err)
	}
	return f.FromJSON(bj)
}

// FromJSON converts BatchJSON to NewBatchParams. Field-level validation
// beyond parsing is left to inventory.NewBatch.
func (f *BatchFactory) FromJSON(bj BatchJSON) (inventory.NewBatchParams, error) {
	unit := inventory.Unit(bj.Unit)
	if unit == "" {
		unit = f.DefaultUnit
	}

	manufactured, err := ParseDate(bj.ManufacturingDate)
	if err != nil {
		return inventory.NewBatchParams{}, &inventory.ArgumentError{Field: "manufacturing_date", Message: err.Error()}
	}
	expires, err := ParseDate(bj.ExpiryDate)
	if err != nil {
		return inventory.NewBatchParams{}, &inventory.ArgumentError{Field: "expiry_date", Message: err.Error()}
	}

	var props inventory.TechnicalProperties
	if raw := strings.TrimSpace(string(bj.TechnicalProperties)); raw != "" && raw != "null" {
		props, err = inventory.UnmarshalTechnicalProperties(bj.TechnicalProperties)
		if err != nil {
			return inventory.NewBatchParams{}, err
		}
	}

	return inventory.NewBatchParams{
		ID:                  inventory.BatchID(bj.ID),
		BatchCode:           bj.BatchCode,
		ExplosiveType:       inventory.ExplosiveType(bj.ExplosiveType),
		Quantity:            bj.Quantity,
		Unit:                unit,
		ManufacturingDate:   manufactured,
		ExpiryDate:          expires,
		Supplier:            bj.Supplier,
		StorageLocation:     bj.StorageLocation,
		WarehouseID:         inventory.WarehouseID(bj.WarehouseID),
		TechnicalProperties: props,
	}, nil
}

// ToJSON is the inverse of FromJSON for an existing batch.
func ToJSON(b *inventory.Batch) (BatchJSON, error) {
	bj := BatchJSON{
		ID:                string(b.ID),
		BatchCode:         b.BatchCode,
		ExplosiveType:     string(b.ExplosiveType),
		Quantity:          b.Quantity.Value,
		Unit:              string(b.Unit()),
		ManufacturingDate: b.ManufacturingDate.Format(dateLayout),
		ExpiryDate:        b.ExpiryDate.Format(dateLayout),
		Supplier:          b.Supplier,
		StorageLocation:   b.StorageLocation,
		WarehouseID:       string(b.WarehouseID),
	}
	if b.TechnicalProperties != nil {
		raw, err := inventory.MarshalTechnicalProperties(b.TechnicalProperties)
		if err != nil {
			return BatchJSON{}, err
		}
		bj.TechnicalProperties = raw
	}
	return bj, nil
}

const dateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD or RFC3339. Dates are returned in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t.UTC(), nil
}
