/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Batch:
    BatchDTO, CreateBatchRequest (wraps factory.BatchJSON), MovementDTO

  Transfer:
    TransferDTO, DispatchDTO, CreateTransferRequest and one request body
    per workflow step

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

QUANTITIES:
  All quantities are serialized as decimal strings ("300.5"), never floats.
  Request bodies accept either a string or a number.

VALIDATION:
  Validation is done in handlers and the inventory package, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/batch.go: BatchJSON type
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/explosives-inventory/factory"
	"github.com/warp/explosives-inventory/inventory"
)

// =============================================================================
// BATCH TYPES
// =============================================================================

// BatchDTO represents a batch in API responses.
type BatchDTO struct {
	ID                  string          `json:"id"`
	BatchCode           string          `json:"batch_code"`
	ExplosiveType       string          `json:"explosive_type"`
	Quantity            string          `json:"quantity"`
	Allocated           string          `json:"allocated"`
	Available           string          `json:"available"`
	Unit                string          `json:"unit"`
	ManufacturingDate   string          `json:"manufacturing_date"`
	ExpiryDate          string          `json:"expiry_date"`
	DaysUntilExpiry     int             `json:"days_until_expiry"`
	Supplier            string          `json:"supplier,omitempty"`
	StorageLocation     string          `json:"storage_location,omitempty"`
	WarehouseID         string          `json:"warehouse_id,omitempty"`
	Status              string          `json:"status"`
	QuarantineReason    string          `json:"quarantine_reason,omitempty"`
	TechnicalProperties json.RawMessage `json:"technical_properties,omitempty"`
	Version             int64           `json:"version"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
}

// CreateBatchRequest is the request to register a batch.
type CreateBatchRequest struct {
	factory.BatchJSON
	CreatedBy string `json:"created_by,omitempty"`
}

type QuarantineRequest struct {
	Reason string `json:"reason"`
}

type UpdateQuantityRequest struct {
	Quantity  decimal.Decimal `json:"quantity"`
	UpdatedBy string          `json:"updated_by,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

type UpdateLocationRequest struct {
	Location string `json:"location"`
}

// MovementDTO represents one stock movement in a batch's history.
type MovementDTO struct {
	ID          string `json:"id"`
	BatchID     string `json:"batch_id"`
	Type        string `json:"type"`
	Delta       string `json:"delta"`
	Unit        string `json:"unit"`
	ReferenceID string `json:"reference_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// =============================================================================
// TRANSFER TYPES
// =============================================================================

// TransferDTO represents a transfer request in API responses.
type TransferDTO struct {
	ID                 string  `json:"id"`
	RequestNumber      string  `json:"request_number"`
	BatchID            string  `json:"batch_id"`
	DestinationStoreID string  `json:"destination_store_id"`
	RequestedQuantity  string  `json:"requested_quantity"`
	ApprovedQuantity   *string `json:"approved_quantity,omitempty"`
	FinalQuantity      string  `json:"final_quantity"`
	Unit               string  `json:"unit"`
	Status             string  `json:"status"`
	RequestedBy        string  `json:"requested_by,omitempty"`
	RequiredBy         *string `json:"required_by,omitempty"`
	Notes              string  `json:"notes,omitempty"`

	ApprovedBy      string  `json:"approved_by,omitempty"`
	ApprovedAt      *string `json:"approved_at,omitempty"`
	ApprovalNotes   string  `json:"approval_notes,omitempty"`
	RejectedBy      string  `json:"rejected_by,omitempty"`
	RejectedAt      *string `json:"rejected_at,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`

	Dispatch *DispatchDTO `json:"dispatch,omitempty"`

	DeliveryConfirmed   bool    `json:"delivery_confirmed"`
	DeliveryConfirmedAt *string `json:"delivery_confirmed_at,omitempty"`
	DeliveryConfirmedBy string  `json:"delivery_confirmed_by,omitempty"`

	ProcessedBy            string  `json:"processed_by,omitempty"`
	CompletedAt            *string `json:"completed_at,omitempty"`
	CompletedTransactionID string  `json:"completed_transaction_id,omitempty"`

	CancelledAt        *string `json:"cancelled_at,omitempty"`
	CancellationReason string  `json:"cancellation_reason,omitempty"`

	IsOverdue bool   `json:"is_overdue"`
	IsUrgent  bool   `json:"is_urgent"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type DispatchDTO struct {
	TruckNumber   string  `json:"truck_number"`
	DriverName    string  `json:"driver_name"`
	DriverContact string  `json:"driver_contact,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	DispatchedBy  string  `json:"dispatched_by,omitempty"`
	DispatchedAt  *string `json:"dispatched_at,omitempty"`
}

// CreateTransferRequest is the request to open a transfer.
type CreateTransferRequest struct {
	BatchID            string          `json:"batch_id"`
	DestinationStoreID string          `json:"destination_store_id"`
	Quantity           decimal.Decimal `json:"quantity"`
	Unit               string          `json:"unit,omitempty"` // default: the batch's unit
	RequestedBy        string          `json:"requested_by"`
	RequiredBy         string          `json:"required_by,omitempty"` // YYYY-MM-DD or RFC3339
	Notes              string          `json:"notes,omitempty"`
}

type ApproveTransferRequest struct {
	ApproverID       string           `json:"approver_id"`
	ApprovedQuantity *decimal.Decimal `json:"approved_quantity,omitempty"`
	Notes            string           `json:"notes,omitempty"`
}

type RejectTransferRequest struct {
	RejecterID string `json:"rejecter_id"`
	Reason     string `json:"reason"`
}

type DispatchTransferRequest struct {
	TruckNumber   string `json:"truck_number"`
	DriverName    string `json:"driver_name"`
	DriverContact string `json:"driver_contact,omitempty"`
	Notes         string `json:"notes,omitempty"`
	DispatchedBy  string `json:"dispatched_by,omitempty"`
}

type ConfirmDeliveryRequest struct {
	ConfirmedBy string `json:"confirmed_by"`
}

type CompleteTransferRequest struct {
	ProcessorID    string `json:"processor_id"`
	TransactionRef string `json:"transaction_ref,omitempty"`
}

type CancelTransferRequest struct {
	Reason string `json:"reason,omitempty"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ExpirySweepResponse reports a manual expiry sweep.
type ExpirySweepResponse struct {
	Marked int `json:"marked"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toBatchDTO(b *inventory.Batch, clock inventory.Clock) BatchDTO {
	dto := BatchDTO{
		ID:                string(b.ID),
		BatchCode:         b.BatchCode,
		ExplosiveType:     string(b.ExplosiveType),
		Quantity:          b.Quantity.Value.String(),
		Allocated:         b.Allocated.Value.String(),
		Available:         b.Available().Value.String(),
		Unit:              string(b.Unit()),
		ManufacturingDate: b.ManufacturingDate.Format("2006-01-02"),
		ExpiryDate:        b.ExpiryDate.Format("2006-01-02"),
		DaysUntilExpiry:   b.DaysUntilExpiry(clock),
		Supplier:          b.Supplier,
		StorageLocation:   b.StorageLocation,
		WarehouseID:       string(b.WarehouseID),
		Status:            string(b.Status),
		QuarantineReason:  b.QuarantineReason,
		Version:           b.Version,
		CreatedAt:         b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:         b.UpdatedAt.Format(time.RFC3339),
	}
	if b.TechnicalProperties != nil {
		if raw, err := inventory.MarshalTechnicalProperties(b.TechnicalProperties); err == nil {
			dto.TechnicalProperties = raw
		}
	}
	return dto
}

func toBatchDTOs(batches []*inventory.Batch, clock inventory.Clock) []BatchDTO {
	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b, clock)
	}
	return dtos
}

func toMovementDTOs(ms []inventory.StockMovement) []MovementDTO {
	dtos := make([]MovementDTO, len(ms))
	for i, m := range ms {
		dtos[i] = MovementDTO{
			ID:          string(m.ID),
			BatchID:     string(m.BatchID),
			Type:        string(m.Type),
			Delta:       m.Delta.Value.String(),
			Unit:        string(m.Delta.Unit),
			ReferenceID: m.ReferenceID,
			Reason:      m.Reason,
			CreatedBy:   string(m.CreatedBy),
			CreatedAt:   m.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

func toTransferDTO(r *inventory.TransferRequest, clock inventory.Clock, urgentDays int) TransferDTO {
	dto := TransferDTO{
		ID:                     string(r.ID),
		RequestNumber:          r.RequestNumber,
		BatchID:                string(r.BatchID),
		DestinationStoreID:     string(r.DestinationStoreID),
		RequestedQuantity:      r.RequestedQuantity.Value.String(),
		FinalQuantity:          r.FinalQuantity().Value.String(),
		Unit:                   string(r.Unit()),
		Status:                 string(r.Status),
		RequestedBy:            string(r.RequestedBy),
		RequiredBy:             timePtr(r.RequiredBy),
		Notes:                  r.Notes,
		ApprovedBy:             string(r.ApprovedBy),
		ApprovedAt:             timePtr(r.ApprovedAt),
		ApprovalNotes:          r.ApprovalNotes,
		RejectedBy:             string(r.RejectedBy),
		RejectedAt:             timePtr(r.RejectedAt),
		RejectionReason:        r.RejectionReason,
		DeliveryConfirmed:      r.IsDeliveryConfirmed(),
		DeliveryConfirmedAt:    timePtr(r.DeliveryConfirmedAt),
		DeliveryConfirmedBy:    string(r.DeliveryConfirmedBy),
		ProcessedBy:            string(r.ProcessedBy),
		CompletedAt:            timePtr(r.CompletedAt),
		CompletedTransactionID: string(r.CompletedTransactionID),
		CancelledAt:            timePtr(r.CancelledAt),
		CancellationReason:     r.CancellationReason,
		IsOverdue:              r.IsOverdue(clock),
		IsUrgent:               r.IsUrgentWithin(clock, urgentDays),
		CreatedAt:              r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:              r.UpdatedAt.Format(time.RFC3339),
	}
	if r.ApprovedQuantity != nil {
		s := r.ApprovedQuantity.Value.String()
		dto.ApprovedQuantity = &s
	}
	if d := r.DispatchInfo; d.DispatchedAt != nil {
		dto.Dispatch = &DispatchDTO{
			TruckNumber:   d.TruckNumber,
			DriverName:    d.DriverName,
			DriverContact: d.DriverContact,
			Notes:         d.Notes,
			DispatchedBy:  string(d.DispatchedBy),
			DispatchedAt:  timePtr(d.DispatchedAt),
		}
	}
	return dto
}

func toTransferDTOs(rs []*inventory.TransferRequest, clock inventory.Clock, urgentDays int) []TransferDTO {
	dtos := make([]TransferDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toTransferDTO(r, clock, urgentDays)
	}
	return dtos
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
