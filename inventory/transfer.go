/*
transfer.go - Transfer request lifecycle

PURPOSE:
  A TransferRequest moves a quantity from one warehouse batch to a
  destination store. This file owns the legality of every transition;
  the stock side effects on the batch are applied by TransferService.

STATE MACHINE:

    create ──▶ Pending ──approve──▶ Approved ──dispatch──▶ Dispatched
                 │  │                  │  │                    │
                 │  └──cancel──┐       │  └──complete──┐       │ confirm delivery
                 ▼             ▼       ▼               ▼       │ (flag only)
              Rejected      Cancelled ◀┘           Completed ◀─┘ complete

  Terminal: Completed, Rejected, Cancelled. Any call from a terminal
  state fails with ErrInvalidStateTransition.

QUANTITIES:
  RequestedQuantity  allocated on the batch when the request is created
  ApprovedQuantity   optional override set on approval (0 < approved <= requested)
  FinalQuantity()    approved if set, else requested; consumed on completion

SEE ALSO:
  - batch.go: Allocate / ReleaseAllocation / Consume
  - service.go: runs each transition and its batch effect in one transaction
*/
package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// STATUS
// =============================================================================

type TransferStatus string

const (
	TransferPending    TransferStatus = "Pending"
	TransferApproved   TransferStatus = "Approved"
	TransferDispatched TransferStatus = "Dispatched"
	TransferCompleted  TransferStatus = "Completed"
	TransferRejected   TransferStatus = "Rejected"
	TransferCancelled  TransferStatus = "Cancelled"
)

func (s TransferStatus) Valid() bool {
	switch s {
	case TransferPending, TransferApproved, TransferDispatched,
		TransferCompleted, TransferRejected, TransferCancelled:
		return true
	}
	return false
}

func (s TransferStatus) IsTerminal() bool {
	return s == TransferCompleted || s == TransferRejected || s == TransferCancelled
}

// UrgentHorizonDays is how close a required-by date must be for a pending
// request to count as urgent.
const UrgentHorizonDays = 7

// =============================================================================
// TRANSFER REQUEST
// =============================================================================

type DispatchDetails struct {
	TruckNumber   string
	DriverName    string
	DriverContact string
	Notes         string
	DispatchedBy  UserID
	DispatchedAt  *time.Time
}

type TransferRequest struct {
	ID                 RequestID
	RequestNumber      string
	BatchID            BatchID
	DestinationStoreID StoreID
	RequestedQuantity  Quantity
	ApprovedQuantity   *Quantity
	Status             TransferStatus

	RequestedBy UserID
	RequiredBy  *time.Time
	Notes       string

	// Approval / rejection
	ApprovedBy      UserID
	ApprovedAt      *time.Time
	ApprovalNotes   string
	RejectedBy      UserID
	RejectedAt      *time.Time
	RejectionReason string

	DispatchInfo DispatchDetails

	DeliveryConfirmedAt *time.Time
	DeliveryConfirmedBy UserID

	// Completion links to the stock movement written for the consumption.
	ProcessedBy            UserID
	CompletedAt            *time.Time
	CompletedTransactionID MovementID

	CancelledAt        *time.Time
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTransferRequestParams is the request-side input for creation. The
// request number is assigned by the caller (see numbering.go).
type NewTransferRequestParams struct {
	RequestNumber      string
	BatchID            BatchID
	DestinationStoreID StoreID
	RequestedQuantity  Quantity
	RequestedBy        UserID
	RequiredBy         *time.Time
	Notes              string
}

// NewTransferRequest returns a Pending request. It does not touch the batch.
func NewTransferRequest(p NewTransferRequestParams, at time.Time) (*TransferRequest, error) {
	if p.BatchID == "" {
		return nil, argErr("batch_id", "must not be empty")
	}
	if p.DestinationStoreID == "" {
		return nil, argErr("destination_store_id", "must not be empty")
	}
	if !p.RequestedQuantity.IsPositive() {
		return nil, argErr("requested_quantity", "must be greater than zero")
	}
	if !p.RequestedQuantity.Unit.Valid() {
		return nil, argErr("unit", fmt.Sprintf("unknown unit %q", p.RequestedQuantity.Unit))
	}
	if p.RequestNumber == "" {
		return nil, argErr("request_number", "must not be empty")
	}
	return &TransferRequest{
		ID:                 RequestID(uuid.NewString()),
		RequestNumber:      p.RequestNumber,
		BatchID:            p.BatchID,
		DestinationStoreID: p.DestinationStoreID,
		RequestedQuantity:  p.RequestedQuantity,
		Status:             TransferPending,
		RequestedBy:        p.RequestedBy,
		RequiredBy:         p.RequiredBy,
		Notes:              p.Notes,
		CreatedAt:          at,
		UpdatedAt:          at,
	}, nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

func (r *TransferRequest) Unit() Unit { return r.RequestedQuantity.Unit }

// FinalQuantity is the approved quantity if set, else the requested quantity.
func (r *TransferRequest) FinalQuantity() Quantity {
	if r.ApprovedQuantity != nil {
		return *r.ApprovedQuantity
	}
	return r.RequestedQuantity
}

func (r *TransferRequest) IsTerminal() bool { return r.Status.IsTerminal() }

func (r *TransferRequest) IsDeliveryConfirmed() bool { return r.DeliveryConfirmedAt != nil }

// IsOverdue: required-by date has passed and the request is still open.
func (r *TransferRequest) IsOverdue(clock Clock) bool {
	if r.RequiredBy == nil || r.IsTerminal() {
		return false
	}
	return orSystem(clock).Now().After(*r.RequiredBy)
}

// IsUrgent: still Pending and required within UrgentHorizonDays.
func (r *TransferRequest) IsUrgent(clock Clock) bool {
	return r.IsUrgentWithin(clock, UrgentHorizonDays)
}

func (r *TransferRequest) IsUrgentWithin(clock Clock, days int) bool {
	if r.RequiredBy == nil || r.Status != TransferPending {
		return false
	}
	return !r.RequiredBy.After(orSystem(clock).Now().AddDate(0, 0, days))
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Approve moves Pending -> Approved. approved may be nil (use requested);
// otherwise it must be positive and no more than requested.
func (r *TransferRequest) Approve(by UserID, approved *Quantity, notes string, at time.Time) error {
	if r.Status != TransferPending {
		return r.stateErr("approve")
	}
	if approved != nil {
		if !approved.SameUnit(r.RequestedQuantity) {
			return argErr("approved_quantity", fmt.Sprintf("expected unit %s, got %s", r.Unit(), approved.Unit))
		}
		if !approved.IsPositive() {
			return argErr("approved_quantity", "must be greater than zero")
		}
		if approved.GreaterThan(r.RequestedQuantity) {
			return argErr("approved_quantity",
				fmt.Sprintf("%s exceeds requested %s", approved, r.RequestedQuantity))
		}
		q := *approved
		r.ApprovedQuantity = &q
	}
	r.Status = TransferApproved
	r.ApprovedBy = by
	r.ApprovedAt = &at
	r.ApprovalNotes = notes
	r.UpdatedAt = at
	return nil
}

// ReleaseOnApproval is the part of the allocation freed by a partial approval.
func (r *TransferRequest) ReleaseOnApproval() Quantity {
	return r.RequestedQuantity.Sub(r.FinalQuantity())
}

// Reject moves Pending -> Rejected. Rejection of an approved request is not
// supported; cancel it instead.
func (r *TransferRequest) Reject(by UserID, reason string, at time.Time) error {
	if r.Status != TransferPending {
		return r.stateErr("reject")
	}
	if strings.TrimSpace(reason) == "" {
		return argErr("reason", "rejection requires a reason")
	}
	r.Status = TransferRejected
	r.RejectedBy = by
	r.RejectedAt = &at
	r.RejectionReason = reason
	r.UpdatedAt = at
	return nil
}

// Dispatch moves Approved -> Dispatched. Truck number and driver are required.
func (r *TransferRequest) Dispatch(d DispatchDetails, at time.Time) error {
	if r.Status != TransferApproved {
		return r.stateErr("dispatch")
	}
	if strings.TrimSpace(d.TruckNumber) == "" {
		return argErr("truck_number", "must not be empty")
	}
	if strings.TrimSpace(d.DriverName) == "" {
		return argErr("driver_name", "must not be empty")
	}
	d.DispatchedAt = &at
	r.DispatchInfo = d
	r.Status = TransferDispatched
	r.UpdatedAt = at
	return nil
}

// ConfirmDelivery records arrival at the store. Status stays Dispatched.
func (r *TransferRequest) ConfirmDelivery(by UserID, at time.Time) error {
	if r.Status != TransferDispatched {
		return r.stateErr("confirm delivery of")
	}
	if r.IsDeliveryConfirmed() {
		return &StateTransitionError{Subject: r.subject(), From: "delivery confirmed", Action: "confirm delivery of"}
	}
	r.DeliveryConfirmedAt = &at
	r.DeliveryConfirmedBy = by
	r.UpdatedAt = at
	return nil
}

// Complete moves Approved|Dispatched -> Completed.
func (r *TransferRequest) Complete(by UserID, movement MovementID, at time.Time) error {
	if r.Status != TransferApproved && r.Status != TransferDispatched {
		return r.stateErr("complete")
	}
	r.Status = TransferCompleted
	r.ProcessedBy = by
	r.CompletedAt = &at
	r.CompletedTransactionID = movement
	r.UpdatedAt = at
	return nil
}

// Cancel moves Pending|Approved -> Cancelled.
func (r *TransferRequest) Cancel(reason string, at time.Time) error {
	if r.Status != TransferPending && r.Status != TransferApproved {
		return r.stateErr("cancel")
	}
	r.Status = TransferCancelled
	r.CancelledAt = &at
	r.CancellationReason = reason
	r.UpdatedAt = at
	return nil
}

// OutstandingAllocation is what this request currently holds on its batch:
// requested while Pending, final once Approved or Dispatched, zero otherwise.
func (r *TransferRequest) OutstandingAllocation() Quantity {
	switch r.Status {
	case TransferPending:
		return r.RequestedQuantity
	case TransferApproved, TransferDispatched:
		return r.FinalQuantity()
	}
	return r.RequestedQuantity.Zero()
}

// Clone returns a deep enough copy for stores to hand out.
func (r *TransferRequest) Clone() *TransferRequest {
	c := *r
	if r.ApprovedQuantity != nil {
		q := *r.ApprovedQuantity
		c.ApprovedQuantity = &q
	}
	return &c
}

func (r *TransferRequest) subject() string {
	return "transfer request " + r.RequestNumber
}

func (r *TransferRequest) stateErr(action string) error {
	return &StateTransitionError{Subject: r.subject(), From: string(r.Status), Action: action}
}
