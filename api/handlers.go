/*
handlers.go - HTTP API handlers for the explosives inventory

PURPOSE:
  Exposes the batch and transfer services via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the inventory
  package for every rule.

ENDPOINTS:
  Batches:
    GET    /api/batches                       List (?status=&warehouse=&type=)
    POST   /api/batches                       Register batch from JSON
    GET    /api/batches/expiring?days=N       Active batches expiring soon
    POST   /api/batches/sweep-expired         Mark past-expiry batches Expired
    GET    /api/batches/{id}                  Batch details
    GET    /api/batches/{id}/movements        Stock movement history
    POST   /api/batches/{id}/quarantine       Quarantine with reason
    POST   /api/batches/{id}/release-quarantine
    POST   /api/batches/{id}/expire
    PUT    /api/batches/{id}/quantity         Stock-take correction
    PUT    /api/batches/{id}/location
    DELETE /api/batches/{id}                  Deactivate

  Transfers:
    GET    /api/transfers                     List (?status=&batch=&store=&open=)
    POST   /api/transfers                     Create (allocates stock)
    GET    /api/transfers/overdue
    GET    /api/transfers/urgent
    GET    /api/transfers/number/{number}
    GET    /api/transfers/{id}
    POST   /api/transfers/{id}/approve|reject|dispatch|confirm-delivery|complete|cancel

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Batches / Transfers: the inventory services
  - Factory: JSON to NewBatchParams conversion
  - Store: used directly only by scenario loading

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, insufficient stock, illegal transition
  - 404: Batch or request not found
  - 409: Duplicate batch code, concurrent modification, invariant refusal
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. Actor IDs (requested_by,
  approver_id, ...) are taken from the request body as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/explosives-inventory/factory"
	"github.com/warp/explosives-inventory/inventory"
	"go.uber.org/zap"
)

// DefaultExpiringDays is the look-ahead for /api/batches/expiring without ?days.
const DefaultExpiringDays = 30

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     inventory.TxStore
	Batches   *inventory.BatchService
	Transfers *inventory.TransferService
	Factory   *factory.BatchFactory
	Logger    *zap.Logger

	ExpiringDays int

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the given services.
func NewHandler(store inventory.TxStore, batches *inventory.BatchService, transfers *inventory.TransferService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:        store,
		Batches:      batches,
		Transfers:    transfers,
		Factory:      factory.NewBatchFactory(),
		Logger:       logger,
		ExpiringDays: DefaultExpiringDays,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

// ListBatches returns batches matching the query filters.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.BatchFilter{
		Status:      inventory.BatchStatus(q.Get("status")),
		WarehouseID: inventory.WarehouseID(q.Get("warehouse")),
		Type:        inventory.ExplosiveType(q.Get("type")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	batches, err := h.Batches.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches, h.Batches.Clock))
}

// CreateBatch registers a batch from a factory.BatchJSON body.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	params, err := h.Factory.FromJSON(req.BatchJSON)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	batch, err := h.Batches.CreateBatch(r.Context(), params, inventory.UserID(req.CreatedBy))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(batch, h.Batches.Clock))
}

// GetBatch returns a single batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.Batches.Get(r.Context(), batchID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(batch, h.Batches.Clock))
}

// GetBatchMovements returns the stock movement history of a batch.
func (h *Handler) GetBatchMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.Batches.Movements(r.Context(), batchID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

// ListExpiring returns Active batches expiring within ?days (default ExpiringDays).
func (h *Handler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	days := h.ExpiringDays
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid days parameter", err)
			return
		}
		days = n
	}

	batches, err := h.Batches.Expiring(r.Context(), days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTOs(batches, h.Batches.Clock))
}

// SweepExpired runs the expiry sweep on demand.
func (h *Handler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	marked, err := h.Batches.SweepExpired(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpirySweepResponse{Marked: marked})
}

func (h *Handler) QuarantineBatch(w http.ResponseWriter, r *http.Request) {
	var req QuarantineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respondBatch(w, r)(h.Batches.Quarantine(r.Context(), batchID(r), req.Reason))
}

func (h *Handler) ReleaseQuarantine(w http.ResponseWriter, r *http.Request) {
	h.respondBatch(w, r)(h.Batches.ReleaseFromQuarantine(r.Context(), batchID(r)))
}

func (h *Handler) ExpireBatch(w http.ResponseWriter, r *http.Request) {
	h.respondBatch(w, r)(h.Batches.MarkExpired(r.Context(), batchID(r)))
}

// UpdateBatchQuantity applies a stock-take correction.
func (h *Handler) UpdateBatchQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "stock take"
	}
	h.respondBatch(w, r)(h.Batches.UpdateQuantity(r.Context(), batchID(r), req.Quantity, inventory.UserID(req.UpdatedBy), reason))
}

func (h *Handler) UpdateBatchLocation(w http.ResponseWriter, r *http.Request) {
	var req UpdateLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respondBatch(w, r)(h.Batches.UpdateLocation(r.Context(), batchID(r), req.Location))
}

// DeactivateBatch logically deletes a batch with nothing allocated.
func (h *Handler) DeactivateBatch(w http.ResponseWriter, r *http.Request) {
	h.respondBatch(w, r)(h.Batches.Deactivate(r.Context(), batchID(r)))
}

func (h *Handler) respondBatch(w http.ResponseWriter, r *http.Request) func(*inventory.Batch, error) {
	return func(b *inventory.Batch, err error) {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBatchDTO(b, h.Batches.Clock))
	}
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// ListTransfers returns transfer requests matching the query filters.
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.TransferFilter{
		Status:             inventory.TransferStatus(q.Get("status")),
		BatchID:            inventory.BatchID(q.Get("batch")),
		DestinationStoreID: inventory.StoreID(q.Get("store")),
		OpenOnly:           q.Get("open") == "true",
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", nil)
		return
	}

	requests, err := h.Transfers.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.transferDTOs(requests))
}

// CreateTransfer opens a transfer request and allocates its quantity.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := inventory.CreateTransferInput{
		BatchID:            inventory.BatchID(req.BatchID),
		DestinationStoreID: inventory.StoreID(req.DestinationStoreID),
		Quantity:           req.Quantity,
		Unit:               inventory.Unit(req.Unit),
		RequestedBy:        inventory.UserID(req.RequestedBy),
		Notes:              req.Notes,
	}
	if req.RequiredBy != "" {
		t, err := factory.ParseDate(req.RequiredBy)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid required_by", err)
			return
		}
		in.RequiredBy = &t
	}

	created, err := h.Transfers.CreateTransferRequest(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.transferDTO(created))
}

// GetTransfer returns a single transfer request by ID.
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	h.respondTransfer(w, r, http.StatusOK)(h.Transfers.Get(r.Context(), requestID(r)))
}

// GetTransferByNumber returns a single transfer request by its request number.
func (h *Handler) GetTransferByNumber(w http.ResponseWriter, r *http.Request) {
	h.respondTransfer(w, r, http.StatusOK)(h.Transfers.GetByNumber(r.Context(), chi.URLParam(r, "number")))
}

// ListOverdue returns open requests past their required-by date.
func (h *Handler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Transfers.Overdue(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.transferDTOs(requests))
}

// ListUrgent returns Pending requests due soon.
func (h *Handler) ListUrgent(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Transfers.Urgent(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.transferDTOs(requests))
}

// ApproveTransfer approves a Pending request, optionally for less than requested.
func (h *Handler) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	var req ApproveTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respondTransfer(w, r, http.StatusOK)(h.Transfers.Approve(r.Context(), requestID(r),
		inventory.UserID(req.ApproverID), req.ApprovedQuantity, req.Notes))
}

func (h *Handler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	var req RejectTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respondTransfer(w, r, http.StatusOK)(h.Transfers.Reject(r.Context(), requestID(r),
		inventory.UserID(req.RejecterID), req.Reason))
}

func (h *Handler) DispatchTransfer(w http.ResponseWriter, r *http.Request) {
	var req DispatchTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respondTransfer(w, r, http.StatusOK)(h.Transfers.Dispatch(r.Context(), requestID(r), inventory.DispatchDetails{
		TruckNumber:   req.TruckNumber,
		DriverName:    req.DriverName,
		DriverContact: req.DriverContact,
		Notes:         req.Notes,
		DispatchedBy:  inventory.UserID(req.DispatchedBy),
	}))
}

func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	var req ConfirmDeliveryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respondTransfer(w, r, http.StatusOK)(h.Transfers.ConfirmDelivery(r.Context(), requestID(r),
		inventory.UserID(req.ConfirmedBy)))
}

// CompleteTransfer consumes the final quantity from the batch.
func (h *Handler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	var req CompleteTransferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.respondTransfer(w, r, http.StatusOK)(h.Transfers.Complete(r.Context(), requestID(r),
		inventory.UserID(req.ProcessorID), req.TransactionRef))
}

// CancelTransfer cancels a Pending or Approved request.
func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	var req CancelTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.respondTransfer(w, r, http.StatusOK)(h.Transfers.Cancel(r.Context(), requestID(r), req.Reason))
}

func (h *Handler) respondTransfer(w http.ResponseWriter, r *http.Request, status int) func(*inventory.TransferRequest, error) {
	return func(tr *inventory.TransferRequest, err error) {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, status, h.transferDTO(tr))
	}
}

func (h *Handler) transferDTO(tr *inventory.TransferRequest) TransferDTO {
	return toTransferDTO(tr, h.Transfers.Clock, h.urgentDays())
}

func (h *Handler) transferDTOs(rs []*inventory.TransferRequest) []TransferDTO {
	return toTransferDTOs(rs, h.Transfers.Clock, h.urgentDays())
}

func (h *Handler) urgentDays() int {
	if h.Transfers.UrgentDays > 0 {
		return h.Transfers.UrgentDays
	}
	return inventory.UrgentHorizonDays
}

// =============================================================================
// HELPERS
// =============================================================================

func batchID(r *http.Request) inventory.BatchID {
	return inventory.BatchID(chi.URLParam(r, "id"))
}

func requestID(r *http.Request) inventory.RequestID {
	return inventory.RequestID(chi.URLParam(r, "id"))
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps an inventory error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case inventory.IsNotFound(err):
		return http.StatusNotFound
	case inventory.IsConflict(err), errors.Is(err, inventory.ErrInvariantViolation):
		return http.StatusConflict
	case inventory.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, errorMessage(err), err)
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return "Not found"
	case errors.Is(err, inventory.ErrInsufficientAvailable):
		return "Insufficient available quantity"
	case errors.Is(err, inventory.ErrInvalidStateTransition):
		return "Invalid state transition"
	case errors.Is(err, inventory.ErrInvalidArgument), errors.Is(err, inventory.ErrValidationFailed):
		return "Validation failed"
	case errors.Is(err, inventory.ErrDuplicate):
		return "Already exists"
	case errors.Is(err, inventory.ErrConcurrentModification):
		return "Concurrent modification, reload and retry"
	case errors.Is(err, inventory.ErrInvariantViolation):
		return "Operation would break stock consistency"
	default:
		return "Internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
