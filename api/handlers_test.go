/*
handlers_test.go - HTTP tests for the batch and transfer handlers

Tests for:
- Batch registration, lookup, lifecycle endpoints and movement history
- The transfer workflow end to end through the router
- Error kinds mapped to HTTP status codes
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/explosives-inventory/inventory"
	"github.com/warp/explosives-inventory/inventory/store"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
	clock   *inventory.FixedClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewTxMemory()
	clock := inventory.NewFixedClock(testNow)
	batches := inventory.NewBatchService(mem, clock, zap.NewNop())
	transfers := inventory.NewTransferService(mem, clock, zap.NewNop())
	h := NewHandler(mem, batches, transfers, zap.NewNop())
	return &testServer{t: t, handler: h, router: NewRouter(h, nil), clock: clock}
}

// do sends body as JSON. A string body is sent as is.
func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createBatch(code, qty, expiry string) BatchDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/batches", map[string]any{
		"batch_code":         code,
		"explosive_type":     "ANFO",
		"quantity":           qty,
		"manufacturing_date": "2026-01-10",
		"expiry_date":        expiry,
		"warehouse_id":       "wh-central",
		"created_by":         "u-store",
		"technical_properties": map[string]any{
			"type": "ANFO",
			"data": map[string]string{"density": "0.82", "fuel_oil_percentage": "5.7"},
		},
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[BatchDTO](s.t, rec)
}

func (s *testServer) createTransfer(batchID, qty string) TransferDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/transfers", map[string]any{
		"batch_id":             batchID,
		"destination_store_id": "store-north",
		"quantity":             qty,
		"requested_by":         "u-requester",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[TransferDTO](s.t, rec)
}

func (s *testServer) getBatch(id string) BatchDTO {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/api/batches/"+id, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[BatchDTO](s.t, rec)
}

// =============================================================================
// BATCHES
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateBatch(t *testing.T) {
	s := newTestServer(t)

	b := s.createBatch("ANFO-001", "1000", "2027-01-10")

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, "1000", b.Quantity)
	assert.Equal(t, "0", b.Allocated)
	assert.Equal(t, "1000", b.Available)
	assert.Equal(t, "kg", b.Unit)
	assert.Equal(t, "Active", b.Status)
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, "2027-01-10", b.ExpiryDate)
	assert.Contains(t, string(b.TechnicalProperties), `"type":"ANFO"`)

	got := s.getBatch(b.ID)
	assert.Equal(t, b.BatchCode, got.BatchCode)

	rec := s.do(http.MethodGet, "/api/batches/"+b.ID+"/movements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decode[[]MovementDTO](t, rec)
	require.Len(t, movements, 1)
	assert.Equal(t, "adjustment", movements[0].Type)
	assert.Equal(t, "1000", movements[0].Delta)
	assert.Equal(t, "u-store", movements[0].CreatedBy)
}

func TestCreateBatch_Errors(t *testing.T) {
	s := newTestServer(t)
	s.createBatch("ANFO-001", "1000", "2027-01-10")

	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{
			name:    "duplicate code",
			body:    map[string]any{"batch_code": "ANFO-001", "explosive_type": "ANFO", "quantity": "5", "manufacturing_date": "2026-01-10", "expiry_date": "2027-01-10"},
			status:  http.StatusConflict,
			message: "Already exists",
		},
		{
			name:    "unknown type",
			body:    map[string]any{"batch_code": "X-1", "explosive_type": "Dynamite", "quantity": "5", "manufacturing_date": "2026-01-10", "expiry_date": "2027-01-10"},
			status:  http.StatusBadRequest,
			message: "Validation failed",
		},
		{
			name:    "bad date",
			body:    map[string]any{"batch_code": "X-2", "explosive_type": "ANFO", "quantity": "5", "manufacturing_date": "10/01/2026", "expiry_date": "2027-01-10"},
			status:  http.StatusBadRequest,
			message: "Validation failed",
		},
		{
			name:    "malformed body",
			body:    `{"batch_code":`,
			status:  http.StatusBadRequest,
			message: "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/batches", tt.body)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.message, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestGetBatch_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/batches/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode[ErrorResponse](t, rec).Error)
}

func TestListBatches_Filters(t *testing.T) {
	s := newTestServer(t)
	a := s.createBatch("ANFO-001", "100", "2027-01-10")
	s.createBatch("ANFO-002", "100", "2027-01-10")
	rec := s.do(http.MethodPost, "/api/batches/"+a.ID+"/quarantine", map[string]string{"reason": "moisture"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/batches", nil)
	assert.Len(t, decode[[]BatchDTO](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/batches?status=Quarantined", nil)
	quarantined := decode[[]BatchDTO](t, rec)
	require.Len(t, quarantined, 1)
	assert.Equal(t, "moisture", quarantined[0].QuarantineReason)

	rec = s.do(http.MethodGet, "/api/batches?status=Melted", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchLifecycleEndpoints(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch("ANFO-001", "100", "2027-01-10")

	// GIVEN: a quarantined batch
	rec := s.do(http.MethodPost, "/api/batches/"+b.ID+"/quarantine", map[string]string{"reason": "water ingress"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Quarantined", decode[BatchDTO](t, rec).Status)

	// THEN: nothing can be requested from it
	rec = s.do(http.MethodPost, "/api/transfers", map[string]any{
		"batch_id": b.ID, "destination_store_id": "store-north", "quantity": "10",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid state transition", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/batches/"+b.ID+"/release-quarantine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Active", decode[BatchDTO](t, rec).Status)

	rec = s.do(http.MethodPut, "/api/batches/"+b.ID+"/location", map[string]string{"location": "Magazine C / Bay 2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Magazine C / Bay 2", decode[BatchDTO](t, rec).StorageLocation)

	rec = s.do(http.MethodPut, "/api/batches/"+b.ID+"/quantity", map[string]any{"quantity": "92.5", "updated_by": "u-audit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "92.5", decode[BatchDTO](t, rec).Quantity)

	rec = s.do(http.MethodGet, "/api/batches/"+b.ID+"/movements", nil)
	movements := decode[[]MovementDTO](t, rec)
	require.Len(t, movements, 2)
	assert.Equal(t, "-7.5", movements[1].Delta)
	assert.Equal(t, "stock take", movements[1].Reason)

	rec = s.do(http.MethodPost, "/api/batches/"+b.ID+"/expire", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Expired", decode[BatchDTO](t, rec).Status)

	rec = s.do(http.MethodDelete, "/api/batches/"+b.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Inactive", decode[BatchDTO](t, rec).Status)
}

func TestDeactivateBatch_WithReservations(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch("ANFO-001", "100", "2027-01-10")
	s.createTransfer(b.ID, "40")

	rec := s.do(http.MethodDelete, "/api/batches/"+b.ID, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Operation would break stock consistency", decode[ErrorResponse](t, rec).Error)
	assert.Equal(t, "Active", s.getBatch(b.ID).Status)
}

func TestExpiringAndSweep(t *testing.T) {
	s := newTestServer(t)
	soon := s.createBatch("ANFO-SOON", "100", "2026-03-15")
	s.createBatch("ANFO-LATER", "100", "2027-01-10")

	rec := s.do(http.MethodGet, "/api/batches/expiring?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	expiring := decode[[]BatchDTO](t, rec)
	require.Len(t, expiring, 1)
	assert.Equal(t, soon.ID, expiring[0].ID)
	assert.Equal(t, 4, expiring[0].DaysUntilExpiry)

	rec = s.do(http.MethodGet, "/api/batches/expiring?days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.clock.Advance(6 * 24 * time.Hour)
	rec = s.do(http.MethodPost, "/api/batches/sweep-expired", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ExpirySweepResponse](t, rec).Marked)
	assert.Equal(t, "Expired", s.getBatch(soon.ID).Status)
}

// =============================================================================
// TRANSFERS
// =============================================================================

func TestTransferWorkflow(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch("EMU-1", "1000", "2027-01-10")

	// GIVEN: a request for 300 kg
	tr := s.createTransfer(b.ID, "300")
	assert.Equal(t, "Pending", tr.Status)
	assert.Regexp(t, `^TR-20260310-\d{6}$`, tr.RequestNumber)
	assert.Equal(t, "300", s.getBatch(b.ID).Allocated)

	// WHEN: approved for 250
	rec := s.do(http.MethodPost, "/api/transfers/"+tr.ID+"/approve", map[string]any{
		"approver_id": "u-approver", "approved_quantity": "250", "notes": "only 250 cleared",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[TransferDTO](t, rec)
	assert.Equal(t, "Approved", approved.Status)
	require.NotNil(t, approved.ApprovedQuantity)
	assert.Equal(t, "250", *approved.ApprovedQuantity)
	assert.Equal(t, "250", approved.FinalQuantity)
	assert.Equal(t, "250", s.getBatch(b.ID).Allocated)

	rec = s.do(http.MethodPost, "/api/transfers/"+tr.ID+"/dispatch", map[string]any{
		"truck_number": "TRK-42", "driver_name": "Sam", "dispatched_by": "u-dispatch",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dispatched := decode[TransferDTO](t, rec)
	assert.Equal(t, "Dispatched", dispatched.Status)
	require.NotNil(t, dispatched.Dispatch)
	assert.Equal(t, "TRK-42", dispatched.Dispatch.TruckNumber)

	rec = s.do(http.MethodPost, "/api/transfers/"+tr.ID+"/confirm-delivery", map[string]string{"confirmed_by": "u-store"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[TransferDTO](t, rec).DeliveryConfirmed)

	rec = s.do(http.MethodPost, "/api/transfers/"+tr.ID+"/complete", map[string]string{
		"processor_id": "u-clerk", "transaction_ref": "GRN-7781",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[TransferDTO](t, rec)
	assert.Equal(t, "Completed", done.Status)
	assert.Equal(t, "GRN-7781", done.CompletedTransactionID)

	// THEN: the batch shipped 250 kg and holds nothing back
	batch := s.getBatch(b.ID)
	assert.Equal(t, "750", batch.Quantity)
	assert.Equal(t, "0", batch.Allocated)

	rec = s.do(http.MethodGet, "/api/transfers/number/"+tr.RequestNumber, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tr.ID, decode[TransferDTO](t, rec).ID)
}

func TestCreateTransfer_Insufficient(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch("EMU-1", "100", "2027-01-10")
	s.createTransfer(b.ID, "70")

	rec := s.do(http.MethodPost, "/api/transfers", map[string]any{
		"batch_id": b.ID, "destination_store_id": "store-south", "quantity": "50",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Insufficient available quantity", resp.Error)
	assert.Contains(t, resp.Details, "shortfall 20 kg")
}

func TestCreateTransfer_BadInput(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch("EMU-1", "100", "2027-01-10")

	rec := s.do(http.MethodPost, "/api/transfers", map[string]any{
		"batch_id": b.ID, "destination_store_id": "store-south", "quantity": "5", "required_by": "tomorrow",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid required_by", decode[ErrorResponse](t, rec).Error)

	rec = s.do(http.MethodPost, "/api/transfers", map[string]any{
		"batch_id": "missing", "destination_store_id": "store-south", "quantity": "5",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/transfers", map[string]any{
		"batch_id": b.ID, "destination_store_id": "store-south", "quantity": "5", "unit": "L",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransferTransitionErrors(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch("EMU-1", "100", "2027-01-10")
	tr := s.createTransfer(b.ID, "10")

	rec := s.do(http.MethodPost, "/api/transfers/"+tr.ID+"/reject", map[string]string{"rejecter_id": "u-approver"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "rejection needs a reason")

	rec = s.do(http.MethodPost, "/api/transfers/"+tr.ID+"/dispatch", map[string]string{"truck_number": "TRK-1", "driver_name": "Sam"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid state transition", decode[ErrorResponse](t, rec).Error)

	// cancel accepts an empty body
	rec = s.do(http.MethodPost, "/api/transfers/"+tr.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Cancelled", decode[TransferDTO](t, rec).Status)
	assert.Equal(t, "0", s.getBatch(b.ID).Allocated)

	rec = s.do(http.MethodPost, "/api/transfers/"+tr.ID+"/approve", map[string]string{"approver_id": "u-approver"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/transfers/unknown/approve", map[string]string{"approver_id": "u-approver"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTransfers(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch("EMU-1", "100", "2027-01-10")
	s.createTransfer(b.ID, "10")
	closed := s.createTransfer(b.ID, "10")
	rec := s.do(http.MethodPost, "/api/transfers/"+closed.ID+"/reject", map[string]string{
		"rejecter_id": "u-approver", "reason": "no blast planned",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/transfers", nil)
	assert.Len(t, decode[[]TransferDTO](t, rec), 2)

	rec = s.do(http.MethodGet, "/api/transfers?open=true", nil)
	assert.Len(t, decode[[]TransferDTO](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/transfers?status=Rejected&batch="+b.ID, nil)
	rejected := decode[[]TransferDTO](t, rec)
	require.Len(t, rejected, 1)
	assert.Equal(t, "no blast planned", rejected[0].RejectionReason)

	rec = s.do(http.MethodGet, "/api/transfers?status=Lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUrgentAndOverdue(t *testing.T) {
	s := newTestServer(t)
	b := s.createBatch("EMU-1", "100", "2027-01-10")
	rec := s.do(http.MethodPost, "/api/transfers", map[string]any{
		"batch_id": b.ID, "destination_store_id": "store-north", "quantity": "10", "required_by": "2026-03-12",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tr := decode[TransferDTO](t, rec)
	assert.True(t, tr.IsUrgent)
	assert.False(t, tr.IsOverdue)

	rec = s.do(http.MethodGet, "/api/transfers/urgent", nil)
	assert.Len(t, decode[[]TransferDTO](t, rec), 1)
	rec = s.do(http.MethodGet, "/api/transfers/overdue", nil)
	assert.Empty(t, decode[[]TransferDTO](t, rec))

	s.clock.Advance(3 * 24 * time.Hour)

	rec = s.do(http.MethodGet, "/api/transfers/overdue", nil)
	overdue := decode[[]TransferDTO](t, rec)
	require.Len(t, overdue, 1)
	assert.True(t, overdue[0].IsOverdue)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&inventory.NotFoundError{Kind: "batch", ID: "x"}, http.StatusNotFound},
		{&inventory.ArgumentError{Field: "quantity", Message: "bad"}, http.StatusBadRequest},
		{&inventory.StateTransitionError{Subject: "batch", From: "Expired", Action: "allocate"}, http.StatusBadRequest},
		{fmt.Errorf("save: %w", inventory.ErrDuplicate), http.StatusConflict},
		{fmt.Errorf("save: %w", inventory.ErrConcurrentModification), http.StatusConflict},
		{&inventory.InvariantError{Message: "allocated exceeds quantity"}, http.StatusConflict},
		{fmt.Errorf("commit: %w", inventory.ErrPersistence), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}
