/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario registers batches through the
	factory and drives transfer requests through the real services, so the
	stock movement log is the same one production would write.

AVAILABLE SCENARIOS:

	basic-stock:        One ANFO and one emulsion batch, nothing allocated
	transfer-workflow:  Requests in every status against one batch
	expiry-watch:       Batches expired, about to expire and quarantined
	contention:         One batch nearly fully reserved by pending requests

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register batches from JSON via factory
 3. Create transfer requests through TransferService
 4. Optionally advance them through approve/dispatch/complete

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "transfer-workflow"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to scenarioLoader

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: batch and transfer handlers
  - factory/batch.go: Batch JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/explosives-inventory/inventory"
)

// Resetter is implemented by stores that can be wiped for a scenario load.
type Resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "basic-stock",
		Name:        "Basic Stock",
		Description: "One ANFO and one emulsion batch with technical data, nothing allocated",
	},
	{
		ID:          "transfer-workflow",
		Name:        "Transfer Workflow",
		Description: "Requests in every status: pending, approved (partial), dispatched, completed, rejected, cancelled",
	},
	{
		ID:          "expiry-watch",
		Name:        "Expiry Watch",
		Description: "A batch past expiry, one expiring within a week and one in quarantine",
	},
	{
		ID:          "contention",
		Name:        "Contention",
		Description: "One batch with most of its stock reserved by pending requests",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	load := h.scenarioLoader(req.ScenarioID)
	if load == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetStore(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase wipes all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.resetStore(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) resetStore(ctx context.Context) error {
	rs, ok := h.Store.(Resetter)
	if !ok {
		return fmt.Errorf("store %T does not support reset", h.Store)
	}
	return rs.Reset(ctx)
}

func (h *Handler) scenarioLoader(id string) func(context.Context) error {
	switch id {
	case "basic-stock":
		return h.loadBasicStockScenario
	case "transfer-workflow":
		return h.loadTransferWorkflowScenario
	case "expiry-watch":
		return h.loadExpiryWatchScenario
	case "contention":
		return h.loadContentionScenario
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const (
	anfoTechnical     = `{"type":"ANFO","data":{"density":"0.82","fuel_oil_percentage":"5.7","prill_size":"1-2mm","water_resistance":"poor"}}`
	emulsionTechnical = `{"type":"Emulsion","data":{"density":"1.15","velocity_of_detonation":"5500","water_resistance":"excellent","sensitizer":"gassing","minimum_primer":"150g"}}`

	scenarioUser = "demo-user"
)

func (h *Handler) loadBasicStockScenario(ctx context.Context) error {
	now := h.Batches.Clock.Now()
	if _, err := h.createBatchFromJSON(ctx, batchJSON("ANFO-DEMO-001", "ANFO", "1000", "kg",
		now.AddDate(0, -1, 0), now.AddDate(1, 0, 0), "Magazine A / Bay 1", anfoTechnical)); err != nil {
		return err
	}
	_, err := h.createBatchFromJSON(ctx, batchJSON("EMU-DEMO-001", "Emulsion", "500", "kg",
		now.AddDate(0, -2, 0), now.AddDate(0, 6, 0), "Magazine B / Bay 4", emulsionTechnical))
	return err
}

func (h *Handler) loadTransferWorkflowScenario(ctx context.Context) error {
	now := h.Batches.Clock.Now()
	batch, err := h.createBatchFromJSON(ctx, batchJSON("ANFO-WF-001", "ANFO", "2000", "kg",
		now.AddDate(0, -1, 0), now.AddDate(1, 0, 0), "Magazine A / Bay 2", anfoTechnical))
	if err != nil {
		return err
	}

	open := func(store string, qty int64, requiredInDays int) (*inventory.TransferRequest, error) {
		required := now.AddDate(0, 0, requiredInDays)
		return h.Transfers.CreateTransferRequest(ctx, inventory.CreateTransferInput{
			BatchID:            batch.ID,
			DestinationStoreID: inventory.StoreID(store),
			Quantity:           decimal.NewFromInt(qty),
			Unit:               inventory.UnitKilogram,
			RequestedBy:        scenarioUser,
			RequiredBy:         &required,
		})
	}

	// Pending, due in three days (urgent)
	if _, err := open("store-north", 150, 3); err != nil {
		return err
	}

	// Approved for less than requested
	approved, err := open("store-south", 300, 10)
	if err != nil {
		return err
	}
	partial := decimal.NewFromInt(250)
	if _, err := h.Transfers.Approve(ctx, approved.ID, "supervisor-1", &partial, "only 250 kg cleared"); err != nil {
		return err
	}

	// Dispatched and delivered, awaiting completion
	dispatched, err := open("store-east", 200, 5)
	if err != nil {
		return err
	}
	if _, err := h.Transfers.Approve(ctx, dispatched.ID, "supervisor-1", nil, ""); err != nil {
		return err
	}
	if _, err := h.Transfers.Dispatch(ctx, dispatched.ID, inventory.DispatchDetails{
		TruckNumber:   "EXP-4417",
		DriverName:    "J. Mokoena",
		DriverContact: "+27 82 555 0101",
		DispatchedBy:  "dispatcher-1",
	}); err != nil {
		return err
	}
	if _, err := h.Transfers.ConfirmDelivery(ctx, dispatched.ID, "store-east-manager"); err != nil {
		return err
	}

	// Completed
	completed, err := open("store-west", 100, 1)
	if err != nil {
		return err
	}
	if _, err := h.Transfers.Approve(ctx, completed.ID, "supervisor-1", nil, ""); err != nil {
		return err
	}
	if _, err := h.Transfers.Complete(ctx, completed.ID, "clerk-1", ""); err != nil {
		return err
	}

	// Rejected
	rejected, err := open("store-north", 400, 14)
	if err != nil {
		return err
	}
	if _, err := h.Transfers.Reject(ctx, rejected.ID, "supervisor-2", "store licence under review"); err != nil {
		return err
	}

	// Cancelled
	cancelled, err := open("store-south", 50, 20)
	if err != nil {
		return err
	}
	_, err = h.Transfers.Cancel(ctx, cancelled.ID, "duplicate request")
	return err
}

func (h *Handler) loadExpiryWatchScenario(ctx context.Context) error {
	now := h.Batches.Clock.Now()

	// Past expiry but still Active until the scheduler runs
	if _, err := h.createBatchFromJSON(ctx, batchJSON("EMU-OLD-001", "Emulsion", "120", "kg",
		now.AddDate(-1, 0, -1), now.AddDate(0, 0, -1), "Magazine C / Bay 1", emulsionTechnical)); err != nil {
		return err
	}

	if _, err := h.createBatchFromJSON(ctx, batchJSON("ANFO-SOON-001", "ANFO", "800", "kg",
		now.AddDate(0, -11, 0), now.AddDate(0, 0, 5), "Magazine A / Bay 5", anfoTechnical)); err != nil {
		return err
	}

	suspect, err := h.createBatchFromJSON(ctx, batchJSON("ANFO-QC-001", "ANFO", "600", "kg",
		now.AddDate(0, -1, 0), now.AddDate(1, 0, 0), "Magazine A / Bay 6", anfoTechnical))
	if err != nil {
		return err
	}
	_, err = h.Batches.Quarantine(ctx, suspect.ID, "water ingress found during inspection")
	return err
}

func (h *Handler) loadContentionScenario(ctx context.Context) error {
	now := h.Batches.Clock.Now()
	batch, err := h.createBatchFromJSON(ctx, batchJSON("EMU-HOT-001", "Emulsion", "1000", "kg",
		now.AddDate(0, -1, 0), now.AddDate(0, 8, 0), "Magazine B / Bay 1", emulsionTechnical))
	if err != nil {
		return err
	}

	for i := 1; i <= 9; i++ {
		if _, err := h.Transfers.CreateTransferRequest(ctx, inventory.CreateTransferInput{
			BatchID:            batch.ID,
			DestinationStoreID: inventory.StoreID(fmt.Sprintf("store-%02d", i)),
			Quantity:           decimal.NewFromInt(100),
			Unit:               inventory.UnitKilogram,
			RequestedBy:        scenarioUser,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) createBatchFromJSON(ctx context.Context, jsonStr string) (*inventory.Batch, error) {
	params, err := h.Factory.ParseBatch(jsonStr)
	if err != nil {
		return nil, err
	}
	return h.Batches.CreateBatch(ctx, params, scenarioUser)
}

func batchJSON(code, typ, qty, unit string, manufactured, expires time.Time, location, technical string) string {
	return fmt.Sprintf(`{
		"batch_code": %q,
		"explosive_type": %q,
		"quantity": %q,
		"unit": %q,
		"manufacturing_date": %q,
		"expiry_date": %q,
		"supplier": "Demo Explosives Ltd",
		"storage_location": %q,
		"warehouse_id": "wh-central",
		"technical_properties": %s
	}`, code, typ, qty, unit,
		manufactured.Format(time.RFC3339), expires.Format(time.RFC3339),
		location, technical)
}
