package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/explosives-inventory/inventory"
	"github.com/warp/explosives-inventory/inventory/store"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	store     *store.TxMemory
	clock     *inventory.FixedClock
	batches   *inventory.BatchService
	transfers *inventory.TransferService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewTxMemory()
	clock := inventory.NewFixedClock(testNow)
	return &testEnv{
		store:     s,
		clock:     clock,
		batches:   inventory.NewBatchService(s, clock, nil),
		transfers: inventory.NewTransferService(s, clock, nil),
	}
}

func (e *testEnv) seedBatch(t *testing.T, code string, qty int64) *inventory.Batch {
	t.Helper()
	b, err := e.batches.CreateBatch(context.Background(), batchParams(code, qty), "seed")
	require.NoError(t, err)
	return b
}

func (e *testEnv) request(t *testing.T, batchID inventory.BatchID, qty int64) *inventory.TransferRequest {
	t.Helper()
	r, err := e.transfers.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
		BatchID:            batchID,
		DestinationStoreID: "store-1",
		Quantity:           dec(qty),
		RequestedBy:        "alice",
	})
	require.NoError(t, err)
	return r
}

func (e *testEnv) batch(t *testing.T, id inventory.BatchID) *inventory.Batch {
	t.Helper()
	b, err := e.store.LoadBatch(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (e *testEnv) movementTypes(t *testing.T, id inventory.BatchID) []inventory.MovementType {
	t.Helper()
	ms, err := e.store.MovementsByBatch(context.Background(), id)
	require.NoError(t, err)
	out := make([]inventory.MovementType, len(ms))
	for i, m := range ms {
		out[i] = m.Type
	}
	return out
}

func decPtr(v int64) *decimal.Decimal {
	d := dec(v)
	return &d
}

// =============================================================================
// WORKED EXAMPLES
// =============================================================================

func TestTransferService_PartialApprovalThenComplete(t *testing.T) {
	// GIVEN: 1000 kg, nothing allocated
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBatch(t, "ANFO-1", 1000)

	// WHEN: 300 kg requested
	r := env.request(t, b.ID, 300)

	// THEN: 300 allocated, 700 available
	assertQuantities(t, env.batch(t, b.ID), 1000, 300)
	assert.True(t, env.batch(t, b.ID).Available().Equal(kg(700)))
	assert.Equal(t, inventory.TransferPending, r.Status)
	assert.Regexp(t, `^TR-20260310-\d{6}$`, r.RequestNumber)

	// WHEN: approved for 250
	r, err := env.transfers.Approve(ctx, r.ID, "sup", decPtr(250), "short on trucks")
	require.NoError(t, err)

	// THEN: 50 released
	assertQuantities(t, env.batch(t, b.ID), 1000, 250)
	assert.True(t, r.FinalQuantity().Equal(kg(250)))

	// WHEN: completed
	r, err = env.transfers.Complete(ctx, r.ID, "clerk", "")
	require.NoError(t, err)

	// THEN: quantity and allocated both drop by 250
	assertQuantities(t, env.batch(t, b.ID), 750, 0)
	assert.Equal(t, inventory.TransferCompleted, r.Status)
	assert.NotEmpty(t, r.CompletedTransactionID)

	assert.Equal(t, []inventory.MovementType{
		inventory.MovementAdjustment,
		inventory.MovementAllocation,
		inventory.MovementRelease,
		inventory.MovementConsumption,
	}, env.movementTypes(t, b.ID))
}

func TestTransferService_RequestExceedingStock_LeavesBatchUnchanged(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "ANFO-1", 500)

	_, err := env.transfers.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
		BatchID:            b.ID,
		DestinationStoreID: "store-1",
		Quantity:           dec(600),
		Unit:               inventory.UnitKilogram,
	})

	require.ErrorIs(t, err, inventory.ErrInsufficientAvailable)
	after := env.batch(t, b.ID)
	assertQuantities(t, after, 500, 0)
	assert.Equal(t, b.Version, after.Version)

	all, err := env.transfers.List(context.Background(), inventory.TransferFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTransferService_CancelPendingThenApprove_Fails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBatch(t, "ANFO-1", 1000)
	r := env.request(t, b.ID, 100)

	r, err := env.transfers.Cancel(ctx, r.ID, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, inventory.TransferCancelled, r.Status)
	assertQuantities(t, env.batch(t, b.ID), 1000, 0)

	_, err = env.transfers.Approve(ctx, r.ID, "sup", nil, "")
	assert.ErrorIs(t, err, inventory.ErrInvalidStateTransition)
	assertQuantities(t, env.batch(t, b.ID), 1000, 0)
}

func TestTransferService_ConcurrentRequests_ExactlyOneFits(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "EMU-1", 100)

	var ok, short atomic.Int32
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := env.transfers.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
				BatchID:            b.ID,
				DestinationStoreID: "store-1",
				Quantity:           dec(60),
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, inventory.ErrInsufficientAvailable):
				short.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), short.Load())
	assertQuantities(t, env.batch(t, b.ID), 100, 60)
}

func TestTransferService_ManyConcurrentRequests_NeverOverAllocate(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "EMU-1", 100)

	var ok atomic.Int32
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		i := i
		g.Go(func() error {
			_, err := env.transfers.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
				BatchID:            b.ID,
				DestinationStoreID: inventory.StoreID(fmt.Sprintf("store-%d", i)),
				Quantity:           dec(15),
			})
			if err == nil {
				ok.Add(1)
				return nil
			}
			if errors.Is(err, inventory.ErrInsufficientAvailable) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(6), ok.Load())
	assertQuantities(t, env.batch(t, b.ID), 100, 90)
}

// =============================================================================
// REJECT / CANCEL
// =============================================================================

func TestTransferService_RejectRestoresAvailability(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "ANFO-1", 1000)
	before := env.batch(t, b.ID).Available()
	r := env.request(t, b.ID, 400)

	r, err := env.transfers.Reject(context.Background(), r.ID, "sup", "licence expired")

	require.NoError(t, err)
	assert.Equal(t, inventory.TransferRejected, r.Status)
	assert.Equal(t, "licence expired", r.RejectionReason)
	assert.True(t, env.batch(t, b.ID).Available().Equal(before))
}

func TestTransferService_RejectApproved_IsRefusedAndKeepsAllocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBatch(t, "ANFO-1", 1000)
	r := env.request(t, b.ID, 400)
	_, err := env.transfers.Approve(ctx, r.ID, "sup", nil, "")
	require.NoError(t, err)

	_, err = env.transfers.Reject(ctx, r.ID, "sup", "too late")

	require.ErrorIs(t, err, inventory.ErrInvalidStateTransition)
	assertQuantities(t, env.batch(t, b.ID), 1000, 400)
	got, err := env.transfers.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.TransferApproved, got.Status)
}

func TestTransferService_CancelApproved_ReleasesFinalQuantity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBatch(t, "ANFO-1", 1000)
	r := env.request(t, b.ID, 400)
	_, err := env.transfers.Approve(ctx, r.ID, "sup", decPtr(300), "")
	require.NoError(t, err)

	r, err = env.transfers.Cancel(ctx, r.ID, "store closed")

	require.NoError(t, err)
	assert.Equal(t, inventory.TransferCancelled, r.Status)
	assertQuantities(t, env.batch(t, b.ID), 1000, 0)
}

func TestTransferService_CancelApproved_PreserveLeak(t *testing.T) {
	env := newTestEnv(t)
	env.transfers.PreserveCancelLeak = true
	ctx := context.Background()
	b := env.seedBatch(t, "ANFO-1", 1000)
	r := env.request(t, b.ID, 400)
	_, err := env.transfers.Approve(ctx, r.ID, "sup", decPtr(300), "")
	require.NoError(t, err)

	_, err = env.transfers.Cancel(ctx, r.ID, "store closed")

	require.NoError(t, err)
	// only the partial-approval release happened; 300 stays reserved
	assertQuantities(t, env.batch(t, b.ID), 1000, 300)
}

func TestTransferService_CancelPending_PreserveLeakStillReleases(t *testing.T) {
	env := newTestEnv(t)
	env.transfers.PreserveCancelLeak = true
	b := env.seedBatch(t, "ANFO-1", 1000)
	r := env.request(t, b.ID, 400)

	_, err := env.transfers.Cancel(context.Background(), r.ID, "typo")

	require.NoError(t, err)
	assertQuantities(t, env.batch(t, b.ID), 1000, 0)
}

func TestTransferService_CancelDispatched_Fails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBatch(t, "ANFO-1", 1000)
	r := env.request(t, b.ID, 100)
	_, err := env.transfers.Approve(ctx, r.ID, "sup", nil, "")
	require.NoError(t, err)
	_, err = env.transfers.Dispatch(ctx, r.ID, truck)
	require.NoError(t, err)

	_, err = env.transfers.Cancel(ctx, r.ID, "")

	assert.ErrorIs(t, err, inventory.ErrInvalidStateTransition)
	assertQuantities(t, env.batch(t, b.ID), 1000, 100)
}

// =============================================================================
// DISPATCH / DELIVERY / COMPLETE
// =============================================================================

func TestTransferService_FullDispatchFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBatch(t, "EMU-1", 500)
	r := env.request(t, b.ID, 200)

	_, err := env.transfers.Dispatch(ctx, r.ID, truck)
	require.ErrorIs(t, err, inventory.ErrInvalidStateTransition, "cannot dispatch a pending request")

	_, err = env.transfers.Approve(ctx, r.ID, "sup", nil, "")
	require.NoError(t, err)

	env.clock.Advance(hour)
	r, err = env.transfers.Dispatch(ctx, r.ID, truck)
	require.NoError(t, err)
	assert.Equal(t, inventory.TransferDispatched, r.Status)
	require.NotNil(t, r.DispatchInfo.DispatchedAt)
	assert.Equal(t, testNow.Add(hour), *r.DispatchInfo.DispatchedAt)
	assertQuantities(t, env.batch(t, b.ID), 500, 200)

	r, err = env.transfers.ConfirmDelivery(ctx, r.ID, "store-mgr")
	require.NoError(t, err)
	assert.True(t, r.IsDeliveryConfirmed())

	r, err = env.transfers.Complete(ctx, r.ID, "clerk", "GRN-7781")
	require.NoError(t, err)
	assert.Equal(t, inventory.MovementID("GRN-7781"), r.CompletedTransactionID)
	assertQuantities(t, env.batch(t, b.ID), 300, 0)

	movements, err := env.batches.Movements(ctx, b.ID)
	require.NoError(t, err)
	last := movements[len(movements)-1]
	assert.Equal(t, inventory.MovementID("GRN-7781"), last.ID)
	assert.Equal(t, inventory.MovementConsumption, last.Type)
	assert.Equal(t, string(r.ID), last.ReferenceID)
}

func TestTransferService_CompleteTwice_Fails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBatch(t, "EMU-1", 500)
	r := env.request(t, b.ID, 200)
	_, err := env.transfers.Approve(ctx, r.ID, "sup", nil, "")
	require.NoError(t, err)
	_, err = env.transfers.Complete(ctx, r.ID, "clerk", "")
	require.NoError(t, err)

	_, err = env.transfers.Complete(ctx, r.ID, "clerk", "")

	assert.ErrorIs(t, err, inventory.ErrInvalidStateTransition)
	assertQuantities(t, env.batch(t, b.ID), 300, 0)
}

// =============================================================================
// CREATE EDGE CASES
// =============================================================================

func TestTransferService_CreateAgainstUnknownBatch(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.transfers.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
		BatchID:            "nope",
		DestinationStoreID: "store-1",
		Quantity:           dec(1),
	})

	assert.True(t, inventory.IsNotFound(err))
}

func TestTransferService_CreateAgainstQuarantinedBatch(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "ANFO-Q", 100)
	_, err := env.batches.Quarantine(context.Background(), b.ID, "inspection")
	require.NoError(t, err)

	_, err = env.transfers.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
		BatchID:            b.ID,
		DestinationStoreID: "store-1",
		Quantity:           dec(1),
	})

	assert.ErrorIs(t, err, inventory.ErrInvalidStateTransition)
}

func TestTransferService_CreateWithWrongUnit(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "ANFO-1", 100)

	_, err := env.transfers.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
		BatchID:            b.ID,
		DestinationStoreID: "store-1",
		Quantity:           dec(1),
		Unit:               inventory.UnitLitre,
	})

	assert.ErrorIs(t, err, inventory.ErrInvalidArgument)
}

func TestTransferService_CreateWithMissingStore(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "ANFO-1", 100)

	_, err := env.transfers.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
		BatchID:  b.ID,
		Quantity: dec(10),
	})

	require.ErrorIs(t, err, inventory.ErrInvalidArgument)
	assertQuantities(t, env.batch(t, b.ID), 100, 0)
}

func TestTransferService_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "ANFO-1", 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.transfers.CreateTransferRequest(ctx, inventory.CreateTransferInput{
		BatchID:            b.ID,
		DestinationStoreID: "store-1",
		Quantity:           dec(10),
	})

	require.ErrorIs(t, err, context.Canceled)
	assertQuantities(t, env.batch(t, b.ID), 100, 0)
}

// =============================================================================
// ATOMICITY
// =============================================================================

// failingRequestStore fails every SaveTransferRequest made inside a
// transaction, after the batch has already been saved.
type failingRequestStore struct {
	*store.TxMemory
}

func (f failingRequestStore) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(tx inventory.Store) error {
		return fn(failingRequestTx{Store: tx})
	})
}

type failingRequestTx struct {
	inventory.Store
}

func (failingRequestTx) SaveTransferRequest(context.Context, *inventory.TransferRequest) error {
	return fmt.Errorf("disk full: %w", inventory.ErrPersistence)
}

func TestTransferService_RequestSaveFailure_RollsBackBatch(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "ANFO-1", 100)
	svc := inventory.NewTransferService(failingRequestStore{env.store}, env.clock, nil)

	_, err := svc.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
		BatchID:            b.ID,
		DestinationStoreID: "store-1",
		Quantity:           dec(40),
	})

	require.ErrorIs(t, err, inventory.ErrPersistence)
	after := env.batch(t, b.ID)
	assertQuantities(t, after, 100, 0)
	assert.Equal(t, b.Version, after.Version)
	assert.Equal(t, []inventory.MovementType{inventory.MovementAdjustment}, env.movementTypes(t, b.ID))
}

func TestTransferService_RejectSaveFailure_KeepsAllocation(t *testing.T) {
	env := newTestEnv(t)
	b := env.seedBatch(t, "ANFO-1", 100)
	r := env.request(t, b.ID, 40)
	svc := inventory.NewTransferService(failingRequestStore{env.store}, env.clock, nil)

	_, err := svc.Reject(context.Background(), r.ID, "sup", "no")

	require.ErrorIs(t, err, inventory.ErrPersistence)
	assertQuantities(t, env.batch(t, b.ID), 100, 40)
	got, err := env.transfers.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.TransferPending, got.Status)
}

// =============================================================================
// REQUEST NUMBERS
// =============================================================================

func sequenceTokens(tokens ...int64) func() (int64, error) {
	var i atomic.Int32
	return func() (int64, error) {
		n := int(i.Add(1)) - 1
		if n >= len(tokens) {
			n = len(tokens) - 1
		}
		return tokens[n], nil
	}
}

func TestTransferService_RequestNumberCollisionRetries(t *testing.T) {
	env := newTestEnv(t)
	gen := inventory.NewRequestNumberGenerator("TR", env.clock)
	gen.Token = sequenceTokens(1, 1, 1, 2)
	env.transfers.Numbers = gen
	b := env.seedBatch(t, "ANFO-1", 100)

	first := env.request(t, b.ID, 10)
	second := env.request(t, b.ID, 10)

	assert.Equal(t, "TR-20260310-000001", first.RequestNumber)
	assert.Equal(t, "TR-20260310-000002", second.RequestNumber)

	byNumber, err := env.transfers.GetByNumber(context.Background(), second.RequestNumber)
	require.NoError(t, err)
	assert.Equal(t, second.ID, byNumber.ID)
}

func TestTransferService_RequestNumbersExhausted(t *testing.T) {
	env := newTestEnv(t)
	gen := inventory.NewRequestNumberGenerator("TR", env.clock)
	gen.Token = sequenceTokens(7)
	gen.MaxAttempts = 3
	env.transfers.Numbers = gen
	b := env.seedBatch(t, "ANFO-1", 100)
	env.request(t, b.ID, 10)

	_, err := env.transfers.CreateTransferRequest(context.Background(), inventory.CreateTransferInput{
		BatchID:            b.ID,
		DestinationStoreID: "store-1",
		Quantity:           dec(10),
	})

	require.ErrorIs(t, err, inventory.ErrInvariantViolation)
	assertQuantities(t, env.batch(t, b.ID), 100, 10)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestTransferService_OverdueAndUrgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.seedBatch(t, "ANFO-1", 1000)

	create := func(days int) *inventory.TransferRequest {
		due := testNow.AddDate(0, 0, days)
		r, err := env.transfers.CreateTransferRequest(ctx, inventory.CreateTransferInput{
			BatchID:            b.ID,
			DestinationStoreID: "store-1",
			Quantity:           dec(10),
			RequiredBy:         &due,
		})
		require.NoError(t, err)
		return r
	}
	soon := create(3)
	later := create(20)
	approvedSoon := create(2)
	_, err := env.transfers.Approve(ctx, approvedSoon.ID, "sup", nil, "")
	require.NoError(t, err)

	urgent, err := env.transfers.Urgent(ctx)
	require.NoError(t, err)
	require.Len(t, urgent, 1, "approved requests are not urgent")
	assert.Equal(t, soon.ID, urgent[0].ID)

	env.transfers.UrgentDays = 30
	urgent, err = env.transfers.Urgent(ctx)
	require.NoError(t, err)
	assert.Len(t, urgent, 2)

	env.clock.Advance(10 * day)
	overdue, err := env.transfers.Overdue(ctx)
	require.NoError(t, err)
	ids := []inventory.RequestID{}
	for _, r := range overdue {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []inventory.RequestID{soon.ID, approvedSoon.ID}, ids)
	assert.NotContains(t, ids, later.ID)
}

func TestTransferService_ListFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b1 := env.seedBatch(t, "ANFO-1", 1000)
	b2 := env.seedBatch(t, "ANFO-2", 1000)
	r1 := env.request(t, b1.ID, 10)
	env.request(t, b2.ID, 10)
	_, err := env.transfers.Cancel(ctx, r1.ID, "")
	require.NoError(t, err)

	byBatch, err := env.transfers.List(ctx, inventory.TransferFilter{BatchID: b1.ID})
	require.NoError(t, err)
	assert.Len(t, byBatch, 1)

	open, err := env.transfers.List(ctx, inventory.TransferFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, b2.ID, open[0].BatchID)

	cancelled, err := env.transfers.List(ctx, inventory.TransferFilter{Status: inventory.TransferCancelled})
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)
}
