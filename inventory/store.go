/*
store.go - Persistence interfaces for batches, transfer requests and movements

PURPOSE:
  Defines the boundary between the allocation engine and the database.
  The engine only ever talks to these interfaces; implementations live in
  inventory/store (memory) and store/sqlite.

KEY INTERFACES:
  BatchStore:    load/save batches, batch-code uniqueness
  TransferStore: load/save requests, request-number uniqueness
  MovementStore: append-only stock movements
  Store:         all three
  TxStore:       Store + WithTx for atomic cross-record writes

CONTRACT:
  - Load* returns a *NotFoundError (ErrNotFound) for unknown keys.
  - Load* returns a private copy; mutating it has no effect until Save*.
  - SaveBatch is optimistic: it fails with ErrConcurrentModification when
    batch.Version does not match the stored version, and bumps the
    version on success. A new batch is saved with Version 0.
  - Storage failures are wrapped with ErrPersistence.

ATOMICITY:
  TransferService runs every operation inside WithTx. Either the batch,
  the request and the movement are all written, or none are.

IMPLEMENTATIONS:
  - inventory/store/memory.go: in-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite for production
*/
package inventory

import "context"

// =============================================================================
// STORE INTERFACES
// =============================================================================

type BatchStore interface {
	LoadBatch(ctx context.Context, id BatchID) (*Batch, error)
	SaveBatch(ctx context.Context, b *Batch) error
	BatchExists(ctx context.Context, batchCode string) (bool, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]*Batch, error)
}

type TransferStore interface {
	LoadTransferRequest(ctx context.Context, id RequestID) (*TransferRequest, error)
	LoadTransferRequestByNumber(ctx context.Context, number string) (*TransferRequest, error)
	SaveTransferRequest(ctx context.Context, r *TransferRequest) error
	RequestNumberExists(ctx context.Context, number string) (bool, error)
	ListTransferRequests(ctx context.Context, filter TransferFilter) ([]*TransferRequest, error)
}

// MovementStore is append-only. There is no update or delete.
type MovementStore interface {
	AppendMovement(ctx context.Context, m StockMovement) error
	MovementsByBatch(ctx context.Context, id BatchID) ([]StockMovement, error)
}

type Store interface {
	BatchStore
	TransferStore
	MovementStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTERS
// =============================================================================

// BatchFilter selects batches. Zero values match everything.
type BatchFilter struct {
	Status      BatchStatus
	WarehouseID WarehouseID
	Type        ExplosiveType
}

func (f BatchFilter) Match(b *Batch) bool {
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.WarehouseID != "" && b.WarehouseID != f.WarehouseID {
		return false
	}
	if f.Type != "" && b.ExplosiveType != f.Type {
		return false
	}
	return true
}

// TransferFilter selects transfer requests. Zero values match everything.
type TransferFilter struct {
	Status             TransferStatus
	BatchID            BatchID
	DestinationStoreID StoreID
	OpenOnly           bool // exclude terminal statuses
}

func (f TransferFilter) Match(r *TransferRequest) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.BatchID != "" && r.BatchID != f.BatchID {
		return false
	}
	if f.DestinationStoreID != "" && r.DestinationStoreID != f.DestinationStoreID {
		return false
	}
	if f.OpenOnly && r.IsTerminal() {
		return false
	}
	return true
}
