// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/explosives-inventory/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	batches   map[inventory.BatchID]*inventory.Batch
	requests  map[inventory.RequestID]*inventory.TransferRequest
	numbers   map[string]inventory.RequestID
	movements map[inventory.BatchID][]inventory.StockMovement
}

func NewMemory() *Memory {
	return &Memory{
		batches:   make(map[inventory.BatchID]*inventory.Batch),
		requests:  make(map[inventory.RequestID]*inventory.TransferRequest),
		numbers:   make(map[string]inventory.RequestID),
		movements: make(map[inventory.BatchID][]inventory.StockMovement),
	}
}

func (m *Memory) LoadBatch(_ context.Context, id inventory.BatchID) (*inventory.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadBatchLocked(id)
}

// SaveBatch stores a copy of b after checking its version.
func (m *Memory) SaveBatch(_ context.Context, b *inventory.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBatchLocked(b)
}

func (m *Memory) BatchExists(_ context.Context, batchCode string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchExistsLocked(batchCode), nil
}

func (m *Memory) ListBatches(_ context.Context, filter inventory.BatchFilter) ([]*inventory.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBatchesLocked(filter), nil
}

func (m *Memory) LoadTransferRequest(_ context.Context, id inventory.RequestID) (*inventory.TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRequestLocked(id)
}

func (m *Memory) LoadTransferRequestByNumber(_ context.Context, number string) (*inventory.TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadRequestByNumberLocked(number)
}

func (m *Memory) SaveTransferRequest(_ context.Context, r *inventory.TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveRequestLocked(r)
}

func (m *Memory) RequestNumberExists(_ context.Context, number string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.numbers[number]
	return ok, nil
}

func (m *Memory) ListTransferRequests(_ context.Context, filter inventory.TransferFilter) ([]*inventory.TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRequestsLocked(filter), nil
}

// AppendMovement adds a single movement. Append-only.
func (m *Memory) AppendMovement(_ context.Context, mv inventory.StockMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendMovementLocked(mv)
}

func (m *Memory) MovementsByBatch(_ context.Context, id inventory.BatchID) ([]inventory.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.movementsLocked(id), nil
}

// Reset drops everything, including the movement log.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = make(map[inventory.BatchID]*inventory.Batch)
	m.requests = make(map[inventory.RequestID]*inventory.TransferRequest)
	m.numbers = make(map[string]inventory.RequestID)
	m.movements = make(map[inventory.BatchID][]inventory.StockMovement)
	return nil
}

// =============================================================================
// LOCKED HELPERS - callers hold mu
// =============================================================================

func (m *Memory) loadBatchLocked(id inventory.BatchID) (*inventory.Batch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, &inventory.NotFoundError{Kind: "batch", ID: string(id)}
	}
	return b.Clone(), nil
}

func (m *Memory) saveBatchLocked(b *inventory.Batch) error {
	if existing, ok := m.batches[b.ID]; ok {
		if existing.Version != b.Version {
			return fmt.Errorf("batch %s at version %d, stored %d: %w",
				b.BatchCode, b.Version, existing.Version, inventory.ErrConcurrentModification)
		}
	} else if b.Version != 0 {
		return fmt.Errorf("batch %s: %w", b.ID, inventory.ErrConcurrentModification)
	} else if m.batchExistsLocked(b.BatchCode) {
		return fmt.Errorf("batch code %q: %w", b.BatchCode, inventory.ErrDuplicate)
	}
	b.Version++
	m.batches[b.ID] = b.Clone()
	return nil
}

func (m *Memory) batchExistsLocked(code string) bool {
	for _, b := range m.batches {
		if b.BatchCode == code {
			return true
		}
	}
	return false
}

func (m *Memory) listBatchesLocked(filter inventory.BatchFilter) []*inventory.Batch {
	var out []*inventory.Batch
	for _, b := range m.batches {
		if filter.Match(b) {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].BatchCode < out[j].BatchCode
	})
	return out
}

func (m *Memory) loadRequestLocked(id inventory.RequestID) (*inventory.TransferRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, &inventory.NotFoundError{Kind: "transfer request", ID: string(id)}
	}
	return r.Clone(), nil
}

func (m *Memory) loadRequestByNumberLocked(number string) (*inventory.TransferRequest, error) {
	id, ok := m.numbers[number]
	if !ok {
		return nil, &inventory.NotFoundError{Kind: "transfer request", ID: number}
	}
	return m.loadRequestLocked(id)
}

// saveRequestLocked enforces request-number uniqueness the way a UNIQUE
// column would.
func (m *Memory) saveRequestLocked(r *inventory.TransferRequest) error {
	if owner, ok := m.numbers[r.RequestNumber]; ok && owner != r.ID {
		return fmt.Errorf("request number %s: %w", r.RequestNumber, inventory.ErrDuplicate)
	}
	m.requests[r.ID] = r.Clone()
	m.numbers[r.RequestNumber] = r.ID
	return nil
}

func (m *Memory) listRequestsLocked(filter inventory.TransferFilter) []*inventory.TransferRequest {
	var out []*inventory.TransferRequest
	for _, r := range m.requests {
		if filter.Match(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RequestNumber < out[j].RequestNumber
	})
	return out
}

func (m *Memory) appendMovementLocked(mv inventory.StockMovement) error {
	for _, existing := range m.movements[mv.BatchID] {
		if existing.ID == mv.ID {
			return fmt.Errorf("movement %s: %w", mv.ID, inventory.ErrDuplicate)
		}
	}
	m.movements[mv.BatchID] = append(m.movements[mv.BatchID], mv)
	return nil
}

func (m *Memory) movementsLocked(id inventory.BatchID) []inventory.StockMovement {
	result := make([]inventory.StockMovement, len(m.movements[id]))
	copy(result, m.movements[id])
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store lock.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	batches := make(map[inventory.BatchID]*inventory.Batch, len(tm.batches))
	for k, v := range tm.batches {
		batches[k] = v
	}
	requests := make(map[inventory.RequestID]*inventory.TransferRequest, len(tm.requests))
	for k, v := range tm.requests {
		requests[k] = v
	}
	numbers := make(map[string]inventory.RequestID, len(tm.numbers))
	for k, v := range tm.numbers {
		numbers[k] = v
	}
	movements := make(map[inventory.BatchID][]inventory.StockMovement, len(tm.movements))
	for k, v := range tm.movements {
		movements[k] = append([]inventory.StockMovement{}, v...)
	}
	return memorySnapshot{batches: batches, requests: requests, numbers: numbers, movements: movements}
}

// restore swaps the maps back. Stored values are never mutated in place
// (saves replace them with fresh clones) so the shallow map copy is enough.
func (tm *TxMemory) restore(s memorySnapshot) {
	tm.batches = s.batches
	tm.requests = s.requests
	tm.numbers = s.numbers
	tm.movements = s.movements
}

type memorySnapshot struct {
	batches   map[inventory.BatchID]*inventory.Batch
	requests  map[inventory.RequestID]*inventory.TransferRequest
	numbers   map[string]inventory.RequestID
	movements map[inventory.BatchID][]inventory.StockMovement
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it calls the locked helpers directly.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) LoadBatch(_ context.Context, id inventory.BatchID) (*inventory.Batch, error) {
	return tv.parent.loadBatchLocked(id)
}

func (tv *txMemoryView) SaveBatch(_ context.Context, b *inventory.Batch) error {
	return tv.parent.saveBatchLocked(b)
}

func (tv *txMemoryView) BatchExists(_ context.Context, batchCode string) (bool, error) {
	return tv.parent.batchExistsLocked(batchCode), nil
}

func (tv *txMemoryView) ListBatches(_ context.Context, filter inventory.BatchFilter) ([]*inventory.Batch, error) {
	return tv.parent.listBatchesLocked(filter), nil
}

func (tv *txMemoryView) LoadTransferRequest(_ context.Context, id inventory.RequestID) (*inventory.TransferRequest, error) {
	return tv.parent.loadRequestLocked(id)
}

func (tv *txMemoryView) LoadTransferRequestByNumber(_ context.Context, number string) (*inventory.TransferRequest, error) {
	return tv.parent.loadRequestByNumberLocked(number)
}

func (tv *txMemoryView) SaveTransferRequest(_ context.Context, r *inventory.TransferRequest) error {
	return tv.parent.saveRequestLocked(r)
}

func (tv *txMemoryView) RequestNumberExists(_ context.Context, number string) (bool, error) {
	_, ok := tv.parent.numbers[number]
	return ok, nil
}

func (tv *txMemoryView) ListTransferRequests(_ context.Context, filter inventory.TransferFilter) ([]*inventory.TransferRequest, error) {
	return tv.parent.listRequestsLocked(filter), nil
}

func (tv *txMemoryView) AppendMovement(_ context.Context, mv inventory.StockMovement) error {
	return tv.parent.appendMovementLocked(mv)
}

func (tv *txMemoryView) MovementsByBatch(_ context.Context, id inventory.BatchID) ([]inventory.StockMovement, error) {
	return tv.parent.movementsLocked(id), nil
}
