package ivxp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryOrderStore is the default OrderStore. All mutations of a given order
// are linearized behind a single lock, so observers always see a monotone
// status sequence. The tx-hash index enforces global uniqueness.
type MemoryOrderStore struct {
	mu       sync.RWMutex
	orders   map[string]Order
	txHashes map[string]string // case-folded tx hash -> order id
}

// NewMemoryOrderStore creates an empty in-memory order store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders:   make(map[string]Order),
		txHashes: make(map[string]string),
	}
}

// Create persists a new order. Orders enter the store in quoted only.
func (s *MemoryOrderStore) Create(ctx context.Context, order Order) (Order, error) {
	if !IsValidOrderID(order.OrderID) {
		return Order{}, NewError(ErrCodeInvalidRequestParams, "invalid order id")
	}
	if order.Status == "" {
		order.Status = StatusQuoted
	}
	if order.Status != StatusQuoted {
		return Order{}, NewError(ErrCodeInvalidOrderStatus, fmt.Sprintf("orders are created in %s, not %s", StatusQuoted, order.Status))
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.OrderID]; exists {
		return Order{}, NewError(ErrCodeInvalidRequestParams, fmt.Sprintf("order %s already exists", order.OrderID))
	}
	if order.TxHash != "" {
		if err := s.claimTxHashLocked(order.TxHash, order.OrderID); err != nil {
			return Order{}, err
		}
	}
	s.orders[order.OrderID] = order
	return order, nil
}

// Get returns a copy of the order, or nil when unknown.
func (s *MemoryOrderStore) Get(ctx context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

// Update applies patch against the current snapshot. Status changes must
// follow the lifecycle DAG; a tx hash can be set at most once per order and
// must be globally unique.
func (s *MemoryOrderStore) Update(ctx context.Context, orderID string, patch OrderPatch) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return Order{}, NewError(ErrCodeOrderNotFound, fmt.Sprintf("order %s not found", orderID))
	}

	if patch.Status != nil && *patch.Status != order.Status {
		if !order.Status.CanTransition(*patch.Status) {
			return Order{}, NewError(ErrCodeInvalidOrderStatus,
				fmt.Sprintf("illegal transition %s -> %s", order.Status, *patch.Status))
		}
	}
	if patch.TxHash != nil && *patch.TxHash != "" {
		if order.TxHash != "" && !strings.EqualFold(order.TxHash, *patch.TxHash) {
			return Order{}, NewError(ErrCodePaymentVerificationFailed, "tx hash already set for order")
		}
		if order.TxHash == "" {
			if err := s.claimTxHashLocked(*patch.TxHash, orderID); err != nil {
				return Order{}, err
			}
		}
	}

	// All checks passed; apply.
	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if patch.TxHash != nil && *patch.TxHash != "" && order.TxHash == "" {
		order.TxHash = *patch.TxHash
	}
	if patch.ContentHash != nil {
		order.ContentHash = *patch.ContentHash
	}
	if patch.DeliveryEndpoint != nil {
		order.DeliveryEndpoint = *patch.DeliveryEndpoint
	}
	if patch.ConfirmedAt != nil {
		order.ConfirmedAt = patch.ConfirmedAt
	}
	s.orders[orderID] = order
	return order, nil
}

// List returns orders matching filter, in unspecified order.
func (s *MemoryOrderStore) List(ctx context.Context, filter OrderFilter) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Order
	for _, order := range s.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if filter.ServiceType != "" && order.ServiceType != filter.ServiceType {
			continue
		}
		if filter.ClientAddress != "" && !strings.EqualFold(order.ClientAddress, filter.ClientAddress) {
			continue
		}
		out = append(out, order)
	}
	return out, nil
}

// Delete removes an order, reporting whether it existed.
func (s *MemoryOrderStore) Delete(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return false, nil
	}
	if order.TxHash != "" {
		delete(s.txHashes, strings.ToLower(order.TxHash))
	}
	delete(s.orders, orderID)
	return true, nil
}

func (s *MemoryOrderStore) claimTxHashLocked(txHash, orderID string) error {
	key := strings.ToLower(txHash)
	if owner, taken := s.txHashes[key]; taken && owner != orderID {
		return NewError(ErrCodePaymentVerificationFailed, "transaction hash already used")
	}
	s.txHashes[key] = orderID
	return nil
}

// MemoryDeliverableStore is the default insert-only DeliverableStore.
type MemoryDeliverableStore struct {
	mu           sync.RWMutex
	deliverables map[string]Deliverable
}

// NewMemoryDeliverableStore creates an empty in-memory deliverable store.
func NewMemoryDeliverableStore() *MemoryDeliverableStore {
	return &MemoryDeliverableStore{deliverables: make(map[string]Deliverable)}
}

// Set stores the deliverable for orderID. Deliverables are immutable;
// a second Set for the same order is a protocol error.
func (s *MemoryDeliverableStore) Set(ctx context.Context, orderID string, d Deliverable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.deliverables[orderID]; exists {
		return NewError(ErrCodeDeliverableExists, fmt.Sprintf("deliverable for order %s already exists", orderID))
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.deliverables[orderID] = d
	return nil
}

// Get returns a copy of the deliverable, or nil when absent.
func (s *MemoryDeliverableStore) Get(ctx context.Context, orderID string) (*Deliverable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliverables[orderID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}
