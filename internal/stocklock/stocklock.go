package stocklock

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"jastip/pkg/log"
)

var (
	// ErrInsufficientStock active reservations plus the requested
	// quantity would exceed available stock
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateOrderLock the order already holds a reservation
	ErrDuplicateOrderLock = errors.New("order already holds a stock lock")
	// ErrInvalidQuantity quantity must be positive
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

const shardCount = 32

// approximate heap cost of one lock entry plus its two map slots
const lockEntrySize = 96

// Lock an in-memory stock reservation
type Lock struct {
	ProductID uint64    `json:"product_id"`
	OrderID   uint64    `json:"order_id"`
	Quantity  int       `json:"quantity"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Active reports whether the reservation still counts toward stock.
// Expiry semantics live here and nowhere else: a lock past ExpiresAt
// is void even before the cleanup sweep physically removes it.
func (l *Lock) Active(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// StockReader reads committed stock from persistent storage
type StockReader interface {
	AvailableStock(ctx context.Context, productID uint64) (int, error)
}

// MemoryStats observability snapshot of the lock table
type MemoryStats struct {
	ActiveLocks      int   `json:"active_locks"`
	ExpiredUnswept   int   `json:"expired_unswept"`
	DistinctProducts int   `json:"distinct_products"`
	EstimatedBytes   int64 `json:"estimated_bytes"`
}

type shard struct {
	mu sync.Mutex
	// productID -> orderID -> lock
	locks map[uint64]map[uint64]*Lock
}

// Service owns the in-memory reservation table. Reservations are a
// fast path to reject oversold checkouts early, the persisted order
// and product rows remain the system of record.
//
// Locks are sharded by product so unrelated products never contend.
// The order index is guarded separately; lock ordering is shard then
// index, never the reverse.
type Service struct {
	stock  StockReader
	shards [shardCount]shard

	mu     sync.Mutex
	orders map[uint64]uint64 // orderID -> productID

	now func() time.Time
}

// NewService creates a stock lock service
func NewService(stock StockReader) *Service {
	s := &Service{
		stock:  stock,
		orders: make(map[uint64]uint64),
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i].locks = make(map[uint64]map[uint64]*Lock)
	}
	return s
}

func (s *Service) shardFor(productID uint64) *shard {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(productID >> (8 * i))
	}
	h.Write(buf[:])
	return &s.shards[h.Sum32()%shardCount]
}

// Acquire reserves quantity units of a product for an order. The
// check-and-reserve is atomic per product: concurrent acquires on the
// same product serialize on the shard mutex, so two checkouts can
// never both pass the availability check for the last unit.
//
// A second Acquire for the same order is rejected as a duplicate
// rather than merged or replaced.
func (s *Service) Acquire(ctx context.Context, productID, orderID uint64, quantity int, ttl time.Duration) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	// Claim the order slot first so duplicate submissions fail fast.
	s.mu.Lock()
	if _, exists := s.orders[orderID]; exists {
		s.mu.Unlock()
		return ErrDuplicateOrderLock
	}
	s.orders[orderID] = productID
	s.mu.Unlock()

	available, err := s.stock.AvailableStock(ctx, productID)
	if err != nil {
		s.removeOrderIndex(orderID)
		return err
	}

	now := s.now()
	sh := s.shardFor(productID)

	sh.mu.Lock()
	reserved := 0
	for _, l := range sh.locks[productID] {
		if l.Active(now) {
			reserved += l.Quantity
		}
	}

	if reserved+quantity > available {
		sh.mu.Unlock()
		s.removeOrderIndex(orderID)
		log.WithFields(map[string]interface{}{
			"product_id": productID,
			"order_id":   orderID,
			"requested":  quantity,
			"reserved":   reserved,
			"available":  available,
		}).Warn("Stock lock rejected, insufficient stock")
		return ErrInsufficientStock
	}

	if sh.locks[productID] == nil {
		sh.locks[productID] = make(map[uint64]*Lock)
	}
	sh.locks[productID][orderID] = &Lock{
		ProductID: productID,
		OrderID:   orderID,
		Quantity:  quantity,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	sh.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"product_id": productID,
		"order_id":   orderID,
		"quantity":   quantity,
		"ttl":        ttl.String(),
	}).Debug("Stock lock acquired")
	return nil
}

// Release removes the reservation held by an order. Releasing an
// absent or already expired lock is a successful no-op, handlers call
// this speculatively.
func (s *Service) Release(orderID uint64) {
	s.mu.Lock()
	productID, ok := s.orders[orderID]
	if ok {
		delete(s.orders, orderID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	sh := s.shardFor(productID)
	sh.mu.Lock()
	if byOrder, ok := sh.locks[productID]; ok {
		delete(byOrder, orderID)
		if len(byOrder) == 0 {
			delete(sh.locks, productID)
		}
	}
	sh.mu.Unlock()

	log.WithFields(map[string]interface{}{
		"product_id": productID,
		"order_id":   orderID,
	}).Debug("Stock lock released")
}

// Get returns the reservation held by an order, if any
func (s *Service) Get(orderID uint64) (*Lock, bool) {
	s.mu.Lock()
	productID, ok := s.orders[orderID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	sh := s.shardFor(productID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if byOrder, ok := sh.locks[productID]; ok {
		if l, ok := byOrder[orderID]; ok {
			copied := *l
			return &copied, true
		}
	}
	return nil, false
}

// ReservedQuantity sums active reservations for a product
func (s *Service) ReservedQuantity(productID uint64) int {
	now := s.now()
	sh := s.shardFor(productID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	total := 0
	for _, l := range sh.locks[productID] {
		if l.Active(now) {
			total += l.Quantity
		}
	}
	return total
}

// ActiveOrderIDs returns the orders currently holding active locks.
// Used by the reconciliation task to cross-check against order rows.
func (s *Service) ActiveOrderIDs() []uint64 {
	now := s.now()
	var ids []uint64

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, byOrder := range sh.locks {
			for orderID, l := range byOrder {
				if l.Active(now) {
					ids = append(ids, orderID)
				}
			}
		}
		sh.mu.Unlock()
	}
	return ids
}

// CleanupExpired sweeps the table and removes entries past their
// expiry. Returns the number removed. Called periodically, never on
// the checkout hot path.
func (s *Service) CleanupExpired() int {
	now := s.now()
	removed := 0

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for productID, byOrder := range sh.locks {
			for orderID, l := range byOrder {
				if !l.Active(now) {
					delete(byOrder, orderID)
					s.removeOrderIndex(orderID)
					removed++
				}
			}
			if len(byOrder) == 0 {
				delete(sh.locks, productID)
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 {
		log.WithFields(map[string]interface{}{
			"removed": removed,
		}).Info("Expired stock locks swept")
	}
	return removed
}

// GetMemoryStats returns an observability snapshot of the lock table
func (s *Service) GetMemoryStats() MemoryStats {
	now := s.now()
	stats := MemoryStats{}

	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, byOrder := range sh.locks {
			counted := false
			for _, l := range byOrder {
				if l.Active(now) {
					stats.ActiveLocks++
					counted = true
				} else {
					stats.ExpiredUnswept++
				}
			}
			if counted {
				stats.DistinctProducts++
			}
		}
		sh.mu.Unlock()
	}

	stats.EstimatedBytes = int64(stats.ActiveLocks+stats.ExpiredUnswept) * lockEntrySize
	return stats
}

func (s *Service) removeOrderIndex(orderID uint64) {
	s.mu.Lock()
	delete(s.orders, orderID)
	s.mu.Unlock()
}
