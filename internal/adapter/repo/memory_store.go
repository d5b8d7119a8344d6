package repo

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/usecase"
)

// MemoryStore keeps everything in process. Each call commits on its own,
// so the checkout runs it through usecase.NewCompensating.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	stock    map[string]int
	orders   map[int64]*domain.Order
	byCode   map[string]int64
	payments map[int64]*domain.Payment
	lines    map[int64]*domain.OrderLine
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stock:    map[string]int{},
		orders:   map[int64]*domain.Order{},
		byCode:   map[string]int64{},
		payments: map[int64]*domain.Payment{},
		lines:    map[int64]*domain.OrderLine{},
	}
}

func (s *MemoryStore) SetStock(productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] = qty
}

func (s *MemoryStore) Stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[productID]
}

func (s *MemoryStore) Counts() (orders, payments, lines int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders), len(s.payments), len(s.lines)
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) InsertOrder(ctx context.Context, o *domain.Order) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byCode[o.TrackingCode]; dup {
		return 0, fmt.Errorf("insert order: %w: tracking code %s", usecase.ErrDuplicateKey, o.TrackingCode)
	}
	cp := *o
	cp.ID = s.id()
	s.orders[cp.ID] = &cp
	s.byCode[cp.TrackingCode] = cp.ID
	return cp.ID, nil
}

func (s *MemoryStore) InsertPayment(ctx context.Context, p *domain.Payment) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[p.OrderID]; !ok {
		return 0, fmt.Errorf("insert payment: %w: order %d", usecase.ErrConstraintViolation, p.OrderID)
	}
	cp := *p
	cp.ID = s.id()
	s.payments[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) InsertOrderLine(ctx context.Context, l *domain.OrderLine) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[l.OrderID]; !ok {
		return 0, fmt.Errorf("insert order line: %w: order %d", usecase.ErrConstraintViolation, l.OrderID)
	}
	cp := *l
	cp.ID = s.id()
	s.lines[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) DecrementStock(ctx context.Context, productID string, qty int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	have, ok := s.stock[productID]
	if !ok || have < qty {
		return 0, nil
	}
	s.stock[productID] = have - qty
	return 1, nil
}

// Inverse operations ignore ctx cancellation; they run during rollback.

func (s *MemoryStore) IncrementStock(_ context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] += qty
	return nil
}

func (s *MemoryStore) DeleteOrder(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		delete(s.byCode, o.TrackingCode)
		delete(s.orders, id)
	}
	return nil
}

func (s *MemoryStore) DeletePayment(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payments, id)
	return nil
}

func (s *MemoryStore) DeleteOrderLine(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, id)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("get order: %w", usecase.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetByTrackingCode(ctx context.Context, code string) (*domain.Order, error) {
	s.mu.Lock()
	id, ok := s.byCode[code]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("get order: %w", usecase.ErrNotFound)
	}
	return s.GetByID(ctx, id)
}

func (s *MemoryStore) UpdateStatusIf(_ context.Context, id int64, fromStatus, toStatus domain.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != fromStatus {
		return false, nil
	}
	o.Status = toStatus
	return true, nil
}

var (
	_ usecase.CompensableStore = (*MemoryStore)(nil)
	_ usecase.StatusRepo       = (*MemoryStore)(nil)
)
