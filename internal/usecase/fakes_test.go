package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/shopspring/decimal"
)

var errBoom = errors.New("boom")

// fakeDB is an in-process store. It serves both as a CompensableStore and,
// through begin, as a native transactional backend.
type fakeDB struct {
	mu       sync.Mutex
	nextID   int64
	stock    map[string]int
	orders   map[int64]*domain.Order
	payments map[int64]*domain.Payment
	lines    map[int64]*domain.OrderLine
	codes    map[string]int64

	calls     int
	failOn    string // op that returns failWith, or errBoom
	failWith  error
	undoFails string // compensation op that returns errBoom
	beforeOp  func(op string)
}

func newFakeDB(stock map[string]int) *fakeDB {
	return &fakeDB{
		stock:    stock,
		orders:   map[int64]*domain.Order{},
		payments: map[int64]*domain.Payment{},
		lines:    map[int64]*domain.OrderLine{},
		codes:    map[string]int64{},
	}
}

func (db *fakeDB) enter(op string) error {
	db.calls++
	if db.beforeOp != nil {
		db.beforeOp(op)
	}
	if db.failOn == op {
		if db.failWith != nil {
			return fmt.Errorf("%s: %w", op, db.failWith)
		}
		return fmt.Errorf("%s: %w", op, errBoom)
	}
	return nil
}

func (db *fakeDB) undo(op string) error {
	if db.undoFails == op {
		return fmt.Errorf("%s: %w", op, errBoom)
	}
	return nil
}

func (db *fakeDB) id() int64 {
	db.nextID++
	return db.nextID
}

func (db *fakeDB) InsertOrder(_ context.Context, o *domain.Order) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("insert order"); err != nil {
		return 0, err
	}
	if _, dup := db.codes[o.TrackingCode]; dup {
		return 0, fmt.Errorf("duplicate tracking code %s: %w", o.TrackingCode, ErrDuplicateKey)
	}
	cp := *o
	cp.ID = db.id()
	db.orders[cp.ID] = &cp
	db.codes[cp.TrackingCode] = cp.ID
	return cp.ID, nil
}

func (db *fakeDB) InsertPayment(_ context.Context, p *domain.Payment) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("insert payment"); err != nil {
		return 0, err
	}
	cp := *p
	cp.ID = db.id()
	db.payments[cp.ID] = &cp
	return cp.ID, nil
}

func (db *fakeDB) InsertOrderLine(_ context.Context, l *domain.OrderLine) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("insert order line"); err != nil {
		return 0, err
	}
	cp := *l
	cp.ID = db.id()
	db.lines[cp.ID] = &cp
	return cp.ID, nil
}

func (db *fakeDB) DecrementStock(_ context.Context, productID string, qty int) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.enter("decrement stock"); err != nil {
		return 0, err
	}
	have, ok := db.stock[productID]
	if !ok || have < qty {
		return 0, nil
	}
	db.stock[productID] = have - qty
	return 1, nil
}

func (db *fakeDB) IncrementStock(_ context.Context, productID string, qty int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.undo("increment stock"); err != nil {
		return err
	}
	db.stock[productID] += qty
	return nil
}

func (db *fakeDB) DeleteOrder(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.undo("delete order"); err != nil {
		return err
	}
	if o, ok := db.orders[id]; ok {
		delete(db.codes, o.TrackingCode)
	}
	delete(db.orders, id)
	return nil
}

func (db *fakeDB) DeletePayment(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.undo("delete payment"); err != nil {
		return err
	}
	delete(db.payments, id)
	return nil
}

func (db *fakeDB) DeleteOrderLine(_ context.Context, id int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.undo("delete order line"); err != nil {
		return err
	}
	delete(db.lines, id)
	return nil
}

func (db *fakeDB) counts() (orders, payments, lines int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.orders), len(db.payments), len(db.lines)
}

func (db *fakeDB) stockOf(id string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.stock[id]
}

func (db *fakeDB) callCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.calls
}

// nativeTx mimics a database transaction on top of fakeDB: rollback always
// succeeds and leaves no trace.
type nativeTx struct {
	db       *fakeDB
	inner    *compensatingUnit
	beginErr error
	commits  int
	rolls    int
}

func (n *nativeTx) Begin(ctx context.Context) (Unit, error) {
	if n.beginErr != nil {
		return nil, n.beginErr
	}
	u, _ := NewCompensating(n.db).Begin(ctx)
	n.inner = u.(*compensatingUnit)
	return n, nil
}

func (n *nativeTx) InsertOrder(ctx context.Context, o *domain.Order) (int64, error) {
	return n.inner.InsertOrder(ctx, o)
}
func (n *nativeTx) InsertPayment(ctx context.Context, p *domain.Payment) (int64, error) {
	return n.inner.InsertPayment(ctx, p)
}
func (n *nativeTx) InsertOrderLine(ctx context.Context, l *domain.OrderLine) (int64, error) {
	return n.inner.InsertOrderLine(ctx, l)
}
func (n *nativeTx) DecrementStock(ctx context.Context, productID string, qty int) (int64, error) {
	return n.inner.DecrementStock(ctx, productID, qty)
}
func (n *nativeTx) Commit(ctx context.Context) error {
	n.db.mu.Lock()
	err := n.db.enter("commit")
	n.db.mu.Unlock()
	if err != nil {
		return err
	}
	n.commits++
	return n.inner.Commit(ctx)
}
func (n *nativeTx) Rollback(ctx context.Context) error {
	n.rolls++
	n.db.mu.Lock()
	saved := n.db.undoFails
	n.db.undoFails = ""
	n.db.mu.Unlock()
	err := n.inner.Rollback(ctx)
	n.db.mu.Lock()
	n.db.undoFails = saved
	n.db.mu.Unlock()
	return err
}

type seqCodes struct {
	mu    sync.Mutex
	codes []string
	n     int
}

func (s *seqCodes) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.codes[s.n%len(s.codes)]
	s.n++
	return c
}

type fakeMetrics struct {
	mu         sync.Mutex
	outcomes   []string
	compFailed int
	collisions int
}

func (m *fakeMetrics) ObserveCheckout(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}
func (m *fakeMetrics) CompensationFailed() { m.mu.Lock(); m.compFailed++; m.mu.Unlock() }
func (m *fakeMetrics) TrackingCollision()  { m.mu.Lock(); m.collisions++; m.mu.Unlock() }

type fakePublisher struct {
	mu   sync.Mutex
	msgs []CreatedMsg
	err  error
}

func (p *fakePublisher) PublishCreated(_ context.Context, msg CreatedMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cartOf(items ...domain.CartItem) domain.CheckoutRequest {
	return domain.CheckoutRequest{
		Customer:      domain.Customer{Name: "Ana Torres", Address: "Av. Arequipa 123", Phone: "999888777"},
		Items:         items,
		PaymentMethod: domain.PaymentCashOnDelivery,
	}
}

func item(id string, qty int, price string) domain.CartItem {
	return domain.CartItem{ProductID: id, Quantity: qty, UnitPrice: dec(price)}
}
