package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	uow  func(db *fakeDB) UnitOfWork
}

var backends = []backend{
	{"native", func(db *fakeDB) UnitOfWork { return &nativeTx{db: db} }},
	{"compensating", func(db *fakeDB) UnitOfWork { return NewCompensating(db) }},
}

func onlyOrder(t *testing.T, db *fakeDB) *domain.Order {
	t.Helper()
	db.mu.Lock()
	defer db.mu.Unlock()
	require.Len(t, db.orders, 1)
	for _, o := range db.orders {
		return o
	}
	return nil
}

func TestCheckout_PlacesOrder(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := newFakeDB(map[string]int{"P1": 5})
			uc := NewCheckout(b.uow(db), NewTrackingCodes(""))

			conf, err := uc.Execute(context.Background(), cartOf(item("P1", 2, "10.00")))
			require.NoError(t, err)

			assert.True(t, conf.Total.Equal(dec("20.00")))
			assert.True(t, ValidTrackingCode(conf.TrackingCode), conf.TrackingCode)
			assert.Equal(t, 3, db.stockOf("P1"))

			o := onlyOrder(t, db)
			assert.Equal(t, conf.OrderID, o.ID)
			assert.Equal(t, conf.TrackingCode, o.TrackingCode)
			assert.Equal(t, domain.StatusPending, o.Status)
			assert.Equal(t, domain.ChannelGuest, o.Channel)
			assert.Nil(t, o.UserID)

			orders, payments, lines := db.counts()
			assert.Equal(t, 1, orders)
			assert.Equal(t, 1, payments)
			assert.Equal(t, 1, lines)
			for _, p := range db.payments {
				assert.Equal(t, o.ID, p.OrderID)
				assert.True(t, p.Amount.Equal(dec("20.00")))
				assert.Equal(t, domain.PaymentPending, p.Status)
			}
			for _, l := range db.lines {
				assert.Equal(t, "P1", l.ProductID)
				assert.True(t, l.Subtotal.Equal(dec("20.00")))
			}
		})
	}
}

func TestCheckout_InsufficientStock(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := newFakeDB(map[string]int{"P1": 5})
			uc := NewCheckout(b.uow(db), NewTrackingCodes(""))

			_, err := uc.Execute(context.Background(), cartOf(item("P1", 10, "10.00")))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInsufficientStock))

			var ce *CheckoutError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "P1", ce.ProductID)
			assert.NoError(t, ce.RollbackErr)

			assert.Equal(t, 5, db.stockOf("P1"))
			orders, payments, lines := db.counts()
			assert.Zero(t, orders+payments+lines)
		})
	}
}

func TestCheckout_LaterItemShortRestoresEarlierStock(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := newFakeDB(map[string]int{"P1": 5, "P2": 1})
			uc := NewCheckout(b.uow(db), NewTrackingCodes(""))

			_, err := uc.Execute(context.Background(), cartOf(item("P1", 2, "3.00"), item("P2", 2, "4.00")))
			require.ErrorIs(t, err, ErrInsufficientStock)

			var ce *CheckoutError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "P2", ce.ProductID)
			assert.Equal(t, 5, db.stockOf("P1"))
			assert.Equal(t, 1, db.stockOf("P2"))
			orders, payments, lines := db.counts()
			assert.Zero(t, orders+payments+lines)
		})
	}
}

func TestCheckout_UnknownProductIsInsufficientStock(t *testing.T) {
	db := newFakeDB(map[string]int{})
	uc := NewCheckout(NewCompensating(db), NewTrackingCodes(""))

	_, err := uc.Execute(context.Background(), cartOf(item("ghost", 1, "1.00")))
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestCheckout_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 5})
	uc := NewCheckout(NewCompensating(db), NewTrackingCodes(""))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = uc.Execute(context.Background(), cartOf(item("P1", 3, "10.00")))
		}(i)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 2, db.stockOf("P1"))
	orders, _, _ := db.counts()
	assert.Equal(t, 1, orders)
}

func TestCheckout_ManyConcurrentBuyers(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 7})
	uc := NewCheckout(NewCompensating(db), NewTrackingCodes(""))

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := uc.Execute(context.Background(), cartOf(item("P1", 1, "2.50"))); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, won)
	assert.Equal(t, 0, db.stockOf("P1"))
}

func TestCheckout_ValidationHasNoSideEffects(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 5})
	tx := &nativeTx{db: db}
	m := &fakeMetrics{}
	uc := NewCheckout(tx, NewTrackingCodes(""), WithMetrics(m))

	_, err := uc.Execute(context.Background(), cartOf())
	require.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)

	assert.Nil(t, tx.inner, "no unit should be opened")
	assert.Zero(t, db.callCount())
	assert.Equal(t, []string{"validation_error"}, m.outcomes)
}

func TestCheckout_StepFailureUndoesEverything(t *testing.T) {
	steps := []string{"insert order", "insert payment", "decrement stock", "insert order line"}
	for _, b := range backends {
		for _, step := range steps {
			t.Run(b.name+"/"+step, func(t *testing.T) {
				db := newFakeDB(map[string]int{"P1": 5, "P2": 5})
				db.failOn = step
				uc := NewCheckout(b.uow(db), NewTrackingCodes(""))

				_, err := uc.Execute(context.Background(), cartOf(item("P1", 1, "1.00"), item("P2", 2, "2.00")))
				require.ErrorIs(t, err, ErrInternal)
				assert.ErrorIs(t, err, errBoom)

				var ce *CheckoutError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, step, ce.Op)

				assert.Equal(t, 5, db.stockOf("P1"))
				assert.Equal(t, 5, db.stockOf("P2"))
				orders, payments, lines := db.counts()
				assert.Zero(t, orders+payments+lines)
			})
		}
	}
}

func TestCheckout_CommitFailureRollsBack(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 5})
	db.failOn = "commit"
	tx := &nativeTx{db: db}
	uc := NewCheckout(tx, NewTrackingCodes(""))

	_, err := uc.Execute(context.Background(), cartOf(item("P1", 2, "1.00")))
	require.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, 1, tx.rolls)
	assert.Equal(t, 5, db.stockOf("P1"))
	orders, payments, lines := db.counts()
	assert.Zero(t, orders+payments+lines)
}

func TestCheckout_BeginFailure(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 5})
	uc := NewCheckout(&nativeTx{db: db, beginErr: errBoom}, NewTrackingCodes(""))

	_, err := uc.Execute(context.Background(), cartOf(item("P1", 1, "1.00")))
	require.ErrorIs(t, err, ErrInternal)
	assert.Zero(t, db.callCount())
}

func TestCheckout_CompensationFailureIsReported(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 5})
	db.failOn = "insert order line"
	db.undoFails = "increment stock"
	m := &fakeMetrics{}
	uc := NewCheckout(NewCompensating(db), NewTrackingCodes(""), WithMetrics(m))

	_, err := uc.Execute(context.Background(), cartOf(item("P1", 2, "1.00")))
	require.ErrorIs(t, err, ErrInternal)

	var ce *CheckoutError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "insert order line", ce.Op)
	require.Error(t, ce.RollbackErr)
	assert.ErrorIs(t, ce.RollbackErr, errBoom)
	assert.Contains(t, err.Error(), "rollback incomplete")

	// the remaining steps still ran
	orders, payments, _ := db.counts()
	assert.Zero(t, orders+payments)
	assert.Equal(t, 3, db.stockOf("P1"))
	assert.Equal(t, 1, m.compFailed)
}

func TestCheckout_TrackingCollisionRetries(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 5})
	db.codes["PED-00000001aaaa"] = 999
	codes := &seqCodes{codes: []string{"PED-00000001aaaa", "PED-00000002bbbb"}}
	m := &fakeMetrics{}
	uc := NewCheckout(NewCompensating(db), codes, WithMetrics(m))

	conf, err := uc.Execute(context.Background(), cartOf(item("P1", 1, "1.00")))
	require.NoError(t, err)
	assert.Equal(t, "PED-00000002bbbb", conf.TrackingCode)
	assert.Equal(t, 1, m.collisions)
	assert.Equal(t, 4, db.stockOf("P1"))
	assert.Equal(t, []string{"success"}, m.outcomes)
}

func TestCheckout_TrackingCollisionExhausted(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := newFakeDB(map[string]int{"P1": 5})
			db.codes["PED-00000001aaaa"] = 999
			m := &fakeMetrics{}
			uc := NewCheckout(b.uow(db), &seqCodes{codes: []string{"PED-00000001aaaa"}}, WithMetrics(m))

			_, err := uc.Execute(context.Background(), cartOf(item("P1", 1, "1.00")))
			require.ErrorIs(t, err, ErrInternal)
			assert.ErrorIs(t, err, errTrackingExhausted)
			assert.ErrorIs(t, err, ErrDuplicateKey)
			assert.Equal(t, defaultTrackingAttempts, m.collisions)
			assert.Equal(t, 5, db.stockOf("P1"))
			assert.Equal(t, []string{"internal_error"}, m.outcomes)
		})
	}
}

func TestCheckout_ForeignKeyViolationIsNotRetried(t *testing.T) {
	errFK := errors.New("fk_orders_user: referenced row missing")
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := newFakeDB(map[string]int{"P1": 5})
			db.failOn = "insert order"
			db.failWith = fmt.Errorf("%w: %w", ErrConstraintViolation, errFK)
			codes := &seqCodes{codes: []string{"PED-00000001aaaa", "PED-00000002bbbb"}}
			m := &fakeMetrics{}
			uc := NewCheckout(b.uow(db), codes, WithMetrics(m), WithGuestAccount(1))

			_, err := uc.Execute(context.Background(), cartOf(item("P1", 1, "1.00")))
			require.ErrorIs(t, err, ErrInternal)
			assert.ErrorIs(t, err, errFK)
			assert.ErrorIs(t, err, ErrConstraintViolation)
			assert.NotErrorIs(t, err, errTrackingExhausted)
			assert.Zero(t, m.collisions)
			assert.Equal(t, 1, codes.n)
		})
	}
}

func TestCheckout_CancelledContextStillRollsBack(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db := newFakeDB(map[string]int{"P1": 5})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			db.beforeOp = func(op string) {
				if op == "insert order line" {
					cancel()
				}
			}
			uc := NewCheckout(b.uow(db), NewTrackingCodes(""))

			_, err := uc.Execute(ctx, cartOf(item("P1", 2, "1.00")))
			require.ErrorIs(t, err, ErrInternal)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, 5, db.stockOf("P1"))
			orders, payments, lines := db.counts()
			assert.Zero(t, orders+payments+lines)
		})
	}
}

func TestCheckout_Timeout(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 5})
	db.beforeOp = func(string) { time.Sleep(2 * time.Millisecond) }
	uc := NewCheckout(NewCompensating(db), NewTrackingCodes(""), WithTimeout(time.Millisecond))

	_, err := uc.Execute(context.Background(), cartOf(item("P1", 2, "1.00")))
	require.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 5, db.stockOf("P1"))
}

func TestCheckout_IgnoresClientTotal(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 10})
	uc := NewCheckout(NewCompensating(db), NewTrackingCodes(""))

	req := cartOf(item("P1", 3, "0.335"), item("P1", 2, "10.00"))
	wrong := dec("1.00")
	req.ClientTotal = &wrong

	conf, err := uc.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "21.01", conf.Total.StringFixed(2))
	assert.True(t, onlyOrder(t, db).Total.Equal(dec("21.01")))
	assert.Equal(t, 5, db.stockOf("P1"))
}

func TestCheckout_AccountAndGuestOwnership(t *testing.T) {
	uid := int64(7)

	db := newFakeDB(map[string]int{"P1": 5})
	uc := NewCheckout(NewCompensating(db), NewTrackingCodes(""))
	req := cartOf(item("P1", 1, "1.00"))
	req.UserID = &uid
	_, err := uc.Execute(context.Background(), req)
	require.NoError(t, err)
	o := onlyOrder(t, db)
	require.NotNil(t, o.UserID)
	assert.Equal(t, uid, *o.UserID)
	assert.Equal(t, domain.ChannelAccount, o.Channel)

	db = newFakeDB(map[string]int{"P1": 5})
	uc = NewCheckout(NewCompensating(db), NewTrackingCodes(""), WithGuestAccount(1))
	_, err = uc.Execute(context.Background(), cartOf(item("P1", 1, "1.00")))
	require.NoError(t, err)
	o = onlyOrder(t, db)
	require.NotNil(t, o.UserID)
	assert.Equal(t, int64(1), *o.UserID)
	assert.Equal(t, domain.ChannelGuest, o.Channel)
}

func TestCheckout_PublishesAfterCommit(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 5})
	pub := &fakePublisher{err: errBoom}
	uc := NewCheckout(NewCompensating(db), NewTrackingCodes(""), WithEvents(pub))

	conf, err := uc.Execute(context.Background(), cartOf(item("P1", 2, "4.50")))
	require.NoError(t, err, "publish failures must not fail the checkout")
	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, conf.OrderID, msg.OrderID)
	assert.Equal(t, conf.TrackingCode, msg.TrackingCode)
	assert.Equal(t, "9.00", msg.Total)
	assert.Equal(t, "pending", msg.Status)
	assert.NotEmpty(t, msg.EventID)

	_, err = uc.Execute(context.Background(), cartOf(item("P1", 9, "4.50")))
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Len(t, pub.msgs, 1)
}

func TestCheckout_MetricsOutcomes(t *testing.T) {
	db := newFakeDB(map[string]int{"P1": 1})
	m := &fakeMetrics{}
	uc := NewCheckout(NewCompensating(db), NewTrackingCodes(""), WithMetrics(m))

	_, _ = uc.Execute(context.Background(), cartOf(item("P1", 1, "1.00")))
	_, _ = uc.Execute(context.Background(), cartOf(item("P1", 1, "1.00")))
	db.failOn = "insert order"
	_, _ = uc.Execute(context.Background(), cartOf(item("P1", 1, "1.00")))

	assert.Equal(t, []string{"success", "insufficient_stock", "internal_error"}, m.outcomes)
}

func TestCheckoutError_Is(t *testing.T) {
	err := error(stockErr("P9"))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrInternal)
	assert.Equal(t, "decrement stock: insufficient stock (product P9)", err.Error())

	wrapped := internalErr("insert order", errBoom)
	assert.ErrorIs(t, wrapped, ErrInternal)
	assert.ErrorIs(t, wrapped, errBoom)
}
