package usecase

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/logging"
)

// Compensating turns a CompensableStore into a UnitOfWork. Each applied
// mutation pushes its inverse; Rollback replays them newest first.
type Compensating struct {
	store CompensableStore
}

func NewCompensating(store CompensableStore) *Compensating {
	return &Compensating{store: store}
}

func (c *Compensating) Begin(context.Context) (Unit, error) {
	return &compensatingUnit{store: c.store}, nil
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

type compensatingUnit struct {
	store CompensableStore
	undo  []undoStep
	done  bool
}

func (u *compensatingUnit) push(name string, fn func(ctx context.Context) error) {
	u.undo = append(u.undo, undoStep{name: name, fn: fn})
}

func (u *compensatingUnit) InsertOrder(ctx context.Context, o *domain.Order) (int64, error) {
	id, err := u.store.InsertOrder(ctx, o)
	if err != nil {
		return 0, err
	}
	u.push(fmt.Sprintf("delete order %d", id), func(ctx context.Context) error {
		return u.store.DeleteOrder(ctx, id)
	})
	return id, nil
}

func (u *compensatingUnit) InsertPayment(ctx context.Context, p *domain.Payment) (int64, error) {
	id, err := u.store.InsertPayment(ctx, p)
	if err != nil {
		return 0, err
	}
	u.push(fmt.Sprintf("delete payment %d", id), func(ctx context.Context) error {
		return u.store.DeletePayment(ctx, id)
	})
	return id, nil
}

func (u *compensatingUnit) InsertOrderLine(ctx context.Context, l *domain.OrderLine) (int64, error) {
	id, err := u.store.InsertOrderLine(ctx, l)
	if err != nil {
		return 0, err
	}
	u.push(fmt.Sprintf("delete order line %d", id), func(ctx context.Context) error {
		return u.store.DeleteOrderLine(ctx, id)
	})
	return id, nil
}

func (u *compensatingUnit) DecrementStock(ctx context.Context, productID string, qty int) (int64, error) {
	n, err := u.store.DecrementStock(ctx, productID, qty)
	if err != nil || n == 0 {
		return n, err
	}
	u.push(fmt.Sprintf("restock %s x%d", productID, qty), func(ctx context.Context) error {
		return u.store.IncrementStock(ctx, productID, qty)
	})
	return n, nil
}

func (u *compensatingUnit) Commit(context.Context) error {
	u.undo = nil
	u.done = true
	return nil
}

// Rollback runs every compensation even if some fail; failures are logged
// and returned together.
func (u *compensatingUnit) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true

	log := logging.FromCtx(ctx)
	var errs []error
	for i := len(u.undo) - 1; i >= 0; i-- {
		step := u.undo[i]
		if err := step.fn(ctx); err != nil {
			log.Warn("compensation step failed", "step", step.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			continue
		}
		log.Debug("compensation step applied", "step", step.name)
	}
	u.undo = nil
	return errors.Join(errs...)
}

var _ UnitOfWork = (*Compensating)(nil)
var _ Unit = (*compensatingUnit)(nil)
