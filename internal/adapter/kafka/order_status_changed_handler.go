package kafka

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/logging"
	"github.com/aq2208/storefront-api/internal/usecase"
)

type StatusUpdater interface {
	Execute(ctx context.Context, orderID int64, to domain.Status) error
}

// OrderStatusChangedHandler applies status events from the back office.
type OrderStatusChangedHandler struct {
	updater StatusUpdater
}

func NewOrderStatusChangedHandler(updater StatusUpdater) *OrderStatusChangedHandler {
	return &OrderStatusChangedHandler{updater: updater}
}

// Handle returns ErrSkip for events that will never apply; a lost race
// (ErrStatusConflict) or a store outage is returned as is so it retries.
func (h *OrderStatusChangedHandler) Handle(ctx context.Context, ev usecase.OrderStatusChangedMsg) error {
	if ev.OrderID <= 0 {
		return fmt.Errorf("%w: order id %d", ErrSkip, ev.OrderID)
	}
	to, err := domain.ParseStatus(ev.Status)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSkip, err)
	}

	ctx = logging.WithCtx(ctx, logging.FromCtx(ctx).With("actor", ev.Actor))
	err = h.updater.Execute(ctx, ev.OrderID, to)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, usecase.ErrNotFound), errors.Is(err, usecase.ErrInvalidTransition):
		return fmt.Errorf("%w: %v", ErrSkip, err)
	}
	return err
}
