package usecase

import (
	"context"
	"fmt"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/logging"
)

type UpdateStatus struct {
	repo  StatusRepo
	cache OrderCache
}

func NewUpdateStatus(repo StatusRepo, cache OrderCache) *UpdateStatus {
	return &UpdateStatus{repo: repo, cache: cache}
}

// Execute moves the order to status to. The write is guarded on the status
// read beforehand, so two racing updates cannot both apply.
func (uc *UpdateStatus) Execute(ctx context.Context, orderID int64, to domain.Status) error {
	o, err := uc.repo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == to {
		return nil
	}
	if !o.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	ok, err := uc.repo.UpdateStatusIf(ctx, orderID, o.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order %d", ErrStatusConflict, orderID)
	}

	log := logging.FromCtx(ctx)
	log.Info("order status updated", "order_id", orderID, "from", o.Status, "to", to)
	if uc.cache != nil {
		if err := uc.cache.SetStatus(ctx, o.TrackingCode, to); err != nil {
			log.Warn("status cache refresh failed", "order_id", orderID, "error", err)
		}
	}
	return nil
}
