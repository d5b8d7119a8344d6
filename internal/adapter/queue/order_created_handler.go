package queue

import (
	"context"
	"fmt"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/logging"
	"github.com/aq2208/storefront-api/internal/usecase"
)

// StatusWarmer sets a status only if none is cached yet.
type StatusWarmer interface {
	WarmStatus(ctx context.Context, trackingCode string, status domain.Status) (bool, error)
}

// OrderCreatedHandler seeds the tracking cache so the first status lookup
// after checkout does not hit the database.
type OrderCreatedHandler struct {
	cache StatusWarmer
}

func NewOrderCreatedHandler(cache StatusWarmer) *OrderCreatedHandler {
	return &OrderCreatedHandler{cache: cache}
}

// HandleCreated is intended to be used with the JSON adapter (queue.JSONHandler[CreatedMsg]).
func (h *OrderCreatedHandler) HandleCreated(ctx context.Context, msg usecase.CreatedMsg) error {
	if !usecase.ValidTrackingCode(msg.TrackingCode) {
		return fmt.Errorf("%w: tracking code %q", ErrPoison, msg.TrackingCode)
	}
	st, err := domain.ParseStatus(msg.Status)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPoison, err)
	}
	warmed, err := h.cache.WarmStatus(ctx, msg.TrackingCode, st)
	if err != nil {
		return err
	}
	logging.FromCtx(ctx).Debug("tracking cache warm", "order_id", msg.OrderID, "tracking_code", msg.TrackingCode, "applied", warmed)
	return nil
}
