package usecase

import (
	"context"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/logging"
)

type TrackingView struct {
	TrackingCode string        `json:"trackingCode"`
	Status       domain.Status `json:"status"`
}

type TrackOrder struct {
	repo  OrderReader
	cache OrderCache
}

func NewTrackOrder(repo OrderReader, cache OrderCache) *TrackOrder {
	return &TrackOrder{repo: repo, cache: cache}
}

func (uc *TrackOrder) Execute(ctx context.Context, code string) (TrackingView, error) {
	if !ValidTrackingCode(code) {
		return TrackingView{}, ErrMalformedTracking
	}
	log := logging.FromCtx(ctx)

	if uc.cache != nil {
		st, ok, err := uc.cache.GetStatus(ctx, code)
		if err != nil {
			log.Warn("status cache read failed", "tracking_code", code, "error", err)
		} else if ok {
			return TrackingView{TrackingCode: code, Status: st}, nil
		}
	}

	o, err := uc.repo.GetByTrackingCode(ctx, code)
	if err != nil {
		return TrackingView{}, err
	}
	if uc.cache != nil {
		if err := uc.cache.SetStatus(ctx, code, o.Status); err != nil {
			log.Warn("status cache write failed", "tracking_code", code, "error", err)
		}
	}
	return TrackingView{TrackingCode: code, Status: o.Status}, nil
}
