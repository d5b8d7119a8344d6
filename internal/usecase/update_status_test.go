package usecase

import (
	"context"
	"testing"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusRepoWith(st domain.Status) *fakeStatusRepo {
	return &fakeStatusRepo{orders: map[int64]*domain.Order{
		1: {ID: 1, TrackingCode: "PED-12345678abcd", Status: st},
	}}
}

func TestUpdateStatus_Applies(t *testing.T) {
	repo := statusRepoWith(domain.StatusPending)
	cache := newFakeCache()
	uc := NewUpdateStatus(repo, cache)

	require.NoError(t, uc.Execute(context.Background(), 1, domain.StatusProcessing))
	assert.Equal(t, domain.StatusProcessing, repo.orders[1].Status)
	assert.Equal(t, domain.StatusProcessing, cache.m["PED-12345678abcd"])
}

func TestUpdateStatus_RejectsForbiddenTransition(t *testing.T) {
	repo := statusRepoWith(domain.StatusDelivered)
	cache := newFakeCache()
	uc := NewUpdateStatus(repo, cache)

	err := uc.Execute(context.Background(), 1, domain.StatusPending)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.StatusDelivered, repo.orders[1].Status)
	assert.Zero(t, cache.sets)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	repo := statusRepoWith(domain.StatusShipped)
	uc := NewUpdateStatus(repo, nil)
	require.NoError(t, uc.Execute(context.Background(), 1, domain.StatusShipped))
}

func TestUpdateStatus_ConcurrentChange(t *testing.T) {
	repo := statusRepoWith(domain.StatusPending)
	repo.raceTo = domain.StatusCancelled
	uc := NewUpdateStatus(repo, nil)

	err := uc.Execute(context.Background(), 1, domain.StatusProcessing)
	require.ErrorIs(t, err, ErrStatusConflict)
	assert.Equal(t, domain.StatusCancelled, repo.orders[1].Status)
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	uc := NewUpdateStatus(statusRepoWith(domain.StatusPending), nil)
	require.ErrorIs(t, uc.Execute(context.Background(), 404, domain.StatusProcessing), ErrNotFound)
}
