package usecase

import (
	"context"
	"sync"

	domain "github.com/aq2208/storefront-api/internal/entity"
)

type fakeStatusRepo struct {
	mu     sync.Mutex
	orders map[int64]*domain.Order
	err    error
	// raceTo simulates another writer landing between the read and the write.
	raceTo domain.Status
}

func (r *fakeStatusRepo) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *fakeStatusRepo) GetByTrackingCode(_ context.Context, code string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, o := range r.orders {
		if o.TrackingCode == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeStatusRepo) UpdateStatusIf(_ context.Context, id int64, from, to domain.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return false, nil
	}
	if r.raceTo != "" {
		o.Status = r.raceTo
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

type fakeCache struct {
	mu     sync.Mutex
	m      map[string]domain.Status
	getErr error
	sets   int
}

func newFakeCache() *fakeCache { return &fakeCache{m: map[string]domain.Status{}} }

func (c *fakeCache) SetStatus(_ context.Context, code string, st domain.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.m[code] = st
	return nil
}

func (c *fakeCache) GetStatus(_ context.Context, code string) (domain.Status, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	st, ok := c.m[code]
	return st, ok, nil
}

type fakeIdem struct {
	mu       sync.Mutex
	locks    map[string]bool
	vals     map[string]string
	released []string
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{locks: map[string]bool{}, vals: map[string]string{}}
}

func (f *fakeIdem) TryLock(_ context.Context, scope, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := scope + ":" + key
	if f.locks[k] {
		return false, nil
	}
	f.locks[k] = true
	return true, nil
}

func (f *fakeIdem) Remember(_ context.Context, scope, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[scope+":"+key] = value
	return nil
}

func (f *fakeIdem) Recall(_ context.Context, scope, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vals[scope+":"+key]
	return v, ok, nil
}

func (f *fakeIdem) Release(_ context.Context, scope, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, scope+":"+key)
	f.released = append(f.released, scope+":"+key)
	return nil
}
