package usecase

import (
	"context"
	"time"

	domain "github.com/aq2208/storefront-api/internal/entity"
)

// UnitOfWork opens the transactional scope a single checkout runs in.
type UnitOfWork interface {
	Begin(ctx context.Context) (Unit, error)
}

// Unit is one open checkout scope. After Commit, Rollback must be a no-op.
type Unit interface {
	InsertOrder(ctx context.Context, o *domain.Order) (int64, error)
	InsertPayment(ctx context.Context, p *domain.Payment) (int64, error)
	InsertOrderLine(ctx context.Context, l *domain.OrderLine) (int64, error)

	// DecrementStock subtracts qty only if the product has at least qty
	// available, as one atomic statement. It returns the affected row count:
	// zero means insufficient stock (or an unknown product).
	DecrementStock(ctx context.Context, productID string, qty int) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CompensableStore is a store without multi-statement transactions: every
// call commits on its own, and each mutation has an inverse.
type CompensableStore interface {
	InsertOrder(ctx context.Context, o *domain.Order) (int64, error)
	InsertPayment(ctx context.Context, p *domain.Payment) (int64, error)
	InsertOrderLine(ctx context.Context, l *domain.OrderLine) (int64, error)
	DecrementStock(ctx context.Context, productID string, qty int) (int64, error)

	IncrementStock(ctx context.Context, productID string, qty int) error
	DeleteOrder(ctx context.Context, id int64) error
	DeletePayment(ctx context.Context, id int64) error
	DeleteOrderLine(ctx context.Context, id int64) error
}

type OrderReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetByTrackingCode(ctx context.Context, code string) (*domain.Order, error)
}

type StatusRepo interface {
	OrderReader
	// UpdateStatusIf applies the change only while the order is still in
	// fromStatus. false means nothing matched.
	UpdateStatusIf(ctx context.Context, id int64, fromStatus, toStatus domain.Status) (bool, error)
}

type OrderCache interface {
	SetStatus(ctx context.Context, trackingCode string, status domain.Status) error
	GetStatus(ctx context.Context, trackingCode string) (domain.Status, bool, error)
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	Release(ctx context.Context, scope, key string) error
}

type EventPublisher interface {
	PublishCreated(ctx context.Context, msg CreatedMsg) error
}

type CheckoutMetrics interface {
	ObserveCheckout(outcome string, d time.Duration)
	CompensationFailed()
	TrackingCollision()
}
