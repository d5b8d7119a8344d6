package repo

import (
	"context"
	"errors"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/usecase"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// pgConn is the part of *pgxpool.Pool the repository needs.
type pgConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgOrderRepo stores orders in Postgres. Money travels as text and is cast
// to numeric server-side, so no pgtype codec is needed for decimal.
type PgOrderRepo struct{ db pgConn }

func NewPgOrderRepo(pool *pgxpool.Pool) *PgOrderRepo { return &PgOrderRepo{db: pool} }

func (r *PgOrderRepo) Begin(ctx context.Context) (usecase.Unit, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, pgErr("begin", err)
	}
	return &pgUnit{tx: tx}, nil
}

type pgUnit struct{ tx pgx.Tx }

func (u *pgUnit) InsertOrder(ctx context.Context, o *domain.Order) (int64, error) {
	var id int64
	err := u.tx.QueryRow(ctx, `
INSERT INTO orders (user_id,tracking_code,total,customer_name,shipping_address,phone,tax_id,email,channel,status)
VALUES ($1,$2,$3::numeric,$4,$5,$6,$7,$8,$9,$10)
RETURNING id`, o.UserID, o.TrackingCode, o.Total.String(), o.CustomerName, o.ShippingAddress, o.Phone,
		o.TaxID, o.Email, string(o.Channel), string(o.Status)).Scan(&id)
	if err != nil {
		return 0, pgErr("insert order", err)
	}
	return id, nil
}

func (u *pgUnit) InsertPayment(ctx context.Context, p *domain.Payment) (int64, error) {
	var id int64
	err := u.tx.QueryRow(ctx, `
INSERT INTO payments (order_id,amount,method,operation_reference,evidence_url,status)
VALUES ($1,$2::numeric,$3,$4,$5,$6)
RETURNING id`, p.OrderID, p.Amount.String(), string(p.Method), p.OperationReference, p.EvidenceURL,
		string(p.Status)).Scan(&id)
	if err != nil {
		return 0, pgErr("insert payment", err)
	}
	return id, nil
}

func (u *pgUnit) InsertOrderLine(ctx context.Context, l *domain.OrderLine) (int64, error) {
	var id int64
	err := u.tx.QueryRow(ctx, `
INSERT INTO order_lines (order_id,product_id,quantity,unit_price,subtotal)
VALUES ($1,$2,$3,$4::numeric,$5::numeric)
RETURNING id`, l.OrderID, l.ProductID, l.Quantity, l.UnitPrice.String(), l.Subtotal.String()).Scan(&id)
	if err != nil {
		return 0, pgErr("insert order line", err)
	}
	return id, nil
}

func (u *pgUnit) DecrementStock(ctx context.Context, productID string, qty int) (int64, error) {
	tag, err := u.tx.Exec(ctx, `
UPDATE products SET stock = stock - $1, updated_at = now()
WHERE id = $2 AND stock >= $1`, qty, productID)
	if err != nil {
		return 0, pgErr("decrement stock", err)
	}
	return tag.RowsAffected(), nil
}

func (u *pgUnit) Commit(ctx context.Context) error {
	return pgErr("commit", u.tx.Commit(ctx))
}

func (u *pgUnit) Rollback(ctx context.Context) error {
	err := u.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return pgErr("rollback", err)
}

func (r *PgOrderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return scanPgOrder(r.db.QueryRow(ctx, selectPgOrder+` WHERE id=$1`, id))
}

func (r *PgOrderRepo) GetByTrackingCode(ctx context.Context, code string) (*domain.Order, error) {
	return scanPgOrder(r.db.QueryRow(ctx, selectPgOrder+` WHERE tracking_code=$1`, code))
}

const selectPgOrder = `
SELECT id,user_id,tracking_code,total::text,customer_name,shipping_address,phone,tax_id,email,channel,status
FROM orders`

func scanPgOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o       domain.Order
		total   string
		channel string
		status  string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.TrackingCode, &total, &o.CustomerName, &o.ShippingAddress,
		&o.Phone, &o.TaxID, &o.Email, &channel, &status)
	if err != nil {
		return nil, pgErr("get order", err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, pgErr("get order", err)
	}
	o.Channel = domain.Channel(channel)
	o.Status = domain.Status(status)
	return &o, nil
}

func (r *PgOrderRepo) UpdateStatusIf(ctx context.Context, id int64, fromStatus, toStatus domain.Status) (bool, error) {
	tag, err := r.db.Exec(ctx, `
UPDATE orders SET status = $1, updated_at = now()
WHERE id = $2 AND status = $3`, string(toStatus), id, string(fromStatus))
	if err != nil {
		return false, pgErr("update status", err)
	}
	return tag.RowsAffected() > 0, nil
}

var (
	_ usecase.UnitOfWork = (*PgOrderRepo)(nil)
	_ usecase.StatusRepo = (*PgOrderRepo)(nil)
)
