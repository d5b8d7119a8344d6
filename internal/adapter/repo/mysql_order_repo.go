package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/aq2208/storefront-api/internal/entity"
	"github.com/aq2208/storefront-api/internal/usecase"
)

type MySQLOrderRepo struct{ db *sql.DB }

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo { return &MySQLOrderRepo{db: db} }

func (r *MySQLOrderRepo) Begin(ctx context.Context) (usecase.Unit, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mysqlErr("begin", err)
	}
	return &mysqlUnit{tx: tx}, nil
}

type mysqlUnit struct{ tx *sql.Tx }

func (u *mysqlUnit) InsertOrder(ctx context.Context, o *domain.Order) (int64, error) {
	res, err := u.tx.ExecContext(ctx, `
INSERT INTO orders (user_id,tracking_code,total,customer_name,shipping_address,phone,tax_id,email,channel,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,NOW(),NOW())
`, nullableID(o.UserID), o.TrackingCode, o.Total, o.CustomerName, o.ShippingAddress, o.Phone,
		o.TaxID, o.Email, string(o.Channel), string(o.Status))
	if err != nil {
		return 0, mysqlErr("insert order", err)
	}
	return lastID("insert order", res)
}

func (u *mysqlUnit) InsertPayment(ctx context.Context, p *domain.Payment) (int64, error) {
	res, err := u.tx.ExecContext(ctx, `
INSERT INTO payments (order_id,amount,method,operation_reference,evidence_url,status,created_at)
VALUES (?,?,?,?,?,?,NOW())
`, p.OrderID, p.Amount, string(p.Method), p.OperationReference, p.EvidenceURL, string(p.Status))
	if err != nil {
		return 0, mysqlErr("insert payment", err)
	}
	return lastID("insert payment", res)
}

func (u *mysqlUnit) InsertOrderLine(ctx context.Context, l *domain.OrderLine) (int64, error) {
	res, err := u.tx.ExecContext(ctx, `
INSERT INTO order_lines (order_id,product_id,quantity,unit_price,subtotal)
VALUES (?,?,?,?,?)
`, l.OrderID, l.ProductID, l.Quantity, l.UnitPrice, l.Subtotal)
	if err != nil {
		return 0, mysqlErr("insert order line", err)
	}
	return lastID("insert order line", res)
}

// DecrementStock relies on the row lock taken by the UPDATE: the WHERE
// clause is re-evaluated after any concurrent writer commits.
func (u *mysqlUnit) DecrementStock(ctx context.Context, productID string, qty int) (int64, error) {
	res, err := u.tx.ExecContext(ctx, `
UPDATE products SET stock = stock - ?, updated_at = NOW()
WHERE id = ? AND stock >= ?`, qty, productID, qty)
	if err != nil {
		return 0, mysqlErr("decrement stock", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, mysqlErr("decrement stock", err)
	}
	return rows, nil
}

func (u *mysqlUnit) Commit(context.Context) error {
	return mysqlErr("commit", u.tx.Commit())
}

func (u *mysqlUnit) Rollback(context.Context) error {
	err := u.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		// already committed, or aborted by context cancellation
		return nil
	}
	return mysqlErr("rollback", err)
}

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.scanOrder(r.db.QueryRowContext(ctx, selectOrder+` WHERE id=?`, id))
}

func (r *MySQLOrderRepo) GetByTrackingCode(ctx context.Context, code string) (*domain.Order, error) {
	return r.scanOrder(r.db.QueryRowContext(ctx, selectOrder+` WHERE tracking_code=?`, code))
}

const selectOrder = `
SELECT id,user_id,tracking_code,total,customer_name,shipping_address,phone,tax_id,email,channel,status
FROM orders`

func (r *MySQLOrderRepo) scanOrder(row *sql.Row) (*domain.Order, error) {
	var (
		o       domain.Order
		userID  sql.NullInt64
		channel string
		status  string
	)
	err := row.Scan(&o.ID, &userID, &o.TrackingCode, &o.Total, &o.CustomerName, &o.ShippingAddress,
		&o.Phone, &o.TaxID, &o.Email, &channel, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get order: %w", usecase.ErrNotFound)
	}
	if err != nil {
		return nil, mysqlErr("get order", err)
	}
	if userID.Valid {
		o.UserID = &userID.Int64
	}
	o.Channel = domain.Channel(channel)
	o.Status = domain.Status(status)
	return &o, nil
}

func (r *MySQLOrderRepo) UpdateStatusIf(ctx context.Context, id int64, fromStatus, toStatus domain.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE orders
        SET status = ?, updated_at = NOW()
        WHERE id = ? AND status = ?`,
		string(toStatus), id, string(fromStatus),
	)
	if err != nil {
		return false, mysqlErr("update status", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, mysqlErr("update status", err)
	}

	// rows == 0 → nothing matched (either not found or status mismatch)
	return rows > 0, nil
}

func lastID(op string, res sql.Result) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mysqlErr(op, err)
	}
	return id, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

var (
	_ usecase.UnitOfWork = (*MySQLOrderRepo)(nil)
	_ usecase.StatusRepo = (*MySQLOrderRepo)(nil)
)
