package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/aq2208/storefront-api/internal/usecase"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MySQL server error numbers that mean "the data broke a constraint".
const (
	mysqlDupEntry      = 1062
	mysqlNoReferenced  = 1452
	mysqlCheckViolated = 3819
)

// Postgres SQLSTATE codes, class 23.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// mysqlErr maps a driver error onto the store error classes.
func mysqlErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDupEntry:
			return fmt.Errorf("%s: %w: %w", op, usecase.ErrDuplicateKey, err)
		case mysqlNoReferenced, mysqlCheckViolated:
			return fmt.Errorf("%s: %w: %w", op, usecase.ErrConstraintViolation, err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w: %v", op, usecase.ErrUnavailable, err)
	}
	return wrapCommon(op, err)
}

func pgErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, usecase.ErrNotFound)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, usecase.ErrDuplicateKey, err)
		case pgForeignKeyViolation, pgCheckViolation:
			return fmt.Errorf("%s: %w: %w", op, usecase.ErrConstraintViolation, err)
		}
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%s: %w: %v", op, usecase.ErrUnavailable, err)
	}
	return wrapCommon(op, err)
}

func wrapCommon(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return fmt.Errorf("%s: %w: %v", op, usecase.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
