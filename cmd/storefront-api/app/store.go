package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aq2208/storefront-api/configs"
	"github.com/aq2208/storefront-api/internal/adapter/grpc"
	"github.com/aq2208/storefront-api/internal/adapter/repo"
	"github.com/aq2208/storefront-api/internal/adapter/rest"
	"github.com/aq2208/storefront-api/internal/usecase"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
)

// store is the backend chosen by store.driver.
type store struct {
	uow    usecase.UnitOfWork
	orders usecase.StatusRepo
	check  grpc.Check
	close  func()
}

func openStore(ctx context.Context, cfg configs.Config) (*store, error) {
	switch cfg.Store.Driver {
	case configs.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("mysql ping: %w", err)
		}
		r := repo.NewMySQLOrderRepo(db)
		return &store{uow: r, orders: r, check: db.PingContext, close: func() { _ = db.Close() }}, nil

	case configs.DriverPostgres:
		pcfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.MaxConns > 0 {
			pcfg.MaxConns = cfg.Postgres.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		r := repo.NewPgOrderRepo(pool)
		return &store{uow: r, orders: r, check: pool.Ping, close: pool.Close}, nil

	case configs.DriverPostgREST:
		s := rest.NewPostgRESTStore(cfg.PostgREST.URL, cfg.PostgREST.APIKey, cfg.PostgREST.Timeout)
		return &store{uow: usecase.NewCompensating(s), orders: s, check: s.Ping, close: func() {}}, nil

	case configs.DriverMemory:
		s := repo.NewMemoryStore()
		for id, qty := range cfg.Memory.Stock {
			s.SetStock(id, qty)
		}
		return &store{uow: usecase.NewCompensating(s), orders: s, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
}
