// Package pgxdb implements database.Gateway on pgx connection pools.
package pgxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/logger"
)

const (
	defaultMaxConns    = 4
	defaultMinConns    = 1
	defaultIdleTimeout = 5 * time.Minute
)

// PoolConfig holds pgxpool limits. Zero values use the defaults.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// Gateway keeps one pgxpool per connection id.
type Gateway struct {
	mu    sync.RWMutex
	pools map[string]*pgxpool.Pool
	log   *logger.Logger
}

// New returns a gateway with no pools.
func New(log *logger.Logger) *Gateway {
	return &Gateway{pools: make(map[string]*pgxpool.Pool), log: logger.OrNop(log)}
}

// Connect parses dsn, builds a pool and pings it.
func (g *Gateway) Connect(ctx context.Context, connectionID, dsn string, cfg PoolConfig) error {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return errs.Wrap(errs.KindInvalidInput, fmt.Sprintf("invalid postgres config for %s", connectionID), err)
	}
	poolCfg.MaxConns = withDefault(cfg.MaxConns, defaultMaxConns)
	poolCfg.MinConns = withDefault(cfg.MinConns, defaultMinConns)
	poolCfg.MaxConnIdleTime = defaultIdleTimeout
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return mapError(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return errs.Wrap(errs.KindConnectionFailed, fmt.Sprintf("ping connection %s", connectionID), err)
	}

	g.mu.Lock()
	g.pools[connectionID] = pool
	g.mu.Unlock()
	g.log.With().Str("connection", connectionID).Logger().Debug("pgx pool ready")
	return nil
}

// ExecuteQuery implements database.Gateway.
func (g *Gateway) ExecuteQuery(ctx context.Context, connectionID, query string, args ...any) (*database.QueryResult, error) {
	g.mu.RLock()
	pool, ok := g.pools[connectionID]
	g.mu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "unknown connection %q", connectionID)
	}

	start := time.Now()
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return database.NewQueryResult(columns, out, time.Since(start)), nil
}

// Close closes every pool.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, pool := range g.pools {
		pool.Close()
		delete(g.pools, id)
	}
}

// SQLSTATE classes that matter to the planner.
const (
	pgErrConnectionFailure = "08006"
	pgErrInsufficientPriv  = "42501"
	pgErrUndefinedTable    = "42P01"
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrConnectionFailure:
			return errs.Wrap(errs.KindConnectionFailed, "database connection failed", err)
		case pgErrUndefinedTable:
			return errs.Wrap(errs.KindNotFound, pgErr.Message, err)
		case pgErrInsufficientPriv:
			return errs.Wrap(errs.KindQueryFailed, "permission denied: "+pgErr.Message, err)
		}
		return errs.Wrap(errs.KindQueryFailed, pgErr.Message, err)
	}
	return errs.Wrap(errs.KindQueryFailed, "query failed", err)
}

func withDefault(val, def int32) int32 {
	if val == 0 {
		return def
	}
	return val
}

var _ database.Gateway = (*Gateway)(nil)
