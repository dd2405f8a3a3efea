// Package sqldb implements database.Gateway over database/sql for the
// postgres, sqlite, libsql and mysql drivers.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/logger"
)

// Connection names one database the gateway can reach.
type Connection struct {
	ID     string
	URL    string
	Driver string // empty means detect from URL
}

// PoolConfig bounds the database/sql pool of every connection.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns conservative pool limits for migration work.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Gateway holds one *sql.DB per connection id.
type Gateway struct {
	mu  sync.RWMutex
	dbs map[string]*sql.DB
	log *logger.Logger
}

// New wraps already opened databases.
func New(dbs map[string]*sql.DB, log *logger.Logger) *Gateway {
	g := &Gateway{dbs: make(map[string]*sql.DB, len(dbs)), log: logger.OrNop(log)}
	for id, db := range dbs {
		g.dbs[id] = db
	}
	return g
}

// Open connects and pings every connection. On failure the connections that
// were already opened are closed.
func Open(ctx context.Context, conns []Connection, pool PoolConfig, log *logger.Logger) (*Gateway, error) {
	g := New(nil, log)
	for _, c := range conns {
		db, err := openConnection(ctx, c, pool)
		if err != nil {
			_ = g.Close()
			return nil, err
		}
		g.dbs[c.ID] = db
		g.log.With().Str("connection", c.ID).Str("driver", driverFor(c)).Logger().Debug("connection opened")
	}
	return g, nil
}

func driverFor(c Connection) string {
	if c.Driver != "" {
		return c.Driver
	}
	return DetectDriver(c.URL)
}

func openConnection(ctx context.Context, c Connection, pool PoolConfig) (*sql.DB, error) {
	driver := driverFor(c)
	name := SQLDriverName(driver)
	if name == "" {
		return nil, errs.Newf(errs.KindInvalidInput, "unsupported driver %q for connection %s", driver, c.ID)
	}

	db, err := sql.Open(name, NormalizeDSN(driver, c.URL))
	if err != nil {
		return nil, errs.Wrap(errs.KindConnectionFailed, fmt.Sprintf("open connection %s", c.ID), err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.KindConnectionFailed, fmt.Sprintf("ping connection %s", c.ID), err)
	}
	return db, nil
}

// DB returns the handle for a connection id.
func (g *Gateway) DB(connectionID string) (*sql.DB, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	db, ok := g.dbs[connectionID]
	return db, ok
}

// ExecuteQuery implements database.Gateway. Statements that return no rows
// (DDL) produce an empty result.
func (g *Gateway) ExecuteQuery(ctx context.Context, connectionID, query string, args ...any) (*database.QueryResult, error) {
	db, ok := g.DB(connectionID)
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "unknown connection %q", connectionID)
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindQueryFailed, "query failed", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.KindQueryFailed, "read columns", err)
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errs.Wrap(errs.KindQueryFailed, "scan row", err)
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindQueryFailed, "iterate rows", err)
	}

	return database.NewQueryResult(columns, out, time.Since(start)), nil
}

// Close closes every connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	for id, db := range g.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = fmt.Errorf("close connection %s: %w", id, err)
		}
		delete(g.dbs, id)
	}
	return first
}

var _ database.Gateway = (*Gateway)(nil)
