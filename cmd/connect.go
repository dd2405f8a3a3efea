package cmd

import (
	"context"
	"fmt"

	"github.com/lockplane/lockshift/database"
	"github.com/lockplane/lockshift/database/pgxdb"
	"github.com/lockplane/lockshift/database/sqldb"
)

// openGateway resolves the environments and opens one gateway routing each
// connection id to its transport. Environments with driver "pgx" use a pgx
// pool; everything else goes through database/sql.
func openGateway(ctx context.Context, a *app, names ...string) (database.Gateway, func(), error) {
	envs, err := a.cfg.ResolveAll(names...)
	if err != nil {
		return nil, nil, err
	}

	router := database.NewRouter()
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		pgx   *pgxdb.Gateway
		conns []sqldb.Connection
	)
	for _, env := range envs {
		if env.Driver != "pgx" {
			conns = append(conns, sqldb.Connection{ID: env.Name, URL: env.DatabaseURL, Driver: env.Driver})
			continue
		}
		if pgx == nil {
			pgx = pgxdb.New(a.log)
			closers = append(closers, pgx.Close)
		}
		if err := pgx.Connect(ctx, env.Name, env.DatabaseURL, a.cfg.Pool.PGX()); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect to %s: %w", env.Name, err)
		}
		router.Route(env.Name, pgx)
	}

	if len(conns) > 0 {
		gw, err := sqldb.Open(ctx, conns, a.cfg.Pool.SQL(), a.log)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := gw.Close(); err != nil {
				a.log.Warnf("Failed to close connections: %v", err)
			}
		})
		for _, c := range conns {
			router.Route(c.ID, gw)
		}
	}

	a.log.With().Any("connections", router.Connections()).Logger().Debug("Connections ready")
	return router, closeAll, nil
}
