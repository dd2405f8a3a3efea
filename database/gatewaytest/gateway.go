// Package gatewaytest provides a scripted in-memory database.Gateway for tests.
package gatewaytest

import (
	"context"
	"strings"
	"sync"

	"github.com/lockplane/lockshift/database"
)

// Call records one ExecuteQuery invocation.
type Call struct {
	Connection string
	Query      string
	Args       []any
}

type rule struct {
	connection string
	contains   string
	result     *database.QueryResult
	err        error
}

// Gateway answers queries from registered rules. Rules are matched in
// registration order by connection (empty matches any) and query substring.
// Unmatched queries return an empty result.
type Gateway struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
}

// New returns an empty scripted gateway.
func New() *Gateway {
	return &Gateway{}
}

// Respond answers queries containing substr on any connection.
func (g *Gateway) Respond(substr string, columns []string, rows ...[]any) *Gateway {
	return g.RespondOn("", substr, columns, rows...)
}

// RespondOn answers queries containing substr on one connection.
func (g *Gateway) RespondOn(connection, substr string, columns []string, rows ...[]any) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule{
		connection: connection,
		contains:   substr,
		result:     database.NewQueryResult(columns, rows, 0),
	})
	return g
}

// Scalar answers queries containing substr with a single-cell result.
func (g *Gateway) Scalar(substr string, value any) *Gateway {
	return g.Respond(substr, []string{"value"}, []any{value})
}

// Fail makes queries containing substr return err.
func (g *Gateway) Fail(substr string, err error) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, rule{contains: substr, err: err})
	return g
}

// ExecuteQuery implements database.Gateway.
func (g *Gateway) ExecuteQuery(ctx context.Context, connectionID, query string, args ...any) (*database.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, Call{Connection: connectionID, Query: query, Args: args})
	for _, r := range g.rules {
		if r.connection != "" && r.connection != connectionID {
			continue
		}
		if !strings.Contains(query, r.contains) {
			continue
		}
		if r.err != nil {
			return nil, r.err
		}
		return cloneResult(r.result), nil
	}
	return database.NewQueryResult(nil, nil, 0), nil
}

// Calls returns a copy of every recorded invocation.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// Executed returns the recorded queries containing substr.
func (g *Gateway) Executed(substr string) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if strings.Contains(c.Query, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls but keeps rules.
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = nil
}

func cloneResult(r *database.QueryResult) *database.QueryResult {
	rows := make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = append([]any(nil), row...)
	}
	return database.NewQueryResult(append([]string(nil), r.Columns...), rows, 0)
}

var _ database.Gateway = (*Gateway)(nil)
