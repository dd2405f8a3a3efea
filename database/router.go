package database

import (
	"context"
	"fmt"
	"sort"
)

// Router dispatches each connection id to its own Gateway, so environments
// backed by different transports can be used in one plan.
type Router struct {
	routes map[string]Gateway
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Gateway)}
}

// Route registers gw for connectionID.
func (r *Router) Route(connectionID string, gw Gateway) {
	r.routes[connectionID] = gw
}

// Connections lists the registered connection ids.
func (r *Router) Connections() []string {
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExecuteQuery implements Gateway.
func (r *Router) ExecuteQuery(ctx context.Context, connectionID, query string, args ...any) (*QueryResult, error) {
	gw, ok := r.routes[connectionID]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", connectionID)
	}
	return gw.ExecuteQuery(ctx, connectionID, query, args...)
}
