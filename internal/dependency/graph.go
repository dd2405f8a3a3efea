package dependency

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lockplane/lockshift/internal/errs"
	"github.com/lockplane/lockshift/internal/planner"
)

// node is one step in the graph. rank is its position in synthesis order and
// breaks ties so that the sort is deterministic.
type node struct {
	step     *planner.MigrationStep
	rank     int
	inDegree int
	visited  bool
}

// Graph is a directed graph of steps. An edge before -> after means before
// must execute first.
type Graph struct {
	nodes map[string]*node
	edges map[string][]string
}

// NewGraph creates a graph holding steps in their current order.
func NewGraph(steps []*planner.MigrationStep) *Graph {
	g := &Graph{
		nodes: make(map[string]*node, len(steps)),
		edges: make(map[string][]string, len(steps)),
	}
	for i, s := range steps {
		if _, exists := g.nodes[s.ID]; exists {
			continue
		}
		g.nodes[s.ID] = &node{step: s, rank: i}
		g.edges[s.ID] = []string{}
	}
	return g
}

// AddEdge records that before must run ahead of after. Unknown ids and
// duplicate edges are ignored.
func (g *Graph) AddEdge(before, after string) {
	if _, ok := g.nodes[before]; !ok {
		return
	}
	if _, ok := g.nodes[after]; !ok {
		return
	}
	for _, existing := range g.edges[before] {
		if existing == after {
			return
		}
	}
	g.edges[before] = append(g.edges[before], after)
}

// Len returns the number of steps in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

func (g *Graph) ranked() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return g.nodes[ids[i]].rank < g.nodes[ids[j]].rank })
	return ids
}

// CycleError reports steps that depend on each other.
type CycleError struct {
	Steps []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Steps, " -> "))
}

// DetectCycles returns the first cycle found by depth-first search, starting
// from the earliest step.
func (g *Graph) DetectCycles() ([]string, error) {
	for _, n := range g.nodes {
		n.visited = false
	}

	path := make(map[string]bool)
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		n := g.nodes[id]
		if path[id] {
			for i, s := range stack {
				if s == id {
					cycle = append(append([]string{}, stack[i:]...), id)
					break
				}
			}
			return true
		}
		if n.visited {
			return false
		}

		path[id] = true
		stack = append(stack, id)
		for _, next := range g.edges[id] {
			if dfs(next) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		delete(path, id)
		n.visited = true
		return false
	}

	for _, id := range g.ranked() {
		if dfs(id) {
			err := &CycleError{Steps: cycle}
			return cycle, errs.Wrap(errs.KindDependencyCycle, "steps cannot be ordered", err)
		}
	}
	return nil, nil
}

// TopologicalSort orders steps with Kahn's algorithm. Among steps that are
// ready at the same time, the earlier one in synthesis order goes first.
func (g *Graph) TopologicalSort() ([]*planner.MigrationStep, error) {
	if _, err := g.DetectCycles(); err != nil {
		return nil, err
	}

	for _, n := range g.nodes {
		n.inDegree = 0
	}
	for _, targets := range g.edges {
		for _, to := range targets {
			g.nodes[to].inDegree++
		}
	}

	var ready []string
	for _, id := range g.ranked() {
		if g.nodes[id].inDegree == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]*planner.MigrationStep, 0, len(g.nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, g.nodes[id].step)

		for _, next := range g.edges[id] {
			n := g.nodes[next]
			n.inDegree--
			if n.inDegree == 0 {
				ready = append(ready, next)
			}
		}
		sort.SliceStable(ready, func(i, j int) bool { return g.nodes[ready[i]].rank < g.nodes[ready[j]].rank })
	}

	if len(sorted) < len(g.nodes) {
		var stuck []string
		for _, id := range g.ranked() {
			if g.nodes[id].inDegree > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, errs.Wrap(errs.KindDependencyCycle, "not all steps could be ordered", &CycleError{Steps: stuck})
	}
	return sorted, nil
}
