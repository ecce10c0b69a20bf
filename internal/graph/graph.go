// Package graph maintains the per-project dependency DAG and answers
// structural queries: cycle detection, topological order, critical path,
// and forward-scheduled timelines.
package graph

import (
	"sort"
	"strings"

	"github.com/djinnbot/djinnbot/internal/core"
)

// adjacency builds the blocks adjacency list from -> [to...]. Informs edges
// carry no scheduling weight and are excluded.
func adjacency(edges []*core.DependencyEdge) map[core.TaskID][]core.TaskID {
	adj := make(map[core.TaskID][]core.TaskID)
	for _, e := range edges {
		if e.Type != core.DependencyBlocks {
			continue
		}
		adj[e.FromTaskID] = append(adj[e.FromTaskID], e.ToTaskID)
	}
	return adj
}

// predecessors builds the reverse blocks adjacency to -> [from...].
func predecessors(edges []*core.DependencyEdge) map[core.TaskID][]core.TaskID {
	preds := make(map[core.TaskID][]core.TaskID)
	for _, e := range edges {
		if e.Type != core.DependencyBlocks {
			continue
		}
		preds[e.ToTaskID] = append(preds[e.ToTaskID], e.FromTaskID)
	}
	return preds
}

// FindPath runs a DFS over the blocks sub-graph and returns the node path
// from start to target, nil when target is unreachable. Adding edge
// (from, to) creates a cycle exactly when from is reachable from to.
func FindPath(edges []*core.DependencyEdge, start, target core.TaskID) []core.TaskID {
	adj := adjacency(edges)
	visited := make(map[core.TaskID]bool)

	var dfs func(node core.TaskID, path []core.TaskID) []core.TaskID
	dfs = func(node core.TaskID, path []core.TaskID) []core.TaskID {
		path = append(path, node)
		if node == target {
			out := make([]core.TaskID, len(path))
			copy(out, path)
			return out
		}
		visited[node] = true
		for _, next := range adj[node] {
			if visited[next] {
				continue
			}
			if found := dfs(next, path); found != nil {
				return found
			}
		}
		return nil
	}
	return dfs(start, nil)
}

// CycleError reports a rejected edge set with the offending path.
func CycleError(path []core.TaskID, titles map[core.TaskID]string) *core.DomainError {
	names := make([]string, len(path))
	for i, id := range path {
		if title, ok := titles[id]; ok && title != "" {
			names[i] = title
		} else {
			names[i] = string(id)
		}
	}
	return core.ErrValidation(core.CodeDependencyCycle,
		"dependency cycle: "+strings.Join(names, " -> ")).
		WithDetail("path", names)
}

// FindAnyCycle scans the whole blocks sub-graph for a cycle and returns its
// path (first node repeated at the end), nil when the graph is acyclic.
// Used by bulk imports, which must validate the combined proposed graph
// before any row is inserted.
func FindAnyCycle(edges []*core.DependencyEdge) []core.TaskID {
	adj := adjacency(edges)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[core.TaskID]int)
	var stack []core.TaskID

	var dfs func(node core.TaskID) []core.TaskID
	dfs = func(node core.TaskID) []core.TaskID {
		color[node] = gray
		stack = append(stack, node)
		for _, next := range adj[node] {
			switch color[next] {
			case gray:
				// Back edge: slice the stack from the first occurrence.
				for i, id := range stack {
					if id == next {
						cycle := append([]core.TaskID{}, stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
		return nil
	}

	nodes := make([]core.TaskID, 0, len(adj))
	for node := range adj {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	for _, node := range nodes {
		if color[node] == white {
			if cycle := dfs(node); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopoSort orders tasks with Kahn's algorithm over the blocks sub-graph.
// Ties are broken by priority, then id, so the order is deterministic.
// Tasks on a cycle (which AddEdge prevents) would be omitted.
func TopoSort(tasks []*core.Task, edges []*core.DependencyEdge) []core.TaskID {
	byID := make(map[core.TaskID]*core.Task, len(tasks))
	inDegree := make(map[core.TaskID]int, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		inDegree[t.ID] = 0
	}
	adj := adjacency(edges)
	for from, tos := range adj {
		if _, ok := byID[from]; !ok {
			continue
		}
		for _, to := range tos {
			if _, ok := byID[to]; ok {
				inDegree[to]++
			}
		}
	}

	var ready []core.TaskID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	less := func(a, b core.TaskID) bool {
		ta, tb := byID[a], byID[b]
		if ta.Priority.Rank() != tb.Priority.Rank() {
			return ta.Priority.Rank() < tb.Priority.Rank()
		}
		return a < b
	}

	order := make([]core.TaskID, 0, len(tasks))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)
		for _, next := range adj[node] {
			if _, ok := byID[next]; !ok {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}

// taskWeight is the critical-path weight of a task: its estimate, or one
// hour when unestimated.
func taskWeight(t *core.Task) float64 {
	if t.EstimatedHours > 0 {
		return t.EstimatedHours
	}
	return 1
}

// CriticalPath runs the longest-path DP over the blocks sub-graph in
// topological order and traces the predecessor chain back from the
// max-distance node.
func CriticalPath(tasks []*core.Task, edges []*core.DependencyEdge) []core.TaskID {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[core.TaskID]*core.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	preds := predecessors(edges)
	order := TopoSort(tasks, edges)

	dist := make(map[core.TaskID]float64, len(tasks))
	prev := make(map[core.TaskID]core.TaskID, len(tasks))
	for _, id := range order {
		best := 0.0
		var bestPred core.TaskID
		for _, p := range preds[id] {
			if _, ok := byID[p]; !ok {
				continue
			}
			if dist[p] > best {
				best = dist[p]
				bestPred = p
			}
		}
		dist[id] = best + taskWeight(byID[id])
		if bestPred != "" {
			prev[id] = bestPred
		}
	}

	var end core.TaskID
	maxDist := -1.0
	for _, id := range order {
		if dist[id] > maxDist {
			maxDist = dist[id]
			end = id
		}
	}
	if end == "" {
		return nil
	}

	var path []core.TaskID
	for node := end; node != ""; node = prev[node] {
		path = append([]core.TaskID{node}, path...)
		if _, ok := prev[node]; !ok {
			break
		}
	}
	return path
}
