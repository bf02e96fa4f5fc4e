package cluster

import "github.com/DeafMist/news-radar/internal/models"

// Graph is an undirected similarity graph over string keys.
type Graph struct {
	nodes []string
	index map[string]int
	adj   [][]int
	seen  map[[2]int]struct{}
	edges []models.Edge
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		index: make(map[string]int),
		seen:  make(map[[2]int]struct{}),
	}
}

// AddNode adds key if missing and returns its position.
func (g *Graph) AddNode(key string) int {
	if i, ok := g.index[key]; ok {
		return i
	}
	i := len(g.nodes)
	g.index[key] = i
	g.nodes = append(g.nodes, key)
	g.adj = append(g.adj, nil)
	return i
}

// AddEdge connects a and b. Self edges and repeated edges are ignored; the
// return value reports whether a new edge was added.
func (g *Graph) AddEdge(a, b string, score float64) bool {
	if a == b {
		return false
	}
	i, j := g.AddNode(a), g.AddNode(b)
	pair := [2]int{i, j}
	if i > j {
		pair = [2]int{j, i}
	}
	if _, ok := g.seen[pair]; ok {
		return false
	}
	g.seen[pair] = struct{}{}
	g.adj[i] = append(g.adj[i], j)
	g.adj[j] = append(g.adj[j], i)

	if a > b {
		a, b = b, a
	}
	g.edges = append(g.edges, models.Edge{A: a, B: b, Score: score})
	return true
}

// Nodes returns the node keys in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Edges returns the deduplicated edges in the order they were added.
func (g *Graph) Edges() []models.Edge {
	return append([]models.Edge(nil), g.edges...)
}

// Components returns the connected components. Traversal is breadth-first and
// starts from nodes in insertion order, so isolated nodes come back as
// singleton components.
func (g *Graph) Components() [][]string {
	visited := make([]bool, len(g.nodes))
	var components [][]string

	for start := range g.nodes {
		if visited[start] {
			continue
		}
		visited[start] = true
		queue := []int{start}
		var component []string
		for len(queue) > 0 {
			curr := queue[0]
			queue = queue[1:]
			component = append(component, g.nodes[curr])
			for _, next := range g.adj[curr] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		components = append(components, component)
	}

	return components
}

// BuildGraph adds every key as a node and an edge for each related pair
// scoring at least floor.
func BuildGraph(keys []string, related []Related, floor float64) *Graph {
	g := NewGraph()
	for _, key := range keys {
		g.AddNode(key)
	}
	for _, rel := range related {
		for _, n := range rel.Neighbors {
			if n.Score > 0 && n.Score >= floor {
				g.AddEdge(rel.Key, n.Key, n.Score)
			}
		}
	}
	return g
}
