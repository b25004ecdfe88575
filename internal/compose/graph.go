package compose

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ironsheep/panorama-tools-mcp/internal/geometry"
)

// ErrDisconnected is returned when the pairwise transforms do not relate
// every image to every other.
var ErrDisconnected = errors.New("image set is not connected")

// Edge is one accepted pairwise transform as seen from a node.
type Edge struct {
	// To is the neighbouring image index.
	To int

	// H maps points of image To into the frame of the owning node.
	H geometry.Homography

	// Inliers is the RANSAC inlier count that supported the transform and
	// serves as the edge weight.
	Inliers int
}

// Graph is the connectivity graph of an image set: nodes are image indices
// 0..N-1 and each accepted pair contributes an edge in both directions.
type Graph struct {
	n   int
	adj map[int][]Edge
}

// NewGraph returns a graph over n images with no edges.
func NewGraph(n int) *Graph {
	return &Graph{n: n, adj: make(map[int][]Edge, n)}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return g.n
}

// AddEdge records that h maps image j into the frame of image i. The
// inverse is stored for the opposite direction. Adding a pair twice
// replaces the earlier transform.
func (g *Graph) AddEdge(i, j int, h geometry.Homography, inliers int) error {
	if i < 0 || j < 0 || i >= g.n || j >= g.n {
		return fmt.Errorf("edge (%d, %d) outside graph of %d images", i, j, g.n)
	}
	if i == j {
		return fmt.Errorf("self edge on image %d", i)
	}
	inv, ok := h.Inverse()
	if !ok {
		return fmt.Errorf("%w: transform %d->%d is not invertible", geometry.ErrDegenerate, j, i)
	}
	g.put(i, Edge{To: j, H: h, Inliers: inliers})
	g.put(j, Edge{To: i, H: inv, Inliers: inliers})
	return nil
}

// put inserts or replaces e in the adjacency list of node, keeping the
// list ordered by neighbour index.
func (g *Graph) put(node int, e Edge) {
	edges := g.adj[node]
	for k := range edges {
		if edges[k].To == e.To {
			edges[k] = e
			return
		}
	}
	edges = append(edges, e)
	sort.Slice(edges, func(a, b int) bool { return edges[a].To < edges[b].To })
	g.adj[node] = edges
}

// Edges returns the edges leaving node i, ordered by neighbour index.
func (g *Graph) Edges(i int) []Edge {
	return g.adj[i]
}

// EdgeCount returns the number of undirected edges.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, edges := range g.adj {
		total += len(edges)
	}
	return total / 2
}

// Weight returns the summed inlier count of the edges at node i.
func (g *Graph) Weight(i int) int {
	w := 0
	for _, e := range g.adj[i] {
		w += e.Inliers
	}
	return w
}

// Components returns the connected components, each sorted ascending and
// ordered by their smallest member.
func (g *Graph) Components() [][]int {
	seen := make([]bool, g.n)
	var comps [][]int
	for start := 0; start < g.n; start++ {
		if seen[start] {
			continue
		}
		comp := []int{start}
		seen[start] = true
		for q := 0; q < len(comp); q++ {
			for _, e := range g.adj[comp[q]] {
				if !seen[e.To] {
					seen[e.To] = true
					comp = append(comp, e.To)
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

// Connected reports whether every node is reachable from every other. A
// graph with fewer than two nodes is trivially connected.
func (g *Graph) Connected() bool {
	return len(g.Components()) <= 1
}

// Anchor returns the reference image: the node with the largest summed
// inlier weight, ties going to the lowest index.
func (g *Graph) Anchor() int {
	best, bestW := 0, -1
	for i := 0; i < g.n; i++ {
		if w := g.Weight(i); w > bestW {
			best, bestW = i, w
		}
	}
	return best
}

// Transforms composes, for every node, the homography into the anchor's
// frame. Paths follow a maximum-weight spanning tree grown from the
// anchor, so each image reaches the anchor over its best supported chain.
//
// Returns ErrDisconnected when some node cannot be reached.
func (g *Graph) Transforms(anchor int) ([]geometry.Homography, error) {
	if anchor < 0 || anchor >= g.n {
		return nil, fmt.Errorf("anchor %d outside graph of %d images", anchor, g.n)
	}
	ts := make([]geometry.Homography, g.n)
	inTree := make([]bool, g.n)
	ts[anchor] = geometry.Identity()
	inTree[anchor] = true

	for added := 1; added < g.n; added++ {
		from, to, bestW := -1, -1, -1
		var bestH geometry.Homography
		for i := 0; i < g.n; i++ {
			if !inTree[i] {
				continue
			}
			for _, e := range g.adj[i] {
				if inTree[e.To] || e.Inliers <= bestW {
					continue
				}
				from, to, bestW, bestH = i, e.To, e.Inliers, e.H
			}
		}
		if to < 0 {
			return nil, fmt.Errorf("%w: %d of %d images reachable from anchor %d", ErrDisconnected, added, g.n, anchor)
		}
		t, ok := ts[from].Mul(bestH).Normalize()
		if !ok {
			return nil, fmt.Errorf("%w: transform of image %d sends the origin to infinity", ErrDegenerateFootprint, to)
		}
		ts[to] = t
		inTree[to] = true
	}
	return ts, nil
}
