package compose

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ironsheep/panorama-tools-mcp/internal/geometry"
)

func TestGraph_AddEdge(t *testing.T) {
	g := NewGraph(3)
	if err := g.AddEdge(0, 1, geometry.Translation(10, 0), 25); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}

	fwd := g.Edges(0)
	back := g.Edges(1)
	if len(fwd) != 1 || len(back) != 1 {
		t.Fatalf("expected one edge each way, got %d and %d", len(fwd), len(back))
	}
	if fwd[0].To != 1 || fwd[0].H != geometry.Translation(10, 0) {
		t.Errorf("forward edge: %+v", fwd[0])
	}
	if back[0].To != 0 || back[0].H != geometry.Translation(-10, 0) {
		t.Errorf("backward edge should hold the inverse: %+v", back[0])
	}
	if g.EdgeCount() != 1 {
		t.Errorf("EdgeCount: got %d, want 1", g.EdgeCount())
	}

	// Re-adding replaces.
	if err := g.AddEdge(1, 0, geometry.Translation(-12, 0), 40); err != nil {
		t.Fatalf("AddEdge failed: %v", err)
	}
	if g.EdgeCount() != 1 || g.Weight(0) != 40 {
		t.Errorf("re-adding should replace: edges=%d weight=%d", g.EdgeCount(), g.Weight(0))
	}
}

func TestGraph_AddEdgeErrors(t *testing.T) {
	g := NewGraph(2)
	if err := g.AddEdge(0, 2, geometry.Identity(), 5); err == nil {
		t.Error("out of range node should be rejected")
	}
	if err := g.AddEdge(1, 1, geometry.Identity(), 5); err == nil {
		t.Error("self edge should be rejected")
	}
	err := g.AddEdge(0, 1, geometry.Homography{1, 2, 3, 2, 4, 6, 0, 0, 1}, 5)
	if !errors.Is(err, geometry.ErrDegenerate) {
		t.Errorf("singular transform: got %v, want ErrDegenerate", err)
	}
}

func TestGraph_ComponentsAndConnected(t *testing.T) {
	g := NewGraph(5)
	mustAdd(t, g, 0, 3, 10)
	mustAdd(t, g, 3, 4, 10)
	mustAdd(t, g, 1, 2, 10)

	want := [][]int{{0, 3, 4}, {1, 2}}
	if got := g.Components(); !reflect.DeepEqual(got, want) {
		t.Errorf("Components: got %v, want %v", got, want)
	}
	if g.Connected() {
		t.Error("two components reported as connected")
	}

	mustAdd(t, g, 2, 4, 10)
	if !g.Connected() {
		t.Error("graph should be connected after bridging the components")
	}

	if !NewGraph(1).Connected() {
		t.Error("a single image is trivially connected")
	}
}

func TestGraph_Anchor(t *testing.T) {
	tests := []struct {
		name  string
		edges [][3]int
		want  int
	}{
		{"hub", [][3]int{{0, 1, 10}, {1, 2, 10}}, 1},
		{"tie goes to lowest", [][3]int{{0, 1, 10}}, 0},
		{"heaviest", [][3]int{{0, 1, 10}, {1, 2, 40}, {0, 2, 30}}, 2},
		{"no edges", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph(3)
			for _, e := range tt.edges {
				mustAdd(t, g, e[0], e[1], e[2])
			}
			if got := g.Anchor(); got != tt.want {
				t.Errorf("Anchor: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGraph_TransformsFollowStrongestEdges(t *testing.T) {
	g := NewGraph(3)
	// The weak 0-1 edge disagrees with the strong path through 2.
	if err := g.AddEdge(0, 1, geometry.Translation(999, 0), 10); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(2, 1, geometry.Translation(-50, 0), 40); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(2, 0, geometry.Translation(-100, 0), 30); err != nil {
		t.Fatal(err)
	}

	anchor := g.Anchor()
	if anchor != 2 {
		t.Fatalf("Anchor: got %d, want 2", anchor)
	}
	ts, err := g.Transforms(anchor)
	if err != nil {
		t.Fatalf("Transforms failed: %v", err)
	}

	want := []geometry.Homography{
		geometry.Translation(-100, 0),
		geometry.Translation(-50, 0),
		geometry.Identity(),
	}
	if !reflect.DeepEqual(ts, want) {
		t.Errorf("Transforms: got %v, want %v", ts, want)
	}
}

func TestGraph_TransformsChain(t *testing.T) {
	g := NewGraph(3)
	if err := g.AddEdge(0, 1, geometry.Translation(50, 0), 30); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(1, 2, geometry.Translation(50, 0), 30); err != nil {
		t.Fatal(err)
	}

	ts, err := g.Transforms(0)
	if err != nil {
		t.Fatalf("Transforms failed: %v", err)
	}
	if ts[2] != geometry.Translation(100, 0) {
		t.Errorf("chained transform: got %v, want translation by 100", ts[2])
	}
}

func TestGraph_TransformsDisconnected(t *testing.T) {
	g := NewGraph(3)
	mustAdd(t, g, 0, 1, 10)
	if _, err := g.Transforms(0); !errors.Is(err, ErrDisconnected) {
		t.Errorf("got %v, want ErrDisconnected", err)
	}
	if _, err := g.Transforms(7); err == nil {
		t.Error("out of range anchor should fail")
	}
}

func mustAdd(t *testing.T, g *Graph, i, j, inliers int) {
	t.Helper()
	if err := g.AddEdge(i, j, geometry.Identity(), inliers); err != nil {
		t.Fatalf("AddEdge(%d, %d) failed: %v", i, j, err)
	}
}
