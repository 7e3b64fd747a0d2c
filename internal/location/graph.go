// Package location implements the world location graph and its BFS
// movement resolver (SPEC_FULL.md §4.1). The graph is owned exclusively by
// the simulation engine and mutated only from within the active agent's
// turn, so it carries no internal locking — see SPEC_FULL.md §5.
package location

import (
	"math/rand"

	"github.com/emotionsim/engine/internal/model"
)

// Graph is the adjacency/contents view of the world's locations.
type Graph struct {
	nodes map[string]*model.Location
}

// NewGraph builds a Graph from a scenario's declared locations, extending
// adjacency to be bidirectional per the invariant in SPEC_FULL.md §3.
func NewGraph(locs map[string]*model.Location) *Graph {
	g := &Graph{nodes: make(map[string]*model.Location, len(locs))}
	for id, loc := range locs {
		cp := *loc
		cp.ID = id
		g.nodes[id] = &cp
	}
	g.symmetrize()
	return g
}

func (g *Graph) symmetrize() {
	for id, loc := range g.nodes {
		for _, n := range loc.Nearby {
			neighbor, ok := g.nodes[n]
			if !ok {
				// Referenced but not yet declared: created lazily on first
				// targeted move, per SPEC_FULL.md §3 invariant.
				continue
			}
			if !contains(neighbor.Nearby, id) {
				neighbor.Nearby = append(neighbor.Nearby, id)
			}
		}
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Get returns a location by id.
func (g *Graph) Get(id string) (*model.Location, bool) {
	loc, ok := g.nodes[id]
	return loc, ok
}

// Has reports whether id is a known location.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// All returns every location, keyed by id. The returned map is owned by the
// caller for reading only; mutate via Graph methods.
func (g *Graph) All() map[string]*model.Location {
	return g.nodes
}

// CreateLocation adds a new node adjacent to from, per §4.1's dynamic
// creation rule: distance is chosen by the seeded RNG in [1,3], items start
// empty, and adjacency is bidirectional.
func (g *Graph) CreateLocation(rng *rand.Rand, id, from string) *model.Location {
	loc := &model.Location{
		ID:       id,
		Distance: 1 + rng.Intn(3),
		Nearby:   []string{from},
	}
	g.nodes[id] = loc

	if fromLoc, ok := g.nodes[from]; ok && !contains(fromLoc.Nearby, id) {
		fromLoc.Nearby = append(fromLoc.Nearby, id)
	}
	return loc
}

// AddItem appends an item to a location's visible item list.
func (g *Graph) AddItem(locID string, item model.Item) {
	loc, ok := g.nodes[locID]
	if !ok {
		return
	}
	loc.Items = append(loc.Items, item)
}

// TakeItem removes and returns a named item from a location's visible item
// list. The second return value is false if the item is absent.
func (g *Graph) TakeItem(locID, name string) (model.Item, bool) {
	loc, ok := g.nodes[locID]
	if !ok {
		return model.Item{}, false
	}
	for i, it := range loc.Items {
		if it.Name == name {
			loc.Items = append(loc.Items[:i], loc.Items[i+1:]...)
			return it, true
		}
	}
	return model.Item{}, false
}

// RevealHidden moves every hidden item at locID into its visible item list
// and returns the revealed items (SPEC_FULL.md §12 — the `search` action).
func (g *Graph) RevealHidden(locID string) []model.Item {
	loc, ok := g.nodes[locID]
	if !ok || len(loc.HiddenItems) == 0 {
		return nil
	}
	revealed := loc.HiddenItems
	loc.Items = append(loc.Items, revealed...)
	loc.HiddenItems = nil
	return revealed
}

// BFS returns the shortest path (inclusive of from and to) using adjacency
// order as the tie-break, stopping at maxDepth hops. A nil result means no
// path was found within maxDepth.
func BFS(g *Graph, from, to string, maxDepth int) []string {
	if from == to {
		return []string{from}
	}
	if !g.Has(from) || !g.Has(to) {
		return nil
	}

	type frame struct {
		id   string
		path []string
	}

	visited := map[string]bool{from: true}
	queue := []frame{{id: from, path: []string{from}}}

	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var next []frame
		for _, f := range queue {
			loc, ok := g.Get(f.id)
			if !ok {
				continue
			}
			for _, n := range loc.Nearby {
				if visited[n] {
					continue
				}
				visited[n] = true
				path := append(append([]string{}, f.path...), n)
				if n == to {
					return path
				}
				next = append(next, frame{id: n, path: path})
			}
		}
		queue = next
	}
	return nil
}
