package index

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/verdantlabs/symbiont/pkg/storage"
	"github.com/verdantlabs/symbiont/pkg/vecmath"
)

// HNSW construction parameters. m is the max neighbors per node per layer
// (doubled at the base layer), efConstruction/efSearch the candidate beam
// widths. levelMult derives the layer sampling distribution from m.
const (
	hnswM              = 16
	hnswEfConstruction = 200
	hnswEfSearch       = 64
)

// hnswNode is one vector in the graph: its connections per layer form the
// navigable small-world structure. Vectors are immutable once published.
type hnswNode struct {
	id          storage.ParagraphID
	internalID  uint32
	vector      []float32
	connections [][]uint32 // connections[layer] = neighbor internal IDs
	deleted     bool
}

// hnswGraph is a hierarchical navigable small world index over unit vectors.
// Similarity is the dot product (cosine for normalized inputs). Not safe for
// concurrent use; EmbeddedIndex serializes access.
type hnswGraph struct {
	nodes      []*hnswNode
	byID       map[storage.ParagraphID]uint32
	entryPoint uint32
	maxLayer   int
	levelMult  float64
	rng        *rand.Rand
	live       int
}

func newHNSWGraph() *hnswGraph {
	return &hnswGraph{
		byID:      make(map[storage.ParagraphID]uint32),
		maxLayer:  -1,
		levelMult: 1 / math.Log(float64(hnswM)),
		// Deterministic seed: identical insert sequences build identical
		// graphs, which keeps search results reproducible in tests.
		rng: rand.New(rand.NewSource(42)),
	}
}

// insert adds a vector under id. An existing id is soft-deleted and
// re-inserted with the new vector.
func (g *hnswGraph) insert(id storage.ParagraphID, vector []float32) {
	if old, ok := g.byID[id]; ok {
		g.removeInternal(old)
	}

	level := g.randomLevel()
	node := &hnswNode{
		id:          id,
		internalID:  uint32(len(g.nodes)),
		vector:      vector,
		connections: make([][]uint32, level+1),
	}
	g.nodes = append(g.nodes, node)
	g.byID[id] = node.internalID
	g.live++

	if g.maxLayer < 0 {
		g.entryPoint = node.internalID
		g.maxLayer = level
		return
	}

	ep := g.entryPoint
	// Greedy descent through layers above the node's top level.
	for layer := g.maxLayer; layer > level; layer-- {
		ep = g.greedyClosest(vector, ep, layer)
	}

	// Build connections from the insertion level down.
	for layer := min(level, g.maxLayer); layer >= 0; layer-- {
		candidates := g.searchLayer(vector, ep, hnswEfConstruction, layer)
		neighbors := g.selectNeighbors(candidates, g.layerCap(layer))
		node.connections[layer] = neighbors
		for _, n := range neighbors {
			g.link(n, node.internalID, layer)
		}
		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	if level > g.maxLayer {
		g.maxLayer = level
		g.entryPoint = node.internalID
	}
}

// remove soft-deletes a vector. The node stays in the graph as a routing
// waypoint but never appears in results.
func (g *hnswGraph) remove(id storage.ParagraphID) {
	internal, ok := g.byID[id]
	if !ok {
		return
	}
	g.removeInternal(internal)
	delete(g.byID, id)
}

func (g *hnswGraph) removeInternal(internal uint32) {
	node := g.nodes[internal]
	if node.deleted {
		return
	}
	node.deleted = true
	g.live--
}

// search returns up to k live nodes nearest to vector, best first. ef widens
// the candidate beam beyond k for recall.
func (g *hnswGraph) search(vector []float32, k, ef int) []scored {
	if g.maxLayer < 0 || g.live == 0 {
		return nil
	}
	if ef < k {
		ef = k
	}
	if ef < hnswEfSearch {
		ef = hnswEfSearch
	}

	ep := g.entryPoint
	for layer := g.maxLayer; layer > 0; layer-- {
		ep = g.greedyClosest(vector, ep, layer)
	}

	candidates := g.searchLayer(vector, ep, ef, 0)
	out := make([]scored, 0, k)
	for _, c := range candidates {
		node := g.nodes[c.id]
		if node.deleted {
			continue
		}
		out = append(out, scored{id: c.id, score: c.score})
		if len(out) == k {
			break
		}
	}
	return out
}

type scored struct {
	id    uint32
	score float64
}

// scoredHeap is a max-heap by score.
type scoredHeap []scored

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return h[i].score > h[j].score }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// searchLayer runs the beam search within one layer, returning candidates
// sorted best first.
func (g *hnswGraph) searchLayer(vector []float32, entry uint32, ef, layer int) []scored {
	visited := map[uint32]struct{}{entry: {}}
	entryScore := g.similarity(vector, entry)

	candidates := &scoredHeap{{id: entry, score: entryScore}}
	heap.Init(candidates)
	results := []scored{{id: entry, score: entryScore}}

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(scored)
		if current.score < worstScore(results) && len(results) >= ef {
			break
		}
		for _, neighbor := range g.neighborsAt(current.id, layer) {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			score := g.similarity(vector, neighbor)
			if len(results) < ef || score > worstScore(results) {
				heap.Push(candidates, scored{id: neighbor, score: score})
				results = insertScored(results, scored{id: neighbor, score: score}, ef)
			}
		}
	}
	return results
}

// greedyClosest walks one layer greedily toward vector.
func (g *hnswGraph) greedyClosest(vector []float32, entry uint32, layer int) uint32 {
	current := entry
	currentScore := g.similarity(vector, current)
	for {
		improved := false
		for _, neighbor := range g.neighborsAt(current, layer) {
			if score := g.similarity(vector, neighbor); score > currentScore {
				current, currentScore = neighbor, score
				improved = true
			}
		}
		if !improved {
			return current
		}
	}
}

// selectNeighbors keeps the best-scored candidates up to the layer cap.
func (g *hnswGraph) selectNeighbors(candidates []scored, limit int) []uint32 {
	out := make([]uint32, 0, limit)
	for _, c := range candidates {
		out = append(out, c.id)
		if len(out) == limit {
			break
		}
	}
	return out
}

// link adds target to node's neighbor list at layer, trimming to the cap by
// similarity to the node's own vector.
func (g *hnswGraph) link(node, target uint32, layer int) {
	n := g.nodes[node]
	if layer >= len(n.connections) {
		return
	}
	n.connections[layer] = append(n.connections[layer], target)
	limit := g.layerCap(layer)
	if len(n.connections[layer]) <= limit {
		return
	}
	ranked := make([]scored, 0, len(n.connections[layer]))
	for _, c := range n.connections[layer] {
		ranked = append(ranked, scored{id: c, score: g.similarity(n.vector, c)})
	}
	sortScored(ranked)
	n.connections[layer] = g.selectNeighbors(ranked, limit)
}

func (g *hnswGraph) neighborsAt(internal uint32, layer int) []uint32 {
	n := g.nodes[internal]
	if layer >= len(n.connections) {
		return nil
	}
	return n.connections[layer]
}

func (g *hnswGraph) similarity(vector []float32, internal uint32) float64 {
	return float64(vecmath.DotProduct(vector, g.nodes[internal].vector))
}

func (g *hnswGraph) layerCap(layer int) int {
	if layer == 0 {
		return hnswM * 2
	}
	return hnswM
}

func (g *hnswGraph) randomLevel() int {
	return int(math.Floor(-math.Log(g.rng.Float64()+1e-12) * g.levelMult))
}

// insertScored keeps results sorted best-first, bounded at ef.
func insertScored(results []scored, s scored, ef int) []scored {
	pos := len(results)
	for i, r := range results {
		if s.score > r.score {
			pos = i
			break
		}
	}
	results = append(results, scored{})
	copy(results[pos+1:], results[pos:])
	results[pos] = s
	if len(results) > ef {
		results = results[:ef]
	}
	return results
}

func sortScored(s []scored) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].score > s[j-1].score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func worstScore(results []scored) float64 {
	if len(results) == 0 {
		return math.Inf(-1)
	}
	return results[len(results)-1].score
}
