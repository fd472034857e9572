// Package hnsw implements HNSWIndex: a multilayer proximity-graph ANN index
// over buffer slot ids, per spec.md §4.3.
//
// Adapted from the teacher's pkg/index/hnsw.go: the same level-sampling
// (1/ln(M)), the same bounded best-first search built on two container/heap
// instances, and the same heuristic neighbor-selection rule. Two things
// change, both called out as REDESIGN FLAGs in spec.md §9:
//
//  1. Nodes are keyed by integer buffer slot, not string id — slots are the
//     address space the buffer already hands out, so there is no need for a
//     second id space inside the graph.
//  2. Delete really unlinks the node from every neighbor's adjacency list at
//     every layer, instead of flipping a Deleted flag. A freed slot must
//     never surface in a search result, and the teacher's soft-delete alone
//     cannot guarantee that once the slot is reused by a new vector.
package hnsw

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"

	"github.com/corvid-labs/personamemory/internal/simfn"
	"github.com/corvid-labs/personamemory/internal/vecbuf"
)

// Config holds the tunable parameters from spec.md §4.3.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
	Metric         simfn.Metric
	IndexThreshold int // below this many nodes, Search falls back to exhaustive scan
	Seed           int64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		M:              16,
		EfConstruction: 200,
		EfSearch:       50,
		Metric:         simfn.Cosine,
		IndexThreshold: 1000,
		Seed:           1,
	}
}

type node struct {
	slot      int
	level     int
	neighbors [][]int // neighbors[layer] = slot ids, len == level+1
}

// Index is a multilayer HNSW graph over buffer slot ids. It consults the
// buffer for vector data and never owns vectors itself.
type Index struct {
	mu sync.RWMutex

	cfg    Config
	buffer *vecbuf.Buffer

	levelMul float64
	rng      *rand.Rand

	nodes      map[int]*node
	entryPoint int
	hasEntry   bool
}

// New constructs an Index over buffer, consulting it for vector data during
// insertion and search.
func New(buffer *vecbuf.Buffer, cfg Config) *Index {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}
	if cfg.Metric == "" {
		cfg.Metric = simfn.Cosine
	}
	return &Index{
		cfg:      cfg,
		buffer:   buffer,
		levelMul: 1 / math.Log(float64(cfg.M)),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		nodes:    make(map[int]*node),
	}
}

// Size returns the number of nodes currently in the graph.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// selectLevel draws L = floor(-ln(U) * levelMultiplier) for uniform U in
// (0, 1], per spec.md's insertion algorithm step 1.
func (idx *Index) selectLevel() int {
	u := idx.rng.Float64()
	if u <= 0 {
		u = 1e-12
	}
	level := int(math.Floor(-math.Log(u) * idx.levelMul))
	if level > 32 {
		level = 32
	}
	return level
}

func (idx *Index) m0() int { return idx.cfg.M * 2 }

// vectorOf fetches a node's vector and magnitude from the buffer. Insert
// calls it before taking idx.mu; every other caller holds idx.mu. The buffer
// has its own independent lock.
func (idx *Index) vectorOf(slot int) ([]float32, float32, bool) {
	vec, ok := idx.buffer.GetBySlot(slot)
	if !ok {
		return nil, 0, false
	}
	mag, _ := idx.buffer.MagnitudeBySlot(slot)
	return vec, mag, true
}

func (idx *Index) distanceToQuery(query []float32, queryMag float32, slot int) (float32, bool) {
	vec, mag, ok := idx.vectorOf(slot)
	if !ok {
		return 0, false
	}
	return simfn.Distance(idx.cfg.Metric, query, vec, queryMag, mag), true
}

func (idx *Index) distanceBetween(a, b int) (float32, bool) {
	va, ma, ok := idx.vectorOf(a)
	if !ok {
		return 0, false
	}
	vb, mb, ok := idx.vectorOf(b)
	if !ok {
		return 0, false
	}
	return simfn.Distance(idx.cfg.Metric, va, vb, ma, mb), true
}

// Insert adds slot to the graph following the insertion algorithm in
// spec.md §4.3. The vector for slot must already be written into the
// buffer.
func (idx *Index) Insert(slot int) error {
	vec, mag, ok := idx.vectorOf(slot)
	if !ok {
		return errNodeVectorMissing
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.nodes[slot]; exists {
		return nil
	}

	level := idx.selectLevel()
	n := &node{slot: slot, level: level, neighbors: make([][]int, level+1)}
	for i := range n.neighbors {
		n.neighbors[i] = make([]int, 0)
	}
	idx.nodes[slot] = n

	if !idx.hasEntry {
		idx.entryPoint = slot
		idx.hasEntry = true
		return nil
	}

	entry := idx.nodes[idx.entryPoint]
	current := []int{idx.entryPoint}

	for lc := entry.level; lc > level; lc-- {
		current = idx.searchLayerClosest(vec, mag, current, 1, lc)
	}

	for lc := min(level, entry.level); lc >= 0; lc-- {
		maxConn := idx.cfg.M
		if lc == 0 {
			maxConn = idx.m0()
		}

		candidates := idx.searchLayer(vec, mag, current, idx.cfg.EfConstruction, lc)
		selected := idx.selectNeighborsHeuristic(vec, mag, candidates, maxConn)

		n.neighbors[lc] = selected
		for _, nb := range selected {
			idx.addConnection(nb, slot, lc)
			idx.pruneIfNeeded(nb, lc, maxConn)
		}

		current = selected
	}

	if level > entry.level {
		idx.entryPoint = slot
	}

	return nil
}

func (idx *Index) pruneIfNeeded(slot, layer, maxConn int) {
	nd, ok := idx.nodes[slot]
	if !ok || layer >= len(nd.neighbors) {
		return
	}
	if len(nd.neighbors[layer]) <= maxConn {
		return
	}
	vec, mag, ok := idx.vectorOf(slot)
	if !ok {
		return
	}
	nd.neighbors[layer] = idx.selectNeighborsHeuristic(vec, mag, nd.neighbors[layer], maxConn)
}

func (idx *Index) addConnection(from, to, layer int) {
	nd, ok := idx.nodes[from]
	if !ok || layer >= len(nd.neighbors) {
		return
	}
	for _, existing := range nd.neighbors[layer] {
		if existing == to {
			return
		}
	}
	nd.neighbors[layer] = append(nd.neighbors[layer], to)
}

// selectNeighborsHeuristic implements spec.md's heuristic selection: prefer
// candidates close to the query and not redundant relative to
// already-picked neighbors — skip a candidate if it is closer to an
// already-picked neighbor than to the query itself. Ties are broken by
// ascending slot id for determinism.
func (idx *Index) selectNeighborsHeuristic(query []float32, queryMag float32, candidates []int, m int) []int {
	type scored struct {
		slot int
		dist float32
	}
	pairs := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		d, ok := idx.distanceToQuery(query, queryMag, c)
		if !ok {
			continue
		}
		pairs = append(pairs, scored{slot: c, dist: d})
	}
	sortByDistThenSlot(pairs)

	selected := make([]int, 0, m)
	for _, cand := range pairs {
		if len(selected) >= m {
			break
		}
		redundant := false
		for _, picked := range selected {
			dPickedToCand, ok := idx.distanceBetween(picked, cand.slot)
			if !ok {
				continue
			}
			if dPickedToCand < cand.dist {
				redundant = true
				break
			}
		}
		if !redundant {
			selected = append(selected, cand.slot)
		}
	}

	// If the heuristic was too aggressive and pruned below m candidates,
	// fill remaining slots by plain distance order so the layer cap is
	// still met whenever enough candidates exist.
	if len(selected) < m {
		have := make(map[int]bool, len(selected))
		for _, s := range selected {
			have[s] = true
		}
		for _, cand := range pairs {
			if len(selected) >= m {
				break
			}
			if !have[cand.slot] {
				selected = append(selected, cand.slot)
				have[cand.slot] = true
			}
		}
	}

	return selected
}

func sortByDistThenSlot(pairs []struct {
	slot int
	dist float32
}) {
	for i := 1; i < len(pairs); i++ {
		j := i
		for j > 0 && less(pairs[j], pairs[j-1]) {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
			j--
		}
	}
}

func less(a, b struct {
	slot int
	dist float32
}) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.slot < b.slot
}

// searchLayerClosest runs searchLayer and truncates to num results, used for
// the greedy single-hop descent through layers above the target level.
func (idx *Index) searchLayerClosest(query []float32, queryMag float32, entryPoints []int, num, layer int) []int {
	result := idx.searchLayer(query, queryMag, entryPoints, num, layer)
	if len(result) > num {
		return result[:num]
	}
	return result
}

type heapItem struct {
	slot int
	dist float32
}

type minHeap []heapItem

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].slot < h[j].slot
}
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type maxHeap struct{ minHeap }

func (h maxHeap) Less(i, j int) bool {
	if h.minHeap[i].dist != h.minHeap[j].dist {
		return h.minHeap[i].dist > h.minHeap[j].dist
	}
	return h.minHeap[i].slot > h.minHeap[j].slot
}

// searchLayer runs bounded best-first search at layer, seeded at
// entryPoints, with beam width ef. Candidates whose referenced slot has
// been freed mid-search are skipped silently, per spec.md §4.3's
// failure/degenerate-behavior clause.
func (idx *Index) searchLayer(query []float32, queryMag float32, entryPoints []int, ef, layer int) []int {
	visited := make(map[int]bool)
	candidates := &minHeap{}
	best := &maxHeap{}

	for _, p := range entryPoints {
		d, ok := idx.distanceToQuery(query, queryMag, p)
		if !ok {
			continue
		}
		heap.Push(candidates, heapItem{slot: p, dist: d})
		heap.Push(best, heapItem{slot: p, dist: d})
		visited[p] = true
	}

	for candidates.Len() > 0 {
		if best.Len() > 0 {
			nearestCandidate := (*candidates)[0].dist
			worstBest := best.minHeap[0].dist
			if nearestCandidate > worstBest && best.Len() >= ef {
				break
			}
		}

		cur := heap.Pop(candidates).(heapItem)
		curNode, ok := idx.nodes[cur.slot]
		if !ok || layer >= len(curNode.neighbors) {
			continue
		}

		for _, nb := range curNode.neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			d, ok := idx.distanceToQuery(query, queryMag, nb)
			if !ok {
				// Neighbor's slot was freed concurrently; skip it.
				continue
			}

			if best.Len() < ef || d < best.minHeap[0].dist {
				heap.Push(candidates, heapItem{slot: nb, dist: d})
				heap.Push(best, heapItem{slot: nb, dist: d})
				if best.Len() > ef {
					heap.Pop(best)
				}
			}
		}
	}

	out := make([]int, 0, best.Len())
	for best.Len() > 0 {
		out = append(out, heap.Pop(best).(heapItem).slot)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Result is a single ranked hit from Search, in ranking-monotone similarity
// space (higher is better).
type Result struct {
	Slot       int
	Similarity float32
}

// Search answers top-k queries per spec.md §4.3: falls back to exhaustive
// scan below IndexThreshold, otherwise greedy-descends to layer 0 and runs
// bounded best-first search with beam width max(ef, k).
func (idx *Index) Search(query []float32, k, ef int) []Result {
	if ef <= 0 {
		ef = idx.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.nodes) < idx.cfg.IndexThreshold {
		return idx.exhaustiveLocked(query, k)
	}

	if !idx.hasEntry {
		return nil
	}

	queryMag := simfn.Magnitude(query)
	entry := idx.nodes[idx.entryPoint]
	current := []int{idx.entryPoint}

	for layer := entry.level; layer > 0; layer-- {
		current = idx.searchLayerClosest(query, queryMag, current, 1, layer)
	}

	candidates := idx.searchLayer(query, queryMag, current, ef, 0)

	type scored struct {
		slot int
		dist float32
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		d, ok := idx.distanceToQuery(query, queryMag, c)
		if !ok {
			continue
		}
		scoredList = append(scoredList, scored{slot: c, dist: d})
	}
	for i := 1; i < len(scoredList); i++ {
		j := i
		for j > 0 && (scoredList[j].dist < scoredList[j-1].dist ||
			(scoredList[j].dist == scoredList[j-1].dist && scoredList[j].slot < scoredList[j-1].slot)) {
			scoredList[j], scoredList[j-1] = scoredList[j-1], scoredList[j]
			j--
		}
	}

	if len(scoredList) > k {
		scoredList = scoredList[:k]
	}

	out := make([]Result, len(scoredList))
	for i, s := range scoredList {
		out[i] = Result{Slot: s.slot, Similarity: distanceToSimilarity(idx.cfg.Metric, s.dist)}
	}
	return out
}

// exhaustiveLocked scans every occupied buffer slot directly, used both as
// the below-threshold fast path and as the accuracy baseline for recall
// tests. Caller holds idx.mu (read lock is sufficient; the buffer guards
// its own state).
func (idx *Index) exhaustiveLocked(query []float32, k int) []Result {
	queryMag := simfn.Magnitude(query)
	entries := idx.buffer.Iterate()

	type scored struct {
		slot int
		sim  float32
	}
	all := make([]scored, 0, len(entries))
	for _, e := range entries {
		vec, mag, ok := idx.vectorOf(e.Slot)
		if !ok {
			continue
		}
		sim := simfn.Similarity(idx.cfg.Metric, query, vec, queryMag, mag)
		all = append(all, scored{slot: e.Slot, sim: sim})
	}
	for i := 1; i < len(all); i++ {
		j := i
		for j > 0 && (all[j].sim > all[j-1].sim ||
			(all[j].sim == all[j-1].sim && all[j].slot < all[j-1].slot)) {
			all[j], all[j-1] = all[j-1], all[j]
			j--
		}
	}
	if len(all) > k {
		all = all[:k]
	}
	out := make([]Result, len(all))
	for i, s := range all {
		out[i] = Result{Slot: s.slot, Similarity: s.sim}
	}
	return out
}

func distanceToSimilarity(metric simfn.Metric, d float32) float32 {
	switch metric {
	case simfn.Euclidean:
		return 1 / (1 + d)
	case simfn.Dot:
		return -d
	default: // Cosine
		return 1 - d
	}
}

// Delete removes slot from the graph: it is unlinked from every neighbor's
// adjacency list at every layer where it appears (a real removal, not a
// tombstone flag — see the package doc comment), then dropped from the node
// map. If slot was the entry point, the remaining node at the highest level
// is promoted, ties broken by ascending slot id; if no nodes remain, the
// index becomes empty.
func (idx *Index) Delete(slot int) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	nd, ok := idx.nodes[slot]
	if !ok {
		return false
	}

	for layer := 0; layer <= nd.level; layer++ {
		for _, nbSlot := range nd.neighbors[layer] {
			nb, ok := idx.nodes[nbSlot]
			if !ok || layer >= len(nb.neighbors) {
				continue
			}
			nb.neighbors[layer] = removeSlot(nb.neighbors[layer], slot)
		}
	}
	// A node may also appear as a neighbor of nodes that never linked back
	// (rare, since addConnection is always bidirectional, but cheap to be
	// defensive about for an invariant this strict).
	for _, other := range idx.nodes {
		if other.slot == slot {
			continue
		}
		for layer := range other.neighbors {
			other.neighbors[layer] = removeSlot(other.neighbors[layer], slot)
		}
	}

	delete(idx.nodes, slot)

	if idx.hasEntry && idx.entryPoint == slot {
		idx.promoteNewEntryLocked()
	}

	return true
}

func (idx *Index) promoteNewEntryLocked() {
	bestSlot := -1
	bestLevel := -1
	for s, nd := range idx.nodes {
		if nd.level > bestLevel || (nd.level == bestLevel && s < bestSlot) {
			bestLevel = nd.level
			bestSlot = s
		}
	}
	if bestSlot == -1 {
		idx.hasEntry = false
		idx.entryPoint = 0
		return
	}
	idx.entryPoint = bestSlot
}

func removeSlot(list []int, target int) []int {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var errNodeVectorMissing = errMissing("hnsw: vector for slot not found in buffer")

type errMissing string

func (e errMissing) Error() string { return string(e) }
