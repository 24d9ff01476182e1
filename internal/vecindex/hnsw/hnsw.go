// Package hnsw implements the embedded (default) VecIndex backend: a
// pure-Go Hierarchical Navigable Small World graph for approximate
// cosine k-NN (spec §4.3), following Malkov & Yashunin (2018).
//
// Node identity here is the string memory id rather than the teacher's
// int64, since VecIndex keys on the same opaque ids Store uses.
package hnsw

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Index is an in-memory HNSW index for approximate nearest neighbor search.
type Index struct {
	mu         sync.RWMutex
	nodes      []node
	idToIdx    map[string]int
	deleted    map[int]bool
	entryPoint int
	maxLevel   int
	dims       int

	M              int
	Mmax0          int
	EfConstruction int
	EfSearch       int
	LevelMult      float64

	rng *rand.Rand
}

type node struct {
	id      string
	vector  []float32
	friends [][]int
	level   int
}

// Result is a search hit: the external id and its cosine distance
// (1 - similarity); lower is more similar.
type Result struct {
	ID       string
	Distance float32
}

type candidate struct {
	idx  int
	dist float32
}

const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 50
)

// New creates a new HNSW index for vectors of the given dimensionality.
func New(dims int) *Index {
	return NewWithParams(dims, DefaultM, DefaultEfConstruction, DefaultEfSearch)
}

// NewWithParams creates a new HNSW index with custom tuning parameters.
func NewWithParams(dims, m, efConstruction, efSearch int) *Index {
	if m < 2 {
		m = 2
	}
	return &Index{
		dims:           dims,
		M:              m,
		Mmax0:          2 * m,
		EfConstruction: efConstruction,
		EfSearch:       efSearch,
		LevelMult:      1.0 / math.Log(float64(m)),
		entryPoint:     -1,
		maxLevel:       -1,
		idToIdx:        make(map[string]int),
		deleted:        make(map[int]bool),
		rng:            rand.New(rand.NewSource(42)),
	}
}

// Len returns the number of live (non-tombstoned) vectors in the index.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes) - len(idx.deleted)
}

// Dims returns the fixed vector dimensionality.
func (idx *Index) Dims() int { return idx.dims }

// Insert adds a vector under id. If id already exists it is
// tombstoned first (HNSW graphs don't support in-place vector
// replacement; a fresh node is linked in and the stale one is
// filtered from future search results but its links are left alone to
// avoid an expensive graph repair).
func (idx *Index) Insert(id string, vector []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.insertLocked(id, vector)
}

func (idx *Index) insertLocked(id string, vector []float32) {
	if oldIdx, exists := idx.idToIdx[id]; exists {
		delete(idx.idToIdx, id)
		idx.deleted[oldIdx] = true
	}

	nodeIdx := len(idx.nodes)
	level := idx.randomLevel()

	n := node{id: id, vector: vector, friends: make([][]int, level+1), level: level}
	idx.nodes = append(idx.nodes, n)
	idx.idToIdx[id] = nodeIdx

	if idx.entryPoint == -1 {
		idx.entryPoint = nodeIdx
		idx.maxLevel = level
		return
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > level; l-- {
		ep = idx.greedyClosest(vector, ep, l)
	}

	topLayer := level
	if topLayer > idx.maxLevel {
		topLayer = idx.maxLevel
	}

	for l := topLayer; l >= 0; l-- {
		candidates := idx.searchLayer(vector, ep, idx.EfConstruction, l)

		maxConn := idx.M
		if l == 0 {
			maxConn = idx.Mmax0
		}
		neighbors := idx.selectNeighbors(candidates, maxConn)
		idx.nodes[nodeIdx].friends[l] = neighbors

		for _, neighborIdx := range neighbors {
			idx.nodes[neighborIdx].friends[l] = append(idx.nodes[neighborIdx].friends[l], nodeIdx)
			if len(idx.nodes[neighborIdx].friends[l]) > maxConn {
				idx.nodes[neighborIdx].friends[l] = idx.shrinkNeighbors(neighborIdx, idx.nodes[neighborIdx].friends[l], maxConn)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0].idx
		}
	}

	if level > idx.maxLevel {
		idx.entryPoint = nodeIdx
		idx.maxLevel = level
	}
}

// Remove tombstones id so it is excluded from future search results.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if nodeIdx, exists := idx.idToIdx[id]; exists {
		delete(idx.idToIdx, id)
		idx.deleted[nodeIdx] = true
	}
}

// Search finds the k nearest live neighbors to query.
func (idx *Index) Search(query []float32, k int) []Result {
	return idx.SearchEf(query, k, idx.EfSearch)
}

// SearchEf finds the k nearest live neighbors with a custom beam width.
func (idx *Index) SearchEf(query []float32, k, ef int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.nodes) == 0 || idx.entryPoint == -1 {
		return nil
	}
	if ef < k {
		ef = k
	}
	// Tombstones may outnumber k; widen the beam so filtering still
	// leaves enough live candidates.
	ef += len(idx.deleted)

	ep := idx.entryPoint
	for l := idx.maxLevel; l > 0; l-- {
		ep = idx.greedyClosest(query, ep, l)
	}

	candidates := idx.searchLayer(query, ep, ef, 0)

	results := make([]Result, 0, k)
	for _, c := range candidates {
		if idx.deleted[c.idx] {
			continue
		}
		n := idx.nodes[c.idx]
		results = append(results, Result{ID: n.id, Distance: c.dist})
		if len(results) == k {
			break
		}
	}
	return results
}

// Has returns true if id is currently live in the index.
func (idx *Index) Has(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, exists := idx.idToIdx[id]
	return exists
}

func (idx *Index) randomLevel() int {
	r := idx.rng.Float64()
	if r == 0 {
		r = 1e-10
	}
	return int(math.Floor(-math.Log(r) * idx.LevelMult))
}

func (idx *Index) greedyClosest(query []float32, ep int, layer int) int {
	dist := cosineDistance(query, idx.nodes[ep].vector)
	for {
		improved := false
		if layer < len(idx.nodes[ep].friends) {
			for _, friendIdx := range idx.nodes[ep].friends[layer] {
				friendDist := cosineDistance(query, idx.nodes[friendIdx].vector)
				if friendDist < dist {
					ep = friendIdx
					dist = friendDist
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return ep
}

func (idx *Index) searchLayer(query []float32, ep int, ef int, layer int) []candidate {
	visited := make(map[int]bool)
	visited[ep] = true

	epDist := cosineDistance(query, idx.nodes[ep].vector)
	candidates := []candidate{{idx: ep, dist: epDist}}
	results := []candidate{{idx: ep, dist: epDist}}

	for len(candidates) > 0 {
		closest := candidates[0]
		candidates = candidates[1:]

		farthest := results[len(results)-1]
		if closest.dist > farthest.dist && len(results) >= ef {
			break
		}

		if layer < len(idx.nodes[closest.idx].friends) {
			for _, neighborIdx := range idx.nodes[closest.idx].friends[layer] {
				if visited[neighborIdx] {
					continue
				}
				visited[neighborIdx] = true

				neighborDist := cosineDistance(query, idx.nodes[neighborIdx].vector)
				if neighborDist < results[len(results)-1].dist || len(results) < ef {
					candidates = insertSorted(candidates, candidate{idx: neighborIdx, dist: neighborDist})
					results = insertSorted(results, candidate{idx: neighborIdx, dist: neighborDist})
					if len(results) > ef {
						results = results[:ef]
					}
				}
			}
		}
	}

	return results
}

func (idx *Index) selectNeighbors(candidates []candidate, maxConn int) []int {
	if len(candidates) <= maxConn {
		neighbors := make([]int, len(candidates))
		for i, c := range candidates {
			neighbors[i] = c.idx
		}
		return neighbors
	}
	neighbors := make([]int, maxConn)
	for i := 0; i < maxConn; i++ {
		neighbors[i] = candidates[i].idx
	}
	return neighbors
}

func (idx *Index) shrinkNeighbors(nodeIdx int, neighbors []int, maxConn int) []int {
	if len(neighbors) <= maxConn {
		return neighbors
	}
	type scored struct {
		idx  int
		dist float32
	}
	vec := idx.nodes[nodeIdx].vector
	scoredNeighbors := make([]scored, len(neighbors))
	for i, nIdx := range neighbors {
		scoredNeighbors[i] = scored{idx: nIdx, dist: cosineDistance(vec, idx.nodes[nIdx].vector)}
	}
	sort.Slice(scoredNeighbors, func(i, j int) bool { return scoredNeighbors[i].dist < scoredNeighbors[j].dist })

	result := make([]int, maxConn)
	for i := 0; i < maxConn; i++ {
		result[i] = scoredNeighbors[i].idx
	}
	return result
}

func insertSorted(s []candidate, c candidate) []candidate {
	i := sort.Search(len(s), func(i int) bool { return s[i].dist >= c.dist })
	s = append(s, candidate{})
	copy(s[i+1:], s[i:])
	s[i] = c
	return s
}

// cosineDistance returns 1 - cosine_similarity, in [0, 2]; lower is closer.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 2.0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}
