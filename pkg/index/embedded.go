package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/verdantlabs/symbiont/pkg/storage"
	"github.com/verdantlabs/symbiont/pkg/vecmath"
)

// rerankTopN bounds how many leading candidates the opt-in rerank stage
// re-scores.
const rerankTopN = 50

// EmbeddedIndex is the in-process backend: an HNSW graph for the
// approximate-nearest-neighbor fast path plus a BM25 inverted index for the
// lexical leg of hybrid scoring.
//
// The unfiltered pure-vector path goes through HNSW; filtered and hybrid
// queries score the filtered document set exactly, so hybrid orderings are
// reproducible and alpha=1/alpha=0 collapse to the pure orderings.
type EmbeddedIndex struct {
	mu         sync.RWMutex
	dimensions int // 0 = adopt the first embedding's length
	docs       map[storage.ParagraphID]*Document
	graph      *hnswGraph
	lexical    *bm25Index
	reranker   Reranker
	closed     bool
}

// NewEmbeddedIndex creates an empty in-process index. dimensions declares the
// embedding dimensionality to enforce; 0 means the first upsert fixes it.
func NewEmbeddedIndex(dimensions int) *EmbeddedIndex {
	return &EmbeddedIndex{
		dimensions: dimensions,
		docs:       make(map[storage.ParagraphID]*Document),
		graph:      newHNSWGraph(),
		lexical:    newBM25Index(),
	}
}

// SetReranker installs the opt-in rerank stage. A nil reranker disables it.
func (e *EmbeddedIndex) SetReranker(r Reranker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reranker = r
}

// Upsert indexes a document, replacing any previous version under the same
// ID. The embedding is normalized to unit length.
func (e *EmbeddedIndex) Upsert(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil || doc.ID == "" {
		return ErrInvalidData
	}
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document %s has no embedding: %w", doc.ID, ErrInvalidData)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrStorageClosed
	}
	if e.dimensions == 0 {
		e.dimensions = len(doc.Embedding)
	} else if len(doc.Embedding) != e.dimensions {
		return fmt.Errorf("document %s has %d dimensions, index configured for %d: %w",
			doc.ID, len(doc.Embedding), e.dimensions, ErrInvalidDimension)
	}

	stored := *doc
	stored.Embedding = vecmath.Normalize(doc.Embedding)
	stored.Tags = append([]string(nil), doc.Tags...)
	stored.OrganismIDs = append([]storage.OrganismID(nil), doc.OrganismIDs...)

	if _, exists := e.docs[stored.ID]; exists {
		e.lexical.remove(stored.ID)
	}
	e.docs[stored.ID] = &stored
	e.graph.insert(stored.ID, stored.Embedding)
	e.lexical.add(stored.ID, stored.Content)
	return nil
}

// Delete removes a document. Deleting an absent ID is a no-op.
func (e *EmbeddedIndex) Delete(ctx context.Context, id storage.ParagraphID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return storage.ErrInvalidID
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return storage.ErrStorageClosed
	}
	if _, exists := e.docs[id]; !exists {
		return nil
	}
	delete(e.docs, id)
	e.graph.remove(id)
	e.lexical.remove(id)
	return nil
}

// Search ranks documents for the query. See Query for the alpha semantics;
// ordering is deterministic for a fixed index state (ties broken by ID).
func (e *EmbeddedIndex) Search(ctx context.Context, q *Query) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, ErrInvalidData
	}
	if q.Alpha < 0 || q.Alpha > 1 {
		return nil, fmt.Errorf("alpha %v out of range: %w", q.Alpha, ErrInvalidData)
	}
	if q.Alpha > 0 && len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector required for alpha %v: %w", q.Alpha, ErrInvalidData)
	}
	if q.Alpha < 1 && q.Text == "" {
		return nil, fmt.Errorf("query text required for alpha %v: %w", q.Alpha, ErrInvalidData)
	}

	k := q.K
	if k <= 0 {
		k = DefaultK
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, storage.ErrStorageClosed
	}

	var queryVec []float32
	if len(q.Vector) > 0 {
		if e.dimensions != 0 && len(q.Vector) != e.dimensions {
			return nil, fmt.Errorf("query has %d dimensions, index configured for %d: %w",
				len(q.Vector), e.dimensions, ErrInvalidDimension)
		}
		queryVec = vecmath.Normalize(q.Vector)
	}

	var results []Result
	if q.Alpha == 1 && q.Filters.empty() {
		results = e.vectorOnly(queryVec, k)
	} else {
		results = e.scoreScan(queryVec, q, k)
	}

	if q.Rerank && e.reranker != nil {
		results = applyRerank(ctx, e.reranker, q.Text, results)
	}
	return results, nil
}

// vectorOnly is the unfiltered pure-vector fast path through HNSW.
func (e *EmbeddedIndex) vectorOnly(queryVec []float32, k int) []Result {
	hits := e.graph.search(queryVec, k, hnswEfSearch)
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		doc := e.docs[e.graph.nodes[h.id].id]
		if doc == nil {
			continue
		}
		results = append(results, toResult(doc, h.score))
	}
	sortResults(results)
	return results
}

// scoreScan scores the filtered document set exactly: vector and lexical
// scores are min-max normalized over the candidates and blended by alpha.
func (e *EmbeddedIndex) scoreScan(queryVec []float32, q *Query, k int) []Result {
	var lexScores map[storage.ParagraphID]float64
	if q.Alpha < 1 {
		lexScores = e.lexical.score(q.Text)
	}

	type candidate struct {
		doc *Document
		vec float64
		lex float64
	}
	candidates := make([]candidate, 0, len(e.docs))
	for _, doc := range e.docs {
		if !q.Filters.matches(doc) {
			continue
		}
		c := candidate{doc: doc, lex: lexScores[doc.ID]}
		if queryVec != nil {
			c.vec = float64(vecmath.DotProduct(queryVec, doc.Embedding))
		}
		// Lexical-only queries return matches, not the whole corpus.
		if q.Alpha == 0 && c.lex == 0 {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil
	}

	vecNorm := normalizer(candidates, func(c candidate) float64 { return c.vec })
	lexNorm := normalizer(candidates, func(c candidate) float64 { return c.lex })

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		var score float64
		switch q.Alpha {
		case 1:
			score = c.vec
		case 0:
			score = c.lex
		default:
			score = q.Alpha*vecNorm(c.vec) + (1-q.Alpha)*lexNorm(c.lex)
		}
		results = append(results, toResult(c.doc, score))
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Count returns the number of live documents.
func (e *EmbeddedIndex) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Close releases the index. Further calls fail.
func (e *EmbeddedIndex) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ Index = (*EmbeddedIndex)(nil)

// normalizer returns a min-max scaler over the candidate scores. A flat score
// distribution maps everything to 1 so the other leg decides the order.
func normalizer[T any](candidates []T, value func(T) float64) func(float64) float64 {
	lo, hi := value(candidates[0]), value(candidates[0])
	for _, c := range candidates[1:] {
		v := value(c)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return func(float64) float64 { return 1 }
	}
	span := hi - lo
	return func(v float64) float64 { return (v - lo) / span }
}

func toResult(doc *Document, score float64) Result {
	return Result{
		ID:          doc.ID,
		Score:       score,
		OrganismIDs: doc.OrganismIDs,
		EcosystemID: doc.EcosystemID,
		Content:     doc.Content,
	}
}

// sortResults orders by score descending, ties broken by ID so a fixed index
// state always yields the same ordering.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
