// Package index provides the paragraph-level semantic search layer: a single
// Index contract with interchangeable backends.
//
// EmbeddedIndex runs in-process (HNSW approximate nearest neighbor plus a
// BM25 inverted index); RemoteIndex talks to a Qdrant-style vector service;
// CompositeIndex fronts a remote primary with an embedded fallback. Callers
// never branch on which backend is active.
//
// Scoring: embeddings are L2-normalized at upsert, so vector similarity is a
// dot product. Hybrid scoring blends vector and lexical scores with a single
// alpha in [0,1] — alpha=1 reproduces pure-vector ordering exactly, alpha=0
// pure-lexical.
package index

import (
	"context"

	"github.com/verdantlabs/symbiont/pkg/storage"
)

// Sentinel errors shared with the storage layer so callers classify every
// failure with a single errors.Is vocabulary.
var (
	ErrUnavailable      = storage.ErrUnavailable
	ErrInvalidDimension = storage.ErrInvalidDimension
	ErrNotFound         = storage.ErrNotFound
	ErrInvalidData      = storage.ErrInvalidData
)

// Document is the indexable unit: a paragraph's embedding plus the metadata
// the filter set matches against.
type Document struct {
	ID        storage.ParagraphID `json:"id"`
	Content   string              `json:"content"`
	Embedding []float32           `json:"embedding"`

	DocumentID  string              `json:"documentId,omitempty"`
	EcosystemID storage.EcosystemID `json:"ecosystemId,omitempty"`
	Location    string              `json:"location,omitempty"`
	SessionID   string              `json:"sessionId,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
	Timestamp   int64               `json:"timestamp"` // unix milliseconds

	OrganismIDs []storage.OrganismID `json:"organismIds,omitempty"`
}

// Result is one ranked search hit.
type Result struct {
	ID    storage.ParagraphID `json:"id"`
	Score float64             `json:"score"`

	// Carried through so the orchestrator can build its seed set without a
	// second store round-trip.
	OrganismIDs []storage.OrganismID `json:"organismIds,omitempty"`
	EcosystemID storage.EcosystemID  `json:"ecosystemId,omitempty"`
	Content     string               `json:"content,omitempty"`
}

// Filters narrows a search. Zero values mean "no constraint".
//
// Tags is OR-inclusive: a document matches if it carries at least one listed
// tag. ExcludeTags is NOT: a document carrying any listed tag is dropped.
// The timestamp range is inclusive on both ends.
type Filters struct {
	DocumentID  string              `json:"documentId,omitempty"`
	EcosystemID storage.EcosystemID `json:"ecosystemId,omitempty"`
	Location    string              `json:"location,omitempty"`
	SessionID   string              `json:"sessionId,omitempty"`

	Tags        []string `json:"tags,omitempty"`
	ExcludeTags []string `json:"excludeTags,omitempty"`

	TimestampFrom int64 `json:"timestampFrom,omitempty"`
	TimestampTo   int64 `json:"timestampTo,omitempty"`
}

// Query carries one search request.
type Query struct {
	// Vector is the embedded query text. Required unless Alpha is 0.
	Vector []float32

	// Text is the literal query text, used for lexical scoring and reranking.
	Text string

	// K bounds the number of results. <=0 uses DefaultK.
	K int

	// Alpha in [0,1] weighs vector against lexical score: 1 = pure vector,
	// 0 = pure lexical.
	Alpha float64

	// Rerank opts into the cross-encoder-style rerank stage. Off by default:
	// it is latency-expensive and must never run on low-latency paths.
	Rerank bool

	Filters Filters
}

// DefaultK is the result bound applied when a query does not set one.
const DefaultK = 10

// Index is the backend contract. All methods honor context cancellation.
//
// Search failure semantics: an unreachable or timed-out backend fails with
// ErrUnavailable — zero results are always distinguishable from a backend
// failure.
type Index interface {
	Upsert(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id storage.ParagraphID) error
	Search(ctx context.Context, q *Query) ([]Result, error)
	Count() int
	Close() error
}

// matches reports whether a document passes every filter constraint.
func (f *Filters) matches(doc *Document) bool {
	if f.DocumentID != "" && doc.DocumentID != f.DocumentID {
		return false
	}
	if f.EcosystemID != "" && doc.EcosystemID != f.EcosystemID {
		return false
	}
	if f.Location != "" && doc.Location != f.Location {
		return false
	}
	if f.SessionID != "" && doc.SessionID != f.SessionID {
		return false
	}
	if f.TimestampFrom != 0 && doc.Timestamp < f.TimestampFrom {
		return false
	}
	if f.TimestampTo != 0 && doc.Timestamp > f.TimestampTo {
		return false
	}
	for _, ex := range f.ExcludeTags {
		for _, tag := range doc.Tags {
			if tag == ex {
				return false
			}
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			for _, tag := range doc.Tags {
				if tag == want {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// empty reports whether no constraint is set at all.
func (f *Filters) empty() bool {
	return f.DocumentID == "" && f.EcosystemID == "" && f.Location == "" &&
		f.SessionID == "" && len(f.Tags) == 0 && len(f.ExcludeTags) == 0 &&
		f.TimestampFrom == 0 && f.TimestampTo == 0
}
