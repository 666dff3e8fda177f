// Package retrieval composes the embedding client, the paragraph index, and
// the graph walker into a single Retrieve call that returns a deterministic,
// ordered context bundle.
package retrieval

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verdantlabs/symbiont/pkg/embed"
	"github.com/verdantlabs/symbiont/pkg/graph"
	"github.com/verdantlabs/symbiont/pkg/index"
	"github.com/verdantlabs/symbiont/pkg/storage"
)

// DefaultDepth is the graph expansion depth used when options do not set one.
const DefaultDepth = 2

// DefaultAlpha is the hybrid blend weight used when options do not set one:
// vector-leaning, with enough lexical signal to catch exact-term matches.
const DefaultAlpha = 0.7

// hydrateConcurrency bounds parallel store lookups during entity hydration.
const hydrateConcurrency = 8

// Scope narrows a retrieval to a slice of the corpus. Zero values mean "no
// constraint". An EcosystemID additionally seeds graph expansion even when no
// paragraph hit mentions it.
type Scope struct {
	SessionID   string              `json:"sessionId,omitempty"`
	EcosystemID storage.EcosystemID `json:"ecosystemId,omitempty"`
	Location    string              `json:"location,omitempty"`

	TimestampFrom int64 `json:"timestampFrom,omitempty"`
	TimestampTo   int64 `json:"timestampTo,omitempty"`

	Tags        []string `json:"tags,omitempty"`
	ExcludeTags []string `json:"excludeTags,omitempty"`
}

// Options tunes one retrieval. The zero value is usable.
type Options struct {
	// K bounds paragraph results. <=0 uses index.DefaultK.
	K int

	// Alpha is the hybrid blend weight in [0,1]. 0 (the zero value) selects
	// DefaultAlpha; pass LexicalOnly for a pure-lexical query.
	Alpha float64

	// LexicalOnly forces alpha=0, skipping the embedding call entirely.
	LexicalOnly bool

	// Depth is the graph expansion depth. <=0 uses DefaultDepth.
	Depth int

	// Rerank opts into the index's rerank stage.
	Rerank bool
}

// OrganismEntry is one hydrated organism in a bundle, with the traversal
// metadata that ranked it.
type OrganismEntry struct {
	Organism *storage.Organism `json:"organism"`
	Via      string            `json:"via,omitempty"` // empty for seeds
	Strength float64           `json:"strength"`
	Depth    int               `json:"depth"`
}

// EcosystemEntry is one hydrated ecosystem in a bundle.
type EcosystemEntry struct {
	Ecosystem *storage.Ecosystem `json:"ecosystem"`
	Via       string             `json:"via,omitempty"`
	Depth     int                `json:"depth"`
}

// ContextBundle is the ordered result of one Retrieve call.
//
// Ordering is deterministic: paragraphs by score descending with paragraph id
// breaking ties, then organisms grouped by how they were reached (seeds first,
// then mutualism, commensalism, parasitism, competition, neutral relationships,
// then membership co-members), then ecosystems. Every entity appears once.
type ContextBundle struct {
	Query      string           `json:"query"`
	Paragraphs []index.Result   `json:"paragraphs"`
	Organisms  []OrganismEntry  `json:"organisms"`
	Ecosystems []EcosystemEntry `json:"ecosystems"`

	// Degraded is set when the vector half of retrieval failed but the graph
	// half could still run. Callers must surface it: a degraded bundle is not
	// a complete answer.
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degradedReason,omitempty"`
}

// Retriever orchestrates retrieval across the store, the index, the walker,
// and the embedder.
type Retriever struct {
	store    storage.Engine
	idx      index.Index
	walker   *graph.Walker
	embedder embed.Embedder
	log      *zap.Logger
}

// NewRetriever wires a retriever. A nil logger is replaced with a no-op one.
func NewRetriever(store storage.Engine, idx index.Index, walker *graph.Walker, embedder embed.Embedder, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{store: store, idx: idx, walker: walker, embedder: embedder, log: log}
}

// Retrieve answers a query within a scope.
//
// The vector search and the explicit-scope ecosystem expansion run in
// parallel. The seed set for graph expansion is built strictly from the
// ranked vector results, so two calls with identical inputs over identical
// data produce identical bundles.
//
// An unreachable or timed-out index (or a failed embedding call) degrades the
// bundle rather than failing it: Degraded is set, the reason recorded, and
// whatever the graph half produced is still returned. Every other error
// propagates.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, scope Scope, opts *Options) (*ContextBundle, error) {
	if opts == nil {
		opts = &Options{}
	}
	alpha := opts.Alpha
	if opts.LexicalOnly {
		alpha = 0
	} else if alpha == 0 {
		alpha = DefaultAlpha
	}
	depth := opts.Depth
	if depth <= 0 {
		depth = DefaultDepth
	}

	bundle := &ContextBundle{Query: queryText}

	var vector []float32
	if alpha > 0 {
		vec, err := r.embedder.Embed(ctx, queryText)
		if err != nil {
			r.log.Warn("query embedding failed, degrading to graph-only retrieval",
				zap.Error(err))
			bundle.Degraded = true
			bundle.DegradedReason = "embedding: " + err.Error()
		} else {
			vector = vec
		}
	}

	var (
		hits     []index.Result
		scopeExp *graph.Expansion
	)
	g, gctx := errgroup.WithContext(ctx)
	if !bundle.Degraded {
		g.Go(func() error {
			q := &index.Query{
				Vector:  vector,
				Text:    queryText,
				K:       opts.K,
				Alpha:   alpha,
				Rerank:  opts.Rerank,
				Filters: scope.filters(),
			}
			res, err := r.idx.Search(gctx, q)
			if err != nil {
				return err
			}
			hits = res
			return nil
		})
	}
	if scope.EcosystemID != "" {
		g.Go(func() error {
			exp, err := r.walker.ExpandEcosystem(gctx, scope.EcosystemID, depth)
			if err != nil {
				return err
			}
			scopeExp = exp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if !errors.Is(err, index.ErrUnavailable) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		r.log.Warn("vector search unavailable, degrading to graph-only retrieval",
			zap.Error(err))
		bundle.Degraded = true
		bundle.DegradedReason = err.Error()
		hits = nil
		// The ecosystem leg may have been cancelled by the group; rerun it
		// alone so the graph half survives the outage.
		if scope.EcosystemID != "" && scopeExp == nil {
			exp, expErr := r.walker.ExpandEcosystem(ctx, scope.EcosystemID, depth)
			if expErr != nil {
				return nil, expErr
			}
			scopeExp = exp
		}
	}
	hits, err := r.liveHits(hits)
	if err != nil {
		return nil, err
	}
	bundle.Paragraphs = hits

	expansion, err := r.walker.Expand(ctx, seedSet(hits), depth)
	if err != nil {
		return nil, err
	}
	if scopeExp != nil {
		expansion.Merge(scopeExp)
	}

	organisms, ecosystems, err := r.hydrate(ctx, expansion)
	if err != nil {
		return nil, err
	}
	bundle.Organisms = organisms
	bundle.Ecosystems = ecosystems
	return bundle, nil
}

// filters maps a retrieval scope onto index filter constraints.
func (s *Scope) filters() index.Filters {
	return index.Filters{
		SessionID:     s.SessionID,
		EcosystemID:   s.EcosystemID,
		Location:      s.Location,
		Tags:          s.Tags,
		ExcludeTags:   s.ExcludeTags,
		TimestampFrom: s.TimestampFrom,
		TimestampTo:   s.TimestampTo,
	}
}

// liveHits drops hits whose paragraph no longer resolves in the store. Index
// eviction trails the storage transaction on delete, so a hit can reference a
// paragraph that is already gone; serving it would surface deleted content.
func (r *Retriever) liveHits(hits []index.Result) ([]index.Result, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	live := make([]index.Result, 0, len(hits))
	for _, hit := range hits {
		if _, err := r.store.GetParagraph(hit.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				r.log.Debug("dropping index hit for deleted paragraph",
					zap.String("paragraphId", string(hit.ID)))
				continue
			}
			return nil, err
		}
		live = append(live, hit)
	}
	return live, nil
}

// seedSet extracts the deduplicated organism seed set from ranked hits,
// preserving first-mention order.
func seedSet(hits []index.Result) []storage.OrganismID {
	var seeds []storage.OrganismID
	seen := make(map[storage.OrganismID]struct{})
	for _, hit := range hits {
		for _, id := range hit.OrganismIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			seeds = append(seeds, id)
		}
	}
	return seeds
}

// viaRank fixes the group order of organism entries in a bundle.
func viaRank(via string) int {
	switch via {
	case "": // seed
		return 0
	case string(storage.Mutualism):
		return 1
	case string(storage.Commensalism):
		return 2
	case string(storage.Parasitism):
		return 3
	case string(storage.Competition):
		return 4
	case string(storage.NeutralRel):
		return 5
	case "membership":
		return 6
	default:
		return 7
	}
}

// hydrate resolves expansion entities to full records, in parallel, and
// orders them deterministically. An entity deleted between expansion and
// hydration is dropped.
func (r *Retriever) hydrate(ctx context.Context, exp *graph.Expansion) ([]OrganismEntry, []EcosystemEntry, error) {
	orgEntities := make([]*graph.Entity, 0, len(exp.Organisms))
	for _, e := range exp.Organisms {
		orgEntities = append(orgEntities, e)
	}
	ecoEntities := make([]*graph.Entity, 0, len(exp.Ecosystems))
	for _, e := range exp.Ecosystems {
		ecoEntities = append(ecoEntities, e)
	}

	orgRecords := make([]*storage.Organism, len(orgEntities))
	ecoRecords := make([]*storage.Ecosystem, len(ecoEntities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hydrateConcurrency)
	for i, e := range orgEntities {
		i, e := i, e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			org, err := r.store.GetOrganism(e.OrganismID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					r.log.Debug("expanded organism vanished before hydration",
						zap.String("organismId", string(e.OrganismID)))
					return nil
				}
				return err
			}
			orgRecords[i] = org
			return nil
		})
	}
	for i, e := range ecoEntities {
		i, e := i, e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			eco, err := r.store.GetEcosystem(e.EcosystemID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					r.log.Debug("expanded ecosystem vanished before hydration",
						zap.String("ecosystemId", string(e.EcosystemID)))
					return nil
				}
				return err
			}
			ecoRecords[i] = eco
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	organisms := make([]OrganismEntry, 0, len(orgEntities))
	for i, e := range orgEntities {
		if orgRecords[i] == nil {
			continue
		}
		organisms = append(organisms, OrganismEntry{
			Organism: orgRecords[i],
			Via:      e.Via,
			Strength: e.Strength,
			Depth:    e.Depth,
		})
	}
	sort.Slice(organisms, func(i, j int) bool {
		ri, rj := viaRank(organisms[i].Via), viaRank(organisms[j].Via)
		if ri != rj {
			return ri < rj
		}
		if organisms[i].Strength != organisms[j].Strength {
			return organisms[i].Strength > organisms[j].Strength
		}
		return organisms[i].Organism.ID < organisms[j].Organism.ID
	})

	ecosystems := make([]EcosystemEntry, 0, len(ecoEntities))
	for i, e := range ecoEntities {
		if ecoRecords[i] == nil {
			continue
		}
		ecosystems = append(ecosystems, EcosystemEntry{
			Ecosystem: ecoRecords[i],
			Via:       e.Via,
			Depth:     e.Depth,
		})
	}
	sort.Slice(ecosystems, func(i, j int) bool {
		if ecosystems[i].Depth != ecosystems[j].Depth {
			return ecosystems[i].Depth < ecosystems[j].Depth
		}
		return ecosystems[i].Ecosystem.ID < ecosystems[j].Ecosystem.ID
	})

	return organisms, ecosystems, nil
}
