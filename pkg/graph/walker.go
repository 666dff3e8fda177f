// Package graph implements the relationship graph walker: bounded
// breadth-first expansion over the organism/ecosystem subgraph used to enrich
// vector search hits with structurally related entities.
package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/verdantlabs/symbiont/pkg/storage"
)

// EntityKind tags what an expanded ID refers to.
type EntityKind string

const (
	KindOrganism  EntityKind = "organism"
	KindEcosystem EntityKind = "ecosystem"
)

// Entity is one member of an expansion result: the reached ID, what it is,
// how it was reached, and at which hop distance from the nearest seed.
type Entity struct {
	OrganismID  storage.OrganismID
	EcosystemID storage.EcosystemID
	Kind        EntityKind

	// Via is the relationship type that first reached this entity, or
	// "membership"/"ecosystem" for membership edges and upward ecosystem
	// containment. Seeds carry an empty Via.
	Via string

	// Strength of the edge that reached the entity; the orchestrator uses it
	// for ranking, never for pruning.
	Strength float64

	// Depth is the hop distance from the nearest seed (0 for seeds).
	Depth int
}

// Expansion is the result of one Expand call.
type Expansion struct {
	Organisms  map[storage.OrganismID]*Entity
	Ecosystems map[storage.EcosystemID]*Entity
}

// Walker expands seed sets over symbiotic relationships and ecosystem
// memberships. It is read-only over the store and best-effort by contract:
// missing seeds are skipped, never errors.
type Walker struct {
	store storage.Engine
	log   *zap.Logger
}

// NewWalker creates a walker over the given store.
func NewWalker(store storage.Engine, log *zap.Logger) *Walker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Walker{store: store, log: log}
}

// Expand runs a breadth-first traversal from the seed organisms, following
// relationship edges and membership edges in both directions, up to maxDepth
// hops from the nearest seed. Each entity is visited at most once; edge
// strength never prunes traversal.
//
// Hops count organism steps: an organism, the ecosystem it belongs to, and
// that ecosystem's co-members are all one hop apart, so co-members share the
// ecosystem's depth rather than paying a second hop for the membership edge.
//
// Ecosystems reached through memberships additionally pull in their ancestor
// chain (upward only — descending would drag in unrelated sibling
// sub-ecosystems). The upward walk carries its own visited set because the
// source data cannot guarantee acyclic parent chains.
//
// A seed that does not exist is skipped silently: the walker enriches, it
// does not validate.
func (w *Walker) Expand(ctx context.Context, seeds []storage.OrganismID, maxDepth int) (*Expansion, error) {
	result := &Expansion{
		Organisms:  make(map[storage.OrganismID]*Entity),
		Ecosystems: make(map[storage.EcosystemID]*Entity),
	}
	if maxDepth < 0 || len(seeds) == 0 {
		return result, nil
	}

	type frontierItem struct {
		id    storage.OrganismID
		depth int
	}
	var frontier []frontierItem
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, dup := result.Organisms[seed]; dup {
			continue
		}
		if _, err := w.store.GetOrganism(seed); err != nil {
			w.log.Debug("skipping missing seed organism", zap.String("organism", string(seed)))
			continue
		}
		result.Organisms[seed] = &Entity{OrganismID: seed, Kind: KindOrganism, Depth: 0}
		frontier = append(frontier, frontierItem{id: seed, depth: 0})
	}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := frontier[0]
		frontier = frontier[1:]
		if current.depth >= maxDepth {
			continue
		}
		next := current.depth + 1

		rels, err := w.store.RelationshipsForOrganism(current.id)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			other := rel.Organism2ID
			if other == current.id {
				other = rel.Organism1ID
			}
			if _, seen := result.Organisms[other]; seen {
				continue
			}
			result.Organisms[other] = &Entity{
				OrganismID: other,
				Kind:       KindOrganism,
				Via:        string(rel.Type),
				Strength:   rel.Strength,
				Depth:      next,
			}
			frontier = append(frontier, frontierItem{id: other, depth: next})
		}

		membs, err := w.store.MembershipsForOrganism(current.id)
		if err != nil {
			return nil, err
		}
		for _, memb := range membs {
			if _, seen := result.Ecosystems[memb.EcosystemID]; seen {
				continue
			}
			result.Ecosystems[memb.EcosystemID] = &Entity{
				EcosystemID: memb.EcosystemID,
				Kind:        KindEcosystem,
				Via:         "membership",
				Depth:       next,
			}
			w.climbAncestors(memb.EcosystemID, next, result)

			// Membership edges work both ways: co-members of the reached
			// ecosystem join the frontier.
			coMembs, err := w.store.MembershipsForEcosystem(memb.EcosystemID)
			if err != nil {
				return nil, err
			}
			for _, co := range coMembs {
				if _, seen := result.Organisms[co.OrganismID]; seen {
					continue
				}
				result.Organisms[co.OrganismID] = &Entity{
					OrganismID: co.OrganismID,
					Kind:       KindOrganism,
					Via:        "membership",
					Depth:      next,
				}
				frontier = append(frontier, frontierItem{id: co.OrganismID, depth: next})
			}
		}
	}

	return result, nil
}

// ExpandEcosystem seeds an expansion directly from an ecosystem (an
// explicitly scoped retrieval): the ecosystem itself, its ancestor chain, and
// its member organisms expanded to maxDepth. A missing ecosystem is skipped
// silently, same as a missing organism seed.
func (w *Walker) ExpandEcosystem(ctx context.Context, id storage.EcosystemID, maxDepth int) (*Expansion, error) {
	result := &Expansion{
		Organisms:  make(map[storage.OrganismID]*Entity),
		Ecosystems: make(map[storage.EcosystemID]*Entity),
	}
	if _, err := w.store.GetEcosystem(id); err != nil {
		w.log.Debug("skipping missing seed ecosystem", zap.String("ecosystem", string(id)))
		return result, nil
	}

	result.Ecosystems[id] = &Entity{EcosystemID: id, Kind: KindEcosystem, Depth: 0}
	w.climbAncestors(id, 0, result)

	membs, err := w.store.MembershipsForEcosystem(id)
	if err != nil {
		return nil, err
	}
	seeds := make([]storage.OrganismID, 0, len(membs))
	for _, m := range membs {
		seeds = append(seeds, m.OrganismID)
	}
	expanded, err := w.Expand(ctx, seeds, maxDepth)
	if err != nil {
		return nil, err
	}
	result.Merge(expanded)
	return result, nil
}

// climbAncestors walks the parent chain upward from eco, adding each ancestor
// once. The visited check runs against the accumulated result set, which also
// guards against cyclic parent chains in the source data.
func (w *Walker) climbAncestors(eco storage.EcosystemID, depth int, result *Expansion) {
	current := eco
	for {
		e, err := w.store.GetEcosystem(current)
		if err != nil {
			return
		}
		if e.ParentID == "" {
			return
		}
		if _, seen := result.Ecosystems[e.ParentID]; seen {
			return
		}
		result.Ecosystems[e.ParentID] = &Entity{
			EcosystemID: e.ParentID,
			Kind:        KindEcosystem,
			Via:         "ecosystem",
			Depth:       depth,
		}
		current = e.ParentID
	}
}

// Merge folds other into e, keeping the entry with the smaller depth when
// both sides reached the same entity.
func (e *Expansion) Merge(other *Expansion) {
	for id, ent := range other.Organisms {
		if existing, ok := e.Organisms[id]; !ok || ent.Depth < existing.Depth {
			e.Organisms[id] = ent
		}
	}
	for id, ent := range other.Ecosystems {
		if existing, ok := e.Ecosystems[id]; !ok || ent.Depth < existing.Depth {
			e.Ecosystems[id] = ent
		}
	}
}

// Size returns the total entity count.
func (e *Expansion) Size() int {
	return len(e.Organisms) + len(e.Ecosystems)
}
