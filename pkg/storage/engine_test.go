package storage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forEachEngine runs the same conformance suite against every Engine
// implementation.
func forEachEngine(t *testing.T, fn func(t *testing.T, engine Engine)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		engine := NewMemoryEngine(0)
		t.Cleanup(func() { engine.Close() })
		fn(t, engine)
	})

	t.Run("badger", func(t *testing.T) {
		engine, err := NewBadgerEngine(t.TempDir(), 0)
		require.NoError(t, err)
		t.Cleanup(func() { engine.Close() })
		fn(t, engine)
	})
}

func TestEngine_NodeLifecycle(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		root := &Node{ID: "n-root", Content: "pollinators", Type: NodeQuestion, Role: RoleUser}
		require.NoError(t, engine.CreateNode(root))

		stored, err := engine.GetNode("n-root")
		require.NoError(t, err)
		assert.Equal(t, NodeID("n-root"), stored.ID)
		assert.Equal(t, "pollinators", stored.Content)
		assert.Empty(t, stored.ChildIDs)
		assert.NotZero(t, stored.Seq)
		assert.NotZero(t, stored.Timestamp)

		// Duplicate ID conflicts.
		err = engine.CreateNode(&Node{ID: "n-root"})
		assert.ErrorIs(t, err, ErrConflict)

		// Dangling parent fails.
		err = engine.CreateNode(&Node{ID: "n-orphan", ParentID: "n-missing"})
		assert.ErrorIs(t, err, ErrNotFound)

		// Update keeps sequence and rejects reparenting.
		stored.Content = "pollinator decline"
		require.NoError(t, engine.UpdateNode(stored))
		updated, err := engine.GetNode("n-root")
		require.NoError(t, err)
		assert.Equal(t, "pollinator decline", updated.Content)
		assert.Equal(t, stored.Seq, updated.Seq)

		child := &Node{ID: "n-child", ParentID: "n-root", Content: "bees"}
		require.NoError(t, engine.CreateNode(child))
		child.ParentID = "n-child2"
		err = engine.UpdateNode(child)
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestEngine_ChildIDsDerived(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		require.NoError(t, engine.CreateNode(&Node{ID: "p"}))
		require.NoError(t, engine.CreateNode(&Node{ID: "c1", ParentID: "p"}))
		require.NoError(t, engine.CreateNode(&Node{ID: "c2", ParentID: "p"}))

		// ChildIDs on write are ignored: the stored view is derived.
		bogus := &Node{ID: "q", ChildIDs: []NodeID{"c1"}}
		require.NoError(t, engine.CreateNode(bogus))
		q, err := engine.GetNode("q")
		require.NoError(t, err)
		assert.Empty(t, q.ChildIDs)

		p, err := engine.GetNode("p")
		require.NoError(t, err)
		assert.Equal(t, []NodeID{"c1", "c2"}, p.ChildIDs)
	})
}

func TestEngine_SiblingOrdering(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		require.NoError(t, engine.CreateNode(&Node{ID: "p"}))
		require.NoError(t, engine.CreateNode(&Node{ID: "a", ParentID: "p"}))
		require.NoError(t, engine.CreateNode(&Node{ID: "b", ParentID: "p"}))
		require.NoError(t, engine.CreateNode(&Node{ID: "c", ParentID: "p", OrderKey: 0.5}))

		children, err := engine.ListChildren("p")
		require.NoError(t, err)
		require.Len(t, children, 3)

		// Explicit order key sorts ahead of creation-sequence fallbacks.
		assert.Equal(t, NodeID("c"), children[0].ID)
		assert.Equal(t, NodeID("a"), children[1].ID)
		assert.Equal(t, NodeID("b"), children[2].ID)

		_, err = engine.ListChildren("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEngine_ConcurrentSiblingCreation(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		require.NoError(t, engine.CreateNode(&Node{ID: "parent"}))

		const workers = 16
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = engine.CreateNode(&Node{
					ID:       NodeID(fmt.Sprintf("child-%02d", i)),
					ParentID: "parent",
				})
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			require.NoError(t, err, "worker %d", i)
		}
		children, err := engine.ListChildren("parent")
		require.NoError(t, err)
		assert.Len(t, children, workers)
	})
}

func TestEngine_CascadeDelete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		// N0 (system) -> N1 (user) -> N2 (assistant)
		require.NoError(t, engine.CreateNode(&Node{ID: "N0", Role: RoleSystem}))
		require.NoError(t, engine.CreateNode(&Node{ID: "N1", ParentID: "N0", Role: RoleUser, Content: "pollinators"}))
		require.NoError(t, engine.CreateNode(&Node{ID: "N2", ParentID: "N1", Role: RoleAssistant}))
		require.NoError(t, engine.CreateParagraph(&Paragraph{ID: "P1", NodeID: "N1", Content: "bees pollinate flowers"}))
		require.NoError(t, engine.CreateParagraph(&Paragraph{ID: "P2", NodeID: "N2", Content: "wind pollination"}))

		t.Run("without cascade fails on children", func(t *testing.T) {
			_, err := engine.DeleteNode("N1", false)
			assert.ErrorIs(t, err, ErrConflict)
		})

		t.Run("cascade removes subtree and paragraphs", func(t *testing.T) {
			result, err := engine.DeleteNode("N1", true)
			require.NoError(t, err)
			assert.ElementsMatch(t, []NodeID{"N1", "N2"}, result.Nodes)
			assert.ElementsMatch(t, []ParagraphID{"P1", "P2"}, result.Paragraphs)

			_, err = engine.GetNode("N1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = engine.GetNode("N2")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = engine.GetParagraph("P1")
			assert.ErrorIs(t, err, ErrNotFound)

			// Root stays, with no dangling child reference.
			n0, err := engine.GetNode("N0")
			require.NoError(t, err)
			assert.Empty(t, n0.ChildIDs)
		})

		t.Run("missing node", func(t *testing.T) {
			_, err := engine.DeleteNode("gone", true)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	})
}

func TestEngine_SessionListing(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		require.NoError(t, engine.CreateNode(&Node{ID: "s1-a", SessionID: "s1"}))
		require.NoError(t, engine.CreateNode(&Node{ID: "s2-a", SessionID: "s2"}))
		require.NoError(t, engine.CreateNode(&Node{ID: "s1-b", SessionID: "s1"}))

		nodes, err := engine.ListNodesBySession("s1")
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, NodeID("s1-a"), nodes[0].ID)
		assert.Equal(t, NodeID("s1-b"), nodes[1].ID)

		empty, err := engine.ListNodesBySession("nope")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestEngine_Paragraphs(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		require.NoError(t, engine.CreateNode(&Node{ID: "n1"}))

		t.Run("dangling owner", func(t *testing.T) {
			err := engine.CreateParagraph(&Paragraph{ID: "px", NodeID: "missing"})
			assert.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("ordinal listing", func(t *testing.T) {
			require.NoError(t, engine.CreateParagraph(&Paragraph{ID: "p2", NodeID: "n1", Ordinal: 2}))
			require.NoError(t, engine.CreateParagraph(&Paragraph{ID: "p1", NodeID: "n1", Ordinal: 1}))

			paras, err := engine.ListParagraphsByNode("n1")
			require.NoError(t, err)
			require.Len(t, paras, 2)
			assert.Equal(t, ParagraphID("p1"), paras[0].ID)
			assert.Equal(t, ParagraphID("p2"), paras[1].ID)
		})

		t.Run("free paragraph without node", func(t *testing.T) {
			require.NoError(t, engine.CreateParagraph(&Paragraph{ID: "free", Content: "standalone"}))
			p, err := engine.GetParagraph("free")
			require.NoError(t, err)
			assert.Equal(t, "standalone", p.Content)
		})

		t.Run("delete", func(t *testing.T) {
			require.NoError(t, engine.DeleteParagraph("p2"))
			_, err := engine.GetParagraph("p2")
			assert.ErrorIs(t, err, ErrNotFound)
			paras, err := engine.ListParagraphsByNode("n1")
			require.NoError(t, err)
			assert.Len(t, paras, 1)
		})
	})
}

func TestEngine_AttachEmbedding(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		require.NoError(t, engine.CreateNode(&Node{ID: "n1"}))
		require.NoError(t, engine.CreateParagraph(&Paragraph{ID: "p1", NodeID: "n1"}))

		t.Run("stores normalized", func(t *testing.T) {
			require.NoError(t, engine.AttachEmbedding("p1", []float32{3, 4}, false))
			p, err := engine.GetParagraph("p1")
			require.NoError(t, err)
			require.Len(t, p.Embedding, 2)
			assert.InDelta(t, 0.6, p.Embedding[0], 1e-5)
			assert.InDelta(t, 0.8, p.Embedding[1], 1e-5)
		})

		t.Run("second attach conflicts", func(t *testing.T) {
			err := engine.AttachEmbedding("p1", []float32{1, 0}, false)
			assert.ErrorIs(t, err, ErrConflict)
		})

		t.Run("replace overwrites", func(t *testing.T) {
			require.NoError(t, engine.AttachEmbedding("p1", []float32{0, 2}, true))
			p, err := engine.GetParagraph("p1")
			require.NoError(t, err)
			assert.InDelta(t, 1.0, p.Embedding[1], 1e-5)
		})

		t.Run("first embedding fixes dimensionality", func(t *testing.T) {
			require.NoError(t, engine.CreateParagraph(&Paragraph{ID: "p3", NodeID: "n1"}))
			err := engine.AttachEmbedding("p3", []float32{1, 2, 3}, false)
			assert.ErrorIs(t, err, ErrInvalidDimension)
		})

		t.Run("missing paragraph", func(t *testing.T) {
			err := engine.AttachEmbedding("ghost", []float32{1, 0}, false)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	})
}

func TestEngine_BiologicalGraph(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		hive := &Ecosystem{ID: "eco-hive", Name: "hive", Scale: ScaleMicrohabitat}
		require.NoError(t, engine.CreateEcosystem(hive))
		bee := &Organism{ID: "org-bee", Name: "bee", Type: OrganismAnimal, Trophic: TrophicConsumer, Confidence: 0.9}
		flower := &Organism{ID: "org-flower", Name: "flower", Type: OrganismPlant, Trophic: TrophicProducer, Confidence: 0.95}
		require.NoError(t, engine.CreateOrganism(bee))
		require.NoError(t, engine.CreateOrganism(flower))

		t.Run("membership endpoints must exist", func(t *testing.T) {
			err := engine.CreateMembership(&Membership{ID: "m-x", OrganismID: "ghost", EcosystemID: "eco-hive"})
			assert.ErrorIs(t, err, ErrNotFound)
		})

		require.NoError(t, engine.CreateMembership(&Membership{
			ID: "m-1", OrganismID: "org-bee", EcosystemID: "eco-hive", Role: "pollinator",
		}))

		t.Run("self relationship rejected", func(t *testing.T) {
			err := engine.CreateRelationship(&Relationship{
				ID: "r-x", Organism1ID: "org-bee", Organism2ID: "org-bee", Type: Mutualism,
			})
			assert.ErrorIs(t, err, ErrInvalidData)
		})

		t.Run("strength out of range", func(t *testing.T) {
			err := engine.CreateRelationship(&Relationship{
				ID: "r-y", Organism1ID: "org-bee", Organism2ID: "org-flower", Strength: 1.5,
			})
			assert.ErrorIs(t, err, ErrInvalidData)
		})

		require.NoError(t, engine.CreateRelationship(&Relationship{
			ID: "r-1", Organism1ID: "org-bee", Organism2ID: "org-flower",
			Type: Mutualism, Level: InterOrganism, Strength: 0.8,
		}))

		t.Run("adjacency from both endpoints", func(t *testing.T) {
			rels, err := engine.RelationshipsForOrganism("org-bee")
			require.NoError(t, err)
			require.Len(t, rels, 1)
			assert.Equal(t, Mutualism, rels[0].Type)

			rels, err = engine.RelationshipsForOrganism("org-flower")
			require.NoError(t, err)
			require.Len(t, rels, 1)
			assert.Equal(t, RelationshipID("r-1"), rels[0].ID)
		})

		t.Run("memberships by organism and ecosystem", func(t *testing.T) {
			byOrg, err := engine.MembershipsForOrganism("org-bee")
			require.NoError(t, err)
			require.Len(t, byOrg, 1)
			assert.Equal(t, "pollinator", byOrg[0].Role)

			byEco, err := engine.MembershipsForEcosystem("eco-hive")
			require.NoError(t, err)
			assert.Len(t, byEco, 1)
		})

		t.Run("microbiome ecosystem on organism", func(t *testing.T) {
			gut := &Ecosystem{ID: "eco-gut", Name: "bee gut", ParentID: "eco-hive", Scale: ScaleOrgan}
			require.NoError(t, engine.CreateEcosystem(gut))
			host := &Organism{ID: "org-host", Name: "queen", InternalEcosystemID: "eco-gut", Confidence: 1}
			require.NoError(t, engine.CreateOrganism(host))

			err := engine.CreateOrganism(&Organism{ID: "org-bad", InternalEcosystemID: "eco-none"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	})
}

func TestEngine_Stats(t *testing.T) {
	forEachEngine(t, func(t *testing.T, engine Engine) {
		require.NoError(t, engine.CreateNode(&Node{ID: "n1"}))
		require.NoError(t, engine.CreateParagraph(&Paragraph{ID: "p1", NodeID: "n1"}))
		require.NoError(t, engine.CreateEcosystem(&Ecosystem{ID: "e1", Name: "pond"}))

		stats, err := engine.Stats()
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.Nodes)
		assert.EqualValues(t, 1, stats.Paragraphs)
		assert.EqualValues(t, 1, stats.Ecosystems)
		assert.EqualValues(t, 0, stats.Organisms)

		_, err = engine.DeleteNode("n1", true)
		require.NoError(t, err)
		stats, err = engine.Stats()
		require.NoError(t, err)
		assert.EqualValues(t, 0, stats.Nodes)
		assert.EqualValues(t, 0, stats.Paragraphs)
	})
}
