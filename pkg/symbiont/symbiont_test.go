package symbiont

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantlabs/symbiont/pkg/config"
	"github.com/verdantlabs/symbiont/pkg/retrieval"
	"github.com/verdantlabs/symbiont/pkg/storage"
	"github.com/verdantlabs/symbiont/pkg/tree"
)

func openDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.LoadDefaults()
	cfg.Storage.Backend = "memory"
	db, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		db, err := Open(nil, nil)
		require.NoError(t, err)
		require.NoError(t, db.Close())
	})

	t.Run("badger on disk", func(t *testing.T) {
		cfg := config.LoadDefaults()
		cfg.Storage.DataDir = t.TempDir()
		db, err := Open(cfg, nil)
		require.NoError(t, err)
		require.NoError(t, db.Close())
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		cfg := config.LoadDefaults()
		cfg.Index.Backend = "remote" // no URL
		_, err := Open(cfg, nil)
		assert.Error(t, err)
	})
}

func TestDB_IngestAndRetrieve(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	node, err := db.CreateNode(&tree.CreateRequest{
		Content:   "what pollinates the meadow?",
		Type:      storage.NodeQuestion,
		SessionID: "sess-1",
	})
	require.NoError(t, err)

	require.NoError(t, db.UpsertParagraph(ctx, &storage.Paragraph{
		ID:      "para-1",
		Content: "honeybees carry pollen between clover blossoms",
		NodeID:  node.ID,
	}))

	bundle, err := db.Retrieve(ctx, "honeybees carry pollen between clover blossoms", retrieval.Scope{}, nil)
	require.NoError(t, err)
	require.False(t, bundle.Degraded)
	require.NotEmpty(t, bundle.Paragraphs)
	assert.Equal(t, storage.ParagraphID("para-1"), bundle.Paragraphs[0].ID)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Storage.Nodes)
	assert.Equal(t, int64(1), stats.Storage.Paragraphs)
	assert.Equal(t, 1, stats.IndexedDocuments)
}

func TestDB_UpsertParagraphReplaces(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertParagraph(ctx, &storage.Paragraph{
		ID:      "para-1",
		Content: "first draft about lichens",
	}))
	require.NoError(t, db.UpsertParagraph(ctx, &storage.Paragraph{
		ID:      "para-1",
		Content: "lichens are a fungus and alga living as one body",
	}))

	stored, err := db.Store().GetParagraph("para-1")
	require.NoError(t, err)
	assert.Contains(t, stored.Content, "fungus")

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Storage.Paragraphs)
	assert.Equal(t, 1, stats.IndexedDocuments)
}

func TestDB_CascadeDeleteEvictsIndex(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	root, err := db.CreateNode(&tree.CreateRequest{Content: "root", Type: storage.NodeQuestion})
	require.NoError(t, err)
	child, err := db.CreateNode(&tree.CreateRequest{ParentID: root.ID, Content: "child", Type: storage.NodeAnswer})
	require.NoError(t, err)

	require.NoError(t, db.UpsertParagraph(ctx, &storage.Paragraph{
		ID:      "para-child",
		Content: "mangrove roots shelter juvenile fish",
		NodeID:  child.ID,
	}))

	result, err := db.DeleteNode(ctx, root.ID, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []storage.NodeID{root.ID, child.ID}, result.Nodes)
	assert.Equal(t, []storage.ParagraphID{"para-child"}, result.Paragraphs)

	// The deleted branch never resurfaces in retrieval.
	bundle, err := db.Retrieve(ctx, "mangrove roots shelter juvenile fish", retrieval.Scope{}, nil)
	require.NoError(t, err)
	assert.Empty(t, bundle.Paragraphs)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.IndexedDocuments)
}

func TestDB_DeleteParagraph(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertParagraph(ctx, &storage.Paragraph{
		ID:      "para-1",
		Content: "earthworms aerate the soil",
	}))
	require.NoError(t, db.DeleteParagraph(ctx, "para-1"))

	_, err := db.Store().GetParagraph("para-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.IndexedDocuments)
}
