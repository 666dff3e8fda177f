// Package symbiont provides the main API for embedded symbiont usage.
//
// A DB ties together the storage engine, the paragraph index, the graph
// walker, and the retrieval orchestrator behind one handle. Ingestion
// pipelines push nodes and paragraphs in; retrieval callers get ordered
// context bundles out.
//
// Example:
//
//	cfg := config.LoadDefaults()
//	db, err := symbiont.Open(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	node, err := db.CreateNode(&tree.CreateRequest{
//		Content:   "what keeps a coral reef alive?",
//		Type:      storage.NodeQuestion,
//		SessionID: "sess-1",
//	})
//
//	para := &storage.Paragraph{
//		ID:      "para-1",
//		Content: "zooxanthellae photosynthesize inside coral polyps",
//		NodeID:  node.ID,
//	}
//	if err := db.UpsertParagraph(ctx, para); err != nil {
//		log.Fatal(err)
//	}
//
//	bundle, err := db.Retrieve(ctx, "coral energy sources", retrieval.Scope{}, nil)
package symbiont

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/verdantlabs/symbiont/pkg/config"
	"github.com/verdantlabs/symbiont/pkg/embed"
	"github.com/verdantlabs/symbiont/pkg/graph"
	"github.com/verdantlabs/symbiont/pkg/index"
	"github.com/verdantlabs/symbiont/pkg/retrieval"
	"github.com/verdantlabs/symbiont/pkg/storage"
	"github.com/verdantlabs/symbiont/pkg/tree"
)

// DB is the embedded symbiont database handle. All methods are safe for
// concurrent use. Close releases the store and the index; using a closed DB
// returns storage.ErrStorageClosed from the engine.
type DB struct {
	cfg      *config.Config
	store    storage.Engine
	idx      index.Index
	embedder embed.Embedder
	walker   *graph.Walker
	tree     *tree.Service
	ret      *retrieval.Retriever
	log      *zap.Logger
}

// Open wires a DB from configuration. A nil config uses defaults; a nil
// logger is replaced with a no-op one.
func Open(cfg *config.Config, log *zap.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.LoadDefaults()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var store storage.Engine
	switch cfg.Storage.Backend {
	case "memory":
		store = storage.NewMemoryEngine(cfg.Storage.Dimensions)
	case "badger":
		engine, err := storage.NewBadgerEngine(cfg.Storage.DataDir, cfg.Storage.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = engine
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	embedder, err := embed.NewEmbedder(&embed.Config{
		Provider:   cfg.Embedding.Provider,
		APIURL:     cfg.Embedding.APIURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Storage.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	idx, err := buildIndex(cfg, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	walker := graph.NewWalker(store, log)
	db := &DB{
		cfg:      cfg,
		store:    store,
		idx:      idx,
		embedder: embedder,
		walker:   walker,
		tree:     tree.NewService(store, log),
		ret:      retrieval.NewRetriever(store, idx, walker, embedder, log),
		log:      log,
	}
	log.Info("symbiont opened",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("index", cfg.Index.Backend),
		zap.String("embedding", cfg.Embedding.Provider))
	return db, nil
}

func buildIndex(cfg *config.Config, log *zap.Logger) (index.Index, error) {
	embedded := index.NewEmbeddedIndex(cfg.Storage.Dimensions)
	embedded.SetReranker(index.TokenOverlapReranker{})
	switch cfg.Index.Backend {
	case "embedded":
		return embedded, nil
	case "remote":
		embedded.Close()
		return index.NewRemoteIndex(index.RemoteConfig{
			BaseURL:    cfg.Index.URL,
			Collection: cfg.Index.Collection,
			Timeout:    cfg.Index.Timeout,
			Logger:     log,
		})
	case "composite":
		remote, err := index.NewRemoteIndex(index.RemoteConfig{
			BaseURL:    cfg.Index.URL,
			Collection: cfg.Index.Collection,
			Timeout:    cfg.Index.Timeout,
			Logger:     log,
		})
		if err != nil {
			embedded.Close()
			return nil, err
		}
		return index.NewCompositeIndex(remote, embedded, log), nil
	default:
		embedded.Close()
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

// Store exposes the underlying engine for graph and paragraph reads.
func (db *DB) Store() storage.Engine { return db.store }

// Tree exposes the node tree service.
func (db *DB) Tree() *tree.Service { return db.tree }

// Walker exposes the graph walker.
func (db *DB) Walker() *graph.Walker { return db.walker }

// CreateNode creates a dialogue node with an assigned ID and position.
func (db *DB) CreateNode(req *tree.CreateRequest) (*storage.Node, error) {
	return db.tree.Create(req)
}

// GetNode returns a node by id.
func (db *DB) GetNode(id storage.NodeID) (*storage.Node, error) {
	return db.tree.Get(id)
}

// UpdateNode applies edits to an existing node.
func (db *DB) UpdateNode(node *storage.Node) (*storage.Node, error) {
	return db.tree.Update(node)
}

// DeleteNode removes a node and, with cascade, its whole subtree. Every
// paragraph the cascade removed is also evicted from the search index, so a
// deleted branch can never resurface in retrieval.
func (db *DB) DeleteNode(ctx context.Context, id storage.NodeID, cascade bool) (*storage.CascadeResult, error) {
	result, err := db.tree.Delete(id, cascade)
	if err != nil {
		return nil, err
	}
	for _, paraID := range result.Paragraphs {
		if err := db.idx.Delete(ctx, paraID); err != nil {
			// The store no longer holds the paragraph; eviction failure only
			// leaves a stale index entry. Log and keep going.
			db.log.Warn("index eviction failed after cascade delete",
				zap.String("paragraphId", string(paraID)),
				zap.Error(err))
		}
	}
	return result, nil
}

// UpsertParagraph stores a paragraph and indexes it for retrieval. A missing
// embedding is generated from the content; an existing paragraph with the
// same id is replaced.
func (db *DB) UpsertParagraph(ctx context.Context, p *storage.Paragraph) error {
	if p.Embedding == nil {
		vec, err := db.embedder.Embed(ctx, p.Content)
		if err != nil {
			return fmt.Errorf("embed paragraph: %w", err)
		}
		p.Embedding = vec
	}

	err := db.store.CreateParagraph(p)
	if errors.Is(err, storage.ErrConflict) {
		if err := db.store.DeleteParagraph(p.ID); err != nil {
			return err
		}
		err = db.store.CreateParagraph(p)
	}
	if err != nil {
		return err
	}

	stored, err := db.store.GetParagraph(p.ID)
	if err != nil {
		return err
	}
	return db.idx.Upsert(ctx, &index.Document{
		ID:          stored.ID,
		Content:     stored.Content,
		Embedding:   stored.Embedding,
		DocumentID:  stored.DocumentID,
		EcosystemID: stored.EcosystemID,
		Location:    stored.Location,
		SessionID:   stored.SessionID,
		Tags:        stored.Tags,
		Timestamp:   stored.Timestamp,
		OrganismIDs: stored.OrganismIDs,
	})
}

// DeleteParagraph removes a paragraph from the store and the index.
func (db *DB) DeleteParagraph(ctx context.Context, id storage.ParagraphID) error {
	if err := db.store.DeleteParagraph(id); err != nil {
		return err
	}
	return db.idx.Delete(ctx, id)
}

// Retrieve answers a query within a scope; see retrieval.Retriever.
func (db *DB) Retrieve(ctx context.Context, queryText string, scope retrieval.Scope, opts *retrieval.Options) (*retrieval.ContextBundle, error) {
	if opts == nil {
		opts = &retrieval.Options{
			K:           db.cfg.Retrieval.K,
			Alpha:       db.cfg.Retrieval.Alpha,
			LexicalOnly: db.cfg.Retrieval.Alpha == 0,
			Depth:       db.cfg.Retrieval.Depth,
			Rerank:      db.cfg.Retrieval.Rerank,
		}
	}
	return db.ret.Retrieve(ctx, queryText, scope, opts)
}

// Stats returns entity counts from the store plus the index document count.
func (db *DB) Stats() (*Stats, error) {
	stored, err := db.store.Stats()
	if err != nil {
		return nil, err
	}
	return &Stats{Storage: *stored, IndexedDocuments: db.idx.Count()}, nil
}

// Stats combines storage and index counters.
type Stats struct {
	Storage          storage.Stats `json:"storage"`
	IndexedDocuments int           `json:"indexedDocuments"`
}

// Close releases the store and the index.
func (db *DB) Close() error {
	idxErr := db.idx.Close()
	storeErr := db.store.Close()
	if storeErr != nil {
		return storeErr
	}
	return idxErr
}
