package storage

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/verdantlabs/symbiont/pkg/vecmath"
)

// Paragraph Operations
// ============================================================================

// CreateParagraph stores a paragraph. A non-empty NodeID owner must exist; an
// embedding, when present, is dimension-checked and normalized to unit length
// before storage.
func (b *BadgerEngine) CreateParagraph(p *Paragraph) error {
	if p == nil {
		return ErrInvalidData
	}
	if p.ID == "" {
		return ErrInvalidID
	}
	if len(p.Embedding) > 0 {
		if err := b.checkDimension(p.Embedding); err != nil {
			return err
		}
	}

	stored := copyParagraph(p)
	if stored.Timestamp == 0 {
		stored.Timestamp = nowMillis()
	}
	if len(stored.Embedding) > 0 {
		vecmath.NormalizeInPlace(stored.Embedding)
	}

	err := b.withUpdate(func(txn *badger.Txn) error {
		exists, err := keyExists(txn, paragraphKey(stored.ID))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("paragraph %s: %w", stored.ID, ErrConflict)
		}
		if stored.NodeID != "" {
			ok, err := keyExists(txn, nodeKey(stored.NodeID))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("owner node %s: %w", stored.NodeID, ErrNotFound)
			}
		}

		data, err := encodeEntity(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(paragraphKey(stored.ID), data); err != nil {
			return err
		}
		if stored.NodeID != "" {
			return txn.Set(paraByNodeKey(stored.NodeID, stored.ID), nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(stored.Embedding) > 0 {
		b.adoptDimension(len(stored.Embedding))
	}
	atomic.AddInt64(&b.paraCount, 1)
	return nil
}

// GetParagraph retrieves a paragraph by ID.
func (b *BadgerEngine) GetParagraph(id ParagraphID) (*Paragraph, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	var p Paragraph
	err := b.withView(func(txn *badger.Txn) error {
		if err := getJSON(txn, paragraphKey(id), &p); err != nil {
			if err == ErrNotFound {
				return fmt.Errorf("paragraph %s: %w", id, ErrNotFound)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteParagraph removes a single paragraph and its owner index entry.
func (b *BadgerEngine) DeleteParagraph(id ParagraphID) error {
	if id == "" {
		return ErrInvalidID
	}

	err := b.withUpdate(func(txn *badger.Txn) error {
		var p Paragraph
		if err := getJSON(txn, paragraphKey(id), &p); err != nil {
			if err == ErrNotFound {
				return fmt.Errorf("paragraph %s: %w", id, ErrNotFound)
			}
			return err
		}
		if p.NodeID != "" {
			if err := txn.Delete(paraByNodeKey(p.NodeID, id)); err != nil {
				return err
			}
		}
		return txn.Delete(paragraphKey(id))
	})
	if err != nil {
		return err
	}

	atomic.AddInt64(&b.paraCount, -1)
	return nil
}

// ListParagraphsByNode returns a node's paragraphs in Ordinal order, ties
// broken by ID.
func (b *BadgerEngine) ListParagraphsByNode(nodeID NodeID) ([]*Paragraph, error) {
	if nodeID == "" {
		return nil, ErrInvalidID
	}

	var out []*Paragraph
	err := b.withView(func(txn *badger.Txn) error {
		exists, err := keyExists(txn, nodeKey(nodeID))
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
		}

		for _, pid := range collectIndexMembers(txn, indexPrefix(prefixParaByNode, string(nodeID))) {
			var p Paragraph
			if err := getJSON(txn, paragraphKey(ParagraphID(pid)), &p); err != nil {
				if err == ErrNotFound {
					return fmt.Errorf("paragraph index references missing paragraph %s: %w",
						pid, ErrInconsistentState)
				}
				return err
			}
			out = append(out, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AttachEmbedding stores a paragraph's embedding vector, normalized to unit
// length. A paragraph holds at most one embedding; replacing an existing one
// requires replace=true, otherwise ErrConflict.
func (b *BadgerEngine) AttachEmbedding(id ParagraphID, embedding []float32, replace bool) error {
	if id == "" {
		return ErrInvalidID
	}
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding: %w", ErrInvalidData)
	}
	if err := b.checkDimension(embedding); err != nil {
		return err
	}

	normalized := make([]float32, len(embedding))
	copy(normalized, embedding)
	vecmath.NormalizeInPlace(normalized)

	err := b.withUpdate(func(txn *badger.Txn) error {
		var p Paragraph
		if err := getJSON(txn, paragraphKey(id), &p); err != nil {
			if err == ErrNotFound {
				return fmt.Errorf("paragraph %s: %w", id, ErrNotFound)
			}
			return err
		}
		if len(p.Embedding) > 0 && !replace {
			return fmt.Errorf("paragraph %s already has an embedding: %w", id, ErrConflict)
		}

		p.Embedding = normalized
		data, err := encodeEntity(&p)
		if err != nil {
			return err
		}
		return txn.Set(paragraphKey(id), data)
	})
	if err != nil {
		return err
	}

	b.adoptDimension(len(normalized))
	return nil
}

func paraByNodeKey(node NodeID, para ParagraphID) []byte {
	return indexKey(prefixParaByNode, string(node), string(para))
}
