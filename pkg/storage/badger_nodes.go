package storage

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Node Operations
// ============================================================================

// CreateNode creates a new tree node. The parent, when set, must already
// exist; the child index entry is written in the same transaction.
func (b *BadgerEngine) CreateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}
	if err := b.ensureOpen(); err != nil {
		return err
	}

	seq, err := b.nextSeq()
	if err != nil {
		return err
	}

	stored := copyNode(node)
	stored.ChildIDs = nil
	stored.Seq = seq
	if stored.Timestamp == 0 {
		stored.Timestamp = nowMillis()
	}

	err = b.withUpdate(func(txn *badger.Txn) error {
		exists, err := keyExists(txn, nodeKey(stored.ID))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("node %s: %w", stored.ID, ErrConflict)
		}
		if stored.ParentID != "" {
			ok, err := keyExists(txn, nodeKey(stored.ParentID))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("parent %s: %w", stored.ParentID, ErrNotFound)
			}
		}

		data, err := encodeEntity(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(nodeKey(stored.ID), data); err != nil {
			return err
		}
		if stored.ParentID != "" {
			if err := txn.Set(childIndexKey(stored.ParentID, stored.ID), nil); err != nil {
				return err
			}
		}
		if stored.SessionID != "" {
			if err := txn.Set(sessionIndexKey(stored.SessionID, stored.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	node.Seq = seq
	atomic.AddInt64(&b.nodeCount, 1)
	return nil
}

// GetNode retrieves a node by ID with its derived ChildIDs populated.
func (b *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}

	if cached, ok := b.nodeCache.Get(id); ok {
		out := copyNode(cached)
		// ChildIDs are not cached; they change independently of the node row.
		children, err := b.ListChildren(id)
		if err != nil {
			return nil, err
		}
		out.ChildIDs = childIDsOf(children)
		return out, nil
	}

	var node Node
	err := b.withView(func(txn *badger.Txn) error {
		if err := getJSON(txn, nodeKey(id), &node); err != nil {
			if err == ErrNotFound {
				return fmt.Errorf("node %s: %w", id, ErrNotFound)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.nodeCache.Add(id, copyNode(&node))

	children, err := b.ListChildren(id)
	if err != nil {
		return nil, err
	}
	node.ChildIDs = childIDsOf(children)
	return &node, nil
}

// UpdateNode replaces a node's content and metadata. Reparenting is rejected.
func (b *BadgerEngine) UpdateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}

	err := b.withUpdate(func(txn *badger.Txn) error {
		var existing Node
		if err := getJSON(txn, nodeKey(node.ID), &existing); err != nil {
			if err == ErrNotFound {
				return fmt.Errorf("node %s: %w", node.ID, ErrNotFound)
			}
			return err
		}
		if node.ParentID != existing.ParentID {
			return fmt.Errorf("node %s: reparenting not supported: %w", node.ID, ErrConflict)
		}

		stored := copyNode(node)
		stored.ChildIDs = nil
		stored.Seq = existing.Seq
		if stored.Timestamp == 0 {
			stored.Timestamp = existing.Timestamp
		}

		if existing.SessionID != stored.SessionID {
			if existing.SessionID != "" {
				if err := txn.Delete(sessionIndexKey(existing.SessionID, node.ID)); err != nil {
					return err
				}
			}
			if stored.SessionID != "" {
				if err := txn.Set(sessionIndexKey(stored.SessionID, node.ID), nil); err != nil {
					return err
				}
			}
		}

		data, err := encodeEntity(stored)
		if err != nil {
			return err
		}
		return txn.Set(nodeKey(node.ID), data)
	})
	if err != nil {
		return err
	}

	b.nodeCache.Remove(node.ID)
	return nil
}

// DeleteNode removes a node. cascade=true removes the full descendant subtree
// and every paragraph owned by it inside one Badger transaction — concurrent
// readers see either the pre-delete or post-delete state. cascade=false fails
// with ErrConflict if children remain.
func (b *BadgerEngine) DeleteNode(id NodeID, cascade bool) (*CascadeResult, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	result := &CascadeResult{}
	err := b.withUpdate(func(txn *badger.Txn) error {
		var root Node
		if err := getJSON(txn, nodeKey(id), &root); err != nil {
			if err == ErrNotFound {
				return fmt.Errorf("node %s: %w", id, ErrNotFound)
			}
			return err
		}

		// Walk the subtree breadth-first off the child index.
		type doomedNode struct {
			id       NodeID
			parentID NodeID
			session  string
		}
		doomed := []doomedNode{{id: id, parentID: root.ParentID, session: root.SessionID}}
		for i := 0; i < len(doomed); i++ {
			childIDs := collectIndexMembers(txn, indexPrefix(prefixChildIndex, string(doomed[i].id)))
			if !cascade && i == 0 && len(childIDs) > 0 {
				return fmt.Errorf("node %s has children: %w", id, ErrConflict)
			}
			for _, cid := range childIDs {
				var child Node
				if err := getJSON(txn, nodeKey(NodeID(cid)), &child); err != nil {
					if err == ErrNotFound {
						return fmt.Errorf("child index references missing node %s: %w",
							cid, ErrInconsistentState)
					}
					return err
				}
				doomed = append(doomed, doomedNode{
					id: child.ID, parentID: child.ParentID, session: child.SessionID,
				})
			}
		}

		for _, d := range doomed {
			// Paragraphs owned by the node go with it.
			paraPrefix := indexPrefix(prefixParaByNode, string(d.id))
			for _, pid := range collectIndexMembers(txn, paraPrefix) {
				if err := txn.Delete(paragraphKey(ParagraphID(pid))); err != nil {
					return err
				}
				if err := txn.Delete(indexKey(prefixParaByNode, string(d.id), pid)); err != nil {
					return err
				}
				result.Paragraphs = append(result.Paragraphs, ParagraphID(pid))
			}

			// Child index entries under this node.
			for _, cid := range collectIndexMembers(txn, indexPrefix(prefixChildIndex, string(d.id))) {
				if err := txn.Delete(childIndexKey(d.id, NodeID(cid))); err != nil {
					return err
				}
			}
			// This node's entry under its parent.
			if d.parentID != "" {
				if err := txn.Delete(childIndexKey(d.parentID, d.id)); err != nil {
					return err
				}
			}
			if d.session != "" {
				if err := txn.Delete(sessionIndexKey(d.session, d.id)); err != nil {
					return err
				}
			}
			if err := txn.Delete(nodeKey(d.id)); err != nil {
				return err
			}
			result.Nodes = append(result.Nodes, d.id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, nid := range result.Nodes {
		b.nodeCache.Remove(nid)
	}
	atomic.AddInt64(&b.nodeCount, -int64(len(result.Nodes)))
	atomic.AddInt64(&b.paraCount, -int64(len(result.Paragraphs)))
	return result, nil
}

// ListChildren returns the node's children in sibling order.
func (b *BadgerEngine) ListChildren(id NodeID) ([]*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	var out []*Node
	err := b.withView(func(txn *badger.Txn) error {
		exists, err := keyExists(txn, nodeKey(id))
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("node %s: %w", id, ErrNotFound)
		}

		for _, cid := range collectIndexMembers(txn, indexPrefix(prefixChildIndex, string(id))) {
			var child Node
			if err := getJSON(txn, nodeKey(NodeID(cid)), &child); err != nil {
				if err == ErrNotFound {
					return fmt.Errorf("child index references missing node %s: %w",
						cid, ErrInconsistentState)
				}
				return err
			}
			out = append(out, &child)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortSiblings(out)
	return out, nil
}

// ListNodesBySession returns all nodes in a session in creation order.
func (b *BadgerEngine) ListNodesBySession(sessionID string) ([]*Node, error) {
	var out []*Node
	err := b.withView(func(txn *badger.Txn) error {
		for _, nid := range collectIndexMembers(txn, indexPrefix(prefixSessionIndex, sessionID)) {
			var node Node
			if err := getJSON(txn, nodeKey(NodeID(nid)), &node); err != nil {
				if err == ErrNotFound {
					return fmt.Errorf("session index references missing node %s: %w",
						nid, ErrInconsistentState)
				}
				return err
			}
			out = append(out, &node)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func childIndexKey(parent, child NodeID) []byte {
	return indexKey(prefixChildIndex, string(parent), string(child))
}

func sessionIndexKey(session string, node NodeID) []byte {
	return indexKey(prefixSessionIndex, session, string(node))
}

func childIDsOf(nodes []*Node) []NodeID {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
