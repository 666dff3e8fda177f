// Package tree is the dialogue node service: node lifecycle on top of the
// storage engine, plus a deterministic radial position assignment used by
// visualization frontends.
package tree

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verdantlabs/symbiont/pkg/storage"
)

// radiusStep is the ring spacing between consecutive tree depths.
const radiusStep = 120.0

// goldenAngle (pi*(3-sqrt5)) spreads siblings around their depth ring without
// clustering, regardless of how many siblings eventually arrive.
const goldenAngle = 2.399963229728653

// CreateRequest carries the caller-settable fields of a new node. ID,
// sequence, timestamp, and position are assigned by the service.
type CreateRequest struct {
	ParentID  storage.NodeID       `json:"parentId,omitempty"`
	Content   string               `json:"content"`
	Type      storage.NodeType     `json:"type"`
	Category  storage.NodeCategory `json:"category,omitempty"`
	Role      storage.NodeRole     `json:"role,omitempty"`
	SessionID string               `json:"sessionId,omitempty"`
	Sources   []string             `json:"sources,omitempty"`
	OrderKey  float64              `json:"orderKey,omitempty"`
}

// Service manages the dialogue tree.
type Service struct {
	store storage.Engine
	log   *zap.Logger
}

// NewService creates a tree service over the given store.
func NewService(store storage.Engine, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log}
}

// Create validates the request, assigns an ID and a radial position, and
// persists the node. The position depends only on the node's depth and its
// arrival index among its siblings, so replaying the same creation sequence
// reproduces the same layout.
func (s *Service) Create(req *CreateRequest) (*storage.Node, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("%w: node content must not be empty", storage.ErrInvalidData)
	}

	depth := 0
	ordinal := 0
	if req.ParentID != "" {
		parent, err := s.store.GetNode(req.ParentID)
		if err != nil {
			return nil, err
		}
		depth = s.depthOf(parent) + 1
		siblings, err := s.store.ListChildren(req.ParentID)
		if err != nil {
			return nil, err
		}
		ordinal = len(siblings)
	}

	node := &storage.Node{
		ID:        storage.NodeID("node-" + uuid.NewString()),
		ParentID:  req.ParentID,
		Content:   req.Content,
		Type:      req.Type,
		Category:  req.Category,
		Role:      req.Role,
		SessionID: req.SessionID,
		Sources:   req.Sources,
		OrderKey:  req.OrderKey,
		Position:  radialPosition(depth, ordinal),
	}
	if err := s.store.CreateNode(node); err != nil {
		return nil, err
	}
	s.log.Debug("node created",
		zap.String("nodeId", string(node.ID)),
		zap.String("parentId", string(node.ParentID)),
		zap.Int("depth", depth))
	return s.store.GetNode(node.ID)
}

// Get returns a node by id.
func (s *Service) Get(id storage.NodeID) (*storage.Node, error) {
	return s.store.GetNode(id)
}

// Update applies content, category, and order changes to an existing node.
// Parent changes are rejected by the engine; position is never recomputed on
// update so layouts stay stable under edits.
func (s *Service) Update(node *storage.Node) (*storage.Node, error) {
	if node.Content == "" {
		return nil, fmt.Errorf("%w: node content must not be empty", storage.ErrInvalidData)
	}
	if err := s.store.UpdateNode(node); err != nil {
		return nil, err
	}
	return s.store.GetNode(node.ID)
}

// Delete removes a node. With cascade set the entire subtree and its owned
// paragraphs go with it; the result lists everything removed so callers can
// evict search index entries.
func (s *Service) Delete(id storage.NodeID, cascade bool) (*storage.CascadeResult, error) {
	result, err := s.store.DeleteNode(id, cascade)
	if err != nil {
		return nil, err
	}
	s.log.Debug("node deleted",
		zap.String("nodeId", string(id)),
		zap.Bool("cascade", cascade),
		zap.Int("nodesRemoved", len(result.Nodes)),
		zap.Int("paragraphsRemoved", len(result.Paragraphs)))
	return result, nil
}

// Children returns a node's children in sibling order.
func (s *Service) Children(id storage.NodeID) ([]*storage.Node, error) {
	return s.store.ListChildren(id)
}

// Session returns every node in a session in creation order.
func (s *Service) Session(sessionID string) ([]*storage.Node, error) {
	return s.store.ListNodesBySession(sessionID)
}

// Path returns the chain from the root down to the given node, inclusive.
// A broken parent link surfaces as ErrInconsistentState.
func (s *Service) Path(id storage.NodeID) ([]*storage.Node, error) {
	var chain []*storage.Node
	seen := make(map[storage.NodeID]struct{})
	current := id
	for current != "" {
		if _, ok := seen[current]; ok {
			return nil, fmt.Errorf("%w: parent cycle at node %s", storage.ErrInconsistentState, current)
		}
		seen[current] = struct{}{}
		node, err := s.store.GetNode(current)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) && len(chain) > 0 {
				return nil, fmt.Errorf("%w: node %s references missing parent %s",
					storage.ErrInconsistentState, chain[len(chain)-1].ID, current)
			}
			return nil, err
		}
		chain = append(chain, node)
		current = node.ParentID
	}
	// Walked leaf-to-root; callers want root-to-leaf.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// depthOf counts hops from node up to its root. Cycles cannot occur here
// because the engine rejects reparenting, but the walk still bounds itself on
// a missing parent.
func (s *Service) depthOf(node *storage.Node) int {
	depth := 0
	current := node
	for current.ParentID != "" {
		parent, err := s.store.GetNode(current.ParentID)
		if err != nil {
			break
		}
		depth++
		current = parent
	}
	return depth
}

// radialPosition lays node ordinal n at depth d on ring d*radiusStep, rotated
// by the golden angle per sibling.
func radialPosition(depth, ordinal int) storage.Position {
	if depth == 0 {
		return storage.Position{}
	}
	radius := float64(depth) * radiusStep
	angle := goldenAngle * float64(ordinal)
	return storage.Position{
		X: radius * math.Cos(angle),
		Y: radius * math.Sin(angle),
		Z: 0,
	}
}
