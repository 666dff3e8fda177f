// MemoryEngine is a thread-safe in-memory storage for testing and small datasets.
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/verdantlabs/symbiont/pkg/vecmath"
)

// MemoryEngine is an in-memory implementation of Engine.
// It's useful for:
// - Unit testing (no disk I/O)
// - Small datasets that fit in RAM
// - The embedded fallback path when no data directory is configured
type MemoryEngine struct {
	mu         sync.RWMutex
	dimensions int // 0 = adopt the first embedding's length
	seq        int64

	nodes         map[NodeID]*Node
	paragraphs    map[ParagraphID]*Paragraph
	organisms     map[OrganismID]*Organism
	ecosystems    map[EcosystemID]*Ecosystem
	memberships   map[MembershipID]*Membership
	relationships map[RelationshipID]*Relationship

	// Derived indexes. The parent pointer is authoritative; children is the
	// materialized reverse index kept in lockstep with every insert/delete.
	children         map[NodeID]map[NodeID]struct{}
	nodesBySession   map[string]map[NodeID]struct{}
	paragraphsByNode map[NodeID]map[ParagraphID]struct{}
	relsByOrganism   map[OrganismID]map[RelationshipID]struct{}
	membsByOrganism  map[OrganismID]map[MembershipID]struct{}
	membsByEcosystem map[EcosystemID]map[MembershipID]struct{}

	closed bool
}

// NewMemoryEngine creates a new in-memory storage engine.
//
// dimensions declares the embedding dimensionality to enforce; 0 means the
// first stored embedding fixes it.
func NewMemoryEngine(dimensions int) *MemoryEngine {
	return &MemoryEngine{
		dimensions:       dimensions,
		nodes:            make(map[NodeID]*Node),
		paragraphs:       make(map[ParagraphID]*Paragraph),
		organisms:        make(map[OrganismID]*Organism),
		ecosystems:       make(map[EcosystemID]*Ecosystem),
		memberships:      make(map[MembershipID]*Membership),
		relationships:    make(map[RelationshipID]*Relationship),
		children:         make(map[NodeID]map[NodeID]struct{}),
		nodesBySession:   make(map[string]map[NodeID]struct{}),
		paragraphsByNode: make(map[NodeID]map[ParagraphID]struct{}),
		relsByOrganism:   make(map[OrganismID]map[RelationshipID]struct{}),
		membsByOrganism:  make(map[OrganismID]map[MembershipID]struct{}),
		membsByEcosystem: make(map[EcosystemID]map[MembershipID]struct{}),
	}
}

// CreateNode creates a new tree node. A non-empty ParentID must reference an
// existing node.
func (m *MemoryEngine) CreateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.nodes[node.ID]; exists {
		return fmt.Errorf("node %s: %w", node.ID, ErrConflict)
	}
	if node.ParentID != "" {
		if _, ok := m.nodes[node.ParentID]; !ok {
			return fmt.Errorf("parent %s: %w", node.ParentID, ErrNotFound)
		}
	}

	stored := copyNode(node)
	stored.ChildIDs = nil
	if stored.Timestamp == 0 {
		stored.Timestamp = nowMillis()
	}
	m.seq++
	stored.Seq = m.seq
	node.Seq = stored.Seq
	m.nodes[stored.ID] = stored

	if stored.ParentID != "" {
		if m.children[stored.ParentID] == nil {
			m.children[stored.ParentID] = make(map[NodeID]struct{})
		}
		m.children[stored.ParentID][stored.ID] = struct{}{}
	}
	if stored.SessionID != "" {
		if m.nodesBySession[stored.SessionID] == nil {
			m.nodesBySession[stored.SessionID] = make(map[NodeID]struct{})
		}
		m.nodesBySession[stored.SessionID][stored.ID] = struct{}{}
	}

	return nil
}

// GetNode retrieves a node by ID with its derived ChildIDs populated.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	node, exists := m.nodes[id]
	if !exists {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	out := copyNode(node)
	out.ChildIDs = m.orderedChildIDs(id)
	return out, nil
}

// UpdateNode replaces a node's content and metadata. Reparenting is rejected.
func (m *MemoryEngine) UpdateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	existing, exists := m.nodes[node.ID]
	if !exists {
		return fmt.Errorf("node %s: %w", node.ID, ErrNotFound)
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

	// Session index follows the update.
	if existing.SessionID != stored.SessionID {
		if existing.SessionID != "" {
			delete(m.nodesBySession[existing.SessionID], node.ID)
		}
		if stored.SessionID != "" {
			if m.nodesBySession[stored.SessionID] == nil {
				m.nodesBySession[stored.SessionID] = make(map[NodeID]struct{})
			}
			m.nodesBySession[stored.SessionID][node.ID] = struct{}{}
		}
	}

	m.nodes[node.ID] = stored
	return nil
}

// DeleteNode removes a node. cascade=true removes the full descendant subtree
// and every paragraph owned by it in one critical section, so concurrent
// readers see either the pre-delete or post-delete state, never a partial
// view. cascade=false fails with ErrConflict if children remain.
func (m *MemoryEngine) DeleteNode(id NodeID, cascade bool) (*CascadeResult, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, exists := m.nodes[id]; !exists {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if !cascade && len(m.children[id]) > 0 {
		return nil, fmt.Errorf("node %s has children: %w", id, ErrConflict)
	}

	// Collect the subtree breadth-first off the derived index.
	doomed := []NodeID{id}
	for i := 0; i < len(doomed); i++ {
		for childID := range m.children[doomed[i]] {
			if _, ok := m.nodes[childID]; !ok {
				return nil, fmt.Errorf("child index references missing node %s: %w",
					childID, ErrInconsistentState)
			}
			doomed = append(doomed, childID)
		}
	}

	result := &CascadeResult{}
	for _, nodeID := range doomed {
		node := m.nodes[nodeID]
		if node.ParentID != "" {
			delete(m.children[node.ParentID], nodeID)
		}
		if node.SessionID != "" {
			delete(m.nodesBySession[node.SessionID], nodeID)
		}
		for pid := range m.paragraphsByNode[nodeID] {
			delete(m.paragraphs, pid)
			result.Paragraphs = append(result.Paragraphs, pid)
		}
		delete(m.paragraphsByNode, nodeID)
		delete(m.children, nodeID)
		delete(m.nodes, nodeID)
		result.Nodes = append(result.Nodes, nodeID)
	}

	return result, nil
}

// ListChildren returns the node's children ordered by creation sequence
// unless an explicit OrderKey overrides it.
func (m *MemoryEngine) ListChildren(id NodeID) ([]*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, exists := m.nodes[id]; !exists {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	out := make([]*Node, 0, len(m.children[id]))
	for childID := range m.children[id] {
		child, ok := m.nodes[childID]
		if !ok {
			return nil, fmt.Errorf("child index references missing node %s: %w",
				childID, ErrInconsistentState)
		}
		out = append(out, copyNode(child))
	}
	sortSiblings(out)
	return out, nil
}

// ListNodesBySession returns all nodes in a session in creation order.
func (m *MemoryEngine) ListNodesBySession(sessionID string) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Node, 0, len(m.nodesBySession[sessionID]))
	for id := range m.nodesBySession[sessionID] {
		out = append(out, copyNode(m.nodes[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// CreateParagraph inserts a paragraph. A non-empty NodeID owner must exist.
// A supplied embedding is dimension-checked and stored normalized.
func (m *MemoryEngine) CreateParagraph(p *Paragraph) error {
	if p == nil {
		return ErrInvalidData
	}
	if p.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.paragraphs[p.ID]; exists {
		return fmt.Errorf("paragraph %s: %w", p.ID, ErrConflict)
	}
	if p.NodeID != "" {
		if _, ok := m.nodes[p.NodeID]; !ok {
			return fmt.Errorf("owner node %s: %w", p.NodeID, ErrNotFound)
		}
	}

	stored := copyParagraph(p)
	if stored.Timestamp == 0 {
		stored.Timestamp = nowMillis()
	}
	if len(stored.Embedding) > 0 {
		if err := m.checkDimensionLocked(stored.Embedding); err != nil {
			return err
		}
		vecmath.NormalizeInPlace(stored.Embedding)
	}

	m.paragraphs[stored.ID] = stored
	if stored.NodeID != "" {
		if m.paragraphsByNode[stored.NodeID] == nil {
			m.paragraphsByNode[stored.NodeID] = make(map[ParagraphID]struct{})
		}
		m.paragraphsByNode[stored.NodeID][stored.ID] = struct{}{}
	}
	return nil
}

// GetParagraph retrieves a paragraph by ID.
func (m *MemoryEngine) GetParagraph(id ParagraphID) (*Paragraph, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	p, exists := m.paragraphs[id]
	if !exists {
		return nil, fmt.Errorf("paragraph %s: %w", id, ErrNotFound)
	}
	return copyParagraph(p), nil
}

// DeleteParagraph removes a single paragraph.
func (m *MemoryEngine) DeleteParagraph(id ParagraphID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	p, exists := m.paragraphs[id]
	if !exists {
		return fmt.Errorf("paragraph %s: %w", id, ErrNotFound)
	}
	if p.NodeID != "" {
		delete(m.paragraphsByNode[p.NodeID], id)
	}
	delete(m.paragraphs, id)
	return nil
}

// ListParagraphsByNode returns the paragraphs owned by a node, by ordinal.
func (m *MemoryEngine) ListParagraphsByNode(id NodeID) ([]*Paragraph, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Paragraph, 0, len(m.paragraphsByNode[id]))
	for pid := range m.paragraphsByNode[id] {
		out = append(out, copyParagraph(m.paragraphs[pid]))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AttachEmbedding stores the paragraph's single embedding (1:1). A second
// attach fails with ErrConflict unless replace is set.
func (m *MemoryEngine) AttachEmbedding(id ParagraphID, embedding []float32, replace bool) error {
	if id == "" {
		return ErrInvalidID
	}
	if len(embedding) == 0 {
		return ErrInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	p, exists := m.paragraphs[id]
	if !exists {
		return fmt.Errorf("paragraph %s: %w", id, ErrNotFound)
	}
	if len(p.Embedding) > 0 && !replace {
		return fmt.Errorf("paragraph %s already has an embedding: %w", id, ErrConflict)
	}
	if err := m.checkDimensionLocked(embedding); err != nil {
		return err
	}

	p.Embedding = vecmath.Normalize(embedding)
	return nil
}

// CreateOrganism inserts an organism. A declared internal ecosystem
// (microbiome) must exist.
func (m *MemoryEngine) CreateOrganism(o *Organism) error {
	if o == nil {
		return ErrInvalidData
	}
	if o.ID == "" {
		return ErrInvalidID
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("confidence %f out of range: %w", o.Confidence, ErrInvalidData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.organisms[o.ID]; exists {
		return fmt.Errorf("organism %s: %w", o.ID, ErrConflict)
	}
	if o.InternalEcosystemID != "" {
		if _, ok := m.ecosystems[o.InternalEcosystemID]; !ok {
			return fmt.Errorf("internal ecosystem %s: %w", o.InternalEcosystemID, ErrNotFound)
		}
	}

	cp := *o
	m.organisms[o.ID] = &cp
	return nil
}

// GetOrganism retrieves an organism by ID.
func (m *MemoryEngine) GetOrganism(id OrganismID) (*Organism, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	o, exists := m.organisms[id]
	if !exists {
		return nil, fmt.Errorf("organism %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

// CreateEcosystem inserts an ecosystem. The parent, when set, must exist.
// Cycles are not validated here; upward walks guard with a visited set.
func (m *MemoryEngine) CreateEcosystem(e *Ecosystem) error {
	if e == nil {
		return ErrInvalidData
	}
	if e.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.ecosystems[e.ID]; exists {
		return fmt.Errorf("ecosystem %s: %w", e.ID, ErrConflict)
	}
	if e.ParentID != "" {
		if _, ok := m.ecosystems[e.ParentID]; !ok {
			return fmt.Errorf("parent ecosystem %s: %w", e.ParentID, ErrNotFound)
		}
	}

	m.ecosystems[e.ID] = copyEcosystem(e)
	return nil
}

// GetEcosystem retrieves an ecosystem by ID.
func (m *MemoryEngine) GetEcosystem(id EcosystemID) (*Ecosystem, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	e, exists := m.ecosystems[id]
	if !exists {
		return nil, fmt.Errorf("ecosystem %s: %w", id, ErrNotFound)
	}
	return copyEcosystem(e), nil
}

// CreateMembership inserts an organism-ecosystem edge. Both endpoints must
// exist.
func (m *MemoryEngine) CreateMembership(mb *Membership) error {
	if mb == nil {
		return ErrInvalidData
	}
	if mb.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.memberships[mb.ID]; exists {
		return fmt.Errorf("membership %s: %w", mb.ID, ErrConflict)
	}
	if _, ok := m.organisms[mb.OrganismID]; !ok {
		return fmt.Errorf("organism %s: %w", mb.OrganismID, ErrNotFound)
	}
	if _, ok := m.ecosystems[mb.EcosystemID]; !ok {
		return fmt.Errorf("ecosystem %s: %w", mb.EcosystemID, ErrNotFound)
	}

	cp := *mb
	m.memberships[mb.ID] = &cp
	if m.membsByOrganism[mb.OrganismID] == nil {
		m.membsByOrganism[mb.OrganismID] = make(map[MembershipID]struct{})
	}
	m.membsByOrganism[mb.OrganismID][mb.ID] = struct{}{}
	if m.membsByEcosystem[mb.EcosystemID] == nil {
		m.membsByEcosystem[mb.EcosystemID] = make(map[MembershipID]struct{})
	}
	m.membsByEcosystem[mb.EcosystemID][mb.ID] = struct{}{}
	return nil
}

// CreateRelationship inserts a symbiotic relationship edge. The two organisms
// must differ and both must exist.
func (m *MemoryEngine) CreateRelationship(r *Relationship) error {
	if r == nil {
		return ErrInvalidData
	}
	if r.ID == "" {
		return ErrInvalidID
	}
	if r.Organism1ID == r.Organism2ID {
		return fmt.Errorf("relationship endpoints must differ: %w", ErrInvalidData)
	}
	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("strength %f out of range: %w", r.Strength, ErrInvalidData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.relationships[r.ID]; exists {
		return fmt.Errorf("relationship %s: %w", r.ID, ErrConflict)
	}
	if _, ok := m.organisms[r.Organism1ID]; !ok {
		return fmt.Errorf("organism %s: %w", r.Organism1ID, ErrNotFound)
	}
	if _, ok := m.organisms[r.Organism2ID]; !ok {
		return fmt.Errorf("organism %s: %w", r.Organism2ID, ErrNotFound)
	}

	cp := *r
	m.relationships[r.ID] = &cp
	for _, oid := range []OrganismID{r.Organism1ID, r.Organism2ID} {
		if m.relsByOrganism[oid] == nil {
			m.relsByOrganism[oid] = make(map[RelationshipID]struct{})
		}
		m.relsByOrganism[oid][r.ID] = struct{}{}
	}
	return nil
}

// RelationshipsForOrganism returns every relationship touching the organism,
// in either direction, ordered by ID for determinism.
func (m *MemoryEngine) RelationshipsForOrganism(id OrganismID) ([]*Relationship, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Relationship, 0, len(m.relsByOrganism[id]))
	for rid := range m.relsByOrganism[id] {
		cp := *m.relationships[rid]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MembershipsForOrganism returns the organism's ecosystem memberships.
func (m *MemoryEngine) MembershipsForOrganism(id OrganismID) ([]*Membership, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Membership, 0, len(m.membsByOrganism[id]))
	for mid := range m.membsByOrganism[id] {
		cp := *m.memberships[mid]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MembershipsForEcosystem returns all memberships inside an ecosystem.
func (m *MemoryEngine) MembershipsForEcosystem(id EcosystemID) ([]*Membership, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*Membership, 0, len(m.membsByEcosystem[id]))
	for mid := range m.membsByEcosystem[id] {
		cp := *m.memberships[mid]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Stats returns entity counts.
func (m *MemoryEngine) Stats() (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	return &Stats{
		Nodes:         int64(len(m.nodes)),
		Paragraphs:    int64(len(m.paragraphs)),
		Organisms:     int64(len(m.organisms)),
		Ecosystems:    int64(len(m.ecosystems)),
		Memberships:   int64(len(m.memberships)),
		Relationships: int64(len(m.relationships)),
	}, nil
}

// Close marks the engine closed. Further calls return ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// checkDimensionLocked validates an embedding length against the configured
// dimensionality; with dimensions==0 the first embedding wins.
func (m *MemoryEngine) checkDimensionLocked(embedding []float32) error {
	if m.dimensions == 0 {
		m.dimensions = len(embedding)
		return nil
	}
	if len(embedding) != m.dimensions {
		return fmt.Errorf("embedding has %d dimensions, store configured for %d: %w",
			len(embedding), m.dimensions, ErrInvalidDimension)
	}
	return nil
}

// orderedChildIDs returns the derived child list in sibling order.
// Caller must hold at least a read lock.
func (m *MemoryEngine) orderedChildIDs(id NodeID) []NodeID {
	kids := m.children[id]
	if len(kids) == 0 {
		return nil
	}
	nodes := make([]*Node, 0, len(kids))
	for cid := range kids {
		if n, ok := m.nodes[cid]; ok {
			nodes = append(nodes, n)
		}
	}
	sortSiblings(nodes)
	ids := make([]NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// sortSiblings orders children by OrderKey when supplied, falling back to the
// engine-assigned creation sequence.
func sortSiblings(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		ki, kj := siblingKey(nodes[i]), siblingKey(nodes[j])
		if ki != kj {
			return ki < kj
		}
		return nodes[i].Seq < nodes[j].Seq
	})
}

func siblingKey(n *Node) float64 {
	if n.OrderKey != 0 {
		return n.OrderKey
	}
	return float64(n.Seq)
}

// Deep copies prevent external mutation of stored values.

func copyNode(n *Node) *Node {
	cp := *n
	if n.ChildIDs != nil {
		cp.ChildIDs = append([]NodeID(nil), n.ChildIDs...)
	}
	if n.Sources != nil {
		cp.Sources = append([]string(nil), n.Sources...)
	}
	return &cp
}

func copyParagraph(p *Paragraph) *Paragraph {
	cp := *p
	if p.Tags != nil {
		cp.Tags = append([]string(nil), p.Tags...)
	}
	if p.OrganismIDs != nil {
		cp.OrganismIDs = append([]OrganismID(nil), p.OrganismIDs...)
	}
	if p.Embedding != nil {
		cp.Embedding = append([]float32(nil), p.Embedding...)
	}
	return &cp
}

func copyEcosystem(e *Ecosystem) *Ecosystem {
	cp := *e
	if e.Profile.NutrientCycles != nil {
		cp.Profile.NutrientCycles = append([]string(nil), e.Profile.NutrientCycles...)
	}
	if e.Profile.Homeostasis != nil {
		cp.Profile.Homeostasis = append([]string(nil), e.Profile.Homeostasis...)
	}
	return &cp
}
