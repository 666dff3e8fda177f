package storage

// Engine is the storage contract shared by MemoryEngine and BadgerEngine.
//
// All methods are safe for concurrent use. Write methods validate references
// before mutating; cascade deletes are atomic relative to readers — a reader
// observes either the full pre-delete or full post-delete state.
//
// Example:
//
//	engine := storage.NewMemoryEngine(0)
//	defer engine.Close()
//
//	root := &storage.Node{ID: "n-root", Content: "pollination", Type: storage.NodeQuestion}
//	if err := engine.CreateNode(root); err != nil {
//		log.Fatal(err)
//	}
type Engine interface {
	// Nodes
	CreateNode(node *Node) error
	GetNode(id NodeID) (*Node, error)
	UpdateNode(node *Node) error
	DeleteNode(id NodeID, cascade bool) (*CascadeResult, error)
	ListChildren(id NodeID) ([]*Node, error)
	ListNodesBySession(sessionID string) ([]*Node, error)

	// Paragraphs
	CreateParagraph(p *Paragraph) error
	GetParagraph(id ParagraphID) (*Paragraph, error)
	DeleteParagraph(id ParagraphID) error
	ListParagraphsByNode(id NodeID) ([]*Paragraph, error)
	AttachEmbedding(id ParagraphID, embedding []float32, replace bool) error

	// Biological graph
	CreateOrganism(o *Organism) error
	GetOrganism(id OrganismID) (*Organism, error)
	CreateEcosystem(e *Ecosystem) error
	GetEcosystem(id EcosystemID) (*Ecosystem, error)
	CreateMembership(m *Membership) error
	CreateRelationship(r *Relationship) error
	RelationshipsForOrganism(id OrganismID) ([]*Relationship, error)
	MembershipsForOrganism(id OrganismID) ([]*Membership, error)
	MembershipsForEcosystem(id EcosystemID) ([]*Membership, error)

	Stats() (*Stats, error)
	Close() error
}

// Compile-time conformance checks.
var (
	_ Engine = (*MemoryEngine)(nil)
	_ Engine = (*BadgerEngine)(nil)
)
