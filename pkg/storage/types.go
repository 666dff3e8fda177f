// Package storage defines the persistent data model for symbiont: the
// dialogue/knowledge node tree, the paragraph corpus that feeds the vector
// index, and the biological entity graph (organisms, ecosystems, memberships,
// symbiotic relationships) walked at retrieval time.
//
// Two engines implement the same Engine contract: MemoryEngine for tests and
// small in-RAM datasets, and BadgerEngine for durable on-disk storage.
package storage

import "time"

// Opaque identifier types. Using distinct named types keeps node IDs from
// being passed where an organism ID belongs.
type (
	NodeID         string
	ParagraphID    string
	OrganismID     string
	EcosystemID    string
	MembershipID   string
	RelationshipID string
)

// NodeType classifies what a tree node carries.
type NodeType string

const (
	NodeQuestion         NodeType = "question"
	NodeAnswer           NodeType = "answer"
	NodeFact             NodeType = "fact"
	NodeOpinion          NodeType = "opinion"
	NodeSolution         NodeType = "solution"
	NodeMessage          NodeType = "message"
	NodeConceptReference NodeType = "concept_reference"
	NodeUserObservation  NodeType = "user_observation"
)

// NodeCategory is a coarse ecological framing of a node's content.
type NodeCategory string

const (
	CategoryThreat       NodeCategory = "threat"
	CategoryProtection   NodeCategory = "protection"
	CategoryConservation NodeCategory = "conservation"
	CategoryNeutral      NodeCategory = "neutral"
	CategoryMetrics      NodeCategory = "metrics"
)

// NodeRole identifies who authored a dialogue node.
type NodeRole string

const (
	RoleUser      NodeRole = "user"
	RoleAssistant NodeRole = "assistant"
	RoleSystem    NodeRole = "system"
)

// Position is a 3D visualization hint. Retrieval never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Node is one element of the dialogue/knowledge tree.
//
// ChildIDs is a derived, read-only view: it always equals the set of nodes
// whose ParentID is this node, in sibling order. Engines populate it on read
// and ignore it on write.
type Node struct {
	ID       NodeID       `json:"id"`
	ParentID NodeID       `json:"parentId,omitempty"`
	ChildIDs []NodeID     `json:"childIds,omitempty"`
	Content  string       `json:"content"`
	Type     NodeType     `json:"type"`
	Category NodeCategory `json:"category,omitempty"`
	Role     NodeRole     `json:"role,omitempty"`

	SessionID string   `json:"sessionId,omitempty"`
	Timestamp int64    `json:"timestamp"` // unix milliseconds
	Position  Position `json:"position"`
	Sources   []string `json:"sources,omitempty"`

	// Seq is the engine-assigned creation sequence; it is the default
	// sibling order. OrderKey, when non-zero, overrides it.
	Seq      int64   `json:"seq"`
	OrderKey float64 `json:"orderKey,omitempty"`
}

// DocumentType says where a paragraph came from.
type DocumentType string

const (
	DocChat      DocumentType = "chat"
	DocKnowledge DocumentType = "knowledge"
	DocDocument  DocumentType = "document"
)

// Verdict is an optional fact-check label on a paragraph.
type Verdict string

const (
	VerdictTrue         Verdict = "true"
	VerdictFalse        Verdict = "false"
	VerdictPartial      Verdict = "partial"
	VerdictUnverifiable Verdict = "unverifiable"
	VerdictUnknown      Verdict = "unknown"
)

// Paragraph is a text fragment: the unit of embedding and lexical indexing.
// A paragraph holds at most one embedding; engines store it L2-normalized so
// cosine similarity reduces to a dot product.
type Paragraph struct {
	ID           ParagraphID  `json:"id"`
	Content      string       `json:"content"`
	NodeID       NodeID       `json:"nodeId,omitempty"`
	DocumentID   string       `json:"documentId,omitempty"`
	DocumentType DocumentType `json:"documentType,omitempty"`
	Author       string       `json:"author,omitempty"`
	Ordinal      int          `json:"ordinal"`
	Tags         []string     `json:"tags,omitempty"`
	Verdict      Verdict      `json:"verdict,omitempty"`

	EcosystemID EcosystemID `json:"ecosystemId,omitempty"`
	Location    string      `json:"location,omitempty"`
	TimeRef     string      `json:"timeRef,omitempty"`

	SessionID string `json:"sessionId,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds

	OrganismIDs []OrganismID `json:"organismIds,omitempty"`
	Embedding   []float32    `json:"embedding,omitempty"`
}

// Scale orders ecosystems from molecular up to planetary. Twelve levels; the
// parent chain of nested ecosystems normally ascends this ladder.
type Scale int

const (
	ScaleMolecular Scale = iota
	ScaleCellular
	ScaleTissue
	ScaleOrgan
	ScaleOrganism
	ScaleMicrohabitat
	ScaleHabitat
	ScaleLocalEcosystem
	ScaleLandscape
	ScaleRegional
	ScaleContinental
	ScalePlanetary
)

var scaleNames = [...]string{
	"molecular", "cellular", "tissue", "organ", "organism", "microhabitat",
	"habitat", "local_ecosystem", "landscape", "regional", "continental",
	"planetary",
}

func (s Scale) String() string {
	if s < ScaleMolecular || s > ScalePlanetary {
		return "unknown"
	}
	return scaleNames[s]
}

// BioProfile carries free-form metabolic and homeostasis descriptors.
type BioProfile struct {
	EnergyFlow     string   `json:"energyFlow,omitempty"`
	NutrientCycles []string `json:"nutrientCycles,omitempty"`
	Homeostasis    []string `json:"homeostasis,omitempty"`
	Stability      float64  `json:"stability,omitempty"`
}

// Ecosystem is a node in the nested containment hierarchy. ParentID builds an
// arbitrarily deep chain; cycles are not enforced structurally, so upward
// walks guard with a visited set.
type Ecosystem struct {
	ID       EcosystemID `json:"id"`
	Name     string      `json:"name"`
	ParentID EcosystemID `json:"parentId,omitempty"`
	Scale    Scale       `json:"scale"`
	Profile  BioProfile  `json:"profile"`
}

// OrganismType is a coarse taxonomic bucket.
type OrganismType string

const (
	OrganismAnimal    OrganismType = "animal"
	OrganismPlant     OrganismType = "plant"
	OrganismFungus    OrganismType = "fungus"
	OrganismBacterium OrganismType = "bacterium"
	OrganismProtist   OrganismType = "protist"
	OrganismVirus     OrganismType = "virus"
)

// TrophicLevel places an organism in the energy pyramid.
type TrophicLevel string

const (
	TrophicProducer     TrophicLevel = "producer"
	TrophicConsumer     TrophicLevel = "consumer"
	TrophicDecomposer   TrophicLevel = "decomposer"
	TrophicDetritivore  TrophicLevel = "detritivore"
	TrophicMixotroph    TrophicLevel = "mixotroph"
	TrophicChemotropher TrophicLevel = "chemotroph"
)

// Organism is a named biological entity extracted from text. An organism may
// own a nested ecosystem of its own (a microbiome) via InternalEcosystemID.
type Organism struct {
	ID                  OrganismID   `json:"id"`
	Name                string       `json:"name"`
	ScientificName      string       `json:"scientificName,omitempty"`
	Type                OrganismType `json:"type,omitempty"`
	Trophic             TrophicLevel `json:"trophicLevel,omitempty"`
	InternalEcosystemID EcosystemID  `json:"internalEcosystemId,omitempty"`
	SourceParagraphID   ParagraphID  `json:"sourceParagraphId,omitempty"`
	Confidence          float64      `json:"confidence"`
}

// Membership is the many-to-many organism/ecosystem edge. An organism can
// belong to several ecosystems at once with different roles.
type Membership struct {
	ID          MembershipID `json:"id"`
	OrganismID  OrganismID   `json:"organismId"`
	EcosystemID EcosystemID  `json:"ecosystemId"`
	Role        string       `json:"role,omitempty"`
	Interaction string       `json:"interaction,omitempty"`
}

// RelationshipType classifies a symbiotic interaction.
type RelationshipType string

const (
	Mutualism    RelationshipType = "mutualism"
	Commensalism RelationshipType = "commensalism"
	Parasitism   RelationshipType = "parasitism"
	Competition  RelationshipType = "competition"
	NeutralRel   RelationshipType = "neutral"
)

// RelationshipLevel says at which structural level an interaction happens.
type RelationshipLevel string

const (
	IntraOrganism RelationshipLevel = "intra_organism"
	InterOrganism RelationshipLevel = "inter_organism"
	EcosystemWide RelationshipLevel = "ecosystem"
)

// Relationship is a typed edge between two distinct organisms. It is the edge
// set the graph walker expands over.
type Relationship struct {
	ID          RelationshipID    `json:"id"`
	Organism1ID OrganismID        `json:"organism1Id"`
	Organism2ID OrganismID        `json:"organism2Id"`
	Type        RelationshipType  `json:"type"`
	Level       RelationshipLevel `json:"level"`
	EcosystemID EcosystemID       `json:"ecosystemId,omitempty"`
	Strength    float64           `json:"strength"`
}

// CascadeResult reports everything a cascade delete removed, so callers can
// evict the matching rows from any external vector index.
type CascadeResult struct {
	Nodes      []NodeID
	Paragraphs []ParagraphID
}

// Stats holds entity counts for observability.
type Stats struct {
	Nodes         int64 `json:"nodes"`
	Paragraphs    int64 `json:"paragraphs"`
	Organisms     int64 `json:"organisms"`
	Ecosystems    int64 `json:"ecosystems"`
	Memberships   int64 `json:"memberships"`
	Relationships int64 `json:"relationships"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
