// BadgerEngine provides persistent disk-based storage using BadgerDB.
// It implements the Engine interface with full ACID transaction support.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixNode         = byte(0x01) // node:nodeID -> JSON(Node)
	prefixParagraph    = byte(0x02) // para:paragraphID -> JSON(Paragraph)
	prefixOrganism     = byte(0x03) // org:organismID -> JSON(Organism)
	prefixEcosystem    = byte(0x04) // eco:ecosystemID -> JSON(Ecosystem)
	prefixMembership   = byte(0x05) // memb:membershipID -> JSON(Membership)
	prefixRelationship = byte(0x06) // rel:relationshipID -> JSON(Relationship)

	// Derived indexes, maintained in the same transaction as the entity write.
	prefixChildIndex   = byte(0x10) // child:parentID 0x00 childID -> empty
	prefixSessionIndex = byte(0x11) // session:sessionID 0x00 nodeID -> empty
	prefixParaByNode   = byte(0x12) // pbn:nodeID 0x00 paragraphID -> empty
	prefixRelByOrg     = byte(0x13) // rbo:organismID 0x00 relationshipID -> empty
	prefixMembByOrg    = byte(0x14) // mbo:organismID 0x00 membershipID -> empty
	prefixMembByEco    = byte(0x15) // mbe:ecosystemID 0x00 membershipID -> empty

	prefixMeta = byte(0x7f) // meta keys (node sequence counter)
)

// nodeCacheSize bounds the hot-node LRU. ~1KB per node puts the ceiling
// around 10MB.
const nodeCacheSize = 10000

// BadgerEngine provides persistent storage using BadgerDB.
//
// Features:
//   - ACID transactions for all operations
//   - Cascade deletes executed as a single transaction
//   - Secondary indexes (children, sessions, paragraph ownership, graph
//     adjacency) maintained in lockstep with entity writes
//   - Hot-node LRU read cache, invalidated on write
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/var/lib/symbiont", 1024)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db     *badger.DB
	seq    *badger.Sequence
	closed atomic.Bool

	dimMu      sync.Mutex
	dimensions int // 0 = adopt the first embedding's length

	nodeCache *lru.Cache[NodeID, *Node]

	// Cached counts for O(1) Stats, updated on create/delete.
	nodeCount int64
	paraCount int64
	orgCount  int64
	ecoCount  int64
	membCount int64
	relCount  int64
}

// NewBadgerEngine opens or creates a persistent store at dir. An empty dir
// runs Badger in memory-only mode (tests). dimensions declares the embedding
// dimensionality to enforce; 0 means the first stored embedding fixes it.
func NewBadgerEngine(dir string, dimensions int) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}

	seq, err := db.GetSequence(metaKey("node_seq"), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open node sequence: %w", err)
	}

	cache, err := lru.New[NodeID, *Node](nodeCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	b := &BadgerEngine{
		db:         db,
		seq:        seq,
		dimensions: dimensions,
		nodeCache:  cache,
	}
	if err := b.loadCounts(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the sequence and the underlying BadgerDB.
func (b *BadgerEngine) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.seq != nil {
		_ = b.seq.Release()
	}
	return b.db.Close()
}

func (b *BadgerEngine) ensureOpen() error {
	if b.closed.Load() {
		return ErrStorageClosed
	}
	return nil
}

// Stats returns cached entity counts.
func (b *BadgerEngine) Stats() (*Stats, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	return &Stats{
		Nodes:         atomic.LoadInt64(&b.nodeCount),
		Paragraphs:    atomic.LoadInt64(&b.paraCount),
		Organisms:     atomic.LoadInt64(&b.orgCount),
		Ecosystems:    atomic.LoadInt64(&b.ecoCount),
		Memberships:   atomic.LoadInt64(&b.membCount),
		Relationships: atomic.LoadInt64(&b.relCount),
	}, nil
}

// loadCounts scans entity prefixes once at open. Key-only iteration, so this
// stays cheap even for large stores.
func (b *BadgerEngine) loadCounts() error {
	counts := map[byte]*int64{
		prefixNode:         &b.nodeCount,
		prefixParagraph:    &b.paraCount,
		prefixOrganism:     &b.orgCount,
		prefixEcosystem:    &b.ecoCount,
		prefixMembership:   &b.membCount,
		prefixRelationship: &b.relCount,
	}
	return b.db.View(func(txn *badger.Txn) error {
		for prefix, counter := range counts {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefix}})
			for it.Rewind(); it.Valid(); it.Next() {
				*counter++
			}
			it.Close()
		}
		return nil
	})
}

func (b *BadgerEngine) withUpdate(fn func(txn *badger.Txn) error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return b.db.Update(fn)
}

func (b *BadgerEngine) withView(fn func(txn *badger.Txn) error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return b.db.View(fn)
}

// checkDimension validates an embedding length. With dimensions==0 any length
// passes; the write that actually commits calls adoptDimension.
func (b *BadgerEngine) checkDimension(embedding []float32) error {
	b.dimMu.Lock()
	defer b.dimMu.Unlock()
	if b.dimensions != 0 && len(embedding) != b.dimensions {
		return fmt.Errorf("embedding has %d dimensions, store configured for %d: %w",
			len(embedding), b.dimensions, ErrInvalidDimension)
	}
	return nil
}

// adoptDimension fixes the store's dimensionality from the first embedding
// that committed. A failed write must not fix it, so callers adopt only after
// their transaction succeeds.
func (b *BadgerEngine) adoptDimension(n int) {
	b.dimMu.Lock()
	if b.dimensions == 0 {
		b.dimensions = n
	}
	b.dimMu.Unlock()
}

// nextSeq hands out the engine-wide creation sequence for sibling ordering.
func (b *BadgerEngine) nextSeq() (int64, error) {
	n, err := b.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("node sequence: %w", err)
	}
	// Sequences start at 0; sibling ordering treats 0 as unset.
	return int64(n) + 1, nil
}

// Key builders
// ============================================================================

func entityKey(prefix byte, id string) []byte {
	key := make([]byte, 0, len(id)+1)
	key = append(key, prefix)
	return append(key, id...)
}

func nodeKey(id NodeID) []byte             { return entityKey(prefixNode, string(id)) }
func paragraphKey(id ParagraphID) []byte   { return entityKey(prefixParagraph, string(id)) }
func organismKey(id OrganismID) []byte     { return entityKey(prefixOrganism, string(id)) }
func ecosystemKey(id EcosystemID) []byte   { return entityKey(prefixEcosystem, string(id)) }
func membershipKey(id MembershipID) []byte { return entityKey(prefixMembership, string(id)) }
func relationKey(id RelationshipID) []byte { return entityKey(prefixRelationship, string(id)) }

func metaKey(name string) []byte { return entityKey(prefixMeta, name) }

// indexKey builds prefix + owner + 0x00 + member. The 0x00 separator keeps
// owner prefixes unambiguous.
func indexKey(prefix byte, owner, member string) []byte {
	key := make([]byte, 0, len(owner)+len(member)+2)
	key = append(key, prefix)
	key = append(key, owner...)
	key = append(key, 0x00)
	return append(key, member...)
}

// indexPrefix builds the scan prefix for all members of an owner.
func indexPrefix(prefix byte, owner string) []byte {
	key := make([]byte, 0, len(owner)+2)
	key = append(key, prefix)
	key = append(key, owner...)
	return append(key, 0x00)
}

// memberFromIndexKey recovers the member id from an index key given its scan
// prefix.
func memberFromIndexKey(key, prefix []byte) string {
	return string(key[len(prefix):])
}

// JSON entity encoding
// ============================================================================

func encodeEntity(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	return data, nil
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func keyExists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// collectIndexMembers scans an index prefix and returns member ids in key
// order.
func collectIndexMembers(txn *badger.Txn, prefix []byte) []string {
	var members []string
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if !bytes.HasPrefix(key, prefix) {
			continue
		}
		members = append(members, memberFromIndexKey(key, prefix))
	}
	return members
}
