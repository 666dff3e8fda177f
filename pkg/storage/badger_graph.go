package storage

import (
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Graph Entity Operations
// ============================================================================
//
// Organisms, ecosystems, memberships and relationships form the typed graph
// that retrieval expansion walks. Adjacency is kept in explicit index rows so
// neighbor lookups never scan the full entity space.

// CreateOrganism stores an organism. Its internal ecosystem, when referenced,
// must exist.
func (b *BadgerEngine) CreateOrganism(o *Organism) error {
	if o == nil {
		return ErrInvalidData
	}
	if o.ID == "" {
		return ErrInvalidID
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("confidence %f out of range: %w", o.Confidence, ErrInvalidData)
	}

	err := b.withUpdate(func(txn *badger.Txn) error {
		exists, err := keyExists(txn, organismKey(o.ID))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("organism %s: %w", o.ID, ErrConflict)
		}
		if o.InternalEcosystemID != "" {
			ok, err := keyExists(txn, ecosystemKey(o.InternalEcosystemID))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("ecosystem %s: %w", o.InternalEcosystemID, ErrNotFound)
			}
		}

		data, err := encodeEntity(o)
		if err != nil {
			return err
		}
		return txn.Set(organismKey(o.ID), data)
	})
	if err != nil {
		return err
	}

	atomic.AddInt64(&b.orgCount, 1)
	return nil
}

// GetOrganism retrieves an organism by ID.
func (b *BadgerEngine) GetOrganism(id OrganismID) (*Organism, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	var o Organism
	err := b.withView(func(txn *badger.Txn) error {
		if err := getJSON(txn, organismKey(id), &o); err != nil {
			if err == ErrNotFound {
				return fmt.Errorf("organism %s: %w", id, ErrNotFound)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateEcosystem stores an ecosystem. A parent reference builds the upward
// containment chain and must point at an existing ecosystem.
func (b *BadgerEngine) CreateEcosystem(e *Ecosystem) error {
	if e == nil {
		return ErrInvalidData
	}
	if e.ID == "" {
		return ErrInvalidID
	}
	if e.ParentID == e.ID {
		return fmt.Errorf("ecosystem %s cannot contain itself: %w", e.ID, ErrInvalidData)
	}

	err := b.withUpdate(func(txn *badger.Txn) error {
		exists, err := keyExists(txn, ecosystemKey(e.ID))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("ecosystem %s: %w", e.ID, ErrConflict)
		}
		if e.ParentID != "" {
			ok, err := keyExists(txn, ecosystemKey(e.ParentID))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("parent ecosystem %s: %w", e.ParentID, ErrNotFound)
			}
		}

		data, err := encodeEntity(e)
		if err != nil {
			return err
		}
		return txn.Set(ecosystemKey(e.ID), data)
	})
	if err != nil {
		return err
	}

	atomic.AddInt64(&b.ecoCount, 1)
	return nil
}

// GetEcosystem retrieves an ecosystem by ID.
func (b *BadgerEngine) GetEcosystem(id EcosystemID) (*Ecosystem, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	var e Ecosystem
	err := b.withView(func(txn *badger.Txn) error {
		if err := getJSON(txn, ecosystemKey(id), &e); err != nil {
			if err == ErrNotFound {
				return fmt.Errorf("ecosystem %s: %w", id, ErrNotFound)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateMembership links an organism into an ecosystem. Both endpoints must
// exist; adjacency rows for each side are written in the same transaction.
func (b *BadgerEngine) CreateMembership(m *Membership) error {
	if m == nil {
		return ErrInvalidData
	}
	if m.ID == "" {
		return ErrInvalidID
	}
	if m.OrganismID == "" || m.EcosystemID == "" {
		return fmt.Errorf("membership %s missing endpoint: %w", m.ID, ErrInvalidData)
	}

	err := b.withUpdate(func(txn *badger.Txn) error {
		exists, err := keyExists(txn, membershipKey(m.ID))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("membership %s: %w", m.ID, ErrConflict)
		}
		ok, err := keyExists(txn, organismKey(m.OrganismID))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("organism %s: %w", m.OrganismID, ErrNotFound)
		}
		ok, err = keyExists(txn, ecosystemKey(m.EcosystemID))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ecosystem %s: %w", m.EcosystemID, ErrNotFound)
		}

		data, err := encodeEntity(m)
		if err != nil {
			return err
		}
		if err := txn.Set(membershipKey(m.ID), data); err != nil {
			return err
		}
		if err := txn.Set(indexKey(prefixMembByOrg, string(m.OrganismID), string(m.ID)), nil); err != nil {
			return err
		}
		return txn.Set(indexKey(prefixMembByEco, string(m.EcosystemID), string(m.ID)), nil)
	})
	if err != nil {
		return err
	}

	atomic.AddInt64(&b.membCount, 1)
	return nil
}

// CreateRelationship stores a typed interaction between two distinct
// organisms. Strength must sit in [0, 1]. Adjacency rows are written for both
// endpoints so expansion can walk the edge from either side.
func (b *BadgerEngine) CreateRelationship(r *Relationship) error {
	if r == nil {
		return ErrInvalidData
	}
	if r.ID == "" {
		return ErrInvalidID
	}
	if r.Organism1ID == "" || r.Organism2ID == "" {
		return fmt.Errorf("relationship %s missing endpoint: %w", r.ID, ErrInvalidData)
	}
	if r.Organism1ID == r.Organism2ID {
		return fmt.Errorf("relationship %s links organism %s to itself: %w",
			r.ID, r.Organism1ID, ErrInvalidData)
	}
	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("relationship %s strength %v out of range: %w",
			r.ID, r.Strength, ErrInvalidData)
	}

	err := b.withUpdate(func(txn *badger.Txn) error {
		exists, err := keyExists(txn, relationKey(r.ID))
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("relationship %s: %w", r.ID, ErrConflict)
		}
		for _, oid := range []OrganismID{r.Organism1ID, r.Organism2ID} {
			ok, err := keyExists(txn, organismKey(oid))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("organism %s: %w", oid, ErrNotFound)
			}
		}
		if r.EcosystemID != "" {
			ok, err := keyExists(txn, ecosystemKey(r.EcosystemID))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("ecosystem %s: %w", r.EcosystemID, ErrNotFound)
			}
		}

		data, err := encodeEntity(r)
		if err != nil {
			return err
		}
		if err := txn.Set(relationKey(r.ID), data); err != nil {
			return err
		}
		if err := txn.Set(indexKey(prefixRelByOrg, string(r.Organism1ID), string(r.ID)), nil); err != nil {
			return err
		}
		return txn.Set(indexKey(prefixRelByOrg, string(r.Organism2ID), string(r.ID)), nil)
	})
	if err != nil {
		return err
	}

	atomic.AddInt64(&b.relCount, 1)
	return nil
}

// RelationshipsForOrganism returns every relationship touching the organism,
// ordered by ID.
func (b *BadgerEngine) RelationshipsForOrganism(id OrganismID) ([]*Relationship, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	var out []*Relationship
	err := b.withView(func(txn *badger.Txn) error {
		for _, rid := range collectIndexMembers(txn, indexPrefix(prefixRelByOrg, string(id))) {
			var r Relationship
			if err := getJSON(txn, relationKey(RelationshipID(rid)), &r); err != nil {
				if err == ErrNotFound {
					return fmt.Errorf("relationship index references missing relationship %s: %w",
						rid, ErrInconsistentState)
				}
				return err
			}
			out = append(out, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MembershipsForOrganism returns the organism's memberships ordered by ID.
func (b *BadgerEngine) MembershipsForOrganism(id OrganismID) ([]*Membership, error) {
	return b.collectMemberships(prefixMembByOrg, string(id))
}

// MembershipsForEcosystem returns the ecosystem's memberships ordered by ID.
func (b *BadgerEngine) MembershipsForEcosystem(id EcosystemID) ([]*Membership, error) {
	return b.collectMemberships(prefixMembByEco, string(id))
}

func (b *BadgerEngine) collectMemberships(prefix byte, owner string) ([]*Membership, error) {
	if owner == "" {
		return nil, ErrInvalidID
	}

	var out []*Membership
	err := b.withView(func(txn *badger.Txn) error {
		for _, mid := range collectIndexMembers(txn, indexPrefix(prefix, owner)) {
			var m Membership
			if err := getJSON(txn, membershipKey(MembershipID(mid)), &m); err != nil {
				if err == ErrNotFound {
					return fmt.Errorf("membership index references missing membership %s: %w",
						mid, ErrInconsistentState)
				}
				return err
			}
			out = append(out, &m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
