package index

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/verdantlabs/symbiont/pkg/storage"
)

// CompositeIndex fronts a primary backend (typically remote) with a fallback
// (typically embedded). Writes fan out to both so the fallback stays warm;
// searches hit the primary and degrade to the fallback only on
// ErrUnavailable. Every other error propagates untouched — the fallback is
// for outages, not for masking bad requests.
type CompositeIndex struct {
	primary  Index
	fallback Index
	log      *zap.Logger
}

// NewCompositeIndex combines a primary and a fallback backend.
func NewCompositeIndex(primary, fallback Index, log *zap.Logger) *CompositeIndex {
	if log == nil {
		log = zap.NewNop()
	}
	return &CompositeIndex{primary: primary, fallback: fallback, log: log}
}

// Upsert writes to both backends. The fallback write is authoritative for
// availability: a primary outage is logged and absorbed, anything else fails
// the call.
func (c *CompositeIndex) Upsert(ctx context.Context, doc *Document) error {
	if err := c.fallback.Upsert(ctx, doc); err != nil {
		return err
	}
	if err := c.primary.Upsert(ctx, doc); err != nil {
		if errors.Is(err, ErrUnavailable) {
			c.log.Warn("primary index unavailable on upsert, fallback holds the document",
				zap.String("paragraph", string(doc.ID)), zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// Delete removes from both backends, tolerating a primary outage.
func (c *CompositeIndex) Delete(ctx context.Context, id storage.ParagraphID) error {
	if err := c.fallback.Delete(ctx, id); err != nil {
		return err
	}
	if err := c.primary.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrUnavailable) {
			c.log.Warn("primary index unavailable on delete",
				zap.String("paragraph", string(id)), zap.Error(err))
			return nil
		}
		return err
	}
	return nil
}

// Search queries the primary, falling back on ErrUnavailable.
func (c *CompositeIndex) Search(ctx context.Context, q *Query) ([]Result, error) {
	results, err := c.primary.Search(ctx, q)
	if err == nil {
		return results, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}

	c.log.Warn("primary index unavailable, searching fallback", zap.Error(err))
	return c.fallback.Search(ctx, q)
}

// Count reports the fallback's count: it sees every successful write.
func (c *CompositeIndex) Count() int { return c.fallback.Count() }

// Close closes both backends.
func (c *CompositeIndex) Close() error {
	err := c.primary.Close()
	if ferr := c.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}

var _ Index = (*CompositeIndex)(nil)
