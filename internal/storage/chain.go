package storage

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/diaryrag/internal/models"
	"github.com/hyperjump/diaryrag/internal/ranking"
)

// Link names reported by Chain.Active.
const (
	LinkPrimary   = "primary"
	LinkSecondary = "secondary"
	LinkBuiltin   = "builtin"
)

type link struct {
	name  string
	store Store
}

// Chain serves reads from the first of primary, secondary and the built-in
// dataset that yields at least one decodable record. Writes always go to the
// primary.
type Chain struct {
	links []link
	opts  options
}

var (
	_ Store    = (*Chain)(nil)
	_ Searcher = (*Chain)(nil)
)

// NewChain builds a fallback chain. secondary and builtin may be nil.
func NewChain(primary, secondary, builtin Store, opts ...Option) *Chain {
	c := &Chain{
		links: []link{{name: LinkPrimary, store: primary}},
		opts:  buildOptions(opts),
	}
	if secondary != nil {
		c.links = append(c.links, link{name: LinkSecondary, store: secondary})
	}
	if builtin != nil {
		c.links = append(c.links, link{name: LinkBuiltin, store: builtin})
	}
	return c
}

// Primary returns the link that receives writes.
func (c *Chain) Primary() Store { return c.links[0].store }

// Active returns the link currently serving reads. It returns
// ErrStoreUnavailable when every link is empty or failing.
func (c *Chain) Active(ctx context.Context) (string, Store, error) {
	for i, l := range c.links {
		ok, err := hasRecords(ctx, l.store)
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			c.opts.logger.Warn("store link failed, trying next",
				zap.String("link", l.name), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if i > 0 {
			c.opts.logger.Info("serving reads from fallback link", zap.String("link", l.name))
			c.opts.metrics.Fallback(l.name)
		}
		return l.name, l.store, nil
	}
	c.opts.logger.Error("no store link has usable records")
	c.opts.metrics.Fallback("unavailable")
	return "", nil, ErrStoreUnavailable
}

func (c *Chain) Kind() Kind { return c.Primary().Kind() }

func (c *Chain) Upsert(ctx context.Context, rec models.Record) error {
	return c.Primary().Upsert(ctx, rec)
}

func (c *Chain) Delete(ctx context.Context, id int64) (bool, error) {
	return c.Primary().Delete(ctx, id)
}

func (c *Chain) Get(ctx context.Context, id int64) (models.Record, bool, error) {
	_, s, err := c.Active(ctx)
	if errors.Is(err, ErrStoreUnavailable) {
		return models.Record{}, false, nil
	}
	if err != nil {
		return models.Record{}, false, err
	}
	return s.Get(ctx, id)
}

// Scan yields nothing rather than failing when every link is empty.
func (c *Chain) Scan(ctx context.Context, fn func(models.Record) error) error {
	_, s, err := c.Active(ctx)
	if errors.Is(err, ErrStoreUnavailable) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Scan(ctx, fn)
}

// Search uses the active link's own index when it has one.
func (c *Chain) Search(ctx context.Context, query []float32, limit int, threshold float64) ([]models.ScoredHit, error) {
	_, s, err := c.Active(ctx)
	if errors.Is(err, ErrStoreUnavailable) {
		return []models.ScoredHit{}, nil
	}
	if err != nil {
		return nil, err
	}
	if searcher, ok := s.(Searcher); ok {
		return searcher.Search(ctx, query, limit, threshold)
	}
	collector := ranking.NewCollector(query, limit, threshold)
	err = s.Scan(ctx, func(r models.Record) error {
		collector.Add(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return collector.Hits(), nil
}

func (c *Chain) Count(ctx context.Context) (int, error) {
	_, s, err := c.Active(ctx)
	if errors.Is(err, ErrStoreUnavailable) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return s.Count(ctx)
}

func (c *Chain) Close() error {
	var errs []error
	for _, l := range c.links {
		if err := l.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
