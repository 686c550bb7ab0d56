package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// QueryPool bounds the concurrency of read-only lookups against the
// store and ledger engine: queries never block the coordinator's
// single writer, but must themselves be bounded so a burst of
// external requests cannot exhaust file descriptors against the
// database. Built on golang.org/x/sync/errgroup.
type QueryPool struct {
	store  *Store
	engine *LedgerEngine
	limit  int
}

// NewQueryPool builds a query pool with at most limit concurrent
// lookups in flight.
func NewQueryPool(store *Store, engine *LedgerEngine, limit int) *QueryPool {
	if limit <= 0 {
		limit = 8
	}
	return &QueryPool{store: store, engine: engine, limit: limit}
}

// AccountBalances resolves the account at each of the given keys as of
// block hash, concurrently bounded by the pool's limit.
func (p *QueryPool) AccountBalances(ctx context.Context, hash StateHash, keys []AccountKey) ([]Account, error) {
	l, err := p.engine.LedgerAt(hash)
	if err != nil {
		return nil, err
	}

	out := make([]Account, len(keys))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			a, ok := l.Get(key)
			if !ok {
				a = defaultAccount(key)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Commands resolves each of the given transaction hashes concurrently,
// bounded by the pool's limit.
func (p *QueryPool) Commands(ctx context.Context, hashes []string) ([]*UserCommand, error) {
	out := make([]*UserCommand, len(hashes))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, h := range hashes {
		i, h := i, h
		g.Go(func() error {
			cmd, err := p.store.GetCommand(h)
			if err != nil {
				return err
			}
			out[i] = cmd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// BlocksAtHeight resolves every block recorded at height h.
func (p *QueryPool) BlocksAtHeight(ctx context.Context, h Height) ([]*Block, error) {
	hashes, err := p.store.BlocksAtHeight(h)
	if err != nil {
		return nil, err
	}
	out := make([]*Block, len(hashes))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for i, hash := range hashes {
		i, hash := i, hash
		g.Go(func() error {
			b, err := p.store.GetBlock(hash)
			if err != nil {
				return err
			}
			out[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
