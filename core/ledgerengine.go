package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultSnapshotCadence is the cadence NewLedgerEngine uses when given
// 0. The cadence controls how often a materialized ledger is written
// through to the store, trading replay cost against snapshot storage.
// A cadence of 1 snapshots every block; higher values snapshot less
// often and replay more on a cache miss.
const defaultSnapshotCadence = 10

// LedgerEngine materializes the ledger at any block in the witness
// tree by replaying from the nearest cached or persisted ancestor,
// rather than always from genesis.
type LedgerEngine struct {
	tree    *Tree
	store   *Store
	cache   *lru.Cache[StateHash, Ledger]
	cadence uint32
}

// NewLedgerEngine constructs a ledger engine backed by an in-memory LRU
// snapshot cache of the given size, falling through to the store and
// finally to a full replay from the tree's root on a miss.
func NewLedgerEngine(tree *Tree, store *Store, cacheSize int, cadence uint32) (*LedgerEngine, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	if cadence == 0 {
		cadence = defaultSnapshotCadence
	}
	cache, err := lru.New[StateHash, Ledger](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("new ledger engine: %w", err)
	}
	return &LedgerEngine{tree: tree, store: store, cache: cache, cadence: cadence}, nil
}

// Seed installs the genesis ledger as the snapshot for the tree's root,
// so LedgerAt has a base case to replay from.
func (e *LedgerEngine) Seed(rootHash StateHash, genesisLedger Ledger) {
	e.cache.Add(rootHash, genesisLedger)
}

// LedgerAt materializes the ledger as of block hash by walking back
// through ancestors until it finds a cached or stored snapshot, then
// replaying ApplyBlock forward over the blocks in between.
func (e *LedgerEngine) LedgerAt(hash StateHash) (Ledger, error) {
	if l, ok := e.cache.Get(hash); ok {
		return l, nil
	}
	if l, ok, err := e.store.GetLedgerSnapshot(hash); err != nil {
		return Ledger{}, err
	} else if ok {
		e.cache.Add(hash, l)
		return l, nil
	}

	chain, err := e.tree.ChainFrom(hash)
	if err != nil {
		return Ledger{}, err
	}
	if len(chain) == 0 {
		return Ledger{}, fmt.Errorf("ledger_at %s: %w", hash, ErrNotFound)
	}

	// Find the deepest ancestor in this chain with a cached or stored
	// snapshot, searching from hash back toward the root.
	startIdx := 0
	var base Ledger
	for i := len(chain) - 1; i >= 0; i-- {
		anc := chain[i].StateHash
		if l, ok := e.cache.Get(anc); ok {
			base, startIdx = l, i
			break
		}
		if l, ok, err := e.store.GetLedgerSnapshot(anc); err == nil && ok {
			base, startIdx = l, i
			break
		}
		if i == 0 {
			return Ledger{}, fmt.Errorf("ledger_at %s: %w: no ancestor snapshot reachable", hash, ErrLedgerInconsistency)
		}
	}

	l := base
	for i := startIdx + 1; i < len(chain); i++ {
		l, err = ApplyBlock(l, chain[i])
		if err != nil {
			return Ledger{}, fmt.Errorf("ledger_at %s: replay block %s: %w", hash, chain[i].StateHash, err)
		}
		e.cache.Add(chain[i].StateHash, l)
		if uint32(chain[i].Height)%e.cadence == 0 {
			if err := e.store.PutLedgerSnapshot(chain[i].StateHash, l); err != nil {
				return Ledger{}, err
			}
		}
	}
	return l, nil
}

// MaterializeCanonical is called after the witness tree advances its
// root, forcing a snapshot write-through at the new root, regardless
// of cadence, so future replays never need to walk past it.
func (e *LedgerEngine) MaterializeCanonical(rootHash StateHash) error {
	l, err := e.LedgerAt(rootHash)
	if err != nil {
		return err
	}
	e.cache.Add(rootHash, l)
	return e.store.PutLedgerSnapshot(rootHash, l)
}
