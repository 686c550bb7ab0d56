package core

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// The column families, one bbolt bucket each. An embedded ordered KV
// store gives prefix scans and atomic batch writes that a flat append
// log cannot.
const (
	bucketBlock          = "block"
	bucketBlockByHeight  = "block_by_height"
	bucketCanonical      = "canonical"
	bucketOrphaned       = "orphaned"
	bucketLedgerSnapshot = "ledger_snapshot"
	bucketStakingLedger  = "staking_ledger"
	bucketCommandByHash  = "command_by_hash"
	bucketCommandByAcct  = "command_by_account"
	bucketMeta           = "meta"
)

var allBuckets = []string{
	bucketBlock,
	bucketBlockByHeight,
	bucketCanonical,
	bucketOrphaned,
	bucketLedgerSnapshot,
	bucketStakingLedger,
	bucketCommandByHash,
	bucketCommandByAcct,
	bucketMeta,
}

// schemaVersion is bumped whenever a column family's key or value
// layout changes incompatibly; ErrSchemaMismatch is fatal on startup.
const schemaVersion = 1

var metaSchemaVersionKey = []byte("schema_version")

// Store is the content-addressed, ordered key-value store, backed by
// go.etcd.io/bbolt. It holds an exclusive directory lock for the
// process lifetime via github.com/gofrs/flock, enforcing a single
// writer across processes, not just across goroutines.
type Store struct {
	db   *bolt.DB
	lock *flock.Flock
	log  *zap.SugaredLogger
}

// OpenStore opens (creating if absent) the bbolt database under dir,
// acquiring an exclusive directory lock and verifying the schema
// version.
func OpenStore(dir string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		l, _ := zap.NewProduction()
		log = l.Sugar()
	}

	lockPath := filepath.Join(dir, ".lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w: %v", lockPath, ErrStoreError, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: %w: database directory already in use", lockPath, ErrStoreError)
	}

	dbPath := filepath.Join(dir, "indexer.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("open %s: %w: %v", dbPath, ErrStoreError, err)
	}

	s := &Store{db: db, lock: fl, log: log}
	if err := s.init(); err != nil {
		db.Close()
		fl.Unlock()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		existing := meta.Get(metaSchemaVersionKey)
		if existing == nil {
			var buf [4]byte
			binary.BigEndian.PutUint32(buf[:], schemaVersion)
			return meta.Put(metaSchemaVersionKey, buf[:])
		}
		got := binary.BigEndian.Uint32(existing)
		if got != schemaVersion {
			return fmt.Errorf("%w: on-disk schema %d, binary expects %d", ErrSchemaMismatch, got, schemaVersion)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	s.log.Infow("store opened", "schema_version", schemaVersion)
	return nil
}

// Close flushes and releases the directory lock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return fmt.Errorf("close db: %w: %v", ErrStoreError, dbErr)
	}
	if lockErr != nil {
		return fmt.Errorf("release lock: %w: %v", ErrStoreError, lockErr)
	}
	return nil
}

func heightKey(h Height) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(h))
	return buf[:]
}

// PutBlock writes a block keyed by its state hash, and indexes it by
// height for range scans (BlocksAtHeight).
func (s *Store) PutBlock(b *Block) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode block %s: %w: %v", b.StateHash, ErrMalformedInput, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketBlock)).Put([]byte(b.StateHash), payload); err != nil {
			return err
		}
		hk := append(heightKey(b.Height), []byte(b.StateHash)...)
		return tx.Bucket([]byte(bucketBlockByHeight)).Put(hk, []byte(b.StateHash))
	})
}

// GetBlock reads back a block by state hash.
func (s *Store) GetBlock(hash StateHash) (*Block, error) {
	var b Block
	err := s.db.View(func(tx *bolt.Tx) error {
		payload := tx.Bucket([]byte(bucketBlock)).Get([]byte(hash))
		if payload == nil {
			return fmt.Errorf("block %s: %w", hash, ErrNotFound)
		}
		return json.Unmarshal(payload, &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// BlocksAtHeight returns every block hash indexed at height h (there
// may be several, when competing branches share a height).
func (s *Store) BlocksAtHeight(h Height) ([]StateHash, error) {
	var out []StateHash
	prefix := heightKey(h)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketBlockByHeight)).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= 8 && string(k[:8]) == string(prefix); k, v = c.Next() {
			out = append(out, StateHash(v))
		}
		return nil
	})
	return out, err
}

// SetCanonicalChain persists every block in chain (ordered root to
// tip) into the per-height canonical family, keyed by height so
// CanonicalAtHeight can answer directly instead of walking the witness
// tree. A reorg simply overwrites the heights its new canonical chain
// covers; heights below the witness tree's root are left as they were
// last written.
func (s *Store) SetCanonicalChain(chain []*Block) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCanonical))
		for _, blk := range chain {
			if err := b.Put(heightKey(blk.Height), []byte(blk.StateHash)); err != nil {
				return err
			}
		}
		return nil
	})
}

// CanonicalAtHeight returns the canonical chain's block hash at height
// h, if one has been recorded.
func (s *Store) CanonicalAtHeight(h Height) (StateHash, bool, error) {
	var hash StateHash
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketCanonical)).Get(heightKey(h))
		if v == nil {
			return nil
		}
		found = true
		hash = StateHash(v)
		return nil
	})
	return hash, found, err
}

// Canonical returns the state hashes at the lowest and highest heights
// recorded in the per-height canonical family. SetCanonicalChain never
// removes lower heights, so after the witness tree's root has advanced
// the first value is the lowest height ever recorded, not the tree's
// current root.
func (s *Store) Canonical() (root, tip StateHash, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketCanonical)).Cursor()
		if k, v := c.First(); k != nil {
			root = StateHash(v)
		}
		if k, v := c.Last(); k != nil {
			tip = StateHash(v)
		}
		return nil
	})
	return root, tip, err
}

// SchemaVersion returns the on-disk schema version recorded in the
// meta bucket at open time.
func (s *Store) SchemaVersion() (uint32, error) {
	var v uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketMeta)).Get(metaSchemaVersionKey)
		if raw == nil {
			return fmt.Errorf("schema version: %w", ErrNotFound)
		}
		v = binary.BigEndian.Uint32(raw)
		return nil
	})
	return v, err
}

// PutOrphaned archives a pruned or below-root block for later
// inspection; it is never read back by any replay path.
func (s *Store) PutOrphaned(b *Block) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode orphan %s: %w: %v", b.StateHash, ErrMalformedInput, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketOrphaned)).Put([]byte(b.StateHash), payload)
	})
}

// ledgerSnapshot is the on-disk representation of a materialized ledger
// at a given block, keyed by that block's state hash.
type ledgerSnapshot struct {
	Accounts []Account `json:"accounts"`
}

// PutLedgerSnapshot persists the full account set of ledger l as the
// snapshot for block hash, per the snapshot cadence the ledger engine
// enforces.
func (s *Store) PutLedgerSnapshot(hash StateHash, l Ledger) error {
	accounts := make([]Account, 0, l.Len())
	for k := range l.accounts {
		a := l.accounts[k]
		accounts = append(accounts, a)
	}
	payload, err := json.Marshal(ledgerSnapshot{Accounts: accounts})
	if err != nil {
		return fmt.Errorf("encode ledger snapshot %s: %w: %v", hash, ErrMalformedInput, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketLedgerSnapshot)).Put([]byte(hash), payload)
	})
}

// GetLedgerSnapshot loads the persisted ledger snapshot for hash, if
// one was written.
func (s *Store) GetLedgerSnapshot(hash StateHash) (Ledger, bool, error) {
	var snap ledgerSnapshot
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		payload := tx.Bucket([]byte(bucketLedgerSnapshot)).Get([]byte(hash))
		if payload == nil {
			return nil
		}
		found = true
		return json.Unmarshal(payload, &snap)
	})
	if err != nil || !found {
		return Ledger{}, false, err
	}
	return NewLedgerFromAccounts(snap.Accounts), true, nil
}

// PutStakingLedger persists a staking ledger snapshot keyed by its
// ledger hash, ingested out of band from the parsed staking-ledger
// JSON files under staking_ledgers_dir.
func (s *Store) PutStakingLedger(hash LedgerHash, accounts []Account) error {
	payload, err := json.Marshal(ledgerSnapshot{Accounts: accounts})
	if err != nil {
		return fmt.Errorf("encode staking ledger %s: %w: %v", hash, ErrMalformedInput, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketStakingLedger)).Put([]byte(hash), payload)
	})
}

// PutCommands indexes every user command in b by its transaction hash
// and by each involved account, for the query pool's lookups.
func (s *Store) PutCommands(b *Block) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		byHash := tx.Bucket([]byte(bucketCommandByHash))
		byAcct := tx.Bucket([]byte(bucketCommandByAcct))
		for i := range b.Commands {
			cmd := &b.Commands[i]
			payload, err := json.Marshal(cmd)
			if err != nil {
				return fmt.Errorf("encode command %s: %w: %v", cmd.TxHash, ErrMalformedInput, err)
			}
			if err := byHash.Put([]byte(cmd.TxHash), payload); err != nil {
				return err
			}
			for _, acct := range commandParticipants(cmd) {
				key := append([]byte(acct), []byte(cmd.TxHash)...)
				if err := byAcct.Put(key, []byte(cmd.TxHash)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func commandParticipants(cmd *UserCommand) []PublicKey {
	participants := []PublicKey{cmd.FeePayer}
	switch cmd.Kind {
	case CommandPayment:
		participants = append(participants, cmd.Payment.Source, cmd.Payment.Receiver)
	case CommandDelegation:
		participants = append(participants, cmd.Delegation.Delegator, cmd.Delegation.NewDelegate)
	case CommandZkapp:
		participants = append(participants, cmd.Zkapp.FeePayer)
	}
	return participants
}

// GetCommand looks up a user command by its transaction hash.
func (s *Store) GetCommand(hash string) (*UserCommand, error) {
	var cmd UserCommand
	err := s.db.View(func(tx *bolt.Tx) error {
		payload := tx.Bucket([]byte(bucketCommandByHash)).Get([]byte(hash))
		if payload == nil {
			return fmt.Errorf("command %s: %w", hash, ErrNotFound)
		}
		return json.Unmarshal(payload, &cmd)
	})
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}
