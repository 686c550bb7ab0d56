package core

import "errors"

// The error kinds the core package can return, exhaustive. Callers
// should use errors.Is against these sentinels; wrapped context is
// added with fmt.Errorf("...: %w", ...) at the call site.
var (
	// ErrInvalidParentage: a block's height/parent relationship is
	// internally inconsistent. The block is discarded.
	ErrInvalidParentage = errors.New("invalid parentage")

	// ErrBelowRoot: a block is below the finality threshold. Not an
	// error to the caller — persisted to the orphaned family if
	// configured, otherwise discarded.
	ErrBelowRoot = errors.New("block below root")

	// ErrDuplicateBlock: the block hash is already known; add_block is
	// a silent no-op.
	ErrDuplicateBlock = errors.New("duplicate block")

	// ErrLedgerInconsistency: apply_block could not reproduce the
	// block's stated balances. Fatal for that replay path; the tree
	// entry is retained, and nothing in the tree records that its
	// ledger cannot be materialized.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")

	// ErrStoreError: underlying KV failure. Propagated after the
	// coordinator's retry budget is exhausted.
	ErrStoreError = errors.New("store error")

	// ErrSchemaMismatch: stored schema version does not match the
	// current schema version. Fatal on startup.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrMalformedInput: JSON parse or semantic validation failure.
	// The offending file is skipped.
	ErrMalformedInput = errors.New("malformed input")

	// ErrNotFound is returned by lookups (tree, store) for hashes or
	// heights that are not present.
	ErrNotFound = errors.New("not found")
)
