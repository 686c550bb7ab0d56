package core

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

// StateHash identifies a block by the hash of its protocol state.
// Encoded as base58, 52 characters, prefixed "3N".
type StateHash string

// LedgerHash identifies a Merkle root of a ledger. Base58, 52 chars, prefixed "j".
type LedgerHash string

// PublicKey identifies an account holder. Base58, 55 chars, prefixed "B62".
type PublicKey string

// TokenId is an opaque token identifier. The distinguished native token is MinaTokenID.
type TokenId string

// MinaTokenID is the distinguished native MINA token.
const MinaTokenID TokenId = "MINA"

// Amount is a non-negative fixed-point quantity denominated in nanomina.
type Amount uint64

// Nonce is a monotonically increasing per-account sequence number.
type Nonce uint64

// Height is a 1-indexed block height; genesis is height 1.
type Height uint64

// GlobalSlot is the absolute consensus slot number since genesis.
type GlobalSlot uint64

const (
	stateHashLen = 52
	stateHashPfx = "3N"

	ledgerHashLen = 52
	ledgerHashPfx = "j"

	publicKeyLen = 55
	publicKeyPfx = "B62"
)

// Validate reports whether h has the expected length and prefix for a
// state hash and decodes as base58. It does not verify the hash digest
// itself — the core trusts the cryptography of its input stream.
func (h StateHash) Validate() error {
	return validateB58("state hash", string(h), stateHashLen, stateHashPfx)
}

// Validate reports whether h has the expected length and prefix for a
// ledger hash and decodes as base58.
func (h LedgerHash) Validate() error {
	return validateB58("ledger hash", string(h), ledgerHashLen, ledgerHashPfx)
}

// Validate reports whether pk has the expected length and prefix for a
// public key and decodes as base58.
func (pk PublicKey) Validate() error {
	return validateB58("public key", string(pk), publicKeyLen, publicKeyPfx)
}

func validateB58(kind, s string, wantLen int, prefix string) error {
	if len(s) != wantLen {
		return fmt.Errorf("%s: %w: want %d chars, got %d", kind, ErrMalformedInput, wantLen, len(s))
	}
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return fmt.Errorf("%s: %w: want prefix %q", kind, ErrMalformedInput, prefix)
	}
	if _, err := base58.Decode(s); err != nil {
		return fmt.Errorf("%s: %w: %v", kind, ErrMalformedInput, err)
	}
	return nil
}

// compareVRF compares two last_vrf_output byte strings as big-endian
// unsigned integers, used for best-tip tie-breaking. A shorter slice is
// treated as left-padded with zero bytes.
func compareVRF(a, b []byte) int {
	if len(a) != len(b) {
		// Normalize lengths by left-padding the shorter one with zeros,
		// so comparison is purely by numeric value, not byte-count.
		la, lb := len(a), len(b)
		if la < lb {
			pad := make([]byte, lb-la)
			a = append(pad, a...)
		} else {
			pad := make([]byte, la-lb)
			b = append(pad, b...)
		}
	}
	return bytes.Compare(a, b)
}

// AccountKey identifies an account by its owning token and public key.
type AccountKey struct {
	Token TokenId
	Owner PublicKey
}

func (k AccountKey) String() string {
	return string(k.Token) + ":" + string(k.Owner)
}
