package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
)

// Ledger is a total map (TokenId, PublicKey) -> Account. The zero
// value is not usable; construct with NewLedger or
// NewLedgerFromAccounts. Ledger is deliberately a thin value type:
// callers clone it explicitly (Clone) before mutating, so the ledger
// engine's replay (core/ledgerengine.go) can hold many historical
// ledgers concurrently without aliasing bugs — ApplyBlock is a pure
// function, the original ledger is always left unchanged.
type Ledger struct {
	accounts map[AccountKey]Account
}

// NewLedger returns an empty ledger.
func NewLedger() Ledger {
	return Ledger{accounts: make(map[AccountKey]Account)}
}

// NewLedgerFromAccounts builds a ledger from a pre-populated account
// set, typically the genesis ledger bootstrapped from a JSON source.
func NewLedgerFromAccounts(accounts []Account) Ledger {
	l := NewLedger()
	for _, a := range accounts {
		l.accounts[a.Key()] = a
	}
	return l
}

// Clone returns a deep copy; mutating the copy never affects the
// original. ApplyBlock relies on this to allocate a new ledger while
// leaving the one it was called with untouched.
func (l Ledger) Clone() Ledger {
	cp := make(map[AccountKey]Account, len(l.accounts))
	for k, v := range l.accounts {
		if v.Timing != nil {
			t := *v.Timing
			v.Timing = &t
		}
		cp[k] = v
	}
	return Ledger{accounts: cp}
}

// Get returns the account at key, and whether it exists.
func (l Ledger) Get(key AccountKey) (Account, bool) {
	a, ok := l.accounts[key]
	return a, ok
}

// set installs or replaces the account at its own key.
func (l Ledger) set(a Account) {
	l.accounts[a.Key()] = a
}

// Len reports the number of accounts in the ledger.
func (l Ledger) Len() int { return len(l.accounts) }

// Hash computes a deterministic digest of the ledger by folding sha256
// over every account in sorted key order, so that two replays over the
// same effects produce byte-identical hashes. It is an opaque root
// hash, not a sparse Merkle tree with inclusion proofs — the core only
// needs a stable fingerprint of the account set. The result is "j"
// followed by 64 hex digits, not the 52-character base58 form that
// LedgerHash.Validate accepts.
func (l Ledger) Hash() LedgerHash {
	keys := make([]AccountKey, 0, len(l.accounts))
	for k := range l.accounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Token != keys[j].Token {
			return keys[i].Token < keys[j].Token
		}
		return keys[i].Owner < keys[j].Owner
	})

	h := sha256.New()
	var buf [8]byte
	for _, k := range keys {
		a := l.accounts[k]
		h.Write([]byte(k.Token))
		h.Write([]byte(k.Owner))
		binary.BigEndian.PutUint64(buf[:], uint64(a.Balance))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(a.Nonce))
		h.Write(buf[:])
		h.Write([]byte(a.Delegate))
		h.Write([]byte(a.VotingFor))
	}
	return LedgerHash(fmt.Sprintf("j%x", h.Sum(nil)))
}

// getOrCreate returns the account at key, creating it (and charging the
// account-creation fee to payer) on first write.
func (l Ledger) getOrCreate(key AccountKey, payer PublicKey, creationFee Amount) (Account, bool, error) {
	if a, ok := l.accounts[key]; ok {
		return a, false, nil
	}
	a := defaultAccount(key)
	if creationFee > 0 {
		payerKey := AccountKey{Token: key.Token, Owner: payer}
		payerAcct, ok := l.accounts[payerKey]
		if !ok {
			return Account{}, false, fmt.Errorf("account creation fee payer %s: %w", payer, ErrLedgerInconsistency)
		}
		if payerAcct.Balance < creationFee {
			return Account{}, false, fmt.Errorf("account creation fee payer %s: %w: balance %d < fee %d", payer, ErrLedgerInconsistency, payerAcct.Balance, creationFee)
		}
		payerAcct.Balance -= creationFee
		l.accounts[payerKey] = payerAcct
	}
	l.accounts[key] = a
	return a, true, nil
}

// ApplyBlock is the deterministic, pure replay function for folding one
// block's effects onto a ledger. prev is never mutated; the returned
// ledger is a new value built on a clone of prev. Effects are applied
// in a fixed order: internal fee transfers, then coinbase, then user
// commands in block order, with account-creation fees charged lazily
// as new accounts are first touched.
func ApplyBlock(prev Ledger, b *Block) (Ledger, error) {
	l := prev.Clone()

	// InternalCommand carries no payer-of-record: coinbase and fee
	// transfers are protocol-generated, not charged to any account, so
	// an account they first touch is created fee-free rather than
	// billing the fee to the receiver itself.
	for _, ic := range b.InternalCommands {
		if ic.Kind != InternalFeeTransfer {
			continue
		}
		if err := creditAccount(l, AccountKey{Token: MinaTokenID, Owner: ic.Receiver}, ic.Amount, "", 0); err != nil {
			return Ledger{}, err
		}
	}

	for _, ic := range b.InternalCommands {
		if ic.Kind != InternalCoinbase {
			continue
		}
		amount := ic.Amount
		if b.SuperchargeCoinbase {
			key := AccountKey{Token: MinaTokenID, Owner: ic.Receiver}
			if acct, ok := l.Get(key); ok && acct.Timing.minBalanceAt(b.GlobalSlot) > 0 {
				amount *= 2
			}
		}
		if err := creditAccount(l, AccountKey{Token: MinaTokenID, Owner: ic.Receiver}, amount, "", 0); err != nil {
			return Ledger{}, err
		}
	}

	for i := range b.Commands {
		if err := applyUserCommand(l, &b.Commands[i], b); err != nil {
			return Ledger{}, fmt.Errorf("command %d: %w", i, err)
		}
	}

	return l, nil
}

// creditAccount adds amount to the account at key, lazily creating it
// (and charging the block's account-creation fee to payer) if it does
// not yet exist.
func creditAccount(l Ledger, key AccountKey, amount Amount, payer PublicKey, creationFee Amount) error {
	a, _, err := l.getOrCreate(key, payer, creationFee)
	if err != nil {
		return err
	}
	a.Balance += amount
	l.set(a)
	return nil
}

func applyUserCommand(l Ledger, cmd *UserCommand, b *Block) error {
	payerKey := AccountKey{Token: MinaTokenID, Owner: cmd.FeePayer}
	payer, ok := l.Get(payerKey)
	if !ok {
		return fmt.Errorf("fee payer %s: %w: unknown account", cmd.FeePayer, ErrLedgerInconsistency)
	}

	if payer.LiquidBalance(b.GlobalSlot) < cmd.Fee {
		return fmt.Errorf("fee payer %s: %w: liquid balance insufficient for fee %d", cmd.FeePayer, ErrLedgerInconsistency, cmd.Fee)
	}
	payer.Balance -= cmd.Fee

	expectedNonce := payer.Nonce
	nonceMatches := cmd.Nonce == expectedNonce
	payer.Nonce = cmd.Nonce + 1
	l.set(payer)

	if !nonceMatches && cmd.Status == StatusApplied {
		return fmt.Errorf("fee payer %s: %w: nonce %d != expected %d but status is Applied", cmd.FeePayer, ErrLedgerInconsistency, cmd.Nonce, expectedNonce)
	}

	if cmd.Status == StatusFailed {
		return nil
	}
	if cmd.Status != StatusApplied {
		return fmt.Errorf("command: %w: unrecognized status %v", ErrLedgerInconsistency, cmd.Status)
	}

	switch cmd.Kind {
	case CommandPayment:
		return applyPayment(l, cmd, b)
	case CommandDelegation:
		return applyDelegation(l, cmd)
	case CommandZkapp:
		return applyZkapp(l, cmd, b)
	default:
		return fmt.Errorf("command: %w: unrecognized kind %v", ErrLedgerInconsistency, cmd.Kind)
	}
}

func applyPayment(l Ledger, cmd *UserCommand, b *Block) error {
	p := cmd.Payment
	srcKey := AccountKey{Token: p.Token, Owner: p.Source}
	src, ok := l.Get(srcKey)
	if !ok {
		return fmt.Errorf("payment source %s: %w: unknown account", p.Source, ErrLedgerInconsistency)
	}
	if src.LiquidBalance(b.GlobalSlot) < p.Amount {
		return fmt.Errorf("payment source %s: %w: liquid balance insufficient", p.Source, ErrLedgerInconsistency)
	}
	src.Balance -= p.Amount
	l.set(src)

	dstKey := AccountKey{Token: p.Token, Owner: p.Receiver}
	return creditAccount(l, dstKey, p.Amount, cmd.AccountCreationFeePaid, b.AccountCreationFee)
}

func applyDelegation(l Ledger, cmd *UserCommand) error {
	d := cmd.Delegation
	key := AccountKey{Token: MinaTokenID, Owner: d.Delegator}
	a, ok := l.Get(key)
	if !ok {
		return fmt.Errorf("delegator %s: %w: unknown account", d.Delegator, ErrLedgerInconsistency)
	}
	a.Delegate = d.NewDelegate
	l.set(a)
	return nil
}

func applyZkapp(l Ledger, cmd *UserCommand, b *Block) error {
	for i := range cmd.Zkapp.AccountUpdates {
		if err := applyAccountUpdatePostOrder(l, &cmd.Zkapp.AccountUpdates[i], cmd, b); err != nil {
			return err
		}
	}
	return nil
}

// applyAccountUpdatePostOrder walks the call-tree left-to-right,
// applying children before the node itself.
func applyAccountUpdatePostOrder(l Ledger, upd *AccountUpdate, cmd *UserCommand, b *Block) error {
	for i := range upd.Children {
		if err := applyAccountUpdatePostOrder(l, &upd.Children[i], cmd, b); err != nil {
			return err
		}
	}

	a, _, err := l.getOrCreate(upd.Account, cmd.AccountCreationFeePaid, b.AccountCreationFee)
	if err != nil {
		return err
	}

	newBalance := int64(a.Balance) + upd.BalanceChange
	if newBalance < 0 {
		return fmt.Errorf("account update %s: %w: balance would go negative", upd.Account, ErrLedgerInconsistency)
	}
	a.Balance = Amount(newBalance)
	if upd.IncrementNonce {
		a.Nonce++
	}
	if upd.SetDelegate != nil {
		a.Delegate = *upd.SetDelegate
	}
	if upd.SetVotingFor != nil {
		a.VotingFor = *upd.SetVotingFor
	}
	if upd.SetPermissions != nil {
		a.Permissions = *upd.SetPermissions
	}
	l.set(a)
	return nil
}
