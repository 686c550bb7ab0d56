package core

// Permissions gates which parties may authorize changes to an account;
// the core only stores and forwards these, it never evaluates them
// (signature verification happens upstream, before a block reaches the
// indexer).
type Permissions struct {
	EditState      string
	Send           string
	Receive        string
	SetDelegate    string
	SetPermissions string
	SetVotingFor   string
}

// Timing defines an account's vesting schedule. A nil Timing on an
// Account means the account has no vesting restriction.
type Timing struct {
	InitialMinimumBalance Amount
	CliffTime             GlobalSlot
	CliffAmount           Amount
	VestingPeriod         GlobalSlot
	VestingIncrement      Amount
}

// minBalanceAt computes the minimum balance a vesting schedule still
// locks at slot s. Before the cliff, the full initial minimum applies.
// After the cliff, the minimum decreases by VestingIncrement every
// VestingPeriod slots, floored at zero.
func (t *Timing) minBalanceAt(s GlobalSlot) Amount {
	if t == nil {
		return 0
	}
	if s < t.CliffTime {
		return t.InitialMinimumBalance
	}
	afterCliff := t.InitialMinimumBalance - t.CliffAmount
	if t.CliffAmount > t.InitialMinimumBalance {
		afterCliff = 0
	}
	if t.VestingPeriod == 0 {
		return 0
	}
	periods := uint64(s-t.CliffTime) / uint64(t.VestingPeriod)
	vested := Amount(periods) * t.VestingIncrement
	if vested >= afterCliff {
		return 0
	}
	return afterCliff - vested
}

// Account is one ledger entry, keyed by (Token, PublicKey).
type Account struct {
	PublicKey        PublicKey
	Token            TokenId
	Balance          Amount
	Nonce            Nonce
	Delegate         PublicKey
	ReceiptChainHash string
	VotingFor        StateHash
	Permissions      Permissions
	Timing           *Timing
}

// Key returns the account's (token, public key) identity.
func (a *Account) Key() AccountKey {
	return AccountKey{Token: a.Token, Owner: a.PublicKey}
}

// LiquidBalance returns Balance minus whatever the vesting schedule
// still locks at slot s: balance minus max(0, min_balance_at(s)).
func (a *Account) LiquidBalance(s GlobalSlot) Amount {
	locked := a.Timing.minBalanceAt(s)
	if locked > a.Balance {
		return 0
	}
	return a.Balance - locked
}

// defaultAccount constructs the zero-value account created the first
// time a transfer targets a previously nonexistent (token, pk) pair.
func defaultAccount(key AccountKey) Account {
	return Account{
		PublicKey: key.Owner,
		Token:     key.Token,
	}
}
