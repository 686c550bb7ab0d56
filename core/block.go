package core

import "fmt"

// CommandStatus is the authoritative outcome of a user command as
// recorded by the block producer; ledger replay must reproduce it
// exactly.
type CommandStatus uint8

const (
	// StatusApplied means the command's full body effects were applied.
	StatusApplied CommandStatus = iota + 1
	// StatusFailed means only the fee deduction and nonce increment
	// took effect.
	StatusFailed
)

func (s CommandStatus) String() string {
	switch s {
	case StatusApplied:
		return "Applied"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// UserCommandKind is the closed tag of the UserCommand sum type,
// dispatched by a type switch rather than interface methods.
type UserCommandKind uint8

const (
	CommandPayment UserCommandKind = iota + 1
	CommandDelegation
	CommandZkapp
)

// PaymentBody moves Amount of Token from Source to Receiver.
type PaymentBody struct {
	Source   PublicKey
	Receiver PublicKey
	Amount   Amount
	Token    TokenId
}

// DelegationBody reassigns Delegator's stake delegate.
type DelegationBody struct {
	Delegator   PublicKey
	NewDelegate PublicKey
}

// AccountUpdate is one node of a zkApp call-tree, applied in
// left-to-right post-order: children before the node itself.
type AccountUpdate struct {
	Account        AccountKey
	BalanceChange  int64 // signed delta, may be negative
	SetDelegate    *PublicKey
	IncrementNonce bool
	SetVotingFor   *StateHash
	SetPermissions *Permissions
	SetAppState    map[string][]byte
	Children       []AccountUpdate
}

// ZkappBody is a zkApp command: a fee payer plus an ordered forest of
// account updates.
type ZkappBody struct {
	FeePayer       PublicKey
	AccountUpdates []AccountUpdate
}

// UserCommand is the closed sum over {Payment, Delegation, Zkapp}.
// Exactly one of the Body fields is populated, selected by Kind.
type UserCommand struct {
	Kind UserCommandKind

	Payment    *PaymentBody
	Delegation *DelegationBody
	Zkapp      *ZkappBody

	Fee        Amount
	FeePayer   PublicKey
	Nonce      Nonce
	Memo       string
	ValidUntil GlobalSlot
	Status     CommandStatus

	// AccountCreationFeePaid is the payer of record for any new-account
	// creation fee triggered by this command's effects.
	AccountCreationFeePaid PublicKey

	// TxHash is the command's wire-level hash, used as the primary key
	// in the store's command_by_hash family.
	TxHash string
}

func (c UserCommand) String() string {
	switch c.Kind {
	case CommandPayment:
		return fmt.Sprintf("Payment(%s->%s,%d)", c.Payment.Source, c.Payment.Receiver, c.Payment.Amount)
	case CommandDelegation:
		return fmt.Sprintf("Delegation(%s->%s)", c.Delegation.Delegator, c.Delegation.NewDelegate)
	case CommandZkapp:
		return fmt.Sprintf("Zkapp(payer=%s,updates=%d)", c.Zkapp.FeePayer, len(c.Zkapp.AccountUpdates))
	default:
		return "UnknownCommand"
	}
}

// InternalCommandKind distinguishes coinbase payouts from fee transfers.
type InternalCommandKind uint8

const (
	InternalCoinbase InternalCommandKind = iota + 1
	InternalFeeTransfer
)

// InternalCommand is a protocol-generated transfer (coinbase or fee
// transfer), applied before user commands.
type InternalCommand struct {
	Kind     InternalCommandKind
	Receiver PublicKey
	Amount   Amount
}

// SnarkWork records one completed SNARK job bundled into a block.
type SnarkWork struct {
	Prover PublicKey
	Fee    Amount
	// JobIDs identifies the transaction/job range this proof covers.
	JobIDs []string
}

// EpochCheckpoints carries the staking/next epoch data consensus needs
// for VRF evaluation; the core only stores and forwards these fields.
type EpochCheckpoints struct {
	SeedHash             StateHash
	LockCheckpoint       StateHash
	StartCheckpoint      StateHash
	EpochLedgerHash      LedgerHash
	TotalCurrencyAtEpoch Amount
}

// Block is an immutable record of one finalized block. Once
// constructed it is never mutated; the witness tree and ledger engine
// only ever read it.
type Block struct {
	StateHash         StateHash
	PreviousStateHash StateHash
	GenesisStateHash  StateHash

	Height     Height
	GlobalSlot GlobalSlot
	Epoch      uint32

	// LastVRFOutput is compared as a big-endian unsigned integer for
	// best-tip tie-breaking.
	LastVRFOutput []byte

	Creator          PublicKey
	BlockWinner      PublicKey
	CoinbaseReceiver PublicKey

	Commands         []UserCommand
	InternalCommands []InternalCommand
	CompletedWorks   []SnarkWork

	TotalCurrency       Amount
	MinWindowDensity    uint32
	SuperchargeCoinbase bool
	StakingEpochData    EpochCheckpoints
	NextEpochData       EpochCheckpoints

	// AccountCreationFee is the protocol-wide fee deducted whenever a
	// command's effects create a previously nonexistent account.
	AccountCreationFee Amount
}

// validateAgainstParent checks the structural invariant height(parent)
// + 1 == height(block). It does not look up the parent in any tree;
// the witness tree performs that check against its own state when
// classifying the block.
func (b *Block) validateAgainstParent(parent *Block) error {
	if parent == nil {
		return nil
	}
	if b.Height != parent.Height+1 {
		return fmt.Errorf("block %s height %d: %w: expected %d", b.StateHash, b.Height, ErrInvalidParentage, parent.Height+1)
	}
	if b.PreviousStateHash != parent.StateHash {
		return fmt.Errorf("block %s: %w: previous_state_hash %s does not match parent %s", b.StateHash, ErrInvalidParentage, b.PreviousStateHash, parent.StateHash)
	}
	return nil
}
