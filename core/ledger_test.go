package core

import "testing"

func tmpAccount(owner PublicKey, balance Amount, nonce Nonce) Account {
	return Account{PublicKey: owner, Token: MinaTokenID, Balance: balance, Nonce: nonce}
}

func TestApplyBlockCoinbaseAndFeeTransfer(t *testing.T) {
	cases := []struct {
		name          string
		genesis       []Account
		block         *Block
		wantReceiver  Amount
		wantFeeWinner Amount
	}{
		{
			name: "coinbase credits receiver and fee transfer credits winner",
			genesis: []Account{
				tmpAccount("B62coinbaseReceiver000000000000000000000000000000000000", 0, 0),
				tmpAccount("B62feeTransferWinner0000000000000000000000000000000000000", 0, 0),
			},
			block: &Block{
				StateHash: "3Ntest0000000000000000000000000000000000000000000000",
				Height:    2,
				InternalCommands: []InternalCommand{
					{Kind: InternalCoinbase, Receiver: "B62coinbaseReceiver000000000000000000000000000000000000", Amount: 720_000_000_000},
					{Kind: InternalFeeTransfer, Receiver: "B62feeTransferWinner0000000000000000000000000000000000000", Amount: 1_000_000},
				},
			},
			wantReceiver:  720_000_000_000,
			wantFeeWinner: 1_000_000,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := NewLedgerFromAccounts(tc.genesis)
			next, err := ApplyBlock(prev, tc.block)
			if err != nil {
				t.Fatalf("ApplyBlock: %v", err)
			}
			recv, ok := next.Get(AccountKey{Token: MinaTokenID, Owner: "B62coinbaseReceiver000000000000000000000000000000000000"})
			if !ok || recv.Balance != tc.wantReceiver {
				t.Fatalf("coinbase receiver balance = %v, want %d", recv, tc.wantReceiver)
			}
			winner, ok := next.Get(AccountKey{Token: MinaTokenID, Owner: "B62feeTransferWinner0000000000000000000000000000000000000"})
			if !ok || winner.Balance != tc.wantFeeWinner {
				t.Fatalf("fee transfer winner balance = %v, want %d", winner, tc.wantFeeWinner)
			}
		})
	}
}

func TestApplyBlockPaymentWithAccountCreationFee(t *testing.T) {
	payer := PublicKey("B62payer00000000000000000000000000000000000000000000000000")
	receiver := PublicKey("B62newAccount000000000000000000000000000000000000000000000")

	prev := NewLedgerFromAccounts([]Account{tmpAccount(payer, 10_000_000_000, 0)})

	block := &Block{
		StateHash:          "3Npay0000000000000000000000000000000000000000000000000",
		Height:             2,
		AccountCreationFee: 1_000_000_000,
		Commands: []UserCommand{
			{
				Kind:     CommandPayment,
				FeePayer: payer,
				Fee:      1_000_000,
				Nonce:    0,
				Status:   StatusApplied,
				Payment: &PaymentBody{
					Source:   payer,
					Receiver: receiver,
					Amount:   2_000_000_000,
					Token:    MinaTokenID,
				},
				AccountCreationFeePaid: payer,
			},
		},
	}

	next, err := ApplyBlock(prev, block)
	if err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}

	wantPayerBalance := Amount(10_000_000_000 - 1_000_000 - 2_000_000_000 - 1_000_000_000)
	payerAcct, ok := next.Get(AccountKey{Token: MinaTokenID, Owner: payer})
	if !ok || payerAcct.Balance != wantPayerBalance {
		t.Fatalf("payer balance = %v, want %d", payerAcct, wantPayerBalance)
	}
	if payerAcct.Nonce != 1 {
		t.Fatalf("payer nonce = %d, want 1", payerAcct.Nonce)
	}

	receiverAcct, ok := next.Get(AccountKey{Token: MinaTokenID, Owner: receiver})
	if !ok || receiverAcct.Balance != 2_000_000_000 {
		t.Fatalf("receiver balance = %v, want 2000000000", receiverAcct)
	}
}

func TestApplyBlockFailedCommandOnlyChargesFee(t *testing.T) {
	payer := PublicKey("B62failed0000000000000000000000000000000000000000000000000")
	receiver := PublicKey("B62failedReceiver00000000000000000000000000000000000000000")
	prev := NewLedgerFromAccounts([]Account{tmpAccount(payer, 5_000_000, 3)})

	block := &Block{
		StateHash: "3Nfailed00000000000000000000000000000000000000000000000",
		Height:    2,
		Commands: []UserCommand{
			{
				Kind:     CommandPayment,
				FeePayer: payer,
				Fee:      1_000_000,
				Nonce:    3,
				Status:   StatusFailed,
				Payment: &PaymentBody{
					Source:   payer,
					Receiver: receiver,
					Amount:   100_000_000,
					Token:    MinaTokenID,
				},
			},
		},
	}

	next, err := ApplyBlock(prev, block)
	if err != nil {
		t.Fatalf("ApplyBlock: %v", err)
	}
	payerAcct, _ := next.Get(AccountKey{Token: MinaTokenID, Owner: payer})
	if payerAcct.Balance != 4_000_000 {
		t.Fatalf("payer balance after failed command = %d, want 4000000", payerAcct.Balance)
	}
	if payerAcct.Nonce != 4 {
		t.Fatalf("payer nonce after failed command = %d, want 4", payerAcct.Nonce)
	}
	if _, ok := next.Get(AccountKey{Token: MinaTokenID, Owner: receiver}); ok {
		t.Fatalf("receiver account should not exist after a failed payment")
	}
}

func TestApplyBlockInsufficientFeeIsInconsistent(t *testing.T) {
	payer := PublicKey("B62poor00000000000000000000000000000000000000000000000000")
	prev := NewLedgerFromAccounts([]Account{tmpAccount(payer, 10, 0)})

	block := &Block{
		StateHash: "3Npoor000000000000000000000000000000000000000000000000",
		Height:    2,
		Commands: []UserCommand{
			{Kind: CommandDelegation, FeePayer: payer, Fee: 1_000_000, Nonce: 0, Status: StatusApplied,
				Delegation: &DelegationBody{Delegator: payer, NewDelegate: payer}},
		},
	}

	if _, err := ApplyBlock(prev, block); err == nil {
		t.Fatalf("expected ErrLedgerInconsistency for insufficient fee balance")
	}
}

func TestApplyBlockDeterministicReplay(t *testing.T) {
	payer := PublicKey("B62det00000000000000000000000000000000000000000000000000")
	receiver := PublicKey("B62detReceiver0000000000000000000000000000000000000000000")
	genesis := []Account{tmpAccount(payer, 50_000_000_000, 0)}

	block := &Block{
		StateHash:          "3Ndet0000000000000000000000000000000000000000000000000",
		Height:             2,
		AccountCreationFee: 1_000_000_000,
		Commands: []UserCommand{
			{
				Kind: CommandPayment, FeePayer: payer, Fee: 2_000_000, Nonce: 0, Status: StatusApplied,
				Payment:                &PaymentBody{Source: payer, Receiver: receiver, Amount: 5_000_000_000, Token: MinaTokenID},
				AccountCreationFeePaid: payer,
			},
		},
	}

	l1, err := ApplyBlock(NewLedgerFromAccounts(genesis), block)
	if err != nil {
		t.Fatalf("first replay: %v", err)
	}
	l2, err := ApplyBlock(NewLedgerFromAccounts(genesis), block)
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}

	if l1.Hash() != l2.Hash() {
		t.Fatalf("replaying the same block twice produced different ledger hashes: %s vs %s", l1.Hash(), l2.Hash())
	}
}

func TestLedgerCloneIsIndependent(t *testing.T) {
	owner := PublicKey("B62clone0000000000000000000000000000000000000000000000000")
	l := NewLedgerFromAccounts([]Account{tmpAccount(owner, 100, 0)})
	clone := l.Clone()

	a, _ := clone.Get(AccountKey{Token: MinaTokenID, Owner: owner})
	a.Balance = 999
	clone.set(a)

	orig, _ := l.Get(AccountKey{Token: MinaTokenID, Owner: owner})
	if orig.Balance != 100 {
		t.Fatalf("mutating the clone affected the original: balance = %d", orig.Balance)
	}
}
