package core

import (
	"context"
	"testing"
)

func TestQueryPoolAccountBalances(t *testing.T) {
	store := openTestStore(t)
	genesis := blk("g", "", 1, 0)
	tree := NewTree(genesis, 290, true)
	engine, err := NewLedgerEngine(tree, store, 8, 10)
	if err != nil {
		t.Fatalf("NewLedgerEngine: %v", err)
	}
	owner := PublicKey("B62pool00000000000000000000000000000000000000000000000000")
	engine.Seed("g", NewLedgerFromAccounts([]Account{tmpAccount(owner, 777, 0)}))

	pool := NewQueryPool(store, engine, 4)
	accts, err := pool.AccountBalances(context.Background(), "g", []AccountKey{
		{Token: MinaTokenID, Owner: owner},
		{Token: MinaTokenID, Owner: "B62unknown00000000000000000000000000000000000000000000000"},
	})
	if err != nil {
		t.Fatalf("AccountBalances: %v", err)
	}
	if accts[0].Balance != 777 {
		t.Fatalf("accts[0].Balance = %d, want 777", accts[0].Balance)
	}
	if accts[1].Balance != 0 {
		t.Fatalf("accts[1].Balance = %d, want 0 for an unknown account", accts[1].Balance)
	}
}

func TestQueryPoolBlocksAtHeight(t *testing.T) {
	store := openTestStore(t)
	genesis := blk("g", "", 1, 0)
	tree := NewTree(genesis, 290, true)
	engine, err := NewLedgerEngine(tree, store, 8, 10)
	if err != nil {
		t.Fatalf("NewLedgerEngine: %v", err)
	}

	if err := store.PutBlock(blk("b2", "g", 2, 1)); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}

	pool := NewQueryPool(store, engine, 4)
	blocks, err := pool.BlocksAtHeight(context.Background(), 2)
	if err != nil {
		t.Fatalf("BlocksAtHeight: %v", err)
	}
	if len(blocks) != 1 || blocks[0].StateHash != "b2" {
		t.Fatalf("BlocksAtHeight(2) = %v, want [b2]", blocks)
	}
}
