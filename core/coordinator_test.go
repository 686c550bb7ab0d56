package core

import (
	"context"
	"testing"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *Tree, *Store) {
	t.Helper()
	store := openTestStore(t)
	genesis := blk("g", "", 1, 0)
	tree := NewTree(genesis, 2, true)
	engine, err := NewLedgerEngine(tree, store, 8, 10)
	if err != nil {
		t.Fatalf("NewLedgerEngine: %v", err)
	}
	engine.Seed("g", NewLedger())
	c := NewCoordinator(tree, engine, store, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)
	return c, tree, store
}

func TestCoordinatorIngestsBlockAndPersistsCanonical(t *testing.T) {
	c, tree, store := newTestCoordinator(t)

	if err := c.IncomingBlock(blk("b2", "g", 2, 1)); err != nil {
		t.Fatalf("IncomingBlock: %v", err)
	}

	if tree.BestTip().StateHash != "b2" {
		t.Fatalf("best tip = %s, want b2", tree.BestTip().StateHash)
	}
	root, tip, err := store.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if root != "g" || tip != "b2" {
		t.Fatalf("Canonical() = (%s, %s), want (g, b2)", root, tip)
	}

	got, err := store.GetBlock("b2")
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if got.StateHash != "b2" {
		t.Fatalf("persisted block hash = %s, want b2", got.StateHash)
	}
}

func TestCoordinatorIgnoresDuplicateBlock(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	if err := c.IncomingBlock(blk("b2", "g", 2, 1)); err != nil {
		t.Fatalf("first IncomingBlock: %v", err)
	}
	if err := c.IncomingBlock(blk("b2", "g", 2, 1)); err != nil {
		t.Fatalf("duplicate IncomingBlock should be a silent no-op, got error: %v", err)
	}
}

func TestCoordinatorShutdownDrains(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	if err := c.IncomingBlock(blk("b2", "g", 2, 1)); err != nil {
		t.Fatalf("IncomingBlock: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("coordinator did not report done after Shutdown")
	}
}

func TestCoordinatorMetricsTrackClassification(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	if err := c.IncomingBlock(blk("b2", "g", 2, 1)); err != nil {
		t.Fatalf("IncomingBlock: %v", err)
	}
	m := c.Metrics()
	if m.ClassifiedByKind["MainProper"] != 1 {
		t.Fatalf("ClassifiedByKind[MainProper] = %d, want 1", m.ClassifiedByKind["MainProper"])
	}
}
