package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// eventKind tags the Coordinator's single input channel: new blocks,
// new staking ledgers, and a graceful shutdown signal.
type eventKind uint8

const (
	eventIncomingBlock eventKind = iota + 1
	eventIncomingStakingLedger
	eventShutdown
)

type event struct {
	kind    eventKind
	block   *Block
	ledger  stakingLedgerEvent
	done    chan error
}

type stakingLedgerEvent struct {
	hash     LedgerHash
	accounts []Account
}

// Coordinator is the single-threaded control loop: every incoming
// block or staking ledger is processed strictly in arrival order
// through one goroutine, so the witness tree, ledger engine and store
// never observe concurrent writers.
type Coordinator struct {
	tree   *Tree
	engine *LedgerEngine
	store  *Store
	log    *zap.SugaredLogger

	// bootID is a fresh uuid.New() value logged on this run instance's
	// "coordinator started" line, identifying one coordinator lifetime
	// across a restart.
	bootID string

	events chan event
	done   chan struct{}

	metricsMu        sync.Mutex
	classifiedByKind map[Classification]uint64
	rootAdvancements uint64
	storeRetries     uint64
}

// Metrics is a point-in-time snapshot of the coordinator's own
// throughput counters: blocks classified by kind, how many times the
// witness tree's root has advanced, and how many store writes needed a
// retry.
type Metrics struct {
	ClassifiedByKind map[string]uint64
	RootAdvancements uint64
	StoreRetries     uint64
}

// NewCoordinator wires a tree, ledger engine and store into one event
// loop. Call Run in its own goroutine, then feed it via
// IncomingBlock/IncomingStakingLedger/Shutdown.
func NewCoordinator(tree *Tree, engine *LedgerEngine, store *Store, log *zap.SugaredLogger) *Coordinator {
	if log == nil {
		l, _ := zap.NewProduction()
		log = l.Sugar()
	}
	return &Coordinator{
		tree:             tree,
		engine:           engine,
		store:            store,
		log:              log,
		bootID:           uuid.New().String(),
		events:           make(chan event, 256),
		done:             make(chan struct{}),
		classifiedByKind: make(map[Classification]uint64),
	}
}

// Metrics returns a snapshot of the coordinator's throughput counters.
func (c *Coordinator) Metrics() Metrics {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	byKind := make(map[string]uint64, len(c.classifiedByKind))
	for k, v := range c.classifiedByKind {
		byKind[k.String()] = v
	}
	return Metrics{
		ClassifiedByKind: byKind,
		RootAdvancements: c.rootAdvancements,
		StoreRetries:     c.storeRetries,
	}
}

func (c *Coordinator) recordClassification(class Classification) {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	c.classifiedByKind[class]++
}

func (c *Coordinator) recordRootAdvancement() {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	c.rootAdvancements++
}

func (c *Coordinator) recordStoreRetry() {
	c.metricsMu.Lock()
	defer c.metricsMu.Unlock()
	c.storeRetries++
}

// Run drains the event queue until Shutdown is processed. It should be
// started in its own goroutine; callers wait on <-c.Done() to know
// when it has fully drained and exited.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	c.log.Infow("coordinator started", "boot_id", c.bootID)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			err := c.handle(ctx, ev)
			if ev.done != nil {
				ev.done <- err
			}
			if ev.kind == eventShutdown {
				return
			}
		}
	}
}

// Done reports when the event loop has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) handle(ctx context.Context, ev event) error {
	switch ev.kind {
	case eventIncomingBlock:
		return c.handleBlock(ctx, ev.block)
	case eventIncomingStakingLedger:
		return c.handleStakingLedger(ctx, ev.ledger)
	case eventShutdown:
		c.log.Info("coordinator shutting down")
		return nil
	default:
		return fmt.Errorf("coordinator: unrecognized event kind %d", ev.kind)
	}
}

// retryBudget is the store-write retry policy: three attempts,
// starting at 50ms, doubling, before ErrStoreError is propagated to
// the caller.
func retryBudget() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	return backoff.WithMaxRetries(b, 2)
}

func (c *Coordinator) withRetry(ctx context.Context, op func() error) error {
	err := backoff.RetryNotify(op, backoff.WithContext(retryBudget(), ctx), func(err error, d time.Duration) {
		c.recordStoreRetry()
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreError, err)
	}
	return nil
}

func (c *Coordinator) handleBlock(ctx context.Context, b *Block) error {
	result, err := c.tree.AddBlock(b)
	switch {
	case err == nil:
		// proceed
	case errors.Is(err, ErrDuplicateBlock):
		c.log.Debugw("duplicate block ignored", "hash", b.StateHash)
		return nil
	case errors.Is(err, ErrBelowRoot):
		c.log.Debugw("below-root block", "hash", b.StateHash, "height", b.Height)
		if !c.tree.IngestOrphans() {
			return nil
		}
		if writeErr := c.withRetry(ctx, func() error { return c.store.PutOrphaned(b) }); writeErr != nil {
			return fmt.Errorf("persist below-root block %s: %w", b.StateHash, writeErr)
		}
		return nil
	default:
		return fmt.Errorf("classify block %s: %w", b.StateHash, err)
	}

	c.log.Infow("block classified", "hash", b.StateHash, "height", b.Height, "class", result.Class.String())
	c.recordClassification(result.Class)

	if writeErr := c.withRetry(ctx, func() error { return c.store.PutBlock(b) }); writeErr != nil {
		return fmt.Errorf("persist block %s: %w", b.StateHash, writeErr)
	}
	if writeErr := c.withRetry(ctx, func() error { return c.store.PutCommands(b) }); writeErr != nil {
		return fmt.Errorf("persist commands for block %s: %w", b.StateHash, writeErr)
	}

	if _, err := c.engine.LedgerAt(b.StateHash); err != nil {
		c.log.Warnw("ledger materialization failed", "hash", b.StateHash, "err", err)
	}

	if c.tree.IngestOrphans() {
		for _, orphanBlock := range result.Pruned {
			if writeErr := c.withRetry(ctx, func() error { return c.store.PutOrphaned(orphanBlock) }); writeErr != nil {
				c.log.Warnw("failed to archive pruned block", "hash", orphanBlock.StateHash, "err", writeErr)
			}
		}
	}

	if result.RootAdvanced {
		c.recordRootAdvancement()
		newRoot := c.tree.Root()
		if err := c.engine.MaterializeCanonical(newRoot); err != nil {
			c.log.Warnw("root materialization failed", "root", newRoot, "err", err)
		}
	}

	chain := c.tree.CanonicalChain()
	if writeErr := c.withRetry(ctx, func() error { return c.store.SetCanonicalChain(chain) }); writeErr != nil {
		return fmt.Errorf("persist canonical chain: %w", writeErr)
	}

	return nil
}

func (c *Coordinator) handleStakingLedger(ctx context.Context, ev stakingLedgerEvent) error {
	return c.withRetry(ctx, func() error { return c.store.PutStakingLedger(ev.hash, ev.accounts) })
}

// IncomingBlock enqueues a block for processing and blocks until it has
// been handled, returning any error the coordinator produced.
func (c *Coordinator) IncomingBlock(b *Block) error {
	done := make(chan error, 1)
	c.events <- event{kind: eventIncomingBlock, block: b, done: done}
	return <-done
}

// IncomingStakingLedger enqueues a staking ledger snapshot for
// persistence.
func (c *Coordinator) IncomingStakingLedger(hash LedgerHash, accounts []Account) error {
	done := make(chan error, 1)
	c.events <- event{kind: eventIncomingStakingLedger, ledger: stakingLedgerEvent{hash: hash, accounts: accounts}, done: done}
	return <-done
}

// Shutdown enqueues the terminal event and waits for the loop to drain
// and exit, or for ctx to expire first, in which case it returns
// ctx.Err() without any guarantee the loop has stopped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case c.events <- event{kind: eventShutdown, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

