package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"mina-indexer/core"
	"mina-indexer/pkg/config"
)

// cliLog is the CLI-facing logger; the core package logs separately
// through zap.SugaredLogger, keeping CLI-oriented output distinct from
// the structured logging the coordinator and store emit.
var cliLog = logrus.New()

// shutdownGracePeriod bounds how long a SIGINT/SIGTERM waits for the
// coordinator to drain its event queue before giving up on a clean exit.
const shutdownGracePeriod = 30 * time.Second

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{Use: "mina-indexer"}
	root.AddCommand(runCmd())
	root.AddCommand(statusCmd())
	if err := root.Execute(); err != nil {
		cliLog.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "boot the indexer coordinator and ingest blocks and staking ledgers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexer(env)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "configuration environment overlay (e.g. devnet)")
	return cmd
}

func runIndexer(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if lvl, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
		cliLog.SetLevel(lvl)
	}

	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zapLog.Sync()
	sugar := zapLog.Sugar()

	if err := os.MkdirAll(cfg.Indexer.DatabaseDir, 0755); err != nil {
		return fmt.Errorf("create database dir: %w", err)
	}
	store, err := core.OpenStore(cfg.Indexer.DatabaseDir, sugar)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	genesis, err := loadGenesisBlock(cfg)
	if err != nil {
		return fmt.Errorf("load genesis block: %w", err)
	}
	if genesis.AccountCreationFee == 0 {
		genesis.AccountCreationFee = core.Amount(cfg.Indexer.AccountCreationFee)
	}
	genesisLedger, err := loadGenesisLedger(cfg)
	if err != nil {
		return fmt.Errorf("load genesis ledger: %w", err)
	}

	tree := core.NewTree(genesis, cfg.Indexer.FinalityDepth, !cfg.Indexer.DoNotIngestOrphanBlocks)
	engine, err := core.NewLedgerEngine(tree, store, cfg.Indexer.SnapshotCacheSize, cfg.Indexer.LedgerCadence)
	if err != nil {
		return fmt.Errorf("build ledger engine: %w", err)
	}
	engine.Seed(genesis.StateHash, genesisLedger)

	coordinator := core.NewCoordinator(tree, engine, store, sugar)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coordinator.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cliLog.Info("shutdown signal received, draining coordinator")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer shutdownCancel()
		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			cliLog.WithError(err).Warn("coordinator did not drain within the shutdown grace period")
		}
		cancel()
	}()

	if cfg.Indexer.StakingLedgersDir != "" {
		if err := ingestStakingLedgers(coordinator, cfg.Indexer.StakingLedgersDir); err != nil {
			cliLog.WithError(err).Warn("staking ledger ingestion encountered errors")
		}
	}
	if err := ingestBlocksDir(coordinator, cfg.Indexer.BlocksDir, core.Amount(cfg.Indexer.AccountCreationFee)); err != nil {
		cliLog.WithError(err).Warn("block ingestion encountered errors")
	}

	cliLog.Info("ingestion complete, awaiting shutdown")
	<-coordinator.Done()
	return nil
}

func loadGenesisBlock(cfg *config.Config) (*core.Block, error) {
	path := filepath.Join(cfg.Indexer.BlocksDir, "genesis.json")
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", path, core.ErrMalformedInput, err)
	}
	var b core.Block
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %v", path, core.ErrMalformedInput, err)
	}
	return &b, nil
}

func loadGenesisLedger(cfg *config.Config) (core.Ledger, error) {
	if cfg.Indexer.GenesisLedgerPath == "" {
		return core.NewLedger(), nil
	}
	payload, err := os.ReadFile(cfg.Indexer.GenesisLedgerPath)
	if os.IsNotExist(err) {
		return core.NewLedger(), nil
	}
	if err != nil {
		return core.Ledger{}, fmt.Errorf("read %s: %w: %v", cfg.Indexer.GenesisLedgerPath, core.ErrMalformedInput, err)
	}
	var accounts []core.Account
	if err := json.Unmarshal(payload, &accounts); err != nil {
		return core.Ledger{}, fmt.Errorf("parse %s: %w: %v", cfg.Indexer.GenesisLedgerPath, core.ErrMalformedInput, err)
	}
	return core.NewLedgerFromAccounts(accounts), nil
}

// ingestBlocksDir parses every *.json block file under dir, other than
// genesis.json, in filename-sorted order, and feeds each one through
// the coordinator. Filenames are expected to sort by height, the same
// convention the Mina daemon's precomputed-block exporter uses.
// defaultCreationFee backfills AccountCreationFee on any block file
// that omits it, since older precomputed-block exports don't carry the
// field explicitly.
func ingestBlocksDir(coordinator *core.Coordinator, dir string, defaultCreationFee core.Amount) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read blocks dir %s: %w: %v", dir, core.ErrMalformedInput, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || e.Name() == "genesis.json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var firstErr error
	for _, name := range names {
		payload, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			cliLog.WithError(err).WithField("file", name).Warn("skipping unreadable block file")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		var b core.Block
		if err := json.Unmarshal(payload, &b); err != nil {
			cliLog.WithError(err).WithField("file", name).Warn("skipping malformed block file")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if b.AccountCreationFee == 0 {
			b.AccountCreationFee = defaultCreationFee
		}
		if err := coordinator.IncomingBlock(&b); err != nil {
			cliLog.WithError(err).WithField("file", name).Warn("block ingestion failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

type stakingLedgerFile struct {
	LedgerHash string         `json:"ledger_hash"`
	Accounts   []core.Account `json:"accounts"`
}

func ingestStakingLedgers(coordinator *core.Coordinator, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read staking ledgers dir %s: %w: %v", dir, core.ErrMalformedInput, err)
	}
	var firstErr error
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		var sl stakingLedgerFile
		if err := json.Unmarshal(payload, &sl); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := coordinator.IncomingStakingLedger(core.LedgerHash(sl.LedgerHash), sl.Accounts); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func statusCmd() *cobra.Command {
	var dbDir string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the current canonical root and tip from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(dbDir)
		},
	}
	cmd.Flags().StringVar(&dbDir, "database-dir", "./data/db", "path to the indexer's database directory")
	return cmd
}

func printStatus(dbDir string) error {
	zapLog, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer zapLog.Sync()

	store, err := core.OpenStore(dbDir, zapLog.Sugar())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	root, tip, err := store.Canonical()
	if err != nil {
		return fmt.Errorf("read canonical pointer: %w", err)
	}
	schemaVersion, err := store.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	var chainLength int
	if root != "" && tip != "" {
		rootBlock, rootErr := store.GetBlock(root)
		tipBlock, tipErr := store.GetBlock(tip)
		if rootErr == nil && tipErr == nil {
			chainLength = int(tipBlock.Height-rootBlock.Height) + 1
		}
	}

	out := struct {
		Root              string `yaml:"root"`
		Tip               string `yaml:"tip"`
		SchemaVersion     uint32 `yaml:"schema_version"`
		CanonicalChainLen int    `yaml:"canonical_chain_length"`
	}{Root: string(root), Tip: string(tip), SchemaVersion: schemaVersion, CanonicalChainLen: chainLength}

	enc, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	fmt.Print(string(enc))
	return nil
}
