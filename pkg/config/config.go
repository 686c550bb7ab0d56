package config

// Package config provides a reusable loader for indexer configuration
// files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"mina-indexer/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified bootstrap configuration for the indexer. It
// mirrors the structure of the YAML files under config/.
type Config struct {
	Indexer struct {
		DatabaseDir             string `mapstructure:"database_dir" json:"database_dir"`
		BlocksDir               string `mapstructure:"blocks_dir" json:"blocks_dir"`
		StakingLedgersDir       string `mapstructure:"staking_ledgers_dir" json:"staking_ledgers_dir"`
		GenesisStateHash        string `mapstructure:"genesis_state_hash" json:"genesis_state_hash"`
		GenesisLedgerPath       string `mapstructure:"genesis_ledger_path" json:"genesis_ledger_path"`
		LedgerCadence           uint32 `mapstructure:"ledger_cadence" json:"ledger_cadence"`
		FinalityDepth           uint32 `mapstructure:"finality_depth" json:"finality_depth"`
		DoNotIngestOrphanBlocks bool   `mapstructure:"do_not_ingest_orphan_blocks" json:"do_not_ingest_orphan_blocks"`
		AccountCreationFee      uint64 `mapstructure:"account_creation_fee" json:"account_creation_fee"`
		SnapshotCacheSize       int    `mapstructure:"snapshot_cache_size" json:"snapshot_cache_size"`
		QueryPoolSize           int    `mapstructure:"query_pool_size" json:"query_pool_size"`
	} `mapstructure:"indexer" json:"indexer"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is
// loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the MINA_INDEXER_ENV
// environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("MINA_INDEXER_ENV", ""))
}
