// Package config provides a reusable loader for the ledger client's
// configuration files and environment variables. It is versioned so that
// applications depending on it can rely on a stable contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/brave-intl/ledgerclient/internal/envutil"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a ledger client instance. It
// mirrors the structure of the optional YAML files Load reads from config/;
// this repository ships none, so Default's values apply unless such files
// are added.
type Config struct {
	Operator struct {
		BaseURL        string        `mapstructure:"base_url" json:"base_url"`
		RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	} `mapstructure:"operator" json:"operator"`

	Ballot struct {
		VoteBatchSize      int           `mapstructure:"vote_batch_size" json:"vote_batch_size"`
		PrepareVoteBackoff time.Duration `mapstructure:"prepare_vote_backoff" json:"prepare_vote_backoff"`
		VoteBatchBackoff   time.Duration `mapstructure:"vote_batch_backoff" json:"vote_batch_backoff"`
	} `mapstructure:"ballot" json:"ballot"`

	Wallet struct {
		Currency    string `mapstructure:"currency" json:"currency"`
		TestMode    bool   `mapstructure:"test_mode" json:"test_mode"`
		StateDBPath string `mapstructure:"state_db_path" json:"state_db_path"`
	} `mapstructure:"wallet" json:"wallet"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Default returns the configuration used when no config file is present,
// matching the constants assumed throughout the ledger package's design.
func Default() Config {
	var c Config
	c.Operator.BaseURL = "https://ledger.example.com"
	c.Operator.RequestTimeout = 30 * time.Second
	c.Ballot.VoteBatchSize = 10
	c.Ballot.PrepareVoteBackoff = 5 * time.Minute
	c.Ballot.VoteBatchBackoff = 5 * time.Minute
	c.Wallet.Currency = "BAT"
	c.Wallet.StateDBPath = "ledger-state.json"
	c.Logging.Level = "info"
	return c
}

// Load reads configuration files and merges any environment specific
// overrides on top of Default. The resulting configuration is stored in
// AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the base configuration is loaded.
func Load(env string) (*Config, error) {
	AppConfig = Default()

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge %s config: %w", env, err)
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the LEDGER_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(envutil.OrDefault("LEDGER_ENV", ""))
}
