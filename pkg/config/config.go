package config

// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"porwchain-network/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a node. It mirrors the
// structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		RPCEnabled     bool     `mapstructure:"rpc_enabled" json:"rpc_enabled"`
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	PoRW struct {
		TargetIntervalSeconds int     `mapstructure:"target_interval_seconds" json:"target_interval_seconds"`
		InflationRate         float64 `mapstructure:"inflation_rate" json:"inflation_rate"`
		MinFactor             float64 `mapstructure:"min_factor" json:"min_factor"`
		MaxFactor             float64 `mapstructure:"max_factor" json:"max_factor"`
		MinScore              float64 `mapstructure:"min_score" json:"min_score"`
	} `mapstructure:"porw" json:"porw"`

	PoRS struct {
		ChunkSize            int     `mapstructure:"chunk_size" json:"chunk_size"`
		ChallengeIntervalSec int     `mapstructure:"challenge_interval_seconds" json:"challenge_interval_seconds"`
		ReliabilityThreshold float64 `mapstructure:"reliability_threshold" json:"reliability_threshold"`
	} `mapstructure:"pors" json:"pors"`

	Consensus struct {
		PorsIntervalSeconds int     `mapstructure:"pors_interval_seconds" json:"pors_interval_seconds"`
		CheckpointEvery     uint64  `mapstructure:"checkpoint_every" json:"checkpoint_every"`
		Alpha               float64 `mapstructure:"alpha" json:"alpha"`
	} `mapstructure:"consensus" json:"consensus"`

	Storage struct {
		ChainDir   string `mapstructure:"chain_dir" json:"chain_dir"`
		StorageDir string `mapstructure:"storage_dir" json:"storage_dir"`
		Prune      bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Addr    string `mapstructure:"addr" json:"addr"`
	} `mapstructure:"metrics" json:"metrics"`
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

	viper.AutomaticEnv() // picks up process environment variables

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the PORWCHAIN_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("PORWCHAIN_ENV", ""))
}
