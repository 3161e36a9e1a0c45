// Command porwnode runs a single hybrid PoRW/PoRS consensus node: it loads
// genesis metadata and local config, opens the chain store and mempool,
// joins the P2P network, and drives block production and sync until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"porwchain-network/core"
	"porwchain-network/internal/genesis"
	pkgconfig "porwchain-network/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "porwnode"}
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(versionCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the node version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(pkgconfig.Version)
		},
	}
}

func startCmd() *cobra.Command {
	var env string
	var testnet bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(env, testnet)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment overlay (e.g. bootstrap)")
	cmd.Flags().BoolVar(&testnet, "testnet", false, "use testnet genesis metadata instead of mainnet")
	return cmd
}

func runNode(env string, testnet bool) error {
	log := logrus.New()

	cfg, err := pkgconfig.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	meta := genesis.Mainnet()
	if testnet {
		meta = genesis.Testnet()
	}
	meta.Alpha = cfg.Consensus.Alpha
	meta.CheckpointEvery = cfg.Consensus.CheckpointEvery
	meta.PorsInterval = time.Duration(cfg.Consensus.PorsIntervalSeconds) * time.Second

	genesisBlock, err := meta.Block()
	if err != nil {
		return fmt.Errorf("build genesis block: %w", err)
	}

	chain, err := core.NewChainStore(core.ChainStoreConfig{
		Dir:          filepath.Clean(cfg.Storage.ChainDir),
		GenesisBlock: genesisBlock,
	})
	if err != nil {
		return fmt.Errorf("open chain store: %w", err)
	}
	defer chain.Close()

	state := core.NewState()
	for i := uint64(0); i < chain.Height(); i++ {
		blk, err := chain.GetByIndex(i)
		if err != nil {
			return fmt.Errorf("replay block %d: %w", i, err)
		}
		if err := state.Apply(blk); err != nil {
			return fmt.Errorf("apply block %d to state: %w", i, err)
		}
	}

	attest, err := core.NewAttestationContext()
	if err != nil {
		return fmt.Errorf("load kzg trusted setup: %w", err)
	}

	mempool := core.NewMempool(core.DefaultMempoolConfig())
	engine := core.NewPoRWEngine(meta.PoRW, attest)

	reliability := core.NewReliabilityTracker(cfg.PoRS.ReliabilityThreshold)
	validators := core.NewValidatorSet(reliability)
	validator := core.NewValidator(meta.Validation, chain, state, engine, attest, validators, nil)

	driver := core.NewDriver(core.DriverConfig{
		PorsInterval:    meta.PorsInterval,
		CheckpointEvery: meta.CheckpointEvery,
		Alpha:           meta.Alpha,
		MaxBlockTxs:     256,
		NetworkID:       meta.NetworkID,
	}, chain, state, mempool, validator, engine, validators, log)

	node, err := core.NewNode(core.Config{
		ListenAddr:      cfg.Network.ListenAddr,
		BootstrapPeers:  cfg.Network.BootstrapPeers,
		DiscoveryTag:    cfg.Network.DiscoveryTag,
		NetworkID:       meta.NetworkID,
		Version:         pkgconfig.Version,
		UserAgent:       "porwnode/" + pkgconfig.Version,
		MinPeers:        4,
		MaxPeers:        cfg.Network.MaxPeers,
		GossipCacheSize: 4096,
	}, chain.Height())
	if err != nil {
		return fmt.Errorf("start network node: %w", err)
	}
	defer node.Close()

	sync := core.NewChainSync(node, chain, mempool, validator, driver.ApplyIncomingBlock)
	driver.AttachSync(sync)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sync.Start(ctx); err != nil {
		return fmt.Errorf("start chain sync: %w", err)
	}
	go node.ListenAndServe()
	go node.MaintainPeerCount(cfg.Network.BootstrapPeers, chain.Height())

	var healthLogger *core.HealthLogger
	if cfg.Metrics.Enabled {
		healthLogger, err = core.NewHealthLogger(chain, state, mempool, node, filepath.Join(cfg.Storage.ChainDir, "health.log"))
		if err != nil {
			return fmt.Errorf("start health logger: %w", err)
		}
		defer healthLogger.Close()
		srv := healthLogger.StartServer(cfg.Metrics.Addr)
		defer srv.Shutdown(ctx)
		go healthLogger.Run(ctx, 15*time.Second)
	}

	go driver.Run(ctx, collectQuorumStub)

	log.WithFields(logrus.Fields{"network_id": meta.NetworkID, "height": chain.Height()}).Info("porwnode started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("porwnode shutting down")
	return nil
}

// collectQuorumStub stands in for the peer-to-peer quorum round trip: a
// full deployment replaces this with a request/response exchange against
// the eligible validators over the /porwchain/wire stream (core/protocol.go),
// soliciting and collecting signatures until the round reaches threshold.
func collectQuorumStub(ctx context.Context, eligible []*core.ValidatorInfo, threshold int) (*core.QuorumRound, error) {
	return nil, fmt.Errorf("quorum collection over the wire is not wired into this build (%d eligible validators, threshold %d)", len(eligible), threshold)
}
