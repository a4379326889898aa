// Command node runs a settlement chain sequencer with its JSON-RPC endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tolelom/tolsettle/config"
	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/events"
	"github.com/tolelom/tolsettle/indexer"
	"github.com/tolelom/tolsettle/internal/logging"
	"github.com/tolelom/tolsettle/internal/passphrase"
	"github.com/tolelom/tolsettle/metrics"
	"github.com/tolelom/tolsettle/rpc"
	"github.com/tolelom/tolsettle/sequencer"
	"github.com/tolelom/tolsettle/storage"
	"github.com/tolelom/tolsettle/vm"
	"github.com/tolelom/tolsettle/wallet"

	// Registers every transaction handler.
	_ "github.com/tolelom/tolsettle/vm/modules/all"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "node:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config.toml", "path to TOML config file")
	genKey := flag.Bool("genkey", false, "generate a new sequencer key and exit")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, closer, err := logging.Setup(logging.Options{
		Service:    "tolsettle-node",
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()
	logger = logger.With("node", cfg.NodeID)

	// Passwords come from the environment or a prompt, never from flags (they leak via ps).
	password, err := passphrase.NewSource(passphrase.EnvVar, "Sequencer keystore password: ").Get()
	if err != nil {
		return err
	}

	if *genKey {
		w, err := wallet.Generate("")
		if err != nil {
			return err
		}
		if err := wallet.SaveKey(cfg.KeyPath, password, w.PrivKey()); err != nil {
			return err
		}
		fmt.Printf("Generated key. Public key (sequencer address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", cfg.KeyPath)
		return nil
	}

	privKey, err := wallet.LoadKey(cfg.KeyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	genesis, err := config.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	interval, err := cfg.Interval()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	// State, blocks and indexes share one DB under distinct key prefixes.
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}
	if bc.Tip() == nil {
		block, err := config.CreateGenesisBlock(genesis, state, privKey)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(block); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		logger.Info("genesis block committed", "hash", block.Hash, "chain_id", genesis.ChainID)
	} else {
		block, err := bc.Genesis()
		if err != nil {
			return fmt.Errorf("load genesis block: %w", err)
		}
		if err := config.CheckGenesis(genesis, block); err != nil {
			return err
		}
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.New(reg, emitter)

	mempool := core.NewMempool()
	exec := vm.NewExecutor(state, emitter, genesis.ChainID)
	seq := sequencer.New(bc, state, mempool, exec, emitter, privKey, cfg.MaxBlockTxs)

	opts := rpc.ServerOptions{
		AuthToken: cfg.RPC.AuthToken,
		RateLimit: cfg.RPC.RateLimit,
		Burst:     cfg.RPC.Burst,
	}
	if cfg.RPC.Metrics {
		opts.Metrics = reg
	}
	server := rpc.NewServer(cfg.RPC.Listen, rpc.NewHandler(bc, mempool, state, idx, genesis.ChainID), opts)
	if err := server.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer server.Stop()
	logger.Info("rpc listening", "addr", server.Addr(), "auth", cfg.RPC.AuthToken != "", "metrics", cfg.RPC.Metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sequencer running", "pubkey", privKey.Public().Hex(), "interval", interval, "height", bc.Height())
	err = seq.Run(ctx, interval)
	if errors.Is(err, sequencer.ErrCommit) {
		logger.Error("state commit failed, halting", "err", err)
		return err
	}
	// Deferred calls run in LIFO: server.Stop → db.Close.
	logger.Info("shutting down")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.DefaultConfig(), nil
	}
	return cfg, err
}
