package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/easylayer/blockchain-provider/internal/provider"
	"github.com/easylayer/blockchain-provider/internal/ratelimiter"
	"github.com/easylayer/blockchain-provider/internal/transport"
	"github.com/easylayer/blockchain-provider/internal/transport/p2p"
	"github.com/easylayer/blockchain-provider/internal/transport/rpc"
	"github.com/easylayer/blockchain-provider/internal/universal"
	"github.com/easylayer/blockchain-provider/pkg/blockstore"
	"github.com/easylayer/blockchain-provider/pkg/common/config"
	"github.com/easylayer/blockchain-provider/pkg/common/logger"
	"github.com/easylayer/blockchain-provider/pkg/events"
)

var (
	configPath string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:   "provider",
		Short: "Blockchain data access layer over RPC and P2P node connections",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger.Init(&logger.Options{Level: level, TimeFormat: time.RFC3339})
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logs")

	root.AddCommand(watchCmd(), heightCmd(), infoCmd())

	if err := root.Execute(); err != nil {
		logger.Fatal("Command failed", "err", err)
	}
}

// buildProvider wires transports from config into a connected provider.
func buildProvider(ctx context.Context, cfg *config.Config) (*provider.Provider, error) {
	params, err := cfg.Network.Params()
	if err != nil {
		return nil, err
	}

	var transports []transport.Transport
	for _, nodeCfg := range cfg.RPC {
		t, err := rpc.New(rpc.Config{
			BaseURL:         nodeCfg.BaseURL,
			ResponseTimeout: nodeCfg.ResponseTimeout.Std(),
			PushEndpoint:    nodeCfg.PushEndpoint,
		}, params, rpc.WithRateLimiter(ratelimiter.New(ratelimiter.Config{
			MaxConcurrentRequests: cfg.RateLimiter.MaxConcurrentRequests,
			MaxBatchSize:          cfg.RateLimiter.MaxBatchSize,
			RequestDelay:          cfg.RateLimiter.RequestDelay.Std(),
		})))
		if err != nil {
			return nil, err
		}
		transports = append(transports, t)
	}
	if cfg.P2P != nil {
		transports = append(transports, p2p.New(p2p.Config{
			Peers:               cfg.P2P.Peers,
			ConnectionTimeout:   cfg.P2P.ConnectionTimeout.Std(),
			MaxHeight:           cfg.P2P.MaxHeight,
			HeaderSyncEnabled:   cfg.P2P.HeaderSyncEnabled,
			HeaderSyncBatchSize: cfg.P2P.HeaderSyncBatchSize,
		}, params))
	}

	p, err := provider.New(params, provider.Options{
		VerifyMerkle:        cfg.Provider.VerifyMerkle,
		RetryAttempts:       cfg.Provider.RetryAttempts,
		RetryInterval:       cfg.Provider.RetryInterval.Std(),
		HealthcheckInterval: cfg.Provider.HealthcheckInterval.Std(),
	}, transports...)
	if err != nil {
		return nil, err
	}
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the chain tip, persist blocks and forward events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := buildProvider(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Disconnect(context.Background())
			p.StartMonitoring(ctx)

			store, err := blockstore.Open(cfg.Blockstore.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			var emitter events.Emitter
			if cfg.Events.Enabled {
				nc, err := events.Connect(cfg.Events.NatsURL)
				if err != nil {
					return err
				}
				emitter = events.NewEmitter(nc, cfg.Events.SubjectPrefix)
				defer emitter.Close()
			}

			w := &watcher{
				provider: p,
				store:    store,
				emitter:  emitter,
				network:  p.Network().Network,
			}
			sub, err := p.SubscribeToNewBlocks(w.onBlock, func(err error) {
				logger.Warn("Block stream error", "err", err)
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			logger.Info("Watching for new blocks", "network", w.network)
			<-ctx.Done()
			return nil
		},
	}
}

// watcher persists incoming blocks and walks back to the fork point when a
// block does not extend what was recorded.
type watcher struct {
	provider *provider.Provider
	store    *blockstore.Store
	emitter  events.Emitter
	network  string
}

func (w *watcher) onBlock(b *universal.Block) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if tip, ok, err := w.store.TipHeight(ctx); err == nil && ok {
		if rec, found, _ := w.store.BlockByHeight(ctx, tip); found &&
			b.PreviousBlockHash != "" && b.PreviousBlockHash != rec.Hash {
			w.handleReorg(ctx, tip)
		}
	}

	rec := blockstore.Record{
		Height:            b.HeightValue(),
		Hash:              b.Hash,
		PreviousBlockHash: b.PreviousBlockHash,
		Time:              int64(b.Time),
	}
	if err := w.store.PutBlock(ctx, rec); err != nil {
		logger.Error("Persisting block failed", "hash", b.Hash, "err", err)
	}
	logger.Info("New block", "hash", b.Hash, "height", b.HeightValue(), "txs", b.NTx)

	if w.emitter != nil {
		if err := w.emitter.EmitBlock(w.network, b); err != nil {
			logger.Warn("Forwarding block event failed", "hash", b.Hash, "err", err)
		}
	}
}

func (w *watcher) handleReorg(ctx context.Context, fromHeight uint32) {
	fork, err := w.provider.FindForkPoint(ctx, w.store, fromHeight)
	if err != nil {
		logger.Error("Fork point search failed", "err", err)
		return
	}
	forkHash, _, _ := w.store.BlockHashByHeight(ctx, fork)
	if err := w.store.PruneAbove(ctx, fork); err != nil {
		logger.Error("Pruning stale branch failed", "err", err)
		return
	}
	logger.Warn("Chain reorganization handled", "fork_height", fork, "fork_hash", forkHash)
	if w.emitter != nil {
		if err := w.emitter.EmitReorg(w.network, fork, forkHash); err != nil {
			logger.Warn("Forwarding reorg event failed", "err", err)
		}
	}
}

func heightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "height",
		Short: "Print the current chain height",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			p, err := buildProvider(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Disconnect(context.Background())

			height, err := p.BlockHeight(ctx)
			if err != nil {
				return err
			}
			fmt.Println(height)
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print node, chain and mempool information as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			p, err := buildProvider(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Disconnect(context.Background())

			out := map[string]any{}
			if chain, err := p.BlockchainInfo(ctx); err == nil {
				out["blockchain"] = chain
			} else {
				out["blockchain_error"] = err.Error()
			}
			if netInfo, err := p.NetworkInfo(ctx); err == nil {
				out["network"] = netInfo
			} else {
				out["network_error"] = err.Error()
			}
			if mem, err := p.MempoolInfo(ctx); err == nil {
				out["mempool"] = mem
			} else {
				out["mempool_error"] = err.Error()
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
