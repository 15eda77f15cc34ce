package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tokenScope/internal/aggregate"
	"tokenScope/internal/api"
	"tokenScope/internal/backoff"
	"tokenScope/internal/chain"
	"tokenScope/internal/config"
	"tokenScope/internal/contract"
	"tokenScope/internal/indexer"
	"tokenScope/internal/live"
	"tokenScope/internal/model"
	"tokenScope/internal/storage"
	"tokenScope/internal/storage/postgres"
	"tokenScope/internal/store"
	"tokenScope/internal/wallet"
)

const mirrorTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	factoryAddr, err := indexer.ParseAddress(cfg.Contract)
	if err != nil {
		return err
	}
	thresholds, err := aggregate.ParseThresholds(cfg.BadgeThresholds)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	if id, err := chainClient.ChainID(ctx); err != nil {
		logger.Warn("chain id lookup failed", zap.Error(err))
	} else if id != cfg.ChainID {
		return fmt.Errorf("rpc serves chain %d, expected %d", id, cfg.ChainID)
	}

	decoder, err := contract.NewDecoder(factoryAddr)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	policy := backoff.Exponential(cfg.MaxRetries, cfg.RetryBackoff, cfg.MaxRetryBackoff)

	st := store.New()
	engine := aggregate.NewEngine(aggregate.Config{
		RecentLimit:     cfg.RecentLimit,
		LeaderboardSize: cfg.LeaderboardSize,
		Thresholds:      thresholds,
		Logger:          logger,
	})

	fetcher := indexer.NewFetcher(indexer.FetchConfig{
		ChunkSize:          cfg.ChunkSize,
		MinChunkSize:       cfg.MinChunkSize,
		MaxHalvings:        cfg.MaxHalvings,
		Backoff:            policy,
		TimestampBatchSize: cfg.TimestampBatchSize,
		TimestampWorkers:   cfg.TimestampWorkers,
		Limiter:            limiter,
	}, chainClient, decoder, logger)

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock: cfg.FromBlock,
		ToBlock:   cfg.ToBlock,
	}, chainClient, fetcher, st, engine, logger)

	merger := live.NewMerger(chainClient, decoder, st, policy, logger, runner.Refresh)
	feed := live.NewFeed(live.FeedConfig{
		PollInterval: cfg.PollInterval,
		Reconnect:    policy,
		Limiter:      limiter,
	}, chainClient, merger, factoryAddr, decoder.Topic0(), logger)
	reorg := live.NewReorgChecker(live.ReorgConfig{
		Window:   cfg.ReorgWindow,
		Interval: cfg.ReorgInterval,
	}, chainClient, st, feed, logger)
	runner.UseLive(feed, reorg)

	var sinks []storage.EventSink
	if cfg.EventsOut != "" {
		jsonl := storage.NewJsonlStorage(cfg.EventsOut)
		sinks = append(sinks, jsonl)
		runner.OnBackfill(func(res indexer.Result) {
			if err := jsonl.PutDecodeErrors(res.DecodeErrors); err != nil {
				logger.Warn("write decode errors failed", zap.Error(err))
			}
		})
		merger.OnDecodeErrors(func(errs []model.DecodeError) {
			if err := jsonl.PutDecodeErrors(errs); err != nil {
				logger.Warn("write decode errors failed", zap.Error(err))
			}
		})
	}

	var viewMirror *storage.ViewMirror
	if cfg.PGDSN != "" {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, pg)
		viewMirror = storage.NewViewMirror(pg, mirrorTimeout, logger)
		runner.Subscribe(viewMirror.Publish)
	}
	if len(sinks) > 0 {
		storage.MirrorEvents(st, mirrorTimeout, logger, sinks...)
	}

	wallets, err := walletDescriptors(ctx, cfg)
	if err != nil {
		return err
	}
	registry := wallet.NewRegistry(wallet.NewStaticChannel(wallets), logger)
	connector := wallet.NewConnector(wallet.ConnectorConfig{
		Origin:  cfg.Origin,
		ChainID: cfg.ChainID,
	}, logger)

	server := api.NewServer(api.Config{
		Listen:         cfg.Listen,
		AllowedOrigins: cfg.AllowedOrigins,
	}, api.Deps{
		Views:    runner,
		Wallets:  registry,
		Sessions: connector,
		Tracker:  merger,
		Factory:  contract.NewFactory(chainClient, factoryAddr),
	}, logger)
	runner.Subscribe(server.Publish)

	logger.Info("tokenscope start",
		zap.String("rpc", cfg.RPCURL),
		zap.Stringer("mode", chainClient.Mode()),
		zap.String("contract", cfg.Contract),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("chunk_size", cfg.ChunkSize),
		zap.Int("wallets", len(wallets)),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.String("events_out", cfg.EventsOut),
		zap.String("listen", cfg.Listen),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Start(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		for range registry.Observe(gctx) {
		}
		return nil
	})
	if viewMirror != nil {
		g.Go(func() error { return viewMirror.Run(gctx) })
	}
	return g.Wait()
}

// walletDescriptors builds the configured providers. An RPC endpoint wins
// over a local key.
func walletDescriptors(ctx context.Context, cfg config.Config) ([]wallet.Descriptor, error) {
	out := make([]wallet.Descriptor, 0, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		var (
			provider wallet.Provider
			err      error
		)
		if w.RPC != "" {
			provider, err = wallet.DialRPCProvider(ctx, w.RPC)
		} else {
			provider, err = wallet.NewKeyProviderFromHex(w.Key, cfg.ChainID)
		}
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", w.ID, err)
		}
		name := w.Name
		if name == "" {
			name = w.ID
		}
		out = append(out, wallet.Descriptor{
			ID:          w.ID,
			DisplayName: name,
			IconRef:     w.Icon,
			RDNS:        w.RDNS,
			Provider:    provider,
		})
	}
	return out, nil
}
