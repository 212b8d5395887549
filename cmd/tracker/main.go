package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tokenscope/internal/cache"
	"tokenscope/internal/chain"
	"tokenscope/internal/config"
	"tokenscope/internal/discovery"
	"tokenscope/internal/metadata"
	"tokenscope/internal/model"
	"tokenscope/internal/observability"
	"tokenscope/internal/source"
	"tokenscope/internal/storage"
	"tokenscope/internal/storage/postgres"
	"tokenscope/internal/tracker"
	"tokenscope/internal/verify"
)

func main() {
	root := &cobra.Command{
		Use:          "tracker",
		Short:        "Token discovery and market-data tracker",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the discovery and price tracking pipeline",
		RunE:  runPipeline,
	}
	addPipelineFlags(runCmd)
	root.AddCommand(runCmd)

	discoverCmd := &cobra.Command{
		Use:   "discover <address>",
		Short: "Run the discovery pipeline for a single token address",
		Args:  cobra.ExactArgs(1),
		RunE:  runDiscover,
	}
	addPipelineFlags(discoverCmd)
	root.AddCommand(discoverCmd)

	blacklistCmd := &cobra.Command{
		Use:   "blacklist <address> [reason]",
		Short: "Blacklist a token address so discovery skips it",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runBlacklist,
	}
	addPipelineFlags(blacklistCmd)
	root.AddCommand(blacklistCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "chain RPC URL")
	cmd.Flags().String("factory", "", "DEX factory contract address")
	cmd.Flags().String("wrapped-native", "", "wrapped native token address")
	cmd.Flags().String("index-url", "", "DEX index/subgraph base URL")
	cmd.Flags().String("api-url", "", "DEX REST API base URL")
	cmd.Flags().String("verification-url", "", "token verification provider base URL")
	cmd.Flags().String("asset-registry-url", "", "asset registry logo URL template")
	cmd.Flags().String("image-cdn-url", "", "image CDN logo URL template")
	cmd.Flags().Duration("poll-interval", time.Minute, "source polling interval")
	cmd.Flags().Duration("scan-interval", 5*time.Minute, "on-chain event scan interval")
	cmd.Flags().Uint64("scan-block-range", 5000, "blocks to look back per event scan")
	cmd.Flags().Uint64("scan-batch-size", 2000, "blocks per getLogs batch")
	cmd.Flags().Int("max-new-tokens", 50, "max new tokens processed per batch")
	cmd.Flags().Int("throttle-rate", 10, "candidates processed between throttle pauses")
	cmd.Flags().Duration("throttle-pause", time.Minute, "throttle pause duration")
	cmd.Flags().Float64("min-liquidity-usd", 10000, "minimum liquidity threshold (inclusive)")
	cmd.Flags().Float64("min-volume-usd", 1000, "minimum 24h volume threshold (inclusive)")
	cmd.Flags().Int("min-holders", 50, "minimum holder count threshold (inclusive)")
	cmd.Flags().Bool("auto-verification", false, "verify discovered tokens via the provider")
	cmd.Flags().Int("min-verification-confidence", 0, "minimum verification confidence")
	cmd.Flags().Duration("price-update-interval", 30*time.Second, "price refresh interval")
	cmd.Flags().Duration("max-price-age", time.Minute, "max cached price age")
	cmd.Flags().Int("price-batch-size", 20, "addresses per price fetch batch")
	cmd.Flags().Duration("price-batch-delay", 200*time.Millisecond, "delay between price batches")
	cmd.Flags().Int("max-subscriptions", 1000, "max live price subscriptions")
	cmd.Flags().String("redis-addr", "", "redis address for the shared cache (empty uses in-memory)")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().Int("redis-db", 0, "redis database number")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN for token persistence (empty uses in-memory)")
	cmd.Flags().String("journal-out", "./data/events.jsonl", "discovery event journal JSONL path")
	cmd.Flags().String("checkpoint", "./data/checkpoint.json", "scan checkpoint file path")
	cmd.Flags().Bool("checkpoint-enabled", true, "enable scan checkpointing")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts for chain calls")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address (empty disables)")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

type pipeline struct {
	cfg     config.Config
	logger  *zap.Logger
	chain   *chain.Client
	sources []source.Client
	store   storage.TokenStore
	pgStore *postgres.Store
	engine  *discovery.Engine
	tracker *tracker.Tracker
	metrics *observability.Metrics
}

func buildPipeline(ctx context.Context, cmd *cobra.Command) (*pipeline, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.Factory == "" {
		return nil, fmt.Errorf("factory address is required")
	}
	if !common.IsHexAddress(cfg.Factory) {
		return nil, fmt.Errorf("invalid factory address: %s", cfg.Factory)
	}
	if cfg.WrappedNative != "" && !common.IsHexAddress(cfg.WrappedNative) {
		return nil, fmt.Errorf("invalid wrapped native address: %s", cfg.WrappedNative)
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	sources := make([]source.Client, 0, 2)
	if cfg.IndexURL != "" {
		sources = append(sources, source.NewDexIndex(cfg.IndexURL, logger))
	}
	if cfg.APIURL != "" {
		sources = append(sources, source.NewDexAPI(cfg.APIURL, logger))
	}
	if len(sources) == 0 {
		chainClient.Close()
		return nil, fmt.Errorf("at least one of --index-url or --api-url is required")
	}

	var sharedCache cache.Cache
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			chainClient.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		sharedCache = redisCache
	} else {
		sharedCache = cache.NewMemory(nil)
	}

	var store storage.TokenStore
	var pgStore *postgres.Store
	if cfg.PostgresDSN != "" {
		pgStore, err = postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			chainClient.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store = pgStore
	} else {
		store = storage.NewMemoryTokenStore()
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	enricher := metadata.NewService(metadata.Config{
		AssetRegistryURL: cfg.AssetRegistryURL,
		ImageCDNURL:      cfg.ImageCDNURL,
	}, sharedCache, chainClient, sources, logger)

	var verifier verify.Provider
	if cfg.VerificationURL != "" {
		verifier = verify.NewHTTPProvider(cfg.VerificationURL, logger)
	}

	var checkpoint discovery.Checkpointer
	if pgStore != nil {
		checkpoint = postgres.NewScanCheckpoint(pgStore)
	}

	engine := discovery.NewEngine(discovery.Config{
		PollInterval:              cfg.PollInterval,
		ScanInterval:              cfg.ScanInterval,
		ScanBlockRange:            cfg.ScanBlockRange,
		ScanBatchSize:             cfg.ScanBatchSize,
		MaxNewTokensPerBatch:      cfg.MaxNewTokensPerBatch,
		ThrottleRate:              cfg.ThrottleRate,
		ThrottlePause:             cfg.ThrottlePause,
		MinLiquidityUSD:           cfg.MinLiquidityUSD,
		MinVolumeUSD:              cfg.MinVolumeUSD,
		MinHolders:                cfg.MinHolders,
		AutoVerification:          cfg.AutoVerification,
		MinVerificationConfidence: cfg.MinVerificationConfidence,
		FactoryAddress:            common.HexToAddress(cfg.Factory),
		WrappedNative:             common.HexToAddress(cfg.WrappedNative),
		Checkpoint:                checkpoint,
		CheckpointPath:            cfg.Checkpoint,
		CheckpointEnabled:         cfg.CheckpointEnabled,
		MaxRetries:                cfg.MaxRetries,
		RetryBackoff:              cfg.RetryBackoff,
	}, sources, chainClient, enricher, verifier, store,
		storage.NewJsonlJournal(cfg.JournalOut), metrics, logger)

	priceTracker := tracker.NewTracker(tracker.Config{
		PriceUpdateInterval: cfg.PriceUpdateInterval,
		MaxPriceAge:         cfg.MaxPriceAge,
		BatchSize:           cfg.PriceBatchSize,
		BatchDelay:          cfg.PriceBatchDelay,
		MaxSubscriptions:    cfg.MaxSubscriptions,
		FactoryAddress:      common.HexToAddress(cfg.Factory),
		WrappedNative:       common.HexToAddress(cfg.WrappedNative),
	}, sources, chainClient, sharedCache, metrics, logger)

	return &pipeline{
		cfg:     cfg,
		logger:  logger,
		chain:   chainClient,
		sources: sources,
		store:   store,
		pgStore: pgStore,
		engine:  engine,
		tracker: priceTracker,
		metrics: metrics,
	}, nil
}

func (p *pipeline) close() {
	if p.pgStore != nil {
		p.pgStore.Close()
	}
	p.chain.Close()
	p.logger.Sync()
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cmd)
	if err != nil {
		return err
	}
	defer p.close()

	if p.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		server := &http.Server{Addr: p.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				p.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer server.Close()
		p.logger.Info("metrics server listening", zap.String("addr", p.cfg.MetricsAddr))
	}

	events, unsubscribe := p.engine.Subscribe(64)
	defer unsubscribe()

	if err := p.engine.Start(ctx); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	defer p.engine.Stop()

	if err := p.tracker.Start(ctx); err != nil {
		return fmt.Errorf("start tracker: %w", err)
	}
	defer p.tracker.Stop()

	if chainID, err := p.chain.ChainID(ctx); err != nil {
		p.logger.Warn("chain id lookup failed", zap.Error(err))
	} else {
		p.logger.Info("connected to chain", zap.String("chain_id", chainID.String()))
	}

	p.logger.Info("pipeline running",
		zap.String("rpc", p.cfg.RPCURL),
		zap.String("factory", p.cfg.Factory),
		zap.Int("sources", len(p.sources)),
	)

	// Newly discovered tokens get a price subscription so the tracker
	// starts building their history immediately.
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-events:
			discovered, ok := event.(model.NewTokenDiscovered)
			if !ok {
				continue
			}
			_, err := p.tracker.Subscribe(discovered.Address, func(snapshot model.PriceSnapshot) {
				p.logger.Debug("price update",
					zap.String("token", snapshot.TokenAddress),
					zap.Float64("price_usd", snapshot.PriceUSD),
					zap.Float64("liquidity_usd", snapshot.LiquidityUSD),
				)
			})
			if err != nil {
				p.logger.Warn("price subscription failed",
					zap.String("token", discovered.Address), zap.Error(err))
			}
		}
	}
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cmd)
	if err != nil {
		return err
	}
	defer p.close()

	token, err := p.engine.DiscoverToken(ctx, args[0])
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("token %s rejected (blacklisted, invalid, or filtered)", args[0])
	}

	out, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

func runBlacklist(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cmd)
	if err != nil {
		return err
	}
	defer p.close()

	reason := "manual"
	if len(args) > 1 {
		reason = args[1]
	}
	if err := p.engine.BlacklistToken(ctx, args[0], reason); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "blacklisted %s\n", args[0])
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
