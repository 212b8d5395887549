// Package discovery finds new tokens from source polling and on-chain
// event scanning, enriches them, and emits discovery events.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"tokenscope/internal/chain"
	"tokenscope/internal/model"
	"tokenscope/internal/observability"
	"tokenscope/internal/source"
	"tokenscope/internal/storage"
	"tokenscope/internal/verify"
)

// Enricher resolves candidate addresses into full token records.
// metadata.Service satisfies it.
type Enricher interface {
	ValidateContract(ctx context.Context, address string) (bool, error)
	Enrich(ctx context.Context, address string) (model.Token, error)
}

// Config holds runtime settings for the discovery engine.
type Config struct {
	PollInterval time.Duration
	ScanInterval time.Duration

	// ScanBlockRange is how far back each event scan looks.
	ScanBlockRange uint64
	// ScanBatchSize bounds the span of one getLogs call.
	ScanBatchSize uint64

	MaxNewTokensPerBatch int
	ThrottleRate         int
	ThrottlePause        time.Duration

	MinLiquidityUSD float64
	MinVolumeUSD    float64
	MinHolders      int

	AutoVerification          bool
	MinVerificationConfidence int

	FactoryAddress common.Address
	WrappedNative  common.Address

	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration

	// Checkpoint overrides the default file-backed scan checkpoint, e.g.
	// with the Postgres-backed one when a store is configured.
	Checkpoint Checkpointer
}

// Engine is the token discovery engine.
type Engine struct {
	cfg      Config
	sources  []source.Client
	reader   chain.Reader
	enricher Enricher
	verifier verify.Provider
	store    storage.TokenStore
	journal  storage.Journal
	logger   *zap.Logger
	metrics  *observability.Metrics

	checkpoint Checkpointer

	mu          sync.Mutex
	discovered  map[string]model.Token
	blacklisted map[string]struct{}
	subscribers map[int]*subscriber
	subSeq      int
	batchSeq    uint64
	stateLoaded bool
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

type subscriber struct {
	ch chan model.DiscoveryEvent
}

// NewEngine builds a discovery engine with its collaborators. The metrics
// and journal arguments may be nil.
func NewEngine(
	cfg Config,
	sources []source.Client,
	reader chain.Reader,
	enricher Enricher,
	verifier verify.Provider,
	store storage.TokenStore,
	journal storage.Journal,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Minute
	}
	checkpoint := cfg.Checkpoint
	if checkpoint == nil {
		checkpoint = NewFileCheckpoint(cfg.CheckpointPath, cfg.CheckpointEnabled)
	}
	return &Engine{
		cfg:         cfg,
		sources:     sources,
		reader:      reader,
		enricher:    enricher,
		verifier:    verifier,
		store:       store,
		journal:     journal,
		metrics:     metrics,
		logger:      logger,
		checkpoint:  checkpoint,
		discovered:  make(map[string]model.Token),
		blacklisted: make(map[string]struct{}),
		subscribers: make(map[int]*subscriber),
		sleep:       sleepCtx,
		now:         time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// loadPersisted hydrates the blacklist and known-token set from the store.
// It runs at most once; both Start and the one-shot manual path depend on
// it so a blacklisted address is rejected either way.
func (e *Engine) loadPersisted(ctx context.Context) error {
	e.mu.Lock()
	if e.stateLoaded {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if e.store == nil {
		e.mu.Lock()
		e.stateLoaded = true
		e.mu.Unlock()
		return nil
	}

	blacklist, err := e.store.LoadBlacklist(ctx)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}
	known, err := e.store.LoadTokenAddresses(ctx)
	if err != nil {
		return fmt.Errorf("load known tokens: %w", err)
	}

	e.mu.Lock()
	for _, address := range blacklist {
		e.blacklisted[model.NormalizeAddress(address)] = struct{}{}
	}
	for _, address := range known {
		normalized := model.NormalizeAddress(address)
		if _, ok := e.discovered[normalized]; !ok {
			e.discovered[normalized] = model.Token{Address: normalized}
		}
	}
	e.stateLoaded = true
	e.mu.Unlock()
	return nil
}

// BlacklistToken marks an address as permanently rejected, drops any
// cached record for it, and persists the entry when a store is present.
func (e *Engine) BlacklistToken(ctx context.Context, address, reason string) error {
	normalized := model.NormalizeAddress(address)
	if normalized == "" {
		return fmt.Errorf("empty address")
	}

	e.mu.Lock()
	e.blacklisted[normalized] = struct{}{}
	delete(e.discovered, normalized)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.AddToBlacklist(ctx, normalized, reason); err != nil {
			return fmt.Errorf("persist blacklist entry: %w", err)
		}
	}

	e.logger.Info("token blacklisted",
		zap.String("token", normalized),
		zap.String("reason", reason),
	)
	return nil
}

// Start loads persisted state, verifies chain reachability, and registers
// the polling loops. It either registers all loops or none; a failure
// leaves the engine stopped. Calling Start while running is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if e.reader == nil {
		return fmt.Errorf("chain reader is nil")
	}
	if e.enricher == nil {
		return fmt.Errorf("enricher is nil")
	}
	if len(e.sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	if err := e.loadPersisted(ctx); err != nil {
		return err
	}

	if _, err := e.reader.BlockNumber(ctx); err != nil {
		return fmt.Errorf("chain unreachable: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(2)
	go e.pollLoop(runCtx)
	go e.scanLoop(runCtx)

	e.logger.Info("discovery engine started",
		zap.Duration("poll_interval", e.cfg.PollInterval),
		zap.Duration("scan_interval", e.cfg.ScanInterval),
		zap.Int("sources", len(e.sources)),
	)
	return nil
}

// Stop cancels the polling loops and waits for them to drain. In-flight
// results are discarded by the liveness checks inside each loop body.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("discovery engine stopped")
}

// Running reports whether the polling loops are registered.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Subscribe registers a buffered event consumer. When the buffer is full
// the oldest pending event is dropped rather than blocking the engine.
// The returned func unregisters the consumer.
func (e *Engine) Subscribe(buffer int) (<-chan model.DiscoveryEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscriber{ch: make(chan model.DiscoveryEvent, buffer)}

	e.mu.Lock()
	e.subSeq++
	id := e.subSeq
	e.subscribers[id] = sub
	e.mu.Unlock()

	unsubscribe := func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.PollOnce(ctx)
		}
	}
}

func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ScanOnce(ctx)
		}
	}
}

// PollOnce runs one source-polling discovery batch.
func (e *Engine) PollOnce(ctx context.Context) {
	merged := make([]model.RawToken, 0)
	seen := make(map[string]struct{})

	for _, client := range e.sources {
		tokens, err := client.ListTokens(ctx)
		if err != nil {
			e.logger.Warn("source poll failed", zap.String("source", client.Name()), zap.Error(err))
			if e.metrics != nil {
				e.metrics.SourceErrors.WithLabelValues(client.Name()).Inc()
			}
			continue
		}
		for _, token := range tokens {
			normalized := model.NormalizeAddress(token.Address)
			if normalized == "" {
				continue
			}
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			token.Address = normalized
			merged = append(merged, token)
		}
	}

	candidates := make([]model.RawToken, 0, len(merged))
	for _, token := range merged {
		if !e.passesFilters(token) {
			continue
		}
		if e.isKnown(token.Address) {
			continue
		}
		candidates = append(candidates, token)
		if e.cfg.MaxNewTokensPerBatch > 0 && len(candidates) >= e.cfg.MaxNewTokensPerBatch {
			break
		}
	}

	processed, accepted := 0, 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}
		if token, err := e.processCandidate(ctx, candidate, "poll", true); err != nil {
			e.logger.Warn("candidate processing failed",
				zap.String("token", candidate.Address), zap.Error(err))
		} else if token != nil {
			accepted++
		}
		processed++

		if e.cfg.ThrottleRate > 0 && processed%e.cfg.ThrottleRate == 0 && processed < len(candidates) {
			e.logger.Debug("discovery throttle pause", zap.Int("processed", processed))
			e.sleep(ctx, e.cfg.ThrottlePause)
		}
	}

	e.emit(BatchCompletedEvent(e.nextBatchID("poll"), "poll", processed, accepted))
}

// ScanOnce runs one on-chain event scan for newly created pairs.
func (e *Engine) ScanOnce(ctx context.Context) {
	processed, accepted := 0, 0
	defer func() {
		if ctx.Err() == nil {
			e.emit(BatchCompletedEvent(e.nextBatchID("scan"), "chain-scan", processed, accepted))
		}
	}()

	var latest uint64
	err := rpcRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = e.reader.BlockNumber(ctx)
		return err
	})
	if err != nil {
		e.logger.Warn("event scan: block number fetch failed", zap.Error(err))
		return
	}

	from := uint64(1)
	if latest > e.cfg.ScanBlockRange {
		from = latest - e.cfg.ScanBlockRange + 1
	}
	if last, ok, err := e.checkpoint.LastScanned(ctx); err != nil {
		e.logger.Warn("event scan: checkpoint load failed", zap.Error(err))
	} else if ok && last >= from {
		from = last + 1
	}
	if from > latest {
		return
	}

	batchSize := e.cfg.ScanBatchSize
	if batchSize == 0 {
		batchSize = 2000
	}
	spans, err := splitScanSpan(from, latest, batchSize)
	if err != nil {
		e.logger.Warn("event scan: bad range", zap.Error(err))
		return
	}

	for _, span := range spans {
		if ctx.Err() != nil {
			return
		}

		var logs []types.Log
		err := rpcRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			logs, err = e.reader.FilterLogs(ctx, span.from, span.to,
				[]common.Address{e.cfg.FactoryAddress}, []common.Hash{chain.PairCreatedTopic})
			return err
		})
		if err != nil {
			e.logger.Warn("event scan: filter logs failed",
				zap.Uint64("from", span.from), zap.Uint64("to", span.to), zap.Error(err))
			return
		}

		for _, log := range logs {
			if ctx.Err() != nil {
				return
			}
			token0, token1, err := chain.PairCreatedTokens(log.Topics)
			if err != nil {
				e.logger.Debug("event scan: malformed pair log", zap.Error(err))
				continue
			}
			candidate, ok := e.pickScanCandidate(token0, token1)
			if !ok {
				continue
			}
			processed++
			if token, err := e.discoverScanned(ctx, candidate); err != nil {
				e.logger.Warn("event-scanned candidate failed",
					zap.String("token", candidate), zap.Error(err))
			} else if token != nil {
				accepted++
			}
		}
	}

	if err := e.checkpoint.SaveScanned(ctx, latest); err != nil {
		e.logger.Warn("event scan: checkpoint save failed", zap.Error(err))
	}
}

// pickScanCandidate returns the first pair member that is neither the
// wrapped native asset nor already known.
func (e *Engine) pickScanCandidate(token0, token1 common.Address) (string, bool) {
	for _, address := range []common.Address{token0, token1} {
		if address == e.cfg.WrappedNative {
			continue
		}
		normalized := model.NormalizeAddress(address.Hex())
		if e.isKnown(normalized) {
			continue
		}
		if e.isBlacklisted(normalized) {
			continue
		}
		return normalized, true
	}
	return "", false
}

func (e *Engine) discoverScanned(ctx context.Context, address string) (*model.Token, error) {
	raw := model.RawToken{Address: address}
	applyFilters := false

	// A freshly created pair usually has no index data yet; filters apply
	// only when a source already reports the token.
	for _, client := range e.sources {
		reported, err := client.GetToken(ctx, address)
		if err != nil {
			e.logger.Debug("scan lookup failed", zap.String("source", client.Name()), zap.Error(err))
			continue
		}
		if reported != nil {
			raw = *reported
			raw.Address = address
			applyFilters = true
			break
		}
	}

	if applyFilters && !e.passesFilters(raw) {
		if e.metrics != nil {
			e.metrics.CandidatesRejected.WithLabelValues("filter").Inc()
		}
		return nil, nil
	}
	return e.processCandidate(ctx, raw, "chain-scan", false)
}

// DiscoverToken runs the discovery pipeline for a single externally
// supplied address. It returns the cached record when the token is already
// known, and nil when the address is blacklisted, invalid, or filtered.
func (e *Engine) DiscoverToken(ctx context.Context, address string) (*model.Token, error) {
	normalized := model.NormalizeAddress(address)
	if normalized == "" {
		return nil, fmt.Errorf("empty address")
	}
	if err := e.loadPersisted(ctx); err != nil {
		return nil, err
	}
	if e.isBlacklisted(normalized) {
		return nil, nil
	}

	e.mu.Lock()
	if cached, ok := e.discovered[normalized]; ok {
		e.mu.Unlock()
		return &cached, nil
	}
	e.mu.Unlock()

	raw := model.RawToken{Address: normalized}
	applyFilters := false
	for _, client := range e.sources {
		reported, err := client.GetToken(ctx, normalized)
		if err != nil {
			e.logger.Debug("manual lookup failed", zap.String("source", client.Name()), zap.Error(err))
			continue
		}
		if reported != nil {
			raw = *reported
			raw.Address = normalized
			applyFilters = true
			break
		}
	}

	if applyFilters && !e.passesFilters(raw) {
		if e.metrics != nil {
			e.metrics.CandidatesRejected.WithLabelValues("filter").Inc()
		}
		return nil, nil
	}
	return e.processCandidate(ctx, raw, "manual", false)
}

// processCandidate runs validate -> enrich -> verify for one candidate.
// It returns nil, nil for expected rejections and an error only for
// transient failures worth logging.
func (e *Engine) processCandidate(ctx context.Context, raw model.RawToken, sourceName string, listed bool) (*model.Token, error) {
	address := model.NormalizeAddress(raw.Address)

	e.mu.Lock()
	if cached, ok := e.discovered[address]; ok {
		e.mu.Unlock()
		return &cached, nil
	}
	e.mu.Unlock()

	valid, err := e.enricher.ValidateContract(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", address, err)
	}
	if !valid {
		if e.metrics != nil {
			e.metrics.CandidatesRejected.WithLabelValues("invalid_contract").Inc()
		}
		return nil, nil
	}

	token, err := e.enricher.Enrich(ctx, address)
	if err != nil {
		if e.metrics != nil {
			e.metrics.EnrichmentFailures.Inc()
		}
		return nil, fmt.Errorf("enrich %s: %w", address, err)
	}

	token.LiquidityUSD = raw.LiquidityUSD
	token.Volume24hUSD = raw.Volume24hUSD
	token.HolderCount = raw.HolderCount
	token.DiscoverySrc = sourceName
	token.IsListed = listed
	token.RiskLevel = e.riskLevel(raw)

	if e.cfg.AutoVerification && e.verifier != nil {
		verification, err := e.verifier.Verify(ctx, address)
		if err != nil {
			e.logger.Warn("verification failed", zap.String("token", address), zap.Error(err))
		} else {
			token.Verification = verification
			if verification.Confidence < e.cfg.MinVerificationConfidence {
				if e.metrics != nil {
					e.metrics.CandidatesRejected.WithLabelValues("low_confidence").Inc()
				}
				return nil, nil
			}
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	e.mu.Lock()
	if cached, ok := e.discovered[address]; ok {
		e.mu.Unlock()
		return &cached, nil
	}
	e.discovered[address] = token
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.UpsertTokens(ctx, []model.Token{token}); err != nil {
			e.logger.Warn("token persist failed", zap.String("token", address), zap.Error(err))
		}
	}
	if e.metrics != nil {
		e.metrics.TokensDiscovered.Inc()
	}

	e.emit(model.NewTokenDiscovered{
		Address:    address,
		Token:      token,
		Source:     sourceName,
		Confidence: token.Verification.Confidence,
	})

	e.logger.Info("token discovered",
		zap.String("token", address),
		zap.String("symbol", token.Symbol),
		zap.String("source", sourceName),
		zap.Float64("liquidity_usd", token.LiquidityUSD),
	)
	return &token, nil
}

// passesFilters applies the pre-enrichment filter policy. Thresholds are
// inclusive: a candidate exactly at a minimum is accepted.
func (e *Engine) passesFilters(raw model.RawToken) bool {
	if e.isBlacklisted(raw.Address) {
		return false
	}
	if raw.LiquidityUSD < e.cfg.MinLiquidityUSD {
		return false
	}
	if raw.Volume24hUSD < e.cfg.MinVolumeUSD {
		return false
	}
	if raw.HolderCount < e.cfg.MinHolders {
		return false
	}
	return true
}

func (e *Engine) riskLevel(raw model.RawToken) model.RiskLevel {
	switch {
	case raw.LiquidityUSD <= 0:
		return model.RiskUnknown
	case raw.LiquidityUSD >= e.cfg.MinLiquidityUSD*10:
		return model.RiskLow
	case raw.LiquidityUSD >= e.cfg.MinLiquidityUSD:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

func (e *Engine) isKnown(address string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.discovered[model.NormalizeAddress(address)]
	return ok
}

func (e *Engine) isBlacklisted(address string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.blacklisted[model.NormalizeAddress(address)]
	return ok
}

// DiscoveredCount returns the number of known tokens.
func (e *Engine) DiscoveredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.discovered)
}

func (e *Engine) nextBatchID(prefix string) string {
	e.mu.Lock()
	e.batchSeq++
	seq := e.batchSeq
	e.mu.Unlock()
	return fmt.Sprintf("%s-%d", prefix, seq)
}

// BatchCompletedEvent builds the terminal event of a polling cycle.
func BatchCompletedEvent(batchID, sourceName string, processed, accepted int) model.BatchCompleted {
	return model.BatchCompleted{
		Source:         sourceName,
		ProcessedCount: processed,
		NewCount:       accepted,
		BatchID:        batchID,
	}
}

// emit journals an event and fans it out to all subscribers without ever
// blocking on a slow consumer.
func (e *Engine) emit(event model.DiscoveryEvent) {
	if e.journal != nil {
		record := model.NewEventRecord(event, e.now().UTC())
		if err := e.journal.AppendEvents([]model.EventRecord{record}); err != nil {
			e.logger.Warn("event journal append failed", zap.Error(err))
		}
	}
	if e.metrics != nil {
		if batch, ok := event.(model.BatchCompleted); ok {
			e.metrics.BatchesCompleted.WithLabelValues(batch.Source).Inc()
		}
	}

	e.mu.Lock()
	subscribers := make([]*subscriber, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		subscribers = append(subscribers, sub)
	}
	e.mu.Unlock()

	for _, sub := range subscribers {
		select {
		case sub.ch <- event:
		default:
			// Full buffer: drop the oldest pending event and retry once.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}
