// Package tracker maintains live price and liquidity state for tracked
// tokens, with push subscriptions and bounded per-token history.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tokenscope/internal/amm"
	"tokenscope/internal/cache"
	"tokenscope/internal/chain"
	"tokenscope/internal/model"
	"tokenscope/internal/observability"
	"tokenscope/internal/source"
)

var (
	// ErrSubscriptionLimit is returned by Subscribe when the live
	// subscription count is at the configured cap.
	ErrSubscriptionLimit = errors.New("subscription limit exceeded")
	// ErrPriceUnavailable is returned when no source and no on-chain
	// fallback can price a token.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrUnsupportedTimeframe is returned for analytics timeframes outside
	// the fixed set.
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")
)

// Config holds runtime settings for the price tracker.
type Config struct {
	PriceUpdateInterval time.Duration
	MaxPriceAge         time.Duration
	BatchSize           int
	BatchDelay          time.Duration
	MaxSubscriptions    int

	FactoryAddress        common.Address
	WrappedNative         common.Address
	WrappedNativeDecimals uint8
}

// Callback receives price snapshots for a subscribed token.
type Callback func(model.PriceSnapshot)

type subscription struct {
	id         string
	address    string
	callback   Callback
	active     bool
	lastUpdate time.Time
	updates    int
}

// Tracker is the price tracker. Sources are consulted in ranked order with
// an on-chain reserve calculation as the final fallback.
type Tracker struct {
	cfg     Config
	sources []source.Client
	reader  chain.Reader
	cache   cache.Cache
	history *History
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	subs    map[string]*subscription
	subSeq  int
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	nativeUSD       float64
	nativeFetchedAt time.Time

	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// NewTracker builds a price tracker. The cache and metrics arguments may
// be nil.
func NewTracker(
	cfg Config,
	sources []source.Client,
	reader chain.Reader,
	priceCache cache.Cache,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PriceUpdateInterval <= 0 {
		cfg.PriceUpdateInterval = 30 * time.Second
	}
	if cfg.MaxPriceAge <= 0 {
		cfg.MaxPriceAge = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = 1000
	}
	if cfg.WrappedNativeDecimals == 0 {
		cfg.WrappedNativeDecimals = 18
	}
	return &Tracker{
		cfg:     cfg,
		sources: sources,
		reader:  reader,
		cache:   priceCache,
		history: NewHistory(),
		logger:  logger,
		metrics: metrics,
		subs:    make(map[string]*subscription),
		sleep:   sleepCtx,
		now:     time.Now,
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

// Start registers the periodic refresh loop. It is a no-op while running.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel

	t.wg.Add(1)
	go t.refreshLoop(runCtx)

	t.logger.Info("price tracker started",
		zap.Duration("refresh_interval", t.cfg.PriceUpdateInterval),
		zap.Int("max_subscriptions", t.cfg.MaxSubscriptions),
	)
	return nil
}

// Stop cancels the refresh loop and clears all subscriptions. Subscribers
// must re-subscribe after a restart.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	cancel()
	t.wg.Wait()

	t.mu.Lock()
	t.subs = make(map[string]*subscription)
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.ActiveSubscriptions.Set(0)
	}
	t.logger.Info("price tracker stopped")
}

// Running reports whether the refresh loop is registered.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Subscribe registers a callback for a token's price updates and returns
// an opaque subscription id.
func (t *Tracker) Subscribe(address string, callback Callback) (string, error) {
	if callback == nil {
		return "", fmt.Errorf("nil callback")
	}
	normalized := model.NormalizeAddress(address)
	if normalized == "" {
		return "", fmt.Errorf("empty address")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) >= t.cfg.MaxSubscriptions {
		return "", ErrSubscriptionLimit
	}
	t.subSeq++
	id := fmt.Sprintf("sub-%d", t.subSeq)
	t.subs[id] = &subscription{id: id, address: normalized, callback: callback, active: true}
	if t.metrics != nil {
		t.metrics.ActiveSubscriptions.Set(float64(len(t.subs)))
	}
	return id, nil
}

// Unsubscribe removes a subscription. Unknown or already-removed ids are
// a no-op.
func (t *Tracker) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subs[id]
	if !ok {
		return
	}
	sub.active = false
	delete(t.subs, id)
	if t.metrics != nil {
		t.metrics.ActiveSubscriptions.Set(float64(len(t.subs)))
	}
}

// SubscriptionCount returns the number of live subscriptions.
func (t *Tracker) SubscriptionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// History exposes the per-token snapshot buffer.
func (t *Tracker) History() *History {
	return t.history
}

// GetPrice returns the current snapshot for a token, consulting the cache
// first, then ranked sources, then the on-chain reserve calculation.
func (t *Tracker) GetPrice(ctx context.Context, address string) (*model.PriceSnapshot, error) {
	normalized := model.NormalizeAddress(address)
	if normalized == "" {
		return nil, fmt.Errorf("empty address")
	}

	if cached := t.cachedSnapshot(ctx, normalized); cached != nil {
		return cached, nil
	}

	snapshot := t.fetchFresh(ctx, normalized)
	if snapshot == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, normalized)
	}
	t.record(ctx, *snapshot)
	return snapshot, nil
}

// GetPrices fetches snapshots for many tokens in batches with an
// inter-batch delay. Unpriceable addresses are omitted from the result.
func (t *Tracker) GetPrices(ctx context.Context, addresses []string) []model.PriceSnapshot {
	distinct := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		normalized := model.NormalizeAddress(address)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		distinct = append(distinct, normalized)
	}

	out := make([]model.PriceSnapshot, 0, len(distinct))
	for start := 0; start < len(distinct); start += t.cfg.BatchSize {
		if ctx.Err() != nil {
			return out
		}
		if start > 0 && t.cfg.BatchDelay > 0 {
			t.sleep(ctx, t.cfg.BatchDelay)
		}
		end := start + t.cfg.BatchSize
		if end > len(distinct) {
			end = len(distinct)
		}
		out = append(out, t.fetchBatch(ctx, distinct[start:end])...)
	}
	return out
}

func (t *Tracker) fetchBatch(ctx context.Context, batch []string) []model.PriceSnapshot {
	out := make([]model.PriceSnapshot, 0, len(batch))

	missing := make([]string, 0, len(batch))
	for _, address := range batch {
		if cached := t.cachedSnapshot(ctx, address); cached != nil {
			out = append(out, *cached)
			continue
		}
		missing = append(missing, address)
	}

	for _, client := range t.sources {
		if len(missing) == 0 {
			break
		}
		prices, err := client.GetPrices(ctx, missing)
		if err != nil {
			t.logger.Warn("batch price fetch failed",
				zap.String("source", client.Name()), zap.Error(err))
			if t.metrics != nil {
				t.metrics.SourceErrors.WithLabelValues(client.Name()).Inc()
			}
			continue
		}
		next := missing[:0]
		for _, address := range missing {
			raw, ok := prices[address]
			if !ok || raw.PriceUSD <= 0 {
				next = append(next, address)
				continue
			}
			snapshot := t.snapshotFromRaw(ctx, address, raw)
			t.record(ctx, snapshot)
			out = append(out, snapshot)
		}
		missing = next
	}

	for _, address := range missing {
		snapshot, err := t.chainPrice(ctx, address)
		if err != nil {
			t.logger.Debug("on-chain price fallback failed",
				zap.String("token", address), zap.Error(err))
			continue
		}
		t.record(ctx, *snapshot)
		out = append(out, *snapshot)
	}
	return out
}

func (t *Tracker) fetchFresh(ctx context.Context, address string) *model.PriceSnapshot {
	for _, client := range t.sources {
		prices, err := client.GetPrices(ctx, []string{address})
		if err != nil {
			t.logger.Warn("price fetch failed",
				zap.String("source", client.Name()), zap.Error(err))
			if t.metrics != nil {
				t.metrics.SourceErrors.WithLabelValues(client.Name()).Inc()
			}
			continue
		}
		if raw, ok := prices[address]; ok && raw.PriceUSD > 0 {
			snapshot := t.snapshotFromRaw(ctx, address, raw)
			return &snapshot
		}
	}

	snapshot, err := t.chainPrice(ctx, address)
	if err != nil {
		t.logger.Debug("on-chain price fallback failed",
			zap.String("token", address), zap.Error(err))
		return nil
	}
	return snapshot
}

func (t *Tracker) snapshotFromRaw(ctx context.Context, address string, raw model.RawPrice) model.PriceSnapshot {
	return model.PriceSnapshot{
		TokenAddress:   address,
		PriceUSD:       raw.PriceUSD,
		PriceNative:    raw.PriceNative,
		Volume24hUSD:   raw.Volume24hUSD,
		LiquidityUSD:   raw.LiquidityUSD,
		PriceChange24h: raw.PriceChange24h,
		Timestamp:      t.now().UTC(),
		BlockNumber:    t.blockNumber(ctx),
	}
}

// chainPrice derives a snapshot from the token's pool against the wrapped
// native asset using constant-product math.
func (t *Tracker) chainPrice(ctx context.Context, address string) (*model.PriceSnapshot, error) {
	if t.reader == nil {
		return nil, fmt.Errorf("no chain reader")
	}
	token := common.HexToAddress(address)
	if token == t.cfg.WrappedNative {
		return nil, fmt.Errorf("wrapped native has no reference pool")
	}

	pair, err := chain.FactoryPair(ctx, t.reader, t.cfg.FactoryAddress, token, t.cfg.WrappedNative)
	if err != nil {
		return nil, fmt.Errorf("resolve pair: %w", err)
	}
	if pair == (common.Address{}) {
		return nil, fmt.Errorf("no pool for %s", address)
	}

	token0, _, err := chain.PairTokens(ctx, t.reader, pair)
	if err != nil {
		return nil, fmt.Errorf("pair tokens: %w", err)
	}
	reserve0, reserve1, err := chain.PairReserves(ctx, t.reader, pair)
	if err != nil {
		return nil, fmt.Errorf("pair reserves: %w", err)
	}

	reserveToken, reserveNative := reserve0, reserve1
	if token0 != token {
		reserveToken, reserveNative = reserve1, reserve0
	}

	decimals, err := chain.CallUint8(ctx, t.reader, token, "decimals")
	if err != nil {
		decimals = 18
	}

	priceNative, err := amm.SpotPrice(reserveToken, reserveNative, decimals, t.cfg.WrappedNativeDecimals)
	if err != nil {
		return nil, fmt.Errorf("spot price: %w", err)
	}

	snapshot := &model.PriceSnapshot{
		TokenAddress: address,
		PriceNative:  priceNative,
		PriceUSD:     priceNative * t.nativePriceUSD(ctx),
		Timestamp:    t.now().UTC(),
		BlockNumber:  t.blockNumber(ctx),
	}
	return snapshot, nil
}

// nativePriceUSD returns the wrapped native asset's USD price from the
// ranked sources, cached for MaxPriceAge. Zero means unknown.
func (t *Tracker) nativePriceUSD(ctx context.Context) float64 {
	t.mu.Lock()
	if t.nativeUSD > 0 && t.now().Sub(t.nativeFetchedAt) <= t.cfg.MaxPriceAge {
		cached := t.nativeUSD
		t.mu.Unlock()
		return cached
	}
	t.mu.Unlock()

	native := model.NormalizeAddress(t.cfg.WrappedNative.Hex())
	for _, client := range t.sources {
		prices, err := client.GetPrices(ctx, []string{native})
		if err != nil {
			continue
		}
		if raw, ok := prices[native]; ok && raw.PriceUSD > 0 {
			t.mu.Lock()
			t.nativeUSD = raw.PriceUSD
			t.nativeFetchedAt = t.now()
			t.mu.Unlock()
			return raw.PriceUSD
		}
	}
	return 0
}

func (t *Tracker) blockNumber(ctx context.Context) uint64 {
	if t.reader == nil {
		return 0
	}
	block, err := t.reader.BlockNumber(ctx)
	if err != nil {
		return 0
	}
	return block
}

// record caches a snapshot and appends it to the token's history.
func (t *Tracker) record(ctx context.Context, snapshot model.PriceSnapshot) {
	t.history.Append(snapshot)
	if t.metrics != nil {
		t.metrics.PriceUpdates.Inc()
	}
	if t.cache == nil {
		return
	}
	// Snapshots without a USD price are not cached so the next read can
	// retry USD resolution instead of serving a zero for MaxPriceAge.
	if snapshot.PriceUSD <= 0 {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := t.cache.Set(ctx, priceCacheKey(snapshot.TokenAddress), data, t.cfg.MaxPriceAge); err != nil {
		t.logger.Warn("price cache write failed",
			zap.String("token", snapshot.TokenAddress), zap.Error(err))
	}
}

func (t *Tracker) cachedSnapshot(ctx context.Context, address string) *model.PriceSnapshot {
	if t.cache == nil {
		return nil
	}
	data, ok, err := t.cache.Get(ctx, priceCacheKey(address))
	if err != nil {
		t.logger.Warn("price cache read failed", zap.String("token", address), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var snapshot model.PriceSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil
	}
	if t.now().Sub(snapshot.Timestamp) > t.cfg.MaxPriceAge {
		return nil
	}
	return &snapshot
}

func priceCacheKey(address string) string {
	return "price:" + model.NormalizeAddress(address)
}

func (t *Tracker) refreshLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.PriceUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce runs one refresh cycle: fetch prices for all subscribed
// tokens and dispatch matching snapshots to active callbacks.
func (t *Tracker) RefreshOnce(ctx context.Context) {
	started := t.now()

	t.mu.Lock()
	wasRunning := t.running
	addresses := make([]string, 0, len(t.subs))
	seen := make(map[string]struct{}, len(t.subs))
	for _, sub := range t.subs {
		if _, ok := seen[sub.address]; ok {
			continue
		}
		seen[sub.address] = struct{}{}
		addresses = append(addresses, sub.address)
	}
	t.mu.Unlock()

	if len(addresses) == 0 {
		return
	}

	snapshots := t.GetPrices(ctx, addresses)

	// Results fetched across a stop are discarded.
	t.mu.Lock()
	if wasRunning && !t.running {
		t.mu.Unlock()
		return
	}
	targets := make([]*subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		targets = append(targets, sub)
	}
	t.mu.Unlock()

	for _, snapshot := range snapshots {
		for _, sub := range targets {
			if sub.address != snapshot.TokenAddress {
				continue
			}
			t.mu.Lock()
			if !sub.active {
				t.mu.Unlock()
				continue
			}
			t.mu.Unlock()
			t.invoke(sub, snapshot)
			t.mu.Lock()
			sub.updates++
			sub.lastUpdate = t.now()
			t.mu.Unlock()
		}
	}

	if t.metrics != nil {
		t.metrics.RefreshDuration.Observe(t.now().Sub(started).Seconds())
	}
}

// invoke runs one callback with panic isolation so a faulty subscriber
// cannot break the refresh cycle for others.
func (t *Tracker) invoke(sub *subscription, snapshot model.PriceSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("subscription callback panicked",
				zap.String("subscription", sub.id),
				zap.String("token", sub.address),
				zap.Any("panic", r),
			)
			if t.metrics != nil {
				t.metrics.CallbackPanics.Inc()
			}
		}
	}()
	sub.callback(snapshot)
}

// GetAnalytics derives statistics from a token's history over a fixed
// timeframe. It requires the token to be priceable right now.
func (t *Tracker) GetAnalytics(ctx context.Context, address string, timeframe Timeframe) (Analytics, error) {
	duration, ok := timeframe.Duration()
	if !ok {
		return Analytics{}, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, timeframe)
	}

	normalized := model.NormalizeAddress(address)
	if _, err := t.GetPrice(ctx, normalized); err != nil {
		return Analytics{}, err
	}

	window := t.history.Window(normalized, t.now().Add(-duration))
	return computeAnalytics(normalized, timeframe, window), nil
}

// HealthCheck reports whether the chain is reachable, subscriptions are
// within bounds, and the refresh loop is registered when running.
func (t *Tracker) HealthCheck(ctx context.Context) bool {
	if t.reader == nil {
		return false
	}
	if _, err := t.reader.BlockNumber(ctx); err != nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.subs) > t.cfg.MaxSubscriptions {
		return false
	}
	if t.running && t.cancel == nil {
		return false
	}
	return true
}
