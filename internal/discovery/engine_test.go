package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tokenscope/internal/chain"
	"tokenscope/internal/chain/chaintest"
	"tokenscope/internal/model"
	"tokenscope/internal/source"
	"tokenscope/internal/source/sourcetest"
	"tokenscope/internal/storage"
)

type fakeEnricher struct {
	invalid     map[string]bool
	validateErr error
	enrichErr   map[string]error
	enrichCalls int
}

func (f *fakeEnricher) ValidateContract(_ context.Context, address string) (bool, error) {
	if f.validateErr != nil {
		return false, f.validateErr
	}
	return !f.invalid[model.NormalizeAddress(address)], nil
}

func (f *fakeEnricher) Enrich(_ context.Context, address string) (model.Token, error) {
	f.enrichCalls++
	normalized := model.NormalizeAddress(address)
	if err := f.enrichErr[normalized]; err != nil {
		return model.Token{}, err
	}
	return model.Token{
		Address:  normalized,
		Name:     "Test Token",
		Symbol:   "TEST",
		Decimals: 18,
		IsActive: true,
	}, nil
}

type fakeVerifier struct {
	verification model.Verification
	err          error
	calls        int
}

func (f *fakeVerifier) Verify(_ context.Context, _ string) (model.Verification, error) {
	f.calls++
	if f.err != nil {
		return model.Verification{}, f.err
	}
	return f.verification, nil
}

func addr(n byte) string {
	return model.NormalizeAddress(common.BytesToAddress([]byte{n}).Hex())
}

func testConfig() Config {
	return Config{
		PollInterval:         time.Hour,
		ScanInterval:         time.Hour,
		ScanBlockRange:       50,
		ScanBatchSize:        25,
		MaxNewTokensPerBatch: 50,
		ThrottleRate:         5,
		ThrottlePause:        time.Second,
		MinLiquidityUSD:      1000,
		MinVolumeUSD:         100,
		MinHolders:           10,
	}
}

func rawToken(address string, liquidity, volume float64, holders int) model.RawToken {
	return model.RawToken{
		Address:      address,
		Symbol:       "TEST",
		LiquidityUSD: liquidity,
		Volume24hUSD: volume,
		HolderCount:  holders,
	}
}

func newTestEngine(cfg Config, sources ...source.Client) (*Engine, *fakeEnricher, *storage.MemoryTokenStore) {
	enricher := &fakeEnricher{}
	store := storage.NewMemoryTokenStore()
	engine := NewEngine(cfg, sources, chaintest.New(), enricher, nil, store, nil, nil, zap.NewNop())
	engine.sleep = func(context.Context, time.Duration) {}
	return engine, enricher, store
}

func drain(ch <-chan model.DiscoveryEvent) []model.DiscoveryEvent {
	events := make([]model.DiscoveryEvent, 0)
	for {
		select {
		case event := <-ch:
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestPollOnceDiscoversAndDeduplicates(t *testing.T) {
	src := &sourcetest.Client{ClientName: "index", Tokens: []model.RawToken{
		rawToken(addr(0xab), 5000, 500, 100),
		rawToken("0x00000000000000000000000000000000000000AB", 5000, 500, 100), // same address, different case
		rawToken(addr(2), 8000, 900, 200),
	}}
	engine, _, store := newTestEngine(testConfig(), src)

	events, cancel := engine.Subscribe(32)
	defer cancel()

	engine.PollOnce(context.Background())

	got := drain(events)
	discovered := 0
	var batch model.BatchCompleted
	for _, event := range got {
		switch e := event.(type) {
		case model.NewTokenDiscovered:
			discovered++
		case model.BatchCompleted:
			batch = e
		}
	}
	require.Equal(t, 2, discovered)
	require.Equal(t, "poll", batch.Source)
	require.Equal(t, 2, batch.ProcessedCount)
	require.Equal(t, 2, batch.NewCount)
	require.Equal(t, 2, store.Len())

	token, ok := store.Token(addr(0xab))
	require.True(t, ok)
	require.Equal(t, "poll", token.DiscoverySrc)
	require.True(t, token.IsListed)

	// A second cycle rediscovers nothing.
	engine.PollOnce(context.Background())
	got = drain(events)
	require.Len(t, got, 1)
	batch, ok = got[0].(model.BatchCompleted)
	require.True(t, ok)
	require.Equal(t, 0, batch.NewCount)
}

func TestPollOnceFilterBoundary(t *testing.T) {
	cfg := testConfig()
	src := &sourcetest.Client{Tokens: []model.RawToken{
		rawToken(addr(1), cfg.MinLiquidityUSD-1, 500, 100), // just below: rejected
		rawToken(addr(2), cfg.MinLiquidityUSD, 500, 100),   // exactly at: accepted
		rawToken(addr(3), 5000, cfg.MinVolumeUSD-1, 100),
		rawToken(addr(4), 5000, 500, cfg.MinHolders-1),
	}}
	engine, _, store := newTestEngine(cfg, src)

	engine.PollOnce(context.Background())

	require.Equal(t, 1, store.Len())
	_, ok := store.Token(addr(2))
	require.True(t, ok)
}

func TestPollOnceThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottleRate = 5

	tokens := make([]model.RawToken, 0, 12)
	for i := byte(1); i <= 12; i++ {
		tokens = append(tokens, rawToken(addr(i), 5000, 500, 100))
	}
	src := &sourcetest.Client{Tokens: tokens}
	engine, _, _ := newTestEngine(cfg, src)

	pauses := 0
	engine.sleep = func(context.Context, time.Duration) { pauses++ }

	engine.PollOnce(context.Background())

	// 12 candidates at rate 5: pause after the 5th and 10th, none after the last.
	require.Equal(t, 2, pauses)
}

func TestPollOnceSourceFailureStillCompletesBatch(t *testing.T) {
	bad := &sourcetest.Client{ClientName: "bad", Err: fmt.Errorf("boom")}
	good := &sourcetest.Client{ClientName: "good", Tokens: []model.RawToken{
		rawToken(addr(1), 5000, 500, 100),
	}}
	engine, _, store := newTestEngine(testConfig(), bad, good)

	events, cancel := engine.Subscribe(32)
	defer cancel()

	engine.PollOnce(context.Background())

	require.Equal(t, 1, store.Len())
	got := drain(events)
	_, ok := got[len(got)-1].(model.BatchCompleted)
	require.True(t, ok)
}

func TestPollOnceBatchCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxNewTokensPerBatch = 3

	tokens := make([]model.RawToken, 0, 10)
	for i := byte(1); i <= 10; i++ {
		tokens = append(tokens, rawToken(addr(i), 5000, 500, 100))
	}
	engine, _, store := newTestEngine(cfg, &sourcetest.Client{Tokens: tokens})

	engine.PollOnce(context.Background())
	require.Equal(t, 3, store.Len())
}

func TestPollOnceInvalidContractRejected(t *testing.T) {
	engine, enricher, store := newTestEngine(testConfig(), &sourcetest.Client{Tokens: []model.RawToken{
		rawToken(addr(1), 5000, 500, 100),
	}})
	enricher.invalid = map[string]bool{addr(1): true}

	engine.PollOnce(context.Background())

	require.Equal(t, 0, store.Len())
	require.Equal(t, 0, enricher.enrichCalls)
}

func TestStartLoadsBlacklistAndKnownTokens(t *testing.T) {
	cfg := testConfig()
	src := &sourcetest.Client{Tokens: []model.RawToken{
		rawToken(addr(1), 5000, 500, 100), // blacklisted
		rawToken(addr(2), 5000, 500, 100), // already known
		rawToken(addr(3), 5000, 500, 100),
	}}
	engine, _, store := newTestEngine(cfg, src)
	store.Blacklist(addr(1))
	require.NoError(t, store.UpsertTokens(context.Background(), []model.Token{{Address: addr(2)}}))

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	events, cancel := engine.Subscribe(32)
	defer cancel()

	engine.PollOnce(context.Background())

	discovered := make([]string, 0)
	for _, event := range drain(events) {
		if e, ok := event.(model.NewTokenDiscovered); ok {
			discovered = append(discovered, e.Address)
		}
	}
	require.Equal(t, []string{addr(3)}, discovered)
}

func TestStartFailsWhenChainUnreachable(t *testing.T) {
	reader := chaintest.New()
	reader.BlockErr = fmt.Errorf("connection refused")
	engine := NewEngine(testConfig(), []source.Client{&sourcetest.Client{}}, reader,
		&fakeEnricher{}, nil, nil, nil, nil, zap.NewNop())

	err := engine.Start(context.Background())
	require.Error(t, err)
	require.False(t, engine.Running())
}

func TestStartStopIdempotent(t *testing.T) {
	engine, _, _ := newTestEngine(testConfig(), &sourcetest.Client{})

	require.NoError(t, engine.Start(context.Background()))
	require.NoError(t, engine.Start(context.Background()))
	require.True(t, engine.Running())

	engine.Stop()
	engine.Stop()
	require.False(t, engine.Running())
}

func pairCreatedLog(factory common.Address, token0, token1 string) types.Log {
	return types.Log{
		Address: factory,
		Topics: []common.Hash{
			chain.PairCreatedTopic,
			common.BytesToHash(common.HexToAddress(token0).Bytes()),
			common.BytesToHash(common.HexToAddress(token1).Bytes()),
		},
	}
}

func TestScanOnceDiscoversPairTokens(t *testing.T) {
	cfg := testConfig()
	cfg.WrappedNative = common.BytesToAddress([]byte{0xee})
	cfg.FactoryAddress = common.BytesToAddress([]byte{0xff})

	reader := chaintest.New()
	reader.Logs = []types.Log{
		pairCreatedLog(cfg.FactoryAddress, addr(1), cfg.WrappedNative.Hex()),
		pairCreatedLog(cfg.FactoryAddress, cfg.WrappedNative.Hex(), addr(2)),
	}

	enricher := &fakeEnricher{}
	store := storage.NewMemoryTokenStore()
	// No source has stats for these: filters do not apply.
	src := &sourcetest.Client{}
	engine := NewEngine(cfg, []source.Client{src}, reader, enricher, nil, store, nil, nil, zap.NewNop())

	events, cancel := engine.Subscribe(32)
	defer cancel()

	engine.ScanOnce(context.Background())

	require.Equal(t, 2, store.Len())
	token, ok := store.Token(addr(1))
	require.True(t, ok)
	require.Equal(t, "chain-scan", token.DiscoverySrc)
	require.False(t, token.IsListed)

	got := drain(events)
	batch, ok := got[len(got)-1].(model.BatchCompleted)
	require.True(t, ok)
	require.Equal(t, "chain-scan", batch.Source)
	require.Equal(t, 2, batch.NewCount)
}

func TestScanOnceAppliesFiltersWhenSourceHasStats(t *testing.T) {
	cfg := testConfig()
	cfg.FactoryAddress = common.BytesToAddress([]byte{0xff})
	cfg.WrappedNative = common.BytesToAddress([]byte{0xee})

	reader := chaintest.New()
	reader.Logs = []types.Log{
		pairCreatedLog(cfg.FactoryAddress, addr(1), cfg.WrappedNative.Hex()),
	}

	low := rawToken(addr(1), cfg.MinLiquidityUSD-1, 500, 100)
	src := &sourcetest.Client{Token: &low}
	store := storage.NewMemoryTokenStore()
	engine := NewEngine(cfg, []source.Client{src}, reader, &fakeEnricher{}, nil, store, nil, nil, zap.NewNop())

	engine.ScanOnce(context.Background())
	require.Equal(t, 0, store.Len())
}

func TestScanOnceCheckpoint(t *testing.T) {
	cfg := testConfig()
	cfg.CheckpointEnabled = true
	cfg.CheckpointPath = t.TempDir() + "/checkpoint.json"
	cfg.FactoryAddress = common.BytesToAddress([]byte{0xff})

	reader := chaintest.New()
	reader.Block = 100
	engine := NewEngine(cfg, []source.Client{&sourcetest.Client{}}, reader,
		&fakeEnricher{}, nil, nil, nil, nil, zap.NewNop())

	engine.ScanOnce(context.Background())

	last, ok, err := engine.checkpoint.LastScanned(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), last)

	// A second scan with no new blocks does nothing and keeps the cursor.
	engine.ScanOnce(context.Background())
	last, ok, err = engine.checkpoint.LastScanned(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), last)
}

func TestDiscoverTokenManual(t *testing.T) {
	src := &sourcetest.Client{}
	engine, _, store := newTestEngine(testConfig(), src)

	events, cancel := engine.Subscribe(32)
	defer cancel()

	token, err := engine.DiscoverToken(context.Background(), addr(7))
	require.NoError(t, err)
	require.NotNil(t, token)
	require.Equal(t, "manual", token.DiscoverySrc)
	require.Equal(t, 1, store.Len())

	got := drain(events)
	require.Len(t, got, 1)
	_, ok := got[0].(model.NewTokenDiscovered)
	require.True(t, ok)

	// Rediscovery returns the cached record without a second event.
	again, err := engine.DiscoverToken(context.Background(), addr(7))
	require.NoError(t, err)
	require.NotNil(t, again)
	require.Equal(t, token.Address, again.Address)
	require.Empty(t, drain(events))

	// The poll path does not rediscover a manually discovered token.
	src.Tokens = []model.RawToken{rawToken(addr(7), 5000, 500, 100)}
	engine.PollOnce(context.Background())
	for _, event := range drain(events) {
		_, isDiscovery := event.(model.NewTokenDiscovered)
		require.False(t, isDiscovery)
	}
	require.Equal(t, 1, store.Len())
}

func TestDiscoverTokenBlacklisted(t *testing.T) {
	engine, _, store := newTestEngine(testConfig(), &sourcetest.Client{})
	store.Blacklist(addr(9))
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	token, err := engine.DiscoverToken(context.Background(), addr(9))
	require.NoError(t, err)
	require.Nil(t, token)
}

func TestDiscoverTokenBlacklistedWithoutStart(t *testing.T) {
	engine, _, store := newTestEngine(testConfig(), &sourcetest.Client{})
	store.Blacklist(addr(9))

	// The one-shot path loads persisted state without starting the loops.
	token, err := engine.DiscoverToken(context.Background(), addr(9))
	require.NoError(t, err)
	require.Nil(t, token)
	require.Equal(t, 0, store.Len())
	require.False(t, engine.Running())
}

func TestBlacklistToken(t *testing.T) {
	engine, _, store := newTestEngine(testConfig(), &sourcetest.Client{})

	token, err := engine.DiscoverToken(context.Background(), addr(4))
	require.NoError(t, err)
	require.NotNil(t, token)

	require.NoError(t, engine.BlacklistToken(context.Background(), addr(4), "rug"))

	blacklisted, err := store.LoadBlacklist(context.Background())
	require.NoError(t, err)
	require.Contains(t, blacklisted, addr(4))

	// The address is no longer discoverable and no longer counted.
	again, err := engine.DiscoverToken(context.Background(), addr(4))
	require.NoError(t, err)
	require.Nil(t, again)
	require.Equal(t, 0, engine.DiscoveredCount())
}

func TestAutoVerificationConfidenceFloor(t *testing.T) {
	cfg := testConfig()
	cfg.AutoVerification = true
	cfg.MinVerificationConfidence = 80

	src := &sourcetest.Client{Tokens: []model.RawToken{rawToken(addr(1), 5000, 500, 100)}}
	verifier := &fakeVerifier{verification: model.Verification{IsVerified: true, Confidence: 50}}
	store := storage.NewMemoryTokenStore()
	engine := NewEngine(cfg, []source.Client{src}, chaintest.New(),
		&fakeEnricher{}, verifier, store, nil, nil, zap.NewNop())
	engine.sleep = func(context.Context, time.Duration) {}

	engine.PollOnce(context.Background())
	require.Equal(t, 1, verifier.calls)
	require.Equal(t, 0, store.Len())

	// A transient verifier failure does not reject the candidate.
	verifier.err = fmt.Errorf("provider down")
	src.Tokens = []model.RawToken{rawToken(addr(2), 5000, 500, 100)}
	engine.PollOnce(context.Background())
	require.Equal(t, 1, store.Len())
	token, ok := store.Token(addr(2))
	require.True(t, ok)
	require.False(t, token.Verification.IsVerified)
}

func TestSubscribeDropsOldestWhenFull(t *testing.T) {
	engine, _, _ := newTestEngine(testConfig(), &sourcetest.Client{})

	events, cancel := engine.Subscribe(2)
	defer cancel()

	for i := 0; i < 5; i++ {
		engine.emit(model.BatchCompleted{BatchID: fmt.Sprintf("b-%d", i), Source: "poll"})
	}

	got := drain(events)
	require.Len(t, got, 2)
	last, ok := got[1].(model.BatchCompleted)
	require.True(t, ok)
	require.Equal(t, "b-4", last.BatchID)
}

func TestRiskLevelFromLiquidity(t *testing.T) {
	engine, _, _ := newTestEngine(testConfig(), &sourcetest.Client{})

	tests := []struct {
		liquidity float64
		want      model.RiskLevel
	}{
		{0, model.RiskUnknown},
		{999, model.RiskHigh},
		{1000, model.RiskMedium},
		{9999, model.RiskMedium},
		{10000, model.RiskLow},
	}
	for _, tt := range tests {
		got := engine.riskLevel(model.RawToken{LiquidityUSD: tt.liquidity})
		require.Equal(t, tt.want, got, "liquidity %.0f", tt.liquidity)
	}
}
