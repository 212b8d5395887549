package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"tokenscope/internal/model"
)

const defaultHTTPTimeout = 10 * time.Second

// DexIndex is a client for the DEX index (subgraph-style) provider. It is
// ranked first among the configured sources.
type DexIndex struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewDexIndex builds a DexIndex client for the given base URL.
func NewDexIndex(baseURL string, logger *zap.Logger) *DexIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DexIndex{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:  logger,
	}
}

var _ Client = (*DexIndex)(nil)

func (c *DexIndex) Name() string { return "dexindex" }

// indexToken is the provider's wire shape for a token record.
type indexToken struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Symbol    string  `json:"symbol"`
	PriceUSD  float64 `json:"priceUSD,string"`
	PriceETH  float64 `json:"derivedETH,string"`
	Liquidity float64 `json:"totalLiquidityUSD,string"`
	Volume    float64 `json:"volumeUSD,string"`
	TxCount   int     `json:"txCount,string"`
}

func (t indexToken) normalize() model.RawToken {
	return model.RawToken{
		Address:      model.NormalizeAddress(t.ID),
		Name:         t.Name,
		Symbol:       t.Symbol,
		PriceUSD:     t.PriceUSD,
		PriceNative:  t.PriceETH,
		LiquidityUSD: t.Liquidity,
		Volume24hUSD: t.Volume,
	}
}

func (c *DexIndex) ListTokens(ctx context.Context) ([]model.RawToken, error) {
	var payload struct {
		Tokens []indexToken `json:"tokens"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/tokens", &payload); err != nil {
		return nil, err
	}

	tokens := make([]model.RawToken, 0, len(payload.Tokens))
	for _, token := range payload.Tokens {
		if token.ID == "" {
			continue
		}
		tokens = append(tokens, token.normalize())
	}
	return tokens, nil
}

func (c *DexIndex) GetToken(ctx context.Context, address string) (*model.RawToken, error) {
	var payload struct {
		Token *indexToken `json:"token"`
	}
	endpoint := c.baseURL + "/tokens/" + url.PathEscape(model.NormalizeAddress(address))
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	if payload.Token == nil || payload.Token.ID == "" {
		return nil, nil
	}
	token := payload.Token.normalize()
	return &token, nil
}

func (c *DexIndex) GetPrices(ctx context.Context, addresses []string) (map[string]model.RawPrice, error) {
	if len(addresses) == 0 {
		return map[string]model.RawPrice{}, nil
	}

	normalized := make([]string, 0, len(addresses))
	for _, address := range addresses {
		normalized = append(normalized, model.NormalizeAddress(address))
	}

	var payload struct {
		Tokens []indexToken `json:"tokens"`
	}
	endpoint := c.baseURL + "/prices?addresses=" + url.QueryEscape(strings.Join(normalized, ","))
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	prices := make(map[string]model.RawPrice, len(payload.Tokens))
	for _, token := range payload.Tokens {
		if token.ID == "" {
			continue
		}
		prices[model.NormalizeAddress(token.ID)] = model.RawPrice{
			PriceUSD:     token.PriceUSD,
			PriceNative:  token.PriceETH,
			LiquidityUSD: token.Liquidity,
			Volume24hUSD: token.Volume,
		}
	}
	return prices, nil
}

func (c *DexIndex) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dexindex request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dexindex status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode dexindex response: %w", err)
	}
	return nil
}
