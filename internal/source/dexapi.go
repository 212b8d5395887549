package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"tokenscope/internal/model"
)

// DexAPI is a client for the DEX REST API provider, the second-ranked
// source. Its pair-centric responses are flattened to one record per base
// token.
type DexAPI struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewDexAPI builds a DexAPI client for the given base URL.
func NewDexAPI(baseURL string, logger *zap.Logger) *DexAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DexAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		logger:  logger,
	}
}

var _ Client = (*DexAPI)(nil)

func (c *DexAPI) Name() string { return "dexapi" }

// apiPair is the provider's wire shape for a trading pair.
type apiPair struct {
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD    float64 `json:"priceUsd,string"`
	PriceNative float64 `json:"priceNative,string"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Holders int `json:"holders"`
	Info    struct {
		ImageURL    string `json:"imageUrl"`
		Description string `json:"description"`
		Websites    []struct {
			URL string `json:"url"`
		} `json:"websites"`
		Socials []struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"socials"`
	} `json:"info"`
}

func (p apiPair) normalize() model.RawToken {
	token := model.RawToken{
		Address:        model.NormalizeAddress(p.BaseToken.Address),
		Name:           p.BaseToken.Name,
		Symbol:         p.BaseToken.Symbol,
		PriceUSD:       p.PriceUSD,
		PriceNative:    p.PriceNative,
		LiquidityUSD:   p.Liquidity.USD,
		Volume24hUSD:   p.Volume.H24,
		PriceChange24h: p.PriceChange.H24,
		HolderCount:    p.Holders,
		LogoURI:        p.Info.ImageURL,
		Description:    p.Info.Description,
	}
	if len(p.Info.Websites) > 0 {
		token.Socials.Website = p.Info.Websites[0].URL
	}
	for _, social := range p.Info.Socials {
		switch strings.ToLower(social.Type) {
		case "twitter":
			token.Socials.Twitter = social.URL
		case "telegram":
			token.Socials.Telegram = social.URL
		case "discord":
			token.Socials.Discord = social.URL
		}
	}
	return token
}

func (c *DexAPI) ListTokens(ctx context.Context) ([]model.RawToken, error) {
	var payload struct {
		Pairs []apiPair `json:"pairs"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/v2/pairs", &payload); err != nil {
		return nil, err
	}

	tokens := make([]model.RawToken, 0, len(payload.Pairs))
	for _, pair := range payload.Pairs {
		if pair.BaseToken.Address == "" {
			continue
		}
		tokens = append(tokens, pair.normalize())
	}
	return tokens, nil
}

func (c *DexAPI) GetToken(ctx context.Context, address string) (*model.RawToken, error) {
	var payload struct {
		Pairs []apiPair `json:"pairs"`
	}
	endpoint := c.baseURL + "/api/v2/tokens/" + url.PathEscape(model.NormalizeAddress(address))
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	if len(payload.Pairs) == 0 || payload.Pairs[0].BaseToken.Address == "" {
		return nil, nil
	}
	token := payload.Pairs[0].normalize()
	return &token, nil
}

func (c *DexAPI) GetPrices(ctx context.Context, addresses []string) (map[string]model.RawPrice, error) {
	prices := make(map[string]model.RawPrice, len(addresses))
	for _, address := range addresses {
		token, err := c.GetToken(ctx, address)
		if err != nil {
			return nil, err
		}
		if token == nil {
			continue
		}
		prices[token.Address] = model.RawPrice{
			PriceUSD:       token.PriceUSD,
			PriceNative:    token.PriceNative,
			LiquidityUSD:   token.LiquidityUSD,
			Volume24hUSD:   token.Volume24hUSD,
			PriceChange24h: token.PriceChange24h,
		}
	}
	return prices, nil
}

func (c *DexAPI) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dexapi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dexapi status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode dexapi response: %w", err)
	}
	return nil
}
