package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDexAPIListTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/pairs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"pairs": [
				{
					"baseToken": {"address": "0xAbC0000000000000000000000000000000000001", "name": "Alpha", "symbol": "ALpha"},
					"priceUsd": "1.25",
					"priceNative": "0.0005",
					"liquidity": {"usd": 150000},
					"volume": {"h24": 42000},
					"priceChange": {"h24": -3.2},
					"holders": 512,
					"info": {
						"imageUrl": "https://cdn.example/alpha.png",
						"websites": [{"url": "https://alpha.example"}],
						"socials": [{"type": "twitter", "url": "https://twitter.com/alpha"}]
					}
				},
				{"baseToken": {"address": "", "name": "broken"}}
			]
		}`))
	}))
	defer server.Close()

	client := NewDexAPI(server.URL, nil)
	tokens, err := client.ListTokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	token := tokens[0]
	require.Equal(t, "0xabc0000000000000000000000000000000000001", token.Address)
	require.Equal(t, "Alpha", token.Name)
	require.Equal(t, 1.25, token.PriceUSD)
	require.Equal(t, 150000.0, token.LiquidityUSD)
	require.Equal(t, 42000.0, token.Volume24hUSD)
	require.Equal(t, -3.2, token.PriceChange24h)
	require.Equal(t, 512, token.HolderCount)
	require.Equal(t, "https://cdn.example/alpha.png", token.LogoURI)
	require.Equal(t, "https://alpha.example", token.Socials.Website)
	require.Equal(t, "https://twitter.com/alpha", token.Socials.Twitter)
}

func TestDexAPIErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewDexAPI(server.URL, nil)
	_, err := client.ListTokens(context.Background())
	require.Error(t, err)
}

func TestDexIndexGetPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/prices", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"tokens": [
				{"id": "0xABC0000000000000000000000000000000000001", "priceUSD": "2.5", "derivedETH": "0.001", "totalLiquidityUSD": "90000", "volumeUSD": "1200"}
			]
		}`))
	}))
	defer server.Close()

	client := NewDexIndex(server.URL, nil)
	prices, err := client.GetPrices(context.Background(), []string{"0xABC0000000000000000000000000000000000001"})
	require.NoError(t, err)
	require.Len(t, prices, 1)

	price, ok := prices["0xabc0000000000000000000000000000000000001"]
	require.True(t, ok)
	require.Equal(t, 2.5, price.PriceUSD)
	require.Equal(t, 90000.0, price.LiquidityUSD)
}
