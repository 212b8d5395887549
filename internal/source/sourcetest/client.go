// Package sourcetest provides a scripted source.Client for tests.
package sourcetest

import (
	"context"
	"sync"

	"tokenscope/internal/model"
)

// Client is a fake source.Client returning scripted data.
type Client struct {
	mu sync.Mutex

	ClientName string
	Tokens     []model.RawToken
	Token      *model.RawToken
	Prices     map[string]model.RawPrice
	Err        error

	ListCalls     int
	GetCalls      int
	GetPriceCalls [][]string
}

func (c *Client) Name() string {
	if c.ClientName == "" {
		return "fake"
	}
	return c.ClientName
}

func (c *Client) ListTokens(_ context.Context) ([]model.RawToken, error) {
	c.mu.Lock()
	c.ListCalls++
	c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Tokens, nil
}

func (c *Client) GetToken(_ context.Context, address string) (*model.RawToken, error) {
	c.mu.Lock()
	c.GetCalls++
	c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if c.Token != nil {
		return c.Token, nil
	}
	normalized := model.NormalizeAddress(address)
	for i := range c.Tokens {
		if c.Tokens[i].Address == normalized {
			token := c.Tokens[i]
			return &token, nil
		}
	}
	return nil, nil
}

func (c *Client) GetPrices(_ context.Context, addresses []string) (map[string]model.RawPrice, error) {
	c.mu.Lock()
	c.GetPriceCalls = append(c.GetPriceCalls, append([]string(nil), addresses...))
	c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	result := make(map[string]model.RawPrice, len(addresses))
	for _, address := range addresses {
		if price, ok := c.Prices[model.NormalizeAddress(address)]; ok {
			result[model.NormalizeAddress(address)] = price
		}
	}
	return result, nil
}
