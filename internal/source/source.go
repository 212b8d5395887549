// Package source contains clients for external DEX data providers. Every
// client failure is transient by contract: callers treat an error as "this
// source returned nothing this cycle" and never abort a batch over it.
package source

import (
	"context"

	"tokenscope/internal/model"
)

// Client is one ranked external data source.
type Client interface {
	Name() string
	ListTokens(ctx context.Context) ([]model.RawToken, error)
	GetToken(ctx context.Context, address string) (*model.RawToken, error)
	GetPrices(ctx context.Context, addresses []string) (map[string]model.RawPrice, error)
}
