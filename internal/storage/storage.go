// Package storage defines the persistence boundaries of the pipeline.
package storage

import (
	"context"

	"tokenscope/internal/model"
)

// TokenStore persists discovered tokens and the blacklist across restarts.
type TokenStore interface {
	UpsertTokens(ctx context.Context, tokens []model.Token) error
	LoadTokenAddresses(ctx context.Context) ([]string, error)
	LoadBlacklist(ctx context.Context) ([]string, error)
	AddToBlacklist(ctx context.Context, address, reason string) error
}

// Journal is an append-only sink for emitted discovery events.
type Journal interface {
	AppendEvents(records []model.EventRecord) error
}
