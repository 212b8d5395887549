package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tokenscope/internal/model"
)

// Store provides Postgres persistence for tokens, the blacklist, and
// named progress state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertTokens inserts or updates discovered token records.
func (s *Store) UpsertTokens(ctx context.Context, tokens []model.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, token := range tokens {
		batch.Queue(`
			INSERT INTO tokens (
				address, name, symbol, decimals, total_supply, logo_uri, description,
				website, twitter, telegram, discord,
				category, risk_level, is_verified, confidence,
				liquidity_usd, volume_24h_usd, holder_count, discovery_source,
				discovered_at, is_active, is_listed, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,now(),now())
			ON CONFLICT (address)
			DO UPDATE SET
				name = EXCLUDED.name,
				symbol = EXCLUDED.symbol,
				decimals = EXCLUDED.decimals,
				total_supply = EXCLUDED.total_supply,
				logo_uri = EXCLUDED.logo_uri,
				description = EXCLUDED.description,
				website = EXCLUDED.website,
				twitter = EXCLUDED.twitter,
				telegram = EXCLUDED.telegram,
				discord = EXCLUDED.discord,
				category = EXCLUDED.category,
				risk_level = EXCLUDED.risk_level,
				is_verified = EXCLUDED.is_verified,
				confidence = EXCLUDED.confidence,
				liquidity_usd = EXCLUDED.liquidity_usd,
				volume_24h_usd = EXCLUDED.volume_24h_usd,
				holder_count = EXCLUDED.holder_count,
				is_active = EXCLUDED.is_active,
				is_listed = EXCLUDED.is_listed,
				updated_at = now()
		`,
			model.NormalizeAddress(token.Address),
			token.Name,
			token.Symbol,
			int16(token.Decimals),
			token.TotalSupply,
			token.LogoURI,
			token.Description,
			token.Socials.Website,
			token.Socials.Twitter,
			token.Socials.Telegram,
			token.Socials.Discord,
			string(token.Category),
			string(token.RiskLevel),
			token.Verification.IsVerified,
			token.Verification.Confidence,
			token.LiquidityUSD,
			token.Volume24hUSD,
			token.HolderCount,
			token.DiscoverySrc,
			token.DiscoveredAt,
			token.IsActive,
			token.IsListed,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range tokens {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadTokenAddresses returns every known token address.
func (s *Store) LoadTokenAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT address FROM tokens`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}

// LoadBlacklist returns every blacklisted address.
func (s *Store) LoadBlacklist(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT address FROM token_blacklist`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, err
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}

// AddToBlacklist records an address with a reason.
func (s *Store) AddToBlacklist(ctx context.Context, address, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_blacklist (address, reason, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (address) DO NOTHING
	`, model.NormalizeAddress(address), reason)
	return err
}

// LoadState returns the saved block height for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM tracker_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return block, true, nil
}

// SaveState upserts the block height for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracker_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, block)
	return err
}

const scanCheckpointState = "event_scan"

// ScanCheckpoint persists the event-scan cursor in the tracker_state
// table, so a database-backed deployment survives restarts without a
// local checkpoint file.
type ScanCheckpoint struct {
	store *Store
}

func NewScanCheckpoint(store *Store) *ScanCheckpoint {
	return &ScanCheckpoint{store: store}
}

func (c *ScanCheckpoint) LastScanned(ctx context.Context) (uint64, bool, error) {
	return c.store.LoadState(ctx, scanCheckpointState)
}

func (c *ScanCheckpoint) SaveScanned(ctx context.Context, block uint64) error {
	return c.store.SaveState(ctx, scanCheckpointState, block)
}
