package model

import "time"

// PriceSnapshot is one observation of a token's market state. Snapshots are
// immutable once produced; history buffers append copies.
type PriceSnapshot struct {
	TokenAddress   string    `json:"token_address"`
	PriceUSD       float64   `json:"price_usd"`
	PriceNative    float64   `json:"price_native"`
	Volume24hUSD   float64   `json:"volume_24h_usd"`
	LiquidityUSD   float64   `json:"liquidity_usd"`
	PriceChange24h float64   `json:"price_change_24h"`
	Timestamp      time.Time `json:"timestamp"`
	BlockNumber    uint64    `json:"block_number"`
}
