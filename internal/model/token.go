package model

import (
	"strings"
	"time"
)

// Category classifies a token by its apparent purpose.
type Category string

const (
	CategoryCurrency   Category = "currency"
	CategoryDefi       Category = "defi"
	CategoryMeme       Category = "meme"
	CategoryStablecoin Category = "stablecoin"
	CategoryGovernance Category = "governance"
	CategoryGaming     Category = "gaming"
	CategoryExchange   Category = "exchange"
	CategoryYield      Category = "yield"
	CategoryOther      Category = "other"
)

// RiskLevel is a coarse risk bucket assigned at discovery time.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// Verification captures third-party verification status for a token.
type Verification struct {
	IsVerified bool     `json:"is_verified"`
	Sources    []string `json:"sources,omitempty"`
	Confidence int      `json:"confidence"`
}

// SocialLinks holds off-chain references for a token project.
type SocialLinks struct {
	Website  string `json:"website,omitempty"`
	Twitter  string `json:"twitter,omitempty"`
	Telegram string `json:"telegram,omitempty"`
	Discord  string `json:"discord,omitempty"`
}

// Empty reports whether no link is set.
func (s SocialLinks) Empty() bool {
	return s.Website == "" && s.Twitter == "" && s.Telegram == "" && s.Discord == ""
}

// Merge fills unset fields from other without overwriting existing values.
func (s SocialLinks) Merge(other SocialLinks) SocialLinks {
	if s.Website == "" {
		s.Website = other.Website
	}
	if s.Twitter == "" {
		s.Twitter = other.Twitter
	}
	if s.Telegram == "" {
		s.Telegram = other.Telegram
	}
	if s.Discord == "" {
		s.Discord = other.Discord
	}
	return s
}

// Token is the canonical record for a discovered token. Address is always
// stored lower-cased; it is the chain-unique key.
type Token struct {
	Address      string       `json:"address"`
	Name         string       `json:"name"`
	Symbol       string       `json:"symbol"`
	Decimals     uint8        `json:"decimals"`
	TotalSupply  string       `json:"total_supply"`
	LogoURI      string       `json:"logo_uri,omitempty"`
	Description  string       `json:"description,omitempty"`
	Socials      SocialLinks  `json:"socials,omitempty"`
	Category     Category     `json:"category"`
	Verification Verification `json:"verification"`
	RiskLevel    RiskLevel    `json:"risk_level"`

	LiquidityUSD   float64 `json:"liquidity_usd"`
	Volume24hUSD   float64 `json:"volume_24h_usd"`
	HolderCount    int     `json:"holder_count"`
	DiscoverySrc   string  `json:"discovery_source"`

	DiscoveredAt time.Time `json:"discovered_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	IsActive     bool      `json:"is_active"`
	IsListed     bool      `json:"is_listed"`
}

// NormalizeAddress canonicalizes an address for use as a map or dedup key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
