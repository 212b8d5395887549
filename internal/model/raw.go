package model

// RawToken is a source-normalized token/pair record. Each source client maps
// its own wire format into this shape at the boundary; nothing upstream of
// the source package sees provider-specific fields.
type RawToken struct {
	Address        string  `json:"address"`
	Name           string  `json:"name"`
	Symbol         string  `json:"symbol"`
	PriceUSD       float64 `json:"price_usd"`
	PriceNative    float64 `json:"price_native"`
	LiquidityUSD   float64 `json:"liquidity_usd"`
	Volume24hUSD   float64 `json:"volume_24h_usd"`
	PriceChange24h float64 `json:"price_change_24h"`
	HolderCount    int     `json:"holder_count"`
	LogoURI        string  `json:"logo_uri,omitempty"`
	Description    string  `json:"description,omitempty"`
	Socials        SocialLinks `json:"socials,omitempty"`
}

// RawPrice is a source-normalized price quote for one token.
type RawPrice struct {
	PriceUSD       float64 `json:"price_usd"`
	PriceNative    float64 `json:"price_native"`
	LiquidityUSD   float64 `json:"liquidity_usd"`
	Volume24hUSD   float64 `json:"volume_24h_usd"`
	PriceChange24h float64 `json:"price_change_24h"`
}
