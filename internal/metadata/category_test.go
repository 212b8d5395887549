package metadata

import (
	"testing"

	"tokenscope/internal/model"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		want   model.Category
	}{
		{"USD Stable", "USDX", model.CategoryStablecoin},
		{"Dai Stablecoin", "DAI", model.CategoryStablecoin},
		{"Compound Governance", "COMP-GOV", model.CategoryGovernance},
		{"Doge Moon Token", "DOGEMOON", model.CategoryMeme},
		{"Shiba Classic", "SHIB2", model.CategoryMeme},
		{"Acme Finance", "ACME", model.CategoryDefi},
		{"Lending Protocol", "LEND", model.CategoryDefi},
		{"Block Game", "BGAME", model.CategoryGaming},
		{"PancakeSwap Token", "CAKE", model.CategoryExchange},
		{"Simple Exchange", "SX", model.CategoryExchange},
		{"Harvest Farm", "HARV", model.CategoryYield},
		{"Plain Coin", "PLN", model.CategoryCurrency},
		{"", "", model.CategoryCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := Categorize(tt.name, tt.symbol); got != tt.want {
				t.Fatalf("Categorize(%q, %q) = %s, want %s", tt.name, tt.symbol, got, tt.want)
			}
		})
	}
}

func TestCategorizePriorityOrder(t *testing.T) {
	// Matches both the stable and meme rules; stablecoin is checked first.
	if got := Categorize("Doge USD", "DOGEUSD"); got != model.CategoryStablecoin {
		t.Fatalf("priority mismatch: %s", got)
	}
	// Governance outranks meme.
	if got := Categorize("Doge Voting Token", "DOGEVOTE"); got != model.CategoryGovernance {
		t.Fatalf("priority mismatch: %s", got)
	}
}
