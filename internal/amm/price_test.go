package amm

import (
	"math"
	"math/big"
	"testing"
)

func TestSpotPriceEqualDecimals(t *testing.T) {
	// 100 base / 200 quote, both 18 decimals -> price 2.
	price, err := SpotPrice(big.NewInt(100), big.NewInt(200), 18, 18)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 2 {
		t.Fatalf("price mismatch: %v", price)
	}
}

func TestSpotPriceDecimalAdjustment(t *testing.T) {
	// 1e18 of an 18-decimal token against 2e6 of a 6-decimal stable -> 2.0.
	reserveBase, _ := new(big.Int).SetString("1000000000000000000", 10)
	reserveQuote := big.NewInt(2_000_000)

	price, err := SpotPrice(reserveBase, reserveQuote, 18, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(price-2) > 1e-9 {
		t.Fatalf("price mismatch: %v", price)
	}
}

func TestSpotPriceEmptyPool(t *testing.T) {
	if _, err := SpotPrice(big.NewInt(0), big.NewInt(1), 18, 18); err == nil {
		t.Fatal("expected error for empty pool")
	}
}

func TestSwapOutputNoFee(t *testing.T) {
	// x*y=k: 100 in against (1000, 1000) -> 1000*100/1100 = 90.
	out, err := SwapOutput(big.NewInt(100), big.NewInt(1000), big.NewInt(1000), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Int64() != 90 {
		t.Fatalf("output mismatch: %s", out)
	}
}

func TestSwapOutputWithFee(t *testing.T) {
	// 0.3% fee shrinks the effective input.
	out, err := SwapOutput(big.NewInt(100_000), big.NewInt(1_000_000), big.NewInt(1_000_000), 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// afterFee = 997000000; floor(997e6*1e6 / (1e10 + 997e6)) = 90661.
	if out.Int64() != 90661 {
		t.Fatalf("output mismatch: %s", out)
	}
}

func TestSwapOutputInvalidFee(t *testing.T) {
	if _, err := SwapOutput(big.NewInt(1), big.NewInt(1), big.NewInt(1), 10000); err == nil {
		t.Fatal("expected error for fee >= 100%")
	}
}

func TestPriceImpactGrowsWithSize(t *testing.T) {
	small, err := PriceImpact(big.NewInt(1_000), big.NewInt(1_000_000), big.NewInt(1_000_000), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	large, err := PriceImpact(big.NewInt(100_000), big.NewInt(1_000_000), big.NewInt(1_000_000), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if small >= large {
		t.Fatalf("impact should grow with trade size: small=%v large=%v", small, large)
	}
	if large < 0.08 || large > 0.1 {
		t.Fatalf("impact out of expected band: %v", large)
	}
}
