// Package amm implements constant-product pool math used for the on-chain
// price fallback.
package amm

import (
	"fmt"
	"math/big"
)

// SpotPrice returns the price of the base token denominated in the quote
// token, derived from pool reserves and adjusted for token decimals.
func SpotPrice(reserveBase, reserveQuote *big.Int, decimalsBase, decimalsQuote uint8) (float64, error) {
	if reserveBase == nil || reserveQuote == nil {
		return 0, fmt.Errorf("nil reserves")
	}
	if reserveBase.Sign() <= 0 || reserveQuote.Sign() <= 0 {
		return 0, fmt.Errorf("empty pool")
	}

	base := new(big.Float).SetInt(reserveBase)
	quote := new(big.Float).SetInt(reserveQuote)

	price := new(big.Float).Quo(quote, base)
	price.Mul(price, decimalScale(decimalsBase, decimalsQuote))

	value, _ := price.Float64()
	return value, nil
}

// SwapOutput returns the output amount for a swap of amountIn against the
// given reserves under x*y=k, after deducting the pool fee in basis points.
func SwapOutput(amountIn, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	if amountIn == nil || reserveIn == nil || reserveOut == nil {
		return nil, fmt.Errorf("nil amounts")
	}
	if amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("amount in must be positive")
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("empty pool")
	}
	if feeBps >= 10000 {
		return nil, fmt.Errorf("fee bps out of range: %d", feeBps)
	}

	// amountOut = reserveOut * amountInAfterFee / (reserveIn + amountInAfterFee)
	afterFee := new(big.Int).Mul(amountIn, big.NewInt(int64(10000-feeBps)))
	numerator := new(big.Int).Mul(afterFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(10000))
	denominator.Add(denominator, afterFee)

	return numerator.Quo(numerator, denominator), nil
}

// PriceImpact returns the relative deviation (0..1) of the effective swap
// price from the spot price for a trade of amountIn.
func PriceImpact(amountIn, reserveIn, reserveOut *big.Int, feeBps uint16) (float64, error) {
	amountOut, err := SwapOutput(amountIn, reserveIn, reserveOut, feeBps)
	if err != nil {
		return 0, err
	}
	if amountOut.Sign() == 0 {
		return 1, nil
	}

	// spot = reserveOut/reserveIn, effective = amountOut/amountIn
	spot := new(big.Float).Quo(new(big.Float).SetInt(reserveOut), new(big.Float).SetInt(reserveIn))
	effective := new(big.Float).Quo(new(big.Float).SetInt(amountOut), new(big.Float).SetInt(amountIn))

	impact := new(big.Float).Quo(effective, spot)
	impact.Sub(big.NewFloat(1), impact)

	value, _ := impact.Float64()
	if value < 0 {
		value = 0
	}
	return value, nil
}

func decimalScale(decimalsBase, decimalsQuote uint8) *big.Float {
	scale := big.NewFloat(1)
	ten := big.NewFloat(10)
	if decimalsBase >= decimalsQuote {
		for i := uint8(0); i < decimalsBase-decimalsQuote; i++ {
			scale.Mul(scale, ten)
		}
	} else {
		for i := uint8(0); i < decimalsQuote-decimalsBase; i++ {
			scale.Quo(scale, ten)
		}
	}
	return scale
}
