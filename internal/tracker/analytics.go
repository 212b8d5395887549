package tracker

import (
	"math"
	"time"

	"tokenscope/internal/model"
)

// Timeframe selects the analytics window.
type Timeframe string

const (
	Timeframe24h Timeframe = "24h"
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
)

// Duration returns the window length, or false for an unknown timeframe.
func (t Timeframe) Duration() (time.Duration, bool) {
	switch t {
	case Timeframe24h:
		return 24 * time.Hour, true
	case Timeframe7d:
		return 7 * 24 * time.Hour, true
	case Timeframe30d:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Analytics holds statistics derived from a token's price history.
type Analytics struct {
	TokenAddress string    `json:"token_address"`
	Timeframe    Timeframe `json:"timeframe"`
	SampleCount  int       `json:"sample_count"`
	Volatility   float64   `json:"volatility"`
	SMA          float64   `json:"sma"`
	EMA          float64   `json:"ema"`
	RSI          float64   `json:"rsi"`
	MACD         float64   `json:"macd"`
	PriceChange  float64   `json:"price_change"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
}

const rsiPeriod = 14

func computeAnalytics(address string, timeframe Timeframe, window []model.PriceSnapshot) Analytics {
	prices := make([]float64, 0, len(window))
	for _, snapshot := range window {
		prices = append(prices, snapshot.PriceUSD)
	}

	analytics := Analytics{
		TokenAddress: address,
		Timeframe:    timeframe,
		SampleCount:  len(prices),
	}
	if len(prices) == 0 {
		return analytics
	}

	analytics.SMA = mean(prices)
	analytics.EMA = ema(prices, len(prices))
	analytics.Volatility = volatility(prices)
	analytics.RSI = rsi(prices, rsiPeriod)
	analytics.MACD = macd(prices)

	analytics.High, analytics.Low = prices[0], prices[0]
	for _, price := range prices {
		if price > analytics.High {
			analytics.High = price
		}
		if price < analytics.Low {
			analytics.Low = price
		}
	}
	first, last := prices[0], prices[len(prices)-1]
	if first != 0 {
		analytics.PriceChange = (last - first) / first
	}
	return analytics
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// volatility is the standard deviation of period-over-period returns.
func volatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
	}
	if len(returns) < 2 {
		return 0
	}
	avg := mean(returns)
	variance := 0.0
	for _, r := range returns {
		variance += (r - avg) * (r - avg)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

// ema seeds with the first price and smooths with 2/(period+1).
func ema(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if period < 1 {
		period = 1
	}
	multiplier := 2.0 / (float64(period) + 1.0)
	value := prices[0]
	for _, price := range prices[1:] {
		value = (price-value)*multiplier + value
	}
	return value
}

// rsi returns the relative strength index; 50 (neutral) when the window is
// too short to compute it.
func rsi(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}
	gains, losses := 0.0, 0.0
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// macd is the 12-period EMA minus the 26-period EMA.
func macd(prices []float64) float64 {
	return ema(prices, 12) - ema(prices, 26)
}
