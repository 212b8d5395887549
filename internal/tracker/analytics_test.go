package tracker

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tokenscope/internal/model"
)

func TestTimeframeDuration(t *testing.T) {
	tests := []struct {
		timeframe Timeframe
		want      time.Duration
		ok        bool
	}{
		{Timeframe24h, 24 * time.Hour, true},
		{Timeframe7d, 7 * 24 * time.Hour, true},
		{Timeframe30d, 30 * 24 * time.Hour, true},
		{Timeframe("1h"), 0, false},
		{Timeframe(""), 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.timeframe.Duration()
		require.Equal(t, tt.ok, ok, "timeframe %q", tt.timeframe)
		require.Equal(t, tt.want, got, "timeframe %q", tt.timeframe)
	}
}

func TestVolatility(t *testing.T) {
	require.Zero(t, volatility(nil))
	require.Zero(t, volatility([]float64{100}))
	// Constant prices have zero volatility.
	require.Zero(t, volatility([]float64{100, 100, 100, 100}))

	// Alternating +10%/-10% returns.
	v := volatility([]float64{100, 110, 99, 108.9, 98.01})
	require.InDelta(t, 0.1155, v, 0.001)
}

func TestEMA(t *testing.T) {
	require.Zero(t, ema(nil, 12))
	require.Equal(t, 100.0, ema([]float64{100}, 12))
	// Constant series stays at the constant.
	require.Equal(t, 50.0, ema([]float64{50, 50, 50}, 3))
	// Monotonic series: EMA lags behind the last price but exceeds the mean.
	prices := []float64{10, 20, 30, 40, 50}
	got := ema(prices, 3)
	require.Greater(t, got, mean(prices))
	require.Less(t, got, 50.0)
}

func TestRSI(t *testing.T) {
	// Not enough samples: neutral.
	require.Equal(t, 50.0, rsi([]float64{1, 2, 3}, 14))

	up := make([]float64, 20)
	for i := range up {
		up[i] = float64(100 + i)
	}
	require.Equal(t, 100.0, rsi(up, 14))

	down := make([]float64, 20)
	for i := range down {
		down[i] = float64(100 - i)
	}
	require.Zero(t, rsi(down, 14))

	mixed := []float64{100, 102, 101, 103, 102, 104, 103, 105, 104, 106, 105, 107, 106, 108, 107}
	got := rsi(mixed, 14)
	require.Greater(t, got, 50.0)
	require.Less(t, got, 100.0)
}

func TestComputeAnalytics(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := make([]model.PriceSnapshot, 0, 30)
	for i := 0; i < 30; i++ {
		window = append(window, model.PriceSnapshot{
			TokenAddress: "0xabc",
			PriceUSD:     100 + float64(i),
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
		})
	}

	analytics := computeAnalytics("0xabc", Timeframe24h, window)
	require.Equal(t, "0xabc", analytics.TokenAddress)
	require.Equal(t, Timeframe24h, analytics.Timeframe)
	require.Equal(t, 30, analytics.SampleCount)
	require.InDelta(t, 114.5, analytics.SMA, 1e-9)
	require.Equal(t, 129.0, analytics.High)
	require.Equal(t, 100.0, analytics.Low)
	require.InDelta(t, 0.29, analytics.PriceChange, 1e-9)
	require.Greater(t, analytics.MACD, 0.0)
	require.False(t, math.IsNaN(analytics.Volatility))
}

func TestComputeAnalyticsEmptyWindow(t *testing.T) {
	analytics := computeAnalytics("0xabc", Timeframe7d, nil)
	require.Zero(t, analytics.SampleCount)
	require.Zero(t, analytics.SMA)
	require.Zero(t, analytics.Volatility)
}
