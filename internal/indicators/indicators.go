// Package indicators wraps go-talib with NaN-padded warmup so detectors can
// tell "not enough history" apart from a genuine zero reading.
package indicators

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// mask replaces the first lookback values (talib leaves them zero) with NaN
func mask(out []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out
}

// EMA is the exponential moving average seeded with the SMA of the first period values
func EMA(in []float64, period int) []float64 {
	if period <= 0 || len(in) < period {
		return nanSlice(len(in))
	}
	return mask(talib.Ema(in, period), period-1)
}

// SMA is the simple moving average
func SMA(in []float64, period int) []float64 {
	if period <= 0 || len(in) < period {
		return nanSlice(len(in))
	}
	return mask(talib.Sma(in, period), period-1)
}

// RSI is Wilder's relative strength index
func RSI(in []float64, period int) []float64 {
	if period <= 1 || len(in) <= period {
		return nanSlice(len(in))
	}
	return mask(talib.Rsi(in, period), period)
}

// ATR is Wilder's average true range
func ATR(high, low, close []float64, period int) []float64 {
	if period <= 0 || len(close) <= period {
		return nanSlice(len(close))
	}
	return mask(talib.Atr(high, low, close, period), period)
}

// ADX is the average directional index
func ADX(high, low, close []float64, period int) []float64 {
	lookback := 2*period - 1
	if period <= 1 || len(close) <= lookback {
		return nanSlice(len(close))
	}
	return mask(talib.Adx(high, low, close, period), lookback)
}

// Bands holds Bollinger band columns
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// BollingerBands computes SMA-based bands numStd standard deviations wide
func BollingerBands(in []float64, period int, numStd float64) Bands {
	if period <= 1 || len(in) < period {
		return Bands{Upper: nanSlice(len(in)), Middle: nanSlice(len(in)), Lower: nanSlice(len(in))}
	}
	upper, middle, lower := talib.BBands(in, period, numStd, numStd, talib.SMA)
	return Bands{
		Upper:  mask(upper, period-1),
		Middle: mask(middle, period-1),
		Lower:  mask(lower, period-1),
	}
}

// Highest is the rolling maximum over period bars, including the current one
func Highest(in []float64, period int) []float64 {
	if period <= 0 || len(in) < period {
		return nanSlice(len(in))
	}
	return mask(talib.Max(in, period), period-1)
}

// Lowest is the rolling minimum over period bars, including the current one
func Lowest(in []float64, period int) []float64 {
	if period <= 0 || len(in) < period {
		return nanSlice(len(in))
	}
	return mask(talib.Min(in, period), period-1)
}

// VolumeRatio is volume divided by its period-bar simple average
func VolumeRatio(volume []float64, period int) []float64 {
	avg := SMA(volume, period)
	out := make([]float64, len(volume))
	for i := range volume {
		if math.IsNaN(avg[i]) || avg[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = volume[i] / avg[i]
	}
	return out
}

// VWAP is the cumulative volume-weighted average of the typical price.
// talib has no VWAP so the running sums are kept here.
func VWAP(high, low, close, volume []float64) []float64 {
	out := make([]float64, len(close))
	var pv, vol float64
	for i := range close {
		typical := (high[i] + low[i] + close[i]) / 3
		pv += typical * volume[i]
		vol += volume[i]
		if vol == 0 {
			out[i] = typical
			continue
		}
		out[i] = pv / vol
	}
	return out
}

// LogReturns returns ln(c[i]/c[i-1]); the first element is NaN
func LogReturns(close []float64) []float64 {
	out := make([]float64, len(close))
	if len(close) == 0 {
		return out
	}
	out[0] = math.NaN()
	for i := 1; i < len(close); i++ {
		out[i] = math.Log(close[i] / close[i-1])
	}
	return out
}

// HistoricalVolatility is the annualised standard deviation of log returns
// over the trailing window, evaluated at the last bar. It returns false when
// fewer than window+1 closes are available.
func HistoricalVolatility(close []float64, window int, periodsPerYear float64) (float64, bool) {
	if window < 2 || len(close) < window+1 {
		return 0, false
	}
	rets := LogReturns(close[len(close)-window-1:])[1:]
	sd := talib.StdDev(rets, window, 1.0)
	return sd[len(sd)-1] * math.Sqrt(periodsPerYear), true
}

// Last returns the final value of a column, NaN for empty input
func Last(in []float64) float64 {
	if len(in) == 0 {
		return math.NaN()
	}
	return in[len(in)-1]
}
