// Package indicator computes technical indicator series over bar data.
// Every function returns a slice index-aligned with its input; positions
// inside the warmup window hold NaN rather than a partial value.
package indicator

import (
	"math"

	"github.com/rxtech-lab/utss-engine/internal/types"
)

// Closes extracts the close series from bars.
func Closes(bars []types.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	return closes
}

// Field extracts an arbitrary price field series from bars. Unavailable
// values (e.g. missing vwap) become NaN.
func Field(bars []types.Bar, field types.PriceField) []float64 {
	series := make([]float64, len(bars))

	for i, bar := range bars {
		value, ok := bar.Price(field)
		if !ok {
			value = math.NaN()
		}

		series[i] = value
	}

	return series
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}

	return out
}

// SMA computes the simple moving average over the given period.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || period > len(values) {
		return out
	}

	sum := 0.0

	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}

		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}

	return out
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first period values.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || period > len(values) {
		return out
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}

	seed /= float64(period)
	out[period-1] = seed

	alpha := 2.0 / (float64(period) + 1.0)
	prev := seed

	for i := period; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}

	return out
}

// WMA computes the linearly weighted moving average. The most recent value
// carries weight period, the oldest weight 1.
func WMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || period > len(values) {
		return out
	}

	denom := float64(period*(period+1)) / 2

	for i := period - 1; i < len(values); i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += values[i-j] * float64(period-j)
		}

		out[i] = sum / denom
	}

	return out
}

// RSI computes the relative strength index using Wilder smoothing.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || period >= len(values) {
		return out
	}

	avgGain, avgLoss := 0.0, 0.0

	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}

	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]

		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}

	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}

	return 100 - 100/(1+avgGain/avgLoss)
}

// MACD computes the MACD line, signal line, and histogram.
func MACD(values []float64, fast, slow, signal int) (macd, signalLine, histogram []float64) {
	macd = nanSlice(len(values))
	signalLine = nanSlice(len(values))
	histogram = nanSlice(len(values))

	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)

	for i := range values {
		if !math.IsNaN(fastEMA[i]) && !math.IsNaN(slowEMA[i]) {
			macd[i] = fastEMA[i] - slowEMA[i]
		}
	}

	// Signal line is an EMA over the defined portion of the MACD line.
	start := 0
	for start < len(macd) && math.IsNaN(macd[start]) {
		start++
	}

	if start < len(macd) {
		smoothed := EMA(macd[start:], signal)
		for i, v := range smoothed {
			signalLine[start+i] = v
		}
	}

	for i := range values {
		if !math.IsNaN(macd[i]) && !math.IsNaN(signalLine[i]) {
			histogram[i] = macd[i] - signalLine[i]
		}
	}

	return macd, signalLine, histogram
}

// ATR computes the average true range with Wilder smoothing.
func ATR(bars []types.Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if period <= 0 || period >= len(bars) {
		return out
	}

	tr := make([]float64, len(bars))
	tr[0] = bars[0].High - bars[0].Low

	for i := 1; i < len(bars); i++ {
		highLow := bars[i].High - bars[i].Low
		highClose := math.Abs(bars[i].High - bars[i-1].Close)
		lowClose := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(highLow, math.Max(highClose, lowClose))
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}

	prev := sum / float64(period)
	out[period] = prev

	for i := period + 1; i < len(bars); i++ {
		prev = (prev*float64(period-1) + tr[i]) / float64(period)
		out[i] = prev
	}

	return out
}

// StdDev computes the rolling population standard deviation.
func StdDev(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 1 || period > len(values) {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]

		mean := 0.0
		for _, v := range window {
			mean += v
		}

		mean /= float64(period)

		variance := 0.0
		for _, v := range window {
			variance += (v - mean) * (v - mean)
		}

		out[i] = math.Sqrt(variance / float64(period))
	}

	return out
}

// Bollinger computes the middle, upper, and lower Bollinger bands.
func Bollinger(values []float64, period int, mult float64) (middle, upper, lower []float64) {
	middle = SMA(values, period)
	dev := StdDev(values, period)
	upper = nanSlice(len(values))
	lower = nanSlice(len(values))

	for i := range values {
		if !math.IsNaN(middle[i]) && !math.IsNaN(dev[i]) {
			upper[i] = middle[i] + mult*dev[i]
			lower[i] = middle[i] - mult*dev[i]
		}
	}

	return middle, upper, lower
}

// Momentum computes value[i] - value[i-period].
func Momentum(values []float64, period int) []float64 {
	out := nanSlice(len(values))

	for i := period; i < len(values); i++ {
		out[i] = values[i] - values[i-period]
	}

	return out
}

// ROC computes the rate of change as a fraction of the value period bars ago.
func ROC(values []float64, period int) []float64 {
	out := nanSlice(len(values))

	for i := period; i < len(values); i++ {
		if values[i-period] != 0 {
			out[i] = values[i]/values[i-period] - 1
		}
	}

	return out
}

// Highest computes the rolling maximum over the period.
func Highest(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || period > len(values) {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		max := values[i]
		for j := i - period + 1; j < i; j++ {
			if values[j] > max {
				max = values[j]
			}
		}

		out[i] = max
	}

	return out
}

// Lowest computes the rolling minimum over the period.
func Lowest(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || period > len(values) {
		return out
	}

	for i := period - 1; i < len(values); i++ {
		min := values[i]
		for j := i - period + 1; j < i; j++ {
			if values[j] < min {
				min = values[j]
			}
		}

		out[i] = min
	}

	return out
}

// RealizedVol computes the rolling standard deviation of simple returns.
// The first defined value needs period returns, hence period+1 bars.
func RealizedVol(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 1 || period >= len(values) {
		return out
	}

	returns := make([]float64, len(values))
	returns[0] = math.NaN()

	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			returns[i] = values[i]/values[i-1] - 1
		} else {
			returns[i] = math.NaN()
		}
	}

	dev := StdDev(returns[1:], period)
	for i, v := range dev {
		out[i+1] = v
	}

	return out
}
