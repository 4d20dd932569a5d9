// Package indicators implements stateless technical-analysis functions
// over price/candle vectors (spec.md §4.4). Every function fails by
// returning an empty slice or a nil pointer when the input is too short;
// none of them panic or return an error.
package indicators

import (
	"math"

	"github.com/Krishnaraj-Irkal/flowsense/internal/domain"
)

// SMA returns the simple moving average over period p, one value per
// window: len(prices)-p+1 results, or empty if prices is shorter than p.
func SMA(prices []float64, p int) []float64 {
	if p <= 0 || len(prices) < p {
		return nil
	}
	out := make([]float64, 0, len(prices)-p+1)
	var sum float64
	for i, v := range prices {
		sum += v
		if i >= p {
			sum -= prices[i-p]
		}
		if i >= p-1 {
			out = append(out, sum/float64(p))
		}
	}
	return out
}

// EMA seeds with the SMA of the first p prices, then applies multiplier
// 2/(p+1), returning len(prices)-p+1 values.
func EMA(prices []float64, p int) []float64 {
	if p <= 0 || len(prices) < p {
		return nil
	}
	seed := SMA(prices[:p], p)
	if len(seed) == 0 {
		return nil
	}

	out := make([]float64, 0, len(prices)-p+1)
	out = append(out, seed[0])
	mult := 2.0 / float64(p+1)
	prev := seed[0]
	for _, price := range prices[p:] {
		next := (price-prev)*mult + prev
		out = append(out, next)
		prev = next
	}
	return out
}

// RSI computes Wilder-smoothed relative strength over period p (default
// 14): the first average gain/loss is the arithmetic mean over the first
// p deltas, then each subsequent value recursively smooths. Returns
// len(prices)-p values.
func RSI(prices []float64, p int) []float64 {
	if p <= 0 || len(prices) <= p {
		return nil
	}

	gains := make([]float64, len(prices)-1)
	losses := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	var avgGain, avgLoss float64
	for i := 0; i < p; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(p)
	avgLoss /= float64(p)

	out := make([]float64, 0, len(prices)-p)
	out = append(out, rsiFromAverages(avgGain, avgLoss))

	for i := p; i < len(gains); i++ {
		avgGain = (avgGain*float64(p-1) + gains[i]) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + losses[i]) / float64(p)
		out = append(out, rsiFromAverages(avgGain, avgLoss))
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR computes the average true range over period p.
// True range = max(H-L, |H-prevC|, |L-prevC|); the function returns an
// SMA of true range over the period (no Wilder smoothing).
func ATR(candles []domain.Candle, p int) []float64 {
	if p <= 0 || len(candles) <= p {
		return nil
	}
	trueRanges := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr := c.High - c.Low
		if hc := abs(c.High - prevClose); hc > tr {
			tr = hc
		}
		if lc := abs(c.Low - prevClose); lc > tr {
			tr = lc
		}
		trueRanges = append(trueRanges, tr)
	}
	return SMA(trueRanges, p)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// MACDResult is MACD, its signal line, and their histogram, all trimmed
// to a consistent tail length.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the fast/slow EMA difference (default 12/26), a 9-period
// EMA of that difference as the signal line, and their histogram.
func MACD(prices []float64, fast, slow, signalPeriod int) MACDResult {
	fastEMA := EMA(prices, fast)
	slowEMA := EMA(prices, slow)
	if len(fastEMA) == 0 || len(slowEMA) == 0 {
		return MACDResult{}
	}

	// Align: slowEMA starts slow-fast bars later than fastEMA relative to
	// the original price series.
	offset := len(fastEMA) - len(slowEMA)
	if offset < 0 {
		return MACDResult{}
	}
	macd := make([]float64, len(slowEMA))
	for i := range slowEMA {
		macd[i] = fastEMA[i+offset] - slowEMA[i]
	}

	signal := EMA(macd, signalPeriod)
	if len(signal) == 0 {
		return MACDResult{MACD: macd}
	}

	sigOffset := len(macd) - len(signal)
	histogram := make([]float64, len(signal))
	trimmedMACD := make([]float64, len(signal))
	for i := range signal {
		trimmedMACD[i] = macd[i+sigOffset]
		histogram[i] = macd[i+sigOffset] - signal[i]
	}

	return MACDResult{MACD: trimmedMACD, Signal: signal, Histogram: histogram}
}

// BollingerBand is one SMA +/- k*stddev pair.
type BollingerBand struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger computes SMA(p) +/- k*population-stddev(p) bands, one per
// window.
func Bollinger(prices []float64, p int, k float64) []BollingerBand {
	if p <= 0 || len(prices) < p {
		return nil
	}
	sma := SMA(prices, p)
	out := make([]BollingerBand, 0, len(sma))
	for i := range sma {
		window := prices[i : i+p]
		sd := stddev(window, sma[i])
		out = append(out, BollingerBand{
			Upper:  sma[i] + k*sd,
			Middle: sma[i],
			Lower:  sma[i] - k*sd,
		})
	}
	return out
}

func stddev(window []float64, mean float64) float64 {
	var sumSq float64
	for _, v := range window {
		d := v - mean
		sumSq += d * d
	}
	variance := sumSq / float64(len(window))
	return math.Sqrt(variance)
}

// ADX computes the Wilder-smoothed average directional index over period
// p via +DI/-DI.
func ADX(candles []domain.Candle, p int) []float64 {
	if p <= 0 || len(candles) <= p+1 {
		return nil
	}

	plusDM := make([]float64, 0, len(candles)-1)
	minusDM := make([]float64, 0, len(candles)-1)
	tr := make([]float64, 0, len(candles)-1)

	for i := 1; i < len(candles); i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low

		switch {
		case up > down && up > 0:
			plusDM = append(plusDM, up)
		default:
			plusDM = append(plusDM, 0)
		}
		switch {
		case down > up && down > 0:
			minusDM = append(minusDM, down)
		default:
			minusDM = append(minusDM, 0)
		}

		trueRange := candles[i].High - candles[i].Low
		if hc := abs(candles[i].High - candles[i-1].Close); hc > trueRange {
			trueRange = hc
		}
		if lc := abs(candles[i].Low - candles[i-1].Close); lc > trueRange {
			trueRange = lc
		}
		tr = append(tr, trueRange)
	}

	smoothedTR := wilderSmooth(tr, p)
	smoothedPlusDM := wilderSmooth(plusDM, p)
	smoothedMinusDM := wilderSmooth(minusDM, p)

	n := minInt(len(smoothedTR), minInt(len(smoothedPlusDM), len(smoothedMinusDM)))
	if n == 0 {
		return nil
	}

	dx := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if smoothedTR[i] == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI := 100 * smoothedPlusDM[i] / smoothedTR[i]
		minusDI := 100 * smoothedMinusDM[i] / smoothedTR[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dx = append(dx, 0)
			continue
		}
		dx = append(dx, 100*abs(plusDI-minusDI)/sum)
	}

	return wilderSmooth(dx, p)
}

func wilderSmooth(values []float64, p int) []float64 {
	if len(values) < p {
		return nil
	}
	var seed float64
	for i := 0; i < p; i++ {
		seed += values[i]
	}
	seed /= float64(p)

	out := make([]float64, 0, len(values)-p+1)
	out = append(out, seed)
	prev := seed
	for i := p; i < len(values); i++ {
		next := (prev*float64(p-1) + values[i]) / float64(p)
		out = append(out, next)
		prev = next
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// CrossoverDirection is the result of comparing the last two aligned
// fast/slow samples.
type CrossoverDirection string

const (
	CrossoverBullish CrossoverDirection = "bullish"
	CrossoverBearish CrossoverDirection = "bearish"
	CrossoverNone    CrossoverDirection = ""
)

// DetectEMACrossover compares the last two aligned fast/slow EMA samples.
func DetectEMACrossover(fast, slow []float64) CrossoverDirection {
	n := minInt(len(fast), len(slow))
	if n < 2 {
		return CrossoverNone
	}
	fastPrev, fastLast := fast[len(fast)-2], fast[len(fast)-1]
	slowPrev, slowLast := slow[len(slow)-2], slow[len(slow)-1]

	if fastPrev <= slowPrev && fastLast > slowLast {
		return CrossoverBullish
	}
	if fastPrev >= slowPrev && fastLast < slowLast {
		return CrossoverBearish
	}
	return CrossoverNone
}
