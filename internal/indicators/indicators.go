package indicators

import (
	"math"

	"papertrader/internal/models"
)

func Closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA is seeded with the SMA of the first period values.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	ema, _ := SMA(values[:period], period)
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema, true
}

// RSI uses Wilder smoothing over the whole series.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}
	gain, loss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		up, down := 0.0, 0.0
		if change > 0 {
			up = change
		} else {
			down = -change
		}
		gain = (gain*float64(period-1) + up) / float64(period)
		loss = (loss*float64(period-1) + down) / float64(period)
	}
	if loss == 0 {
		if gain == 0 {
			return 50, true
		}
		return 100, true
	}
	rs := gain / loss
	return 100 - 100/(1+rs), true
}

// Slope is the least-squares slope of the last period values, in price units per step.
func Slope(values []float64, period int) (float64, bool) {
	if period < 2 || len(values) < period {
		return 0, false
	}
	window := values[len(values)-period:]
	n := float64(period)
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range window {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / den, true
}

type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

func (b Bands) Width() float64 {
	return b.Upper - b.Lower
}

func Bollinger(values []float64, period int, mult float64) (Bands, bool) {
	middle, ok := SMA(values, period)
	if !ok {
		return Bands{}, false
	}
	variance := 0.0
	for _, v := range values[len(values)-period:] {
		d := v - middle
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))
	return Bands{Upper: middle + std*mult, Middle: middle, Lower: middle - std*mult}, true
}

func trueRange(cur, prev models.Candle) float64 {
	return math.Max(cur.High-cur.Low, math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}

// ADX returns the Wilder-smoothed DX of the window and uses it as the ADX value.
// No DX history is kept, so the second smoothing pass of a textbook ADX is skipped.
func ADX(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	var tr, plusDM, minusDM float64
	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]
		up := cur.High - prev.High
		down := prev.Low - cur.Low
		pdm, mdm := 0.0, 0.0
		if up > down && up > 0 {
			pdm = up
		}
		if down > up && down > 0 {
			mdm = down
		}
		r := trueRange(cur, prev)
		if i <= period {
			tr += r
			plusDM += pdm
			minusDM += mdm
			continue
		}
		p := float64(period)
		tr = tr - tr/p + r
		plusDM = plusDM - plusDM/p + pdm
		minusDM = minusDM - minusDM/p + mdm
	}
	if tr == 0 {
		return 0, true
	}
	plusDI := 100 * plusDM / tr
	minusDI := 100 * minusDM / tr
	if plusDI+minusDI == 0 {
		return 0, true
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI), true
}

func ATR(candles []models.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}
	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += trueRange(candles[i], candles[i-1])
	}
	return sum / float64(period), true
}

// VWAP weights the typical price by candle volume. Candles without volume count equally.
func VWAP(candles []models.Candle) (float64, bool) {
	if len(candles) == 0 {
		return 0, false
	}
	var pv, vol, plain float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		plain += typical
		if c.Volume > 0 {
			pv += typical * c.Volume
			vol += c.Volume
		}
	}
	if vol == 0 {
		return plain / float64(len(candles)), true
	}
	return pv / vol, true
}

// AverageRange is the mean high-low range of the candles.
func AverageRange(candles []models.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candles {
		sum += c.Range()
	}
	return sum / float64(len(candles))
}
