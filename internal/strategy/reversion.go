package strategy

import (
	"fmt"
	"math"

	"papertrader/internal/indicators"
	"papertrader/internal/models"
)

// MeanReversion fades stretched moves away from EMA20 in a ranging market.
func MeanReversion(cfg Config, in Input) Result {
	ind := in.Indicators
	if !ind.HasEMA20 || !ind.HasRSI || !ind.HasADX {
		return skip(models.SkipWarmup, "недостаточно свечей для EMA20/RSI")
	}
	th := in.Guard.Thresholds
	if ind.ADX > th.MRADXCap {
		return skip(models.SkipADXCap, "ADX %.1f > %.1f, сильный тренд", ind.ADX, th.MRADXCap)
	}
	dev := (in.Price - ind.EMA20) / ind.EMA20
	if math.Abs(dev) < th.MRBand {
		return skip(models.SkipBand, "отклонение от EMA20 %.4f < %.4f", math.Abs(dev), th.MRBand)
	}
	side := models.SideBuy
	if dev > 0 {
		side = models.SideSell
	}
	if side == models.SideBuy && ind.RSI > th.RSILow {
		return skip(models.SkipRSI, "RSI %.1f > %.1f", ind.RSI, th.RSILow)
	}
	if side == models.SideSell && ind.RSI < th.RSIHigh {
		return skip(models.SkipRSI, "RSI %.1f < %.1f", ind.RSI, th.RSIHigh)
	}
	if in.Structure.Valid {
		pos := in.Structure.RangePosition
		if side == models.SideBuy && pos > th.MROuterQuantile {
			return skip(models.SkipRange, "позиция в диапазоне %.2f > %.2f", pos, th.MROuterQuantile)
		}
		if side == models.SideSell && pos < 1-th.MROuterQuantile {
			return skip(models.SkipRange, "позиция в диапазоне %.2f < %.2f", pos, 1-th.MROuterQuantile)
		}
	}
	reason := fmt.Sprintf("возврат к средней: отклонение %.4f, RSI %.1f", dev, ind.RSI)
	return intent(in, side, cfg.MRConfidence, reason)
}

// Session trades liquidity sweeps and volatility breakouts inside the instrument's session window.
func Session(cfg Config, in Input) Result {
	inst := in.Instrument
	if !models.InWindow(in.Now, inst.SessionStart, inst.SessionEnd) {
		return skip(models.SkipOutsideSession, "вне торговой сессии %s-%s", inst.SessionStart, inst.SessionEnd)
	}
	n := len(in.Candles)
	if n < cfg.SessionMinCandles || n < cfg.SweepLookback+1 {
		return skip(models.SkipWarmup, "недостаточно свечей для сессии: %d", n)
	}
	last := in.Candles[n-1]
	prior := in.Candles[n-1-cfg.SweepLookback : n-1]
	high, low := prior[0].High, prior[0].Low
	for _, c := range prior[1:] {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}

	if last.Low < low && last.Close > low && in.Price > low {
		res := intent(in, models.SideBuy, cfg.SweepConfidence, fmt.Sprintf("снятие ликвидности ниже %.5g и возврат", low))
		if last.Low < res.Intent.EntryPrice {
			res.Intent.StopLoss = last.Low
		}
		return res
	}
	if last.High > high && last.Close < high && in.Price < high {
		res := intent(in, models.SideSell, cfg.SweepConfidence, fmt.Sprintf("снятие ликвидности выше %.5g и возврат", high))
		if last.High > res.Intent.EntryPrice {
			res.Intent.StopLoss = last.High
		}
		return res
	}

	if !in.Indicators.HasBands {
		return skip(models.SkipWarmup, "нет полос Боллинджера")
	}
	window := cfg.BreakoutAvgWindow
	if n-1 < window {
		window = n - 1
	}
	avg := indicators.AverageRange(in.Candles[n-1-window : n-1])
	expanded := avg > 0 && last.Range() >= cfg.BreakoutRangeMult*avg
	bands := in.Indicators.Bands
	if expanded && in.Price > bands.Upper {
		return intent(in, models.SideBuy, cfg.BreakoutConfidence, fmt.Sprintf("пробой вверх: диапазон %.5g против среднего %.5g", last.Range(), avg))
	}
	if expanded && in.Price < bands.Lower {
		return intent(in, models.SideSell, cfg.BreakoutConfidence, fmt.Sprintf("пробой вниз: диапазон %.5g против среднего %.5g", last.Range(), avg))
	}
	return skip(models.SkipNoSetup, "нет снятия ликвидности или пробоя")
}
