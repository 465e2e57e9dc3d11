package strategy

import (
	"fmt"
	"math"

	"papertrader/internal/models"
)

// Trend follows the EMA200 direction on a pullback to EMA20.
func Trend(cfg Config, in Input) Result {
	ind := in.Indicators
	if !ind.HasEMA200 || !ind.HasEMA20 || !ind.HasADX || !ind.HasSlope {
		return skip(models.SkipWarmup, "недостаточно свечей для EMA200/ADX")
	}
	th := in.Guard.Thresholds
	if ind.ADX < th.ADXMin {
		return skip(models.SkipADX, "ADX %.1f < %.1f (стадия %d)", ind.ADX, th.ADXMin, in.Guard.Stage)
	}
	side, ok := trendSide(in)
	if !ok {
		return skip(models.SkipNoSetup, "цена на EMA200, направление не определено")
	}
	if side == models.SideBuy && ind.SlopeBps < th.SlopeMin {
		return skip(models.SkipSlope, "наклон %.2f б.п. < %.2f", ind.SlopeBps, th.SlopeMin)
	}
	if side == models.SideSell && ind.SlopeBps > -th.SlopeMin {
		return skip(models.SkipSlope, "наклон %.2f б.п. > -%.2f", ind.SlopeBps, th.SlopeMin)
	}
	dist := math.Abs(in.Price-ind.EMA20) / in.Price
	if dist > th.EMAProximity {
		return skip(models.SkipProximity, "до EMA20 %.4f > %.4f", dist, th.EMAProximity)
	}
	if res, ok := rangeFilter(in, side); !ok {
		return res
	}
	if ind.HasHTF && ind.HTFTrend != 0 && ind.HTFTrend != sideSign(side) {
		return skip(models.SkipHTF, "старший таймфрейм против сделки")
	}

	confidence := cfg.TrendBaseConfidence
	notes := ""
	if in.Structure.HasFVG(side) {
		confidence += cfg.ConfluenceBoost
		notes += " + FVG"
	}
	if in.Structure.HasOrderBlock(side) {
		confidence += cfg.ConfluenceBoost
		notes += " + OB"
	}
	if confidence > cfg.MaxConfidence {
		confidence = cfg.MaxConfidence
	}
	reason := fmt.Sprintf("тренд %s: ADX %.1f, наклон %.2f б.п., откат к EMA20%s", side, ind.ADX, ind.SlopeBps, notes)
	return intent(in, side, confidence, reason)
}

// Advisory trades the cached advisory when it agrees with the primary trend.
func Advisory(cfg Config, in Input) Result {
	if !in.Indicators.HasEMA200 {
		return skip(models.SkipWarmup, "недостаточно свечей для EMA200")
	}
	adv := in.Advisory
	if !adv.FreshAt(in.Now, cfg.AdvisoryMaxAge) {
		return skip(models.SkipAdvisoryStale, "нет свежей рекомендации")
	}
	if adv.Sentiment != models.SentimentBullish && adv.Sentiment != models.SentimentBearish {
		return skip(models.SkipAdvisoryNeutral, "рекомендация нейтральная")
	}
	if adv.Confidence < in.Instrument.AdvisoryMinConfidence {
		return skip(models.SkipAdvisoryConfidence, "уверенность %.0f < %.0f", adv.Confidence, in.Instrument.AdvisoryMinConfidence)
	}
	side := models.SideBuy
	if adv.Sentiment == models.SentimentBearish {
		side = models.SideSell
	}
	trend, ok := trendSide(in)
	if !ok || trend != side {
		return skip(models.SkipAdvisoryTrend, "рекомендация %s против тренда", adv.Sentiment)
	}
	if res, ok := rangeFilter(in, side); !ok {
		return res
	}
	reason := fmt.Sprintf("рекомендация %s (%.0f%%): %s", adv.Sentiment, adv.Confidence, adv.Reason)
	return intent(in, side, adv.Confidence, reason)
}

func sideSign(side models.Side) int {
	if side == models.SideBuy {
		return 1
	}
	return -1
}
