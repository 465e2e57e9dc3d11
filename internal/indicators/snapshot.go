package indicators

import "papertrader/internal/models"

type Params struct {
	EMAFast     int     `mapstructure:"ema_fast"`
	EMASlow     int     `mapstructure:"ema_slow"`
	RSIPeriod   int     `mapstructure:"rsi_period"`
	SlopePeriod int     `mapstructure:"slope_period"`
	BBPeriod    int     `mapstructure:"bb_period"`
	BBMult      float64 `mapstructure:"bb_mult"`
	ADXPeriod   int     `mapstructure:"adx_period"`
	ATRPeriod   int     `mapstructure:"atr_period"`
}

func DefaultParams() Params {
	return Params{
		EMAFast:     20,
		EMASlow:     200,
		RSIPeriod:   14,
		SlopePeriod: 20,
		BBPeriod:    20,
		BBMult:      2,
		ADXPeriod:   14,
		ATRPeriod:   14,
	}
}

// Snapshot is the indicator view of one instrument. Has* flags are false until
// enough closed candles exist.
type Snapshot struct {
	EMA20     float64 `json:"ema20"`
	EMA200    float64 `json:"ema200"`
	HTFEMA200 float64 `json:"htf_ema200"`
	HTFTrend  int     `json:"htf_trend"`
	RSI       float64 `json:"rsi"`
	SlopeBps  float64 `json:"slope_bps"`
	ADX       float64 `json:"adx"`
	ATR       float64 `json:"atr"`
	VWAP      float64 `json:"vwap"`
	Bands     Bands   `json:"bands"`

	HasEMA20  bool `json:"has_ema20"`
	HasEMA200 bool `json:"has_ema200"`
	HasHTF    bool `json:"has_htf"`
	HasRSI    bool `json:"has_rsi"`
	HasSlope  bool `json:"has_slope"`
	HasADX    bool `json:"has_adx"`
	HasBands  bool `json:"has_bands"`
}

// Compute derives the snapshot from closed primary candles and closed higher-timeframe candles.
// Slope is expressed in basis points of price per candle.
func Compute(p Params, primary, higher []models.Candle, price float64) Snapshot {
	var s Snapshot
	closes := Closes(primary)
	s.EMA20, s.HasEMA20 = EMA(closes, p.EMAFast)
	s.EMA200, s.HasEMA200 = EMA(closes, p.EMASlow)
	s.RSI, s.HasRSI = RSI(closes, p.RSIPeriod)
	if slope, ok := Slope(closes, p.SlopePeriod); ok && price > 0 {
		s.SlopeBps = slope / price * 1e4
		s.HasSlope = true
	}
	s.Bands, s.HasBands = Bollinger(closes, p.BBPeriod, p.BBMult)
	s.ADX, s.HasADX = ADX(primary, p.ADXPeriod)
	s.ATR, _ = ATR(primary, p.ATRPeriod)
	s.VWAP, _ = VWAP(primary)

	if ema, ok := EMA(Closes(higher), p.EMASlow); ok {
		s.HTFEMA200 = ema
		s.HasHTF = true
		if price > ema {
			s.HTFTrend = 1
		} else if price < ema {
			s.HTFTrend = -1
		}
	}
	return s
}
