package engine

import (
	"time"

	"papertrader/internal/advisory"
	"papertrader/internal/guard"
	"papertrader/internal/indicators"
	"papertrader/internal/models"
	"papertrader/internal/structure"
)

type AssetState struct {
	Instrument     models.Instrument   `json:"instrument"`
	Bid            float64             `json:"bid"`
	Ask            float64             `json:"ask"`
	Mid            float64             `json:"mid"`
	LastTick       time.Time           `json:"last_tick"`
	BotActive      bool                `json:"bot_active"`
	Strategies     []string            `json:"strategies"`
	Candles        int                 `json:"candles"`
	Indicators     indicators.Snapshot `json:"indicators"`
	Structure      structure.Summary   `json:"structure"`
	Guard          guard.State         `json:"guard"`
	Advisory       models.Advisory     `json:"advisory"`
	AdvisoryStatus advisory.Status     `json:"advisory_status"`
	Skip           models.SkipReason   `json:"skip"`
}

func newAssetState(inst models.Instrument) *AssetState {
	return &AssetState{
		Instrument: inst,
		BotActive:  inst.Active,
		Strategies: append([]string(nil), inst.Strategies...),
		Advisory:   models.Advisory{Sentiment: models.SentimentNeutral},
	}
}

func (a *AssetState) enabled(strategy string) bool {
	for _, id := range a.Strategies {
		if id == strategy {
			return true
		}
	}
	return false
}

func (a *AssetState) config() models.AssetConfig {
	return models.AssetConfig{BotActive: a.BotActive, Strategies: append([]string(nil), a.Strategies...)}
}

func (a *AssetState) clone() AssetState {
	out := *a
	out.Strategies = append([]string(nil), a.Strategies...)
	out.Instrument.Strategies = append([]string(nil), a.Instrument.Strategies...)
	out.Instrument.HardCloseStrategies = append([]string(nil), a.Instrument.HardCloseStrategies...)
	return out
}

// View is the published, read-only state served to the API and the stream.
type View struct {
	Account      models.Account                `json:"account"`
	Trades       []models.Trade                `json:"trades"`
	Assets       map[string]AssetState         `json:"assets"`
	AssetsConfig map[string]models.AssetConfig `json:"assets_config"`
	UpdatedAt    time.Time                     `json:"updated_at"`
}

// publish replaces the published view with a deep copy of the loop-owned state.
func (e *Engine) publish(now time.Time) {
	v := &View{
		Account:      e.account,
		Trades:       models.CloneTrades(e.trades),
		Assets:       make(map[string]AssetState, len(e.assets)),
		AssetsConfig: make(map[string]models.AssetConfig, len(e.assets)),
		UpdatedAt:    now,
	}
	if v.Trades == nil {
		v.Trades = []models.Trade{}
	}
	for symbol, a := range e.assets {
		v.Assets[symbol] = a.clone()
		v.AssetsConfig[symbol] = a.config()
	}
	e.published.Store(v)
}

func (e *Engine) snapshotForPersist(now time.Time) models.PersistedSnapshot {
	snap := models.PersistedSnapshot{
		Version:           models.SnapshotVersion,
		SavedAt:           now.UnixMilli(),
		Account:           e.account,
		Trades:            models.CloneTrades(e.trades),
		PushSubscriptions: append([]string(nil), e.pushTokens...),
		AssetsConfig:      make(map[string]models.AssetConfig, len(e.assets)),
	}
	for symbol, a := range e.assets {
		snap.AssetsConfig[symbol] = a.config()
	}
	return snap
}

func (e *Engine) hasOpen(symbol string) bool {
	for i := range e.trades {
		if e.trades[i].Symbol == symbol && e.trades[i].IsOpen() {
			return true
		}
	}
	return false
}
