package position

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"papertrader/internal/models"
)

var (
	ErrPositionExists = errors.New("по инструменту уже есть открытая позиция")
	ErrInvalidLadder  = errors.New("некорректная лестница тейк-профитов")
	ErrInvalidStop    = errors.New("некорректный стоп-лосс")
	ErrInvalidSize    = errors.New("некорректный размер позиции")
	ErrInvalidIntent  = errors.New("некорректный сигнал")
	ErrTradeClosed    = errors.New("сделка уже закрыта")
)

const sizeEpsilon = 1e-9

type Config struct {
	StopLossPct        float64   `mapstructure:"stop_loss_pct"`
	LadderDistances    []float64 `mapstructure:"ladder_distances"`
	LadderPercents     []float64 `mapstructure:"ladder_percents"`
	TrailActivation    float64   `mapstructure:"trail_activation"`
	TrailDistance      float64   `mapstructure:"trail_distance"`
	GuardianConfidence float64   `mapstructure:"guardian_confidence"`
}

func DefaultConfig() Config {
	return Config{
		StopLossPct:        0.0015,
		LadderDistances:    []float64{0.003, 0.005, 0.015},
		LadderPercents:     []float64{0.4, 0.4, 0.2},
		TrailActivation:    0.005,
		TrailDistance:      0.0025,
		GuardianConfidence: 85,
	}
}

type Manager struct {
	cfg   Config
	newID func() string
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, newID: func() string { return uuid.New().String() }}
}

func (m *Manager) Config() Config {
	return m.cfg
}

// Open validates the intent against the instrument and the existing trades and builds the trade.
// Nothing is returned on error.
func (m *Manager) Open(intent models.TradeIntent, inst models.Instrument, existing []models.Trade, now time.Time) (models.Trade, error) {
	for i := range existing {
		if existing[i].Symbol == inst.Symbol && existing[i].IsOpen() {
			return models.Trade{}, fmt.Errorf("%s: %w", inst.Symbol, ErrPositionExists)
		}
	}
	if intent.Side != models.SideBuy && intent.Side != models.SideSell {
		return models.Trade{}, fmt.Errorf("направление %q: %w", intent.Side, ErrInvalidIntent)
	}
	entry := inst.RoundPrice(intent.EntryPrice)
	if entry <= 0 {
		return models.Trade{}, fmt.Errorf("цена входа %v: %w", intent.EntryPrice, ErrInvalidIntent)
	}

	size := intent.Size
	if size <= 0 {
		size = inst.DefaultLot
	}
	size = inst.RoundLot(size)
	if err := inst.ValidateLot(size); err != nil {
		return models.Trade{}, fmt.Errorf("%v: %w", err, ErrInvalidSize)
	}

	stop := intent.StopLoss
	if stop <= 0 {
		stop = m.defaultStop(intent.Side, entry)
	}
	stop = inst.RoundPrice(stop)
	if intent.Side == models.SideBuy && stop >= entry || intent.Side == models.SideSell && stop <= entry {
		return models.Trade{}, fmt.Errorf("стоп %s при входе %s (%s): %w",
			models.FormatFloatPlain(stop), models.FormatFloatPlain(entry), intent.Side, ErrInvalidStop)
	}

	levels := intent.TPLevels
	if len(levels) == 0 {
		levels = m.DefaultLadder(intent.Side, entry, inst)
	}
	levels, err := normalizeLadder(levels, intent.Side, entry)
	if err != nil {
		return models.Trade{}, err
	}

	return models.Trade{
		ID:          m.newID(),
		Symbol:      inst.Symbol,
		Type:        intent.Side,
		Strategy:    intent.Strategy,
		EntryPrice:  entry,
		InitialSize: size,
		CurrentSize: size,
		StopLoss:    stop,
		TPLevels:    levels,
		OpenTime:    now.UnixMilli(),
		Status:      models.StatusOpen,
		EntryReason: intent.Reason,
		Confidence:  intent.Confidence,
	}, nil
}

func (m *Manager) defaultStop(side models.Side, entry float64) float64 {
	if side == models.SideBuy {
		return entry * (1 - m.cfg.StopLossPct)
	}
	return entry * (1 + m.cfg.StopLossPct)
}

// DefaultLadder builds the configured ladder at increasing distance from entry.
func (m *Manager) DefaultLadder(side models.Side, entry float64, inst models.Instrument) []models.TakeProfitLevel {
	levels := make([]models.TakeProfitLevel, 0, len(m.cfg.LadderDistances))
	for i, dist := range m.cfg.LadderDistances {
		if i >= len(m.cfg.LadderPercents) {
			break
		}
		price := entry * (1 + dist)
		if side == models.SideSell {
			price = entry * (1 - dist)
		}
		levels = append(levels, models.TakeProfitLevel{
			ID:         i + 1,
			Price:      inst.RoundPrice(price),
			Percentage: m.cfg.LadderPercents[i],
		})
	}
	return levels
}

func normalizeLadder(in []models.TakeProfitLevel, side models.Side, entry float64) ([]models.TakeProfitLevel, error) {
	if err := CheckShares(in); err != nil {
		return nil, err
	}
	out := make([]models.TakeProfitLevel, len(in))
	for i, lvl := range in {
		if side == models.SideBuy && lvl.Price <= entry || side == models.SideSell && lvl.Price >= entry {
			return nil, fmt.Errorf("уровень %d: цена %s не в прибыли: %w", i+1, models.FormatFloatPlain(lvl.Price), ErrInvalidLadder)
		}
		if i > 0 {
			prev := in[i-1].Price
			if side == models.SideBuy && lvl.Price <= prev || side == models.SideSell && lvl.Price >= prev {
				return nil, fmt.Errorf("уровень %d: цены должны удаляться от входа: %w", i+1, ErrInvalidLadder)
			}
		}
		out[i] = models.TakeProfitLevel{ID: i + 1, Price: lvl.Price, Percentage: lvl.Percentage}
	}
	return out, nil
}

// CheckShares verifies that every level closes a share in (0, 1] and that the shares add up to 1.
func CheckShares(levels []models.TakeProfitLevel) error {
	if len(levels) == 0 {
		return fmt.Errorf("пустая лестница: %w", ErrInvalidLadder)
	}
	sum := decimal.Zero
	for i, lvl := range levels {
		if lvl.Percentage <= 0 || lvl.Percentage > 1 {
			return fmt.Errorf("уровень %d: доля %v: %w", i+1, lvl.Percentage, ErrInvalidLadder)
		}
		sum = sum.Add(decimal.NewFromFloat(lvl.Percentage))
	}
	if math.Abs(sum.InexactFloat64()-1) > 1e-9 {
		return fmt.Errorf("сумма долей %s != 1: %w", sum.String(), ErrInvalidLadder)
	}
	return nil
}

// RealizedPnL is (exit-entry)*size for buys and (entry-exit)*size for sells.
func RealizedPnL(side models.Side, entry, exit, size float64) decimal.Decimal {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if side == models.SideSell {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(size))
}

// ExitPrice is the side of the book an exit fills against: bid for buys, ask for sells.
func ExitPrice(side models.Side, bid, ask float64) float64 {
	if side == models.SideBuy {
		return bid
	}
	return ask
}

// Floating is the unrealized PnL of the remaining size.
func Floating(t models.Trade, bid, ask float64) float64 {
	if !t.IsOpen() {
		return 0
	}
	price := ExitPrice(t.Type, bid, ask)
	if price <= 0 {
		return 0
	}
	return RealizedPnL(t.Type, t.EntryPrice, price, t.CurrentSize).Round(8).InexactFloat64()
}

func addPnL(acc float64, pnl decimal.Decimal) float64 {
	return decimal.NewFromFloat(acc).Add(pnl).Round(8).InexactFloat64()
}

func subSize(current, closed float64) float64 {
	out := decimal.NewFromFloat(current).Sub(decimal.NewFromFloat(closed)).Round(10).InexactFloat64()
	if math.Abs(out) < sizeEpsilon {
		return 0
	}
	return out
}

func levelSize(initial, pct float64) float64 {
	return decimal.NewFromFloat(initial).Mul(decimal.NewFromFloat(pct)).Round(10).InexactFloat64()
}

func appendOutcome(t *models.Trade, note string) {
	if t.OutcomeReason == "" {
		t.OutcomeReason = note
		return
	}
	t.OutcomeReason = strings.Join([]string{t.OutcomeReason, note}, "; ")
}
