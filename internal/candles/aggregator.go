package candles

import (
	"time"

	"papertrader/internal/models"
)

const DefaultRingSize = 200

type Timeframe struct {
	Name     string
	Duration time.Duration
}

var (
	M5  = Timeframe{Name: "5m", Duration: 5 * time.Minute}
	M15 = Timeframe{Name: "15m", Duration: 15 * time.Minute}
)

// Closed is emitted when a period elapses.
type Closed struct {
	Symbol    string
	Timeframe string
	Candle    models.Candle
}

type seriesKey struct {
	symbol string
	tf     string
}

// Aggregator folds ticks into OHLC candles. It is not safe for concurrent use;
// the engine loop owns it.
type Aggregator struct {
	size       int
	timeframes []Timeframe
	series     map[seriesKey][]models.Candle
}

func New(size int, timeframes ...Timeframe) *Aggregator {
	if size <= 0 {
		size = DefaultRingSize
	}
	if len(timeframes) == 0 {
		timeframes = []Timeframe{M5, M15}
	}
	return &Aggregator{
		size:       size,
		timeframes: timeframes,
		series:     make(map[seriesKey][]models.Candle),
	}
}

func (a *Aggregator) Timeframes() []Timeframe {
	return a.timeframes
}

// Add folds one price observation into every timeframe and returns the candles it closed.
func (a *Aggregator) Add(symbol string, price float64, at time.Time) []Closed {
	if price <= 0 {
		return nil
	}
	var closed []Closed
	ts := at.UnixMilli()
	for _, tf := range a.timeframes {
		key := seriesKey{symbol: symbol, tf: tf.Name}
		ring := a.series[key]
		n := len(ring)
		if n == 0 || ring[n-1].IsClosed {
			a.series[key] = a.push(ring, open(price, ts))
			continue
		}
		cur := &ring[n-1]
		if ts-cur.Time < tf.Duration.Milliseconds() {
			if price > cur.High {
				cur.High = price
			}
			if price < cur.Low {
				cur.Low = price
			}
			cur.Close = price
			cur.Volume++
			continue
		}
		cur.IsClosed = true
		closed = append(closed, Closed{Symbol: symbol, Timeframe: tf.Name, Candle: *cur})
		a.series[key] = a.push(ring, open(price, ts))
	}
	return closed
}

// Seed loads historical closed candles ahead of live ticks. Existing candles are replaced.
func (a *Aggregator) Seed(symbol, timeframe string, history []models.Candle) {
	ring := make([]models.Candle, 0, len(history))
	for _, c := range history {
		c.IsClosed = true
		ring = a.push(ring, c)
	}
	a.series[seriesKey{symbol: symbol, tf: timeframe}] = ring
}

// Closed returns a copy of the closed candles, oldest first.
func (a *Aggregator) Closed(symbol, timeframe string) []models.Candle {
	ring := a.series[seriesKey{symbol: symbol, tf: timeframe}]
	out := make([]models.Candle, 0, len(ring))
	for _, c := range ring {
		if c.IsClosed {
			out = append(out, c)
		}
	}
	return out
}

func (a *Aggregator) Current(symbol, timeframe string) (models.Candle, bool) {
	ring := a.series[seriesKey{symbol: symbol, tf: timeframe}]
	if len(ring) == 0 || ring[len(ring)-1].IsClosed {
		return models.Candle{}, false
	}
	return ring[len(ring)-1], true
}

func (a *Aggregator) Len(symbol, timeframe string) int {
	return len(a.series[seriesKey{symbol: symbol, tf: timeframe}])
}

// push appends c and trims the ring to size closed candles plus the open one, if any.
func (a *Aggregator) push(ring []models.Candle, c models.Candle) []models.Candle {
	ring = append(ring, c)
	limit := a.size
	if !c.IsClosed {
		limit++
	}
	if over := len(ring) - limit; over > 0 {
		ring = append(ring[:0:0], ring[over:]...)
	}
	return ring
}

func open(price float64, ts int64) models.Candle {
	return models.Candle{Open: price, High: price, Low: price, Close: price, Volume: 1, Time: ts}
}
