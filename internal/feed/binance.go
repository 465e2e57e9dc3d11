package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/sirupsen/logrus"

	"papertrader/internal/logger"
	"papertrader/internal/models"
)

// BinanceSource streams best bid/ask per symbol from the public book ticker stream.
type BinanceSource struct {
	log *logger.Logger
}

func NewBinanceSource(log *logger.Logger) *BinanceSource {
	return &BinanceSource{log: log}
}

func (b *BinanceSource) Name() string {
	return "binance"
}

func (b *BinanceSource) logEntry() *logrus.Entry {
	return b.log.WithComponent("feed_binance")
}

func (b *BinanceSource) Stream(ctx context.Context, symbols []string, emit func(RawTick)) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(symbols))
	var stops []chan struct{}
	var dones []chan struct{}
	defer func() {
		for _, stop := range stops {
			close(stop)
		}
	}()

	handler := func(event *binance.WsBookTickerEvent) {
		bid, _ := strconv.ParseFloat(event.BestBidPrice, 64)
		ask, _ := strconv.ParseFloat(event.BestAskPrice, 64)
		select {
		case <-streamCtx.Done():
			return
		default:
		}
		emit(RawTick{Symbol: event.Symbol, Bid: bid, Ask: ask, Time: time.Now()})
	}
	errHandler := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	for _, symbol := range symbols {
		doneC, stopC, err := binance.WsBookTickerServe(strings.ToUpper(symbol), handler, errHandler)
		if err != nil {
			return fmt.Errorf("не удалось подписаться на %s: %w", symbol, err)
		}
		stops = append(stops, stopC)
		dones = append(dones, doneC)
	}
	b.logEntry().WithField("symbols", symbols).Info("Подписка на book ticker установлена.")

	closed := make(chan struct{}, len(dones))
	for _, done := range dones {
		go func(done chan struct{}) {
			select {
			case <-done:
				closed <- struct{}{}
			case <-streamCtx.Done():
			}
		}(done)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("ошибка потока binance: %w", err)
	case <-closed:
		return ErrStreamClosed
	}
}

// Seeder loads closed klines to warm the candle rings before live ticks arrive.
type Seeder struct {
	client *binance.Client
}

func NewSeeder(apiKey, secret string) *Seeder {
	return &Seeder{client: binance.NewClient(apiKey, secret)}
}

// Klines returns up to limit closed candles, oldest first. The still-forming kline is dropped.
func (s *Seeder) Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := s.client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval(interval).
		Limit(limit + 1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить историю %s %s: %w", symbol, interval, err)
	}
	now := time.Now().UnixMilli()
	out := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime >= now {
			continue
		}
		out = append(out, klineCandle(k))
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func klineCandle(k *binance.Kline) models.Candle {
	open, _ := strconv.ParseFloat(k.Open, 64)
	high, _ := strconv.ParseFloat(k.High, 64)
	low, _ := strconv.ParseFloat(k.Low, 64)
	cls, _ := strconv.ParseFloat(k.Close, 64)
	vol, _ := strconv.ParseFloat(k.Volume, 64)
	return models.Candle{Open: open, High: high, Low: low, Close: cls, Volume: vol, Time: k.OpenTime, IsClosed: true}
}
