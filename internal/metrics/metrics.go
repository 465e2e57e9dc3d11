package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_ticks_total",
			Help: "Ticks accepted by the engine",
		},
		[]string{"symbol"},
	)

	CandlesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_candles_closed_total",
			Help: "Closed candles by timeframe",
		},
		[]string{"symbol", "timeframe"},
	)

	TradesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_trades_opened_total",
			Help: "Trades opened by strategy",
		},
		[]string{"symbol", "strategy"},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_trades_closed_total",
			Help: "Trades closed by reason",
		},
		[]string{"symbol", "reason"},
	)

	Skips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_skips_total",
			Help: "Evaluations that produced no trade, by reason code",
		},
		[]string{"symbol", "code"},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "papertrader_equity",
			Help: "Account equity",
		},
	)

	Balance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "papertrader_balance",
			Help: "Account balance",
		},
	)

	FeedState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "papertrader_feed_state",
			Help: "Feed supervisor state, 1 for the current state",
		},
		[]string{"state"},
	)

	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_feed_reconnects_total",
			Help: "Feed reconnect attempts by source",
		},
		[]string{"source"},
	)

	AdvisoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_advisory_calls_total",
			Help: "Advisory requests by result",
		},
		[]string{"symbol", "result"},
	)

	PersistWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "papertrader_persist_writes_total",
			Help: "Snapshot writes by target and result",
		},
		[]string{"target", "result"},
	)

	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "papertrader_stream_clients",
			Help: "Connected state stream subscribers",
		},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, CandlesClosed, TradesOpened, TradesClosed, Skips)
	prometheus.MustRegister(Equity, Balance)
	prometheus.MustRegister(FeedState, FeedReconnects)
	prometheus.MustRegister(AdvisoryCalls, PersistWrites, StreamClients)
}

// SetFeedState flips the state gauges so exactly one reads 1.
func SetFeedState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		FeedState.WithLabelValues(s).Set(v)
	}
}
