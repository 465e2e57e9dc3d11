package feed

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"papertrader/internal/logger"
)

type WSConfig struct {
	Name         string
	URL          string
	APIKey       string
	Secret       string
	TopicPrefix  string
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// WSSource reads ticker pushes of the form {"topic":"tickers.SYMBOL","ts":...,"data":{...}}.
type WSSource struct {
	cfg WSConfig
	log *logger.Logger
}

type wsMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type wsRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type wsTicker struct {
	Symbol    string `json:"symbol"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	LastPrice string `json:"lastPrice"`
	TS        int64  `json:"ts"`
}

func NewWSSource(cfg WSConfig, log *logger.Logger) *WSSource {
	if cfg.Name == "" {
		cfg.Name = "ws"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "tickers."
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &WSSource{cfg: cfg, log: log}
}

func (w *WSSource) Name() string {
	return w.cfg.Name
}

func (w *WSSource) logEntry() *logrus.Entry {
	return w.log.WithComponent("feed_ws").WithField("source", w.cfg.Name)
}

func (w *WSSource) Stream(ctx context.Context, symbols []string, emit func(RawTick)) error {
	w.logEntry().WithField("url", w.cfg.URL).Info("Подключение к WS.")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("не удалось подключиться к WS: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(2 << 20)

	if w.cfg.APIKey != "" && w.cfg.Secret != "" {
		if err := w.authenticate(conn); err != nil {
			return err
		}
	}

	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		topics = append(topics, w.cfg.TopicPrefix+s)
	}
	if err := conn.WriteJSON(wsRequest{Op: "subscribe", Args: topics}); err != nil {
		return fmt.Errorf("не удалось подписаться на WS: %w", err)
	}
	w.logEntry().WithField("topics", topics).Info("WS соединение установлено.")

	done := make(chan struct{})
	defer close(done)
	go w.keepAlive(ctx, conn, done)

	for {
		conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ошибка чтения WS: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.logEntry().WithError(err).Warn("Не удалось разобрать WS сообщение.")
			continue
		}
		if !strings.HasPrefix(msg.Topic, w.cfg.TopicPrefix) {
			continue
		}
		for _, t := range w.parseTickers(msg) {
			emit(t)
		}
	}
}

// keepAlive pings until the stream ends and closes the connection on cancellation so the read unblocks.
func (w *WSSource) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteJSON(wsRequest{Op: "ping"}); err != nil {
				w.logEntry().WithError(err).Debug("Не удалось отправить ping.")
			}
		}
	}
}

func (w *WSSource) authenticate(conn *websocket.Conn) error {
	expires := time.Now().UnixMilli() + 5_000
	payload := fmt.Sprintf("GET/realtime%d", expires)

	msg := wsRequest{
		Op:   "auth",
		Args: []string{w.cfg.APIKey, strconv.FormatInt(expires, 10), sign(w.cfg.Secret, payload)},
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("не удалось авторизоваться: %w", err)
	}
	return nil
}

func (w *WSSource) parseTickers(msg wsMessage) []RawTick {
	var data []wsTicker
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		var single wsTicker
		if err := json.Unmarshal(msg.Data, &single); err != nil {
			w.logEntry().WithError(err).Warn("Не удалось разобрать ticker.")
			return nil
		}
		data = append(data, single)
	}

	out := make([]RawTick, 0, len(data))
	for _, item := range data {
		symbol := item.Symbol
		if symbol == "" {
			symbol = strings.TrimPrefix(msg.Topic, w.cfg.TopicPrefix)
		}
		bid, _ := strconv.ParseFloat(item.Bid1Price, 64)
		ask, _ := strconv.ParseFloat(item.Ask1Price, 64)
		last, _ := strconv.ParseFloat(item.LastPrice, 64)

		ts := item.TS
		if ts == 0 {
			ts = msg.TS
		}
		var at time.Time
		if ts > 0 {
			at = time.UnixMilli(ts)
		}
		out = append(out, RawTick{Symbol: symbol, Bid: bid, Ask: ask, Price: last, Time: at})
	}
	return out
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
