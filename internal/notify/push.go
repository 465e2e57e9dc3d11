package notify

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"github.com/sirupsen/logrus"

	"papertrader/internal/logger"
	"papertrader/internal/models"
)

type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

type Sender interface {
	Send(ctx context.Context, token string, msg Message) error
}

// FCMSender delivers through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
}

func NewFCMSender(ctx context.Context, app *firebase.App) (*FCMSender, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("клиент FCM: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Send(ctx context.Context, token string, msg Message) error {
	_, err := s.client.Send(ctx, &messaging.Message{
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data:  msg.Data,
		Token: token,
	})
	return err
}

type job struct {
	tokens []string
	msg    Message
}

// Pusher queues notifications and delivers them from a single worker.
// Enqueueing never blocks: when the queue is full the message is dropped.
type Pusher struct {
	sender  Sender
	timeout time.Duration
	queue   chan job
	log     *logger.Logger
}

func NewPusher(sender Sender, queueSize int, timeout time.Duration, log *logger.Logger) *Pusher {
	if queueSize <= 0 {
		queueSize = 100
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pusher{
		sender:  sender,
		timeout: timeout,
		queue:   make(chan job, queueSize),
		log:     log,
	}
}

func (p *Pusher) logEntry() *logrus.Entry {
	return p.log.WithComponent("push")
}

// Notify returns false when the message was dropped.
func (p *Pusher) Notify(tokens []string, msg Message) bool {
	if len(tokens) == 0 {
		return true
	}
	select {
	case p.queue <- job{tokens: append([]string(nil), tokens...), msg: msg}:
		return true
	default:
		p.logEntry().WithField("title", msg.Title).Warn("Очередь уведомлений переполнена, сообщение отброшено.")
		return false
	}
}

// Run delivers queued messages until ctx is cancelled.
func (p *Pusher) Run(ctx context.Context) {
	p.logEntry().Info("Доставка уведомлений запущена.")
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			p.deliver(ctx, j)
		}
	}
}

func (p *Pusher) deliver(ctx context.Context, j job) {
	for _, token := range j.tokens {
		sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.sender.Send(sendCtx, token, j.msg)
		cancel()
		if err != nil {
			p.logEntry().WithError(err).Warn("Не удалось отправить уведомление.")
			continue
		}
		p.logEntry().WithField("title", j.msg.Title).Debug("Уведомление отправлено.")
	}
}

func TradeOpened(t models.Trade) Message {
	return Message{
		Title: fmt.Sprintf("%s %s открыта", t.Symbol, t.Type),
		Body:  fmt.Sprintf("%s: вход %s, объём %s, стоп %s", t.Strategy, models.FormatFloatPlain(t.EntryPrice), models.FormatFloatPlain(t.InitialSize), models.FormatFloatPlain(t.StopLoss)),
		Data: map[string]string{
			"event":    "trade_opened",
			"trade_id": t.ID,
			"symbol":   t.Symbol,
			"side":     string(t.Type),
			"strategy": t.Strategy,
		},
	}
}

func TradeClosed(t models.Trade) Message {
	return Message{
		Title: fmt.Sprintf("%s %s закрыта", t.Symbol, t.Type),
		Body:  fmt.Sprintf("%s, PnL %.2f", t.CloseReason, t.PnL),
		Data: map[string]string{
			"event":    "trade_closed",
			"trade_id": t.ID,
			"symbol":   t.Symbol,
			"reason":   string(t.CloseReason),
			"pnl":      fmt.Sprintf("%.2f", t.PnL),
		},
	}
}
