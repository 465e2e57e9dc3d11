package advisory

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"papertrader/internal/indicators"
	"papertrader/internal/models"
	"papertrader/internal/structure"
)

// Request is the asset view sent to the advisory service.
type Request struct {
	Symbol     string              `json:"symbol"`
	Price      float64             `json:"price"`
	Indicators indicators.Snapshot `json:"indicators"`
	Structure  structure.Summary   `json:"structure"`
	Candles    []models.Candle     `json:"candles,omitempty"`
	Time       time.Time           `json:"time"`
}

type Provider interface {
	Advise(ctx context.Context, req Request) (models.Advisory, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (models.Advisory, error)

func (f ProviderFunc) Advise(ctx context.Context, req Request) (models.Advisory, error) {
	return f(ctx, req)
}

type HTTPConfig struct {
	URL     string
	APIKey  string
	Secret  string
	Timeout time.Duration
}

// HTTPProvider posts the request as JSON and expects {sentiment, confidence, reason}.
type HTTPProvider struct {
	url        string
	apiKey     string
	secret     string
	httpClient *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPProvider{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type adviceResponse struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (p *HTTPProvider) Advise(ctx context.Context, req Request) (models.Advisory, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return models.Advisory{}, fmt.Errorf("не удалось подготовить тело запроса: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return models.Advisory{}, fmt.Errorf("не удалось создать запрос: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if p.secret != "" {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		httpReq.Header.Set("X-Timestamp", ts)
		httpReq.Header.Set("X-Signature", sign(p.secret, ts+string(payload)))
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return models.Advisory{}, fmt.Errorf("ошибка запроса: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Advisory{}, fmt.Errorf("не удалось прочитать ответ: %w", err)
	}
	if resp.StatusCode >= 400 {
		return models.Advisory{}, fmt.Errorf("неуспешный статус: %s", resp.Status)
	}
	var out adviceResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return models.Advisory{}, fmt.Errorf("не удалось разобрать ответ: %w", err)
	}

	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return models.Advisory{
		Sentiment:  models.ParseSentiment(out.Sentiment),
		Confidence: confidence,
		Reason:     out.Reason,
	}, nil
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
