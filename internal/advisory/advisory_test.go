package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"papertrader/internal/logger"
	"papertrader/internal/models"
)

func TestHTTPProviderParsesAdvice(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("Expected bearer header, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Signature") == "" || r.Header.Get("X-Timestamp") == "" {
			t.Error("Expected signature headers")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"sentiment":"bullish","confidence":140,"reason":"breakout"}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{URL: srv.URL, APIKey: "key", Secret: "s", Timeout: time.Second})
	adv, err := p.Advise(context.Background(), Request{Symbol: "XAUUSD", Price: 2000})
	if err != nil {
		t.Fatalf("Advise failed: %v", err)
	}
	if adv.Sentiment != models.SentimentBullish || adv.Confidence != 100 || adv.Reason != "breakout" {
		t.Fatalf("Unexpected advisory: %+v", adv)
	}
	if got.Symbol != "XAUUSD" || got.Price != 2000 {
		t.Fatalf("Unexpected request body: %+v", got)
	}
}

func TestHTTPProviderRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPConfig{URL: srv.URL})
	if _, err := p.Advise(context.Background(), Request{Symbol: "XAUUSD"}); err == nil {
		t.Fatal("Expected error for 503")
	}
}

func testConfig() Config {
	return Config{MinInterval: time.Minute, Timeout: time.Second, MaxAge: 30 * time.Minute}
}

func collect() (chan Result, func(Result)) {
	ch := make(chan Result, 4)
	return ch, func(r Result) { ch <- r }
}

func TestCacheAppliesResult(t *testing.T) {
	p := ProviderFunc(func(ctx context.Context, req Request) (models.Advisory, error) {
		return models.Advisory{Sentiment: models.SentimentBearish, Confidence: 80}, nil
	})
	c := NewCache(p, testConfig(), logger.Discard())
	now := time.Now()
	if adv := c.Get("XAUUSD"); adv.Sentiment != models.SentimentNeutral || adv.Confidence != 0 {
		t.Fatalf("Expected neutral before first call, got %+v", adv)
	}

	ch, deliver := collect()
	if !c.Request(Request{Symbol: "XAUUSD"}, now, deliver) {
		t.Fatal("Expected request to start")
	}
	if c.Request(Request{Symbol: "XAUUSD"}, now, deliver) {
		t.Fatal("Expected second request to be refused while busy")
	}
	res := <-ch
	if !c.Apply(res) {
		t.Fatal("Expected result to be applied")
	}
	adv := c.Get("XAUUSD")
	if adv.Sentiment != models.SentimentBearish || adv.UpdatedAt.IsZero() {
		t.Fatalf("Unexpected cached advisory: %+v", adv)
	}
	if c.Request(Request{Symbol: "XAUUSD"}, now.Add(30*time.Second), deliver) {
		t.Fatal("Expected throttling inside min interval")
	}
	if !c.Request(Request{Symbol: "XAUUSD"}, now.Add(2*time.Minute), deliver) {
		t.Fatal("Expected request after min interval")
	}
	c.Apply(<-ch)
}

func TestCacheKeepsPreviousOnFailure(t *testing.T) {
	calls := 0
	p := ProviderFunc(func(ctx context.Context, req Request) (models.Advisory, error) {
		calls++
		switch calls {
		case 1:
			return models.Advisory{Sentiment: models.SentimentBullish, Confidence: 70}, nil
		case 2:
			return models.Advisory{}, errors.New("timeout")
		default:
			panic("boom")
		}
	})
	c := NewCache(p, testConfig(), logger.Discard())
	ch, deliver := collect()
	now := time.Now()

	c.Request(Request{Symbol: "BTCUSD"}, now, deliver)
	c.Apply(<-ch)
	c.Request(Request{Symbol: "BTCUSD"}, now.Add(2*time.Minute), deliver)
	res := <-ch
	if !res.Degraded() {
		t.Fatal("Expected degraded result")
	}
	c.Apply(res)
	if adv := c.Get("BTCUSD"); adv.Sentiment != models.SentimentBullish || adv.Confidence != 70 {
		t.Fatalf("Expected previous advisory kept, got %+v", adv)
	}
	if st := c.Status("BTCUSD"); st.Busy || st.LastError == "" {
		t.Fatalf("Unexpected status: %+v", st)
	}

	c.Request(Request{Symbol: "BTCUSD"}, now.Add(4*time.Minute), deliver)
	res = <-ch
	if !res.Degraded() {
		t.Fatal("Expected panic to be reported as degraded result")
	}
	c.Apply(res)
	if adv := c.Get("BTCUSD"); adv.Sentiment != models.SentimentBullish {
		t.Fatalf("Expected previous advisory kept after panic, got %+v", adv)
	}
}

func TestCacheDropsAbandonedResult(t *testing.T) {
	release := make(chan struct{})
	p := ProviderFunc(func(ctx context.Context, req Request) (models.Advisory, error) {
		if req.Price == 1 {
			<-release
			return models.Advisory{Sentiment: models.SentimentBearish, Confidence: 90}, nil
		}
		return models.Advisory{Sentiment: models.SentimentBullish, Confidence: 60}, nil
	})
	c := NewCache(p, Config{MinInterval: 0, Timeout: time.Second}, logger.Discard())
	ch, deliver := collect()
	now := time.Now()

	c.Request(Request{Symbol: "EURUSD", Price: 1}, now, deliver)
	if !c.Request(Request{Symbol: "EURUSD", Price: 2}, now.Add(3*time.Second), deliver) {
		t.Fatal("Expected stuck call to be abandoned")
	}
	fresh := <-ch
	close(release)
	stale := <-ch

	if !c.Apply(fresh) {
		t.Fatal("Expected fresh result to apply")
	}
	if c.Apply(stale) {
		t.Fatal("Expected abandoned result to be dropped")
	}
	if adv := c.Get("EURUSD"); adv.Sentiment != models.SentimentBullish {
		t.Fatalf("Expected newest advisory, got %+v", adv)
	}
}
