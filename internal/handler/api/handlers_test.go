package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"FinScan/internal/domain/models"
	"FinScan/internal/repository"
	"FinScan/internal/service/ratelimit"
	"FinScan/internal/usecase"
	"FinScan/pkg/cache"
	"FinScan/pkg/logger"
)

var apiOpen = time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type fixture struct {
	e       *echo.Echo
	h       *Handler
	signals *repository.MemorySignalStore
	outs    *repository.MemoryOutcomeStore
	candles *repository.MemoryCandleStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	outs := repository.NewMemoryOutcomeStore()
	sigs := repository.NewMemorySignalStore(outs)
	bars := repository.NewMemoryCandleStore()

	h := NewHandler(
		usecase.NewSignalsUseCase(sigs, outs),
		usecase.NewCandlesUseCase(bars),
		testLogger(t),
	)
	e := echo.New()
	h.RegisterRoutes(e)
	return &fixture{e: e, h: h, signals: sigs, outs: outs, candles: bars}
}

func (f *fixture) get(t *testing.T, target string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var envelope struct {
		Status int             `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	if envelope.Status != rec.Code {
		t.Fatalf("envelope status %d != http status %d", envelope.Status, rec.Code)
	}
	out := map[string]json.RawMessage{"data": envelope.Data}
	return rec, out
}

func (f *fixture) seedSignal(t *testing.T, symbol string, firedAt time.Time) models.Signal {
	t.Helper()
	fv := models.NewFeatureVector()
	fv.Values[models.FeatRelVol10] = 2.0
	stored, created, err := f.signals.Record(context.Background(), models.Signal{
		Symbol:          symbol,
		Timeframe:       "5m",
		FiredAt:         firedAt,
		DetectorID:      "breakout20",
		DetectorVersion: "1",
		Side:            models.SideLong,
		Score:           72.5,
		EntryPrice:      101.25,
		RelVolume:       2.0,
		SessionFlag:     1,
		Features:        fv,
	})
	if err != nil || !created {
		t.Fatalf("seed signal: created=%v err=%v", created, err)
	}
	return stored
}

func TestSignalsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedSignal(t, "AAPL", apiOpen)
	f.seedSignal(t, "AAPL", apiOpen.Add(5*time.Minute))
	f.seedSignal(t, "MSFT", apiOpen)

	rec, body := f.get(t, "/api/v1/signals?symbol=AAPL&timeframe=5m")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var view struct {
		Count   int `json:"count"`
		Signals []struct {
			Symbol  string    `json:"symbol"`
			FiredAt time.Time `json:"fired_at"`
			Side    string    `json:"side"`
		} `json:"signals"`
	}
	if err := json.Unmarshal(body["data"], &view); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if view.Count != 2 || len(view.Signals) != 2 {
		t.Fatalf("count = %d, rows = %d", view.Count, len(view.Signals))
	}
	if !view.Signals[0].FiredAt.After(view.Signals[1].FiredAt) {
		t.Fatal("signals not newest-first")
	}
	if view.Signals[0].Side != "long" {
		t.Fatalf("side = %s", view.Signals[0].Side)
	}
}

func TestSignalsEndpointValidatesTimeframe(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.get(t, "/api/v1/signals?timeframe=3m")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSignalsEndpointRejectsBadSince(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.get(t, "/api/v1/signals?since=yesterday")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestOutcomesEndpoint(t *testing.T) {
	f := newFixture(t)
	sig := f.seedSignal(t, "AAPL", apiOpen)
	err := f.outs.Put(context.Background(), models.Outcome{
		SignalID:     sig.ID,
		HorizonTF:    "5m",
		HorizonBars:  12,
		LabelVersion: 1,
		RetClose:     0.004,
		Targets:      []models.LevelHit{{Hit: true, BarIndex: 3}},
		Stop:         models.LevelHit{},
		ComputedAt:   apiOpen.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("put outcome: %v", err)
	}

	rec, body := f.get(t, "/api/v1/outcomes/"+sig.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var view struct {
		Signal struct {
			ID string `json:"id"`
		} `json:"signal"`
		Outcomes []struct {
			HorizonTF   string  `json:"horizon_tf"`
			HorizonBars int     `json:"horizon_bars"`
			RetClose    float64 `json:"ret_close"`
			Targets     []struct {
				Hit bool `json:"hit"`
			} `json:"targets"`
		} `json:"outcomes"`
	}
	if err := json.Unmarshal(body["data"], &view); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if view.Signal.ID != sig.ID {
		t.Fatalf("signal id = %s", view.Signal.ID)
	}
	if len(view.Outcomes) != 1 || view.Outcomes[0].HorizonBars != 12 {
		t.Fatalf("outcomes = %+v", view.Outcomes)
	}
	if !view.Outcomes[0].Targets[0].Hit {
		t.Fatal("target hit lost in mapping")
	}
}

func TestOutcomesEndpointNotFound(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.get(t, "/api/v1/outcomes/6b1e4a1e-0000-4000-8000-000000000000")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestOutcomesEndpointRejectsMalformedID(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.get(t, "/api/v1/outcomes/not-a-uuid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCandlesEndpoint(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		err := f.candles.PutBar(context.Background(), models.Candle{
			Symbol:    "AAPL",
			Timeframe: "1m",
			TS:        apiOpen.Add(time.Duration(i) * time.Minute),
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    1000,
		})
		if err != nil {
			t.Fatalf("put bar: %v", err)
		}
	}

	rec, body := f.get(t, "/api/v1/candles?symbol=AAPL&timeframe=1m&limit=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var view struct {
		Symbol  string `json:"symbol"`
		Count   int    `json:"count"`
		Candles []struct {
			TS    time.Time `json:"ts"`
			Close float64   `json:"close"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(body["data"], &view); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if view.Count != 3 {
		t.Fatalf("count = %d", view.Count)
	}
	if !view.Candles[0].TS.Equal(apiOpen.Add(time.Minute)) {
		t.Fatalf("window start = %s, want newest tail", view.Candles[0].TS)
	}
}

func TestCandlesEndpointRequiresSymbol(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.get(t, "/api/v1/candles")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	f := newFixture(t)
	f.h.SetRateLimiter(ratelimit.New(2, 0.001))

	var last int
	for i := 0; i < 3; i++ {
		rec, _ := f.get(t, "/api/v1/signals?symbol=AAPL")
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third call status = %d, want 429", last)
	}
}

func TestSignalsCacheServesIdenticalPayload(t *testing.T) {
	f := newFixture(t)
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	f.h.SetCache(mc)
	f.seedSignal(t, "AAPL", apiOpen)

	rec1, _ := f.get(t, "/api/v1/signals?symbol=AAPL")
	// A write after the first read must not show up within the TTL.
	f.seedSignal(t, "AAPL", apiOpen.Add(10*time.Minute))
	rec2, _ := f.get(t, "/api/v1/signals?symbol=AAPL")

	if rec1.Body.String() != rec2.Body.String() {
		t.Fatalf("cached response diverged:\n%s\n%s", rec1.Body.String(), rec2.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	f.h.SetHealthCheck(func(ctx context.Context) error { return fmt.Errorf("storage down") })
	rec = httptest.NewRecorder()
	f.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d", rec.Code)
	}
}
