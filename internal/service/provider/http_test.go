package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	"FinScan/pkg/logger"
	"FinScan/pkg/metrics"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

var fetchFrom = time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC)

func barsPayload(n int) string {
	rows := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			rows += ","
		}
		ts := fetchFrom.Add(time.Duration(i) * time.Minute).Unix()
		rows += fmt.Sprintf(`{"t":%d,"o":100,"h":101,"l":99,"c":100.5,"v":1000,"vw":100.2,"n":50}`, ts)
	}
	return fmt.Sprintf(`{"symbol":"AAPL","timeframe":"1m","results":[%s]}`, rows)
}

func TestFetchBarsMapsResponse(t *testing.T) {
	var gotSymbol, gotTF string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSymbol = r.URL.Query().Get("symbol")
		gotTF = r.URL.Query().Get("timeframe")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, barsPayload(3))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key", metrics.Nop{}, testLogger(t))
	bars, err := p.FetchBars(context.Background(), "AAPL", domrepo.TF1m, fetchFrom, fetchFrom.Add(time.Hour))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotSymbol != "AAPL" || gotTF != "1m" {
		t.Fatalf("query params = %s/%s", gotSymbol, gotTF)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}
	first := bars[0]
	if first.Symbol != "AAPL" || first.Timeframe != "1m" || !first.TS.Equal(fetchFrom) {
		t.Fatalf("first bar identity = %s/%s/%s", first.Symbol, first.Timeframe, first.TS)
	}
	if first.Close != 100.5 || first.VWAP != 100.2 || first.TradeCount != 50 {
		t.Fatalf("first bar fields = %+v", first)
	}
	if first.Source != "massive" {
		t.Fatalf("source = %s", first.Source)
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].TS.After(bars[i-1].TS) {
			t.Fatalf("bars not ascending at %d", i)
		}
	}
}

func TestFetchBarsRetriesTransientFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, barsPayload(1))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key", metrics.Nop{}, testLogger(t),
		WithMaxAttempts(4), WithBackoff(time.Millisecond))
	bars, err := p.FetchBars(context.Background(), "AAPL", domrepo.TF1m, fetchFrom, fetchFrom.Add(time.Hour))
	if err != nil {
		t.Fatalf("fetch after retries: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if len(bars) != 1 {
		t.Fatalf("bars = %d, want 1", len(bars))
	}
}

func TestFetchBarsExhaustsRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key", metrics.Nop{}, testLogger(t),
		WithMaxAttempts(2), WithBackoff(time.Millisecond))
	_, err := p.FetchBars(context.Background(), "AAPL", domrepo.TF1m, fetchFrom, fetchFrom.Add(time.Hour))
	if err == nil {
		t.Fatal("exhausted retries should error")
	}
	var perr *models.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %T, want ProviderError", err)
	}
	if perr.Op != "fetch_bars" || perr.Symbol != "AAPL" {
		t.Fatalf("provider error = %+v", perr)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestFetchBarsDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "bad-key", metrics.Nop{}, testLogger(t),
		WithMaxAttempts(4), WithBackoff(time.Millisecond))
	_, err := p.FetchBars(context.Background(), "AAPL", domrepo.TF1m, fetchFrom, fetchFrom.Add(time.Hour))
	if err == nil {
		t.Fatal("403 should error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (client errors are final)", calls)
	}
}

func TestFetchBarsValidatesParams(t *testing.T) {
	p := NewHTTPProvider("http://unused", "key", metrics.Nop{}, testLogger(t))
	if _, err := p.FetchBars(context.Background(), "", domrepo.TF1m, fetchFrom, fetchFrom); err == nil {
		t.Fatal("empty symbol should error")
	}
	if _, err := p.FetchBars(context.Background(), "AAPL", "3m", fetchFrom, fetchFrom); err == nil {
		t.Fatal("invalid timeframe should error")
	}
}

func TestLatestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"symbol":"AAPL","bid":100.9,"ask":101.1}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "key", metrics.Nop{}, testLogger(t))
	q, err := p.LatestQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Bid != 100.9 || q.Ask != 101.1 {
		t.Fatalf("quote = %+v", q)
	}
	if got := q.SpreadBps(); got <= 0 {
		t.Fatalf("spread bps = %v, want > 0", got)
	}
}
