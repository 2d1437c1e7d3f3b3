package provider

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	xhttp "FinScan/pkg/http"
	applogger "FinScan/pkg/logger"
)

// HTTPProvider implements BarProvider against the market-data HTTP API.
// Transient failures are retried with exponential backoff and jitter; the
// final failure is wrapped as a ProviderError for the caller to isolate.
type HTTPProvider struct {
	baseURL     string
	apiKey      string
	client      *xhttp.Client
	metrics     domrepo.Metrics
	l           *applogger.Logger
	maxAttempts int
	backoff     time.Duration
}

var _ domrepo.BarProvider = (*HTTPProvider)(nil)

type HTTPOption func(*HTTPProvider)

// WithMaxAttempts bounds the retry loop, first try included.
func WithMaxAttempts(n int) HTTPOption {
	return func(p *HTTPProvider) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the base retry delay.
func WithBackoff(d time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.backoff = d
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.client = xhttp.NewClient(xhttp.WithTimeout(d))
		}
	}
}

func NewHTTPProvider(baseURL, apiKey string, metrics domrepo.Metrics, l *applogger.Logger, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		metrics:     metrics,
		l:           l,
		maxAttempts: 4,
		backoff:     250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type barRow struct {
	T  int64   `json:"t"` // bucket start, unix seconds
	O  float64 `json:"o"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	C  float64 `json:"c"`
	V  float64 `json:"v"`
	VW float64 `json:"vw"`
	N  int64   `json:"n"`
}

type barsResponse struct {
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	Results   []barRow `json:"results"`
}

// FetchBars pulls [from, to) of one stream, ascending. A gap in the
// response stays a gap; bars are never fabricated.
func (p *HTTPProvider) FetchBars(ctx context.Context, symbol string, tf domrepo.Timeframe, from, to time.Time) ([]models.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if !domrepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("invalid timeframe: %s", tf)
	}

	opts := &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    p.baseURL + "/v1/bars",
		QueryParams: map[string][]string{
			"symbol":    {symbol},
			"timeframe": {string(tf)},
			"from":      {from.UTC().Format(time.RFC3339)},
			"to":        {to.UTC().Format(time.RFC3339)},
			"apikey":    {p.apiKey},
		},
	}

	var resp barsResponse
	if err := p.sendWithRetry(ctx, "fetch_bars", opts, &resp); err != nil {
		return nil, &models.ProviderError{Op: "fetch_bars", Symbol: symbol, TF: string(tf), Err: err}
	}

	bars := make([]models.Candle, 0, len(resp.Results))
	for _, r := range resp.Results {
		ts := tf.TruncateTo(time.Unix(r.T, 0))
		bars = append(bars, models.Candle{
			Symbol:     symbol,
			Timeframe:  string(tf),
			TS:         ts,
			Open:       r.O,
			High:       r.H,
			Low:        r.L,
			Close:      r.C,
			Volume:     r.V,
			VWAP:       r.VW,
			TradeCount: r.N,
			Source:     "massive",
		})
	}
	return bars, nil
}

type quoteResponse struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// LatestQuote returns the current top of book. Best effort: a zero quote
// means none was available and detection proceeds without it.
func (p *HTTPProvider) LatestQuote(ctx context.Context, symbol string) (models.Quote, error) {
	opts := &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    p.baseURL + "/v1/quote",
		QueryParams: map[string][]string{
			"symbol": {symbol},
			"apikey": {p.apiKey},
		},
	}
	var resp quoteResponse
	if err := p.client.SendAndParse(ctx, opts, &resp); err != nil {
		return models.Quote{}, &models.ProviderError{Op: "latest_quote", Symbol: symbol, Err: err}
	}
	return models.Quote{Bid: resp.Bid, Ask: resp.Ask}, nil
}

func (p *HTTPProvider) sendWithRetry(ctx context.Context, op string, opts *xhttp.RequestOptions, dest interface{}) error {
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err = p.client.SendAndParse(ctx, opts, dest)
		if err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		if attempt == p.maxAttempts {
			break
		}
		p.metrics.RecordProviderRetry(op)
		delay := p.backoff<<(attempt-1) + time.Duration(rand.Int63n(int64(p.backoff)))
		p.l.Warn("provider retry",
			applogger.String("op", op),
			applogger.Int("attempt", attempt),
			applogger.Duration("delay_ms", delay),
			applogger.Error(err),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
