package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/service"
	xhttp "FinScan/pkg/http"
	applogger "FinScan/pkg/logger"
)

// HTTPScorer calls an external model-serving endpoint to score feature
// vectors. The artifact behind the endpoint is opaque; only its version
// string flows back into signals.
type HTTPScorer struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
	l        *applogger.Logger
}

var _ service.Scorer = (*HTTPScorer)(nil)

// ScorerOption customizes the HTTP scorer.
type ScorerOption func(*HTTPScorer)

// WithAttempts sets how many times a score request is tried before the
// error surfaces. Values below 1 are ignored.
func WithAttempts(n int) ScorerOption {
	return func(s *HTTPScorer) {
		if n >= 1 {
			s.attempts = n
		}
	}
}

// WithTimeout replaces the request timeout of the underlying client.
func WithTimeout(d time.Duration) ScorerOption {
	return func(s *HTTPScorer) {
		if d > 0 {
			s.client = xhttp.NewClient(xhttp.WithTimeout(d))
		}
	}
}

// NewHTTPScorer builds a scorer against the given base URL.
func NewHTTPScorer(baseURL string, l *applogger.Logger, opts ...ScorerOption) *HTTPScorer {
	s := &HTTPScorer{
		baseURL:  baseURL,
		client:   xhttp.NewClient(xhttp.WithTimeout(3 * time.Second)),
		attempts: 2,
		l:        l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scoreRequest struct {
	Symbol        string             `json:"symbol"`
	SchemaVersion string             `json:"schema_version"`
	Features      map[string]float64 `json:"features"`
}

type scoreResponse struct {
	Probability  float64 `json:"probability"`
	TargetReturn float64 `json:"target_return"`
	ModelVersion string  `json:"model_version"`
}

// Score posts the feature vector and returns the model verdict. Transient
// failures are retried with a short linear backoff before surfacing.
func (s *HTTPScorer) Score(ctx context.Context, symbol string, features models.FeatureVector) (service.ScoreResult, error) {
	var result service.ScoreResult
	if s.baseURL == "" {
		return result, fmt.Errorf("scoring endpoint not configured")
	}
	if symbol == "" {
		return result, fmt.Errorf("score: symbol is required")
	}

	req := scoreRequest{
		Symbol:        symbol,
		SchemaVersion: features.SchemaVersion,
		Features:      features.Values,
	}
	var resp scoreResponse
	if err := s.postJSON(ctx, "/v1/score", req, &resp); err != nil {
		return result, fmt.Errorf("score %s: %w", symbol, err)
	}
	if resp.Probability < 0 || resp.Probability > 1 {
		return result, fmt.Errorf("score %s: probability %v out of range", symbol, resp.Probability)
	}

	result.Probability = resp.Probability
	result.TargetReturn = resp.TargetReturn
	result.ModelVersion = resp.ModelVersion
	return result, nil
}

func (s *HTTPScorer) postJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
	opts := &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    s.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: payload,
	}

	var err error
	for i := 1; i <= s.attempts; i++ {
		err = s.client.SendAndParse(ctx, opts, dest)
		if err == nil {
			return nil
		}
		var se *xhttp.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		if i == s.attempts {
			break
		}
		s.l.Warn("score request failed, retrying",
			applogger.String("path", path),
			applogger.Int("attempt", i),
			applogger.Error(err),
		)
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
