package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound marks a lookup miss on the query API.
var ErrNotFound = errors.New("not found")

// ProviderError wraps a transient failure fetching bars. Retried with
// backoff; fails only the affected stream for the cycle.
type ProviderError struct {
	Op     string
	Symbol string
	TF     string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s %s/%s: %v", e.Op, e.Symbol, e.TF, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DataGapError marks expected bars missing from the provider. Logged and
// skipped, never synthesized.
type DataGapError struct {
	Symbol string
	TF     string
	From   time.Time
	To     time.Time
}

func (e *DataGapError) Error() string {
	return fmt.Sprintf("data gap %s/%s [%s, %s)", e.Symbol, e.TF,
		e.From.UTC().Format(time.RFC3339), e.To.UTC().Format(time.RFC3339))
}

// DetectorError wraps a failure of one detector on one bar. Isolated; other
// detectors and symbols proceed.
type DetectorError struct {
	DetectorID string
	Version    string
	Symbol     string
	TF         string
	Err        error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s@%s on %s/%s: %v", e.DetectorID, e.Version, e.Symbol, e.TF, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// ConfigValidationError is fatal at startup; the pipeline refuses to run
// under undefined parameters.
type ConfigValidationError struct {
	Field string
	Msg   string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Msg)
}
