package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"FinScan/internal/domain/models"
	"FinScan/pkg/metrics"
)

type stubProc struct {
	bars []*models.Candle
	err  error
}

func (p *stubProc) Process(ctx context.Context, bar *models.Candle) error {
	if p.err != nil {
		return p.err
	}
	p.bars = append(p.bars, bar)
	return nil
}

func validTestBar(symbol string) *models.Candle {
	return &models.Candle{
		Symbol:    symbol,
		Timeframe: "1m",
		TS:        time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC),
		Open:      100, High: 101, Low: 99, Close: 100.5,
		Volume: 1000,
	}
}

func TestPipelineForwardsValidBars(t *testing.T) {
	proc := &stubProc{}
	p := NewBarPipeline(proc, metrics.Nop{})

	if err := p.Process(context.Background(), validTestBar("AAPL")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(proc.bars) != 1 {
		t.Fatalf("forwarded = %d, want 1", len(proc.bars))
	}
}

func TestPipelineRejectsInvalidBars(t *testing.T) {
	proc := &stubProc{}
	p := NewBarPipeline(proc, metrics.Nop{})

	cases := []struct {
		name string
		bar  *models.Candle
	}{
		{"nil", nil},
		{"empty symbol", func() *models.Candle { b := validTestBar(""); return b }()},
		{"zero ts", func() *models.Candle { b := validTestBar("AAPL"); b.TS = time.Time{}; return b }()},
		{"empty tf", func() *models.Candle { b := validTestBar("AAPL"); b.Timeframe = ""; return b }()},
		{"negative volume", func() *models.Candle { b := validTestBar("AAPL"); b.Volume = -1; return b }()},
		{"high below low", func() *models.Candle { b := validTestBar("AAPL"); b.High = 98; return b }()},
	}
	for _, tc := range cases {
		if err := p.Process(context.Background(), tc.bar); err == nil {
			t.Fatalf("%s: should be rejected", tc.name)
		}
	}
	if len(proc.bars) != 0 {
		t.Fatalf("invalid bars reached downstream: %d", len(proc.bars))
	}
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	proc := &stubProc{}
	p := NewBarPipeline(proc, metrics.Nop{}, WithMaxRPS(1))

	// second bar for the same symbol lands inside the throttle window and
	// is dropped without error; another symbol passes
	if err := p.Process(context.Background(), validTestBar("AAPL")); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := p.Process(context.Background(), validTestBar("AAPL")); err != nil {
		t.Fatalf("throttled drop should be silent: %v", err)
	}
	if err := p.Process(context.Background(), validTestBar("MSFT")); err != nil {
		t.Fatalf("other symbol: %v", err)
	}
	if len(proc.bars) != 2 {
		t.Fatalf("forwarded = %d, want 2", len(proc.bars))
	}
}

func TestPipelineBuffersOnDownstreamFailure(t *testing.T) {
	proc := &stubProc{err: errors.New("downstream down")}
	p := NewBarPipeline(proc, metrics.Nop{}, WithBufferSize(4))

	err := p.Process(context.Background(), validTestBar("AAPL"))
	if err == nil {
		t.Fatal("downstream failure should surface")
	}
	if len(p.bufCh) != 1 {
		t.Fatalf("buffered = %d, want 1", len(p.bufCh))
	}
}

func TestPipelineTransformRuns(t *testing.T) {
	proc := &stubProc{}
	p := NewBarPipeline(proc, metrics.Nop{}, WithTransform(func(b *models.Candle) *models.Candle {
		b.Source = "stream"
		return b
	}))

	if err := p.Process(context.Background(), validTestBar("AAPL")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(proc.bars) != 1 || proc.bars[0].Source != "stream" {
		t.Fatalf("transform did not run: %+v", proc.bars)
	}
}
