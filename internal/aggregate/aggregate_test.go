package aggregate

import (
	"math"
	"testing"
	"time"

	"FinScan/internal/domain/models"
	"FinScan/internal/domain/repository"
)

var open930 = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func oneMin(i int, o, h, l, c, v float64) models.Candle {
	return models.Candle{
		Symbol: "AAPL", Timeframe: "1m", TS: open930.Add(time.Duration(i) * time.Minute),
		Open: o, High: h, Low: l, Close: c, Volume: v, Source: "massive",
	}
}

func TestDeriveFifteenMinuteBucket(t *testing.T) {
	bars := make([]models.Candle, 0, 15)
	for i := 0; i < 15; i++ {
		px := 100 + float64(i)*0.05 // close at 09:44 is 100.70
		o := px
		if i == 0 {
			o = 100
		}
		c := px
		if i == 14 {
			c = 100.5
		}
		bars = append(bars, oneMin(i, o, px+0.1, px-0.1, c, 1000))
	}

	out, err := Derive(bars, repository.TF1m, repository.TF15m)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d buckets, want 1", len(out))
	}
	b := out[0]
	if !b.TS.Equal(open930) {
		t.Fatalf("bucket ts = %s, want %s", b.TS, open930)
	}
	if b.Open != 100 {
		t.Fatalf("open = %v, want 100", b.Open)
	}
	if b.Close != 100.5 {
		t.Fatalf("close = %v, want 100.5", b.Close)
	}
	wantHigh := 100 + 14*0.05 + 0.1
	if math.Abs(b.High-wantHigh) > 1e-9 {
		t.Fatalf("high = %v, want %v", b.High, wantHigh)
	}
	if b.Volume != 15000 {
		t.Fatalf("volume = %v, want 15000", b.Volume)
	}
	if b.Timeframe != "15m" {
		t.Fatalf("timeframe = %q, want 15m", b.Timeframe)
	}
}

func TestDeriveSkipsOpenBucket(t *testing.T) {
	// only 11 of 15 source bars have arrived; the bucket end has not
	// elapsed, so nothing may be emitted yet
	bars := make([]models.Candle, 0, 11)
	for i := 0; i < 11; i++ {
		bars = append(bars, oneMin(i, 100, 101, 99, 100, 1000))
	}
	out, err := Derive(bars, repository.TF1m, repository.TF15m)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d buckets from an open window, want 0", len(out))
	}
}

func TestDeriveClosesOnNextBucketArrival(t *testing.T) {
	bars := make([]models.Candle, 0, 16)
	for i := 0; i < 15; i++ {
		bars = append(bars, oneMin(i, 100, 101, 99, 100, 1000))
	}
	// first bar of the next window proves the previous one elapsed
	bars = append(bars, oneMin(15, 100, 101, 99, 100, 1000))

	out, err := Derive(bars, repository.TF1m, repository.TF15m)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d buckets, want 1 closed", len(out))
	}
	if !out[0].TS.Equal(open930) {
		t.Fatalf("bucket ts = %s, want %s", out[0].TS, open930)
	}
}

func TestDeriveGapsProduceGaps(t *testing.T) {
	// two full 15m windows of data with the middle window missing
	bars := make([]models.Candle, 0, 30)
	for i := 0; i < 15; i++ {
		bars = append(bars, oneMin(i, 100, 101, 99, 100, 1000))
	}
	for i := 30; i < 45; i++ {
		bars = append(bars, oneMin(i, 102, 103, 101, 102, 1000))
	}
	out, err := Derive(bars, repository.TF1m, repository.TF15m)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d buckets, want 2 (gap must stay a gap)", len(out))
	}
	if !out[0].TS.Equal(open930) || !out[1].TS.Equal(open930.Add(30*time.Minute)) {
		t.Fatalf("bucket starts = %s, %s", out[0].TS, out[1].TS)
	}
}

func TestDeriveVolumeWeightedVWAP(t *testing.T) {
	bars := []models.Candle{
		oneMin(0, 100, 100, 100, 100, 100),
		oneMin(1, 200, 200, 200, 200, 300),
	}
	bars[0].VWAP = 100
	bars[1].VWAP = 200
	// five-minute window closes once 09:35 data exists
	bars = append(bars, oneMin(5, 150, 150, 150, 150, 100))

	out, err := Derive(bars, repository.TF1m, repository.TF5m)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d buckets, want 1", len(out))
	}
	want := (100.0*100 + 200.0*300) / 400
	if math.Abs(out[0].VWAP-want) > 1e-9 {
		t.Fatalf("vwap = %v, want %v", out[0].VWAP, want)
	}
}

func TestDeriveRejectsNonMultiple(t *testing.T) {
	if _, err := Derive([]models.Candle{oneMin(0, 1, 1, 1, 1, 1)}, repository.TF15m, repository.TF1m); err == nil {
		t.Fatalf("expected error deriving finer from coarser")
	}
}
