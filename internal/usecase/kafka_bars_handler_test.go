package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	domrepo "FinScan/internal/domain/repository"
	"FinScan/internal/repository"
	"FinScan/pkg/metrics"
)

func TestKafkaBarsHandlerUpserts(t *testing.T) {
	candles := repository.NewMemoryCandleStore()
	h := NewKafkaBarsHandler("finscan.bars", candles, metrics.Nop{})
	if h.Topic() != "finscan.bars" {
		t.Fatalf("topic = %s", h.Topic())
	}

	ts := time.Date(2025, 6, 2, 13, 30, 5, 0, time.UTC)
	msg := fmt.Sprintf(`{"symbol":"AAPL","tf":"1m","ts":%d,"o":100,"h":101,"l":99.5,"c":100.5,"v":12000,"vw":100.2,"n":340}`, ts.Unix())
	if err := h.Handle(context.Background(), []byte(msg)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	bars, err := candles.Latest(context.Background(), "AAPL", domrepo.TF1m, 10)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("rows = %d, want 1", len(bars))
	}
	bar := bars[0]
	want := time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC)
	if !bar.TS.Equal(want) {
		t.Fatalf("ts = %s, want bucket start %s", bar.TS, want)
	}
	if bar.Close != 100.5 || bar.Volume != 12000 || bar.TradeCount != 340 {
		t.Fatalf("bar = %+v", bar)
	}
	if bar.Source != "kafka" {
		t.Fatalf("source = %s", bar.Source)
	}
}

func TestKafkaBarsHandlerRedeliveryIsNoop(t *testing.T) {
	candles := repository.NewMemoryCandleStore()
	h := NewKafkaBarsHandler("finscan.bars", candles, metrics.Nop{})

	ts := time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC)
	// second delivery carries the same bar with a millisecond timestamp
	secs := fmt.Sprintf(`{"symbol":"AAPL","tf":"1m","ts":%d,"o":100,"h":101,"l":99.5,"c":100.5,"v":12000}`, ts.Unix())
	millis := fmt.Sprintf(`{"symbol":"AAPL","tf":"1m","ts":%d,"o":100,"h":101,"l":99.5,"c":100.5,"v":12000}`, ts.UnixMilli())
	for _, msg := range []string{secs, millis} {
		if err := h.Handle(context.Background(), []byte(msg)); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	bars, err := candles.Latest(context.Background(), "AAPL", domrepo.TF1m, 10)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("rows after redelivery = %d, want 1", len(bars))
	}
}

func TestKafkaBarsHandlerRejectsGarbage(t *testing.T) {
	candles := repository.NewMemoryCandleStore()
	h := NewKafkaBarsHandler("finscan.bars", candles, metrics.Nop{})
	if err := h.Handle(context.Background(), []byte("not json")); err == nil {
		t.Fatal("garbage payload should error")
	}
}
