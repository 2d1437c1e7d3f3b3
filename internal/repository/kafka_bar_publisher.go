package repository

import (
	"context"

	"FinScan/internal/domain/models"
	pkgkafka "FinScan/pkg/kafka"
)

// KafkaBarPublisher pushes closed bars onto the bars topic in the same
// schema the bars consumer reads back.
type KafkaBarPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaBarPublisher(producer *pkgkafka.Producer, topic string) *KafkaBarPublisher {
	return &KafkaBarPublisher{producer: producer, topic: topic}
}

// Close closes the underlying producer.
func (p *KafkaBarPublisher) Close() error {
	return p.producer.Close()
}

func (p *KafkaBarPublisher) PublishBar(ctx context.Context, bar *models.Candle) error {
	return p.producer.Publish(ctx, p.topic, []byte(bar.Symbol), map[string]interface{}{
		"symbol": bar.Symbol,
		"tf":     bar.Timeframe,
		"ts":     bar.TS.UTC().Unix(),
		"o":      bar.Open,
		"h":      bar.High,
		"l":      bar.Low,
		"c":      bar.Close,
		"v":      bar.Volume,
		"vw":     bar.VWAP,
		"n":      bar.TradeCount,
	})
}
