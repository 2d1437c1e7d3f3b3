package repository

import (
	"context"

	"FinScan/internal/domain/models"
	domrepo "FinScan/internal/domain/repository"
	pkgkafka "FinScan/pkg/kafka"
)

// KafkaAlertPublisher delivers recorded signals to downstream consumers.
// Messages are keyed by symbol so one instrument's alerts stay ordered
// within a partition.
type KafkaAlertPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.AlertPublisher = (*KafkaAlertPublisher)(nil)

func NewKafkaAlertPublisher(producer *pkgkafka.Producer, topic string) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{producer: producer, topic: topic}
}

// Publish sends one alert. The producer is shared with other topics and
// stays open; the app closes it on shutdown.
func (p *KafkaAlertPublisher) Publish(ctx context.Context, sig models.Signal) error {
	return p.producer.Publish(ctx, p.topic, []byte(sig.Symbol), map[string]interface{}{
		"id":            sig.ID,
		"symbol":        sig.Symbol,
		"timeframe":     sig.Timeframe,
		"fired_at":      sig.FiredAt.UTC().Unix(),
		"detector":      sig.DetectorID + "@" + sig.DetectorVersion,
		"side":          string(sig.Side),
		"score":         sig.Score,
		"entry_price":   sig.EntryPrice,
		"rel_volume":    sig.RelVolume,
		"session_flag":  sig.SessionFlag,
		"target_return": sig.TargetReturn,
		"model_version": sig.ModelVersion,
	})
}
