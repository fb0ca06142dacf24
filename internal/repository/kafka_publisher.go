package repository

import (
	"context"
	"fmt"
	"time"

	"FinFactor/internal/calendar"
	"FinFactor/internal/domain/models"
	domrepo "FinFactor/internal/domain/repository"
	"FinFactor/pkg/kafka"
)

// BatchPublisher is the part of kafka.Producer the scaled publisher needs.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []kafka.Message) error
	Close() error
}

// KafkaScaledPublisher writes one message per scaled row, keyed by symbol so
// a symbol's history stays on one partition.
type KafkaScaledPublisher struct {
	p     BatchPublisher
	topic string
}

var _ domrepo.ScaledPublisher = (*KafkaScaledPublisher)(nil)

func NewKafkaScaledPublisher(p BatchPublisher, topic string) *KafkaScaledPublisher {
	return &KafkaScaledPublisher{p: p, topic: topic}
}

func (k *KafkaScaledPublisher) PublishScaled(ctx context.Context, date time.Time, records []models.ScaledFactorRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(records))
	for i, r := range records {
		msgs[i] = kafka.Message{Key: []byte(r.Symbol), Value: r}
	}
	if err := k.p.PublishBatch(ctx, k.topic, msgs); err != nil {
		return fmt.Errorf("publish scaled %s: %w", date.Format(calendar.DateLayout), err)
	}
	return nil
}

func (k *KafkaScaledPublisher) Close() error { return k.p.Close() }
