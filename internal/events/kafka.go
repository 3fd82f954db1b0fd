package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ggonzalez94/swapdesk/internal/logging"
	"github.com/ggonzalez94/swapdesk/internal/metrics"
	"github.com/ggonzalez94/swapdesk/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes trade events to a topic keyed by user id, so one
// user's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	logger = logging.OrNop(logger)
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn("kafka writer error", zap.String("message", fmt.Sprintf(msg, args...)))
		}),
	}
	return &KafkaPublisher{writer: w, logger: logger}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev model.TradeEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "stage", Value: []byte(ev.Stage)},
		},
	})
	if err != nil {
		metrics.EventPublishErrors.WithLabelValues("kafka").Inc()
		p.logger.Warn("kafka publish failed", zap.String("stage", ev.Stage), zap.Error(err))
		return fmt.Errorf("publish trade event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
