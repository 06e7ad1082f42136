package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"drip/internal/config"
	"drip/internal/constants"
	"drip/internal/logger"
)

// DeliveryEvent is published after a provider webhook has been fully
// applied, for downstream consumers (analytics, CRM sync).
type DeliveryEvent struct {
	EventType         string    `json:"event_type"`
	AccountID         string    `json:"account_id"`
	EnrollmentID      string    `json:"enrollment_id,omitempty"`
	JourneyID         string    `json:"journey_id,omitempty"`
	ContactEmail      string    `json:"contact_email"`
	ProviderMessageID string    `json:"provider_message_id"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Producer publishes applied delivery events. Implementations must be
// safe for concurrent use.
type Producer interface {
	PublishDeliveryEvent(ctx context.Context, event *DeliveryEvent) error
	Close() error
}

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaProducer returns nil when no brokers are configured; callers
// treat a nil producer as publishing disabled.
func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	if len(cfg.Brokers) == 0 || cfg.DeliveryEventsTopic == "" {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.DeliveryEventsTopic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaProducer{writer: writer, logger: log}
}

func (p *KafkaProducer) PublishDeliveryEvent(ctx context.Context, event *DeliveryEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Key by contact so per-contact ordering survives partitioning.
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ContactEmail),
		Value: value,
	})
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
